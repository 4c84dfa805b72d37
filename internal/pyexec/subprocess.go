package pyexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pybox/internal/pyexecerr"
)

// SubprocessBackendConfig configures the subprocess backend.
type SubprocessBackendConfig struct {
	// PythonPath is the interpreter binary; empty means look up "python3".
	PythonPath string
	// KillGracePeriod bounds how long to wait for pipe teardown after the
	// process is killed.
	KillGracePeriod time.Duration
	// ForbiddenImports is the runtime deny-set, shared with the validator.
	ForbiddenImports []string
}

// DefaultSubprocessBackendConfig returns the default configuration.
func DefaultSubprocessBackendConfig() SubprocessBackendConfig {
	return SubprocessBackendConfig{
		KillGracePeriod:  2 * time.Second,
		ForbiddenImports: defaultForbiddenImports,
	}
}

// SubprocessBackend executes code in a separate, killable python3 process
// with a scrubbed environment and isolated-mode flags. Unlike the
// in-process backend it survives hostile native loops (the process is
// killed on deadline) and does not share the caller's address space. It
// still is not a full container boundary: filesystem and network are only
// as restricted as the host makes them.
type SubprocessBackend struct {
	pythonPath string
	grace      time.Duration
	forbidden  map[string]bool
	logger     zerolog.Logger
}

// NewSubprocessBackend resolves the interpreter binary and creates the
// backend. Returns ErrSandboxUnavailable when no interpreter is present.
func NewSubprocessBackend(cfg SubprocessBackendConfig, logger zerolog.Logger) (*SubprocessBackend, error) {
	path := cfg.PythonPath
	if path == "" {
		path = "python3"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pyexecerr.ErrSandboxUnavailable, err)
	}
	grace := cfg.KillGracePeriod
	if grace <= 0 {
		grace = 2 * time.Second
	}
	return &SubprocessBackend{
		pythonPath: resolved,
		grace:      grace,
		forbidden:  toSet(cfg.ForbiddenImports),
		logger:     logger,
	}, nil
}

// Name returns the backend name.
func (b *SubprocessBackend) Name() string { return "subprocess" }

// Cleanup releases held resources; processes are scoped to Execute.
func (b *SubprocessBackend) Cleanup() error { return nil }

// Execute runs the code in an isolated python3 process. Import statements
// were stripped by the rewriter; the allowed ones are regenerated in a
// trusted preamble that also binds the caller context, so user line
// numbers shift by the preamble length (recorded in metadata).
func (b *SubprocessBackend) Execute(ctx context.Context, req *ExecRequest) *SandboxResult {
	start := time.Now()
	cfg := req.Config

	program, offset, err := b.buildProgram(req)
	if err != nil {
		kind := pyexecerr.KindSandbox
		var blocked *pyexecerr.ImportBlockedError
		if errors.As(err, &blocked) {
			kind = blocked.Kind()
		}
		return &SandboxResult{
			Success:       false,
			ErrorType:     kind,
			ErrorMessage:  err.Error(),
			ExecutionTime: time.Since(start),
			ExitCode:      1,
			Metadata:      map[string]any{"backend": b.Name()},
		}
	}

	ctxJSON, err := json.Marshal(anyMap(req.Context))
	if err != nil {
		return &SandboxResult{
			Success:       false,
			ErrorType:     pyexecerr.KindSandbox,
			ErrorMessage:  "context mapping is not serializable",
			ExecutionTime: time.Since(start),
			ExitCode:      1,
			Metadata:      map[string]any{"backend": b.Name()},
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	// -I isolates from user site-packages and environment; -E and -S are
	// implied but kept explicit for older interpreters.
	cmd := exec.CommandContext(execCtx, b.pythonPath, "-I", "-E", "-S", "-c", program)
	cmd.Env = []string{"PYBOX_CONTEXT=" + string(ctxJSON)}
	cmd.WaitDelay = b.grace

	stdout := newCappedWriter(cfg.MaxOutputBytes)
	stderr := newCappedWriter(cfg.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := &SandboxResult{
		Stdout:        stdout.String(),
		Stderr:        stderr.String(),
		ExecutionTime: elapsed,
		Metadata:      map[string]any{"backend": b.Name(), "line_offset": offset},
	}
	if stdout.Truncated() || stderr.Truncated() {
		result.Metadata["output_truncated"] = true
	}

	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		result.Success = false
		result.ErrorType = pyexecerr.KindTimeout
		result.ErrorMessage = "execution exceeded the configured timeout"
		result.ExitCode = -1
	case runErr != nil:
		result.Success = false
		result.ExitCode = 1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			result.ErrorType, result.ErrorMessage = classifyTraceback(stderr.String())
		} else {
			result.ErrorType = pyexecerr.KindSandbox
			result.ErrorMessage = "execution backend failed to run"
		}
	default:
		result.Success = true
		result.ExitCode = 0
	}
	return result
}

// buildProgram assembles the trusted preamble plus the rewritten user
// code, returning the user code's line offset.
func (b *SubprocessBackend) buildProgram(req *ExecRequest) (string, int, error) {
	allowed := req.Config.allowedSet()
	var preamble []string

	preamble = append(preamble,
		"import json as __pybox_json, os as __pybox_os",
		`context = __pybox_json.loads(__pybox_os.environ.get("PYBOX_CONTEXT", "{}"))`,
		"del __pybox_json, __pybox_os",
	)

	for _, ref := range req.Imports {
		root := ref.Root()
		if b.forbidden[root] {
			return "", 0, &pyexecerr.ImportBlockedError{Module: ref.Module, Denied: true}
		}
		if !allowed[root] {
			return "", 0, &pyexecerr.ImportBlockedError{Module: ref.Module}
		}
		preamble = append(preamble, regenerateImport(ref))
	}

	offset := len(preamble)
	return strings.Join(preamble, "\n") + "\n" + req.Code, offset, nil
}

// regenerateImport renders an extracted reference back into source form.
func regenerateImport(ref ImportRef) string {
	if ref.Names == nil && !ref.Star {
		if ref.Alias != "" {
			return fmt.Sprintf("import %s as %s", ref.Module, ref.Alias)
		}
		return "import " + ref.Module
	}
	if ref.Star {
		return fmt.Sprintf("from %s import *", ref.Module)
	}
	parts := make([]string, 0, len(ref.Names))
	for _, n := range ref.Names {
		if n.Alias != "" {
			parts = append(parts, n.Name+" as "+n.Alias)
		} else {
			parts = append(parts, n.Name)
		}
	}
	return fmt.Sprintf("from %s import %s", ref.Module, strings.Join(parts, ", "))
}

// classifyTraceback extracts the final exception line of a Python
// traceback, e.g. "ZeroDivisionError: division by zero".
func classifyTraceback(stderr string) (string, string) {
	lines := strings.Split(strings.TrimRight(stderr, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "File ") {
			continue
		}
		if name, msg, ok := strings.Cut(line, ": "); ok && !strings.Contains(name, " ") {
			return name, msg
		}
		return pyexecerr.KindRuntime, line
	}
	return pyexecerr.KindRuntime, "execution failed"
}

// cappedWriter is an io.Writer that keeps at most max bytes.
type cappedWriter struct {
	sb        strings.Builder
	max       int
	truncated bool
}

func newCappedWriter(max int) *cappedWriter {
	if max <= 0 {
		max = 1024 * 1024
	}
	return &cappedWriter{max: max}
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	remaining := w.max - w.sb.Len()
	if remaining <= 0 {
		w.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		w.sb.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	w.sb.Write(p)
	return len(p), nil
}

func (w *cappedWriter) String() string  { return w.sb.String() }
func (w *cappedWriter) Truncated() bool { return w.truncated }
