package pyexec

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	starjson "go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"pybox/internal/pyexecerr"
)

// Backend is the pluggable execution engine behind the orchestrator.
// Implementations must be safe for concurrent use, honor the request's
// timeout, and translate every failure into a SandboxResult rather than
// letting it escape. A production deployment plugs an OS-isolated backend
// (separate process, container, microVM) in behind this same interface.
type Backend interface {
	Execute(ctx context.Context, req *ExecRequest) *SandboxResult
	Cleanup() error
	Name() string
}

// starModules maps importable module names to their implementations.
// starlark-go ships no regex module, which is why "re" is absent from the
// default whitelist.
var starModules = map[string]*starlarkstruct.Module{
	"math": starmath.Module,
	"json": starjson.Module,
	"time": startime.Module,
}

// StarlarkBackendConfig configures the in-process backend.
type StarlarkBackendConfig struct {
	// ForbiddenImports is consulted at execution time, independent of the
	// AST validator: even if static analysis is skipped, the import still
	// fails here.
	ForbiddenImports []string
	// AllowIntrospection leaves getattr/hasattr/dir usable. Off by
	// default; the interpreter's attribute surface is already closed, so
	// the stubs exist to fail loudly rather than to plug a known hole.
	AllowIntrospection bool
}

// DefaultStarlarkBackendConfig returns the default runtime policy.
func DefaultStarlarkBackendConfig() StarlarkBackendConfig {
	return StarlarkBackendConfig{ForbiddenImports: defaultForbiddenImports}
}

// StarlarkBackend executes code in an in-process restricted interpreter
// namespace. It is a development-grade backend: the interpreter has no
// filesystem, network, or process primitives, but it shares the caller's
// address space and is NOT a sufficient security boundary for adversarial
// input in production.
type StarlarkBackend struct {
	forbidden map[string]bool
	allowSpy  bool
	logger    zerolog.Logger
}

// NewStarlarkBackend creates the in-process backend.
func NewStarlarkBackend(cfg StarlarkBackendConfig, logger zerolog.Logger) *StarlarkBackend {
	return &StarlarkBackend{
		forbidden: toSet(cfg.ForbiddenImports),
		allowSpy:  cfg.AllowIntrospection,
		logger:    logger,
	}
}

// Name returns the backend name.
func (b *StarlarkBackend) Name() string { return "starlark" }

// Cleanup releases held resources. The backend holds none; each call's
// thread, buffers, and watchdog are scoped to Execute.
func (b *StarlarkBackend) Cleanup() error { return nil }

// Execute runs the rewritten code against a restricted namespace with a
// wall-clock timeout and an interpreter step budget. The watchdog cancels
// the thread preemptively; cancellation is checked at every interpreter
// step, so a tight loop cannot outrun the deadline.
func (b *StarlarkBackend) Execute(ctx context.Context, req *ExecRequest) *SandboxResult {
	start := time.Now()
	cfg := req.Config

	if cfg.EnableNetwork {
		b.logger.Warn().Str("execution_id", req.ID).
			Msg("enable_network requested but the in-process backend has no network surface")
	}

	var memBefore runtime.MemStats
	runtime.ReadMemStats(&memBefore)

	stdout := newLimitedBuffer(cfg.MaxOutputBytes)

	predeclared, err := b.buildPredeclared(req, stdout)
	if err != nil {
		return b.failure(req, start, stdout, err)
	}

	thread := &starlark.Thread{
		Name: req.ID,
		Print: func(_ *starlark.Thread, msg string) {
			stdout.WriteLine(msg)
		},
		Load: b.loadFunc(cfg),
	}
	if cfg.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(cfg.MaxSteps)
	}

	// Watchdog: cancel the thread when the deadline passes. The done
	// channel guarantees the goroutine exits on every path, success or
	// failure, before Execute returns.
	execCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	done := make(chan struct{})
	go func() {
		select {
		case <-execCtx.Done():
			thread.Cancel("deadline exceeded: " + execCtx.Err().Error())
		case <-done:
		}
	}()
	defer func() {
		close(done)
		cancel()
	}()

	globals, execErr := starlark.ExecFileOptions(fileOptions(), thread, "code.py", req.Code, predeclared)

	elapsed := time.Since(start)

	var memAfter runtime.MemStats
	runtime.ReadMemStats(&memAfter)
	memUsed := bestEffortMemoryMB(memBefore, memAfter)

	result := &SandboxResult{
		Stdout:        stdout.String(),
		ExecutionTime: elapsed,
		MemoryUsedMB:  memUsed,
		Metadata:      map[string]any{"backend": b.Name()},
	}
	if stdout.Truncated() {
		result.Metadata["stdout_truncated"] = true
	}

	if execErr != nil {
		kind, msg := b.classify(execCtx, execErr)
		result.Success = false
		result.ErrorType = kind
		result.ErrorMessage = msg
		result.ExitCode = 1
		return result
	}

	result.Success = true
	result.ExitCode = 0
	if ret, ok := globals["result"]; ok {
		result.ReturnValue = fromStarlark(ret)
	}
	return result
}

// failure builds a result for an error raised before execution started
// (namespace construction, import gate).
func (b *StarlarkBackend) failure(req *ExecRequest, start time.Time, stdout *limitedBuffer, err error) *SandboxResult {
	kind := pyexecerr.KindSandbox
	var blocked *pyexecerr.ImportBlockedError
	if errors.As(err, &blocked) {
		kind = blocked.Kind()
	}
	return &SandboxResult{
		Success:       false,
		Stdout:        stdout.String(),
		ErrorType:     kind,
		ErrorMessage:  err.Error(),
		ExecutionTime: time.Since(start),
		ExitCode:      1,
		Metadata:      map[string]any{"backend": b.Name()},
	}
}

// classify maps an interpreter error to an error kind and a message safe
// to surface to callers (no host paths, no interpreter internals).
func (b *StarlarkBackend) classify(execCtx context.Context, err error) (string, string) {
	if execCtx.Err() == context.DeadlineExceeded {
		return pyexecerr.KindTimeout, "execution exceeded the configured timeout"
	}
	if execCtx.Err() == context.Canceled {
		return pyexecerr.KindSandbox, "execution cancelled by caller"
	}

	var blocked *pyexecerr.ImportBlockedError
	if errors.As(err, &blocked) {
		return blocked.Kind(), blocked.Error()
	}

	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		msg := evalErr.Msg
		if strings.Contains(msg, "too many steps") {
			return pyexecerr.KindResourceLimit, "execution exceeded the interpreter step budget"
		}
		if strings.Contains(msg, "cancelled") {
			return pyexecerr.KindTimeout, "execution exceeded the configured timeout"
		}
		return pyexecerr.KindRuntime, msg
	}

	// Resolver errors surface names the restricted namespace does not
	// provide; report them the way the source language would.
	if strings.Contains(err.Error(), "undefined:") {
		return "NameError", firstLine(err.Error())
	}
	return pyexecerr.KindRuntime, firstLine(err.Error())
}

// buildPredeclared assembles the restricted namespace: the caller context,
// allowed-module bindings honoring aliases and from-imports, and poisoned
// introspection builtins.
func (b *StarlarkBackend) buildPredeclared(req *ExecRequest, stdout *limitedBuffer) (starlark.StringDict, error) {
	predeclared := starlark.StringDict{}

	ctxValue, err := toStarlark(anyMap(req.Context))
	if err != nil {
		return nil, fmt.Errorf("invalid context mapping: %w", err)
	}
	predeclared["context"] = ctxValue
	predeclared["struct"] = starlark.NewBuiltin("struct", starlarkstruct.Make)

	allowed := req.Config.allowedSet()
	for _, ref := range req.Imports {
		if err := b.bindImport(predeclared, ref, allowed); err != nil {
			return nil, err
		}
	}

	if !b.allowSpy {
		for _, name := range []string{"getattr", "setattr", "hasattr", "dir"} {
			predeclared[name] = disabledBuiltin(name)
		}
	}

	return predeclared, nil
}

// bindImport resolves one extracted import reference against the runtime
// deny/allow sets and installs the resulting bindings.
func (b *StarlarkBackend) bindImport(predeclared starlark.StringDict, ref ImportRef, allowed map[string]bool) error {
	root := ref.Root()
	if b.forbidden[root] {
		return &pyexecerr.ImportBlockedError{Module: ref.Module, Denied: true}
	}
	if !allowed[root] {
		return &pyexecerr.ImportBlockedError{Module: ref.Module}
	}
	module, ok := starModules[root]
	if !ok {
		return &pyexecerr.ImportBlockedError{Module: ref.Module}
	}

	if ref.Names == nil && !ref.Star {
		predeclared[ref.Binding()] = module
		return nil
	}
	if ref.Star {
		for name, member := range module.Members {
			predeclared[name] = member
		}
		return nil
	}
	for _, n := range ref.Names {
		member, ok := module.Members[n.Name]
		if !ok {
			return &pyexecerr.ImportBlockedError{Module: ref.Module + "." + n.Name}
		}
		binding := n.Name
		if n.Alias != "" {
			binding = n.Alias
		}
		predeclared[binding] = member
	}
	return nil
}

// loadFunc returns the load() handler: the runtime import gate for code
// that uses the interpreter's native load statement directly.
func (b *StarlarkBackend) loadFunc(cfg SandboxConfig) func(*starlark.Thread, string) (starlark.StringDict, error) {
	allowed := cfg.allowedSet()
	return func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
		if b.forbidden[module] {
			return nil, &pyexecerr.ImportBlockedError{Module: module, Denied: true}
		}
		if !allowed[module] {
			return nil, &pyexecerr.ImportBlockedError{Module: module}
		}
		mod, ok := starModules[module]
		if !ok {
			return nil, &pyexecerr.ImportBlockedError{Module: module}
		}
		return mod.Members, nil
	}
}

// disabledBuiltin returns a stub that fails with a clear message instead
// of silently resolving to the universe builtin.
func disabledBuiltin(name string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return nil, fmt.Errorf("%s is disabled in the sandbox", name)
	})
}

// anyMap normalizes a nil context to an empty mapping.
func anyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// bestEffortMemoryMB estimates allocation growth across the call. Purely
// informational; GC activity during the call can zero it out.
func bestEffortMemoryMB(before, after runtime.MemStats) float64 {
	if after.TotalAlloc <= before.TotalAlloc {
		return 0
	}
	return float64(after.TotalAlloc-before.TotalAlloc) / (1024 * 1024)
}

// firstLine trims an error message to its first line.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// limitedBuffer accumulates print output up to a byte ceiling.
type limitedBuffer struct {
	sb        strings.Builder
	max       int
	truncated bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	if max <= 0 {
		max = 1024 * 1024
	}
	return &limitedBuffer{max: max}
}

// WriteLine appends one print line, respecting the ceiling.
func (b *limitedBuffer) WriteLine(msg string) {
	if b.truncated {
		return
	}
	remaining := b.max - b.sb.Len()
	if remaining <= 0 {
		b.truncated = true
		return
	}
	line := msg + "\n"
	if len(line) > remaining {
		b.sb.WriteString(line[:remaining])
		b.truncated = true
		return
	}
	b.sb.WriteString(line)
}

func (b *limitedBuffer) String() string  { return b.sb.String() }
func (b *limitedBuffer) Truncated() bool { return b.truncated }
