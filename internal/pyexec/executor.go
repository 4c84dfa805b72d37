package pyexec

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pybox/internal/pyexecerr"
)

// Config configures the execution pipeline. Each stage is individually
// toggleable; disabling a stage skips its transition entirely. The runtime
// import gate inside the backend is not toggleable: it applies even when
// AST validation is disabled for a trusted code path.
type Config struct {
	Sandbox SandboxConfig
	AST     ASTValidatorConfig

	EnableSyntaxValidation bool
	EnableASTValidation    bool
	EnableOutputValidation bool
	// RedactSensitiveOutput selects redact mode; false selects strict
	// mode, where a high-severity match fails the call instead.
	RedactSensitiveOutput bool
}

// DefaultConfig returns the default pipeline configuration: all stages
// enabled, redaction on, secure sandbox defaults.
func DefaultConfig() Config {
	return Config{
		Sandbox:                DefaultSandboxConfig(),
		AST:                    DefaultASTValidatorConfig(),
		EnableSyntaxValidation: true,
		EnableASTValidation:    true,
		EnableOutputValidation: true,
		RedactSensitiveOutput:  true,
	}
}

// Executor sequences the pipeline: syntax check, AST security analysis,
// sandboxed execution, output validation. It never lets an error escape
// Execute; every failure mode is translated into a populated
// ExecutionResult. Safe for concurrent use: all state is immutable after
// construction.
type Executor struct {
	cfg     Config
	syntax  *SyntaxValidator
	ast     *ASTValidator
	output  *OutputValidator
	backend Backend
	logger  zerolog.Logger
}

// NewExecutor creates an executor. A nil backend selects the in-process
// Starlark backend with the pipeline's deny-set.
func NewExecutor(cfg Config, backend Backend, logger zerolog.Logger) *Executor {
	if backend == nil {
		backend = NewStarlarkBackend(StarlarkBackendConfig{
			ForbiddenImports:   cfg.AST.ForbiddenImports,
			AllowIntrospection: cfg.AST.AllowGetattr,
		}, logger)
	}
	mode := OutputModeStrict
	if cfg.RedactSensitiveOutput {
		mode = OutputModeRedact
	}
	return &Executor{
		cfg:    cfg,
		syntax: NewSyntaxValidator(),
		ast:    NewASTValidator(cfg.AST),
		output: NewOutputValidator(OutputValidatorConfig{
			Mode:           mode,
			MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
		}),
		backend: backend,
		logger:  logger,
	}
}

// Backend returns the active execution backend.
func (e *Executor) Backend() Backend { return e.backend }

// Cleanup releases backend resources.
func (e *Executor) Cleanup() error { return e.backend.Cleanup() }

// Execute runs code through the full pipeline with the caller's context
// mapping exposed to the code as a read-only `context` variable.
func (e *Executor) Execute(ctx context.Context, code string, contextVars map[string]any) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{
		ID:                   uuid.NewString(),
		ValidationViolations: []Violation{},
		OutputViolations:     []Violation{},
		Metadata:             map[string]any{"code_length": len(code)},
	}

	defer func() {
		result.TotalTime = time.Since(start)
		e.logCall(code, result)
	}()

	// received -> syntax_checked
	if e.cfg.EnableSyntaxValidation {
		if sr := e.syntax.Validate(code); !sr.Valid {
			result.Success = false
			result.ErrorType = pyexecerr.KindSyntax
			result.ErrorMessage = fmt.Sprintf("syntax error at line %d, column %d: %s", sr.Line, sr.Column, sr.ErrorMessage)
			result.Metadata["error_line"] = sr.Line
			result.Metadata["error_column"] = sr.Column
			return result
		}
	}

	// syntax_checked -> ast_checked. Any high-severity violation aborts
	// before the sandbox; medium/low attach as warnings only.
	if e.cfg.EnableASTValidation {
		result.ValidationViolations = e.ast.Validate(code)
		if kind, blocked := blockingKind(result.ValidationViolations); blocked {
			result.Success = false
			result.ErrorType = kind
			result.ErrorMessage = "code failed security validation"
			return result
		}
	}

	// ast_checked -> executed. A runtime error inside the code is a
	// normal, reportable outcome carried forward as-is.
	rewritten, refs := RewriteImports(code)
	sb := e.backend.Execute(ctx, &ExecRequest{
		ID:      result.ID,
		Code:    rewritten,
		Imports: refs,
		Context: contextVars,
		Config:  e.cfg.Sandbox,
	})

	result.Success = sb.Success
	result.Stdout = sb.Stdout
	result.Stderr = sb.Stderr
	result.ReturnValue = sb.ReturnValue
	result.ErrorMessage = sb.ErrorMessage
	result.ErrorType = sb.ErrorType
	result.ExecutionTime = sb.ExecutionTime
	for k, v := range sb.Metadata {
		result.Metadata[k] = v
	}
	if sb.MemoryUsedMB > 0 {
		result.Metadata["memory_used_mb"] = sb.MemoryUsedMB
	}

	// executed -> output_checked
	if e.cfg.EnableOutputValidation {
		// Backends already cap stdout at the same byte ceiling, so the
		// validator's truncation here mainly guards the return value.
		ov := e.output.Validate(result.Stdout)
		result.Stdout = ov.Sanitized
		result.OutputViolations = ov.Violations
		result.WasOutputRedacted = ov.WasRedacted

		if s, ok := result.ReturnValue.(string); ok {
			rv := e.output.Validate(s)
			result.ReturnValue = rv.Sanitized
			if rv.WasRedacted {
				result.WasOutputRedacted = true
			}
			result.OutputViolations = append(result.OutputViolations, rv.Violations...)
		}

		if e.output.Mode() == OutputModeStrict && hasHigh(result.OutputViolations) {
			result.Success = false
			result.ErrorType = pyexecerr.KindValidation
			result.ErrorMessage = "output contained sensitive data"
		}
	}

	// output_checked -> done
	return result
}

// blockingKind reports whether the violations contain a high-severity
// entry and which error kind it maps to. Deny-set and introspection hits
// indicate likely adversarial intent and map to the security kind; the
// distinction affects logging priority only, never control flow.
func blockingKind(violations []Violation) (string, bool) {
	kind := ""
	for _, v := range violations {
		if v.Severity != SeverityHigh {
			continue
		}
		switch v.Type {
		case ViolationForbiddenImport, ViolationDangerousFunction, ViolationDangerousAttribute:
			return pyexecerr.KindSecurityViolation, true
		default:
			kind = pyexecerr.KindValidation
		}
	}
	return kind, kind != ""
}

func hasHigh(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// logCall emits the one structured log entry per pipeline call. This is
// the only I/O the orchestrator performs.
func (e *Executor) logCall(code string, result *ExecutionResult) {
	evt := e.logger.Info()
	if !result.Success {
		evt = e.logger.Warn()
	}
	if result.ErrorType == pyexecerr.KindSecurityViolation {
		// Likely adversarial input; alert at higher priority.
		evt = e.logger.Error()
	}
	evt.
		Str("execution_id", result.ID).
		Str("user_id", e.cfg.Sandbox.UserID).
		Int("code_length", len(code)).
		Bool("success", result.Success).
		Str("error_type", result.ErrorType).
		Dur("execution_time", result.ExecutionTime).
		Dur("total_time", result.TotalTime).
		Int("validation_violations", len(result.ValidationViolations)).
		Int("output_violations", len(result.OutputViolations)).
		Msg("code execution completed")
}
