package pyexec

import "time"

// Severity classifies how dangerous a detected violation is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ViolationType identifies the category of a detected violation.
type ViolationType string

const (
	ViolationForbiddenImport    ViolationType = "forbidden_import"
	ViolationDangerousFunction  ViolationType = "dangerous_function"
	ViolationDangerousAttribute ViolationType = "dangerous_attribute"
	ViolationComplexityExceeded ViolationType = "complexity_exceeded"
	ViolationSensitiveData      ViolationType = "sensitive_data_pattern"
	ViolationSizeExceeded       ViolationType = "size_exceeded"
)

// Violation records one detected problem in submitted code or produced
// output. Violations are immutable once created.
type Violation struct {
	Severity Severity      `json:"severity"`
	Type     ViolationType `json:"type"`
	Message  string        `json:"message"`
	Line     int           `json:"line,omitempty"` // 0 = unknown/not applicable
}

// SandboxConfig configures one execution. It is a value object: construct
// once, never mutate, safe to share across concurrent executions.
type SandboxConfig struct {
	Timeout        time.Duration `json:"timeout"`
	MaxMemoryMB    int           `json:"max_memory_mb"`    // best-effort, platform-dependent
	MaxOutputBytes int           `json:"max_output_bytes"`
	MaxSteps       uint64        `json:"max_steps"` // interpreter step budget, 0 = unlimited
	EnableNetwork  bool          `json:"enable_network"`
	AllowedImports []string      `json:"allowed_imports"`
	UserID         string        `json:"user_id,omitempty"` // attribution/logging only
}

// DefaultSandboxConfig returns secure defaults.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Timeout:        30 * time.Second,
		MaxMemoryMB:    512,
		MaxOutputBytes: 1024 * 1024, // 1MB
		MaxSteps:       10_000_000,
		EnableNetwork:  false,
		AllowedImports: []string{"math", "json", "time"},
	}
}

// allowedSet returns the allowed imports as a lookup set.
func (c SandboxConfig) allowedSet() map[string]bool {
	set := make(map[string]bool, len(c.AllowedImports))
	for _, m := range c.AllowedImports {
		set[m] = true
	}
	return set
}

// ExecRequest is the unit of work handed to a sandbox backend. The code has
// already been through import rewriting; Imports holds the extracted
// references so the backend can bind allowed modules under their aliases.
type ExecRequest struct {
	ID      string
	Code    string
	Imports []ImportRef
	Context map[string]any
	Config  SandboxConfig
}

// SandboxResult is what a backend reports for one execution. A runtime
// error inside executed code yields Success=false with ErrorType/Message
// populated; it is a normal, reportable outcome, not a backend fault.
type SandboxResult struct {
	Success       bool           `json:"success"`
	Stdout        string         `json:"stdout"`
	Stderr        string         `json:"stderr"`
	ReturnValue   any            `json:"return_value,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	ErrorType     string         `json:"error_type,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time"`
	MemoryUsedMB  float64        `json:"memory_used_mb,omitempty"` // best-effort, may be zero
	ExitCode      int            `json:"exit_code"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// SyntaxResult is the outcome of syntax validation.
type SyntaxResult struct {
	Valid        bool   `json:"valid"`
	ErrorMessage string `json:"error_message,omitempty"`
	Line         int    `json:"line,omitempty"`
	Column       int    `json:"column,omitempty"`
}

// OutputValidationResult is the outcome of output validation.
type OutputValidationResult struct {
	Sanitized   string      `json:"sanitized_output"`
	WasRedacted bool        `json:"was_redacted"`
	Violations  []Violation `json:"violations"`
}

// ExecutionResult is the terminal artifact of one pipeline call. It is
// created once, immutable after construction, and serializes to plain
// key-value form without loss.
type ExecutionResult struct {
	ID                   string         `json:"id"`
	Success              bool           `json:"success"`
	Stdout               string         `json:"stdout"`
	Stderr               string         `json:"stderr"`
	ReturnValue          any            `json:"return_value,omitempty"`
	ErrorMessage         string         `json:"error_message,omitempty"`
	ErrorType            string         `json:"error_type,omitempty"`
	ExecutionTime        time.Duration  `json:"execution_time"`
	TotalTime            time.Duration  `json:"total_time"`
	ValidationViolations []Violation    `json:"validation_violations"`
	OutputViolations     []Violation    `json:"output_violations"`
	WasOutputRedacted    bool           `json:"was_output_redacted"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

// HighSeverityCount returns the number of high-severity violations across
// both violation lists.
func (r *ExecutionResult) HighSeverityCount() int {
	n := 0
	for _, v := range r.ValidationViolations {
		if v.Severity == SeverityHigh {
			n++
		}
	}
	for _, v := range r.OutputViolations {
		if v.Severity == SeverityHigh {
			n++
		}
	}
	return n
}
