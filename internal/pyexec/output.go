package pyexec

import (
	"fmt"
	"regexp"
)

// RedactionPlaceholder replaces each sensitive match in redact mode.
const RedactionPlaceholder = "[REDACTED]"

// TruncationMarker is appended when output exceeds the byte ceiling.
const TruncationMarker = "\n... [output truncated]"

// OutputMode selects what happens when sensitive data is found.
type OutputMode string

const (
	// OutputModeRedact replaces each match with a fixed placeholder.
	OutputModeRedact OutputMode = "redact"
	// OutputModeStrict treats any high-severity match as a hard failure.
	OutputModeStrict OutputMode = "strict"
)

// sensitivePattern is one entry in the fixed detection library.
type sensitivePattern struct {
	category string
	severity Severity
	re       *regexp.Regexp
}

// The pattern library covers structured identifiers that must never leak
// to a caller. Email addresses are low severity: frequently legitimate.
var sensitivePatterns = []sensitivePattern{
	{"ssn", SeverityHigh, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"payment_card", SeverityHigh, regexp.MustCompile(`\b(?:\d{4}[ -]?){3}\d{4}\b`)},
	{"aws_access_key", SeverityHigh, regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"aws_secret_key", SeverityHigh, regexp.MustCompile(`(?i)aws[^\n]{0,20}['"][0-9a-zA-Z/+]{40}['"]`)},
	{"api_key", SeverityHigh, regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}\b`)},
	{"private_key", SeverityHigh, regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`)},
	{"connection_string", SeverityHigh, regexp.MustCompile(`(?i)\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://\S+`)},
	{"email", SeverityLow, regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)},
}

// OutputValidatorConfig configures the output validator.
type OutputValidatorConfig struct {
	Mode           OutputMode
	MaxOutputBytes int
}

// DefaultOutputValidatorConfig returns redact mode with a 1MB ceiling.
func DefaultOutputValidatorConfig() OutputValidatorConfig {
	return OutputValidatorConfig{
		Mode:           OutputModeRedact,
		MaxOutputBytes: 1024 * 1024,
	}
}

// OutputValidator scans produced text for sensitive-data patterns and
// redacts or rejects, then enforces the byte ceiling. Deterministic and
// stateless; safe for concurrent reuse.
type OutputValidator struct {
	mode     OutputMode
	maxBytes int
}

// NewOutputValidator creates an output validator.
func NewOutputValidator(cfg OutputValidatorConfig) *OutputValidator {
	if cfg.Mode == "" {
		cfg.Mode = OutputModeRedact
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 1024 * 1024
	}
	return &OutputValidator{mode: cfg.Mode, maxBytes: cfg.MaxOutputBytes}
}

// Validate scans text, applies the configured redaction policy, and
// truncates to the byte ceiling. Truncation is independent of redaction
// and always applied. In strict mode a high-severity match leaves the
// text unredacted; the orchestrator turns it into a hard failure.
func (v *OutputValidator) Validate(text string) OutputValidationResult {
	result := OutputValidationResult{Sanitized: text, Violations: []Violation{}}

	for _, p := range sensitivePatterns {
		matches := p.re.FindAllString(result.Sanitized, -1)
		if len(matches) == 0 {
			continue
		}
		severity := p.severity
		message := fmt.Sprintf("detected %s pattern (%d occurrence(s))", p.category, len(matches))
		if v.mode == OutputModeRedact {
			result.Sanitized = p.re.ReplaceAllString(result.Sanitized, RedactionPlaceholder)
			result.WasRedacted = true
			// A redacted match is remediated: downgrade so a successful,
			// sanitized result does not carry high-severity violations.
			if severity == SeverityHigh {
				severity = SeverityMedium
				message += ", redacted"
			}
		}
		result.Violations = append(result.Violations, Violation{
			Severity: severity,
			Type:     ViolationSensitiveData,
			Message:  message,
		})
	}

	if len(result.Sanitized) > v.maxBytes {
		result.Sanitized = result.Sanitized[:v.maxBytes] + TruncationMarker
		result.Violations = append(result.Violations, Violation{
			Severity: SeverityMedium,
			Type:     ViolationSizeExceeded,
			Message:  fmt.Sprintf("output truncated to %d bytes", v.maxBytes),
		})
	}

	return result
}

// Mode returns the configured redaction policy.
func (v *OutputValidator) Mode() OutputMode {
	return v.mode
}
