// Package pyexecerr provides error kinds for the pyexec pipeline.
// This package exists to avoid import cycles between pyexec and its callers
// (gateway, cli, tool adapters) that need to classify failures.
package pyexecerr

import (
	"errors"
	"fmt"
)

// Kind identifies a failure category surfaced in ExecutionResult.ErrorType.
// Kinds are part of the wire contract: callers branch on these strings to
// decide whether to resubmit, retry, or escalate.
const (
	KindSyntax            = "SyntaxError"
	KindValidation        = "ValidationError"
	KindSecurityViolation = "SecurityViolationError"
	KindTimeout           = "TimeoutError"
	KindResourceLimit     = "ResourceLimitError"
	KindSandbox           = "SandboxError"
	KindImport            = "ImportError"
	KindRuntime           = "RuntimeError"
)

// Retryable reports whether a caller may safely retry the identical input.
// Only infrastructure failures qualify; every other kind is a property of
// the submitted code and retrying unchanged input is pointless or dangerous.
func Retryable(kind string) bool {
	return kind == KindSandbox
}

// Sentinel errors for sandbox operations.
var (
	// ErrTimeout indicates execution exceeded the wall-clock limit.
	ErrTimeout = errors.New("pyexec: execution timeout")

	// ErrResourceLimit indicates a memory, output, or step budget was exceeded.
	ErrResourceLimit = errors.New("pyexec: resource limit exceeded")

	// ErrSandboxUnavailable indicates the execution backend failed to start.
	ErrSandboxUnavailable = errors.New("pyexec: sandbox backend unavailable")
)

// SyntaxError indicates the submitted source failed to parse.
type SyntaxError struct {
	Line    int
	Column  int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("pyexec: syntax error at line %d, column %d: %s", e.Line, e.Column, e.Message)
}

// Is implements errors.Is for SyntaxError.
func (e *SyntaxError) Is(target error) bool {
	_, ok := target.(*SyntaxError)
	return ok
}

// ErrSyntax is a sentinel for errors.Is matching.
var ErrSyntax = &SyntaxError{}

// ImportBlockedError indicates a module import was denied at execution time.
type ImportBlockedError struct {
	Module string
	Denied bool // true if on the deny-set, false if merely not whitelisted
}

func (e *ImportBlockedError) Error() string {
	if e.Denied {
		return fmt.Sprintf("pyexec: import of module %q is forbidden", e.Module)
	}
	return fmt.Sprintf("pyexec: module %q is not available in the sandbox", e.Module)
}

// Kind returns the error kind for an import failure. Deny-set hits are
// treated as likely adversarial and mapped to the security kind.
func (e *ImportBlockedError) Kind() string {
	if e.Denied {
		return KindSecurityViolation
	}
	return KindImport
}

// Is implements errors.Is for ImportBlockedError.
func (e *ImportBlockedError) Is(target error) bool {
	_, ok := target.(*ImportBlockedError)
	return ok
}

// ErrImportBlocked is a sentinel for errors.Is matching.
var ErrImportBlocked = &ImportBlockedError{}

// ExecutionError wraps a failure raised inside executed code.
type ExecutionError struct {
	ID    string // execution id, for log correlation
	Cause error
}

func (e *ExecutionError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("pyexec: execution %s failed: %v", e.ID, e.Cause)
	}
	return fmt.Sprintf("pyexec: execution failed: %v", e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for ExecutionError.
func (e *ExecutionError) Is(target error) bool {
	_, ok := target.(*ExecutionError)
	return ok
}

// ErrExecution is a sentinel for errors.Is matching.
var ErrExecution = &ExecutionError{}
