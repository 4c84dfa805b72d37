package pyexec

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pybox/internal/pyexecerr"
)

// stubBackend records invocations and returns a canned result.
type stubBackend struct {
	calls  int
	result *SandboxResult
}

func (s *stubBackend) Execute(_ context.Context, _ *ExecRequest) *SandboxResult {
	s.calls++
	if s.result != nil {
		return s.result
	}
	return &SandboxResult{Success: true, ExitCode: 0}
}

func (s *stubBackend) Cleanup() error { return nil }
func (s *stubBackend) Name() string   { return "stub" }

func newTestExecutor(cfg Config) *Executor {
	return NewExecutor(cfg, nil, zerolog.Nop())
}

func TestExecutorHelloWorld(t *testing.T) {
	e := newTestExecutor(DefaultConfig())
	res := e.Execute(context.Background(), `print("hello world")`, nil)

	if !res.Success {
		t.Fatalf("expected success, got %s: %s", res.ErrorType, res.ErrorMessage)
	}
	if res.Stdout != "hello world\n" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if res.ID == "" {
		t.Error("expected an execution id")
	}
	if len(res.ValidationViolations) != 0 || len(res.OutputViolations) != 0 {
		t.Errorf("unexpected violations: %+v %+v", res.ValidationViolations, res.OutputViolations)
	}
	if res.TotalTime <= 0 {
		t.Error("expected total time to be recorded")
	}
}

func TestExecutorBlocksForbiddenImportBeforeSandbox(t *testing.T) {
	stub := &stubBackend{}
	e := NewExecutor(DefaultConfig(), stub, zerolog.Nop())

	res := e.Execute(context.Background(), "import os\nos.system('ls')", nil)

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.ErrorType != pyexecerr.KindSecurityViolation {
		t.Errorf("error type = %s, want %s", res.ErrorType, pyexecerr.KindSecurityViolation)
	}
	if stub.calls != 0 {
		t.Errorf("sandbox invoked %d times for rejected code", stub.calls)
	}
	found := false
	for _, v := range res.ValidationViolations {
		if v.Type == ViolationForbiddenImport && v.Severity == SeverityHigh {
			found = true
		}
	}
	if !found {
		t.Errorf("expected forbidden_import violation, got %+v", res.ValidationViolations)
	}
}

func TestExecutorSyntaxErrorBeforeSandbox(t *testing.T) {
	stub := &stubBackend{}
	e := NewExecutor(DefaultConfig(), stub, zerolog.Nop())

	res := e.Execute(context.Background(), "def f(:\n    pass", nil)

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.ErrorType != pyexecerr.KindSyntax {
		t.Errorf("error type = %s, want %s", res.ErrorType, pyexecerr.KindSyntax)
	}
	if !strings.Contains(res.ErrorMessage, "line") {
		t.Errorf("expected line info in message: %q", res.ErrorMessage)
	}
	if stub.calls != 0 {
		t.Errorf("sandbox invoked %d times for unparsable code", stub.calls)
	}
}

func TestExecutorTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sandbox.Timeout = 100 * time.Millisecond
	cfg.Sandbox.MaxSteps = 0
	e := newTestExecutor(cfg)

	res := e.Execute(context.Background(), "while True:\n    pass", nil)

	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if res.ErrorType != pyexecerr.KindTimeout {
		t.Errorf("error type = %s, want %s", res.ErrorType, pyexecerr.KindTimeout)
	}
}

func TestExecutorRedactsSensitiveOutput(t *testing.T) {
	e := newTestExecutor(DefaultConfig())
	res := e.Execute(context.Background(), `print("key: sk-abcdefghij0123456789")`, nil)

	if !res.Success {
		t.Fatalf("expected success with redaction, got %s: %s", res.ErrorType, res.ErrorMessage)
	}
	if !res.WasOutputRedacted {
		t.Error("expected redaction flag")
	}
	if strings.Contains(res.Stdout, "sk-abcdefghij0123456789") {
		t.Errorf("secret leaked: %q", res.Stdout)
	}
	if !strings.Contains(res.Stdout, RedactionPlaceholder) {
		t.Errorf("placeholder missing: %q", res.Stdout)
	}
	if res.HighSeverityCount() != 0 {
		t.Errorf("successful redacted result carries high-severity violations: %+v", res.OutputViolations)
	}
}

func TestExecutorStrictModeFailsOnSensitiveOutput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedactSensitiveOutput = false
	e := newTestExecutor(cfg)

	res := e.Execute(context.Background(), `print("ssn 123-45-6789")`, nil)

	if res.Success {
		t.Fatal("expected strict mode failure")
	}
	if res.ErrorType != pyexecerr.KindValidation {
		t.Errorf("error type = %s, want %s", res.ErrorType, pyexecerr.KindValidation)
	}
}

func TestExecutorAllowedImport(t *testing.T) {
	e := newTestExecutor(DefaultConfig())
	res := e.Execute(context.Background(), "import math\nresult = math.sqrt(16)", nil)

	if !res.Success {
		t.Fatalf("expected success: %s", res.ErrorMessage)
	}
	if res.ReturnValue != 4.0 {
		t.Errorf("return value = %#v, want 4.0", res.ReturnValue)
	}
}

func TestExecutorContextVariables(t *testing.T) {
	e := newTestExecutor(DefaultConfig())
	res := e.Execute(context.Background(), "result = context[\"base\"] * 2", map[string]any{"base": 21})

	if !res.Success {
		t.Fatalf("expected success: %s", res.ErrorMessage)
	}
	if res.ReturnValue != int64(42) {
		t.Errorf("return value = %#v, want 42", res.ReturnValue)
	}
}

func TestExecutorRuntimeErrorReported(t *testing.T) {
	e := newTestExecutor(DefaultConfig())
	res := e.Execute(context.Background(), "x = 1 // 0", nil)

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.ErrorType != pyexecerr.KindRuntime {
		t.Errorf("error type = %s, want %s", res.ErrorType, pyexecerr.KindRuntime)
	}
}

func TestExecutorMediumViolationsDoNotBlock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AST.MaxOperations = 5
	stub := &stubBackend{}
	e := NewExecutor(cfg, stub, zerolog.Nop())

	res := e.Execute(context.Background(), "a = 1 + 2 + 3 + 4 + 5 + 6", nil)

	if !res.Success {
		t.Fatalf("medium violation must not block: %s", res.ErrorMessage)
	}
	if stub.calls != 1 {
		t.Errorf("sandbox calls = %d, want 1", stub.calls)
	}
	found := false
	for _, v := range res.ValidationViolations {
		if v.Type == ViolationComplexityExceeded {
			found = true
		}
	}
	if !found {
		t.Errorf("expected complexity warning attached, got %+v", res.ValidationViolations)
	}
}

func TestExecutorStagesDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableSyntaxValidation = false
	cfg.EnableASTValidation = false
	cfg.EnableOutputValidation = false
	stub := &stubBackend{result: &SandboxResult{Success: true, Stdout: "ssn 123-45-6789\n"}}
	e := NewExecutor(cfg, stub, zerolog.Nop())

	res := e.Execute(context.Background(), "import os", nil)

	if !res.Success {
		t.Fatalf("all stages disabled, expected pass-through: %s", res.ErrorMessage)
	}
	if res.Stdout != "ssn 123-45-6789\n" {
		t.Errorf("output validation ran while disabled: %q", res.Stdout)
	}
}

func TestExecutorRedactsStringReturnValue(t *testing.T) {
	stub := &stubBackend{result: &SandboxResult{Success: true, ReturnValue: "token sk-abcdefghij0123456789"}}
	e := NewExecutor(DefaultConfig(), stub, zerolog.Nop())

	res := e.Execute(context.Background(), "x = 1", nil)

	if !res.Success {
		t.Fatalf("expected success: %s", res.ErrorMessage)
	}
	rv, ok := res.ReturnValue.(string)
	if !ok {
		t.Fatalf("return value type changed: %T", res.ReturnValue)
	}
	if strings.Contains(rv, "sk-abcdefghij0123456789") {
		t.Errorf("secret leaked through return value: %q", rv)
	}
}

func TestExecutorTruncatesOversizedStringReturnValue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sandbox.MaxOutputBytes = 16
	stub := &stubBackend{result: &SandboxResult{Success: true, ReturnValue: strings.Repeat("x", 100)}}
	e := NewExecutor(cfg, stub, zerolog.Nop())

	res := e.Execute(context.Background(), "x = 1", nil)

	rv, ok := res.ReturnValue.(string)
	if !ok {
		t.Fatalf("return value type changed: %T", res.ReturnValue)
	}
	if !strings.HasSuffix(rv, TruncationMarker) {
		t.Errorf("expected truncation marker: %q", rv)
	}
	if len(rv) != 16+len(TruncationMarker) {
		t.Errorf("unexpected truncated length %d", len(rv))
	}
	found := false
	for _, v := range res.OutputViolations {
		if v.Type == ViolationSizeExceeded {
			found = true
		}
	}
	if !found {
		t.Errorf("expected size_exceeded violation, got %+v", res.OutputViolations)
	}
}

func TestExecutorDeterministicValidation(t *testing.T) {
	e := newTestExecutor(DefaultConfig())
	code := "import os\nx = eval('1')"

	first := e.Execute(context.Background(), code, nil)
	second := e.Execute(context.Background(), code, nil)

	if first.Success || second.Success {
		t.Fatal("expected both runs to fail validation")
	}
	if first.ErrorType != second.ErrorType {
		t.Errorf("error types differ: %s vs %s", first.ErrorType, second.ErrorType)
	}
	if len(first.ValidationViolations) != len(second.ValidationViolations) {
		t.Errorf("violation counts differ: %d vs %d",
			len(first.ValidationViolations), len(second.ValidationViolations))
	}
}

func TestExecutorUniqueIDs(t *testing.T) {
	e := newTestExecutor(DefaultConfig())
	a := e.Execute(context.Background(), "x = 1", nil)
	b := e.Execute(context.Background(), "x = 1", nil)
	if a.ID == b.ID {
		t.Error("execution ids must be unique")
	}
}

func TestExecutorMetadataMerged(t *testing.T) {
	e := newTestExecutor(DefaultConfig())
	res := e.Execute(context.Background(), "x = 1", nil)

	if res.Metadata["backend"] != "starlark" {
		t.Errorf("backend metadata missing: %+v", res.Metadata)
	}
	if _, ok := res.Metadata["code_length"]; !ok {
		t.Errorf("code_length metadata missing: %+v", res.Metadata)
	}
}

func TestRetryableKinds(t *testing.T) {
	if pyexecerr.Retryable(pyexecerr.KindTimeout) {
		t.Error("timeout must not be retryable")
	}
	if pyexecerr.Retryable(pyexecerr.KindSecurityViolation) {
		t.Error("security violation must not be retryable")
	}
	if !pyexecerr.Retryable(pyexecerr.KindSandbox) {
		t.Error("sandbox failure should be retryable")
	}
}
