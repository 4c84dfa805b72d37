package pyexec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// ToolResult is the outcome of a tool invocation, shaped for direct
// inclusion in an agent conversation.
type ToolResult struct {
	Content  string         `json:"content"`
	IsError  bool           `json:"is_error"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CodeTool exposes the execution pipeline as an agent-callable tool. An
// LLM agent passes generated code plus an optional context mapping; the
// tool result carries the sanitized output or a caller-safe error
// description. Violation details stay in metadata and logs, never in the
// content an agent echoes back to end users.
type CodeTool struct {
	executor *Executor
	logger   zerolog.Logger
}

// NewCodeTool wraps an executor as a tool.
func NewCodeTool(executor *Executor, logger zerolog.Logger) *CodeTool {
	return &CodeTool{executor: executor, logger: logger}
}

// Name returns the tool name.
func (t *CodeTool) Name() string {
	return "execute_code"
}

// Description returns the tool description shown to the agent.
func (t *CodeTool) Description() string {
	return "Execute a Python code snippet in a restricted sandbox. " +
		"Assign to a variable named `result` to return a value. " +
		"A read-only `context` dict holds values passed by the caller. " +
		"Only the configured standard modules may be imported; no file, " +
		"network, or process access is available."
}

// Parameters returns the JSON Schema for the tool's input.
func (t *CodeTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code": map[string]any{
				"type":        "string",
				"description": "Python source code to execute",
			},
			"context": map[string]any{
				"type":        "object",
				"description": "values exposed to the code as the `context` dict",
			},
		},
		"required": []string{"code"},
	}
}

// Execute runs the tool. A pipeline rejection or runtime failure comes
// back as an error ToolResult, not a Go error; a Go error means the
// arguments themselves were unusable.
func (t *CodeTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	code, ok := args["code"].(string)
	if !ok || code == "" {
		return ToolResult{}, fmt.Errorf("execute_code: missing required string argument 'code'")
	}
	contextVars, _ := args["context"].(map[string]any)

	res := t.executor.Execute(ctx, code, contextVars)

	meta := map[string]any{
		"execution_id":   res.ID,
		"error_type":     res.ErrorType,
		"execution_time": res.ExecutionTime.String(),
	}
	if len(res.ValidationViolations) > 0 {
		meta["validation_violations"] = len(res.ValidationViolations)
	}
	if len(res.OutputViolations) > 0 {
		meta["output_violations"] = len(res.OutputViolations)
	}
	if res.WasOutputRedacted {
		meta["output_redacted"] = true
	}

	if !res.Success {
		return ToolResult{
			Content:  fmt.Sprintf("execution failed (%s): %s", res.ErrorType, res.ErrorMessage),
			IsError:  true,
			Metadata: meta,
		}, nil
	}

	content := map[string]any{
		"stdout": res.Stdout,
	}
	if res.ReturnValue != nil {
		content["result"] = res.ReturnValue
	}
	if res.Stderr != "" {
		content["stderr"] = res.Stderr
	}
	payload, err := json.Marshal(content)
	if err != nil {
		// Return values are JSON-shaped by construction; this indicates a
		// backend bug rather than bad user code.
		t.logger.Error().Err(err).Str("execution_id", res.ID).Msg("tool result not serializable")
		return ToolResult{Content: res.Stdout, Metadata: meta}, nil
	}
	return ToolResult{Content: string(payload), Metadata: meta}, nil
}
