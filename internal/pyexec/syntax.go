// Package pyexec implements a layered safe-execution pipeline for
// untrusted, LLM-generated Python-dialect code: syntax validation, AST
// security analysis, sandboxed execution, and output sanitization.
package pyexec

import (
	"go.starlark.net/syntax"
)

// fileOptions enables the Python-leaning subset of the Starlark grammar
// that LLM-generated code routinely uses (while loops, top-level control
// flow, reassignment, recursion, sets).
func fileOptions() *syntax.FileOptions {
	return &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		GlobalReassign:  true,
		Recursion:       true,
	}
}

// SyntaxValidator parses submitted source and rejects malformed code
// before anything else runs. Stateless; safe for concurrent reuse.
type SyntaxValidator struct {
	opts *syntax.FileOptions
}

// NewSyntaxValidator creates a syntax validator.
func NewSyntaxValidator() *SyntaxValidator {
	return &SyntaxValidator{opts: fileOptions()}
}

// Validate parses code and reports the first error's position. Import
// statements are rewritten out before parsing (the grammar has no import
// keyword); the rewrite preserves line numbers, so reported positions
// refer to the original source. An empty string is a valid no-op program.
func (v *SyntaxValidator) Validate(code string) SyntaxResult {
	rewritten, _ := RewriteImports(code)

	_, err := v.opts.Parse("code.py", rewritten, 0)
	if err == nil {
		return SyntaxResult{Valid: true}
	}

	res := SyntaxResult{Valid: false, ErrorMessage: err.Error()}
	if se, ok := err.(syntax.Error); ok {
		res.ErrorMessage = se.Msg
		res.Line = int(se.Pos.Line)
		res.Column = int(se.Pos.Col)
	}
	return res
}
