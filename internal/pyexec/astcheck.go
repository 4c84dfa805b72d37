package pyexec

import (
	"fmt"
	"strings"

	"go.starlark.net/syntax"
)

// Default deny-sets. These block the capabilities that matter even though
// the interpreter itself has no filesystem, network, or process surface:
// rejecting the code before execution is cheaper than failing inside the
// sandbox, and the lists double as the runtime import gate.
var (
	defaultForbiddenImports = []string{
		"os", "sys", "subprocess", "socket", "shutil",
		"pickle", "marshal", "importlib", "ctypes", "inspect",
		"threading", "multiprocessing", "signal",
	}

	defaultDangerousFunctions = []string{
		"eval", "exec", "compile", "open", "__import__",
		"globals", "locals", "vars", "input", "breakpoint",
	}

	defaultDangerousAttributes = []string{
		"__class__", "__bases__", "__mro__", "__subclasses__",
		"__globals__", "__builtins__", "__code__", "__closure__",
		"__dict__", "__getattribute__", "__reduce__", "__reduce_ex__",
	}

	// getattr-family builtins are dual-use: legitimate data access versus
	// introspection escape vector. Gated by AllowGetattr.
	getattrFamily = []string{"getattr", "setattr", "delattr", "hasattr"}
)

// ASTValidatorConfig tunes the security validator. Deny-sets are explicit
// per-instance configuration, never process-wide globals, so concurrent
// callers with different policies can coexist.
type ASTValidatorConfig struct {
	ForbiddenImports    []string
	DangerousFunctions  []string
	DangerousAttributes []string
	AllowGetattr        bool
	MaxOperations       int
}

// DefaultASTValidatorConfig returns the default policy.
func DefaultASTValidatorConfig() ASTValidatorConfig {
	return ASTValidatorConfig{
		ForbiddenImports:    defaultForbiddenImports,
		DangerousFunctions:  defaultDangerousFunctions,
		DangerousAttributes: defaultDangerousAttributes,
		AllowGetattr:        false,
		MaxOperations:       5000,
	}
}

// ASTValidator walks every node of the parsed tree once, looking for
// forbidden imports, dangerous calls, and dangerous attribute access.
// Deterministic, stateless across calls, safe for concurrent reuse.
type ASTValidator struct {
	forbiddenImports map[string]bool
	dangerousFuncs   map[string]bool
	dangerousAttrs   map[string]bool
	allowGetattr     bool
	maxOperations    int
	opts             *syntax.FileOptions
}

// NewASTValidator creates a validator from the given policy.
func NewASTValidator(cfg ASTValidatorConfig) *ASTValidator {
	if cfg.MaxOperations <= 0 {
		cfg.MaxOperations = 5000
	}
	return &ASTValidator{
		forbiddenImports: toSet(cfg.ForbiddenImports),
		dangerousFuncs:   toSet(cfg.DangerousFunctions),
		dangerousAttrs:   toSet(cfg.DangerousAttributes),
		allowGetattr:     cfg.AllowGetattr,
		maxOperations:    cfg.MaxOperations,
		opts:             fileOptions(),
	}
}

// ForbiddenImport reports whether the module path names a forbidden module
// (exact or submodule). Shared with the sandbox's runtime import gate.
func (v *ASTValidator) ForbiddenImport(module string) bool {
	root := module
	if i := strings.IndexByte(module, '.'); i >= 0 {
		root = module[:i]
	}
	return v.forbiddenImports[root]
}

// Validate analyzes code and returns all violations found, in source
// order (imports first, then tree findings). The caller has already
// established syntax validity; on an unparsable input the import findings
// are still returned. The result is an empty slice, never nil, when no
// violations are found.
func (v *ASTValidator) Validate(code string) []Violation {
	violations := []Violation{}

	rewritten, refs := RewriteImports(code)
	for _, ref := range refs {
		if v.ForbiddenImport(ref.Module) {
			violations = append(violations, Violation{
				Severity: SeverityHigh,
				Type:     ViolationForbiddenImport,
				Message:  fmt.Sprintf("import of forbidden module %q", ref.Module),
				Line:     ref.Line,
			})
		}
	}

	f, err := v.opts.Parse("code.py", rewritten, 0)
	if err != nil {
		return violations
	}

	ops := 0
	for _, stmt := range f.Stmts {
		syntax.Walk(stmt, func(n syntax.Node) bool {
			if n == nil {
				return true
			}
			ops++

			switch node := n.(type) {
			case *syntax.CallExpr:
				if ident, ok := node.Fn.(*syntax.Ident); ok {
					violations = append(violations, v.checkCall(ident)...)
				}
			case *syntax.DotExpr:
				if v.dangerousAttrs[node.Name.Name] {
					start, _ := node.Span()
					violations = append(violations, Violation{
						Severity: SeverityHigh,
						Type:     ViolationDangerousAttribute,
						Message:  fmt.Sprintf("access to dangerous attribute %q", node.Name.Name),
						Line:     int(start.Line),
					})
				}
			case *syntax.LoadStmt:
				if module, ok := node.Module.Value.(string); ok && v.ForbiddenImport(module) {
					start, _ := node.Span()
					violations = append(violations, Violation{
						Severity: SeverityHigh,
						Type:     ViolationForbiddenImport,
						Message:  fmt.Sprintf("load of forbidden module %q", module),
						Line:     int(start.Line),
					})
				}
			}
			return true
		})
	}

	if ops > v.maxOperations {
		violations = append(violations, Violation{
			Severity: SeverityMedium,
			Type:     ViolationComplexityExceeded,
			Message:  fmt.Sprintf("code complexity %d exceeds limit of %d operations", ops, v.maxOperations),
		})
	}

	return violations
}

// checkCall flags calls to dangerous or gated builtins.
func (v *ASTValidator) checkCall(ident *syntax.Ident) []Violation {
	name := ident.Name
	start, _ := ident.Span()

	if v.dangerousFuncs[name] {
		return []Violation{{
			Severity: SeverityHigh,
			Type:     ViolationDangerousFunction,
			Message:  fmt.Sprintf("call to dangerous function %q", name),
			Line:     int(start.Line),
		}}
	}
	if !v.allowGetattr {
		for _, gated := range getattrFamily {
			if name == gated {
				return []Violation{{
					Severity: SeverityHigh,
					Type:     ViolationDangerousFunction,
					Message:  fmt.Sprintf("call to %q is disabled (dynamic attribute access)", name),
					Line:     int(start.Line),
				}}
			}
		}
	}
	return nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
