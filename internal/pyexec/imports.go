package pyexec

import (
	"regexp"
	"strings"
)

// ImportedName is one member of a from-import clause, e.g. "sqrt as s".
type ImportedName struct {
	Name  string
	Alias string // "" = bound under Name
}

// ImportRef is one import statement extracted from submitted source.
type ImportRef struct {
	Module string         // dotted module path as written
	Alias  string         // binding name for plain imports; "" = root package name
	Names  []ImportedName // from-import members; nil for a plain import
	Star   bool           // from X import *
	Line   int            // 1-based line in the original source
}

// Root returns the top-level package name of the module path.
func (r ImportRef) Root() string {
	if i := strings.IndexByte(r.Module, '.'); i >= 0 {
		return r.Module[:i]
	}
	return r.Module
}

// Binding returns the name a plain import binds in the namespace.
func (r ImportRef) Binding() string {
	if r.Alias != "" {
		return r.Alias
	}
	return r.Root()
}

var (
	importLineRe = regexp.MustCompile(`^(\s*)import\s+(.+)$`)
	fromLineRe   = regexp.MustCompile(`^(\s*)from\s+([A-Za-z_.][\w.]*)\s+import\s+(.+)$`)
	moduleItemRe = regexp.MustCompile(`^[A-Za-z_]\w*(\.[A-Za-z_]\w*)*(\s+as\s+[A-Za-z_]\w*)?$`)
	nameItemRe   = regexp.MustCompile(`^[A-Za-z_]\w*(\s+as\s+[A-Za-z_]\w*)?$`)
)

// RewriteImports extracts Python import statements from src and replaces
// them with line-preserving pass statements, so the remainder parses under
// the Starlark grammar (which has no import keyword). The extracted
// references are checked against deny/allow sets by the validator and the
// sandbox; line numbers in the rewritten source match the original.
//
// Lines inside triple-quoted strings are left untouched. Malformed import
// lines are also left untouched so the syntax validator reports them.
func RewriteImports(src string) (string, []ImportRef) {
	lines := strings.Split(src, "\n")
	var refs []ImportRef

	inString := false
	var delim string

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if inString {
			if containsDelim(line, delim) {
				inString = false
			}
			continue
		}

		if d, open := openedTripleQuote(line); open {
			inString = true
			delim = d
			continue
		}

		code := stripComment(line)

		if m := fromLineRe.FindStringSubmatch(code); m != nil {
			indent, module, clause := m[1], m[2], m[3]

			// Parenthesized clause may span lines; consume the continuation.
			consumed := 0
			if strings.HasPrefix(strings.TrimSpace(clause), "(") {
				full, n, ok := collectParenClause(clause, lines, i)
				if !ok {
					continue
				}
				clause = full
				consumed = n
			}

			names, star, ok := parseFromClause(clause)
			if !ok {
				continue
			}
			if module != "__future__" {
				refs = append(refs, ImportRef{Module: module, Names: names, Star: star, Line: i + 1})
			}
			lines[i] = indent + "pass"
			for j := 1; j <= consumed; j++ {
				lines[i+j] = ""
			}
			i += consumed
			continue
		}

		if m := importLineRe.FindStringSubmatch(code); m != nil {
			indent, clause := m[1], m[2]
			items, ok := parseImportClause(clause)
			if !ok {
				continue
			}
			for _, it := range items {
				it.Line = i + 1
				refs = append(refs, it)
			}
			lines[i] = indent + "pass"
		}
	}

	return strings.Join(lines, "\n"), refs
}

// parseImportClause parses "a.b as c, d" into refs. Returns ok=false when
// any item is malformed; the caller then leaves the line for the parser.
func parseImportClause(clause string) ([]ImportRef, bool) {
	var refs []ImportRef
	for _, item := range strings.Split(clause, ",") {
		item = strings.TrimSpace(item)
		if !moduleItemRe.MatchString(item) {
			return nil, false
		}
		module, alias := splitAs(item)
		refs = append(refs, ImportRef{Module: module, Alias: alias})
	}
	return refs, true
}

// parseFromClause parses "x, y as z", "*", or "(x, y)" member lists.
// Returns the members, whether the clause was a star import, and whether
// parsing succeeded.
func parseFromClause(clause string) ([]ImportedName, bool, bool) {
	clause = strings.TrimSpace(clause)
	clause = strings.TrimPrefix(clause, "(")
	clause = strings.TrimSuffix(clause, ")")
	clause = strings.TrimSpace(clause)

	if clause == "*" {
		return nil, true, true
	}

	var names []ImportedName
	for _, item := range strings.Split(clause, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue // trailing comma
		}
		if !nameItemRe.MatchString(item) {
			return nil, false, false
		}
		name, alias := splitAs(item)
		names = append(names, ImportedName{Name: name, Alias: alias})
	}
	if len(names) == 0 {
		return nil, false, false
	}
	return names, false, true
}

// collectParenClause joins a parenthesized from-import clause that spans
// multiple lines, returning the joined clause and how many extra lines it
// consumed.
func collectParenClause(first string, lines []string, start int) (string, int, bool) {
	if strings.Contains(first, ")") {
		return first, 0, true
	}
	var sb strings.Builder
	sb.WriteString(first)
	for j := start + 1; j < len(lines); j++ {
		part := stripComment(lines[j])
		sb.WriteString(" ")
		sb.WriteString(part)
		if strings.Contains(part, ")") {
			return sb.String(), j - start, true
		}
	}
	return "", 0, false
}

// splitAs splits "name as alias" into its parts.
func splitAs(item string) (string, string) {
	fields := strings.Fields(item)
	if len(fields) == 3 && fields[1] == "as" {
		return fields[0], fields[2]
	}
	return item, ""
}

// stripComment removes a trailing # comment. Import lines cannot contain
// string literals, so a bare index is sufficient here.
func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		return strings.TrimRight(line[:i], " \t")
	}
	return line
}

// openedTripleQuote reports whether the line opens a triple-quoted string
// that is still open at end of line, and which delimiter it used.
func openedTripleQuote(line string) (string, bool) {
	open := ""
	for i := 0; i < len(line); i++ {
		if open == "" {
			if strings.HasPrefix(line[i:], `"""`) {
				open = `"""`
				i += 2
			} else if strings.HasPrefix(line[i:], "'''") {
				open = "'''"
				i += 2
			}
		} else if strings.HasPrefix(line[i:], open) {
			open = ""
			i += 2
		}
	}
	return open, open != ""
}

// containsDelim reports whether the line closes an open triple-quoted
// string with the given delimiter.
func containsDelim(line, delim string) bool {
	return strings.Contains(line, delim)
}
