package lane

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Kind is the shape of a permission pattern.
type Kind int

const (
	// KindExact matches a base name regardless of parameter ("Read", "Bash").
	KindExact Kind = iota
	// KindParam requires the parameter to equal a literal ("Bash(npm test)").
	KindParam
	// KindGlob matches the parameter against a wildcard ("Bash(ls:*)").
	KindGlob
)

func (k Kind) String() string {
	switch k {
	case KindExact:
		return "exact"
	case KindParam:
		return "param"
	case KindGlob:
		return "glob"
	}
	return "unknown"
}

// Pattern is a parsed permission pattern. The zero value matches nothing.
type Pattern struct {
	raw   string
	kind  Kind
	base  string
	param string
	re    *regexp.Regexp
}

// ParsePattern parses a pattern string. Unbalanced parentheses, an empty
// base or trailing text after the closing parenthesis are rejected.
func ParsePattern(s string) (Pattern, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Pattern{}, fmt.Errorf("empty pattern")
	}
	call, ok := splitCall(s)
	if !ok {
		return Pattern{}, fmt.Errorf("malformed pattern %q: unbalanced parentheses", s)
	}
	if call.base == "" {
		return Pattern{}, fmt.Errorf("malformed pattern %q: empty base name", s)
	}
	if strings.IndexFunc(call.base, unicode.IsSpace) >= 0 {
		return Pattern{}, fmt.Errorf("malformed pattern %q: whitespace in base name", s)
	}

	p := Pattern{raw: s, base: call.base}
	switch {
	case !call.hasParam:
		p.kind = KindExact
	case strings.Contains(call.param, "*"):
		re, err := globRegexp(call.param)
		if err != nil {
			return Pattern{}, fmt.Errorf("malformed pattern %q: %w", s, err)
		}
		p.kind = KindGlob
		p.param = call.param
		p.re = re
	default:
		p.kind = KindParam
		p.param = call.param
	}
	return p, nil
}

// MustParsePattern is like ParsePattern but panics on error.
// Only for the built-in tables.
func MustParsePattern(s string) Pattern {
	p, err := ParsePattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the pattern as written.
func (p Pattern) String() string { return p.raw }

// Kind returns the pattern shape.
func (p Pattern) Kind() Kind { return p.kind }

// Base returns the tool name the pattern applies to.
func (p Pattern) Base() string { return p.base }

// Match reports whether the parsed operation satisfies the pattern.
func (p Pattern) Match(op Operation) bool {
	if p.base == "" || op.Base != p.base {
		return false
	}
	switch p.kind {
	case KindExact:
		return true
	case KindParam:
		return op.HasParam && !op.Malformed && op.Param == p.param
	case KindGlob:
		return op.HasParam && !op.Malformed && p.re.MatchString(op.Param)
	}
	return false
}

// Matches reports whether operation satisfies pattern. A pattern that
// cannot be parsed never matches.
func Matches(operation, pattern string) bool {
	p, err := ParsePattern(pattern)
	if err != nil {
		return false
	}
	return p.Match(ParseOperation(operation))
}

// Operation is a candidate operation split into base and parameter.
type Operation struct {
	Raw      string
	Base     string
	Param    string
	HasParam bool
	// Malformed is set when the parameter parentheses do not balance.
	// The base is still populated so exact-name rules keep applying.
	Malformed bool
}

// ParseOperation splits an operation string on its first "(".
func ParseOperation(s string) Operation {
	call, ok := splitCall(s)
	return Operation{
		Raw:       s,
		Base:      call.base,
		Param:     call.param,
		HasParam:  call.hasParam,
		Malformed: !ok,
	}
}

type callParts struct {
	base     string
	param    string
	hasParam bool
}

func splitCall(s string) (callParts, bool) {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return callParts{base: s}, !strings.ContainsRune(s, ')')
	}
	parts := callParts{base: s[:open], hasParam: true}
	if strings.ContainsRune(parts.base, ')') {
		return parts, false
	}
	if len(s) < open+2 || s[len(s)-1] != ')' {
		return parts, false
	}
	parts.param = s[open+1 : len(s)-1]
	return parts, balanced(parts.param)
}

func balanced(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// globRegexp converts a wildcard parameter into an anchored regexp.
// "*" becomes ".*" and everything else is literal. A trailing ":*" is the
// prefix form: "git diff:*" accepts "git diff" alone, followed by
// whitespace and anything else, or followed by a literal ":" as the plain
// wildcard reading would.
func globRegexp(param string) (*regexp.Regexp, error) {
	body, prefix := strings.CutSuffix(param, ":*")

	var b strings.Builder
	b.WriteString(`(?s)^`)
	for i, part := range strings.Split(body, "*") {
		if i > 0 {
			b.WriteString(`.*`)
		}
		b.WriteString(regexp.QuoteMeta(part))
	}
	if prefix {
		b.WriteString(`(?:\s.*|:.*)?`)
	}
	b.WriteString(`$`)
	return regexp.Compile(b.String())
}
