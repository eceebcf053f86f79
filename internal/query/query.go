// Package query compiles textual predicates over stored documents.
//
// Grammar, keywords case-insensitive:
//
//	Expression     := Term ("OR" Term)*
//	Term           := Factor ("AND" Factor)*
//	Factor         := ["NOT"] "(" (FieldCondition | Expression) ")"
//	FieldCondition := Field "." Condition "(" Literal ")"
//	Condition      := "equals" | "greaterThan" | "lessThan" | "contains"
//
// NOT binds tightest, then AND, then OR. Literals may be single- or
// double-quoted; quote characters are removed, nothing is unescaped.
//
// The parser is lenient in two ways: closing parentheses in excess of the
// opening ones are trimmed from the end of the input, and input left over
// after a complete expression is ignored with a warning.
package query

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/maruel/objdb/internal/docstore"
	objerrors "github.com/maruel/objdb/internal/errors"
)

// Query is a parsed predicate. It is immutable and safe for concurrent use.
type Query struct {
	text     string
	trailing string
	root     Filter
}

// Parse compiles text. Malformed input returns a query parse error.
func Parse(text string) (*Query, error) {
	p := &parser{s: balanceParentheses(strings.TrimSpace(text)), fold: cases.Fold()}
	root, err := p.expression()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	q := &Query{text: text, root: root}
	if p.pos < len(p.s) {
		q.trailing = p.s[p.pos:]
		slog.Warn("Ignoring trailing characters in query", "query", text, "trailing", q.trailing)
	}
	return q, nil
}

// MustParse is like Parse but panics on error.
func MustParse(text string) *Query {
	q, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return q
}

// Matches reports whether doc satisfies the query.
func (q *Query) Matches(doc docstore.Document) bool {
	return q.root != nil && q.root.Match(doc)
}

// MatchesJSON decodes a serialized document and evaluates the query on it.
// Malformed JSON never matches.
func (q *Query) MatchesJSON(data []byte) bool {
	var doc docstore.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	return q.Matches(doc)
}

// Filter returns the root of the filter tree.
func (q *Query) Filter() Filter {
	return q.root
}

// Text returns the text the query was parsed from.
func (q *Query) Text() string {
	return q.text
}

// Trailing returns the ignored input after the expression, if any.
func (q *Query) Trailing() string {
	return q.trailing
}

// String renders the filter tree; the result parses to an equivalent query.
func (q *Query) String() string {
	if q.root == nil {
		return ""
	}
	return q.root.String()
}

// balanceParentheses trims closing parentheses at the end of s that have no
// opening counterpart.
func balanceParentheses(s string) string {
	excess := strings.Count(s, ")") - strings.Count(s, "(")
	if excess > 0 && strings.HasSuffix(s, strings.Repeat(")", excess)) {
		return s[:len(s)-excess]
	}
	return s
}

type parser struct {
	s    string
	pos  int
	fold cases.Caser
}

func (p *parser) expression() (Filter, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for p.pos < len(p.s) {
		p.skipSpace()
		if !p.keyword("OR") {
			break
		}
		p.pos += len("OR")
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) term() (Filter, error) {
	left, err := p.factor()
	if err != nil {
		return nil, err
	}
	for p.pos < len(p.s) {
		p.skipSpace()
		if !p.keyword("AND") {
			break
		}
		p.pos += len("AND")
		right, err := p.factor()
		if err != nil {
			return nil, err
		}
		left = &And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) factor() (Filter, error) {
	p.skipSpace()
	negated := false
	if p.keyword("NOT") {
		negated = true
		p.pos += len("NOT")
		p.skipSpace()
	}
	if p.pos >= len(p.s) || p.s[p.pos] != '(' {
		return nil, objerrors.QueryParse(p.pos, "expected condition or sub-expression at position %d", p.pos)
	}
	p.pos++
	p.skipSpace()

	var f Filter
	var err error
	if field, ok := p.fieldName(); ok {
		f, err = p.condition(field)
	} else {
		f, err = p.subExpression()
	}
	if err != nil {
		return nil, err
	}
	if negated {
		f = &Not{Filter: f}
	}
	return f, nil
}

// fieldName consumes "name." if present at the current position.
func (p *parser) fieldName() (string, bool) {
	end := p.pos
	for end < len(p.s) && isFieldChar(p.s[end]) {
		end++
	}
	if end == p.pos || end >= len(p.s) || p.s[end] != '.' {
		return "", false
	}
	name := p.s[p.pos:end]
	p.pos = end + 1
	return name, true
}

func (p *parser) condition(field string) (Filter, error) {
	p.skipSpace()
	open := p.indexUnescaped('(', p.pos)
	if open <= p.pos {
		return nil, objerrors.QueryParse(p.pos, "invalid condition format at position %d", p.pos)
	}
	name := strings.TrimSpace(p.s[p.pos:open])
	closing := p.matchingClose(open)
	if closing < 0 {
		return nil, objerrors.QueryParse(open, "missing closing parenthesis for condition parameter at position %d", open)
	}
	literal := strings.TrimSpace(p.s[open+1 : closing])
	literal = strings.NewReplacer(`'`, "", `"`, "").Replace(literal)
	leaf, err := p.newLeaf(field, name, literal, p.pos)
	if err != nil {
		return nil, err
	}
	p.pos = closing + 1
	p.skipSpace()
	if p.pos >= len(p.s) || p.s[p.pos] != ')' {
		return nil, objerrors.QueryParse(p.pos, "missing closing parenthesis for condition at position %d", p.pos)
	}
	p.pos++
	return leaf, nil
}

func (p *parser) subExpression() (Filter, error) {
	f, err := p.expression()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos >= len(p.s) || p.s[p.pos] != ')' {
		return nil, objerrors.QueryParse(p.pos, "missing closing parenthesis for sub-expression at position %d", p.pos)
	}
	p.pos++
	return f, nil
}

func (p *parser) newLeaf(field, condition, literal string, pos int) (*Leaf, error) {
	leaf := &Leaf{Field: field, Literal: literal}
	switch p.fold.String(condition) {
	case "equals":
		leaf.Op = Equals
	case "contains":
		leaf.Op = Contains
	case "greaterthan":
		leaf.Op = GreaterThan
	case "lessthan":
		leaf.Op = LessThan
	default:
		return nil, objerrors.QueryParse(pos, "unknown condition: %s", condition)
	}
	if leaf.Op == GreaterThan || leaf.Op == LessThan {
		n, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return nil, objerrors.QueryParse(pos, "%s needs a number, got %q", condition, literal)
		}
		leaf.Number = n
	}
	return leaf, nil
}

// keyword reports whether kw, case-insensitively, starts at the current
// position and is not followed by a letter or digit.
func (p *parser) keyword(kw string) bool {
	end := p.pos + len(kw)
	if end > len(p.s) || p.fold.String(p.s[p.pos:end]) != p.fold.String(kw) {
		return false
	}
	if end == len(p.s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(p.s[end:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func (p *parser) skipSpace() {
	for p.pos < len(p.s) {
		r, size := utf8.DecodeRuneInString(p.s[p.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		p.pos += size
	}
}

func (p *parser) escaped(i int) bool {
	return i > 0 && p.s[i-1] == '\\'
}

func (p *parser) indexUnescaped(c byte, from int) int {
	for i := from; i < len(p.s); i++ {
		if p.s[i] == c && !p.escaped(i) {
			return i
		}
	}
	return -1
}

// matchingClose returns the index of the parenthesis closing the one at open,
// counting nested pairs, or -1.
func (p *parser) matchingClose(open int) int {
	depth := 1
	for i := open + 1; i < len(p.s); i++ {
		if p.escaped(i) {
			continue
		}
		switch p.s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isFieldChar(c byte) bool {
	return c == '_' || c == '$' || c == '-' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
