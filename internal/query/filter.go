package query

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/maruel/objdb/internal/docstore"
)

// Filter is a node of a compiled predicate. Evaluation has no side effects.
type Filter interface {
	Match(doc docstore.Document) bool
	String() string
}

// And matches when both operands match.
type And struct {
	Left, Right Filter
}

// Match implements Filter.
func (f *And) Match(doc docstore.Document) bool {
	return f.Left.Match(doc) && f.Right.Match(doc)
}

func (f *And) String() string {
	return "(" + f.Left.String() + " AND " + f.Right.String() + ")"
}

// Or matches when either operand matches.
type Or struct {
	Left, Right Filter
}

// Match implements Filter.
func (f *Or) Match(doc docstore.Document) bool {
	return f.Left.Match(doc) || f.Right.Match(doc)
}

func (f *Or) String() string {
	return "(" + f.Left.String() + " OR " + f.Right.String() + ")"
}

// Not inverts its operand.
type Not struct {
	Filter Filter
}

// Match implements Filter.
func (f *Not) Match(doc docstore.Document) bool {
	return !f.Filter.Match(doc)
}

func (f *Not) String() string {
	return "NOT " + f.Filter.String()
}

// Op is a leaf comparison.
type Op int

const (
	// Equals compares text exactly, numbers as float64 and booleans by the
	// parsed literal.
	Equals Op = iota
	// GreaterThan compares numbers as float64.
	GreaterThan
	// LessThan compares numbers as float64.
	LessThan
	// Contains is a substring test on text.
	Contains
)

var opNames = [...]string{Equals: "equals", GreaterThan: "greaterThan", LessThan: "lessThan", Contains: "contains"}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "Op(" + strconv.Itoa(int(o)) + ")"
}

// Leaf compares one stored field with a literal. A leaf never matches a
// document lacking the field or holding a value of the wrong JSON type.
type Leaf struct {
	Field string
	Op    Op
	// Literal is the unquoted literal text.
	Literal string
	// Number is the literal parsed as float64, for GreaterThan and LessThan.
	Number float64
}

// Match implements Filter.
func (f *Leaf) Match(doc docstore.Document) bool {
	raw, ok := doc[f.Field]
	if !ok {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch f.Op {
	case GreaterThan:
		n, ok := v.(float64)
		return ok && n > f.Number
	case LessThan:
		n, ok := v.(float64)
		return ok && n < f.Number
	case Contains:
		s, ok := v.(string)
		return ok && strings.Contains(s, f.Literal)
	case Equals:
		switch x := v.(type) {
		case string:
			return x == f.Literal
		case float64:
			n, err := strconv.ParseFloat(f.Literal, 64)
			return err == nil && x == n
		case bool:
			return x == strings.EqualFold(f.Literal, "true")
		}
	}
	return false
}

func (f *Leaf) String() string {
	lit := f.Literal
	if f.Op == Equals || f.Op == Contains {
		lit = `"` + lit + `"`
	}
	return "(" + f.Field + "." + f.Op.String() + "(" + lit + "))"
}
