package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maruel/objdb/internal/docstore"
	objerrors "github.com/maruel/objdb/internal/errors"
)

func parseDoc(t *testing.T, s string) docstore.Document {
	t.Helper()
	var d docstore.Document
	require.NoError(t, json.Unmarshal([]byte(s), &d))
	return d
}

func TestParseAndMatch(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		match   []string
		nomatch []string
	}{
		{
			name:    "greater than",
			query:   "(age.greaterThan(18))",
			match:   []string{`{"age": 35}`},
			nomatch: []string{`{"age": 10}`, `{"age": 18}`},
		},
		{
			name:    "or",
			query:   "(age.greaterThan(18)) OR (age.lessThan(9))",
			match:   []string{`{"age": 35}`, `{"age": 7}`},
			nomatch: []string{`{"age": 10}`},
		},
		{
			name:    "contains double quoted",
			query:   `(fullName.contains("Jo"))`,
			match:   []string{`{"fullName": "John Doe"}`},
			nomatch: []string{`{"fullName": "Jane Doe"}`},
		},
		{
			name:    "contains single quoted",
			query:   `(fullName.contains('Doe'))`,
			match:   []string{`{"fullName": "John Doe"}`, `{"fullName": "Jane Doe"}`},
			nomatch: []string{`{"fullName": "Karl"}`},
		},
		{
			name:    "not",
			query:   "NOT (age.lessThan(18))",
			match:   []string{`{"age": 35}`},
			nomatch: []string{`{"age": 10}`},
		},
		{
			name:    "excess closing parenthesis",
			query:   "(age.greaterThan(18)))",
			match:   []string{`{"age": 35}`},
			nomatch: []string{`{"age": 10}`},
		},
		{
			name:    "and binds tighter than or",
			query:   "(age.greaterThan(18)) AND (age.lessThan(30)) OR (fullName.equals(Karl))",
			match:   []string{`{"age": 20}`, `{"age": 50, "fullName": "Karl"}`},
			nomatch: []string{`{"age": 50, "fullName": "Paul"}`},
		},
		{
			name:    "not binds tighter than and",
			query:   "NOT (age.lessThan(18)) AND (age.lessThan(65))",
			match:   []string{`{"age": 30}`},
			nomatch: []string{`{"age": 10}`, `{"age": 70}`},
		},
		{
			name:    "grouping",
			query:   "(age.greaterThan(18)) AND ((fullName.contains(Jo)) OR (fullName.contains(Ka)))",
			match:   []string{`{"age": 20, "fullName": "Karl"}`, `{"age": 20, "fullName": "John"}`},
			nomatch: []string{`{"age": 10, "fullName": "John"}`, `{"age": 20, "fullName": "Paul"}`},
		},
		{
			name:    "not of a group",
			query:   "NOT ((age.lessThan(18)) OR (age.greaterThan(65)))",
			match:   []string{`{"age": 30}`},
			nomatch: []string{`{"age": 10}`, `{"age": 70}`},
		},
		{
			name:    "case insensitive keywords and conditions",
			query:   "(age.GREATERTHAN(18)) and not (fullName.Equals(Karl))",
			match:   []string{`{"age": 30, "fullName": "John"}`},
			nomatch: []string{`{"age": 30, "fullName": "Karl"}`},
		},
		{
			name:    "nested parentheses in literal",
			query:   `(expr.equals("f(g(x))"))`,
			match:   []string{`{"expr": "f(g(x))"}`},
			nomatch: []string{`{"expr": "f(g(x)"}`},
		},
		{
			name:    "equals number",
			query:   "(age.equals(35))",
			match:   []string{`{"age": 35}`, `{"age": 35.0}`},
			nomatch: []string{`{"age": 36}`, `{"age": "35x"}`},
		},
		{
			name:    "equals text holding digits",
			query:   "(zip.equals('01234'))",
			match:   []string{`{"zip": "01234"}`},
			nomatch: []string{`{"zip": "1234"}`},
		},
		{
			name:    "equals boolean",
			query:   "(active.equals(TRUE))",
			match:   []string{`{"active": true}`},
			nomatch: []string{`{"active": false}`, `{"active": null}`},
		},
		{
			name:    "equals false literal",
			query:   "(active.equals(no))",
			match:   []string{`{"active": false}`},
			nomatch: []string{`{"active": true}`},
		},
		{
			name:    "missing fields never match",
			query:   "(age.greaterThan(1)) OR (age.lessThan(1)) OR (name.contains(a)) OR (name.equals(a))",
			nomatch: []string{`{}`, `{"other": 5}`},
		},
		{
			name:    "wrong types never match",
			query:   "(age.greaterThan(1)) OR (name.contains(1))",
			nomatch: []string{`{"age": "100", "name": 12}`, `{"age": true, "name": ["1"]}`},
		},
		{
			name:    "negative and fractional numbers",
			query:   "(t.greaterThan(-1.5)) AND (t.lessThan(0.25))",
			match:   []string{`{"t": 0}`, `{"t": -1.25}`},
			nomatch: []string{`{"t": -2}`, `{"t": 0.25}`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Parse(tt.query)
			require.NoError(t, err)
			for _, d := range tt.match {
				assert.True(t, q.Matches(parseDoc(t, d)), "%s should match %s", tt.query, d)
			}
			for _, d := range tt.nomatch {
				assert.False(t, q.Matches(parseDoc(t, d)), "%s should not match %s", tt.query, d)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"empty", ""},
		{"unknown condition", "(age.between(1))"},
		{"missing parameter closer", "(age.greaterThan(18"},
		{"missing condition closer", "(age.greaterThan(18)"},
		{"missing sub-expression closer", "((age.greaterThan(18)) OR (age.lessThan(9))"},
		{"bare condition", "age.greaterThan(18)"},
		{"missing condition name", "(age.(18))"},
		{"missing parameter", "(age.equals)"},
		{"non numeric comparison", "(age.greaterThan(old))"},
		{"dangling or", "(age.greaterThan(18)) OR"},
		{"dangling not", "NOT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Parse(tt.query)
			require.Error(t, err)
			assert.Nil(t, q)
			assert.ErrorIs(t, err, objerrors.ErrQueryParse)
		})
	}

	assert.Panics(t, func() { MustParse("(x.nope(1))") })
}

func TestTrailing(t *testing.T) {
	q, err := Parse("(age.greaterThan(18)) garbage")
	require.NoError(t, err)
	assert.Equal(t, "garbage", q.Trailing())
	assert.True(t, q.Matches(parseDoc(t, `{"age": 30}`)))

	q, err = Parse("(age.greaterThan(18)) ORDER")
	require.NoError(t, err)
	assert.Equal(t, "ORDER", q.Trailing())

	q, err = Parse("  (age.greaterThan(18))  ")
	require.NoError(t, err)
	assert.Empty(t, q.Trailing())
}

func TestString(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"(age.greaterThan(18))", "(age.greaterThan(18))"},
		{"(a.equals(x)) and (b.contains('y')) or not (c.lessThan(2.5))", `(((a.equals("x")) AND (b.contains("y"))) OR NOT (c.lessThan(2.5)))`},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q := MustParse(tt.query)
			assert.Equal(t, tt.want, q.String())
			again, err := Parse(q.String())
			require.NoError(t, err)
			assert.Equal(t, q.String(), again.String())
			assert.Equal(t, tt.query, q.Text())
		})
	}
}

func TestMatchesJSON(t *testing.T) {
	q := MustParse(`(fullName.contains("Jo"))`)
	assert.True(t, q.MatchesJSON([]byte(`{"fullName": "John Doe", "age": 35}`)))
	assert.False(t, q.MatchesJSON([]byte(`{"fullName": "Jane Doe"}`)))
	assert.False(t, q.MatchesJSON([]byte(`{not json`)))
	assert.False(t, q.MatchesJSON([]byte(`[1, 2]`)))
}

func TestFilterTree(t *testing.T) {
	q := MustParse("NOT (a.equals(1)) AND (b.equals(2)) OR (c.equals(3))")
	or, ok := q.Filter().(*Or)
	require.True(t, ok, "root is %T, want *Or", q.Filter())
	and, ok := or.Left.(*And)
	require.True(t, ok, "left is %T, want *And", or.Left)
	not, ok := and.Left.(*Not)
	require.True(t, ok, "and.Left is %T, want *Not", and.Left)
	leaf, ok := not.Filter.(*Leaf)
	require.True(t, ok)
	assert.Equal(t, &Leaf{Field: "a", Op: Equals, Literal: "1"}, leaf)
	assert.Equal(t, "greaterThan", GreaterThan.String())
}
