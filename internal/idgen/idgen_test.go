package idgen

import (
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/maruel/ksid"

	objerrors "github.com/maruel/objdb/internal/errors"
	"github.com/maruel/objdb/internal/schema"
)

type item struct{ id schema.ID }

func (i *item) Identifier() schema.ID { return i.id }

func (i *item) SetIdentifier(id schema.ID) error {
	i.id = id
	return nil
}

func (*item) Schema() *schema.Schema { return itemSchema }

var itemSchema = &schema.Schema{
	Name:   "item",
	New:    func() schema.Persistable { return &item{} },
	Fields: []schema.Field{schema.Identifier[string]("id")},
}

type fakeKeys struct {
	keys []string
	err  error
}

func (f *fakeKeys) Keys(string) ([]string, error) {
	return f.keys, f.err
}

func TestToken(t *testing.T) {
	seen := map[schema.ID]bool{}
	for range 100 {
		id, err := Token{}.Generate(&item{})
		if err != nil {
			t.Fatalf("Generate() error: %v", err)
		}
		if _, err := uuid.Parse(string(id)); err != nil {
			t.Errorf("Generate() = %q, not a UUID: %v", id, err)
		}
		if seen[id] {
			t.Errorf("Generate() returned duplicate %q", id)
		}
		seen[id] = true
	}
}

func TestSortable(t *testing.T) {
	var prev ksid.ID
	for i := range 100 {
		id, err := Sortable{}.Generate(&item{})
		if err != nil {
			t.Fatalf("Generate() error: %v", err)
		}
		parsed, err := ksid.Parse(string(id))
		if err != nil {
			t.Fatalf("Generate() = %q, not a ksid: %v", id, err)
		}
		if i > 0 && parsed <= prev {
			t.Errorf("Generate() = %v after %v, not monotonic", parsed, prev)
		}
		prev = parsed
	}
}

func TestSequential(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		tests := []struct {
			name string
			keys []string
			want []schema.ID
		}{
			{"empty table", nil, []schema.ID{"1", "2", "3"}},
			{"row count", []string{"1", "2"}, []schema.ID{"3", "4"}},
			{"gap in keys", []string{"1", "7"}, []schema.ID{"8"}},
			{"non numeric keys", []string{"a", "b", "c"}, []schema.ID{"4"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				g := NewSequential(&fakeKeys{keys: tt.keys})
				for _, want := range tt.want {
					got, err := g.Generate(&item{})
					if err != nil {
						t.Fatalf("Generate() error: %v", err)
					}
					if got != want {
						t.Errorf("Generate() = %q, want %q", got, want)
					}
				}
			})
		}
	})

	t.Run("read failure", func(t *testing.T) {
		g := NewSequential(&fakeKeys{err: io.ErrUnexpectedEOF})
		_, err := g.Generate(&item{})
		if !errors.Is(err, objerrors.ErrGeneration) {
			t.Errorf("Generate() error = %v, want generation error", err)
		}
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("Generate() error = %v, want it to wrap the cause", err)
		}
	})
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", StrategyUUID, StrategyKSID, StrategySequential} {
		if _, err := ByName(name, &fakeKeys{}); err != nil {
			t.Errorf("ByName(%q) error: %v", name, err)
		}
	}
	if _, err := ByName("snowflake", nil); err == nil {
		t.Error("ByName(snowflake) = nil error, want error")
	}
	f := GeneratorFunc(func(schema.Persistable) (schema.ID, error) { return "fixed", nil })
	if id, _ := f.Generate(&item{}); id != "fixed" {
		t.Errorf("GeneratorFunc.Generate() = %q, want fixed", id)
	}
}
