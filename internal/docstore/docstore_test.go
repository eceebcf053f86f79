package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	objerrors "github.com/maruel/objdb/internal/errors"
)

// setupBackends returns every backend implementation rooted in a fresh temp dir.
func setupBackends(t *testing.T) map[string]Backend {
	dir := t.TempDir()
	fb, err := NewFileBackend(filepath.Join(dir, "files"))
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	sb, err := OpenSQLite(filepath.Join(dir, "objdb.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = sb.Close() })
	return map[string]Backend{"file": fb, "sqlite": sb}
}

func doc(kv ...string) Document {
	d := Document{}
	for i := 0; i < len(kv); i += 2 {
		d[kv[i]] = json.RawMessage(kv[i+1])
	}
	return d
}

func TestStore(t *testing.T) {
	for name, backend := range setupBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(backend)

			t.Run("missing table", func(t *testing.T) {
				table, err := s.ReadTable("Missing")
				if err != nil {
					t.Fatalf("ReadTable error: %v", err)
				}
				if len(table) != 0 {
					t.Errorf("ReadTable() = %v, want empty", table)
				}
				if ok, err := s.Exists("Missing"); err != nil || ok {
					t.Errorf("Exists() = %v, %v, want false", ok, err)
				}
			})

			t.Run("write and read", func(t *testing.T) {
				want := Table{
					"1": doc("fullName", `"John Doe"`, "age", `35`),
					"2": doc("fullName", `"Jane Doe"`, "age", `10`),
				}
				if err := s.WriteTable("Person", want); err != nil {
					t.Fatalf("WriteTable error: %v", err)
				}
				got, err := s.ReadTable("Person")
				if err != nil {
					t.Fatalf("ReadTable error: %v", err)
				}
				if !slices.Equal(got.Keys(), []string{"1", "2"}) {
					t.Errorf("Keys() = %v, want [1 2]", got.Keys())
				}
				if string(got["1"]["fullName"]) != `"John Doe"` {
					t.Errorf("row 1 fullName = %s", got["1"]["fullName"])
				}
				if ok, err := s.Exists("Person"); err != nil || !ok {
					t.Errorf("Exists() = %v, %v, want true", ok, err)
				}
			})

			t.Run("put replaces the document", func(t *testing.T) {
				if err := s.Put("Person", "1", doc("fullName", `"John Smith"`)); err != nil {
					t.Fatalf("Put error: %v", err)
				}
				got, _ := s.ReadTable("Person")
				if len(got["1"]) != 1 || string(got["1"]["fullName"]) != `"John Smith"` {
					t.Errorf("row 1 = %v, want only fullName", got["1"])
				}
				if len(got) != 2 {
					t.Errorf("len = %d, want 2", len(got))
				}
			})

			t.Run("update error does not write", func(t *testing.T) {
				errAbort := errors.New("abort")
				err := s.Update("Person", func(t Table) error {
					delete(t, "1")
					return errAbort
				})
				if !errors.Is(err, errAbort) {
					t.Fatalf("Update error = %v, want abort", err)
				}
				got, _ := s.ReadTable("Person")
				if _, ok := got["1"]; !ok {
					t.Error("row 1 deleted despite the error")
				}
			})

			t.Run("clear", func(t *testing.T) {
				if err := s.Clear("Person"); err != nil {
					t.Fatalf("Clear error: %v", err)
				}
				got, _ := s.ReadTable("Person")
				if len(got) != 0 {
					t.Errorf("ReadTable() after Clear = %v", got)
				}
				if err := s.Clear("Never"); err != nil {
					t.Fatalf("Clear of missing table error: %v", err)
				}
				if ok, _ := s.Exists("Never"); !ok {
					t.Error("Clear did not write an empty table")
				}
			})

			t.Run("concurrent puts", func(t *testing.T) {
				var wg sync.WaitGroup
				for i := range 20 {
					wg.Add(1)
					go func() {
						defer wg.Done()
						if err := s.Put("Counter", fmt.Sprint(i), doc("n", fmt.Sprint(i))); err != nil {
							t.Errorf("Put error: %v", err)
						}
					}()
				}
				wg.Wait()
				keys, err := s.Keys("Counter")
				if err != nil {
					t.Fatalf("Keys error: %v", err)
				}
				if len(keys) != 20 {
					t.Errorf("len(Keys()) = %d, want 20", len(keys))
				}
			})
		})
	}
}

func TestTableKeys(t *testing.T) {
	tests := []struct {
		name string
		keys []string
		want []string
	}{
		{"numeric", []string{"10", "2", "1", "-3"}, []string{"-3", "1", "2", "10"}},
		{"text", []string{"b", "a", "B"}, []string{"B", "a", "b"}},
		{"mixed", []string{"x", "10", "abc", "9"}, []string{"9", "10", "abc", "x"}},
		{"leading zero", []string{"01", "1", "2"}, []string{"01", "1", "2"}},
		{"empty", nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := Table{}
			for _, k := range tt.keys {
				tbl[k] = Document{}
			}
			if got := tbl.Keys(); !slices.Equal(got, tt.want) {
				t.Errorf("Keys() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCorruptTable(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"not json", "hello"},
		{"array", `[{"a":1}]`},
		{"null", `null`},
		{"truncated", `{"1": {"a": 1}`},
		{"row is not an object", `{"1": 5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb, err := NewFileBackend(t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(fb.Path("Person"), []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err = New(fb).ReadTable("Person")
			if !errors.Is(err, objerrors.ErrCorruptTable) {
				t.Errorf("ReadTable() error = %v, want corrupt table", err)
			}
		})
	}
}

func TestFileFormat(t *testing.T) {
	fb, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	table := Table{
		"2": doc("fullName", `"Jane Doe"`, "age", `10`, "family", `["1"]`),
		"1": doc("fullName", `"John Doe"`, "age", `35`),
	}
	if err := New(fb).WriteTable("Person", table); err != nil {
		t.Fatalf("WriteTable error: %v", err)
	}
	data, err := os.ReadFile(fb.Path("Person"))
	if err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(fb.Dir())
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the table file", len(entries))
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "table_format", data)
}

func TestWatch(t *testing.T) {
	fb, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	changed := make(chan string, 16)
	if err := fb.Watch(ctx, func(name string) { changed <- name }); err != nil {
		t.Fatalf("Watch error: %v", err)
	}
	s := New(fb)

	t.Run("own write is ignored", func(t *testing.T) {
		if err := s.Put("Person", "1", doc("age", "1")); err != nil {
			t.Fatal(err)
		}
		select {
		case name := <-changed:
			t.Errorf("onChange(%q) called for own write", name)
		case <-time.After(200 * time.Millisecond):
		}
	})

	t.Run("external write is reported", func(t *testing.T) {
		if err := os.WriteFile(fb.Path("Person"), []byte(`{"9": {}}`), 0o644); err != nil {
			t.Fatal(err)
		}
		select {
		case name := <-changed:
			if name != "Person" {
				t.Errorf("onChange(%q), want Person", name)
			}
		case <-time.After(5 * time.Second):
			t.Error("onChange not called for external write")
		}
	})
}
