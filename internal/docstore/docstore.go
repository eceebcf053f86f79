// Package docstore persists per-type tables of JSON documents.
//
// # Overview
//
// A [Table] maps string-encoded identifiers to [Document] values and is the
// unit of durability: it is always read and written whole. The bytes live in a
// [Backend]; [FileBackend] stores one JSON object file per type and
// [SQLiteBackend] stores one row per type.
//
// # Concurrency: Pessimistic Locking
//
// [Store.Update] holds a per-type mutex for the entire read-modify-write, and
// [Store.WriteTable] and [Store.Clear] take the same mutex. Writers in other
// processes are not coordinated with.
package docstore

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	objerrors "github.com/maruel/objdb/internal/errors"
)

// Document is the stored form of one entity: storage name to JSON value.
type Document map[string]json.RawMessage

// Table maps string-encoded identifiers to documents.
type Table map[string]Document

// Keys returns the keys of the table. Integer keys come first in numeric
// order, followed by the other keys in lexical order.
func (t Table) Keys() []string {
	return slices.SortedFunc(maps.Keys(t), compareKeys)
}

func compareKeys(a, b string) int {
	x, errA := strconv.ParseInt(a, 10, 64)
	y, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		if c := cmp.Compare(x, y); c != 0 {
			return c
		}
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}

// Backend stores the serialized bytes of whole tables.
type Backend interface {
	// Load returns the table bytes; ok is false if the table does not exist.
	Load(name string) (data []byte, ok bool, err error)
	// Save replaces the table bytes.
	Save(name string, data []byte) error
	// Exists reports whether the table has been written.
	Exists(name string) (bool, error)
	// Location describes where the table lives, for messages.
	Location(name string) string
}

// Store reads and writes tables through a Backend.
type Store struct {
	backend Backend

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a Store over backend.
func New(backend Backend) *Store {
	return &Store{backend: backend, locks: make(map[string]*sync.Mutex)}
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

func (s *Store) lock(name string) func() {
	s.mu.Lock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// ReadTable returns the table for name, or an empty table if none exists.
func (s *Store) ReadTable(name string) (Table, error) {
	defer s.lock(name)()
	return s.read(name)
}

func (s *Store) read(name string) (Table, error) {
	data, ok, err := s.backend.Load(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read table %s: %w", name, err)
	}
	if !ok {
		return Table{}, nil
	}
	return decode(s.backend.Location(name), data)
}

// WriteTable replaces the table for name.
func (s *Store) WriteTable(name string, t Table) error {
	defer s.lock(name)()
	return s.write(name, t)
}

func (s *Store) write(name string, t Table) error {
	if t == nil {
		t = Table{}
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal table %s: %w", name, err)
	}
	data = append(data, '\n')
	if err := s.backend.Save(name, data); err != nil {
		return fmt.Errorf("failed to write table %s: %w", name, err)
	}
	return nil
}

// Update runs fn on the current table and writes the result back, holding the
// table lock throughout. Nothing is written if fn returns an error.
func (s *Store) Update(name string, fn func(Table) error) error {
	defer s.lock(name)()
	t, err := s.read(name)
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		return err
	}
	return s.write(name, t)
}

// Put upserts a single document.
func (s *Store) Put(name, key string, doc Document) error {
	return s.Update(name, func(t Table) error {
		t[key] = doc
		return nil
	})
}

// Clear writes an empty table for name.
func (s *Store) Clear(name string) error {
	defer s.lock(name)()
	existed, err := s.backend.Exists(name)
	if err != nil {
		return fmt.Errorf("failed to check table %s: %w", name, err)
	}
	if err := s.write(name, Table{}); err != nil {
		return err
	}
	if existed {
		slog.Info("Storage cleared", "type", name)
	} else {
		slog.Info("No storage found, created empty table", "type", name)
	}
	return nil
}

// Exists reports whether a table has been written for name.
func (s *Store) Exists(name string) (bool, error) {
	return s.backend.Exists(name)
}

// Keys returns the sorted keys of the table for name.
func (s *Store) Keys(name string) ([]string, error) {
	t, err := s.ReadTable(name)
	if err != nil {
		return nil, err
	}
	return t.Keys(), nil
}

var errNotObject = errors.New("not a JSON object")

func decode(location string, data []byte) (Table, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, objerrors.CorruptTable(location, errNotObject)
	}
	var t Table
	if err := json.Unmarshal(trimmed, &t); err != nil {
		return nil, objerrors.CorruptTable(location, err)
	}
	if t == nil {
		t = Table{}
	}
	return t, nil
}
