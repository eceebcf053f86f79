// Package mapper saves and loads graphs of persistable objects.
//
// # Identity
//
// The [Cache] maps (type, id) to the live instance representing a row. With
// [CacheStore] it lives as long as the Mapper, so loading the same row twice
// returns the same instance. With [CachePerCall] a fresh cache is used for
// every top-level operation, and only references inside one operation share
// instances.
//
// Cycle guards are separate from the cache and always scoped to one
// top-level call: Save keeps a visited set of instances, loads keep the set
// of rows being resolved.
//
// # Failure
//
// A nested save writes each object to its table as it goes. If a later write
// fails, the objects already written stay written.
package mapper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/maruel/objdb/internal/docstore"
	objerrors "github.com/maruel/objdb/internal/errors"
	"github.com/maruel/objdb/internal/idgen"
	"github.com/maruel/objdb/internal/query"
	"github.com/maruel/objdb/internal/schema"
)

// CachePolicy selects the lifetime of the identity cache.
type CachePolicy int

const (
	// CacheStore keeps instances for the lifetime of the Mapper.
	CacheStore CachePolicy = iota
	// CachePerCall uses a fresh cache for every top-level operation.
	CachePerCall
)

func (c CachePolicy) String() string {
	switch c {
	case CacheStore:
		return "store"
	case CachePerCall:
		return "call"
	default:
		return fmt.Sprintf("CachePolicy(%d)", int(c))
	}
}

// Options configures a Mapper.
type Options struct {
	// Strategy generates identifiers for objects saved without one. Defaults
	// to idgen.Token.
	Strategy idgen.Generator
	Cache    CachePolicy
}

// Mapper converts persistable objects to and from documents.
//
// Persistable implementations must be pointer types. Top-level operations
// are serialized.
type Mapper struct {
	reg      *schema.Registry
	docs     *docstore.Store
	strategy idgen.Generator
	policy   CachePolicy

	mu    sync.Mutex
	cache *Cache
}

// New returns a Mapper storing the types of reg in docs.
func New(reg *schema.Registry, docs *docstore.Store, opts Options) *Mapper {
	if opts.Strategy == nil {
		opts.Strategy = idgen.Token{}
	}
	return &Mapper{
		reg:      reg,
		docs:     docs,
		strategy: opts.Strategy,
		policy:   opts.Cache,
		cache:    NewCache(),
	}
}

// Registry returns the schema registry.
func (m *Mapper) Registry() *schema.Registry {
	return m.reg
}

// Store returns the document store.
func (m *Mapper) Store() *docstore.Store {
	return m.docs
}

// Cache returns the long-lived identity cache. It stays empty with
// CachePerCall.
func (m *Mapper) Cache() *Cache {
	return m.cache
}

// ResetCache drops every cached instance.
func (m *Mapper) ResetCache() {
	m.cache.InvalidateAll()
}

func (m *Mapper) callCache() *Cache {
	if m.policy == CachePerCall {
		return NewCache()
	}
	return m.cache
}

// Save persists p and every persistable reachable from it, generating
// identifiers with the default strategy. A nil p is a no-op.
func (m *Mapper) Save(p schema.Persistable) error {
	return m.SaveWith(p, nil)
}

// SaveWith is like Save but generates missing identifiers with gen. A nil gen
// selects the default strategy.
func (m *Mapper) SaveWith(p schema.Persistable, gen idgen.Generator) error {
	if isNil(p) {
		return nil
	}
	if gen == nil {
		gen = m.strategy
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &saveCall{
		m:       m,
		gen:     gen,
		cache:   m.callCache(),
		visited: make(map[schema.Persistable]schema.Persistable),
	}
	_, err := c.save(p)
	return err
}

// LoadByID returns the instance stored under id. ok is false if there is no
// such row.
func (m *Mapper) LoadByID(typeName string, id schema.ID) (p schema.Persistable, ok bool, err error) {
	s, err := m.reg.Lookup(typeName)
	if err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.newLoadCall()
	p, ok, err = c.byID(s, id)
	if err != nil {
		c.rollback()
		return nil, false, err
	}
	return p, ok, nil
}

// LoadByQuery returns the instances whose stored document matches q, in the
// order of [docstore.Table.Keys]. A nil q matches every row.
func (m *Mapper) LoadByQuery(typeName string, q *query.Query) ([]schema.Persistable, error) {
	s, err := m.reg.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.newLoadCall()
	t, err := c.table(s.Name)
	if err != nil {
		return nil, err
	}
	var out []schema.Persistable
	for _, k := range t.Keys() {
		if q != nil && !q.Matches(t[k]) {
			continue
		}
		p, ok, err := c.byID(s, schema.ID(k))
		if err != nil {
			c.rollback()
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// ClearStorage replaces the table of typeName with an empty one and drops its
// cached instances.
func (m *Mapper) ClearStorage(typeName string) error {
	s, err := m.reg.Lookup(typeName)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.InvalidateType(s.Name)
	return m.docs.Clear(s.Name)
}

// Watch drops cached instances of a type whenever its table is changed by
// another writer. It requires the file backend. Watching stops when ctx is
// canceled.
func (m *Mapper) Watch(ctx context.Context) error {
	fb, ok := m.docs.Backend().(*docstore.FileBackend)
	if !ok {
		return errors.New("watching requires the file backend")
	}
	return fb.Watch(ctx, func(name string) {
		m.cache.InvalidateType(name)
		slog.InfoContext(ctx, "Table changed on disk, dropped cached instances", "type", name)
	})
}

// Get loads the T stored under id.
func Get[T schema.Persistable](m *Mapper, id schema.ID) (T, bool, error) {
	var zero T
	p, ok, err := m.LoadByID(schema.NameOf[T](), id)
	if err != nil || !ok {
		return zero, ok, err
	}
	t, ok := p.(T)
	if !ok {
		return zero, false, objerrors.Schema("type %s loads as %T, not %T", schema.NameOf[T](), p, zero)
	}
	return t, true, nil
}

// Find loads every T matching q.
func Find[T schema.Persistable](m *Mapper, q *query.Query) ([]T, error) {
	ps, err := m.LoadByQuery(schema.NameOf[T](), q)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(ps))
	for _, p := range ps {
		t, ok := p.(T)
		if !ok {
			var zero T
			return nil, objerrors.Schema("type %s loads as %T, not %T", schema.NameOf[T](), p, zero)
		}
		out = append(out, t)
	}
	return out, nil
}

type saveCall struct {
	m     *Mapper
	gen   idgen.Generator
	cache *Cache
	// visited maps every instance seen in this call to its object of record.
	visited map[schema.Persistable]schema.Persistable
}

// save persists p and returns the instance that now represents its row.
func (c *saveCall) save(p schema.Persistable) (schema.Persistable, error) {
	if record, ok := c.visited[p]; ok {
		return record, nil
	}
	s, err := c.m.reg.Of(p)
	if err != nil {
		return nil, err
	}
	id := p.Identifier()
	if id.IsZero() {
		gen, err := c.gen.Generate(p)
		if err != nil {
			return nil, err
		}
		if err := p.SetIdentifier(gen); err != nil {
			return nil, objerrors.Generation(s.Name, err)
		}
		if id = p.Identifier(); id.IsZero() {
			return nil, objerrors.Generation(s.Name, fmt.Errorf("identifier %q was not retained", gen))
		}
		slog.Debug("Assigned identifier", "type", s.Name, "id", id)
	}

	record := p
	if cached, ok := c.cache.Get(s.Name, id); ok && cached != p {
		merge(s, cached, p)
		record = cached
	}
	c.visited[p] = record
	c.visited[record] = record

	for f := range s.Persistent() {
		switch f.Kind {
		case schema.KindRef:
			child := f.Ref(record)
			if child == nil {
				continue
			}
			saved, err := c.save(child)
			if err != nil {
				return nil, err
			}
			if saved != child {
				f.SetRef(record, saved)
			}
		case schema.KindCollection:
			elems := f.Elems(record)
			changed := f.Collection == schema.CollectionSet
			for i, e := range elems {
				saved, err := c.save(e)
				if err != nil {
					return nil, err
				}
				if saved != e {
					elems[i] = saved
					changed = true
				}
			}
			if changed {
				f.SetElems(record, elems)
			}
		}
	}

	doc, err := encode(s, record)
	if err != nil {
		return nil, err
	}
	if err := c.m.docs.Put(s.Name, id.String(), doc); err != nil {
		return nil, err
	}
	c.cache.Set(s.Name, id, record)
	return record, nil
}

// merge copies every stored field of src into dst.
func merge(s *schema.Schema, dst, src schema.Persistable) {
	for f := range s.Persistent() {
		switch f.Kind {
		case schema.KindScalar:
			reflect.ValueOf(f.Value(dst)).Elem().Set(reflect.ValueOf(f.Value(src)).Elem())
		case schema.KindRef:
			f.SetRef(dst, f.Ref(src))
		case schema.KindCollection:
			f.SetElems(dst, f.Elems(src))
		}
	}
}

// encode builds the document of p. References are replaced by their ID.
func encode(s *schema.Schema, p schema.Persistable) (docstore.Document, error) {
	doc := docstore.Document{}
	for f := range s.Persistent() {
		var v any
		switch f.Kind {
		case schema.KindScalar:
			v = f.Value(p)
		case schema.KindRef:
			if r := f.Ref(p); r != nil {
				v = r.Identifier()
			}
		case schema.KindCollection:
			ids := []schema.ID{}
			for _, e := range f.Elems(p) {
				ids = append(ids, e.Identifier())
			}
			v = ids
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s.%s: %w", s.Name, f.Name, err)
		}
		doc[f.StorageName()] = raw
	}
	return doc, nil
}

type rowKey struct {
	typeName string
	id       schema.ID
}

type loadCall struct {
	m     *Mapper
	cache *Cache
	// loading holds the rows being resolved in this call.
	loading map[rowKey]bool
	tables  map[string]docstore.Table
	// added lists the rows this call put in the cache.
	added []rowKey
}

func (m *Mapper) newLoadCall() *loadCall {
	return &loadCall{
		m:       m,
		cache:   m.callCache(),
		loading: make(map[rowKey]bool),
		tables:  make(map[string]docstore.Table),
	}
}

// table reads a table once per call.
func (c *loadCall) table(name string) (docstore.Table, error) {
	if t, ok := c.tables[name]; ok {
		return t, nil
	}
	t, err := c.m.docs.ReadTable(name)
	if err != nil {
		return nil, err
	}
	c.tables[name] = t
	return t, nil
}

func (c *loadCall) byID(s *schema.Schema, id schema.ID) (schema.Persistable, bool, error) {
	if p, ok := c.cache.Get(s.Name, id); ok {
		return p, true, nil
	}
	k := rowKey{s.Name, id}
	if c.loading[k] {
		return nil, false, nil
	}
	c.loading[k] = true
	defer delete(c.loading, k)

	t, err := c.table(s.Name)
	if err != nil {
		return nil, false, err
	}
	doc, ok := t[id.String()]
	if !ok {
		return nil, false, nil
	}
	p, err := c.materialize(s, id, doc)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// rollback evicts every instance cached by this call. After a failure some
// of them may reference a half-built instance.
func (c *loadCall) rollback() {
	for _, k := range c.added {
		c.cache.Invalidate(k.typeName, k.id)
	}
	c.added = nil
}

// materialize builds the instance for a document. The instance is cached
// before its fields are populated so references back to it resolve to it.
func (c *loadCall) materialize(s *schema.Schema, id schema.ID, doc docstore.Document) (schema.Persistable, error) {
	p := s.New()
	if err := p.SetIdentifier(id); err != nil {
		return nil, c.corrupt(s, fmt.Errorf("key %q: %w", id, err))
	}
	c.cache.Set(s.Name, id, p)
	c.added = append(c.added, rowKey{s.Name, id})
	for f := range s.Persistent() {
		raw, ok := doc[f.StorageName()]
		if !ok || isNull(raw) {
			continue
		}
		switch f.Kind {
		case schema.KindScalar:
			if err := json.Unmarshal(raw, f.Value(p)); err != nil {
				return nil, c.corrupt(s, fmt.Errorf("row %s field %s: %w", id, f.StorageName(), err))
			}
		case schema.KindRef:
			target, err := c.m.reg.Lookup(f.Type)
			if err != nil {
				return nil, err
			}
			refID, err := decodeID(raw)
			if err != nil {
				return nil, c.corrupt(s, fmt.Errorf("row %s field %s: %w", id, f.StorageName(), err))
			}
			child, ok, err := c.byID(target, refID)
			if err != nil {
				return nil, err
			}
			if !ok {
				slog.Debug("Unresolved reference", "type", s.Name, "id", id, "field", f.Name, "ref", refID)
				continue
			}
			f.SetRef(p, child)
		case schema.KindCollection:
			elem, err := c.m.reg.Lookup(f.Elem)
			if err != nil {
				return nil, objerrors.Schema("type %s: field %s: unresolved collection element type %s", s.Name, f.Name, f.Elem).Wrap(err)
			}
			ids, err := decodeIDs(raw)
			if err != nil {
				return nil, c.corrupt(s, fmt.Errorf("row %s field %s: %w", id, f.StorageName(), err))
			}
			elems := make([]schema.Persistable, 0, len(ids))
			for _, eid := range ids {
				e, ok, err := c.byID(elem, eid)
				if err != nil {
					return nil, err
				}
				if !ok {
					slog.Debug("Unresolved collection element", "type", s.Name, "id", id, "field", f.Name, "ref", eid)
					continue
				}
				elems = append(elems, e)
			}
			f.SetElems(p, elems)
		}
	}
	return p, nil
}

func (c *loadCall) corrupt(s *schema.Schema, err error) error {
	return objerrors.CorruptTable(c.m.docs.Backend().Location(s.Name), err)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// decodeID accepts an ID stored as a JSON string or number.
func decodeID(raw json.RawMessage) (schema.ID, error) {
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()
	var v any
	if err := d.Decode(&v); err != nil {
		return "", err
	}
	switch x := v.(type) {
	case string:
		return schema.ID(x), nil
	case json.Number:
		return schema.ID(x.String()), nil
	default:
		return "", fmt.Errorf("identifier must be a string or a number, got %T", v)
	}
}

func decodeIDs(raw json.RawMessage) ([]schema.ID, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	ids := make([]schema.ID, 0, len(items))
	for _, item := range items {
		id, err := decodeID(item)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func isNil(p schema.Persistable) bool {
	if p == nil {
		return true
	}
	v := reflect.ValueOf(p)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
