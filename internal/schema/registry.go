package schema

import (
	"slices"
	"sync"

	objerrors "github.com/maruel/objdb/internal/errors"
)

// Registry holds the validated schema of every persistable type.
//
// Registration happens once at startup; lookups are concurrent-safe.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Schema
}

// NewRegistry returns a registry with the given schemas registered.
func NewRegistry(schemas ...*Schema) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Schema)}
	if err := r.Register(schemas...); err != nil {
		return nil, err
	}
	return r, nil
}

// Register validates and adds schemas. Registering the same *Schema twice is
// a no-op; registering a different schema under a taken name is an error.
func (r *Registry) Register(schemas ...*Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range schemas {
		if err := validate(s); err != nil {
			return err
		}
		if prev, ok := r.byName[s.Name]; ok {
			if prev == s {
				continue
			}
			return objerrors.Schema("type %s is already registered", s.Name)
		}
		r.byName[s.Name] = s
	}
	return nil
}

// Lookup returns the schema registered under name.
func (r *Registry) Lookup(name string) (*Schema, error) {
	r.mu.RLock()
	s, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, objerrors.Schema("type %s is not registered as persistable", name).WithDetail("type", name)
	}
	return s, nil
}

// Of returns the registered schema of p.
func (r *Registry) Of(p Persistable) (*Schema, error) {
	if p == nil {
		return nil, objerrors.Schema("nil is not persistable")
	}
	s := p.Schema()
	if s == nil {
		return nil, objerrors.Schema("%T has no schema", p)
	}
	reg, err := r.Lookup(s.Name)
	if err != nil {
		return nil, err
	}
	if reg != s {
		return nil, objerrors.Schema("%T returns a schema that differs from the registered %s", p, s.Name)
	}
	return reg, nil
}

// Names returns the sorted registered type names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func validate(s *Schema) error {
	if s == nil {
		return objerrors.Schema("schema is nil")
	}
	if s.Name == "" {
		return objerrors.Schema("schema name is required")
	}
	if s.New == nil {
		return objerrors.Schema("type %s: New is required", s.Name)
	}
	ids := 0
	seen := make(map[string]bool, len(s.Fields))
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Name == "" {
			return objerrors.Schema("type %s: field %d: name is required", s.Name, i)
		}
		if f.Identifier {
			ids++
			continue
		}
		if f.Transient {
			continue
		}
		name := f.StorageName()
		if seen[name] {
			return objerrors.Schema("type %s: duplicate storage name %q", s.Name, name)
		}
		seen[name] = true
		switch f.Kind {
		case KindScalar:
			if f.value == nil {
				return objerrors.Schema("type %s: field %s: missing value accessor", s.Name, f.Name)
			}
		case KindRef:
			if f.Type == "" {
				return objerrors.Schema("type %s: field %s: reference target is required", s.Name, f.Name)
			}
			if f.ref == nil || f.setRef == nil {
				return objerrors.Schema("type %s: field %s: missing reference accessors", s.Name, f.Name)
			}
		case KindCollection:
			if f.Elem == "" {
				return objerrors.Schema("type %s: field %s: unresolved collection element type", s.Name, f.Name)
			}
			if f.elems == nil || f.setElems == nil {
				return objerrors.Schema("type %s: field %s: missing collection accessors", s.Name, f.Name)
			}
		default:
			return objerrors.Schema("type %s: field %s: unknown kind %d", s.Name, f.Name, f.Kind)
		}
	}
	switch ids {
	case 0:
		return objerrors.Schema("type %s has no identifier field", s.Name)
	case 1:
		return nil
	default:
		return objerrors.Schema("type %s has %d identifier fields, want exactly one", s.Name, ids)
	}
}
