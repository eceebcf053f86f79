// Package schema declares the per-type field metadata consumed by the mapper.
//
// A persistable type implements [Persistable] and returns a statically
// declared [Schema] listing its fields. Fields are built with [Identifier],
// [Scalar], [Ref], [List], [Set] and [Transient]; the builders capture typed
// accessors so the mapper never needs runtime field introspection.
//
//	var personSchema = &schema.Schema{
//		Name: "Person",
//		New:  func() schema.Persistable { return &Person{} },
//		Fields: []schema.Field{
//			schema.Identifier[int]("id"),
//			schema.Scalar("name", func(p *Person) *string { return &p.Name }).As("fullName"),
//			schema.Ref("spouse", "Person", func(p *Person) *Person { return p.Spouse },
//				func(p *Person, s *Person) { p.Spouse = s }),
//		},
//	}
package schema

import (
	"iter"
	"maps"
	"reflect"
	"slices"
)

// ID is the canonical string form of an identifier. The zero value is unset.
type ID string

// IsZero returns true if the ID is unset.
func (id ID) IsZero() bool {
	return id == ""
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}

// Persistable is implemented by every type the store can save and load.
//
// Schema must not dereference its receiver; it is called on nil pointers to
// discover the type name.
type Persistable interface {
	Identifier() ID
	SetIdentifier(ID) error
	Schema() *Schema
}

// Kind is the storage shape of a field.
type Kind int

const (
	// KindScalar is any value stored as-is.
	KindScalar Kind = iota
	// KindRef is a reference to another persistable, stored as its ID.
	KindRef
	// KindCollection is a collection of persistables, stored as a list of IDs.
	KindCollection
)

// CollectionKind is the in-memory shape a collection is rebuilt as.
type CollectionKind int

const (
	// CollectionNone is used by non-collection fields.
	CollectionNone CollectionKind = iota
	// CollectionList preserves order and duplicates.
	CollectionList
	// CollectionSet is keyed by element ID.
	CollectionSet
)

// Schema is the immutable field list of one persistable type.
type Schema struct {
	// Name identifies the type; the backing table is named after it.
	Name string
	// New returns a blank instance.
	New func() Persistable
	// Fields in declaration order. Exactly one must be the identifier.
	Fields []Field
}

// IdentifierField returns the identifier field, or nil if there is none.
func (s *Schema) IdentifierField() *Field {
	for i := range s.Fields {
		if s.Fields[i].Identifier {
			return &s.Fields[i]
		}
	}
	return nil
}

// Persistent iterates over the fields stored in a document: everything except
// the identifier and transient fields.
func (s *Schema) Persistent() iter.Seq[*Field] {
	return func(yield func(*Field) bool) {
		for i := range s.Fields {
			f := &s.Fields[i]
			if f.Identifier || f.Transient {
				continue
			}
			if !yield(f) {
				return
			}
		}
	}
}

// Field describes one field of a persistable type.
type Field struct {
	Name       string
	Alias      string
	Identifier bool
	Transient  bool
	Kind       Kind
	// Type is the declared Go type for scalars and identifiers, or the target
	// schema name for references.
	Type       string
	Collection CollectionKind
	// Elem is the element schema name of a collection.
	Elem string

	goType   reflect.Type
	value    func(Persistable) any
	ref      func(Persistable) Persistable
	setRef   func(Persistable, Persistable)
	elems    func(Persistable) []Persistable
	setElems func(Persistable, []Persistable)
}

// StorageName returns the document key of the field: its alias if any, else
// its name.
func (f *Field) StorageName() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// As returns a copy of the field stored under alias.
func (f Field) As(alias string) Field {
	f.Alias = alias
	return f
}

// Value returns a pointer to the scalar field of p.
func (f *Field) Value(p Persistable) any {
	return f.value(p)
}

// Ref returns the referenced persistable, or nil.
func (f *Field) Ref(p Persistable) Persistable {
	return f.ref(p)
}

// SetRef sets the reference; v may be nil.
func (f *Field) SetRef(p, v Persistable) {
	f.setRef(p, v)
}

// Elems returns the non-nil elements of the collection.
func (f *Field) Elems(p Persistable) []Persistable {
	return f.elems(p)
}

// SetElems replaces the collection with elems.
func (f *Field) SetElems(p Persistable, elems []Persistable) {
	f.setElems(p, elems)
}

// Identifier declares the identifier field. V is the declared type of the
// identifier in the Go struct; it is informational.
func Identifier[V any](name string) Field {
	return Field{Name: name, Identifier: true, Type: reflect.TypeFor[V]().String(), goType: reflect.TypeFor[V]()}
}

// Transient declares a field that is never stored.
func Transient[V any](name string) Field {
	return Field{Name: name, Transient: true, Type: reflect.TypeFor[V]().String(), goType: reflect.TypeFor[V]()}
}

// Scalar declares a field stored as its JSON encoding.
func Scalar[T Persistable, V any](name string, ptr func(T) *V) Field {
	return Field{
		Name:   name,
		Kind:   KindScalar,
		Type:   reflect.TypeFor[V]().String(),
		goType: reflect.TypeFor[V](),
		value:  func(p Persistable) any { return ptr(p.(T)) },
	}
}

// Ref declares a reference to a single persistable of type target.
func Ref[T, R Persistable](name, target string, get func(T) R, set func(T, R)) Field {
	return Field{
		Name: name,
		Kind: KindRef,
		Type: target,
		ref: func(p Persistable) Persistable {
			r := get(p.(T))
			if isNil(r) {
				return nil
			}
			return r
		},
		setRef: func(p, v Persistable) {
			var r R
			if v != nil {
				r = v.(R)
			}
			set(p.(T), r)
		},
	}
}

// List declares an ordered collection of persistables of type elem.
func List[T, E Persistable](name, elem string, get func(T) []E, set func(T, []E)) Field {
	return Field{
		Name:       name,
		Kind:       KindCollection,
		Type:       "[]" + elem,
		Collection: CollectionList,
		Elem:       elem,
		elems: func(p Persistable) []Persistable {
			s := get(p.(T))
			out := make([]Persistable, 0, len(s))
			for _, e := range s {
				if !isNil(e) {
					out = append(out, e)
				}
			}
			return out
		},
		setElems: func(p Persistable, v []Persistable) {
			s := make([]E, 0, len(v))
			for _, e := range v {
				s = append(s, e.(E))
			}
			set(p.(T), s)
		},
	}
}

// Set declares a collection of persistables of type elem keyed by their ID.
func Set[T, E Persistable](name, elem string, get func(T) map[ID]E, set func(T, map[ID]E)) Field {
	return Field{
		Name:       name,
		Kind:       KindCollection,
		Type:       "set[" + elem + "]",
		Collection: CollectionSet,
		Elem:       elem,
		elems: func(p Persistable) []Persistable {
			m := get(p.(T))
			out := make([]Persistable, 0, len(m))
			for _, k := range slices.Sorted(maps.Keys(m)) {
				if e := m[k]; !isNil(e) {
					out = append(out, e)
				}
			}
			return out
		},
		setElems: func(p Persistable, v []Persistable) {
			m := make(map[ID]E, len(v))
			for _, e := range v {
				m[e.Identifier()] = e.(E)
			}
			set(p.(T), m)
		},
	}
}

// NameOf returns the schema name of T.
func NameOf[T Persistable]() string {
	var zero T
	return zero.Schema().Name
}

func isNil[P Persistable](p P) bool {
	var zero P
	return any(p) == any(zero)
}
