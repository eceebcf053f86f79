// Package idgen provides the identifier strategies used when saving an object
// that has no identifier yet.
package idgen

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/maruel/ksid"

	objerrors "github.com/maruel/objdb/internal/errors"
	"github.com/maruel/objdb/internal/schema"
)

// Generator produces a new identifier for an instance lacking one.
type Generator interface {
	Generate(p schema.Persistable) (schema.ID, error)
}

// GeneratorFunc adapts a function to a Generator.
type GeneratorFunc func(p schema.Persistable) (schema.ID, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(p schema.Persistable) (schema.ID, error) {
	return f(p)
}

// Token returns random UUIDv4 identifiers. No uniqueness check is performed.
type Token struct{}

// Generate implements Generator.
func (Token) Generate(schema.Persistable) (schema.ID, error) {
	return schema.ID(uuid.NewString()), nil
}

// Sortable returns time-sortable ksid identifiers, monotonic within a process.
type Sortable struct{}

// Generate implements Generator.
func (Sortable) Generate(schema.Persistable) (schema.ID, error) {
	return schema.ID(ksid.NewID().String()), nil
}

// KeyLister lists the keys currently stored for a type.
type KeyLister interface {
	Keys(typeName string) ([]string, error)
}

// Sequential returns increasing integers scoped per type.
//
// The next value is one more than the largest of the current row count, the
// largest numeric key and the last value issued for the type, so objects
// created in a single nested save do not collide before their rows exist.
// It assumes a single writer.
type Sequential struct {
	keys KeyLister

	mu     sync.Mutex
	issued map[string]int64
}

// NewSequential returns a Sequential generator reading keys from keys.
func NewSequential(keys KeyLister) *Sequential {
	return &Sequential{keys: keys, issued: make(map[string]int64)}
}

// Generate implements Generator.
func (s *Sequential) Generate(p schema.Persistable) (schema.ID, error) {
	name := p.Schema().Name
	keys, err := s.keys.Keys(name)
	if err != nil {
		return "", objerrors.Generation(name, err)
	}
	n := int64(len(keys))
	for _, k := range keys {
		if v, err := strconv.ParseInt(k, 10, 64); err == nil && v > n {
			n = v
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n = max(n, s.issued[name]) + 1
	s.issued[name] = n
	slog.Debug("Generated sequential id", "type", name, "id", n)
	return schema.ID(strconv.FormatInt(n, 10)), nil
}

// Strategy names accepted by ByName.
const (
	StrategyUUID       = "uuid"
	StrategyKSID       = "ksid"
	StrategySequential = "sequential"
)

// ByName returns the generator for a strategy name. keys is only used by the
// sequential strategy.
func ByName(name string, keys KeyLister) (Generator, error) {
	switch name {
	case StrategyUUID, "":
		return Token{}, nil
	case StrategyKSID:
		return Sortable{}, nil
	case StrategySequential:
		return NewSequential(keys), nil
	default:
		return nil, fmt.Errorf("unknown id strategy %q", name)
	}
}
