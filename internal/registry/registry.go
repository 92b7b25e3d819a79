package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Ref identifies a participating entity by its registered identifier
// and primary key.
type Ref struct {
	Identifier string
	ObjectID   int64
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.Identifier, r.ObjectID)
}

// Source resolves object ids of one entity type to concrete instances.
type Source interface {
	// Identifier is the short stable string registered for the type.
	Identifier() string

	// Load fetches the entity by primary key. A missing entity is
	// (nil, nil), not an error.
	Load(ctx context.Context, objectID int64) (interface{}, error)
}

// Registry maps identifiers to entity sources. Registration happens at
// process start and is append-only: re-registering an identifier fails.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

func New() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

func (r *Registry) Register(s Source) error {
	identifier := s.Identifier()
	if identifier == "" {
		return fmt.Errorf("registry: empty identifier")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[identifier]; ok {
		return fmt.Errorf("registry: identifier %q already registered", identifier)
	}
	r.sources[identifier] = s
	return nil
}

func (r *Registry) Lookup(identifier string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[identifier]
	return s, ok
}

// Load resolves a ref into a concrete entity. An unregistered
// identifier is an error; a registered identifier with no matching row
// is (nil, nil).
func (r *Registry) Load(ctx context.Context, ref Ref) (interface{}, error) {
	s, ok := r.Lookup(ref.Identifier)
	if !ok {
		return nil, fmt.Errorf("registry: unknown identifier %q", ref.Identifier)
	}
	return s.Load(ctx, ref.ObjectID)
}

// Identifiers returns the registered identifiers, sorted.
func (r *Registry) Identifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sources))
	for identifier := range r.sources {
		out = append(out, identifier)
	}
	sort.Strings(out)
	return out
}
