package graph

import (
	"sync"

	"github.com/rendis/nodeforge/internal/registry"
	"github.com/rendis/nodeforge/pkg/schema"
)

// Store is the single-writer handle around a Graph. Writers hold the
// exclusive lock for the whole callback, so a transaction never interleaves
// with another writer or with readers.
type Store struct {
	mu sync.RWMutex
	g  *Graph
}

// NewStore wraps g. The graph must not be used directly afterwards.
func NewStore(g *Graph) *Store {
	return &Store{g: g}
}

// Write runs fn with exclusive access to the graph.
func (s *Store) Write(fn func(g *Graph) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.g)
}

// Update runs fn with exclusive access for changes that cannot fail.
func (s *Store) Update(fn func(g *Graph)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.g)
}

// View runs fn with shared access. fn must not mutate the graph.
func (s *Store) View(fn func(g *Graph)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.g)
}

// Registry returns the node-type registry the graph was built with.
func (s *Store) Registry() registry.Lookup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.g.Registry()
}

// Snapshot returns a deep copy of the current document.
func (s *Store) Snapshot() *schema.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.g.Serialize()
}

// Revision returns the current document revision.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.g.Revision()
}

// SnapshotAt returns a deep copy of the document together with the revision
// it was taken at.
func (s *Store) SnapshotAt() (*schema.Document, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.g.Serialize(), s.g.Revision()
}
