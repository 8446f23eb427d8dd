// Package cache is the canonical entity store.
//
// For every (list, entity id) pair at most one Entity instance exists for
// the lifetime of the process. All callers that ask for "the" entity receive
// the same pointer; new server data is merged onto that instance in place so
// every holder observes the update.
package cache

import (
	"sort"
	"sync"

	"listsync/internal/record"
)

// Entity is one canonical list record. Fields holds the decoded values keyed
// by mapped name. The struct is owned by exactly one container; mutation
// happens only through registration.
type Entity struct {
	ListID string
	ID     int
	Fields map[string]any
}

// Get returns a field value.
func (e *Entity) Get(name string) any {
	return e.Fields[name]
}

// EntityFactory builds a list-specific entity from a parsed record. Lists
// with no registered factory get the generic shape (the record's fields
// adopted directly).
type EntityFactory func(listID string, rec record.Record) *Entity

func genericFactory(listID string, rec record.Record) *Entity {
	return &Entity{
		ListID: listID,
		ID:     rec.ID(),
		Fields: map[string]any(rec.Clone()),
	}
}

// Index is a secondary id-to-entity map populated by one query. It stores
// canonical references, never copies.
type Index struct {
	mu       sync.RWMutex
	entities map[int]*Entity
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{entities: make(map[int]*Entity)}
}

// Get returns the entity with the given id, or nil.
func (ix *Index) Get(id int) *Entity {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.entities[id]
}

// Has reports whether id is present.
func (ix *Index) Has(id int) bool {
	return ix.Get(id) != nil
}

// Set inserts a canonical reference.
func (ix *Index) Set(e *Entity) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entities[e.ID] = e
}

// Delete removes id from the index.
func (ix *Index) Delete(id int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.entities, id)
}

// Len returns the number of indexed entities.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entities)
}

// Entities returns the indexed entities ordered by id.
func (ix *Index) Entities() []*Entity {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]*Entity, 0, len(ix.entities))
	for _, e := range ix.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
