// Package lookupindex maintains the reverse lookup index: which entities
// reference entity X through property P, answerable without a scan.
package lookupindex

import (
	"sort"
	"sync"

	"listsync/internal/cache"
	"listsync/internal/core/apperror"
	"listsync/internal/fieldtypes"
	"listsync/internal/metadata"
)

type bucketKey struct {
	listID   string
	property string
	lookupID int
}

type entityKey struct {
	listID   string
	entityID int
}

// Index is the reverse lookup index. Besides the live buckets it keeps a
// snapshot of each entity's lookup ids as they were at indexing time: by the
// time a caller unregisters an entity, its live property may already carry
// the new value it is about to save, so pruning must use the backed-up prior
// value, never the current one.
type Index struct {
	mu      sync.RWMutex
	buckets map[bucketKey]map[int]*cache.Entity
	prior   map[entityKey]map[string][]int
}

// New creates an empty reverse lookup index.
func New() *Index {
	return &Index{
		buckets: make(map[bucketKey]map[int]*cache.Entity),
		prior:   make(map[entityKey]map[string][]int),
	}
}

// IndexEntity inserts the entity into the bucket of every id its named
// lookup properties reference, and snapshots those ids for later pruning.
//
// A non-empty lookup value with no numeric id is a data-integrity error: it
// means the decode stage already produced a corrupt lookup, and it is
// surfaced immediately rather than skipped. All properties are validated
// before any bucket or snapshot changes, so a rejected entity is never left
// half-indexed.
func (ix *Index) IndexEntity(e *cache.Entity, properties ...string) error {
	resolved := make(map[string][]int, len(properties))
	for _, prop := range properties {
		ids, err := lookupIDs(prop, e.Fields[prop])
		if err != nil {
			return err
		}
		resolved[prop] = ids
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ek := entityKey{listID: e.ListID, entityID: e.ID}
	snapshot, ok := ix.prior[ek]
	if !ok {
		snapshot = make(map[string][]int)
		ix.prior[ek] = snapshot
	}

	for _, prop := range properties {
		for _, id := range resolved[prop] {
			bk := bucketKey{listID: e.ListID, property: prop, lookupID: id}
			bucket, ok := ix.buckets[bk]
			if !ok {
				bucket = make(map[int]*cache.Entity)
				ix.buckets[bk] = bucket
			}
			bucket[e.ID] = e
		}
		snapshot[prop] = resolved[prop]
	}
	return nil
}

// RemovePriorIndexEntries prunes the entity from the buckets its properties
// referenced at indexing time, using the snapshot, not the live values.
// An entity that was never indexed is a no-op.
func (ix *Index) RemovePriorIndexEntries(e *cache.Entity, properties ...string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ek := entityKey{listID: e.ListID, entityID: e.ID}
	snapshot, ok := ix.prior[ek]
	if !ok {
		return
	}

	for _, prop := range properties {
		for _, id := range snapshot[prop] {
			bk := bucketKey{listID: e.ListID, property: prop, lookupID: id}
			if bucket, ok := ix.buckets[bk]; ok {
				delete(bucket, e.ID)
				if len(bucket) == 0 {
					delete(ix.buckets, bk)
				}
			}
		}
		delete(snapshot, prop)
	}
	if len(snapshot) == 0 {
		delete(ix.prior, ek)
	}
}

// RemoveEntity prunes every snapshot entry for the entity. Wired as the
// cache's before-delete hook.
func (ix *Index) RemoveEntity(e *cache.Entity) {
	ix.mu.Lock()
	props := make([]string, 0)
	if snapshot, ok := ix.prior[entityKey{listID: e.ListID, entityID: e.ID}]; ok {
		for prop := range snapshot {
			props = append(props, prop)
		}
	}
	ix.mu.Unlock()
	if len(props) > 0 {
		ix.RemovePriorIndexEntries(e, props...)
	}
}

// QueryByLookup returns the entities currently referencing lookupID through
// property, ordered by entity id. Safe to call before any indexing has
// happened for the combination.
func (ix *Index) QueryByLookup(property, list string, lookupID int) []*cache.Entity {
	listID := metadata.NormalizeID(list)
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	bucket := ix.buckets[bucketKey{listID: listID, property: property, lookupID: lookupID}]
	out := make([]*cache.Entity, 0, len(bucket))
	for _, e := range bucket {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// QueryByLookupMap is QueryByLookup returning a map keyed by entity id.
func (ix *Index) QueryByLookupMap(property, list string, lookupID int) map[int]*cache.Entity {
	out := make(map[int]*cache.Entity)
	for _, e := range ix.QueryByLookup(property, list, lookupID) {
		out[e.ID] = e
	}
	return out
}

// lookupIDs normalizes a lookup property value into the referenced ids.
// nil and empty values yield no ids; a present value with id 0 is malformed.
func lookupIDs(property string, value any) ([]int, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return nil, apperror.NewMalformedLookup(property, v)
	case fieldtypes.Lookup:
		return singleID(property, v.LookupID, v)
	case *fieldtypes.Lookup:
		if v == nil {
			return nil, nil
		}
		return singleID(property, v.LookupID, v)
	case fieldtypes.User:
		return singleID(property, v.LookupID, v)
	case []fieldtypes.Lookup:
		ids := make([]int, 0, len(v))
		for _, l := range v {
			single, err := singleID(property, l.LookupID, l)
			if err != nil {
				return nil, err
			}
			ids = append(ids, single...)
		}
		return ids, nil
	case []fieldtypes.User:
		ids := make([]int, 0, len(v))
		for _, u := range v {
			single, err := singleID(property, u.LookupID, u)
			if err != nil {
				return nil, err
			}
			ids = append(ids, single...)
		}
		return ids, nil
	default:
		return nil, apperror.NewMalformedLookup(property, value)
	}
}

func singleID(property string, id int, value any) ([]int, error) {
	if id <= 0 {
		return nil, apperror.NewMalformedLookup(property, value)
	}
	return []int{id}, nil
}
