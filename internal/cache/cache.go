package cache

import (
	"context"
	"sync"

	"listsync/internal/core/apperror"
	"listsync/internal/metadata"
	"listsync/internal/record"
	"listsync/pkg/logger"
)

// Container is the cache's internal slot for one entity: the canonical
// instance plus bookkeeping. At most one container exists per
// (list, entity id) pair; it is created lazily on first reference and removed
// only when the server reports the entity deleted.
type Container struct {
	listID   string
	entityID int

	// entity is the live canonical instance, nil until first registration.
	entity *Entity

	// updateCount increments on every merge.
	updateCount int

	// waiters is the FIFO queue of callers blocked in GetEntity. A waiter
	// stays queued until a registration drains it; there is no removal on
	// caller cancellation (the abandoned buffered channel is drained and
	// discarded later).
	waiters []chan *Entity
}

// LifecycleHook is invoked by save/delete call sites with the affected
// entity.
type LifecycleHook func(*Entity)

// Cache is the canonical multi-list entity store.
type Cache struct {
	mu sync.Mutex

	registry *metadata.Registry
	log      *logger.Logger

	// lists maps normalized list id -> entity id -> container.
	lists map[string]map[int]*Container

	// factories maps normalized list id -> entity constructor.
	factories map[string]EntityFactory

	// queryIndexes tracks every secondary index registered for a list, so
	// deletion can prune all of them.
	queryIndexes map[string][]*Index

	beforeSave   []LifecycleHook
	beforeDelete []LifecycleHook
}

// New creates a cache backed by the given list registry.
func New(registry *metadata.Registry, log *logger.Logger) *Cache {
	if log == nil {
		log = logger.Default()
	}
	return &Cache{
		registry:     registry,
		log:          log.WithComponent("cache"),
		lists:        make(map[string]map[int]*Container),
		factories:    make(map[string]EntityFactory),
		queryIndexes: make(map[string][]*Index),
	}
}

// Registry returns the list registry the cache resolves names through.
func (c *Cache) Registry() *metadata.Registry {
	return c.registry
}

// RegisterList registers a list definition with the cache's registry.
func (c *Cache) RegisterList(def *metadata.ListDefinition) {
	if c.registry != nil {
		c.registry.Register(def)
	}
}

// resolveListID maps a list name or id to the canonical cache key. Lists
// known to the registry resolve through it; unknown lists fall back to plain
// normalization so lazily-referenced lists still get a stable key.
func (c *Cache) resolveListID(list string) string {
	if c.registry != nil {
		if id, err := c.registry.Resolve(list); err == nil {
			return id
		}
	}
	return metadata.NormalizeID(list)
}

// RegisterFactory installs a list-specific entity constructor consulted on
// first registration of each entity.
func (c *Cache) RegisterFactory(list string, f EntityFactory) {
	listID := c.resolveListID(list)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[listID] = f
}

// RegisterQueryIndex makes a query's target index known to the cache so
// DeleteEntity can prune it.
func (c *Cache) RegisterQueryIndex(list string, ix *Index) {
	listID := c.resolveListID(list)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, known := range c.queryIndexes[listID] {
		if known == ix {
			return
		}
	}
	c.queryIndexes[listID] = append(c.queryIndexes[listID], ix)
}

// OnBeforeSave registers a hook invoked by NotifyBeforeSave.
func (c *Cache) OnBeforeSave(h LifecycleHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beforeSave = append(c.beforeSave, h)
}

// OnBeforeDelete registers a hook invoked before an entity is deleted.
func (c *Cache) OnBeforeDelete(h LifecycleHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beforeDelete = append(c.beforeDelete, h)
}

// NotifyBeforeSave runs the registered before-save hooks. Save call sites
// invoke this before pushing changes to the server (reverse-index cleanup
// hangs off this hook).
func (c *Cache) NotifyBeforeSave(e *Entity) {
	c.mu.Lock()
	hooks := make([]LifecycleHook, len(c.beforeSave))
	copy(hooks, c.beforeSave)
	c.mu.Unlock()
	for _, h := range hooks {
		h(e)
	}
}

// getContainerLocked is the idempotent get-or-create. Caller holds c.mu.
func (c *Cache) getContainerLocked(listID string, entityID int) *Container {
	byID, ok := c.lists[listID]
	if !ok {
		byID = make(map[int]*Container)
		c.lists[listID] = byID
	}
	ctr, ok := byID[entityID]
	if !ok {
		ctr = &Container{listID: listID, entityID: entityID}
		byID[entityID] = ctr
	}
	return ctr
}

// UpdateCount returns the number of merges applied to an entity, 0 when it
// was never registered.
func (c *Cache) UpdateCount(list string, entityID int) int {
	listID := c.resolveListID(list)
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.lists[listID][entityID]; ok {
		return ctr.updateCount
	}
	return 0
}

// GetCachedEntity returns the canonical entity or nil, without waiting.
// A miss is not an error; it is how callers distinguish "not arrived" from
// the blocking GetEntity path.
func (c *Cache) GetCachedEntity(list string, entityID int) *Entity {
	listID := c.resolveListID(list)
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.lists[listID][entityID]; ok {
		return ctr.entity
	}
	return nil
}

// GetCachedEntities returns all populated entities of a list keyed by id.
func (c *Cache) GetCachedEntities(list string) map[int]*Entity {
	listID := c.resolveListID(list)
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]*Entity)
	for id, ctr := range c.lists[listID] {
		if ctr.entity != nil {
			out[id] = ctr.entity
		}
	}
	return out
}

// GetEntity returns the canonical entity, waiting until it arrives if it has
// not been registered yet.
//
// There is no timeout: the call models "this entity is expected to arrive".
// Callers needing a bound pass a context with one; cancellation unblocks the
// caller but the queued waiter slot itself stays queued until the next
// registration drains it.
func (c *Cache) GetEntity(ctx context.Context, list string, entityID int) (*Entity, error) {
	listID := c.resolveListID(list)

	c.mu.Lock()
	ctr := c.getContainerLocked(listID, entityID)
	if ctr.entity != nil {
		e := ctr.entity
		c.mu.Unlock()
		return e, nil
	}
	ch := make(chan *Entity, 1)
	ctr.waiters = append(ctr.waiters, ch)
	c.mu.Unlock()

	select {
	case e := <-ch:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RegisterEntity adopts or merges a parsed record into the canonical store
// and returns the canonical entity.
//
// First registration adopts the record (through the list's factory when one
// is installed). Subsequent registrations merge field values onto the
// existing instance without replacing the reference, so every holder
// observes the update. The update counter increments on every call. If a
// secondary index is supplied and does not yet contain the id, the canonical
// reference is inserted. Pending waiters are drained in FIFO order.
//
// A record with no persisted id is a caller error: unpersisted entities are
// not cacheable.
func (c *Cache) RegisterEntity(list string, rec record.Record, secondary *Index) (*Entity, error) {
	listID := c.resolveListID(list)
	entityID := rec.ID()
	if entityID == 0 {
		return nil, apperror.NewMissingID(listID)
	}

	c.mu.Lock()
	ctr := c.getContainerLocked(listID, entityID)

	if ctr.entity == nil {
		factory := c.factories[listID]
		if factory == nil {
			factory = genericFactory
		}
		ctr.entity = factory(listID, rec)
		if ctr.entity.Fields == nil {
			ctr.entity.Fields = make(map[string]any)
		}
		ctr.entity.ListID = listID
		ctr.entity.ID = entityID
	} else {
		for k, v := range rec {
			ctr.entity.Fields[k] = v
		}
	}
	ctr.updateCount++

	entity := ctr.entity
	waiters := ctr.waiters
	ctr.waiters = nil
	c.mu.Unlock()

	if secondary != nil && !secondary.Has(entityID) {
		secondary.Set(entity)
	}

	// FIFO relative to this container only; waiters are buffered so drains
	// never block on an abandoned caller.
	for _, ch := range waiters {
		ch <- entity
	}

	return entity, nil
}

// RemoveEntityByID deletes the entity's container from the canonical map.
// The removal is visible immediately to subsequent cached reads; references
// already handed out keep their final snapshot.
func (c *Cache) RemoveEntityByID(list string, entityID int) {
	listID := c.resolveListID(list)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lists[listID], entityID)
}

// DeleteEntity removes an entity everywhere: before-delete hooks run first,
// then every registered query index for the list is pruned, then the
// canonical container is dropped.
func (c *Cache) DeleteEntity(list string, entityID int) {
	listID := c.resolveListID(list)

	c.mu.Lock()
	var entity *Entity
	if ctr, ok := c.lists[listID][entityID]; ok {
		entity = ctr.entity
	}
	hooks := make([]LifecycleHook, len(c.beforeDelete))
	copy(hooks, c.beforeDelete)
	indexes := make([]*Index, len(c.queryIndexes[listID]))
	copy(indexes, c.queryIndexes[listID])
	c.mu.Unlock()

	if entity != nil {
		for _, h := range hooks {
			h(entity)
		}
	}
	for _, ix := range indexes {
		ix.Delete(entityID)
	}

	c.mu.Lock()
	delete(c.lists[listID], entityID)
	c.mu.Unlock()

	c.log.Debugw("entity deleted", "list_id", listID, "entity_id", entityID)
}
