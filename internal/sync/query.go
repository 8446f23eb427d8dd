// Package sync drives change-token incremental synchronization of list
// queries against the remote service.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/beevik/etree"

	"listsync/internal/cache"
	"listsync/internal/lookupindex"
	"listsync/internal/metadata"
	"listsync/internal/permission"
	"listsync/internal/record"
)

// State is the per-(list, query) metadata lifecycle.
type State int

const (
	// StateUninitialized: no change response processed yet.
	StateUninitialized State = iota

	// StateMetadataPending: a response arrived but the full list schema has
	// not been confirmed extracted (marker attribute absent, e.g. loaded
	// from a cold or partial cache). A later fetch retries extraction.
	StateMetadataPending

	// StateSynced: schema extracted, steady-state incremental sync.
	StateSynced
)

func (s State) String() string {
	switch s {
	case StateMetadataPending:
		return "MetadataPending"
	case StateSynced:
		return "Synced"
	default:
		return "Uninitialized"
	}
}

// Query is one incremental query against a list. ChangeToken and Permissions
// follow last-known-good: only a successful cycle moves them, a failed cycle
// leaves them untouched.
type Query struct {
	mu sync.Mutex

	// Operation names the remote operation executed for this query.
	Operation string

	// List is the target list definition.
	List *metadata.ListDefinition

	// Target is the id-to-entity index this query populates.
	Target *cache.Index

	// ParseOptions control per-record parsing.
	ParseOptions record.ParseOptions

	// Lookups, when non-nil, is maintained across cycles: every applied
	// record is re-indexed under the list's lookup-typed properties (prior
	// entries pruned first) and every deletion is removed from its buckets.
	Lookups *lookupindex.Index

	// LookupProperties overrides which properties Lookups tracks. Empty
	// means every lookup-typed field of the list.
	LookupProperties []string

	changeToken string
	permissions *permission.Set
	lastRun     time.Time
	state       State

	// inflight shares the result of an in-progress run between overlapping
	// callers so a query never issues duplicate remote calls.
	inflight *inflightRun
}

// inflightRun is the promise shared by overlapping Run calls.
type inflightRun struct {
	done    chan struct{}
	summary Summary
	err     error
}

// NewQuery creates a query for the given list with a fresh target index.
func NewQuery(operation string, list *metadata.ListDefinition) *Query {
	return &Query{
		Operation: operation,
		List:      list,
		Target:    cache.NewIndex(),
	}
}

// ChangeToken returns the last-known-good opaque change token, empty until
// the first successful cycle.
func (q *Query) ChangeToken() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.changeToken
}

// Permissions returns the last decoded effective permission set, or nil.
func (q *Query) Permissions() *permission.Set {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.permissions
}

// LastRun returns the completion time of the last successful cycle.
func (q *Query) LastRun() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastRun
}

// State returns the metadata lifecycle state.
func (q *Query) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Summary reports what one change cycle applied.
type Summary struct {
	Token     string
	Applied   int
	Deleted   int
	Malformed int
	State     State
}

// OperationExecutor executes a named remote operation and resolves with the
// parsed response document. The wire payload it builds is outside this
// layer.
type OperationExecutor interface {
	ExecuteOperation(ctx context.Context, q *Query) (*etree.Document, error)
}

// LocateRecordNodes extracts the repeated per-item nodes from a response
// document: every element named "row" carrying attributes, regardless of
// namespace prefix.
func LocateRecordNodes(doc *etree.Document) []*etree.Element {
	if doc == nil || doc.Root() == nil {
		return nil
	}
	return findAll(doc.Root(), "row")
}

// findAll walks the tree collecting elements with the given local tag.
func findAll(el *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	if el.Tag == tag {
		out = append(out, el)
	}
	for _, child := range el.ChildElements() {
		out = append(out, findAll(child, tag)...)
	}
	return out
}
