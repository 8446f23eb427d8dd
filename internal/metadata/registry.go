// Package metadata holds list and field definitions and the list registry.
//
// A list is addressable by two keys: its human-readable title and its
// normalized identifier. Both resolve to the same definition instance, so
// mutations (permission updates, metadata extension) are visible regardless
// of which key a caller used.
package metadata

import (
	"strings"
	"sync"

	"listsync/internal/core/apperror"
	"listsync/internal/fieldtypes"
	"listsync/internal/permission"
)

// FieldDefinition describes one column of a list.
type FieldDefinition struct {
	// InternalName is the raw attribute name on the wire (without prefix).
	InternalName string `json:"internalName"`

	// MappedName is the key the decoded value is stored under.
	MappedName string `json:"mappedName"`

	// ObjectType selects the decoder for raw values.
	ObjectType fieldtypes.FieldType `json:"objectType"`

	ReadOnly    bool   `json:"readOnly,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Description string `json:"description,omitempty"`

	// Choices and Default are populated once, the first time list metadata
	// is extended from a server response.
	Choices []string `json:"choices,omitempty"`
	Default string   `json:"default,omitempty"`
}

// MappedField is the per-attribute view of a field definition consumed by
// the record parser.
type MappedField struct {
	MappedName string
	ObjectType fieldtypes.FieldType
	ReadOnly   bool
}

// Mapping maps raw internal attribute names to their decode targets.
type Mapping map[string]MappedField

// ListDefinition describes one remote list.
type ListDefinition struct {
	mu sync.Mutex

	// Title is the human-readable list name.
	Title string `json:"title"`

	// ID is the normalized stable identifier. Canonical for cache and index
	// keys; never mutated after registration.
	ID string `json:"id"`

	// SourceName is the server-reported list identifier from the first
	// change response, normalized. Informational; the configured ID stays
	// canonical even when the two differ.
	SourceName string `json:"sourceName,omitempty"`

	WebURL string `json:"webURL,omitempty"`

	Fields []*FieldDefinition `json:"fields"`

	// permissions is the caller's last-known effective permission set.
	permissions *permission.Set

	// metadataExtended guards the one-shot schema extension. Later change
	// responses do not repeat the full schema, and re-applying it would be
	// wasted work for values that are stable within a session.
	metadataExtended bool
}

// NewList creates a list definition with a normalized identifier.
func NewList(title, id string, fields []*FieldDefinition) *ListDefinition {
	return &ListDefinition{
		Title:  title,
		ID:     NormalizeID(id),
		Fields: fields,
	}
}

// NormalizeID lowercases a list identifier and strips brace wrapping so the
// same list always hashes to the same key.
func NormalizeID(id string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(id), "{}"))
}

// Mapping builds the attribute mapping for the record parser.
func (l *ListDefinition) Mapping() Mapping {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := make(Mapping, len(l.Fields))
	for _, f := range l.Fields {
		m[f.InternalName] = MappedField{
			MappedName: f.MappedName,
			ObjectType: f.ObjectType,
			ReadOnly:   f.ReadOnly,
		}
	}
	return m
}

// Field returns the definition with the given mapped name, or nil.
func (l *ListDefinition) Field(mappedName string) *FieldDefinition {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range l.Fields {
		if f.MappedName == mappedName {
			return f
		}
	}
	return nil
}

// LookupProperties returns the mapped names of every lookup-typed field
// (single and multi lookups and users). These are the properties a reverse
// lookup index tracks for the list.
func (l *ListDefinition) LookupProperties() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, f := range l.Fields {
		switch f.ObjectType {
		case fieldtypes.TypeLookup, fieldtypes.TypeLookupMulti,
			fieldtypes.TypeUser, fieldtypes.TypeUserMulti:
			out = append(out, f.MappedName)
		}
	}
	return out
}

// Permissions returns the last-known effective permission set, or nil if no
// sync cycle has reported one yet.
func (l *ListDefinition) Permissions() *permission.Set {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.permissions
}

// SetPermissions stores a newly decoded permission set. A failed cycle never
// calls this, so the previous set survives as last-known-good.
func (l *ListDefinition) SetPermissions(s permission.Set) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.permissions = &s
}

// MetadataExtended reports whether the one-shot schema extension completed.
func (l *ListDefinition) MetadataExtended() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.metadataExtended
}

// Registry maps list titles and normalized identifiers to definitions.
// Entries are added once per registration and never removed during the
// process lifetime.
type Registry struct {
	mu    sync.RWMutex
	lists map[string]*ListDefinition
}

// NewRegistry creates an empty list registry.
func NewRegistry() *Registry {
	return &Registry{lists: make(map[string]*ListDefinition)}
}

// Register stores a list definition under both its title and its normalized
// identifier. Both keys resolve to the identical definition reference.
func (r *Registry) Register(def *ListDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def.ID = NormalizeID(def.ID)
	r.lists[def.Title] = def
	r.lists[def.ID] = def
}

// Get resolves a list by title or identifier.
func (r *Registry) Get(nameOrID string) (*ListDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.lists[nameOrID]; ok {
		return def, true
	}
	def, ok := r.lists[NormalizeID(nameOrID)]
	return def, ok
}

// Resolve returns the normalized identifier for a list name or id, or an
// error when the list was never registered.
func (r *Registry) Resolve(nameOrID string) (string, error) {
	if def, ok := r.Get(nameOrID); ok {
		return def.ID, nil
	}
	return "", apperror.NewListNotRegistered(nameOrID)
}

// List returns all registered definitions (deduplicated).
func (r *Registry) List() []*ListDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[*ListDefinition]bool, len(r.lists))
	out := make([]*ListDefinition, 0, len(r.lists))
	for _, def := range r.lists {
		if !seen[def] {
			seen[def] = true
			out = append(out, def)
		}
	}
	return out
}
