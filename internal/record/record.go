// Package record converts raw XML record nodes into keyed records.
package record

import (
	"context"

	"github.com/beevik/etree"

	"listsync/internal/fieldtypes"
	"listsync/internal/metadata"
	"listsync/pkg/logger"
)

// IDKey is the mapped name the entity id is stored under. The id field must
// be part of every list's mapping for records to be cacheable.
const IDKey = "id"

// DefaultAttributePrefix is prepended to internal field names on the wire.
const DefaultAttributePrefix = "ows_"

// Record is a plain keyed record: mapped field name to decoded value. It is
// not yet a canonical entity.
type Record map[string]any

// ID returns the persisted entity id, or 0 when the record is unpersisted.
func (r Record) ID() int {
	switch v := r[IDKey].(type) {
	case int:
		return v
	default:
		return 0
	}
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ParseOptions control record parsing.
type ParseOptions struct {
	// IncludeAllAttrs keeps attributes with no mapping entry under their raw
	// name (prefix stripped), passed through undecoded.
	IncludeAllAttrs bool

	// AttributePrefix is stripped from raw attribute names before the
	// mapping lookup. Defaults to DefaultAttributePrefix when empty.
	AttributePrefix string
}

// ParseRecord decodes one record node against a field mapping.
//
// Every mapped field is pre-populated with its type's empty representation,
// so columns the node omits still appear with the correct shape. A field
// whose raw value fails to decode is logged and stored as nil; sibling
// fields are unaffected.
func ParseRecord(ctx context.Context, node *etree.Element, mapping metadata.Mapping, opts ParseOptions) Record {
	prefix := opts.AttributePrefix
	if prefix == "" {
		prefix = DefaultAttributePrefix
	}

	rec := make(Record, len(mapping))
	for _, mf := range mapping {
		rec[mf.MappedName] = fieldtypes.DefaultValue(mf.ObjectType)
	}
	if node == nil {
		return rec
	}

	for _, attr := range node.Attr {
		name := attr.Key
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			name = name[len(prefix):]
		}

		mf, mapped := mapping[name]
		if !mapped {
			if opts.IncludeAllAttrs {
				rec[name] = attr.Value
			}
			continue
		}

		value, err := fieldtypes.Decode(attr.Value, mf.ObjectType)
		if err != nil {
			logger.Warn(ctx, "field decode failed",
				"field", mf.MappedName,
				"object_type", string(mf.ObjectType),
				"error", err)
			rec[mf.MappedName] = nil
			continue
		}
		rec[mf.MappedName] = value
	}
	return rec
}
