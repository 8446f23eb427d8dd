// Package query filters cached entities with CEL expressions.
//
// Expressions see three variables: `fields` (the entity's decoded field
// map), `id` and `listId`. Lookup and user values appear as maps with
// `lookupId`/`lookupValue` keys so expressions can reach into them, e.g.
//
//	fields.project.lookupId == 5 && fields.active
package query

import (
	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"

	"listsync/internal/cache"
	"listsync/internal/core/apperror"
	"listsync/internal/fieldtypes"
)

// Filter is a compiled entity predicate. Compile once, evaluate many times.
type Filter struct {
	expr string
	prg  cel.Program
}

// NewFilter compiles expr into a reusable filter.
func NewFilter(expr string) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("fields", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("id", cel.IntType),
		cel.Variable("listId", cel.StringType),
	)
	if err != nil {
		return nil, apperror.NewFilter(expr, err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, apperror.NewFilter(expr, iss.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, apperror.NewFilter(expr, err)
	}
	return &Filter{expr: expr, prg: prg}, nil
}

// Match evaluates the filter against one entity.
func (f *Filter) Match(e *cache.Entity) (bool, error) {
	out, _, err := f.prg.Eval(map[string]any{
		"fields": celFields(e.Fields),
		"id":     e.ID,
		"listId": e.ListID,
	})
	if err != nil {
		return false, apperror.NewFilter(f.expr, err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, apperror.NewFilter(f.expr, nil).
			WithDetail("reason", "expression does not evaluate to a boolean")
	}
	return matched, nil
}

// FilterCached evaluates expr against every cached entity of a list and
// returns the matches ordered by id.
func FilterCached(c *cache.Cache, list, expr string) ([]*cache.Entity, error) {
	f, err := NewFilter(expr)
	if err != nil {
		return nil, err
	}
	ix := cache.NewIndex()
	for _, e := range c.GetCachedEntities(list) {
		matched, err := f.Match(e)
		if err != nil {
			return nil, err
		}
		if matched {
			ix.Set(e)
		}
	}
	return ix.Entities(), nil
}

// celFields converts decoded field values into CEL-traversable shapes.
func celFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = celValue(v)
	}
	return out
}

func celValue(v any) any {
	switch t := v.(type) {
	case fieldtypes.Lookup:
		return map[string]any{"lookupId": t.LookupID, "lookupValue": t.LookupValue}
	case []fieldtypes.Lookup:
		out := make([]any, len(t))
		for i, l := range t {
			out[i] = celValue(l)
		}
		return out
	case fieldtypes.User:
		return map[string]any{
			"lookupId":    t.LookupID,
			"lookupValue": t.LookupValue,
			"loginName":   t.LoginName,
			"email":       t.Email,
		}
	case []fieldtypes.User:
		out := make([]any, len(t))
		for i, u := range t {
			out[i] = celValue(u)
		}
		return out
	case decimal.Decimal:
		f, _ := t.Float64()
		return f
	default:
		return v
	}
}
