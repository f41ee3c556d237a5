// Package query rewrites query documents into the canonical shape the store
// executes: a plain selector under $query, cursor options under
// $findOptions, and meta-operators at the top level.
package query

import "maps"

const (
	QueryKey       = "$query"
	FindOptionsKey = "$findOptions"

	Comment     = "$comment"
	Explain     = "$explain"
	Hint        = "$hint"
	MaxScan     = "$maxScan"
	Max         = "$max"
	Min         = "$min"
	OrderBy     = "$orderby"
	ReturnKey   = "$returnKey"
	ShowDiskLoc = "$showDiskLoc"
	Snapshot    = "$snapshot"
	Count       = "$count"
	Aggregate   = "$aggregate"
)

var metaOperators = map[string]bool{
	Comment:     true,
	Explain:     true,
	Hint:        true,
	MaxScan:     true,
	Max:         true,
	Min:         true,
	OrderBy:     true,
	ReturnKey:   true,
	ShowDiskLoc: true,
	Snapshot:    true,
	Count:       true,
	Aggregate:   true,
}

// cursorOperators maps top-level cursor keys to their $findOptions field.
var cursorOperators = map[string]string{
	"$limit": "limit",
	"$skip":  "skip",
}

// IsMetaOperator reports whether key is copied verbatim to the top level.
func IsMetaOperator(key string) bool {
	return metaOperators[key]
}

// Expr is a parsed query document: either Canonical or Flat.
type Expr interface {
	Canonical() Canonical
}

// Canonical is a query already split into its parts.
type Canonical struct {
	Query       map[string]any
	FindOptions map[string]any
	// Meta holds every other top-level key: meta-operators, and for
	// pre-canonical input anything else the caller put there.
	Meta map[string]any
}

// Flat is a selector with meta and cursor operators mixed into it.
type Flat map[string]any

// Parse picks the variant by the presence of $query.
func Parse(raw map[string]any) Expr {
	if _, ok := raw[QueryKey]; ok {
		return parseCanonical(raw)
	}
	return Flat(raw)
}

// Normalize parses raw and returns its canonical form. It never fails:
// keys it does not recognize become selector fields.
func Normalize(raw map[string]any) Canonical {
	return Parse(raw).Canonical()
}

func parseCanonical(raw map[string]any) Canonical {
	c := Canonical{Meta: map[string]any{}}
	for k, v := range raw {
		switch k {
		case QueryKey:
			sel, _ := v.(map[string]any)
			c.Query = cloneMap(sel)
		case FindOptionsKey:
			if opts, ok := v.(map[string]any); ok {
				c.FindOptions = maps.Clone(opts)
			}
		default:
			c.Meta[k] = v
		}
	}
	if c.Query == nil {
		c.Query = map[string]any{}
	}
	return c
}

func (c Canonical) Canonical() Canonical {
	return c
}

func (f Flat) Canonical() Canonical {
	c := Canonical{Query: map[string]any{}, Meta: map[string]any{}}
	for k, v := range f {
		if metaOperators[k] {
			c.Meta[k] = v
			continue
		}
		if field, ok := cursorOperators[k]; ok {
			if c.FindOptions == nil {
				c.FindOptions = map[string]any{}
			}
			c.FindOptions[field] = v
			continue
		}
		c.Query[k] = v
	}
	return c
}

// Map renders the canonical form as a query document.
func (c Canonical) Map() map[string]any {
	out := make(map[string]any, len(c.Meta)+2)
	for k, v := range c.Meta {
		out[k] = v
	}
	out[QueryKey] = c.Query
	if c.FindOptions != nil {
		out[FindOptionsKey] = c.FindOptions
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}
