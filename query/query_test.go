package query_test

import (
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/stevemurr/memdoc/query"
)

func TestNormalizeFlat(t *testing.T) {
	got := query.Normalize(map[string]any{"foo": 1, "$limit": 5, "$count": true}).Map()
	want := map[string]any{
		"$query":       map[string]any{"foo": 1},
		"$findOptions": map[string]any{"limit": 5},
		"$count":       true,
	}
	assert.Equal(t, got, want)
}

func TestNormalizeFlatNoCursor(t *testing.T) {
	c := query.Normalize(map[string]any{"name": "x", "$orderby": map[string]any{"name": 1}})
	assert.Equal(t, c.Query, map[string]any{"name": "x"})
	if c.FindOptions != nil {
		t.Fatalf("expected no find options, got %v", c.FindOptions)
	}
	assert.Equal(t, c.Meta, map[string]any{"$orderby": map[string]any{"name": 1}})
	if _, ok := c.Map()["$findOptions"]; ok {
		t.Fatal("$findOptions should be omitted")
	}
}

func TestNormalizeAllMetaOperators(t *testing.T) {
	keys := []string{
		query.Comment, query.Explain, query.Hint, query.MaxScan, query.Max, query.Min,
		query.OrderBy, query.ReturnKey, query.ShowDiskLoc, query.Snapshot, query.Count, query.Aggregate,
	}
	raw := map[string]any{"a": 1, "$skip": 2}
	for i, k := range keys {
		if !query.IsMetaOperator(k) {
			t.Errorf("%s should be a meta operator", k)
		}
		raw[k] = i
	}
	c := query.Normalize(raw)
	assert.Equal(t, c.Query, map[string]any{"a": 1})
	assert.Equal(t, c.FindOptions, map[string]any{"skip": 2})
	assert.Equal(t, len(c.Meta), len(keys))
	for i, k := range keys {
		assert.Equal(t, c.Meta[k], i)
	}
}

func TestNormalizeUnknownDollarKey(t *testing.T) {
	// Unrecognized keys, operator-looking or not, stay in the selector.
	c := query.Normalize(map[string]any{"$where": "x", "$and": []any{}})
	assert.Equal(t, c.Query, map[string]any{"$where": "x", "$and": []any{}})
	assert.Equal(t, len(c.Meta), 0)
	assert.Equal(t, query.IsMetaOperator("$where"), false)
	assert.Equal(t, query.IsMetaOperator("$limit"), false)
}

func TestNormalizeCanonical(t *testing.T) {
	sel := map[string]any{"tags": []any{"a"}, "nested": map[string]any{"k": "v"}}
	raw := map[string]any{
		"$query":       sel,
		"$findOptions": map[string]any{"limit": 3},
		"$orderby":     map[string]any{"n": -1},
		"extra":        true,
	}
	c := query.Normalize(raw)
	assert.Equal(t, c.Query, sel)
	assert.Equal(t, c.FindOptions, map[string]any{"limit": 3})
	assert.Equal(t, c.Meta, map[string]any{"$orderby": map[string]any{"n": -1}, "extra": true})

	// The selector is copied, not aliased.
	c.Query["added"] = 1
	c.Query["nested"].(map[string]any)["k"] = "changed"
	c.Query["tags"].([]any)[0] = "changed"
	assert.Equal(t, sel, map[string]any{"tags": []any{"a"}, "nested": map[string]any{"k": "v"}})
}

func TestNormalizeCanonicalBadSelector(t *testing.T) {
	c := query.Normalize(map[string]any{"$query": "not an object"})
	assert.Equal(t, c.Query, map[string]any{})
}

func TestParseVariant(t *testing.T) {
	if _, ok := query.Parse(map[string]any{"$query": map[string]any{}}).(query.Canonical); !ok {
		t.Fatal("expected Canonical")
	}
	if _, ok := query.Parse(map[string]any{"a": 1}).(query.Flat); !ok {
		t.Fatal("expected Flat")
	}
}

func TestNormalizeEmpty(t *testing.T) {
	c := query.Normalize(nil)
	assert.Equal(t, c.Query, map[string]any{})
	assert.Equal(t, c.Map(), map[string]any{"$query": map[string]any{}})
}
