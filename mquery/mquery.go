// Package mquery evaluates a MongoDB-style filter language and aggregation
// pipeline over in-memory documents (map[string]any trees as produced by
// encoding/json or msgpack).
//
// Filters are run by lungo's mongokit, so the supported operators are the
// ones it implements ($eq $ne $gt $gte $lt $lte $in $nin $exists $type
// $size $all $elemMatch $regex $not and the logical $and $or $nor). Paths
// use dot notation and traverse arrays. Sorting uses the BSON order.
//
// Supported pipeline stages: $match $project $addFields $set $unset $sort
// $skip $limit $count $group $unwind.
package mquery

import (
	"fmt"
	"sort"

	"github.com/256dpi/lungo/bsonkit"
)

// OperatorError reports an operator or stage the evaluator cannot apply.
type OperatorError struct {
	Op  string
	Msg string
}

func (e *OperatorError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func opErrf(op, format string, args ...any) error {
	return &OperatorError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// FindOptions carries cursor options for Find.
type FindOptions struct {
	Limit int // 0 means no limit
	Skip  int
	// Sort is {field: 1|-1, ...} or [{field: 1|-1}, ...]. Keys of a single
	// object are applied in lexical order since maps are unordered.
	Sort any
	// Meta holds forwarded meta-operators this evaluator does not act on.
	Meta map[string]any
}

// Evaluator is the default filter and pipeline engine. The zero value is
// ready to use.
type Evaluator struct{}

// Match reports whether doc satisfies selector.
func Match(selector map[string]any, doc any) (bool, error) {
	q, err := compileSelector("$query", selector)
	if err != nil {
		return false, err
	}
	d, err := toDoc(doc)
	if err != nil {
		return false, err
	}
	return matchDoc("$query", q, d)
}

// Find returns the indexes of docs matching selector after sorting,
// skipping and limiting.
func (Evaluator) Find(selector map[string]any, docs []any, opts FindOptions) ([]int, error) {
	q, err := compileSelector("$query", selector)
	if err != nil {
		return nil, err
	}
	converted := make([]bsonkit.Doc, len(docs))
	idx := []int{}
	for i, d := range docs {
		if converted[i], err = toDoc(d); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		ok, err := matchDoc("$query", q, converted[i])
		if err != nil {
			return nil, err
		}
		if ok {
			idx = append(idx, i)
		}
	}

	if opts.Sort != nil {
		keys, err := parseSort("$orderby", opts.Sort)
		if err != nil {
			return nil, err
		}
		sortDocs(keys, converted, idx)
	}

	if opts.Skip > 0 {
		if opts.Skip >= len(idx) {
			return []int{}, nil
		}
		idx = idx[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < len(idx) {
		idx = idx[:opts.Limit]
	}
	return idx, nil
}

// Aggregate runs pipeline over docs. Input documents are never modified.
func (Evaluator) Aggregate(pipeline []any, docs []any) ([]map[string]any, error) {
	cur := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		cur = append(cur, asDoc(d))
	}
	for i, raw := range pipeline {
		stage, ok := raw.(map[string]any)
		if !ok || len(stage) != 1 {
			return nil, opErrf("$aggregate", "stage %d must be an object with one key", i)
		}
		for name, arg := range stage {
			var err error
			cur, err = runStage(name, arg, cur)
			if err != nil {
				return nil, err
			}
		}
	}
	return cur, nil
}

type sortKey struct {
	path string
	desc bool
}

func parseSort(op string, v any) ([]sortKey, error) {
	var specs []map[string]any
	switch x := v.(type) {
	case map[string]any:
		specs = append(specs, x)
	case []any:
		for _, e := range x {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, opErrf(op, "sort entries must be objects, got %T", e)
			}
			specs = append(specs, m)
		}
	default:
		return nil, opErrf(op, "expects an object, got %T", v)
	}
	var keys []sortKey
	for _, spec := range specs {
		for _, k := range sortedKeys(spec) {
			dir, ok := ToInt(spec[k])
			if !ok || (dir != 1 && dir != -1) {
				return nil, opErrf(op, "direction for %q must be 1 or -1", k)
			}
			keys = append(keys, sortKey{path: k, desc: dir < 0})
		}
	}
	return keys, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
