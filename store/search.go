package store

import (
	"fmt"

	"github.com/stevemurr/memdoc/mquery"
	"github.com/stevemurr/memdoc/query"
)

// Query runs q against the live snapshots of a collection.
//
// With $aggregate the pipeline output is returned as extra and the snapshot
// list is empty. With $count the number of matches is returned as extra.
// Otherwise the matching snapshots are returned in evaluator order.
// fields and options are accepted for interface compatibility.
func (s *Store) Query(collection string, q map[string]any, fields []string, options map[string]any) ([]Snapshot, any, error) {
	c, err := cloneValue(q)
	if err != nil {
		return nil, nil, fmt.Errorf("query %s: %w", collection, err)
	}
	q, _ = c.(map[string]any)
	cq := query.Normalize(q)

	s.mu.RLock()
	snaps, err := s.backend.Snapshots(collection)
	s.mu.RUnlock()
	if err != nil {
		return nil, nil, err
	}

	docs := make([]any, len(snaps))
	for i, snap := range snaps {
		docs[i] = snap.Data
	}

	if raw, ok := cq.Meta[query.Aggregate]; ok {
		pipeline, ok := raw.([]any)
		if !ok {
			err := &mquery.OperatorError{Op: query.Aggregate, Msg: fmt.Sprintf("expects a pipeline array, got %T", raw)}
			return nil, nil, fmt.Errorf("query %s: %w", collection, err)
		}
		out, err := s.eval.Aggregate(pipeline, docs)
		if err != nil {
			return nil, nil, fmt.Errorf("query %s: %w", collection, err)
		}
		return []Snapshot{}, out, nil
	}

	matches, err := s.eval.Find(cq.Query, docs, findOptions(cq))
	if err != nil {
		return nil, nil, fmt.Errorf("query %s: %w", collection, err)
	}
	if _, ok := cq.Meta[query.Count]; ok {
		return []Snapshot{}, len(matches), nil
	}
	result := make([]Snapshot, 0, len(matches))
	for _, i := range matches {
		result = append(result, snaps[i])
	}
	return result, nil, nil
}

func findOptions(cq query.Canonical) mquery.FindOptions {
	opts := mquery.FindOptions{Meta: map[string]any{}}
	if v, ok := mquery.ToInt(cq.FindOptions["limit"]); ok {
		opts.Limit = v
	}
	if v, ok := mquery.ToInt(cq.FindOptions["skip"]); ok {
		opts.Skip = v
	}
	for k, v := range cq.Meta {
		switch k {
		case query.OrderBy:
			opts.Sort = v
		case query.Count, query.Aggregate:
		default:
			opts.Meta[k] = v
		}
	}
	return opts
}
