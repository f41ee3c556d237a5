package mquery_test

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/stevemurr/memdoc/mquery"
)

func people() []any {
	return []any{
		map[string]any{"name": "ada", "age": 36, "tags": []any{"math", "code"}, "addr": map[string]any{"city": "London"}},
		map[string]any{"name": "bob", "age": 25.0, "tags": []any{"code"}, "addr": map[string]any{"city": "Paris"}},
		map[string]any{"name": "cy", "age": 41.5, "tags": []any{}, "score": nil},
		map[string]any{"name": "dee", "age": 25.0, "addr": map[string]any{"city": "London"}},
	}
}

func TestFindSelectors(t *testing.T) {
	cases := []struct {
		name string
		sel  map[string]any
		want []int
	}{
		{"empty", map[string]any{}, []int{0, 1, 2, 3}},
		{"eq string", map[string]any{"name": "bob"}, []int{1}},
		{"eq number across int and float", map[string]any{"age": 36.0}, []int{0}},
		{"eq float", map[string]any{"age": 25}, []int{1, 3}},
		{"gt", map[string]any{"age": map[string]any{"$gt": 30}}, []int{0, 2}},
		{"range", map[string]any{"age": map[string]any{"$gte": 25, "$lt": 40}}, []int{0, 1, 3}},
		{"ne", map[string]any{"age": map[string]any{"$ne": 25}}, []int{0, 2}},
		{"array contains", map[string]any{"tags": "code"}, []int{0, 1}},
		{"size", map[string]any{"tags": map[string]any{"$size": 0}}, []int{2}},
		{"all", map[string]any{"tags": map[string]any{"$all": []any{"math", "code"}}}, []int{0}},
		{"dotted path", map[string]any{"addr.city": "London"}, []int{0, 3}},
		{"in", map[string]any{"addr.city": map[string]any{"$in": []any{"Paris", "Rome"}}}, []int{1}},
		{"nin", map[string]any{"addr.city": map[string]any{"$nin": []any{"London"}}}, []int{1, 2}},
		{"exists false", map[string]any{"addr": map[string]any{"$exists": false}}, []int{2}},
		{"not", map[string]any{"age": map[string]any{"$not": map[string]any{"$gt": 30}}}, []int{1, 3}},
		{"exists true", map[string]any{"score": map[string]any{"$exists": true}}, []int{2}},
		{"null matches missing", map[string]any{"score": nil}, []int{0, 1, 2, 3}},
		{"or", map[string]any{"$or": []any{map[string]any{"name": "ada"}, map[string]any{"age": 25}}}, []int{0, 1, 3}},
		{"nor", map[string]any{"$nor": []any{map[string]any{"age": 25}}}, []int{0, 2}},
		{"and", map[string]any{"$and": []any{map[string]any{"tags": "code"}, map[string]any{"age": map[string]any{"$lt": 30}}}}, []int{1}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := mquery.Evaluator{}.Find(c.sel, people(), mquery.FindOptions{})
			if err != nil {
				t.Fatal(err)
			}
			assert.Equal(t, got, c.want)
		})
	}
}

func TestFindErrors(t *testing.T) {
	bad := []map[string]any{
		{"$bogus": 1},
		{"age": map[string]any{"$foo": 1}},
		{"$or": "x"},
		{"age": map[string]any{"$in": 3}},
	}
	for _, sel := range bad {
		_, err := mquery.Evaluator{}.Find(sel, people(), mquery.FindOptions{})
		var operr *mquery.OperatorError
		if !errors.As(err, &operr) {
			t.Errorf("%v: expected *OperatorError, got %v", sel, err)
		}
	}
}

func TestFindSortSkipLimit(t *testing.T) {
	e := mquery.Evaluator{}

	got, err := e.Find(map[string]any{}, people(), mquery.FindOptions{Sort: map[string]any{"age": -1}})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, got, []int{2, 0, 1, 3})

	got, _ = e.Find(map[string]any{}, people(), mquery.FindOptions{Sort: map[string]any{"age": -1}, Skip: 1, Limit: 2})
	assert.Equal(t, got, []int{0, 1})

	got, _ = e.Find(map[string]any{}, people(), mquery.FindOptions{Sort: []any{map[string]any{"age": 1}, map[string]any{"name": -1}}})
	assert.Equal(t, got, []int{3, 1, 0, 2})

	got, _ = e.Find(map[string]any{}, people(), mquery.FindOptions{Skip: 10})
	assert.Equal(t, got, []int{})

	got, _ = e.Find(map[string]any{"age": 25}, people(), mquery.FindOptions{Limit: 1})
	assert.Equal(t, got, []int{1})

	_, err = e.Find(map[string]any{}, people(), mquery.FindOptions{Sort: map[string]any{"age": 2}})
	if err == nil {
		t.Fatal("expected error for bad sort direction")
	}
}

func TestFindMixedNumericTypes(t *testing.T) {
	docs := []any{
		map[string]any{"n": int64(3)},
		map[string]any{"n": 2.5},
		map[string]any{"n": 1},
		map[string]any{"n": uint8(3)},
	}
	e := mquery.Evaluator{}

	got, err := e.Find(map[string]any{"n": 3.0}, docs, mquery.FindOptions{})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, got, []int{0, 3})

	got, err = e.Find(map[string]any{}, docs, mquery.FindOptions{Sort: map[string]any{"n": 1}})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, got, []int{2, 1, 0, 3})

	ok, err := mquery.Match(map[string]any{"n": map[string]any{"$gte": int64(2), "$lt": 3}}, docs[1])
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, ok, true)
}

func aggregate(t *testing.T, pipeline ...any) []map[string]any {
	t.Helper()
	out, err := mquery.Evaluator{}.Aggregate(pipeline, people())
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestAggregateGroup(t *testing.T) {
	out := aggregate(t,
		map[string]any{"$match": map[string]any{"addr": map[string]any{"$exists": true}}},
		map[string]any{"$group": map[string]any{
			"_id":  "$addr.city",
			"n":    map[string]any{"$sum": 1},
			"ages": map[string]any{"$push": "$age"},
		}},
		map[string]any{"$sort": map[string]any{"_id": 1}},
	)
	assert.Equal(t, out, []map[string]any{
		{"_id": "London", "n": int64(2), "ages": []any{36, 25.0}},
		{"_id": "Paris", "n": int64(1), "ages": []any{25.0}},
	})
}

func TestAggregateAccumulators(t *testing.T) {
	out := aggregate(t, map[string]any{"$group": map[string]any{
		"_id":   nil,
		"avg":   map[string]any{"$avg": "$age"},
		"lo":    map[string]any{"$min": "$age"},
		"hi":    map[string]any{"$max": "$age"},
		"first": map[string]any{"$first": "$name"},
		"last":  map[string]any{"$last": "$name"},
		"n":     map[string]any{"$count": map[string]any{}},
		"total": map[string]any{"$sum": "$age"},
	}})
	assert.Equal(t, len(out), 1)
	g := out[0]
	assert.Equal(t, g["_id"], nil)
	assert.Equal(t, g["avg"], 31.875)
	assert.Equal(t, g["lo"], 25.0)
	assert.Equal(t, g["hi"], 41.5)
	assert.Equal(t, g["first"], "ada")
	assert.Equal(t, g["last"], "dee")
	assert.Equal(t, g["n"], 4)
	assert.Equal(t, g["total"], 127.5)

	out = aggregate(t, map[string]any{"$group": map[string]any{
		"_id":  "$age",
		"tags": map[string]any{"$addToSet": "$addr.city"},
	}}, map[string]any{"$match": map[string]any{"_id": 25}})
	assert.Equal(t, out, []map[string]any{{"_id": 25.0, "tags": []any{"Paris", "London"}}})
}

func TestAggregateCount(t *testing.T) {
	out := aggregate(t,
		map[string]any{"$match": map[string]any{"age": 25}},
		map[string]any{"$count": "total"},
	)
	assert.Equal(t, out, []map[string]any{{"total": 2}})

	out = aggregate(t,
		map[string]any{"$match": map[string]any{"age": 99}},
		map[string]any{"$count": "total"},
	)
	assert.Equal(t, out, []map[string]any{})
}

func TestAggregateProjectAndExpressions(t *testing.T) {
	out := aggregate(t,
		map[string]any{"$match": map[string]any{"name": "ada"}},
		map[string]any{"$project": map[string]any{
			"_id":   0,
			"name":  1,
			"city":  "$addr.city",
			"n":     map[string]any{"$size": "$tags"},
			"shout": map[string]any{"$toUpper": "$name"},
			"label": map[string]any{"$concat": []any{"$name", "@", "$addr.city"}},
		}},
	)
	assert.Equal(t, out, []map[string]any{{
		"name":  "ada",
		"city":  "London",
		"n":     2,
		"shout": "ADA",
		"label": "ada@London",
	}})

	out = aggregate(t,
		map[string]any{"$match": map[string]any{"name": "bob"}},
		map[string]any{"$unset": []any{"tags", "addr"}},
	)
	assert.Equal(t, out, []map[string]any{{"name": "bob", "age": 25.0}})

	out = aggregate(t,
		map[string]any{"$match": map[string]any{"name": "bob"}},
		map[string]any{"$project": map[string]any{"tags": 0, "addr": 0}},
	)
	assert.Equal(t, out, []map[string]any{{"name": "bob", "age": 25.0}})
}

func TestAggregateAddFieldsLeavesInputAlone(t *testing.T) {
	docs := people()
	out, err := mquery.Evaluator{}.Aggregate([]any{
		map[string]any{"$match": map[string]any{"name": "bob"}},
		map[string]any{"$addFields": map[string]any{
			"older":     map[string]any{"$add": []any{"$age", 1}},
			"addr.zip":  "75001",
			"fallback":  map[string]any{"$ifNull": []any{"$missing", "none"}},
			"halfAge":   map[string]any{"$divide": []any{"$age", 2}},
			"literally": map[string]any{"$literal": "$age"},
		}},
	}, docs)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, len(out), 1)
	assert.Equal(t, out[0]["older"], 26.0)
	assert.Equal(t, out[0]["addr"], map[string]any{"city": "Paris", "zip": "75001"})
	assert.Equal(t, out[0]["fallback"], "none")
	assert.Equal(t, out[0]["halfAge"], 12.5)
	assert.Equal(t, out[0]["literally"], "$age")

	assert.Equal(t, docs[1], map[string]any{"name": "bob", "age": 25.0, "tags": []any{"code"}, "addr": map[string]any{"city": "Paris"}})
}

func TestAggregateUnwind(t *testing.T) {
	out := aggregate(t,
		map[string]any{"$match": map[string]any{"name": "ada"}},
		map[string]any{"$unwind": "$tags"},
		map[string]any{"$project": map[string]any{"tags": 1}},
	)
	assert.Equal(t, out, []map[string]any{{"tags": "math"}, {"tags": "code"}})

	out = aggregate(t,
		map[string]any{"$match": map[string]any{"name": "cy"}},
		map[string]any{"$unwind": "$tags"},
	)
	assert.Equal(t, len(out), 0)

	out = aggregate(t,
		map[string]any{"$match": map[string]any{"name": "cy"}},
		map[string]any{"$unwind": map[string]any{"path": "$tags", "preserveNullAndEmptyArrays": true}},
		map[string]any{"$project": map[string]any{"name": 1, "tags": 1}},
	)
	assert.Equal(t, out, []map[string]any{{"name": "cy"}})
}

func TestAggregateSortSkipLimit(t *testing.T) {
	out := aggregate(t,
		map[string]any{"$sort": map[string]any{"age": 1, "name": 1}},
		map[string]any{"$skip": 1},
		map[string]any{"$limit": 2},
		map[string]any{"$project": map[string]any{"name": 1}},
	)
	assert.Equal(t, out, []map[string]any{{"name": "dee"}, {"name": "ada"}})
}

func TestAggregateErrors(t *testing.T) {
	bad := [][]any{
		{"not a stage"},
		{map[string]any{"$match": map[string]any{}, "$limit": 1}},
		{map[string]any{"$nope": 1}},
		{map[string]any{"$limit": 0}},
		{map[string]any{"$count": "$bad"}},
		{map[string]any{"$group": map[string]any{"n": map[string]any{"$sum": 1}}}},
		{map[string]any{"$group": map[string]any{"_id": nil, "n": map[string]any{"$median": 1}}}},
		{map[string]any{"$project": map[string]any{"a": 0, "b": 1}}},
		{map[string]any{"$addFields": map[string]any{"x": map[string]any{"$divide": []any{1, 0}}}}},
		{map[string]any{"$unwind": "tags"}},
	}
	for _, pipeline := range bad {
		_, err := mquery.Evaluator{}.Aggregate(pipeline, people())
		var operr *mquery.OperatorError
		if !errors.As(err, &operr) {
			t.Errorf("%v: expected *OperatorError, got %v", pipeline, err)
		}
	}
}
