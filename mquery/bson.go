package mquery

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/256dpi/lungo/bsonkit"
	"github.com/256dpi/lungo/mongokit"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// toDoc converts a document body to the bsonkit form the filter engine
// works on. Anything other than an object becomes an empty document.
func toDoc(v any) (bsonkit.Doc, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return &bson.D{}, nil
	}
	d, err := toD(m)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// toD builds a bson.D with keys in lexical order, so operator objects are
// always read the same way.
func toD(m map[string]any) (bson.D, error) {
	d := make(bson.D, 0, len(m))
	for _, k := range sortedKeys(m) {
		v, err := toValue(m[k])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		d = append(d, bson.E{Key: k, Value: v})
	}
	return d, nil
}

// toValue maps Go and JSON values onto the BSON types bsonkit compares.
func toValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, float64, int32, int64:
		return x, nil
	case map[string]any:
		return toD(x)
	case []any:
		a := make(bson.A, len(x))
		for i, e := range x {
			ev, err := toValue(e)
			if err != nil {
				return nil, err
			}
			a[i] = ev
		}
		return a, nil
	case float32:
		return float64(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		return x.Float64()
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return float64(x), nil
		}
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return float64(x), nil
		}
		return int64(x), nil
	case time.Time:
		return primitive.NewDateTimeFromTime(x), nil
	case []byte:
		return primitive.Binary{Data: x}, nil
	}
	// Typed maps, slices and structs go through the driver's codec.
	raw, err := bson.Marshal(bson.D{{Key: "v", Value: v}})
	if err != nil {
		return nil, err
	}
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return d[0].Value, nil
}

// compileSelector converts a selector once for matching against many
// documents.
func compileSelector(op string, selector map[string]any) (bsonkit.Doc, error) {
	q, err := toDoc(selector)
	if err != nil {
		return nil, &OperatorError{Op: op, Msg: err.Error()}
	}
	return q, nil
}

func matchDoc(op string, query, doc bsonkit.Doc) (bool, error) {
	ok, err := mongokit.Match(doc, query)
	if err != nil {
		return false, &OperatorError{Op: op, Msg: err.Error()}
	}
	return ok, nil
}

// compareBSON orders two converted values the way MongoDB sorts them.
func compareBSON(a, b any) int {
	return bsonkit.Compare(a, b)
}

// compareAny converts and orders two document values.
func compareAny(a, b any) (int, error) {
	av, err := toValue(a)
	if err != nil {
		return 0, err
	}
	bv, err := toValue(b)
	if err != nil {
		return 0, err
	}
	return compareBSON(av, bv), nil
}

func sortValue(doc bsonkit.Doc, path string) any {
	v := bsonkit.Get(doc, path)
	if v == bsonkit.Missing {
		return nil
	}
	return v
}

func compareBy(keys []sortKey, a, b bsonkit.Doc) int {
	for _, k := range keys {
		c := compareBSON(sortValue(a, k.path), sortValue(b, k.path))
		if k.desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// sortDocs returns a stable ordering of docs by keys as index positions.
func sortDocs(keys []sortKey, docs []bsonkit.Doc, idx []int) {
	sort.SliceStable(idx, func(a, b int) bool {
		return compareBy(keys, docs[idx[a]], docs[idx[b]]) < 0
	})
}
