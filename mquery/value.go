package mquery

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ToFloat converts any Go or JSON number to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// ToInt converts a number to int, truncating fractions.
func ToInt(v any) (int, bool) {
	if i, ok := v.(int); ok {
		return i, true
	}
	f, ok := ToFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}

func isInteger(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func isNumber(v any) bool {
	_, ok := ToFloat(v)
	return ok
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// resolve returns the value at path for expressions. When the path crosses
// an array the values found in its elements are collected into an array.
func resolve(v any, path string) (any, bool) {
	return resolveParts(v, splitPath(path))
}

func resolveParts(v any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return v, true
	}
	switch x := v.(type) {
	case map[string]any:
		child, ok := x[parts[0]]
		if !ok {
			return nil, false
		}
		return resolveParts(child, parts[1:])
	case []any:
		if i, err := strconv.Atoi(parts[0]); err == nil && i >= 0 {
			if i >= len(x) {
				return nil, false
			}
			return resolveParts(x[i], parts[1:])
		}
		out := []any{}
		for _, e := range x {
			if r, ok := resolveParts(e, parts); ok {
				out = append(out, r)
			}
		}
		return out, true
	}
	return nil, false
}

// withPath returns a copy of doc with path set to val. Maps along the path
// are copied; doc itself is not modified.
func withPath(doc map[string]any, parts []string, val any) map[string]any {
	out := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	if len(parts) == 1 {
		out[parts[0]] = val
		return out
	}
	child, _ := doc[parts[0]].(map[string]any)
	out[parts[0]] = withPath(child, parts[1:], val)
	return out
}

// withoutPath returns a copy of doc with path removed.
func withoutPath(doc map[string]any, parts []string) map[string]any {
	if _, ok := doc[parts[0]]; !ok {
		return doc
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	if len(parts) == 1 {
		delete(out, parts[0])
		return out
	}
	if child, ok := doc[parts[0]].(map[string]any); ok {
		out[parts[0]] = withoutPath(child, parts[1:])
	}
	return out
}

func asDoc(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	}
	if f, ok := ToFloat(v); ok {
		return f != 0
	}
	return true
}
