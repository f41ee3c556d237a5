package store

import (
	"errors"
	"reflect"
	"time"
)

// ErrCyclic is returned when a value passed to the store contains itself.
var ErrCyclic = errors.New("value contains a reference cycle")

// container identifies a map, slice or pointer by address. Slices also
// carry their length so a shorter view of the same array is not mistaken
// for its parent.
type container struct {
	ptr uintptr
	n   int
}

// copier makes structural copies. open holds the containers on the path
// currently being copied.
type copier struct {
	open map[container]struct{}
}

// cloneValue returns a structural copy of a document value. Unlike a JSON
// round trip it keeps time.Time, []byte and integer types intact.
func cloneValue(v any) (any, error) {
	c := copier{open: make(map[container]struct{})}
	return c.value(v)
}

// deepCopy copies a value the store already holds. Everything stored went
// through cloneValue first, so it is acyclic.
func deepCopy(v any) any {
	out, _ := cloneValue(v)
	return out
}

func (c *copier) enter(k container) error {
	if _, ok := c.open[k]; ok {
		return ErrCyclic
	}
	c.open[k] = struct{}{}
	return nil
}

func (c *copier) leave(k container) {
	delete(c.open, k)
}

func (c *copier) value(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if x == nil {
			return x, nil
		}
		k := container{ptr: reflect.ValueOf(x).Pointer()}
		if err := c.enter(k); err != nil {
			return nil, err
		}
		defer c.leave(k)
		dst := make(map[string]any, len(x))
		for key, e := range x {
			ce, err := c.value(e)
			if err != nil {
				return nil, err
			}
			dst[key] = ce
		}
		return dst, nil
	case []any:
		if len(x) == 0 {
			if x == nil {
				return x, nil
			}
			return []any{}, nil
		}
		k := container{ptr: reflect.ValueOf(x).Pointer(), n: len(x)}
		if err := c.enter(k); err != nil {
			return nil, err
		}
		defer c.leave(k)
		dst := make([]any, len(x))
		for i, e := range x {
			ce, err := c.value(e)
			if err != nil {
				return nil, err
			}
			dst[i] = ce
		}
		return dst, nil
	case []byte:
		if x == nil {
			return x, nil
		}
		return append([]byte(nil), x...), nil
	case string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, time.Time:
		return x, nil
	}
	out, err := c.reflect(reflect.ValueOf(v))
	if err != nil {
		return nil, err
	}
	return out.Interface(), nil
}

func (c *copier) reflect(v reflect.Value) (reflect.Value, error) {
	switch v.Kind() {
	case reflect.Map:
		if v.IsNil() {
			return v, nil
		}
		k := container{ptr: v.Pointer()}
		if err := c.enter(k); err != nil {
			return v, err
		}
		defer c.leave(k)
		dst := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			e, err := c.elem(iter.Value(), v.Type().Elem())
			if err != nil {
				return v, err
			}
			dst.SetMapIndex(iter.Key(), e)
		}
		return dst, nil
	case reflect.Slice:
		if v.IsNil() {
			return v, nil
		}
		dst := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		if v.Len() == 0 {
			return dst, nil
		}
		k := container{ptr: v.Pointer(), n: v.Len()}
		if err := c.enter(k); err != nil {
			return v, err
		}
		defer c.leave(k)
		for i := 0; i < v.Len(); i++ {
			e, err := c.elem(v.Index(i), v.Type().Elem())
			if err != nil {
				return v, err
			}
			dst.Index(i).Set(e)
		}
		return dst, nil
	case reflect.Pointer:
		if v.IsNil() {
			return v, nil
		}
		k := container{ptr: v.Pointer()}
		if err := c.enter(k); err != nil {
			return v, err
		}
		defer c.leave(k)
		e, err := c.elem(v.Elem(), v.Type().Elem())
		if err != nil {
			return v, err
		}
		dst := reflect.New(v.Type().Elem())
		dst.Elem().Set(e)
		return dst, nil
	}
	// Structs, arrays and scalars are copied by value.
	return v, nil
}

func (c *copier) elem(v reflect.Value, typ reflect.Type) (reflect.Value, error) {
	if v.Kind() != reflect.Interface {
		return c.reflect(v)
	}
	if v.IsNil() {
		return reflect.Zero(typ), nil
	}
	out, err := c.value(v.Interface())
	if err != nil {
		return v, err
	}
	return reflect.ValueOf(out), nil
}

// cloneOp copies an op handed in by a caller. A nil op becomes empty.
func cloneOp(op Op) (Op, error) {
	if op == nil {
		return Op{}, nil
	}
	out, err := cloneValue(map[string]any(op))
	if err != nil {
		return nil, err
	}
	return Op(out.(map[string]any)), nil
}

func copyOp(op Op) Op {
	if op == nil {
		return Op{}
	}
	return Op(deepCopy(map[string]any(op)).(map[string]any))
}

func copySnapshot(s Snapshot) Snapshot {
	s.Data = deepCopy(s.Data)
	return s
}
