package mquery

import (
	"fmt"
	"strings"

	"github.com/256dpi/lungo/bsonkit"
)

func runStage(name string, arg any, docs []map[string]any) ([]map[string]any, error) {
	switch name {
	case "$match":
		sel, ok := arg.(map[string]any)
		if !ok {
			return nil, opErrf(name, "expects an object, got %T", arg)
		}
		q, err := compileSelector(name, sel)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(docs))
		for _, d := range docs {
			bd, err := toDoc(d)
			if err != nil {
				return nil, opErrf(name, "%v", err)
			}
			m, err := matchDoc(name, q, bd)
			if err != nil {
				return nil, err
			}
			if m {
				out = append(out, d)
			}
		}
		return out, nil
	case "$project":
		return project(arg, docs)
	case "$addFields", "$set":
		spec, ok := arg.(map[string]any)
		if !ok {
			return nil, opErrf(name, "expects an object, got %T", arg)
		}
		out := make([]map[string]any, len(docs))
		for i, d := range docs {
			nd := d
			for _, k := range sortedKeys(spec) {
				v, err := evalExpr(spec[k], d)
				if err != nil {
					return nil, err
				}
				nd = withPath(nd, splitPath(k), v)
			}
			out[i] = nd
		}
		return out, nil
	case "$unset":
		var fields []string
		switch x := arg.(type) {
		case string:
			fields = []string{x}
		case []any:
			for _, f := range x {
				s, ok := f.(string)
				if !ok {
					return nil, opErrf(name, "field names must be strings")
				}
				fields = append(fields, s)
			}
		default:
			return nil, opErrf(name, "expects a field name or array")
		}
		out := make([]map[string]any, len(docs))
		for i, d := range docs {
			for _, f := range fields {
				d = withoutPath(d, splitPath(f))
			}
			out[i] = d
		}
		return out, nil
	case "$sort":
		keys, err := parseSort(name, arg)
		if err != nil {
			return nil, err
		}
		converted := make([]bsonkit.Doc, len(docs))
		idx := make([]int, len(docs))
		for i, d := range docs {
			if converted[i], err = toDoc(d); err != nil {
				return nil, opErrf(name, "%v", err)
			}
			idx[i] = i
		}
		sortDocs(keys, converted, idx)
		out := make([]map[string]any, len(docs))
		for i, j := range idx {
			out[i] = docs[j]
		}
		return out, nil
	case "$skip":
		n, ok := ToInt(arg)
		if !ok || n < 0 {
			return nil, opErrf(name, "expects a non-negative number")
		}
		if n >= len(docs) {
			return []map[string]any{}, nil
		}
		return docs[n:], nil
	case "$limit":
		n, ok := ToInt(arg)
		if !ok || n <= 0 {
			return nil, opErrf(name, "expects a positive number")
		}
		if n < len(docs) {
			return docs[:n], nil
		}
		return docs, nil
	case "$count":
		field, ok := arg.(string)
		if !ok || field == "" || strings.HasPrefix(field, "$") || strings.Contains(field, ".") {
			return nil, opErrf(name, "expects a plain field name")
		}
		if len(docs) == 0 {
			return []map[string]any{}, nil
		}
		return []map[string]any{{field: len(docs)}}, nil
	case "$group":
		return group(arg, docs)
	case "$unwind":
		return unwind(arg, docs)
	}
	return nil, opErrf(name, "unknown pipeline stage")
}

func project(arg any, docs []map[string]any) ([]map[string]any, error) {
	spec, ok := arg.(map[string]any)
	if !ok || len(spec) == 0 {
		return nil, opErrf("$project", "expects a non-empty object")
	}
	exclude := false
	for k, v := range spec {
		if k == "_id" {
			continue
		}
		if isFlag(v) && !truthy(v) {
			exclude = true
		}
	}
	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		if exclude {
			nd := d
			for k, v := range spec {
				if !isFlag(v) {
					return nil, opErrf("$project", "cannot mix exclusions with computed field %q", k)
				}
				if !truthy(v) {
					nd = withoutPath(nd, splitPath(k))
				} else if k != "_id" {
					return nil, opErrf("$project", "cannot mix inclusion of %q with exclusions", k)
				}
			}
			out[i] = nd
			continue
		}
		nd := map[string]any{}
		if id, ok := d["_id"]; ok {
			if v, set := spec["_id"]; !set || !isFlag(v) || truthy(v) {
				nd["_id"] = id
			}
		}
		for _, k := range sortedKeys(spec) {
			v := spec[k]
			if isFlag(v) {
				if !truthy(v) {
					continue
				}
				if val, found := resolve(d, k); found {
					nd = withPath(nd, splitPath(k), val)
				}
				continue
			}
			val, err := evalExpr(v, d)
			if err != nil {
				return nil, err
			}
			nd = withPath(nd, splitPath(k), val)
		}
		out[i] = nd
	}
	return out, nil
}

// isFlag reports whether a $project value is an include/exclude flag
// rather than an expression.
func isFlag(v any) bool {
	if _, ok := v.(bool); ok {
		return true
	}
	return isNumber(v)
}

func unwind(arg any, docs []map[string]any) ([]map[string]any, error) {
	var path string
	preserve := false
	switch x := arg.(type) {
	case string:
		path = x
	case map[string]any:
		path, _ = x["path"].(string)
		preserve = truthy(x["preserveNullAndEmptyArrays"])
	}
	if !strings.HasPrefix(path, "$") || len(path) < 2 {
		return nil, opErrf("$unwind", "path must be a $-prefixed field path")
	}
	parts := splitPath(path[1:])
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		v, found := resolveParts(d, parts)
		arr, isArr := v.([]any)
		switch {
		case isArr && len(arr) > 0:
			for _, e := range arr {
				out = append(out, withPath(d, parts, e))
			}
		case isArr || !found || v == nil:
			if preserve {
				if isArr {
					out = append(out, withoutPath(d, parts))
				} else {
					out = append(out, d)
				}
			}
		default:
			out = append(out, d)
		}
	}
	return out, nil
}

type accumulator struct {
	op     string
	expr   any
	sum    float64
	allInt bool
	n      int
	val    any
	set    bool
	list   []any
}

func newAccumulator(field string, spec any) (*accumulator, error) {
	m, ok := spec.(map[string]any)
	if !ok || len(m) != 1 {
		return nil, opErrf("$group", "field %q must be {$accumulator: expr}", field)
	}
	for op, expr := range m {
		switch op {
		case "$sum", "$avg", "$min", "$max", "$first", "$last", "$push", "$addToSet", "$count":
			return &accumulator{op: op, expr: expr, allInt: true, list: []any{}}, nil
		}
		return nil, opErrf(op, "unknown accumulator")
	}
	return nil, nil
}

func (a *accumulator) add(doc map[string]any) error {
	if a.op == "$count" {
		a.n++
		return nil
	}
	v, err := evalExpr(a.expr, doc)
	if err != nil {
		return err
	}
	switch a.op {
	case "$sum", "$avg":
		if f, ok := ToFloat(v); ok {
			a.sum += f
			a.n++
			a.allInt = a.allInt && isInteger(v)
		}
	case "$min", "$max":
		if v == nil {
			return nil
		}
		c := 0
		if a.set {
			if c, err = compareAny(v, a.val); err != nil {
				return opErrf(a.op, "%v", err)
			}
		}
		if !a.set || (a.op == "$min" && c < 0) || (a.op == "$max" && c > 0) {
			a.val, a.set = v, true
		}
	case "$first":
		if !a.set {
			a.val, a.set = v, true
		}
	case "$last":
		a.val, a.set = v, true
	case "$push":
		a.list = append(a.list, v)
	case "$addToSet":
		for _, e := range a.list {
			c, err := compareAny(e, v)
			if err != nil {
				return opErrf(a.op, "%v", err)
			}
			if c == 0 {
				return nil
			}
		}
		a.list = append(a.list, v)
	}
	return nil
}

func (a *accumulator) result() any {
	switch a.op {
	case "$count":
		return a.n
	case "$sum":
		if a.allInt {
			return int64(a.sum)
		}
		return a.sum
	case "$avg":
		if a.n == 0 {
			return nil
		}
		return a.sum / float64(a.n)
	case "$push", "$addToSet":
		return a.list
	}
	return a.val
}

func group(arg any, docs []map[string]any) ([]map[string]any, error) {
	spec, ok := arg.(map[string]any)
	if !ok {
		return nil, opErrf("$group", "expects an object, got %T", arg)
	}
	idExpr, ok := spec["_id"]
	if !ok {
		return nil, opErrf("$group", "missing _id")
	}
	fields := sortedKeys(spec)

	type bucket struct {
		id   any
		accs map[string]*accumulator
	}
	var order []string
	buckets := map[string]*bucket{}
	for _, d := range docs {
		id, err := evalExpr(idExpr, d)
		if err != nil {
			return nil, err
		}
		key := groupKey(id)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{id: id, accs: map[string]*accumulator{}}
			for _, f := range fields {
				if f == "_id" {
					continue
				}
				acc, err := newAccumulator(f, spec[f])
				if err != nil {
					return nil, err
				}
				b.accs[f] = acc
			}
			buckets[key] = b
			order = append(order, key)
		}
		for _, acc := range b.accs {
			if err := acc.add(d); err != nil {
				return nil, err
			}
		}
	}

	out := make([]map[string]any, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		nd := map[string]any{"_id": b.id}
		for f, acc := range b.accs {
			nd[f] = acc.result()
		}
		out = append(out, nd)
	}
	return out, nil
}

// groupKey gives equal values the same key; numbers compare by value.
func groupKey(v any) string {
	if f, ok := ToFloat(v); ok {
		return fmt.Sprintf("n:%v", f)
	}
	switch x := v.(type) {
	case map[string]any:
		var b strings.Builder
		b.WriteString("{")
		for _, k := range sortedKeys(x) {
			fmt.Fprintf(&b, "%q:%s,", k, groupKey(x[k]))
		}
		b.WriteString("}")
		return b.String()
	case []any:
		var b strings.Builder
		b.WriteString("[")
		for _, e := range x {
			b.WriteString(groupKey(e))
			b.WriteString(",")
		}
		b.WriteString("]")
		return b.String()
	}
	return fmt.Sprintf("%T:%v", v, v)
}

// evalExpr evaluates an aggregation expression against doc: "$path"
// references, {$op: args} operator expressions, object and array literals.
func evalExpr(expr any, doc map[string]any) (any, error) {
	switch x := expr.(type) {
	case string:
		if strings.HasPrefix(x, "$") && len(x) > 1 {
			v, _ := resolve(doc, x[1:])
			return v, nil
		}
		return x, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			v, err := evalExpr(e, doc)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		if len(x) == 1 {
			for k, arg := range x {
				if strings.HasPrefix(k, "$") {
					return evalOperator(k, arg, doc)
				}
			}
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			v, err := evalExpr(e, doc)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}
	return expr, nil
}

func evalArgs(op string, arg any, doc map[string]any) ([]any, error) {
	list, ok := arg.([]any)
	if !ok {
		list = []any{arg}
	}
	out := make([]any, len(list))
	for i, e := range list {
		v, err := evalExpr(e, doc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out[i] = v
	}
	return out, nil
}

func evalOperator(op string, arg any, doc map[string]any) (any, error) {
	if op == "$literal" {
		return arg, nil
	}
	args, err := evalArgs(op, arg, doc)
	if err != nil {
		return nil, err
	}
	switch op {
	case "$add", "$multiply":
		acc := 0.0
		if op == "$multiply" {
			acc = 1
		}
		for _, a := range args {
			f, ok := ToFloat(a)
			if !ok {
				return nil, nil
			}
			if op == "$add" {
				acc += f
			} else {
				acc *= f
			}
		}
		return acc, nil
	case "$subtract", "$divide":
		if len(args) != 2 {
			return nil, opErrf(op, "expects two arguments")
		}
		a, ok1 := ToFloat(args[0])
		b, ok2 := ToFloat(args[1])
		if !ok1 || !ok2 {
			return nil, nil
		}
		if op == "$subtract" {
			return a - b, nil
		}
		if b == 0 {
			return nil, opErrf(op, "division by zero")
		}
		return a / b, nil
	case "$concat":
		var b strings.Builder
		for _, a := range args {
			s, ok := a.(string)
			if !ok {
				return nil, nil
			}
			b.WriteString(s)
		}
		return b.String(), nil
	case "$toLower", "$toUpper":
		if len(args) != 1 {
			return nil, opErrf(op, "expects one argument")
		}
		s, _ := args[0].(string)
		if op == "$toLower" {
			return strings.ToLower(s), nil
		}
		return strings.ToUpper(s), nil
	case "$size":
		if len(args) != 1 {
			return nil, opErrf(op, "expects one argument")
		}
		arr, ok := args[0].([]any)
		if !ok {
			return nil, opErrf(op, "argument must be an array, got %T", args[0])
		}
		return len(arr), nil
	case "$ifNull":
		for _, a := range args {
			if a != nil {
				return a, nil
			}
		}
		return nil, nil
	}
	return nil, opErrf(op, "unknown expression operator")
}
