package schema

import (
	"errors"
	"sort"
	"sync"
)

// Registry maps document types to JSON Schemas. Types without a schema
// accept any data. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]map[string]any
}

func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]map[string]any)}
}

// copySchema returns an independent copy. Objects and arrays are copied
// level by level; every other value is kept as is.
func copySchema(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = copyNode(v)
	}
	return dst
}

func copyNode(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return copySchema(x)
	case []any:
		if x == nil {
			return x
		}
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = copyNode(e)
		}
		return out
	}
	return v
}

func (r *Registry) Get(docType string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[docType]
	if !ok {
		return nil
	}
	return copySchema(s)
}

func (r *Registry) Put(docType string, schema map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[docType] = copySchema(schema)
}

// Delete removes the schema for a type. Returns true if it existed.
func (r *Registry) Delete(docType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schemas[docType]; !ok {
		return false
	}
	delete(r.schemas, docType)
	return true
}

// List returns all schemas as type -> schema.
func (r *Registry) List() map[string]map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]map[string]any, len(r.schemas))
	for k, v := range r.schemas {
		result[k] = copySchema(v)
	}
	return result
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks data against the schema registered for docType.
func (r *Registry) Validate(docType string, data any) error {
	r.mu.RLock()
	s := r.schemas[docType]
	r.mu.RUnlock()
	if s == nil {
		return nil
	}
	err := Validate(s, data)
	var verr *ValidationError
	if errors.As(err, &verr) {
		verr.Type = docType
	}
	return err
}
