package store

import "fmt"

// NewBackend creates a Backend by name.
//
// Supported backends:
//
//	"memory" - Go maps (default)
//	"sqlite" - private in-memory SQLite database
func NewBackend(name string) (Backend, error) {
	switch name {
	case "memory", "":
		return NewMemoryBackend(), nil
	case "sqlite":
		return NewSqliteBackend()
	default:
		return nil, fmt.Errorf("unknown store backend: %q (supported: memory, sqlite)", name)
	}
}

// New creates a Store over the named backend.
func New(backend string, opt Options) (*Store, error) {
	b, err := NewBackend(backend)
	if err != nil {
		return nil, err
	}
	return Open(b, opt), nil
}
