// Package store implements the versioned document store: per-document
// operation logs, the materialized snapshots derived from them, and the
// optimistic commit protocol a sync server uses to apply edits.
package store

// Op is an opaque operation payload. The store stamps "v" on its own copy
// with the log slot the op was written to.
type Op map[string]any

// Snapshot is the materialized state of a document at version V.
// An empty Type marks a document that was deleted or never created;
// Data is nil in that case.
type Snapshot struct {
	ID   string `json:"id"`
	V    int    `json:"v"`
	Type string `json:"type,omitempty"`
	Data any    `json:"data"`
}

// Exists reports whether the snapshot describes a live document.
func (s Snapshot) Exists() bool {
	return s.Type != ""
}

// Backend is the synchronous storage beneath the commit protocol. It
// operates on named collections, each holding an id -> op log map and an
// id -> snapshot map. Implementations are safe for concurrent use and
// copy values in and out; making the version check and the write that
// follows it atomic is the Store's job. Values must be acyclic; Store
// checks this before they reach a backend.
type Backend interface {
	// OpCount returns the length of the document's op log.
	OpCount(collection, id string) (int, error)

	// Apply appends op at slot and replaces the document's snapshot with
	// snap, or deletes it when snap is a tombstone. Both writes happen or
	// neither does. It fails with *ConsistencyError unless the log
	// currently holds exactly slot entries.
	Apply(collection, id string, slot int, op Op, snap Snapshot) error

	// Ops returns copies of the log entries in [from, to), clamped to the
	// log bounds. A negative to means the end of the log.
	Ops(collection, id string, from, to int) ([]Op, error)

	// Snapshot returns a copy of the stored snapshot, or nil if none.
	Snapshot(collection, id string) (*Snapshot, error)

	// Snapshots returns copies of every stored snapshot, ordered by id.
	Snapshots(collection string) ([]Snapshot, error)

	// Collections returns the names of all collections that hold ops.
	Collections() ([]string, error)

	// Close releases backend resources.
	Close() error
}
