package store

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/stevemurr/memdoc/mquery"
)

// Evaluator runs filters and aggregation pipelines over document bodies.
// Find returns the indexes of the matching docs, in result order.
type Evaluator interface {
	Find(selector map[string]any, docs []any, opts mquery.FindOptions) ([]int, error)
	Aggregate(pipeline []any, docs []any) ([]map[string]any, error)
}

// Validator checks snapshot data against the schema registered for its type.
type Validator interface {
	Validate(docType string, data any) error
}

// CommitEvent describes one accepted commit.
type CommitEvent struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	DocID      string    `json:"docId"`
	V          int       `json:"v"`
	Type       string    `json:"type,omitempty"`
	Op         Op        `json:"op"`
	Time       time.Time `json:"time"`
}

type Options struct {
	Logger    *slog.Logger
	Evaluator Evaluator
	Validator Validator
	// OnCommit is called after every accepted commit, outside the store lock.
	OnCommit func(CommitEvent)
}

// Store is the versioned document store. All writes go through Commit.
// Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	eval    Evaluator
	valid   Validator
	log     *slog.Logger
	notify  func(CommitEvent)
	closed  atomic.Bool
}

// Open wraps an existing backend.
func Open(b Backend, opt Options) *Store {
	s := &Store{
		backend: b,
		eval:    opt.Evaluator,
		valid:   opt.Validator,
		log:     opt.Logger,
		notify:  opt.OnCommit,
	}
	if s.eval == nil {
		s.eval = mquery.Evaluator{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// NewMemoryStore returns a Store over a fresh MemoryBackend.
func NewMemoryStore() *Store {
	return Open(NewMemoryBackend(), Options{})
}

// Commit appends op to the document's log and replaces its snapshot with
// snap, provided snap.V immediately follows the current version. A version
// mismatch is reported as (false, nil). A snapshot with an empty Type
// deletes the stored snapshot while keeping the history.
func (s *Store) Commit(collection, id string, op Op, snap Snapshot) (bool, error) {
	op, err := cloneOp(op)
	if err != nil {
		return false, fmt.Errorf("commit %s/%s: op: %w", collection, id, err)
	}
	snap.ID = id
	if !snap.Exists() {
		snap.Data = nil
	} else {
		if snap.Data, err = cloneValue(snap.Data); err != nil {
			return false, fmt.Errorf("commit %s/%s: data: %w", collection, id, err)
		}
		if s.valid != nil {
			if err := s.valid.Validate(snap.Type, snap.Data); err != nil {
				return false, err
			}
		}
	}

	s.mu.Lock()
	n, err := s.backend.OpCount(collection, id)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	if !accepts(n, snap.V) {
		s.mu.Unlock()
		s.log.Debug("commit rejected", "collection", collection, "id", id, "version", currentVersion(n), "proposed", snap.V)
		return false, nil
	}
	err = s.backend.Apply(collection, id, n, op, snap)
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("commit failed", "collection", collection, "id", id, "slot", n, "err", err)
		return false, err
	}

	if s.notify != nil {
		op["v"] = n
		s.notify(CommitEvent{
			ID:         ulid.Make().String(),
			Collection: collection,
			DocID:      id,
			V:          snap.V,
			Type:       snap.Type,
			Op:         op,
			Time:       time.Now().UTC(),
		})
	}
	return true, nil
}

// GetSnapshot returns the current snapshot of a document. A document with
// no stored snapshot yields a tombstone at the version implied by its log.
// fields is accepted for interface compatibility; no projection is done.
func (s *Store) GetSnapshot(collection, id string, fields []string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, err := s.backend.Snapshot(collection, id)
	if err != nil {
		return Snapshot{}, err
	}
	if snap != nil {
		return *snap, nil
	}
	n, err := s.backend.OpCount(collection, id)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{ID: id, V: currentVersion(n)}, nil
}

// GetOps returns the ops in [from, to). A nil to reads through the end of
// the log. Out-of-range bounds are clamped.
func (s *Store) GetOps(collection, id string, from int, to *int) ([]Op, error) {
	end := -1
	if to != nil {
		end = *to
		if end < 0 {
			end = 0
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.Ops(collection, id, from, end)
}

// Collections lists the collections that have at least one committed op.
func (s *Store) Collections() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.Collections()
}

// Close marks the store closed. It is idempotent and advisory: later calls
// still work and no memory is released.
func (s *Store) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.log.Debug("store closed")
	}
	return nil
}

func (s *Store) Closed() bool {
	return s.closed.Load()
}

// Release frees backend resources. The store must not be used afterwards.
func (s *Store) Release() error {
	s.Close()
	return s.backend.Close()
}
