package store

import (
	"sort"
	"sync"
)

// MemoryBackend keeps everything in Go maps. Data is lost on restart and
// nothing is ever evicted.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	ops       map[string][]Op
	snapshots map[string]Snapshot
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		collections: make(map[string]*memCollection),
	}
}

// collection returns the named collection, creating it when create is set.
func (m *MemoryBackend) collection(name string, create bool) *memCollection {
	coll, ok := m.collections[name]
	if !ok && create {
		coll = &memCollection{
			ops:       make(map[string][]Op),
			snapshots: make(map[string]Snapshot),
		}
		m.collections[name] = coll
	}
	return coll
}

func (m *MemoryBackend) OpCount(collection, id string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll := m.collection(collection, false)
	if coll == nil {
		return 0, nil
	}
	return len(coll.ops[id]), nil
}

func (m *MemoryBackend) Apply(collection, id string, slot int, op Op, snap Snapshot) error {
	stored := copyOp(op)
	stored["v"] = slot
	snap.ID = id
	snap = copySnapshot(snap)

	m.mu.Lock()
	defer m.mu.Unlock()
	coll := m.collection(collection, true)
	log := coll.ops[id]
	if len(log) != slot {
		return &ConsistencyError{Collection: collection, ID: id, Slot: slot, Have: len(log)}
	}
	coll.ops[id] = append(log, stored)
	if snap.Exists() {
		coll.snapshots[id] = snap
	} else {
		delete(coll.snapshots, id)
	}
	return nil
}

func (m *MemoryBackend) Ops(collection, id string, from, to int) ([]Op, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var log []Op
	if coll := m.collection(collection, false); coll != nil {
		log = coll.ops[id]
	}
	from, to = clampRange(len(log), from, to)
	result := make([]Op, 0, to-from)
	for _, op := range log[from:to] {
		result = append(result, copyOp(op))
	}
	return result, nil
}

func (m *MemoryBackend) Snapshot(collection, id string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll := m.collection(collection, false)
	if coll == nil {
		return nil, nil
	}
	snap, ok := coll.snapshots[id]
	if !ok {
		return nil, nil
	}
	snap = copySnapshot(snap)
	return &snap, nil
}

func (m *MemoryBackend) Snapshots(collection string) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll := m.collection(collection, false)
	if coll == nil {
		return []Snapshot{}, nil
	}
	ids := make([]string, 0, len(coll.snapshots))
	for id := range coll.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	result := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		result = append(result, copySnapshot(coll.snapshots[id]))
	}
	return result, nil
}

func (m *MemoryBackend) Collections() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name, coll := range m.collections {
		if len(coll.ops) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
