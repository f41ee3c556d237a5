// Package feed fans accepted commits out to subscribers.
package feed

import (
	"log/slog"
	"sync"

	"github.com/stevemurr/memdoc/store"
)

// Hub broadcasts commit events to per-collection subscribers. A subscriber
// that falls behind by more than its buffer loses events rather than
// stalling commits.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	buffer int
	log    *slog.Logger
}

type subscription struct {
	collection string
	ch         chan store.CommitEvent
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[*subscription]struct{}), buffer: buffer, log: logger}
}

// Publish delivers ev to every subscriber of its collection. It never blocks.
// Use it as store.Options.OnCommit.
func (h *Hub) Publish(ev store.CommitEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.collection != "" && sub.collection != ev.Collection {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.log.Warn("feed subscriber behind, dropping event", "collection", ev.Collection, "id", ev.DocID, "v", ev.V)
		}
	}
}

// Subscribe returns a channel of events for collection ("" for all) and a
// cancel func that closes it.
func (h *Hub) Subscribe(collection string) (<-chan store.CommitEvent, func()) {
	sub := &subscription{collection: collection, ch: make(chan store.CommitEvent, h.buffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
