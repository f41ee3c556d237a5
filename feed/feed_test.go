package feed_test

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/stevemurr/memdoc/feed"
	"github.com/stevemurr/memdoc/store"
)

func recv(t *testing.T, ch <-chan store.CommitEvent) store.CommitEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	return store.CommitEvent{}
}

func TestHubFiltersByCollection(t *testing.T) {
	h := feed.NewHub(4, nil)
	notes, cancelNotes := h.Subscribe("notes")
	defer cancelNotes()
	all, cancelAll := h.Subscribe("")
	defer cancelAll()
	assert.Equal(t, h.Subscribers(), 2)

	h.Publish(store.CommitEvent{Collection: "tasks", DocID: "t1", V: 1})
	h.Publish(store.CommitEvent{Collection: "notes", DocID: "n1", V: 1})

	assert.Equal(t, recv(t, notes).DocID, "n1")
	assert.Equal(t, recv(t, all).DocID, "t1")
	assert.Equal(t, recv(t, all).DocID, "n1")
	select {
	case ev := <-notes:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	h := feed.NewHub(1, nil)
	ch, cancel := h.Subscribe("notes")
	defer cancel()

	// A full subscriber must not block the publisher.
	done := make(chan struct{})
	go func() {
		h.Publish(store.CommitEvent{Collection: "notes", V: 1})
		h.Publish(store.CommitEvent{Collection: "notes", V: 2})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
	assert.Equal(t, recv(t, ch).V, 1)
}

func TestHubCancel(t *testing.T) {
	h := feed.NewHub(0, nil)
	ch, cancel := h.Subscribe("notes")
	cancel()
	cancel()
	assert.Equal(t, h.Subscribers(), 0)
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	h.Publish(store.CommitEvent{Collection: "notes", V: 1})
}

func TestHubAsOnCommit(t *testing.T) {
	h := feed.NewHub(0, nil)
	ch, cancel := h.Subscribe("notes")
	defer cancel()

	s := store.Open(store.NewMemoryBackend(), store.Options{OnCommit: h.Publish})
	ok, err := s.Commit("notes", "n1", store.Op{"create": true}, store.Snapshot{V: 1, Type: "note", Data: map[string]any{"title": "hi"}})
	if err != nil || !ok {
		t.Fatalf("commit: ok=%v err=%v", ok, err)
	}

	ev := recv(t, ch)
	assert.Equal(t, ev.Collection, "notes")
	assert.Equal(t, ev.DocID, "n1")
	assert.Equal(t, ev.V, 1)
	assert.Equal(t, ev.Type, "note")
	assert.Equal(t, ev.Op["create"], true)
}
