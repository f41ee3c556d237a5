package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/stevemurr/memdoc/store"
)

func wait[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("callback not called")
	}
	var zero T
	return zero
}

func TestAsyncRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := store.NewAsync(ctx, store.NewMemoryStore())

	committed := make(chan bool, 1)
	a.Commit("docs", "a", store.Op{"create": true}, store.Snapshot{V: 1, Type: "json0", Data: map[string]any{"k": "v"}},
		func(err error, ok bool) {
			if err != nil {
				t.Error(err)
			}
			committed <- ok
		})
	assert.Equal(t, wait(t, committed), true)

	snaps := make(chan store.Snapshot, 1)
	a.GetSnapshot("docs", "a", nil, func(err error, snap store.Snapshot) {
		if err != nil {
			t.Error(err)
		}
		snaps <- snap
	})
	snap := wait(t, snaps)
	assert.Equal(t, snap.V, 1)
	assert.Equal(t, snap.Data, map[string]any{"k": "v"})

	opsc := make(chan []store.Op, 1)
	a.GetOps("docs", "a", 0, nil, func(err error, ops []store.Op) {
		if err != nil {
			t.Error(err)
		}
		opsc <- ops
	})
	assert.Equal(t, len(wait(t, opsc)), 1)

	type result struct {
		snaps []store.Snapshot
		extra any
	}
	results := make(chan result, 1)
	a.Query("docs", map[string]any{"k": "v", "$count": true}, nil, nil, func(err error, s []store.Snapshot, extra any) {
		if err != nil {
			t.Error(err)
		}
		results <- result{s, extra}
	})
	res := wait(t, results)
	assert.Equal(t, len(res.snaps), 0)
	assert.Equal(t, res.extra, 1)
}

func TestAsyncOrdering(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := store.NewAsync(ctx, store.NewMemoryStore())

	// Commits are queued back to back; FIFO order means every one lands.
	const n = 20
	done := make(chan int, n)
	for v := 1; v <= n; v++ {
		v := v
		a.Commit("docs", "a", store.Op{}, store.Snapshot{V: v, Type: "json0", Data: map[string]any{}}, func(err error, ok bool) {
			if err != nil || !ok {
				t.Errorf("commit v%d: ok=%v err=%v", v, ok, err)
			}
			done <- v
		})
	}
	for want := 1; want <= n; want++ {
		assert.Equal(t, wait(t, done), want)
	}
}

func TestAsyncInputsCopied(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := store.NewAsync(ctx, store.NewMemoryStore())

	data := map[string]any{"title": "orig"}
	done := make(chan bool, 1)
	a.Commit("docs", "a", store.Op{}, store.Snapshot{V: 1, Type: "json0", Data: data}, func(err error, ok bool) { done <- ok })
	data["title"] = "changed"
	wait(t, done)

	snaps := make(chan store.Snapshot, 1)
	a.GetSnapshot("docs", "a", nil, func(err error, snap store.Snapshot) { snaps <- snap })
	assert.Equal(t, wait(t, snaps).Data, map[string]any{"title": "orig"})
}

func TestAsyncStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := store.NewMemoryStore()
	a := store.NewAsync(ctx, s)
	cancel()

	// The loop notices cancellation asynchronously; keep trying until a
	// call is refused.
	deadline := time.Now().Add(2 * time.Second)
	for {
		errc := make(chan error, 1)
		a.GetSnapshot("docs", "a", nil, func(err error, snap store.Snapshot) { errc <- err })
		err := wait(t, errc)
		if errors.Is(err, store.ErrLoopStopped) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("loop did not stop")
		}
		time.Sleep(10 * time.Millisecond)
	}

	closed := make(chan error, 1)
	a.Close(func(err error) { closed <- err })
	if err := wait(t, closed); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, s.Closed(), true)
}

func TestAsyncCloseNilCallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := store.NewMemoryStore()
	a := store.NewAsync(ctx, s)
	a.Close(nil)

	// A later call on the same loop runs after Close.
	done := make(chan struct{})
	a.GetSnapshot("docs", "a", nil, func(error, store.Snapshot) { close(done) })
	wait(t, done)
	assert.Equal(t, s.Closed(), true)
}
