package store

import (
	"context"
	"sync"
)

// Async exposes a Store through callbacks, the shape a sync server adapter
// expects. Every call is queued and run, callback included, on a single
// loop goroutine in FIFO order; callbacks never run on the caller's
// goroutine. The queue is unbounded so calls never block.
type Async struct {
	s *Store

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool
}

// NewAsync starts a loop serving s. The loop exits when ctx is done; calls
// made after that receive ErrLoopStopped.
func NewAsync(ctx context.Context, s *Store) *Async {
	a := &Async{s: s}
	a.cond = sync.NewCond(&a.mu)
	go a.run()
	go func() {
		<-ctx.Done()
		a.mu.Lock()
		a.stopped = true
		a.cond.Broadcast()
		a.mu.Unlock()
	}()
	return a
}

func (a *Async) run() {
	for {
		a.mu.Lock()
		for len(a.queue) == 0 && !a.stopped {
			a.cond.Wait()
		}
		if a.stopped {
			pending := a.queue
			a.queue = nil
			a.mu.Unlock()
			// Tasks already queued still get their callback.
			for _, task := range pending {
				task()
			}
			return
		}
		task := a.queue[0]
		a.queue[0] = nil
		a.queue = a.queue[1:]
		a.mu.Unlock()
		task()
	}
}

// enqueue schedules task, or runs fail on a fresh goroutine once the loop
// has stopped.
func (a *Async) enqueue(task func(), fail func(error)) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		go fail(ErrLoopStopped)
		return
	}
	a.queue = append(a.queue, task)
	a.cond.Signal()
	a.mu.Unlock()
}

func (a *Async) Commit(collection, id string, op Op, snap Snapshot, cb func(err error, succeeded bool)) {
	op, err := cloneOp(op)
	if err == nil {
		snap.Data, err = cloneValue(snap.Data)
	}
	if err != nil {
		go cb(err, false)
		return
	}
	a.enqueue(func() {
		ok, err := a.s.Commit(collection, id, op, snap)
		cb(err, ok)
	}, func(err error) { cb(err, false) })
}

func (a *Async) GetSnapshot(collection, id string, fields []string, cb func(err error, snap Snapshot)) {
	a.enqueue(func() {
		snap, err := a.s.GetSnapshot(collection, id, fields)
		cb(err, snap)
	}, func(err error) { cb(err, Snapshot{}) })
}

func (a *Async) GetOps(collection, id string, from int, to *int, cb func(err error, ops []Op)) {
	a.enqueue(func() {
		ops, err := a.s.GetOps(collection, id, from, to)
		cb(err, ops)
	}, func(err error) { cb(err, nil) })
}

func (a *Async) Query(collection string, q map[string]any, fields []string, options map[string]any, cb func(err error, snaps []Snapshot, extra any)) {
	c, err := cloneValue(q)
	if err != nil {
		go cb(err, nil, nil)
		return
	}
	q, _ = c.(map[string]any)
	a.enqueue(func() {
		snaps, extra, err := a.s.Query(collection, q, fields, options)
		cb(err, snaps, extra)
	}, func(err error) { cb(err, nil, nil) })
}

// Close marks the store closed. cb may be nil.
func (a *Async) Close(cb func(err error)) {
	if cb == nil {
		cb = func(error) {}
	}
	a.enqueue(func() {
		cb(a.s.Close())
	}, func(error) {
		// Closing is advisory, so it still succeeds after the loop stops.
		cb(a.s.Close())
	})
}
