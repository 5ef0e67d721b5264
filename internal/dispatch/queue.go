// Package dispatch implements the outgoing job queue and the worker
// router that pairs queued jobs with connected workers (spec §4.6).
package dispatch

import (
	"context"
	"time"

	"github.com/distr1/xbbs/internal/wire"
)

// Item is one (capabilities, packed job) tuple waiting for a worker.
type Item struct {
	Capabilities []string
	Job          *wire.JobMessage
	Packed       []byte // Job.Pack(), precomputed once at enqueue time
}

// Queue is a capacity-1 FIFO: Put blocks until the single slot is free,
// which is the backpressure mechanism spec §4.5/§5 calls for ("the queue
// depth is capped at 1 slot ... callers block until a worker consumes").
type Queue struct {
	ch chan Item
}

// New returns an empty capacity-1 Queue.
func New() *Queue {
	return &Queue{ch: make(chan Item, 1)}
}

// Put enqueues item, blocking until the slot is free or ctx is done.
func (q *Queue) Put(ctx context.Context, item Item) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get waits up to timeout for an item. ok is false on timeout (the caller
// sends a heartbeat in that case, spec §4.6).
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (item Item, ok bool, err error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case item = <-q.ch:
		return item, true, nil
	case <-t.C:
		return Item{}, false, nil
	case <-ctx.Done():
		return Item{}, false, ctx.Err()
	}
}
