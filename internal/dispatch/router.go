package dispatch

import (
	"context"
	"time"

	"golang.org/x/xerrors"
)

// ErrUnreachable is returned by Sender.Send when the worker_endpoint
// router reports the destination worker is gone.
var ErrUnreachable = xerrors.New("dispatch: worker unreachable")

// Sender delivers a payload to one worker, addressed by its router id.
// payload == nil means "send an empty heartbeat frame" (spec §4.6).
type Sender interface {
	Send(ctx context.Context, workerID []byte, payload []byte) error
}

const (
	// dequeueTimeout bounds how long a dispatcher task waits for a queued
	// job before giving up and sending a heartbeat (spec §4.6).
	dequeueTimeout = 60 * time.Second
	// mismatchBackoff is the mandatory sleep after a capability mismatch,
	// and MUST follow the requeue (spec §4.6: "to avoid a livelock in
	// which a single worker with mismatched caps drains and restores the
	// queue without yielding").
	mismatchBackoff = 1 * time.Second
)

func subset(need, have []string) bool {
	haveSet := make(map[string]bool, len(have))
	for _, c := range have {
		haveSet[c] = true
	}
	for _, c := range need {
		if !haveSet[c] {
			return false
		}
	}
	return true
}

// Serve implements one worker request's dispatcher task: repeatedly
// attempt to pair a queued job with this worker's capabilities, until a
// job is sent, the dequeue times out (heartbeat sent, task ends), or the
// worker turns out to be unreachable (job requeued, task ends).
func Serve(ctx context.Context, q *Queue, workerID []byte, capabilities []string, sender Sender) error {
	for {
		item, ok, err := q.Get(ctx, dequeueTimeout)
		if err != nil {
			return err
		}
		if !ok {
			return sender.Send(ctx, workerID, nil)
		}

		if !subset(item.Capabilities, capabilities) {
			if err := q.Put(ctx, item); err != nil {
				return err
			}
			select {
			case <-time.After(mismatchBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		err = sender.Send(ctx, workerID, item.Packed)
		if xerrors.Is(err, ErrUnreachable) {
			return q.Put(ctx, item)
		}
		return err
	}
}
