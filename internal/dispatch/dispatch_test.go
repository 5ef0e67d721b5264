package dispatch

import (
	"context"
	"testing"
	"time"
)

func TestQueueGetTimesOutWhenEmpty(t *testing.T) {
	q := New()
	_, ok, err := q.Get(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("expected timeout on empty queue")
	}
}

func TestQueuePutThenGet(t *testing.T) {
	q := New()
	item := Item{Capabilities: []string{"amd64"}, Packed: []byte("job")}
	if err := q.Put(context.Background(), item); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := q.Get(context.Background(), time.Second)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(got.Packed) != "job" {
		t.Fatalf("Packed = %q", got.Packed)
	}
}

type fakeSender struct {
	sent [][]byte
}

func (s *fakeSender) Send(ctx context.Context, workerID []byte, payload []byte) error {
	s.sent = append(s.sent, payload)
	return nil
}

func TestServeSendsHeartbeatOnEmptyQueue(t *testing.T) {
	q := New()
	sender := &fakeSender{}
	if err := Serve(context.Background(), q, nil, []string{"amd64"}, sender); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0] != nil {
		t.Fatalf("sent = %v, want one nil heartbeat", sender.sent)
	}
}

func TestServeDispatchesMatchingCapabilities(t *testing.T) {
	q := New()
	item := Item{Capabilities: []string{"amd64"}, Packed: []byte("payload")}
	if err := q.Put(context.Background(), item); err != nil {
		t.Fatalf("Put: %v", err)
	}
	sender := &fakeSender{}
	if err := Serve(context.Background(), q, nil, []string{"amd64", "fast-disk"}, sender); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if len(sender.sent) != 1 || string(sender.sent[0]) != "payload" {
		t.Fatalf("sent = %v", sender.sent)
	}
}

func TestServeRequeuesOnCapabilityMismatch(t *testing.T) {
	q := New()
	item := Item{Capabilities: []string{"arm64"}, Packed: []byte("payload")}
	if err := q.Put(context.Background(), item); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Cancel while Serve is still inside the mandatory post-requeue
	// backoff sleep (mismatchBackoff = 1s), well before it would attempt
	// a second, 60s-bounded dequeue. This keeps the test deterministic:
	// Serve must return via the backoff select's ctx.Done() case.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	sender := &fakeSender{}
	go func() { done <- Serve(ctx, q, nil, []string{"amd64"}, sender) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Serve: %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}

	if len(sender.sent) != 0 {
		t.Fatalf("sent = %v, want no dispatch to the mismatched worker", sender.sent)
	}

	// The item must have been put back before the backoff sleep.
	got, ok, getErr := q.Get(context.Background(), 10*time.Millisecond)
	if getErr != nil || !ok {
		t.Fatalf("expected requeued item, ok=%v err=%v", ok, getErr)
	}
	if string(got.Packed) != "payload" {
		t.Fatalf("Packed = %q", got.Packed)
	}
}
