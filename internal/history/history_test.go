package history

import (
	"context"
	"testing"
	"time"

	"github.com/distr1/xbbs/internal/model"
)

func TestNilRecorderIsNoOp(t *testing.T) {
	var r *Recorder
	if err := r.Record(context.Background(), "proj", time.Now(), model.Package, "foo", "1.0", []byte("digest")); err != nil {
		t.Fatalf("nil Recorder.Record returned error: %v", err)
	}
	r.Close() // must not panic
}

func TestOpenWithEmptyDSNReturnsNilRecorder(t *testing.T) {
	r, err := Open(context.Background(), "")
	if err != nil {
		t.Fatalf("Open(\"\"): %v", err)
	}
	if r != nil {
		t.Fatalf("expected nil Recorder for empty dsn")
	}
}
