package netutil

import (
	"bytes"
	"testing"
)

func TestWriteReadFramesRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := [][]byte{[]byte("build"), []byte(""), []byte("payload-bytes")}
	if err := WriteFrames(&buf, want...); err != nil {
		t.Fatalf("WriteFrames: %v", err)
	}

	got, err := ReadFrames(&buf)
	if err != nil {
		t.Fatalf("ReadFrames: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Fatalf("frame %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReadFramesRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 1})                   // one frame
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})        // absurd length
	if _, err := ReadFrames(&buf); err == nil {
		t.Fatalf("expected error for oversized frame length")
	}
}

func TestWriteFramesEmptyMessage(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrames(&buf); err != nil {
		t.Fatalf("WriteFrames: %v", err)
	}
	got, err := ReadFrames(&buf)
	if err != nil {
		t.Fatalf("ReadFrames: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len(got) = %d, want 0", len(got))
	}
}
