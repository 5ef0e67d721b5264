package chunkstream

import (
	"bytes"
	"io/ioutil"
	"os"
	"testing"

	"golang.org/x/crypto/blake2b"

	"github.com/distr1/xbbs/internal/wire"
)

func packChunk(t *testing.T, m *wire.ChunkMessage) []byte {
	t.Helper()
	raw, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	return raw
}

func TestHandleChunkReassemblesAndChains(t *testing.T) {
	dir, err := ioutil.TempDir("", "chunkstream-")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	defer os.RemoveAll(dir)

	table := New(dir)

	first := &wire.ChunkMessage{LastHash: []byte(wire.InitialHash), Data: []byte("hello ")}
	rawFirst := packChunk(t, first)
	e, digest1, ok, err := table.HandleChunk(rawFirst, first)
	if err != nil || !ok {
		t.Fatalf("HandleChunk(first): ok=%v err=%v", ok, err)
	}
	wantDigest1 := blake2b.Sum512(rawFirst)
	if !bytes.Equal(digest1, wantDigest1[:]) {
		t.Fatalf("digest1 mismatch")
	}

	second := &wire.ChunkMessage{LastHash: digest1, Data: []byte("world")}
	rawSecond := packChunk(t, second)
	e2, digest2, ok, err := table.HandleChunk(rawSecond, second)
	if err != nil || !ok {
		t.Fatalf("HandleChunk(second): ok=%v err=%v", ok, err)
	}
	if e2 != e {
		t.Fatalf("expected the same Entry across the chain")
	}

	entry, ok := table.Take(digest2)
	if !ok {
		t.Fatalf("Take: entry not found")
	}
	if got := entry.Hasher.Sum(nil); !bytes.Equal(got, mustSum(t, "hello world")) {
		t.Fatalf("content hash mismatch")
	}

	content, err := ioutil.ReadFile(entry.Path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(content) != "hello world" {
		t.Fatalf("staged content = %q", content)
	}
}

func mustSum(t *testing.T, s string) []byte {
	t.Helper()
	sum := blake2b.Sum512([]byte(s))
	return sum[:]
}

func TestHandleChunkDropsBrokenChain(t *testing.T) {
	dir, err := ioutil.TempDir("", "chunkstream-")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	defer os.RemoveAll(dir)

	table := New(dir)
	m := &wire.ChunkMessage{LastHash: bytes.Repeat([]byte{0xAB}, 64), Data: []byte("orphan")}
	_, _, ok, err := table.HandleChunk(packChunk(t, m), m)
	if err != nil {
		t.Fatalf("HandleChunk: %v", err)
	}
	if ok {
		t.Fatalf("expected a broken chain to be dropped")
	}
}

func TestTakeRemovesEntry(t *testing.T) {
	dir, err := ioutil.TempDir("", "chunkstream-")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	defer os.RemoveAll(dir)

	table := New(dir)
	m := &wire.ChunkMessage{LastHash: []byte(wire.InitialHash), Data: []byte("x")}
	_, digest, ok, err := table.HandleChunk(packChunk(t, m), m)
	if err != nil || !ok {
		t.Fatalf("HandleChunk: ok=%v err=%v", ok, err)
	}
	if _, ok := table.Take(digest); !ok {
		t.Fatalf("expected entry present")
	}
	if _, ok := table.Take(digest); ok {
		t.Fatalf("expected entry gone after first Take")
	}
}
