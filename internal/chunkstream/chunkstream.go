// Package chunkstream implements the coordinator's content-addressed
// chunk reassembler (spec §4.3): a process-wide table keyed by a 64-byte
// BLAKE2b digest, used to stitch an artifact's chunk stream back together
// as it arrives on the intake socket.
package chunkstream

import (
	"hash"
	"io/ioutil"
	"os"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/xerrors"

	"github.com/distr1/xbbs/internal/wire"
)

// Entry is in-flight reassembly state for one artifact stream.
type Entry struct {
	File   *os.File
	Hasher hash.Hash // accumulates chunk.Data only: BLAKE2b of the artifact content
	Path   string
}

// Table is the chunk-reassembly table. Each chunk extends exactly one
// stream; concurrent streams stay disjoint because their digest chains
// diverge after the first chunk (spec §4.3 invariants).
type Table struct {
	mu            sync.Mutex
	entries       map[string]*Entry
	collectionDir string
}

// New returns an empty Table staging files under collectionDir.
func New(collectionDir string) *Table {
	return &Table{
		entries:       make(map[string]*Entry),
		collectionDir: collectionDir,
	}
}

func key(digest []byte) string { return string(digest) }

// HandleChunk processes one ChunkMessage. raw must be exactly the
// message's on-wire payload bytes (what the digest chain is computed
// over, per spec §4.3: "digest = BLAKE2b(raw_chunk_message_bytes)"). It
// returns the entry the chunk was appended to and the digest it is now
// keyed under, or ok=false if the chunk's last_hash matched no entry (a
// broken stream, silently dropped per spec).
func (t *Table) HandleChunk(raw []byte, m *wire.ChunkMessage) (e *Entry, digest []byte, ok bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m.IsInitial() {
		f, err := ioutil.TempFile(t.collectionDir, "chunk-")
		if err != nil {
			return nil, nil, false, xerrors.Errorf("chunkstream: create staging file: %w", err)
		}
		if err := f.Chmod(0644); err != nil {
			f.Close()
			os.Remove(f.Name())
			return nil, nil, false, xerrors.Errorf("chunkstream: chmod staging file: %w", err)
		}
		h, err := blake2b.New512(nil)
		if err != nil {
			f.Close()
			os.Remove(f.Name())
			return nil, nil, false, xerrors.Errorf("chunkstream: new hasher: %w", err)
		}
		e = &Entry{File: f, Hasher: h, Path: f.Name()}
	} else {
		var found bool
		e, found = t.entries[key(m.LastHash)]
		if !found {
			return nil, nil, false, nil // broken stream: drop silently
		}
		delete(t.entries, key(m.LastHash))
	}

	sum := blake2b.Sum512(raw)
	digest = sum[:]

	if _, err := e.File.Write(m.Data); err != nil {
		return nil, nil, false, xerrors.Errorf("chunkstream: write staging file: %w", err)
	}
	if _, err := e.Hasher.Write(m.Data); err != nil {
		return nil, nil, false, xerrors.Errorf("chunkstream: write hasher: %w", err)
	}

	t.entries[key(digest)] = e
	return e, digest, true, nil
}

// Take consumes (removes) the entry keyed by lastHash, handing its hasher
// and staging path to the artifact-recording step (spec §4.7). ok is
// false if no entry matches (dropped per spec §4.3).
func (t *Table) Take(lastHash []byte) (e *Entry, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok = t.entries[key(lastHash)]
	if ok {
		delete(t.entries, key(lastHash))
	}
	return e, ok
}

// CollectionDir exposes the staging directory, e.g. for cleanup.
func (t *Table) CollectionDir() string { return t.collectionDir }
