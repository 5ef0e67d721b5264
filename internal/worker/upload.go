// Package worker implements the worker-side job driver (spec §4.9): it
// materializes a sysroot for one JobMessage, runs the external build tool,
// parses its progress stream, and uploads the resulting artifacts and
// logs back to the coordinator's intake socket. Grounded on distri's
// cmd/autobuilder/autobuilder.go for the git-checkout/log-pipe/exec style,
// and on original_source/xbbs/worker/__init__.py for xbbs-specific
// semantics autobuilder has none of (the chunked upload protocol, the
// progress-pipe action vocabulary, the pending-product failure sweep).
package worker

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/xerrors"

	"github.com/distr1/xbbs/internal/netutil"
	"github.com/distr1/xbbs/internal/wire"
)

// uploadChunkSize is the chunk size of the upload protocol (spec §4.9
// step 10: "read 32 KiB chunks").
const uploadChunkSize = 32 * 1024

// Uploader sends chunk/artifact/log frames to the coordinator's intake
// socket over one shared connection (spec §6: "intake — one-way pull").
// A single connection is safe for concurrent callers because writes are
// serialized by mu; the intake protocol has no replies to correlate.
type Uploader struct {
	conn net.Conn
	mu   sync.Mutex
}

// DialIntake opens the upload connection to address (host:port, per
// JobMessage.Intake).
func DialIntake(address string) (*Uploader, error) {
	conn, err := netutil.Dial("tcp", address)
	if err != nil {
		return nil, err
	}
	return &Uploader{conn: conn}, nil
}

func (u *Uploader) Close() error { return u.conn.Close() }

func (u *Uploader) send(tag wire.Tag, payload []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return netutil.WriteFrames(u.conn, []byte(tag), payload)
}

// Log sends one log line (spec §4.9 "concurrent log streaming").
func (u *Uploader) Log(project, job, line string) error {
	msg := &wire.LogMessage{Project: project, Job: job, Line: line}
	raw, err := msg.Pack()
	if err != nil {
		return err
	}
	return u.send(wire.TagLog, raw)
}

// Complete sends the job's completion message (spec §4.9 step 11).
func (u *Uploader) Complete(project, job string, exitCode int, runTime float64) error {
	msg := &wire.JobCompletionMessage{Project: project, Job: job, ExitCode: exitCode, RunTime: runTime}
	raw, err := msg.Pack()
	if err != nil {
		return err
	}
	return u.send(wire.TagJob, raw)
}

// Fail sends a failure ArtifactMessage for one pending product, used both
// when a progress record reports a non-success status and in the
// finally-sweep over still-pending products (spec §4.9 steps 9, 11).
func (u *Uploader) Fail(project string, kind wire.ArtifactType, name string) error {
	msg := &wire.ArtifactMessage{Project: project, ArtifactType: kind, Artifact: name, Success: false}
	raw, err := msg.Pack()
	if err != nil {
		return err
	}
	return u.send(wire.TagArtifact, raw)
}

// Artifact streams the file at path as a chunked artifact upload, then
// sends the terminating ArtifactMessage (spec §4.9 step 10). filename is
// the basename recorded at the coordinator; name is the artifact's
// graph identity.
func (u *Uploader) Artifact(ctx context.Context, project string, kind wire.ArtifactType, name, filename, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return xerrors.Errorf("worker: open artifact %s: %w", path, err)
	}
	defer f.Close()

	lastHash := []byte(wire.InitialHash)
	r := bufio.NewReaderSize(f, uploadChunkSize)
	buf := make([]byte, uploadChunkSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			chunk := &wire.ChunkMessage{LastHash: lastHash, Data: append([]byte(nil), buf[:n]...)}
			raw, err := chunk.Pack()
			if err != nil {
				return err
			}
			if err := u.send(wire.TagChunk, raw); err != nil {
				return xerrors.Errorf("worker: send chunk: %w", err)
			}
			digest := blake2b.Sum512(raw)
			lastHash = digest[:]
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return xerrors.Errorf("worker: read artifact %s: %w", path, rerr)
		}
	}

	msg := &wire.ArtifactMessage{
		Project:      project,
		ArtifactType: kind,
		Artifact:     name,
		Success:      true,
		Filename:     filename,
		LastHash:     lastHash,
	}
	raw, err := msg.Pack()
	if err != nil {
		return err
	}
	return u.send(wire.TagArtifact, raw)
}
