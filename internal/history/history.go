// Package history implements the optional artifact-history recorder
// (spec §4.7: "record to the history database (best effort...)"). A
// project configured without artifact_history simply gets a nil
// *Recorder, and every call below is a no-op on a nil receiver: recording
// failures must never abort the artifact deposit itself (spec §4.7
// closing sentence). Grounded on github.com/jackc/pgx/v5's pool API
// (jordigilh-kubernaut/go.mod), the pack's one Postgres driver.
package history

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/xerrors"

	"github.com/distr1/xbbs/internal/model"
)

// Recorder persists artifact deposits to Postgres, keyed by (project,
// build timestamp, kind, name, version) as spec §4.7 requires.
type Recorder struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and ensures the artifacts table exists. A nil
// *Recorder is valid and every method on it is a no-op, so callers with no
// artifact_history configured can pass one around unconditionally.
func Open(ctx context.Context, dsn string) (*Recorder, error) {
	if dsn == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, xerrors.Errorf("history: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, xerrors.Errorf("history: ensure schema: %w", err)
	}
	return &Recorder{pool: pool}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS xbbs_artifacts (
	project    TEXT NOT NULL,
	build_ts   TIMESTAMPTZ NOT NULL,
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL,
	version    TEXT NOT NULL,
	digest     BYTEA NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (project, build_ts, kind, name, version)
)`

// Record persists one artifact deposit inside a single transaction. It
// returns an error for the caller to log; per spec §4.7 the caller must
// not let that error abort the deposit.
func (r *Recorder) Record(ctx context.Context, project string, buildTS time.Time, kind model.Kind, name, version string, digest []byte) error {
	if r == nil {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return xerrors.Errorf("history: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO xbbs_artifacts (project, build_ts, kind, name, version, digest)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project, build_ts, kind, name, version)
		DO UPDATE SET digest = EXCLUDED.digest, recorded_at = now()`,
		project, buildTS, string(kind), name, version, digest)
	if err != nil {
		return xerrors.Errorf("history: insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return xerrors.Errorf("history: commit: %w", err)
	}
	return nil
}

// Close releases the pool. A no-op on a nil *Recorder.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.pool.Close()
}
