// Package intake implements the coordinator's intake pipeline (spec
// §4.7): the four message kinds (chunk, artifact, log, job) that arrive
// on the one-way pull socket and drive a Build's artifacts and jobs
// toward completion. Grounded on original_source/xbbs/coordinator's
// cmd_artifact/cmd_log/cmd_job handlers and on distri's xbps-rindex
// invocation style in internal/build/build.go.
package intake

import (
	"context"
	"io"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"unicode/utf8"

	"golang.org/x/xerrors"

	"github.com/distr1/xbbs/internal/chunkstream"
	"github.com/distr1/xbbs/internal/history"
	"github.com/distr1/xbbs/internal/model"
	"github.com/distr1/xbbs/internal/wire"
	"github.com/distr1/xbbs/internal/xbps"
)

// ProjectLookup resolves a project by name; the coordinator instance
// implements it over its in-memory projects map (spec §3).
type ProjectLookup func(name string) (*model.Project, bool)

// Handler processes the four intake message kinds for one coordinator
// instance. All fields are required except History and Signer.
type Handler struct {
	Projects    ProjectLookup
	Chunks      *chunkstream.Table
	XbpsRunner  xbps.Runner
	History     *history.Recorder // nil if artifact_history isn't configured
	ProjectBase string
	Log         *log.Logger

	// Signer, if non-nil, signs a freshly deposited file in place (spec
	// §4.7: "If signing is configured, sign both copies").
	Signer func(path, fingerprint string) error
}

// Dispatch routes one intake frame pair by tag (spec §6: "Frames: [tag,
// body]").
func (h *Handler) Dispatch(ctx context.Context, tag wire.Tag, raw []byte) error {
	switch tag {
	case wire.TagChunk:
		return h.handleChunk(raw)
	case wire.TagArtifact:
		return h.handleArtifact(ctx, raw)
	case wire.TagLog:
		return h.handleLog(raw)
	case wire.TagJob:
		return h.handleJob(raw)
	default:
		return xerrors.Errorf("intake: unknown tag %q", tag)
	}
}

func (h *Handler) handleChunk(raw []byte) error {
	m, err := wire.UnmarshalChunkMessage(raw)
	if err != nil {
		return err
	}
	_, _, ok, err := h.Chunks.HandleChunk(raw, m)
	if err != nil {
		return err
	}
	if !ok {
		h.logf("intake: dropped chunk with unknown last_hash")
	}
	return nil
}

func (h *Handler) handleArtifact(ctx context.Context, raw []byte) error {
	m, err := wire.UnmarshalArtifactMessage(raw)
	if err != nil {
		return err
	}

	project, ok := h.Projects(m.Project)
	if !ok {
		return xerrors.Errorf("intake: unknown project %q", m.Project)
	}
	build := project.Current()
	if build == nil {
		h.logf("intake: artifact for %s/%s dropped, no active build", m.Project, m.Artifact)
		return nil
	}

	kind := model.Kind(m.ArtifactType)
	artifact, ok := build.Lookup(kind, m.Artifact)
	if !ok {
		return xerrors.Errorf("intake: unknown artifact %s/%s %q", m.Project, kind, m.Artifact)
	}

	if !m.Success {
		artifact.MarkReceived(true)
		build.ArtifactReceived.Set()
		return nil
	}

	entry, ok := h.Chunks.Take(m.LastHash)
	if !ok {
		h.logf("intake: artifact %s/%s reported success with no matching chunk stream", m.Project, m.Artifact)
		artifact.MarkReceived(true)
		build.ArtifactReceived.Set()
		return nil
	}
	defer build.ArtifactReceived.Set()

	if err := entry.File.Close(); err != nil {
		artifact.MarkReceived(true)
		return xerrors.Errorf("intake: close staging file: %w", err)
	}
	digest := entry.Hasher.Sum(nil)

	if h.History != nil {
		if err := h.History.Record(ctx, m.Project, build.TS, kind, m.Artifact, artifact.Version, digest); err != nil {
			h.logf("intake: history record failed (ignored): %v", err)
		}
	}

	repoSubdir := repoDirName(kind)
	dest := filepath.Join(build.BuildDirectory, repoSubdir, m.Filename)
	if err := os.Rename(entry.Path, dest); err != nil {
		artifact.MarkReceived(true)
		return xerrors.Errorf("intake: deposit %s: %w", dest, err)
	}
	artifact.MarkReceived(false)

	// A deposit failure (rindex exit, copy error) marks the artifact
	// failed rather than propagating, so the solver fails the job instead
	// of believing a successfully-received artifact is usable (spec §7:
	// "Artifact move/rindex failure -> Mark artifact failed, continue").
	var depositErr error
	switch kind {
	case model.Package:
		depositErr = h.depositPackage(ctx, project, build, m.Filename, dest)
	case model.Tool:
		depositErr = h.depositTool(ctx, project, m.Artifact, artifact.Version, m.Filename, dest)
	case model.File:
		depositErr = h.depositFile(project, m.Filename, dest)
	}
	if depositErr != nil {
		artifact.MarkReceived(true)
		h.logf("intake: deposit %s/%s failed (marked failed): %v", m.Project, m.Artifact, depositErr)
	}
	return nil
}

func repoDirName(k model.Kind) string {
	switch k {
	case model.Tool:
		return "tool_repo"
	case model.Package:
		return "package_repo"
	default:
		return "file_repo"
	}
}

// depositPackage indexes the per-build package repo and, best effort,
// mirrors the artifact into the rolling repo (spec §4.7 PACKAGE branch).
func (h *Handler) depositPackage(ctx context.Context, project *model.Project, build *model.Build, filename, srcPath string) error {
	perBuildRepo := filepath.Join(build.BuildDirectory, "package_repo")
	if err := h.XbpsRunner.Run(ctx, perBuildRepo, os.Stdout, os.Stderr, xbps.RindexForceArgs(perBuildRepo)...); err != nil {
		return xerrors.Errorf("intake: index per-build package repo: %w", err)
	}

	rollingRepo := filepath.Join(h.ProjectBase, project.Name, "rolling", "package_repo")
	if err := os.MkdirAll(rollingRepo, 0755); err != nil {
		return xerrors.Errorf("intake: create rolling package repo: %w", err)
	}
	rollingPath := filepath.Join(rollingRepo, filename)

	if _, err := os.Stat(rollingPath); err == nil {
		same, err := sameContent(srcPath, rollingPath)
		if err != nil {
			h.logf("intake: compare rolling package %s: %v", filename, err)
		} else if !same {
			h.logf("intake: ERROR rolling package %s content changed but pkgver unchanged", filename)
		}
		return nil
	}

	if err := copyFile(srcPath, rollingPath); err != nil {
		return xerrors.Errorf("intake: copy package into rolling: %w", err)
	}
	if h.Signer != nil && project.Fingerprint != "" {
		if err := h.Signer(rollingPath, project.Fingerprint); err != nil {
			h.logf("intake: sign %s: %v", rollingPath, err)
		}
	}
	if err := h.XbpsRunner.Run(ctx, rollingRepo, os.Stdout, os.Stderr, xbps.RindexAddArgs(rollingRepo)...); err != nil {
		return xerrors.Errorf("intake: index rolling package repo: %w", err)
	}
	if err := h.XbpsRunner.Run(ctx, rollingRepo, os.Stdout, os.Stderr, xbps.RindexCleanArgs(rollingRepo)...); err != nil {
		return xerrors.Errorf("intake: clean rolling package repo: %w", err)
	}
	return nil
}

// depositTool mirrors a tool tarball into the rolling tool repo, guarded
// by the project's tool-repo lock and a version registry (spec §4.7 TOOL
// branch). version is the artifact's real version (build.Lookup(...).
// Version), not the tarball filename: a tool's filename is always
// "<name>.tar.gz" regardless of version, so the registry's
// compare-and-swap must key on the version the graph generator assigned
// it (original_source's artifact.version), matching spec §6's
// {name: version} tools.json shape.
func (h *Handler) depositTool(ctx context.Context, project *model.Project, name, version, filename, srcPath string) error {
	project.ToolRepoLock.Lock()
	defer project.ToolRepoLock.Unlock()

	rollingRepo := filepath.Join(h.ProjectBase, project.Name, "rolling", "tool_repo")
	if err := os.MkdirAll(rollingRepo, 0755); err != nil {
		return xerrors.Errorf("intake: create rolling tool repo: %w", err)
	}
	registryPath := filepath.Join(rollingRepo, "tools.json")
	reg, err := loadToolRegistry(registryPath)
	if err != nil {
		return err
	}

	if existing, ok := reg[name]; ok && existing == version {
		rollingPath := filepath.Join(rollingRepo, filename)
		same, err := sameContent(srcPath, rollingPath)
		if err != nil {
			h.logf("intake: compare rolling tool %s: %v", name, err)
		} else if !same {
			h.logf("intake: ERROR rolling tool %s content changed at unchanged version %s", name, version)
		}
		return nil
	}

	rollingPath := filepath.Join(rollingRepo, filename)
	if err := copyFile(srcPath, rollingPath); err != nil {
		return xerrors.Errorf("intake: copy tool into rolling: %w", err)
	}
	reg[name] = version
	if err := saveToolRegistry(registryPath, reg); err != nil {
		return err
	}
	if h.Signer != nil && project.Fingerprint != "" {
		if err := h.Signer(rollingPath, project.Fingerprint); err != nil {
			h.logf("intake: sign %s: %v", rollingPath, err)
		}
	}
	return nil
}

func (h *Handler) depositFile(project *model.Project, filename, srcPath string) error {
	rollingRepo := filepath.Join(h.ProjectBase, project.Name, "rolling", "file_repo")
	if err := os.MkdirAll(rollingRepo, 0755); err != nil {
		return xerrors.Errorf("intake: create rolling file repo: %w", err)
	}
	if err := copyFile(srcPath, filepath.Join(rollingRepo, filename)); err != nil {
		return xerrors.Errorf("intake: copy file into rolling: %w", err)
	}
	return nil
}

func sameContent(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	const chunkSize = 64 * 1024
	bufA := make([]byte, chunkSize)
	bufB := make([]byte, chunkSize)
	for {
		na, erra := io.ReadFull(fa, bufA)
		nb, errb := io.ReadFull(fb, bufB)
		if na != nb {
			return false, nil
		}
		for i := 0; i < na; i++ {
			if bufA[i] != bufB[i] {
				return false, nil
			}
		}
		if erra == io.EOF || erra == io.ErrUnexpectedEOF {
			return errb == io.EOF || errb == io.ErrUnexpectedEOF, nil
		}
		if erra != nil {
			return false, erra
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// handleLog appends one line to <build_dir>/<job>.log, UTF-8 with
// backslash-replace fallback for invalid sequences (spec §4.7). m.Line
// already carries its own trailing newline (or none, for a final
// unterminated line) the way the worker split it, so it's written as-is
// rather than with one appended here. Lines for a project with no active
// build are dropped silently.
func (h *Handler) handleLog(raw []byte) error {
	m, err := wire.UnmarshalLogMessage(raw)
	if err != nil {
		return err
	}
	project, ok := h.Projects(m.Project)
	if !ok {
		return nil
	}
	build := project.Current()
	if build == nil {
		return nil
	}
	path := filepath.Join(build.BuildDirectory, m.Job+".log")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return xerrors.Errorf("intake: open log %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(sanitizeUTF8(m.Line)); err != nil {
		return xerrors.Errorf("intake: write log %s: %w", path, err)
	}
	return nil
}

// sanitizeUTF8 replaces invalid byte sequences with backslash escapes
// rather than silently dropping or substituting U+FFFD, matching Python's
// str.encode(errors="backslashreplace") used by original_source for the
// log pipeline.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			out = append(out, []byte("\\x"+strconv.FormatInt(int64(s[i]), 16))...)
			i++
			continue
		}
		out = append(out, s[i:i+size]...)
		i += size
	}
	return string(out)
}

// handleJob records a job's terminal status and wakes the solver (spec
// §4.7 "job" branch).
func (h *Handler) handleJob(raw []byte) error {
	m, err := wire.UnmarshalJobCompletionMessage(raw)
	if err != nil {
		return err
	}
	project, ok := h.Projects(m.Project)
	if !ok {
		return xerrors.Errorf("intake: unknown project %q", m.Project)
	}
	build := project.Current()
	if build == nil {
		return nil
	}
	job, ok := build.Jobs[m.Job]
	if !ok {
		return xerrors.Errorf("intake: unknown job %s/%s", m.Project, m.Job)
	}
	job.Complete(m.ExitCode, m.RunTime)

	infoPath := filepath.Join(build.BuildDirectory, m.Job+".info")
	info := []byte("exit_code: " + strconv.Itoa(m.ExitCode) + "\nrun_time: " + strconv.FormatFloat(m.RunTime, 'f', -1, 64) + "\nstatus: " + job.Status.String() + "\n")
	if err := ioutil.WriteFile(infoPath, info, 0644); err != nil {
		return xerrors.Errorf("intake: write %s: %w", infoPath, err)
	}

	build.ArtifactReceived.Set()
	return nil
}

func (h *Handler) logf(format string, args ...interface{}) {
	if h.Log != nil {
		h.Log.Printf(format, args...)
	}
}
