package worker

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/distr1/xbbs/internal/wire"
	"github.com/distr1/xbbs/internal/xbstrap"
)

// Config holds the worker process's static settings (cmd/xbbs-worker's
// command line / config file, outside this package's scope).
type Config struct {
	BuildRootBase string   // directory under which build_root is created (spec §4.9 step 1)
	Capabilities  []string
	XbstrapRunner xbstrap.Runner
}

// Runner drives a single JobMessage to completion (spec §4.9). One Runner
// is constructed per job; it is not reused.
type Runner struct {
	cfg Config
	log *log.Logger
}

func New(cfg Config, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	if cfg.XbstrapRunner == nil {
		cfg.XbstrapRunner = xbstrap.Exec{}
	}
	return &Runner{cfg: cfg, log: logger}
}

// logWriter adapts a *log.Logger to io.Writer, matching distri's
// cmd/autobuilder logWriter (used to funnel exec.Cmd's combined
// stdout/stderr into the structured logger and, from there, into
// per-line LogMessage uploads). exec.Cmd.Stdout/Stderr calls Write with
// whatever chunk the pipe read returns, which rarely lines up with line
// boundaries, so lw buffers a partial trailing line across calls and
// only emits complete lines (spec §4.9: "emits one LogMessage per line").
type logWriter struct {
	project, job string
	uploader     *Uploader
	underlying   *log.Logger

	buf []byte
}

func (lw *logWriter) Write(p []byte) (n int, err error) {
	lw.buf = append(lw.buf, p...)
	for {
		i := bytes.IndexByte(lw.buf, '\n')
		if i < 0 {
			break
		}
		lw.emit(string(lw.buf[:i+1]))
		lw.buf = lw.buf[i+1:]
	}
	return len(p), nil
}

func (lw *logWriter) emit(line string) {
	lw.underlying.Output(3, line)
	if lw.uploader != nil {
		if err := lw.uploader.Log(lw.project, lw.job, line); err != nil {
			lw.underlying.Printf("worker: log upload: %v", err)
		}
	}
}

// flush emits a final partial line left in the buffer with no trailing
// newline, so output that doesn't end in "\n" isn't silently dropped.
func (lw *logWriter) flush() {
	if len(lw.buf) == 0 {
		return
	}
	lw.emit(string(lw.buf))
	lw.buf = nil
}

func (r *Runner) runLogged(ctx context.Context, dir string, argv ...string) error {
	return r.runLoggedEnv(ctx, dir, nil, argv...)
}

func (r *Runner) runLoggedEnv(ctx context.Context, dir string, env []string, argv ...string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = env
	}
	cmd.Stdout = r.log.Writer()
	cmd.Stderr = r.log.Writer()
	if err := cmd.Run(); err != nil {
		return xerrors.Errorf("%v: %w", cmd.Args, err)
	}
	return nil
}

// Run drives msg to completion: sysroot preparation, the build-tool
// invocation, progress parsing and artifact upload, and the finally-block
// pending-product sweep (spec §4.9). It never returns a fatal error to
// the caller for job-level failures — those are reported as a non-zero
// JobCompletionMessage — only for errors dialing/using the upload channel
// itself.
func (r *Runner) Run(ctx context.Context, msg *wire.JobMessage, up *Uploader) error {
	start := time.Now()
	l := newLayout(filepath.Join(r.cfg.BuildRootBase, msg.Job))
	pending := newPendingSet(msg)
	if err := l.create(); err != nil {
		return r.finish(up, msg, l, pending, 1, start, err)
	}

	exitCode, runErr := r.drive(ctx, l, msg, up, pending)
	return r.finish(up, msg, l, pending, exitCode, start, runErr)
}

func (r *Runner) drive(ctx context.Context, l layout, msg *wire.JobMessage, up *Uploader, pending *pendingSet) (exitCode int, err error) {
	if err := r.checkoutSource(ctx, l, msg); err != nil {
		return 1, err
	}
	if err := r.setupBuildRoot(ctx, l, msg); err != nil {
		return 1, err
	}
	if err := r.writeXbpsKeys(l, msg.XbpsKeys); err != nil {
		return 1, err
	}
	arch, err := determineArchitecture(msg.NeededPkgs)
	if err != nil {
		return 1, err
	}
	if err := r.installPackages(ctx, l, msg, arch); err != nil {
		return 1, err
	}
	if err := r.fetchTools(ctx, l, msg); err != nil {
		return 1, err
	}

	progressRead, progressWrite, err := os.Pipe()
	if err != nil {
		return 1, xerrors.Errorf("worker: progress pipe: %w", err)
	}

	argv := xbstrap.RunJobArgs(3, msg.Job)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = l.Root
	lw := &logWriter{project: msg.Project, job: msg.Job, uploader: up, underlying: r.log}
	cmd.Stdout = lw
	cmd.Stderr = lw
	cmd.ExtraFiles = []*os.File{progressWrite}

	if err := cmd.Start(); err != nil {
		progressRead.Close()
		progressWrite.Close()
		return 1, xerrors.Errorf("worker: start xbstrap-pipeline: %w", err)
	}
	progressWrite.Close()

	var g errgroup.Group
	g.Go(func() error {
		defer progressRead.Close()
		return parseProgress(progressRead, func(rec progressRecord) error {
			return r.handleProgress(ctx, up, msg, l, arch, pending, rec)
		})
	})

	waitErr := cmd.Wait()
	lw.flush()
	if err := g.Wait(); err != nil {
		r.log.Printf("worker: progress stream: %v", err)
	}

	if waitErr == nil {
		return 0, nil
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return 1, waitErr
}

func (r *Runner) handleProgress(ctx context.Context, up *Uploader, msg *wire.JobMessage, l layout, arch string, pending *pendingSet, rec progressRecord) error {
	switch rec.Action {
	case "archive-tool":
		fn := filepath.Join(l.Tools, rec.Subject+".tar.gz")
		return r.sendAndStore(ctx, up, msg.Project, wire.ArtifactTool, rec.Subject, fn, rec.Status, pending.tools)
	case "pack":
		info, ok := msg.ProdPkgs[rec.Subject]
		if !ok {
			return xerrors.Errorf("worker: pack notification for unknown product %q", rec.Subject)
		}
		fileArch := info.Architecture
		if fileArch == "" {
			fileArch = "noarch"
		}
		fn := filepath.Join(l.XbpsRepo, fmt.Sprintf("%s-%s.%s.xbps", rec.Subject, info.Version, fileArch))
		if err := r.sendAndStore(ctx, up, msg.Project, wire.ArtifactPackage, rec.Subject, fn, rec.Status, pending.pkgs); err != nil {
			return err
		}
	}
	for _, af := range rec.ArtifactFiles {
		if err := r.sendAndStore(ctx, up, msg.Project, wire.ArtifactFile, af.Name, af.Filepath, rec.Status, pending.files); err != nil {
			return err
		}
	}
	return nil
}

// sendAndStore uploads one artifact (or its failure) and removes it from
// the pending set, mirroring original_source's _send_and_store /
// _run_and_pop pairing (spec §4.9 step 9: "each upload removes the
// subject from the pending product set").
func (r *Runner) sendAndStore(ctx context.Context, up *Uploader, project string, kind wire.ArtifactType, name, path, status string, pending *sync.Map) error {
	pending.Delete(name)
	if status != "success" {
		return up.Fail(project, kind, name)
	}
	return up.Artifact(ctx, project, kind, name, filepath.Base(path), path)
}

// pendingSet tracks products not yet uploaded so the finally-sweep can
// fail whatever the progress stream never reported (spec §4.9 step 11).
type pendingSet struct {
	tools, pkgs, files *sync.Map
}

func newPendingSet(msg *wire.JobMessage) *pendingSet {
	p := &pendingSet{tools: &sync.Map{}, pkgs: &sync.Map{}, files: &sync.Map{}}
	for name := range msg.ProdTools {
		p.tools.Store(name, true)
	}
	for name := range msg.ProdPkgs {
		p.pkgs.Store(name, true)
	}
	for _, name := range msg.ProdFiles {
		p.files.Store(name, true)
	}
	return p
}

func (r *Runner) finish(up *Uploader, msg *wire.JobMessage, l layout, pending *pendingSet, exitCode int, start time.Time, driveErr error) error {
	if driveErr != nil {
		r.log.Printf("worker: job %s failed: %v", msg.Job, driveErr)
	}

	// Whatever sendAndStore never removed during progress parsing (or
	// everything, if drive failed before progress parsing ran) is failed
	// here (spec §4.9 step 11).
	pending.tools.Range(func(k, _ interface{}) bool {
		up.Fail(msg.Project, wire.ArtifactTool, k.(string))
		return true
	})
	pending.pkgs.Range(func(k, _ interface{}) bool {
		up.Fail(msg.Project, wire.ArtifactPackage, k.(string))
		return true
	})
	pending.files.Range(func(k, _ interface{}) bool {
		up.Fail(msg.Project, wire.ArtifactFile, k.(string))
		return true
	})

	l.remove()

	runTime := time.Since(start).Seconds()
	if err := up.Complete(msg.Project, msg.Job, exitCode, runTime); err != nil {
		return xerrors.Errorf("worker: send completion: %w", err)
	}
	return nil
}
