// Package coordinator implements the coordinator process: the project
// registry, the build driver (spec §4.8), the command surface (spec §6),
// and the SIGUSR1 diagnostic dump (SPEC_FULL.md §3). Grounded on
// distri's cmd/autobuilder/autobuilder.go (the closest teacher analogue
// to a build driver: git fetch/checkout, stamp-style state transitions,
// renameio.Symlink for the "current" pointer, a status page) and on
// original_source/xbbs/coordinator/__init__.py for xbbs-specific
// semantics autobuilder has no equivalent of (the solver handoff, the
// intake pipeline, the command surface).
package coordinator

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/xerrors"

	"github.com/distr1/xbbs/internal/chunkstream"
	"github.com/distr1/xbbs/internal/config"
	"github.com/distr1/xbbs/internal/dispatch"
	"github.com/distr1/xbbs/internal/history"
	"github.com/distr1/xbbs/internal/intake"
	"github.com/distr1/xbbs/internal/model"
	"github.com/distr1/xbbs/internal/xbps"
	"github.com/distr1/xbbs/internal/xbstrap"
)

// Instance is the coordinator singleton for one deployment (spec §3:
// "Coordinator instance").
type Instance struct {
	ProjectBase    string
	TmpDir         string
	CollectionDir  string
	IntakeAddress  string
	WorkerEndpoint string

	Queue   *dispatch.Queue
	Chunks  *chunkstream.Table
	History *history.Recorder

	XbpsRunner    xbps.Runner
	XbstrapRunner xbstrap.Runner

	// Signer, if non-nil, signs a deposited or seeded artifact in place
	// (spec §4.7). Shared between the intake handler and seedFromRolling
	// so both paths sign the same way.
	Signer func(path, fingerprint string) error

	Log *log.Logger

	mu       sync.Mutex
	projects map[string]*model.Project
}

// New builds an Instance from a parsed Config. It does not start any
// network listeners; callers wire those separately (cmd/xbbs-coordinator).
func New(cfg *config.Config, historyRecorder *history.Recorder, logger *log.Logger) (*Instance, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	projects := make(map[string]*model.Project, len(cfg.Projects))
	for name, p := range cfg.Projects {
		projects[name] = &model.Project{
			Name:          name,
			Git:           p.Git,
			PackagesRepo:  p.Packages,
			ToolsRepo:     p.Tools,
			Fingerprint:   p.Fingerprint,
			Classes:       p.Classes,
			Description:   p.Description,
			DistfilePath:  p.DistfilePath,
			MirrorRoot:    p.MirrorRoot,
			DefaultBranch: p.DefaultBranch,
			Incremental:   p.Incremental,
		}
	}

	collectionDir := filepath.Join(cfg.ProjectBase, "_coldir")
	tmpDir := filepath.Join(cfg.ProjectBase, "_tmp")
	for _, dir := range []string{collectionDir, tmpDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, xerrors.Errorf("coordinator: create %s: %w", dir, err)
		}
	}

	return &Instance{
		ProjectBase:    cfg.ProjectBase,
		TmpDir:         tmpDir,
		CollectionDir:  collectionDir,
		IntakeAddress:  cfg.Intake,
		WorkerEndpoint: cfg.WorkerEndpoint,
		Queue:          dispatch.New(),
		Chunks:         chunkstream.New(collectionDir),
		History:        historyRecorder,
		XbpsRunner:     xbps.Exec{},
		XbstrapRunner:  xbstrap.Exec{},
		Log:            logger,
		projects:       projects,
	}, nil
}

// Project looks up a configured project by name (intake.ProjectLookup).
func (inst *Instance) Project(name string) (*model.Project, bool) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	p, ok := inst.projects[name]
	return p, ok
}

// Projects returns a snapshot of every configured project, in no
// particular order.
func (inst *Instance) Projects() []*model.Project {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	out := make([]*model.Project, 0, len(inst.projects))
	for _, p := range inst.projects {
		out = append(out, p)
	}
	return out
}

// IntakeHandler builds the intake.Handler wired to this instance's chunk
// table, history recorder, and project registry.
func (inst *Instance) IntakeHandler() *intake.Handler {
	return &intake.Handler{
		Projects:    inst.Project,
		Chunks:      inst.Chunks,
		XbpsRunner:  inst.XbpsRunner,
		History:     inst.History,
		ProjectBase: inst.ProjectBase,
		Log:         inst.Log,
		Signer:      inst.Signer,
	}
}

// dumpDiagnostics prints in-memory state to the log (SPEC_FULL.md §3,
// SIGUSR1 handler registered by cmd/xbbs-coordinator via xbbs.RegisterDiagnosticDump).
func (inst *Instance) dumpDiagnostics() {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.Log.Printf("diagnostics: %d configured projects", len(inst.projects))
	for name, p := range inst.projects {
		b := p.Current()
		if b == nil {
			inst.Log.Printf("  %s: idle", name)
			continue
		}
		inst.Log.Printf("  %s: build %s state=%s", name, b.Name, b.State)
		if b.State == model.Running {
			jg := b.BuildJobGraph()
			if acyclic, err := jg.Acyclic(); err != nil {
				inst.Log.Printf("    job graph: %v", err)
			} else if !acyclic {
				inst.Log.Printf("    job graph: cycle detected among in-flight jobs")
			}
		}
	}
}

// DumpDiagnostics is the exported hook cmd/xbbs-coordinator registers
// with xbbs.RegisterDiagnosticDump.
func (inst *Instance) DumpDiagnostics() { inst.dumpDiagnostics() }
