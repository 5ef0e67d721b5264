package coordinator

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/distr1/xbbs/internal/graphgen"
	"github.com/distr1/xbbs/internal/model"
	"github.com/distr1/xbbs/internal/solver"
	"github.com/distr1/xbbs/internal/trace"
	"github.com/distr1/xbbs/internal/wire"
	"github.com/distr1/xbbs/internal/xbstrap"
)

// BuildRoot is the absolute path workers are told to stage builds under
// (spec §6 config: "build_root (absolute)"); it is a single coordinator-
// wide value, not per-project.
var BuildRoot string

// Build drives one project's build from SCHEDULED to DONE (spec §4.8).
// Any error marks the build failed; DONE is always reached.
func (inst *Instance) Build(ctx context.Context, projectName string, delay time.Duration, incremental *bool) error {
	project, ok := inst.Project(projectName)
	if !ok {
		return xerrors.Errorf("coordinator: unknown project %q", projectName)
	}

	inc := project.Incremental
	if incremental != nil {
		inc = *incremental
	}

	ts := time.Now().UTC()
	buildDir := filepath.Join(inst.ProjectBase, projectName, ts.Format("20060102_150405"))
	if err := os.MkdirAll(buildDir, 0755); err != nil {
		return xerrors.Errorf("coordinator: create build directory: %w", err)
	}
	for _, sub := range []string{"package_repo", "tool_repo"} {
		if err := os.MkdirAll(filepath.Join(buildDir, sub), 0755); err != nil {
			return xerrors.Errorf("coordinator: create %s: %w", sub, err)
		}
	}

	b := model.NewBuild(projectName, project.Git, buildDir, inc, ts)
	if err := project.StartBuild(b); err != nil {
		return err // already an xerrors value (ErrBuildInProgress)
	}
	defer project.FinishBuild()

	logger := log.New(inst.Log.Writer(), "["+projectName+"/build] ", log.LstdFlags)

	if err := storeStatus(b, nil); err != nil {
		logger.Printf("store_status: %v", err)
	}

	var success bool
	defer func() {
		b.State = model.Done
		b.Success = success
		if storeErr := storeStatus(b, &success); storeErr != nil {
			logger.Printf("store_status: %v", storeErr)
		}
	}()

	lockPath := filepath.Join(buildDir, "coordinator")
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return xerrors.Errorf("coordinator: lock %s: %w", lockPath, err)
	}
	if !locked {
		return xerrors.New("coordinator: another coordinator holds the build lock")
	}
	defer fl.Unlock()

	currentLink := filepath.Join(inst.ProjectBase, projectName, "current")
	if err := renameio.Symlink(buildDir, currentLink); err != nil {
		return xerrors.Errorf("coordinator: update current symlink: %w", err)
	}
	defer os.Remove(currentLink)

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	success, err = inst.runBuild(ctx, project, b, logger)
	return err
}

// setState transitions b to s, stores status, and closes out the trace
// event for the prior state (if any) before opening one for s, so the
// Chrome trace file (spec's build-driver instrumentation) carries one
// duration event per model.State the build passes through.
func setState(b *model.Build, ev *trace.PendingEvent, s model.State) *trace.PendingEvent {
	if ev != nil {
		ev.Done()
	}
	b.State = s
	_ = storeStatus(b, nil)
	return trace.Event(b.Name+"/"+s.String(), 0)
}

func (inst *Instance) runBuild(ctx context.Context, project *model.Project, b *model.Build, logger *log.Logger) (bool, error) {
	projDir, err := ioutil.TempDir(inst.TmpDir, "xbbs-proj-")
	if err != nil {
		return false, xerrors.Errorf("coordinator: create scratch project dir: %w", err)
	}
	defer os.RemoveAll(projDir)

	ev := setState(b, nil, model.Fetch)
	defer func() { ev.Done() }()
	if err := runLogged(ctx, logger, projDir, "git", "init"); err != nil {
		return false, err
	}
	if err := runLogged(ctx, logger, projDir, "git", "remote", "add", "origin", project.Git); err != nil {
		return false, err
	}
	if err := runLogged(ctx, logger, projDir, "git", "fetch", "origin"); err != nil {
		return false, err
	}
	refspec := "origin/" + project.DefaultBranch
	if err := runLogged(ctx, logger, projDir, "git", "checkout", "--detach", refspec); err != nil {
		return false, err
	}
	revision, err := runLoggedOutput(ctx, logger, projDir, "git", "rev-parse", "HEAD")
	if err != nil {
		return false, err
	}

	ev = setState(b, ev, model.Setup)
	scratch, err := ioutil.TempDir(inst.TmpDir, "xbbs-setup-")
	if err != nil {
		return false, xerrors.Errorf("coordinator: create setup scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	distfiles := filepath.Join(projDir, project.DistfilePath)
	if fi, err := os.Stat(distfiles); err == nil && fi.IsDir() {
		if err := mergeTreeInto(distfiles, scratch); err != nil {
			return false, xerrors.Errorf("coordinator: merge distfiles: %w", err)
		}
	}
	if err := inst.XbstrapRunner.Run(ctx, scratch, logger.Writer(), logger.Writer(), xbstrap.InitArgs(projDir)...); err != nil {
		return false, xerrors.Errorf("coordinator: xbstrap init: %w", err)
	}

	if project.MirrorRoot != "" {
		ev = setState(b, ev, model.UpdatingMirrors)
		mirrorBuildDir := filepath.Join(inst.ProjectBase, "mirror_build")
		if err := os.MkdirAll(mirrorBuildDir, 0755); err != nil {
			return false, xerrors.Errorf("coordinator: create mirror build dir: %w", err)
		}
		if err := inst.XbstrapRunner.Run(ctx, mirrorBuildDir, logger.Writer(), logger.Writer(), xbstrap.MirrorUpdateArgs(projDir)...); err != nil {
			return false, xerrors.Errorf("coordinator: xbstrap-mirror: %w", err)
		}
	}

	if err := inst.XbstrapRunner.Run(ctx, scratch, logger.Writer(), logger.Writer(), xbstrap.RollingVersionsFetchArgs()...); err != nil {
		return false, xerrors.Errorf("coordinator: rolling-versions fetch: %w", err)
	}
	if err := inst.XbstrapRunner.Run(ctx, scratch, logger.Writer(), logger.Writer(), xbstrap.VariableCommitsFetchArgs()...); err != nil {
		return false, xerrors.Errorf("coordinator: variable-commits fetch: %w", err)
	}
	rollingIDs, err := runXbstrapJSON(ctx, inst.XbstrapRunner, scratch, xbstrap.RollingVersionsDetermineArgs())
	if err != nil {
		return false, xerrors.Errorf("coordinator: rolling-versions determine: %w", err)
	}
	variableCommits, err := runXbstrapJSON(ctx, inst.XbstrapRunner, scratch, xbstrap.VariableCommitsDetermineArgs())
	if err != nil {
		return false, xerrors.Errorf("coordinator: variable-commits determine: %w", err)
	}
	var rIDs xbstrap.RollingIDs
	if err := json.Unmarshal(rollingIDs, &rIDs); err != nil {
		return false, xerrors.Errorf("coordinator: decode rolling ids: %w", err)
	}
	var vCommits xbstrap.VariableCommits
	if err := json.Unmarshal(variableCommits, &vCommits); err != nil {
		return false, xerrors.Errorf("coordinator: decode variable commits: %w", err)
	}
	commitsObject := xbstrap.MergeCommitsObject(rIDs, vCommits)

	bootstrapYAML, err := xbstrap.BootstrapCommitsYAML(commitsObject, project.MirrorRoot)
	if err != nil {
		return false, err
	}
	if err := ioutil.WriteFile(filepath.Join(projDir, "bootstrap-commits.yml"), bootstrapYAML, 0644); err != nil {
		return false, xerrors.Errorf("coordinator: write bootstrap-commits.yml: %w", err)
	}

	ev = setState(b, ev, model.Calculating)
	graphArgs := xbstrap.ComputeGraphArgs(b.Incremental)
	var graphOut []byte
	if b.Incremental {
		vi, err := loadVersionInformation(inst.ProjectBase, project.Name)
		if err != nil {
			return false, err
		}
		graphOut, err = runXbstrapJSONWithStdin(ctx, inst.XbstrapRunner, scratch, graphArgs, vi)
		if err != nil {
			return false, xerrors.Errorf("coordinator: compute-graph: %w", err)
		}
	} else {
		graphOut, err = runXbstrapJSON(ctx, inst.XbstrapRunner, scratch, graphArgs)
		if err != nil {
			return false, xerrors.Errorf("coordinator: compute-graph: %w", err)
		}
	}

	commitsJSON, err := json.Marshal(struct {
		Commits map[string]json.RawMessage `json:"commits"`
	}{Commits: commitsObject})
	if err != nil {
		return false, xerrors.Errorf("coordinator: encode commits_object: %w", err)
	}

	_, _, graphSpec, err := graphgen.Decode(bytesReader(graphOut))
	if err != nil {
		return false, xerrors.Errorf("coordinator: decode graph: %w", err)
	}
	if err := b.SetGraph(revision, commitsJSON, graphSpec); err != nil {
		return false, xerrors.Errorf("coordinator: set_graph: %w", err)
	}

	rollBase := filepath.Join(inst.ProjectBase, project.Name, "rolling")
	if _, err := os.Stat(rollBase); err == nil && b.Incremental {
		ev = setState(b, ev, model.SetupRepos)
		if err := inst.seedFromRolling(ctx, project, b, rollBase); err != nil {
			return false, err
		}
	} else {
		os.RemoveAll(rollBase)
	}

	ev = setState(b, ev, model.Running)

	s := &solver.Solver{
		Build:       b,
		Queue:       inst.Queue,
		Package:     inst.packager(project, b),
		StoreStatus: func(b *model.Build) { _ = storeStatus(b, nil) },
		Log:         logger,
	}
	return s.Run(ctx)
}

// packager builds the per-job JobMessage packager (original_source
// coordinator/__init__.py's inline jobreq construction).
func (inst *Instance) packager(project *model.Project, b *model.Build) solver.Packager {
	return func(j *model.Job) ([]string, *wire.JobMessage, error) {
		neededTools := map[string]wire.NameVersionArch{}
		neededPkgs := map[string]wire.NameVersionArch{}
		for _, d := range j.Deps {
			nva := wire.NameVersionArch{Version: d.Version, Architecture: d.Architecture}
			switch d.Kind {
			case model.Tool:
				neededTools[d.Name] = nva
			case model.Package:
				neededPkgs[d.Name] = nva
			}
		}
		prodTools := map[string]wire.NameVersionArch{}
		prodPkgs := map[string]wire.NameVersionArch{}
		var prodFiles []string
		for _, p := range j.Products {
			nva := wire.NameVersionArch{Version: p.Version, Architecture: p.Architecture}
			switch p.Kind {
			case model.Tool:
				prodTools[p.Name] = nva
			case model.Package:
				prodPkgs[p.Name] = nva
			case model.File:
				prodFiles = append(prodFiles, p.Name)
			}
		}

		var keys map[string][]byte
		if project.Fingerprint != "" {
			pubkey := filepath.Join(inst.ProjectBase, project.Name, project.Fingerprint+".plist")
			pubkeyBytes, err := ioutil.ReadFile(pubkey)
			if err == nil {
				keys = map[string][]byte{project.Fingerprint: pubkeyBytes}
			}
		}

		msg := &wire.JobMessage{
			Project:      b.Name,
			Job:          j.Name,
			Repository:   b.Repository,
			Revision:     b.Revision,
			Intake:       inst.IntakeAddress,
			BuildRoot:    BuildRoot,
			NeededTools:  neededTools,
			NeededPkgs:   neededPkgs,
			ProdTools:    prodTools,
			ProdPkgs:     prodPkgs,
			ProdFiles:    prodFiles,
			ToolRepo:     project.ToolsRepo,
			PkgRepo:      project.PackagesRepo,
			Commits:      b.CommitsObject,
			XbpsKeys:     keys,
			MirrorRoot:   project.MirrorRoot,
			DistfilePath: project.DistfilePath,
		}
		if err := msg.Validate(); err != nil {
			return nil, nil, err
		}

		caps := make([]string, 0, len(j.Capabilities))
		for c := range j.Capabilities {
			caps = append(caps, c)
		}
		return caps, msg, nil
	}
}

func runLogged(ctx context.Context, logger *log.Logger, dir string, argv ...string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = logger.Writer()
	cmd.Stderr = logger.Writer()
	if err := cmd.Run(); err != nil {
		return xerrors.Errorf("%v: %w", cmd.Args, err)
	}
	return nil
}

func runLoggedOutput(ctx context.Context, logger *log.Logger, dir string, argv ...string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stderr = logger.Writer()
	out, err := cmd.Output()
	if err != nil {
		return "", xerrors.Errorf("%v: %w", cmd.Args, err)
	}
	return trimTrailingNewline(string(out)), nil
}

func trimTrailingNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
