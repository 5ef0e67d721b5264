package model

import (
	"sync"

	"golang.org/x/xerrors"
)

// Project is persistent coordinator configuration for one build target
// (spec §3).
type Project struct {
	Name          string
	Git           string
	PackagesRepo  string
	ToolsRepo     string
	Fingerprint   string
	Classes       []string
	Description   string
	DistfilePath  string
	MirrorRoot    string
	DefaultBranch string
	Incremental   bool

	mu      sync.Mutex
	current *Build

	// ToolRepoLock serializes read-modify-write access to the rolling
	// tools registry (tools.json), spec §4.7, §5.
	ToolRepoLock sync.Mutex
}

// ErrBuildInProgress is returned by StartBuild when a build is already
// running for this project (spec §4.8 step 1, HTTP 409 at the command
// surface).
var ErrBuildInProgress = xerrors.New("model: a build is already in progress for this project")

// StartBuild installs b as the project's current build, enforcing the
// at-most-one-active-build invariant (spec §3, §9).
func (p *Project) StartBuild(b *Build) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		return ErrBuildInProgress
	}
	p.current = b
	return nil
}

// Current returns the project's active build, if any.
func (p *Project) Current() *Build {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// FinishBuild clears the project's current build. Called once the
// build reaches DONE (spec §3: "detached from its Project ... when DONE").
func (p *Project) FinishBuild() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = nil
}
