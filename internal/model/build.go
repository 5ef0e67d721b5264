package model

import (
	"fmt"
	"time"
)

// State is a Build's position in the build-driver pipeline (spec §3, §4.8).
type State int

const (
	Scheduled State = iota
	Fetch
	Setup
	UpdatingMirrors
	Calculating
	SetupRepos
	Running
	Done
)

func (s State) String() string {
	switch s {
	case Scheduled:
		return "SCHEDULED"
	case Fetch:
		return "FETCH"
	case Setup:
		return "SETUP"
	case UpdatingMirrors:
		return "UPDATING_MIRRORS"
	case Calculating:
		return "CALCULATING"
	case SetupRepos:
		return "SETUP_REPOS"
	case Running:
		return "RUNNING"
	case Done:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Build is one execution of a project's graph (spec §3).
type Build struct {
	Name           string
	Repository     string
	BuildDirectory string
	Incremental    bool
	Revision       string

	State State

	Jobs     map[string]*Job
	JobOrder []string // insertion order from the graph generator handoff

	ToolSet map[string]*Artifact
	PkgSet  map[string]*Artifact
	FileSet map[string]*Artifact

	CommitsObject []byte

	ArtifactReceived *Condition

	Success bool
	TS      time.Time

	// consumers maps an artifact to every job that lists it as a
	// dependency; built during SetGraph, used by Fail to cascade.
	consumers map[*Artifact][]*Job

	// arch is the build's single concrete (non-noarch) architecture, once
	// established by SetGraph. Empty until the first non-noarch artifact
	// is seen.
	arch string
}

// NewBuild returns an empty Build ready for SetGraph.
func NewBuild(name, repository, buildDirectory string, incremental bool, ts time.Time) *Build {
	return &Build{
		Name:             name,
		Repository:       repository,
		BuildDirectory:   buildDirectory,
		Incremental:      incremental,
		State:            Scheduled,
		Jobs:             make(map[string]*Job),
		ToolSet:          make(map[string]*Artifact),
		PkgSet:           make(map[string]*Artifact),
		FileSet:          make(map[string]*Artifact),
		ArtifactReceived: NewCondition(),
		TS:               ts,
		consumers:        make(map[*Artifact][]*Job),
	}
}

// Fail marks every product of j as received+failed (idempotently) and
// cascades transitively to every job consuming one of those products. The
// walk is an iterative worklist, not recursion, per spec §9 ("the
// recursive walk... iterative worklist preferred").
//
// j itself is driven to FAILED (or IGNORED_FAILURE if unstable); callers
// that already know j's status (e.g. the solver, which only calls Fail on
// a WAITING job) get the expected transition; Fail is also idempotent when
// called again on an already-terminal job. A job still RUNNING moves to
// WAITING_FOR_DONE instead, since its worker hasn't sent a completion
// message yet and the solver still needs to see one arrive.
func (b *Build) Fail(j *Job) {
	work := []*Job{j}
	seen := map[*Job]bool{}
	for len(work) > 0 {
		cur := work[0]
		work = work[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true

		switch {
		case cur.Status == Running:
			cur.Status = WaitingForDone
		case !cur.Status.Terminating():
			if cur.Unstable {
				cur.Status = IgnoredFailure
			} else {
				cur.Status = Failed
			}
		}

		for _, p := range cur.Products {
			if p.Received && p.Failed {
				continue // idempotent: already failed
			}
			p.MarkReceived(true)
			for _, consumer := range b.consumers[p] {
				work = append(work, consumer)
			}
		}
	}
}

// artifactSet returns the name->Artifact map for kind.
func (b *Build) artifactSet(k Kind) map[string]*Artifact {
	switch k {
	case Tool:
		return b.ToolSet
	case Package:
		return b.PkgSet
	case File:
		return b.FileSet
	default:
		panic(fmt.Sprintf("model: unknown artifact kind %q", k))
	}
}

// Lookup returns the artifact of the given kind and name, if any.
func (b *Build) Lookup(k Kind, name string) (*Artifact, bool) {
	a, ok := b.artifactSet(k)[name]
	return a, ok
}

// AllArtifacts iterates every artifact across all three kind sets.
func (b *Build) AllArtifacts() []*Artifact {
	var out []*Artifact
	for _, set := range []map[string]*Artifact{b.ToolSet, b.PkgSet, b.FileSet} {
		for _, a := range set {
			out = append(out, a)
		}
	}
	return out
}

// AllTerminating reports whether every job has reached a terminal status.
func (b *Build) AllTerminating() bool {
	for _, j := range b.Jobs {
		if !j.Status.Terminating() {
			return false
		}
	}
	return true
}

// AllSuccessful reports whether every job terminated successfully.
func (b *Build) AllSuccessful() bool {
	for _, j := range b.Jobs {
		if !j.Status.Successful() {
			return false
		}
	}
	return true
}
