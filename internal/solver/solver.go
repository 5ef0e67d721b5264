// Package solver implements the scheduling loop that advances a Build
// from artifact-received events to job dispatches and, eventually, a
// terminal success/failure verdict (spec §4.4, §4.5). It is not a
// background task: it is the Build driver's main loop and owns the Build
// (spec §9), run cooperatively with intake and the dispatcher publishing
// into it only through the Build's artifact_received Condition.
package solver

import (
	"context"
	"log"

	"golang.org/x/xerrors"

	"github.com/distr1/xbbs/internal/dispatch"
	"github.com/distr1/xbbs/internal/model"
	"github.com/distr1/xbbs/internal/wire"
)

// Packager assembles the JobMessage and capability set for a ready job;
// it is supplied by the build driver, which alone knows the project's
// repository URLs, repo paths, and commits object (spec §4.8).
type Packager func(j *model.Job) (capabilities []string, msg *wire.JobMessage, err error)

// Solver drives one Build to completion.
type Solver struct {
	Build       *model.Build
	Queue       *dispatch.Queue
	Package     Packager
	StoreStatus func(b *model.Build)
	Log         *log.Logger
}

// Run executes the control loop of spec §4.5 until every job is
// terminating, returning the build's overall success.
func (s *Solver) Run(ctx context.Context) (success bool, err error) {
	for {
		s.Build.ArtifactReceived.Clear()

		// Step 2: promote jobs whose products all arrived but whose
		// completion message hasn't (yet).
		for _, name := range s.Build.JobOrder {
			j := s.Build.Jobs[name]
			if j.Status == model.Running && j.ProductsReceived() {
				j.Status = model.WaitingForDone
				s.storeStatus()
			}
		}

		// Step 3: dispatch ready jobs, cascade failures of jobs whose
		// deps already failed.
		for _, name := range s.Build.JobOrder {
			j := s.Build.Jobs[name]
			if j.Status != model.Waiting {
				continue
			}
			ready, anyFailed := j.DepsReady()
			if anyFailed {
				s.Build.Fail(j)
				s.storeStatus()
				s.Build.ArtifactReceived.Set()
				continue
			}
			if !ready {
				continue
			}
			if err := s.dispatch(ctx, j); err != nil {
				return false, err
			}
		}

		// Step 4: are we done?
		if s.Build.AllTerminating() {
			if !s.allArtifactsReceived() {
				s.logf("BUG: all jobs terminating but not all artifacts received")
			}
			return s.Build.AllSuccessful(), nil
		}

		// Step 5: wait for the next artifact/failure event.
		if err := s.Build.ArtifactReceived.Wait(ctx); err != nil {
			return false, xerrors.Errorf("solver: %w", err)
		}
	}
}

func (s *Solver) dispatch(ctx context.Context, j *model.Job) error {
	caps, msg, err := s.Package(j)
	if err != nil {
		return xerrors.Errorf("solver: packaging job %s: %w", j.Name, err)
	}
	packed, err := msg.Pack()
	if err != nil {
		return xerrors.Errorf("solver: packing job %s: %w", j.Name, err)
	}
	j.Status = model.Running
	s.storeStatus()
	return s.Queue.Put(ctx, dispatch.Item{Capabilities: caps, Job: msg, Packed: packed})
}

func (s *Solver) allArtifactsReceived() bool {
	for _, a := range s.Build.AllArtifacts() {
		if !a.Received {
			return false
		}
	}
	return true
}

func (s *Solver) storeStatus() {
	if s.StoreStatus != nil {
		s.StoreStatus(s.Build)
	}
}

func (s *Solver) logf(format string, args ...interface{}) {
	if s.Log != nil {
		s.Log.Printf(format, args...)
	}
}
