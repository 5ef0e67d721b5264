package model

// Status is a job's position in the state machine (spec §4.4).
type Status int

const (
	Waiting Status = iota
	Running
	WaitingForDone
	Success
	IgnoredFailure
	Failed
	UpToDate
	PrerequisiteFailed // defined for compatibility; not produced by the solver
)

func (s Status) String() string {
	switch s {
	case Waiting:
		return "WAITING"
	case Running:
		return "RUNNING"
	case WaitingForDone:
		return "WAITING_FOR_DONE"
	case Success:
		return "SUCCESS"
	case IgnoredFailure:
		return "IGNORED_FAILURE"
	case Failed:
		return "FAILED"
	case UpToDate:
		return "UP_TO_DATE"
	case PrerequisiteFailed:
		return "PREREQUISITE_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminating reports whether s is an end state (spec §8).
func (s Status) Terminating() bool {
	switch s {
	case Failed, Success, IgnoredFailure, UpToDate:
		return true
	default:
		return false
	}
}

// Successful reports whether s is a terminating state that counts as
// success. Successful states are a subset of terminating ones (spec §8).
func (s Status) Successful() bool {
	switch s {
	case Success, IgnoredFailure, UpToDate:
		return true
	default:
		return false
	}
}

// Job is one node of a build's dependency graph (spec §3).
type Job struct {
	Name string

	// Unstable jobs report failure as IgnoredFailure rather than Failed;
	// the failure still propagates to products/consumers.
	Unstable bool

	Deps         []*Artifact // ordered; consumed
	Products     []*Artifact // ordered; produced
	Capabilities map[string]bool

	Status   Status
	ExitCode int
	RunTime  float64
}

// NewJob returns a Job in its initial WAITING state.
func NewJob(name string, unstable bool, caps map[string]bool) *Job {
	if caps == nil {
		caps = map[string]bool{}
	}
	return &Job{
		Name:         name,
		Unstable:     unstable,
		Capabilities: caps,
		Status:       Waiting,
	}
}

// DepsReady reports whether every dependency has been received, and
// whether any of them failed.
func (j *Job) DepsReady() (ready, anyFailed bool) {
	ready = true
	for _, d := range j.Deps {
		if d.Failed {
			anyFailed = true
		}
		if !d.Received {
			ready = false
		}
	}
	return ready, anyFailed
}

// ProductsReceived reports whether every product has been marked received.
func (j *Job) ProductsReceived() bool {
	for _, p := range j.Products {
		if !p.Received {
			return false
		}
	}
	return true
}

// Complete transitions a RUNNING/WAITING_FOR_DONE job to its terminal
// status from a completion message (spec §4.4).
func (j *Job) Complete(exitCode int, runTime float64) {
	j.ExitCode = exitCode
	j.RunTime = runTime
	switch {
	case exitCode == 0:
		j.Status = Success
	case j.Unstable:
		j.Status = IgnoredFailure
	default:
		j.Status = Failed
	}
}
