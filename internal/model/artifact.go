package model

// Kind identifies what a job produces or consumes.
type Kind string

const (
	Tool    Kind = "tool"
	Package Kind = "package"
	File    Kind = "file"
)

// Artifact is an atom a job produces or consumes (spec §3). Equality is by
// (Kind, Name, Version, Architecture); Received/Failed are mutable status
// bits that fall outside equality. Artifacts are shared by identity: the
// same *Artifact appears in its producer's Products and in every
// consumer's Deps, so mutating Received/Failed on one side is visible on
// the other (spec §8, the producer/consumer identity property).
type Artifact struct {
	Kind         Kind
	Name         string
	Version      string // empty for File
	Architecture string // empty for File; a "noarch" value is kept as is by SetGraph, not replaced by the build's architecture

	Received bool
	Failed   bool
}

// MarkReceived sets Received, honoring the "never reverts" invariant: once
// true, later calls are no-ops for that bit. Failed is sticky in the other
// direction (may be set true at any point, never cleared).
func (a *Artifact) MarkReceived(failed bool) {
	a.Received = true
	if failed {
		a.Failed = true
	}
}
