package model

import "golang.org/x/xerrors"

// ArtifactDescriptor names one tool/package reference as handed to
// Build.SetGraph by the external graph generator (spec §4.2).
type ArtifactDescriptor struct {
	Name         string
	Version      string
	Architecture string
}

// FileDescriptor names a file product; Filepath is accepted but, per spec
// §4.2, reduced to Name for graph purposes.
type FileDescriptor struct {
	Name     string
	Filepath string
}

// JobSpec is the per-job entry of the mapping passed into SetGraph.
type JobSpec struct {
	UpToDate     bool
	Unstable     bool
	Capabilities []string

	ProductTools []ArtifactDescriptor
	ProductPkgs  []ArtifactDescriptor
	ProductFiles []FileDescriptor

	NeededTools []ArtifactDescriptor
	NeededPkgs  []ArtifactDescriptor
}

// GraphEntry pairs a job name with its spec; GraphSpec is a list rather
// than a Go map so that the external graph generator's handoff order
// survives into Build.JobOrder (spec §4.5: "iteration order over jobs is
// the insertion order of the graph").
type GraphEntry struct {
	Name string
	Job  JobSpec
}

// GraphSpec is the full job-name -> JobSpec mapping (spec §4.2), in
// generator handoff order.
type GraphSpec []GraphEntry

// getOrCreate returns the existing artifact for (kind, name), or inserts
// and returns a fresh one. Producers and consumers that reference the same
// name within a kind end up sharing the identical *Artifact (spec §4.2
// rule 1, tested by spec §8's shared-identity property).
func (b *Build) getOrCreate(k Kind, name string) *Artifact {
	set := b.artifactSet(k)
	if a, ok := set[name]; ok {
		return a
	}
	a := &Artifact{Kind: k, Name: name}
	set[name] = a
	return a
}

// SetGraph ingests a job graph from the external graph generator,
// establishing shared Artifact identity, the single-architecture
// invariant, and up-to-date shortcutting (spec §4.2).
func (b *Build) SetGraph(revision string, commitsObject []byte, spec GraphSpec) error {
	archSet := map[string]bool{}
	noteArch := func(k Kind, name, arch string) *Artifact {
		a := b.getOrCreate(k, name)
		if a.Architecture == "" {
			a.Architecture = arch
		}
		if IsArch(arch) {
			archSet[arch] = true
		}
		if IsArch(a.Architecture) {
			archSet[a.Architecture] = true
		}
		return a
	}

	for _, entry := range spec {
		name, js := entry.Name, entry.Job
		caps := map[string]bool{}
		for _, c := range js.Capabilities {
			caps[c] = true
		}
		j := NewJob(name, js.Unstable, caps)
		b.Jobs[name] = j
		b.JobOrder = append(b.JobOrder, name)

		for _, d := range js.ProductTools {
			a := noteArch(Tool, d.Name, d.Architecture)
			if a.Version == "" {
				a.Version = d.Version
			}
			j.Products = append(j.Products, a)
		}
		for _, d := range js.ProductPkgs {
			a := noteArch(Package, d.Name, d.Architecture)
			if a.Version == "" {
				a.Version = d.Version
			}
			j.Products = append(j.Products, a)
		}
		for _, f := range js.ProductFiles {
			a := b.getOrCreate(File, f.Name)
			j.Products = append(j.Products, a)
		}

		for _, d := range js.NeededTools {
			a := noteArch(Tool, d.Name, d.Architecture)
			j.Deps = append(j.Deps, a)
		}
		for _, d := range js.NeededPkgs {
			a := noteArch(Package, d.Name, d.Architecture)
			j.Deps = append(j.Deps, a)
		}

		for _, dep := range j.Deps {
			b.consumers[dep] = append(b.consumers[dep], j)
		}

		if js.UpToDate {
			j.Status = UpToDate
			for _, p := range j.Products {
				p.Received = true
				p.Failed = false
			}
		}
	}

	if len(archSet) > 1 {
		return xerrors.New("model: multiarch builds unsupported")
	}
	var arch string
	for a := range archSet {
		arch = a
	}
	b.arch = arch
	if arch != "" {
		// Only artifacts the generator left unset are pinned to the build's
		// concrete architecture; a noarch artifact keeps the Noarch sentinel
		// so the worker's pack step names its file "<name>-<version>.noarch.xbps"
		// instead of the build's arch (spec §4.9 step 9, §9 mixed-arch note).
		for _, set := range []map[string]*Artifact{b.ToolSet, b.PkgSet} {
			for _, a := range set {
				if a.Architecture == "" {
					a.Architecture = arch
				}
			}
		}
	}

	b.Revision = revision
	b.CommitsObject = commitsObject
	return nil
}

// Architecture returns the build's single concrete architecture, or "" if
// none has been established yet (e.g. an all-noarch build).
func (b *Build) Architecture() string { return b.arch }
