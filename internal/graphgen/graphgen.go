// Package graphgen decodes the external graph generator's job-graph
// handoff into a model.GraphSpec (spec §4.2). The generator is invoked by
// the coordinator's build driver (§4.8 step 8) and, for incremental
// builds, is itself fed a JSON version summary on its stdin; both
// directions of this external-tool contract are plain JSON, so this
// package uses encoding/json rather than a pack dependency (see
// DESIGN.md: the one place SPEC_FULL.md favors the standard library).
package graphgen

import (
	"encoding/json"
	"io"

	"golang.org/x/xerrors"

	"github.com/distr1/xbbs/internal/model"
)

// artifactDescriptor mirrors the wire shape of a tool/package reference:
// {name, version, architecture} (spec §4.2).
type artifactDescriptor struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Architecture string `json:"architecture"`
}

// fileDescriptor mirrors {name, filepath}, reduced to Name by the model.
type fileDescriptor struct {
	Name     string `json:"name"`
	Filepath string `json:"filepath"`
}

type products struct {
	Tools []artifactDescriptor `json:"tools"`
	Pkgs  []artifactDescriptor `json:"pkgs"`
	Files []fileDescriptor     `json:"files"`
}

type needed struct {
	Tools []artifactDescriptor `json:"tools"`
	Pkgs  []artifactDescriptor `json:"pkgs"`
}

// jobEntry is one element of the generator's graph array; using an array
// rather than an object keyed by job name is what lets the generator's
// handoff order survive decode (spec §4.5: jobs iterate in insertion
// order), matching model.GraphEntry/GraphSpec.
type jobEntry struct {
	Name         string   `json:"name"`
	UpToDate     bool     `json:"up2date"`
	Unstable     bool     `json:"unstable"`
	Capabilities []string `json:"capabilities"`
	Products     products `json:"products"`
	Needed       needed   `json:"needed"`
}

// document is the full handoff: revision, commits_object (opaque), and
// the ordered job array.
type document struct {
	Revision      string          `json:"revision"`
	CommitsObject json.RawMessage `json:"commits_object"`
	Jobs          []jobEntry      `json:"jobs"`
}

// Decode reads one graph-generator handoff document from r and converts
// it to a model.GraphSpec, preserving job order. It does not call
// Build.SetGraph itself; the build driver calls that separately.
func Decode(r io.Reader) (revision string, commitsObject []byte, spec model.GraphSpec, err error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return "", nil, nil, xerrors.Errorf("graphgen: decode: %w", err)
	}

	spec = make(model.GraphSpec, 0, len(doc.Jobs))
	for _, je := range doc.Jobs {
		js := model.JobSpec{
			UpToDate:     je.UpToDate,
			Unstable:     je.Unstable,
			Capabilities: je.Capabilities,
			ProductTools: convertArtifacts(je.Products.Tools),
			ProductPkgs:  convertArtifacts(je.Products.Pkgs),
			ProductFiles: convertFiles(je.Products.Files),
			NeededTools:  convertArtifacts(je.Needed.Tools),
			NeededPkgs:   convertArtifacts(je.Needed.Pkgs),
		}
		spec = append(spec, model.GraphEntry{Name: je.Name, Job: js})
	}

	return doc.Revision, []byte(doc.CommitsObject), spec, nil
}

// EncodeVersionSummary writes the incremental version summary the
// coordinator pipes to the graph generator's stdin (spec §4.8 step 8).
// The summary's shape is owned by the generator's external contract; the
// core only needs to forward whatever opaque per-project state the
// rolling repos produced, so it round-trips arbitrary JSON.
func EncodeVersionSummary(w io.Writer, summary interface{}) error {
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		return xerrors.Errorf("graphgen: encode version summary: %w", err)
	}
	return nil
}

func convertArtifacts(ds []artifactDescriptor) []model.ArtifactDescriptor {
	if ds == nil {
		return nil
	}
	out := make([]model.ArtifactDescriptor, len(ds))
	for i, d := range ds {
		out[i] = model.ArtifactDescriptor{Name: d.Name, Version: d.Version, Architecture: d.Architecture}
	}
	return out
}

func convertFiles(fs []fileDescriptor) []model.FileDescriptor {
	if fs == nil {
		return nil
	}
	out := make([]model.FileDescriptor, len(fs))
	for i, f := range fs {
		out[i] = model.FileDescriptor{Name: f.Name, Filepath: f.Filepath}
	}
	return out
}
