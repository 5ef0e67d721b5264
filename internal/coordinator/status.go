package coordinator

import (
	"encoding/json"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/distr1/xbbs/internal/model"
)

// jobStatus mirrors one entry of the "jobs" map in the coordinator status
// file (spec §4.4: "store_status() emits a JSON snapshot").
type jobStatus struct {
	Status   string           `json:"status"`
	Deps     []artifactStatus `json:"deps"`
	Products []artifactStatus `json:"products"`
	ExitCode *int             `json:"exit_code,omitempty"`
	RunTime  *float64         `json:"run_time,omitempty"`
}

type artifactStatus struct {
	Kind         string `json:"kind"`
	Name         string `json:"name"`
	Version      string `json:"version,omitempty"`
	Architecture string `json:"architecture,omitempty"`
	Received     bool   `json:"received"`
	Failed       bool   `json:"failed"`
}

type buildStatus struct {
	State         string               `json:"state"`
	Jobs          map[string]jobStatus `json:"jobs"`
	Incremental   bool                 `json:"incremental"`
	CommitsObject json.RawMessage      `json:"commits_object,omitempty"`
	Revision      string               `json:"revision"`
	Success       *bool                `json:"success,omitempty"`
}

func toArtifactStatus(a *model.Artifact) artifactStatus {
	return artifactStatus{
		Kind:         string(a.Kind),
		Name:         a.Name,
		Version:      a.Version,
		Architecture: a.Architecture,
		Received:     a.Received,
		Failed:       a.Failed,
	}
}

// storeStatus writes the build's JSON status snapshot to
// "<build_dir>/coordinator" (spec §4.4, §4.8 step 2: the same path also
// carries the advisory file lock, as in original_source).
func storeStatus(b *model.Build, success *bool) error {
	jobs := make(map[string]jobStatus, len(b.Jobs))
	for name, j := range b.Jobs {
		deps := make([]artifactStatus, len(j.Deps))
		for i, d := range j.Deps {
			deps[i] = toArtifactStatus(d)
		}
		products := make([]artifactStatus, len(j.Products))
		for i, p := range j.Products {
			products[i] = toArtifactStatus(p)
		}
		js := jobStatus{
			Status:   j.Status.String(),
			Deps:     deps,
			Products: products,
		}
		if j.Status.Terminating() && j.Status != model.UpToDate {
			ec, rt := j.ExitCode, j.RunTime
			js.ExitCode = &ec
			js.RunTime = &rt
		}
		jobs[name] = js
	}

	st := buildStatus{
		State:         b.State.String(),
		Jobs:          jobs,
		Incremental:   b.Incremental,
		CommitsObject: b.CommitsObject,
		Revision:      b.Revision,
		Success:       success,
	}

	path := filepath.Join(b.BuildDirectory, "coordinator")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return xerrors.Errorf("coordinator: open status file: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	if err := enc.Encode(st); err != nil {
		return xerrors.Errorf("coordinator: write status file: %w", err)
	}
	return nil
}
