package worker

import (
	"io"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// progressArtifactFile is one entry of a progress record's artifact_files
// list (spec §4.9 step 9).
type progressArtifactFile struct {
	Name     string `yaml:"name"`
	Filepath string `yaml:"filepath"`
}

// progressRecord is one YAML document from xbstrap-pipeline's progress
// pipe (spec §4.9 step 9: "a YAML document stream delimited by ...
// terminators"). yaml.v3's Decoder already treats "---"/"..." as document
// boundaries, so no custom splitting is needed.
type progressRecord struct {
	Action        string                 `yaml:"action"`
	Subject       string                 `yaml:"subject"`
	Status        string                 `yaml:"status"`
	ArtifactFiles []progressArtifactFile `yaml:"artifact_files"`
}

// parseProgress decodes r as a stream of progressRecords and invokes
// handle for each, in order. It stops at EOF or the first handler error.
func parseProgress(r io.Reader, handle func(progressRecord) error) error {
	dec := yaml.NewDecoder(r)
	for {
		var rec progressRecord
		err := dec.Decode(&rec)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return xerrors.Errorf("worker: decode progress record: %w", err)
		}
		if err := handle(rec); err != nil {
			return err
		}
	}
}
