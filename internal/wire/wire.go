// Package wire implements the self-describing binary message vocabulary
// shared between the coordinator and workers (spec §4.1). Every message is
// a tagged, msgpack-encoded record; Pack and the Unmarshal* functions
// mirror the attrs+msgpack+valideer discipline of the original xbbs
// implementation this protocol was distilled from, minus the inheritance
// (Go structs are flat, so each message type carries its own methods
// instead of sharing a base class). Only JobMessage, ChunkMessage and
// ArtifactMessage have a Validate that their Unmarshal function applies;
// UnmarshalBuildMessage only checks that project is set, the other
// messages are decoded without checks, and unknown fields are ignored
// rather than rejected.
package wire

import (
	"fmt"
	"regexp"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/xerrors"
)

// Tag identifies the kind of frame carried on the intake socket.
type Tag string

const (
	TagChunk    Tag = "chunk"
	TagArtifact Tag = "artifact"
	TagLog      Tag = "log"
	TagJob      Tag = "job"
)

// ArtifactType enumerates the three kinds of artifact a job can produce.
type ArtifactType string

const (
	ArtifactTool    ArtifactType = "tool"
	ArtifactPackage ArtifactType = "package"
	ArtifactFile    ArtifactType = "file"
)

var fingerprintRE = regexp.MustCompile(`^([a-zA-Z0-9]{2}:){15}[a-zA-Z0-9]{2}$`)

// NameVersionArch describes one tool/package reference inside a JobMessage,
// e.g. needed_tools["gcc"] = {Version: "8.2.0", Architecture: "x86_64"}.
type NameVersionArch struct {
	Version      string `msgpack:"version"`
	Architecture string `msgpack:"architecture"`
}

// JobMessage is sent coordinator -> worker to dispatch one job (spec §4.1).
type JobMessage struct {
	Project     string                     `msgpack:"project"`
	Job         string                     `msgpack:"job"`
	Repository  string                     `msgpack:"repository"`
	Revision    string                     `msgpack:"revision"`
	Intake      string                     `msgpack:"intake"`
	BuildRoot   string                     `msgpack:"build_root"`
	NeededTools map[string]NameVersionArch `msgpack:"needed_tools"`
	NeededPkgs  map[string]NameVersionArch `msgpack:"needed_pkgs"`
	ProdTools   map[string]NameVersionArch `msgpack:"prod_tools"`
	ProdPkgs    map[string]NameVersionArch `msgpack:"prod_pkgs"`
	ProdFiles   []string                   `msgpack:"prod_files"`
	ToolRepo    string                     `msgpack:"tool_repo"`
	PkgRepo     string                     `msgpack:"pkg_repo"`
	Commits     []byte                     `msgpack:"commits_object"` // opaque
	XbpsKeys    map[string][]byte          `msgpack:"xbps_keys,omitempty"`
	MirrorRoot  string                     `msgpack:"mirror_root,omitempty"`
	DistfilePath string                    `msgpack:"distfile_path"`
}

func (m *JobMessage) Pack() ([]byte, error) { return msgpack.Marshal(m) }

func (m *JobMessage) Validate() error {
	if m.Project == "" || m.Job == "" || m.Repository == "" || m.Revision == "" {
		return xerrors.New("wire: JobMessage missing required string field")
	}
	for fp := range m.XbpsKeys {
		if !fingerprintRE.MatchString(fp) {
			return xerrors.Errorf("wire: invalid fingerprint %q", fp)
		}
	}
	return nil
}

// UnmarshalJobMessage decodes and validates a JobMessage.
func UnmarshalJobMessage(b []byte) (*JobMessage, error) {
	var m JobMessage
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, xerrors.Errorf("wire: decode JobMessage: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// JobRequest is sent worker -> coordinator on the worker_endpoint socket.
type JobRequest struct {
	Capabilities []string `msgpack:"capabilities"`
}

func (m *JobRequest) Pack() ([]byte, error) { return msgpack.Marshal(m) }

func UnmarshalJobRequest(b []byte) (*JobRequest, error) {
	var m JobRequest
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, xerrors.Errorf("wire: decode JobRequest: %w", err)
	}
	return &m, nil
}

// InitialHash is the sentinel last_hash value for the first chunk of a
// stream (spec §4.1, §4.3).
const InitialHash = "initial"

// ChunkMessage carries one piece of a content-addressed artifact stream.
type ChunkMessage struct {
	// LastHash is either InitialHash or a 64-byte BLAKE2b digest encoded as
	// raw bytes (never as the literal string "initial" once a real chain
	// digest is in play).
	LastHash []byte `msgpack:"last_hash"`
	Data     []byte `msgpack:"data"`
}

func (m *ChunkMessage) Pack() ([]byte, error) { return msgpack.Marshal(m) }

// IsInitial reports whether this chunk starts a fresh stream.
func (m *ChunkMessage) IsInitial() bool {
	return string(m.LastHash) == InitialHash
}

func (m *ChunkMessage) Validate() error {
	if !m.IsInitial() && len(m.LastHash) != 64 {
		return xerrors.Errorf("wire: ChunkMessage.LastHash must be %q or a 64-byte digest, got %d bytes", InitialHash, len(m.LastHash))
	}
	return nil
}

func UnmarshalChunkMessage(b []byte) (*ChunkMessage, error) {
	var m ChunkMessage
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, xerrors.Errorf("wire: decode ChunkMessage: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ArtifactMessage reports the completion (successful or not) of one
// artifact's upload.
type ArtifactMessage struct {
	Project      string       `msgpack:"project"`
	ArtifactType ArtifactType `msgpack:"artifact_type"`
	Artifact     string       `msgpack:"artifact"`
	Success      bool         `msgpack:"success"`
	Filename     string       `msgpack:"filename,omitempty"`
	LastHash     []byte       `msgpack:"last_hash,omitempty"`
}

func (m *ArtifactMessage) Pack() ([]byte, error) { return msgpack.Marshal(m) }

func (m *ArtifactMessage) Validate() error {
	switch m.ArtifactType {
	case ArtifactTool, ArtifactPackage, ArtifactFile:
	default:
		return xerrors.Errorf("wire: invalid artifact_type %q", m.ArtifactType)
	}
	if m.Project == "" || m.Artifact == "" {
		return xerrors.New("wire: ArtifactMessage missing project/artifact")
	}
	if m.LastHash != nil && len(m.LastHash) != 64 {
		return fmt.Errorf("wire: ArtifactMessage.LastHash must be a 64-byte digest, got %d bytes", len(m.LastHash))
	}
	return nil
}

func UnmarshalArtifactMessage(b []byte) (*ArtifactMessage, error) {
	var m ArtifactMessage
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, xerrors.Errorf("wire: decode ArtifactMessage: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LogMessage carries a single line of a job's combined stdout/stderr log.
type LogMessage struct {
	Project string `msgpack:"project"`
	Job     string `msgpack:"job"`
	Line    string `msgpack:"line"`
}

func (m *LogMessage) Pack() ([]byte, error) { return msgpack.Marshal(m) }

func UnmarshalLogMessage(b []byte) (*LogMessage, error) {
	var m LogMessage
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, xerrors.Errorf("wire: decode LogMessage: %w", err)
	}
	return &m, nil
}

// JobCompletionMessage reports the final exit status of a job's build tool.
type JobCompletionMessage struct {
	Project  string  `msgpack:"project"`
	Job      string  `msgpack:"job"`
	ExitCode int     `msgpack:"exit_code"`
	RunTime  float64 `msgpack:"run_time"`
}

func (m *JobCompletionMessage) Pack() ([]byte, error) { return msgpack.Marshal(m) }

func UnmarshalJobCompletionMessage(b []byte) (*JobCompletionMessage, error) {
	var m JobCompletionMessage
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, xerrors.Errorf("wire: decode JobCompletionMessage: %w", err)
	}
	return &m, nil
}

// BuildMessage is the payload of the `build` command.
type BuildMessage struct {
	Project     string  `msgpack:"project"`
	Delay       float64 `msgpack:"delay"`
	Incremental *bool   `msgpack:"incremental,omitempty"`
}

func (m *BuildMessage) Pack() ([]byte, error) { return msgpack.Marshal(m) }

func UnmarshalBuildMessage(b []byte) (*BuildMessage, error) {
	var m BuildMessage
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, xerrors.Errorf("wire: decode BuildMessage: %w", err)
	}
	if m.Project == "" {
		return nil, xerrors.New("wire: BuildMessage missing project")
	}
	return &m, nil
}

// ProjectStatus is one entry of StatusMessage.Projects.
type ProjectStatus struct {
	Git         string   `msgpack:"git"`
	Description string   `msgpack:"description"`
	Classes     []string `msgpack:"classes"`
	Running     bool     `msgpack:"running"`
}

// StatusMessage answers the `status` command; field set matches
// original_source's StatusMessage exactly (spec.md leaves the fields
// unspecified, see SPEC_FULL.md §3).
type StatusMessage struct {
	Hostname string                   `msgpack:"hostname"`
	Load     [3]float64               `msgpack:"load"`
	PID      int                      `msgpack:"pid"`
	Projects map[string]ProjectStatus `msgpack:"projects"`
}

func (m *StatusMessage) Pack() ([]byte, error) { return msgpack.Marshal(m) }

func UnmarshalStatusMessage(b []byte) (*StatusMessage, error) {
	var m StatusMessage
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, xerrors.Errorf("wire: decode StatusMessage: %w", err)
	}
	return &m, nil
}

// Heartbeat is an informational message a worker may emit in addition to
// the empty dispatch heartbeat frame (SPEC_FULL.md §3).
type Heartbeat struct {
	Load    [3]float64 `msgpack:"load"`
	FQDN    string     `msgpack:"fqdn"`
	Project string     `msgpack:"project,omitempty"`
	Job     string     `msgpack:"job,omitempty"`
}

func (m *Heartbeat) Pack() ([]byte, error) { return msgpack.Marshal(m) }
