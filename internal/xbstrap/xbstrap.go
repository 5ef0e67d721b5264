// Package xbstrap wraps the external xbstrap/xbstrap-mirror/xbstrap-pipeline
// binaries the build driver and worker shell out to (spec §4.8 steps 6-8,
// §4.9 step 8). Like internal/xbps, this only defines the frozen argv
// contract (spec §9, "External-tool coupling") the core depends on; it does
// not implement rolling-version resolution itself. Grounded directly on
// original_source/xbbs/coordinator/__init__.py's check_call_logged/
// check_output_logged invocations, and on distri's external-tool style in
// internal/build/build.go (exec.CommandContext with explicit Dir).
package xbstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os/exec"

	"golang.org/x/xerrors"
)

// Runner executes an external command, optionally feeding it stdin and
// capturing stdout; production code uses Exec, tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, dir string, stdin io.Reader, stdout, stderr io.Writer, argv ...string) error
}

// Exec runs argv via os/exec.
type Exec struct{}

func (Exec) Run(ctx context.Context, dir string, stdin io.Reader, stdout, stderr io.Writer, argv ...string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return xerrors.Errorf("%v: %w", cmd.Args, err)
	}
	return nil
}

// InitArgs is the build-driver init invoked from the merged distfile
// scratch directory (spec §4.8 step 6): "xbstrap init <projdir>".
func InitArgs(projectDir string) []string {
	return []string{"xbstrap", "init", projectDir}
}

// MirrorUpdateArgs runs the mirror-sync tool when the project configures
// mirror_root (spec §4.8 step 6): "xbstrap-mirror -S <projdir> update --keep-going".
func MirrorUpdateArgs(projectDir string) []string {
	return []string{"xbstrap-mirror", "-S", projectDir, "update", "--keep-going"}
}

// RollingVersionsFetchArgs and the other "fetch"/"determine" helpers below
// implement spec §4.8 step 7's rolling and variable version pipeline.
func RollingVersionsFetchArgs() []string { return []string{"xbstrap", "rolling-versions", "fetch"} }

func VariableCommitsFetchArgs() []string {
	return []string{"xbstrap", "variable-commits", "fetch", "-c"}
}

func RollingVersionsDetermineArgs() []string {
	return []string{"xbstrap", "rolling-versions", "determine", "--json"}
}

func VariableCommitsDetermineArgs() []string {
	return []string{"xbstrap", "variable-commits", "determine", "--json"}
}

// ComputeGraphArgs builds the graph-generator invocation (spec §4.8 step
// 8). When incremental is true, the caller must pipe a JSON version
// summary to the command's stdin and this appends "--version-file fd:0".
func ComputeGraphArgs(incremental bool) []string {
	argv := []string{"xbstrap-pipeline", "compute-graph", "--artifacts", "--json"}
	if incremental {
		argv = append(argv, "--version-file", "fd:0")
	}
	return argv
}

// RunJobArgs launches one job under the worker's progress-pipe protocol
// (spec §4.9 step 8): "xbstrap-pipeline run-job --keep-going
// --progress-file fd:<writeFD> <job>".
func RunJobArgs(writeFD int, job string) []string {
	return []string{
		"xbstrap-pipeline", "run-job", "--keep-going",
		"--progress-file", xbstrapFD(writeFD), job,
	}
}

func xbstrapFD(fd int) string {
	return "fd:" + itoa(fd)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// RollingIDs and VariableCommits decode the two JSON objects the
// "determine --json" commands print to stdout.
type RollingIDs map[string]string
type VariableCommits map[string]string

func DecodeRollingIDs(r io.Reader) (RollingIDs, error) {
	var out RollingIDs
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, xerrors.Errorf("xbstrap: decode rolling ids: %w", err)
	}
	return out, nil
}

func DecodeVariableCommits(r io.Reader) (VariableCommits, error) {
	var out VariableCommits
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, xerrors.Errorf("xbstrap: decode variable commits: %w", err)
	}
	return out, nil
}

// commitEntry is one value of the merged commits_object map (spec §4.8
// step 7: "rolling_id" from rolling-versions, "fixed_commit" from
// variable-commits, keyed by the same project name).
type commitEntry struct {
	RollingID   string `json:"rolling_id,omitempty"`
	FixedCommit string `json:"fixed_commit,omitempty"`
}

// MergeCommitsObject builds the commits_object the coordinator writes into
// bootstrap-commits.yml and threads into Build.SetGraph, merging the two
// "determine" outputs by key the way original_source's coordinator does.
func MergeCommitsObject(rolling RollingIDs, variable VariableCommits) map[string]json.RawMessage {
	merged := map[string]*commitEntry{}
	get := func(k string) *commitEntry {
		e, ok := merged[k]
		if !ok {
			e = &commitEntry{}
			merged[k] = e
		}
		return e
	}
	for k, v := range rolling {
		get(k).RollingID = v
	}
	for k, v := range variable {
		get(k).FixedCommit = v
	}
	out := make(map[string]json.RawMessage, len(merged))
	for k, e := range merged {
		b, _ := json.Marshal(e)
		out[k] = b
	}
	return out
}

// BootstrapCommitsYAML renders the bootstrap-commits.yml contents (spec
// §4.8 step 7, §4.9 step 3): despite the .yml extension, original_source
// writes it with json.dump, and plain JSON is valid YAML, so this keeps
// that exact behavior.
func BootstrapCommitsYAML(commits map[string]json.RawMessage, mirrorRoot string) ([]byte, error) {
	doc := struct {
		General *generalSection            `json:"general,omitempty"`
		Commits map[string]json.RawMessage `json:"commits"`
	}{
		Commits: commits,
	}
	if mirrorRoot != "" {
		doc.General = &generalSection{XbstrapMirror: mirrorRoot}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(doc); err != nil {
		return nil, xerrors.Errorf("xbstrap: encode bootstrap-commits: %w", err)
	}
	return buf.Bytes(), nil
}

type generalSection struct {
	XbstrapMirror string `json:"xbstrap_mirror"`
}
