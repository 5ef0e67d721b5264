package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/distr1/xbbs/internal/model"
	"github.com/distr1/xbbs/internal/xbstrap"
)

// mergeTreeInto copies every entry of src into dst, matching
// original_source's xutils.merge_tree_into (spec §4.8 step 6: "copy the
// project's distfile_path ... over a scratch directory").
func mergeTreeInto(src, dst string) error {
	entries, err := ioutil.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := os.MkdirAll(dstPath, e.Mode()); err != nil {
				return err
			}
			if err := mergeTreeInto(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFilePreservingMode(srcPath, dstPath, e.Mode()); err != nil {
			return err
		}
	}
	return nil
}

func copyFilePreservingMode(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// runXbstrapJSON runs argv in dir and returns its raw stdout bytes for
// the caller to unmarshal as JSON (used for the "determine --json"
// and "compute-graph --json" invocations, spec §4.8 steps 7-8).
func runXbstrapJSON(ctx context.Context, runner xbstrap.Runner, dir string, argv []string) ([]byte, error) {
	var stdout bytes.Buffer
	if err := runner.Run(ctx, dir, nil, &stdout, os.Stderr, argv...); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}

// runXbstrapJSONWithStdin is runXbstrapJSON but feeds stdin a JSON
// encoding of payload (spec §4.8 step 8: "pass a JSON version summary...
// on file descriptor 0").
func runXbstrapJSONWithStdin(ctx context.Context, runner xbstrap.Runner, dir string, argv []string, payload interface{}) ([]byte, error) {
	var stdin bytes.Buffer
	if err := json.NewEncoder(&stdin).Encode(payload); err != nil {
		return nil, xerrors.Errorf("coordinator: encode version summary: %w", err)
	}
	var stdout bytes.Buffer
	if err := runner.Run(ctx, dir, &stdin, &stdout, os.Stderr, argv...); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }

// loadVersionInformation reads the rolling repos' current version state
// to hand the graph generator for an incremental build (spec §4.8 step
// 8), matching original_source's _load_version_information. The package
// half of that function parses xbps's binary repodata format directly;
// that format is an xbps-internal implementation detail with no
// exposed CLI contract to invoke instead (spec §1's "out of scope" only
// covers the package-index *tool*, not its on-disk format), so "pkgs" is
// left empty here and the generator is expected to tolerate an absent
// entry the same way it tolerates a project with no rolling packages yet.
// "tools" reads the same tools.json registry intake writes (spec §4.7).
func loadVersionInformation(projectBase, projectName string) (map[string]interface{}, error) {
	tools := map[string]string{}
	registryPath := filepath.Join(projectBase, projectName, "rolling", "tool_repo", "tools.json")
	if b, err := ioutil.ReadFile(registryPath); err == nil {
		if err := json.Unmarshal(b, &tools); err != nil {
			return nil, xerrors.Errorf("coordinator: decode tool registry: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, xerrors.Errorf("coordinator: read tool registry: %w", err)
	}

	return map[string]interface{}{
		"pkgs":  map[string]string{},
		"tools": tools,
	}, nil
}

// seedFromRolling copies every already-up-to-date artifact (Received=true
// at graph load, spec §4.2 rule 4) from <project>/rolling into the
// build's per-build repos, rebuilding the per-build package index for
// each copied package (spec §4.8 step 10). Only up-to-date artifacts
// qualify: a not-yet-received package or tool has no counterpart on disk
// to seed from, matching original_source's `if not x.received: continue`.
func (inst *Instance) seedFromRolling(ctx context.Context, project *model.Project, b *model.Build, rollBase string) error {
	packageRepo := filepath.Join(b.BuildDirectory, "package_repo")
	toolRepo := filepath.Join(b.BuildDirectory, "tool_repo")
	rollingPkgRepo := filepath.Join(rollBase, "package_repo")
	rollingToolRepo := filepath.Join(rollBase, "tool_repo")

	for _, a := range b.PkgSet {
		if !a.Received {
			continue
		}
		fileArch := a.Architecture
		fname := a.Name + "-" + a.Version + "." + fileArch + ".xbps"
		target := filepath.Join(packageRepo, fname)
		if err := copyFilePreservingMode(filepath.Join(rollingPkgRepo, fname), target, 0644); err != nil {
			return xerrors.Errorf("coordinator: seed package %s: %w", fname, err)
		}
		if err := inst.XbpsRunner.Run(ctx, packageRepo, os.Stdout, os.Stderr, "xbps-rindex", "-fa", target); err != nil {
			return xerrors.Errorf("coordinator: index seeded package %s: %w", fname, err)
		}
		if inst.Signer != nil && project.Fingerprint != "" {
			if err := inst.Signer(target, project.Fingerprint); err != nil {
				inst.Log.Printf("coordinator: sign seeded package %s: %v", fname, err)
			}
		}
	}

	for _, a := range b.ToolSet {
		if !a.Received {
			continue
		}
		fname := a.Name + ".tar.gz"
		target := filepath.Join(toolRepo, fname)
		if err := copyFilePreservingMode(filepath.Join(rollingToolRepo, fname), target, 0644); err != nil {
			return xerrors.Errorf("coordinator: seed tool %s: %w", fname, err)
		}
		if inst.Signer != nil && project.Fingerprint != "" {
			if err := inst.Signer(target, project.Fingerprint); err != nil {
				inst.Log.Printf("coordinator: sign seeded tool %s: %v", fname, err)
			}
		}
	}
	return nil
}
