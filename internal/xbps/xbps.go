// Package xbps wraps the external xbps-install/xbps-rindex binaries the
// worker and coordinator shell out to (spec §1: "out of scope ... the
// package-index tool (xbps-rindex)"; the core only defines the exact
// invocation contract it depends on, per spec §9's "frozen contract").
// Adapted from distri's own external-tool invocation style in
// internal/build/build.go and internal/batch/batch.go (exec.CommandContext
// with explicit Dir, Stdout/Stderr wiring, xerrors-wrapped failures).
package xbps

import (
	"context"
	"io"
	"os/exec"

	"golang.org/x/xerrors"
)

// Runner executes an external command; production code uses Exec, tests
// substitute a fake that records argv without touching the filesystem.
type Runner interface {
	Run(ctx context.Context, dir string, stdout, stderr io.Writer, argv ...string) error
}

// Exec runs argv via os/exec, the way distri's build.Ctx invokes its
// external tools.
type Exec struct{}

func (Exec) Run(ctx context.Context, dir string, stdout, stderr io.Writer, argv ...string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return xerrors.Errorf("%v: %w", cmd.Args, err)
	}
	return nil
}

// InstallArgs builds the xbps-install argv for sysroot population (spec
// §4.9 step 6): "xbps-install -Uy -R <pkg_repo> -r <sysroot> -SM -- <pkgs…>".
func InstallArgs(pkgRepo, sysroot string, pkgs []string) []string {
	argv := []string{"xbps-install", "-Uy", "-R", pkgRepo, "-r", sysroot, "-SM", "--"}
	return append(argv, pkgs...)
}

// RindexForceArgs rebuilds a per-build repo index unconditionally (spec
// §4.7: "run xbps-rindex -fa on the per-build repo").
func RindexForceArgs(repoDir string) []string {
	return []string{"xbps-rindex", "-fa", repoDir}
}

// RindexAddArgs adds a newly-copied artifact to the rolling repo index
// without forcing a full rebuild (spec §4.7).
func RindexAddArgs(repoDir string) []string {
	return []string{"xbps-rindex", "-a", repoDir}
}

// RindexCleanArgs removes stale entries from the rolling repo index (spec
// §4.7: "run xbps-rindex -r (clean)").
func RindexCleanArgs(repoDir string) []string {
	return []string{"xbps-rindex", "-r", repoDir}
}
