package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/klauspost/pgzip"
	"golang.org/x/xerrors"

	"github.com/distr1/xbbs/internal/wire"
	"github.com/distr1/xbbs/internal/xbps"
	"github.com/distr1/xbbs/internal/xbstrap"
)

// layout is the set of directories a job runs in under BuildRoot (spec
// §4.9 step 1).
type layout struct {
	Root     string // build_root
	Src      string // build_root.src
	Tools    string // build_root/tools
	Sysroot  string // build_root/system-root
	XbpsRepo string // build_root/xbps-repo
}

func newLayout(buildRoot string) layout {
	return layout{
		Root:     buildRoot,
		Src:      buildRoot + ".src",
		Tools:    filepath.Join(buildRoot, "tools"),
		Sysroot:  filepath.Join(buildRoot, "system-root"),
		XbpsRepo: filepath.Join(buildRoot, "xbps-repo"),
	}
}

func (l layout) create() error {
	for _, dir := range []string{l.Root, l.Src, l.Tools, l.Sysroot, l.XbpsRepo} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return xerrors.Errorf("worker: mkdir %s: %w", dir, err)
		}
	}
	return nil
}

func (l layout) remove() {
	os.RemoveAll(l.Root)
	os.RemoveAll(l.Src)
}

// checkoutSource git-inits l.Src, fetches msg.Repository, and checks out
// msg.Revision detached (spec §4.9 step 2, same shape as the coordinator
// build driver's FETCH state).
func (r *Runner) checkoutSource(ctx context.Context, l layout, msg *wire.JobMessage) error {
	for _, argv := range [][]string{
		{"git", "init"},
		{"git", "remote", "add", "origin", msg.Repository},
		{"git", "fetch", "--depth=1", "origin", msg.Revision},
		{"git", "checkout", "--detach", "FETCH_HEAD"},
	} {
		if err := r.runLogged(ctx, l.Src, argv...); err != nil {
			return xerrors.Errorf("worker: %v: %w", argv, err)
		}
	}
	return nil
}

// setupBuildRoot merges the distfile_path tree over the build root, runs
// xbstrap init, and writes bootstrap-commits.yml (spec §4.9 step 3).
func (r *Runner) setupBuildRoot(ctx context.Context, l layout, msg *wire.JobMessage) error {
	if msg.DistfilePath != "" {
		src := filepath.Join(l.Src, msg.DistfilePath)
		if _, err := os.Stat(src); err == nil {
			if err := mergeTreeInto(src, l.Root); err != nil {
				return xerrors.Errorf("worker: merge distfiles: %w", err)
			}
		}
	}
	if err := r.cfg.XbstrapRunner.Run(ctx, l.Root, nil, r.log.Writer(), r.log.Writer(), xbstrap.InitArgs(l.Src)...); err != nil {
		return xerrors.Errorf("worker: xbstrap init: %w", err)
	}

	var general struct {
		XbstrapMirror string `json:"xbstrap_mirror,omitempty"`
	}
	general.XbstrapMirror = msg.MirrorRoot
	doc := struct {
		General interface{}     `json:"general"`
		Commits json.RawMessage `json:"commits"`
	}{General: general, Commits: msg.Commits}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return xerrors.Errorf("worker: encode bootstrap-commits.yml: %w", err)
	}
	return renameio.WriteFile(filepath.Join(l.Root, "bootstrap-commits.yml"), b, 0644)
}

// writeXbpsKeys writes each signing key plist verbatim (spec §4.9 step 4).
func (r *Runner) writeXbpsKeys(l layout, keys map[string][]byte) error {
	if len(keys) == 0 {
		return nil
	}
	keysDir := filepath.Join(l.Sysroot, "var", "db", "xbps", "keys")
	if err := os.MkdirAll(keysDir, 0755); err != nil {
		return err
	}
	for fingerprint, blob := range keys {
		path := filepath.Join(keysDir, fingerprint+".plist")
		if err := renameio.WriteFile(path, blob, 0644); err != nil {
			return xerrors.Errorf("worker: write xbps key %s: %w", fingerprint, err)
		}
	}
	return nil
}

// determineArchitecture enforces the single-architecture-per-sysroot
// invariant over msg.NeededPkgs (spec §4.9 step 5, mirroring the
// multiarch rejection in model.GraphSpec's ingestion).
func determineArchitecture(neededPkgs map[string]wire.NameVersionArch) (string, error) {
	arch := ""
	for _, pkg := range neededPkgs {
		if pkg.Architecture == "" || pkg.Architecture == "noarch" {
			continue
		}
		if arch == "" {
			arch = pkg.Architecture
			continue
		}
		if arch != pkg.Architecture {
			return "", xerrors.New("worker: multiarch sysroots are not possible")
		}
	}
	return arch, nil
}

// installPackages runs xbps-install against the job's pkg_repo, then
// repopulates l.XbpsRepo from the local xbps cache, re-indexing each
// cached package (spec §4.9 step 6).
func (r *Runner) installPackages(ctx context.Context, l layout, msg *wire.JobMessage, arch string) error {
	if len(msg.NeededPkgs) == 0 {
		return nil
	}
	pkgs := make([]string, 0, len(msg.NeededPkgs))
	for name := range msg.NeededPkgs {
		pkgs = append(pkgs, name)
	}

	cmd := xbps.InstallArgs(msg.PkgRepo, l.Sysroot, pkgs)
	env := append(os.Environ(), "XBPS_ARCH="+arch)
	if err := r.runLoggedEnv(ctx, l.Root, env, cmd...); err != nil {
		return xerrors.Errorf("worker: xbps-install: %w", err)
	}

	cacheDir := filepath.Join(l.Sysroot, "var", "cache", "xbps")
	entries, err := ioutil.ReadDir(cacheDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return xerrors.Errorf("worker: read xbps cache: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".xbps") {
			continue
		}
		src := filepath.Join(cacheDir, e.Name())
		dst := filepath.Join(l.XbpsRepo, e.Name())
		if err := copyFilePreservingMode(src, dst, 0644); err != nil {
			return xerrors.Errorf("worker: repopulate xbps-repo %s: %w", e.Name(), err)
		}
		if err := r.runLogged(ctx, l.XbpsRepo, xbps.RindexForceArgs(dst)...); err != nil {
			return xerrors.Errorf("worker: index cached package %s: %w", e.Name(), err)
		}
	}
	return nil
}

// fetchTools downloads and extracts every needed tool tarball into
// l.Tools/<name> (spec §4.9 step 7). http(s) URLs are fetched with a GET;
// file:// URLs are copied directly, matching original_source's dual
// transport for tool_repo addresses.
func (r *Runner) fetchTools(ctx context.Context, l layout, msg *wire.JobMessage) error {
	for name := range msg.NeededTools {
		src := strings.TrimRight(msg.ToolRepo, "/") + "/" + name + ".tar.gz"
		dest := filepath.Join(l.Tools, name)
		if err := os.MkdirAll(dest, 0755); err != nil {
			return err
		}
		rc, err := openTarballSource(ctx, src)
		if err != nil {
			return xerrors.Errorf("worker: fetch tool %s: %w", name, err)
		}
		err = extractTarGz(rc, dest)
		rc.Close()
		if err != nil {
			return xerrors.Errorf("worker: extract tool %s: %w", name, err)
		}
	}
	return nil
}

func openTarballSource(ctx context.Context, src string) (io.ReadCloser, error) {
	u, err := url.Parse(src)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("GET %s: %s", src, resp.Status)
		}
		return resp.Body, nil
	case "file", "":
		return os.Open(u.Path)
	default:
		return nil, xerrors.Errorf("worker: unsupported tool_repo scheme %q", u.Scheme)
	}
}

// extractTarGz decompresses r with pgzip (the teacher pack's concurrent
// gzip implementation) and unpacks its tar stream under dest.
func extractTarGz(r io.Reader, dest string) error {
	gz, err := pgzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()
	return untar(gz, dest)
}
