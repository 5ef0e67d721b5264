package intake

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/distr1/xbbs/internal/chunkstream"
	"github.com/distr1/xbbs/internal/model"
	"github.com/distr1/xbbs/internal/wire"
	"github.com/distr1/xbbs/internal/xbps"
)

// failingXbpsRunner always errors, simulating an xbps-rindex failure so
// deposit-failure handling can be exercised without shelling out.
type failingXbpsRunner struct{}

func (failingXbpsRunner) Run(ctx context.Context, dir string, stdout, stderr io.Writer, argv ...string) error {
	return errors.New("simulated xbps-rindex failure")
}

var _ xbps.Runner = failingXbpsRunner{}

func newTestProject(t *testing.T) (*model.Project, *model.Build) {
	t.Helper()
	buildDir := t.TempDir()
	for _, sub := range []string{"tool_repo", "package_repo", "file_repo"} {
		if err := os.MkdirAll(filepath.Join(buildDir, sub), 0755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
	}
	build := model.NewBuild("demo", "git://example", buildDir, false, time.Now())
	if err := build.SetGraph("rev", nil, model.GraphSpec{
		{Name: "job1", Job: model.JobSpec{
			ProductPkgs: []model.ArtifactDescriptor{{Name: "foo", Version: "1.0", Architecture: "x86_64"}},
		}},
	}); err != nil {
		t.Fatalf("SetGraph: %v", err)
	}
	project := &model.Project{Name: "demo"}
	if err := project.StartBuild(build); err != nil {
		t.Fatalf("StartBuild: %v", err)
	}
	return project, build
}

func TestHandleArtifactFailureMarksReceivedFailed(t *testing.T) {
	project, build := newTestProject(t)
	h := &Handler{
		Projects: func(name string) (*model.Project, bool) {
			if name == project.Name {
				return project, true
			}
			return nil, false
		},
		Chunks:      chunkstream.New(t.TempDir()),
		ProjectBase: t.TempDir(),
	}

	msg := &wire.ArtifactMessage{
		Project:      "demo",
		ArtifactType: wire.ArtifactPackage,
		Artifact:     "foo",
		Success:      false,
	}
	raw, err := msg.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if err := h.Dispatch(context.Background(), wire.TagArtifact, raw); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	a, ok := build.Lookup(model.Package, "foo")
	if !ok {
		t.Fatalf("artifact not found")
	}
	if !a.Received || !a.Failed {
		t.Fatalf("artifact = %+v, want Received=true Failed=true", a)
	}
}

func TestHandleLogDropsForUnknownProject(t *testing.T) {
	h := &Handler{
		Projects: func(name string) (*model.Project, bool) { return nil, false },
	}
	msg := &wire.LogMessage{Project: "nope", Job: "j", Line: "hello"}
	raw, err := msg.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if err := h.Dispatch(context.Background(), wire.TagLog, raw); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
}

func TestSanitizeUTF8PassesValidStrings(t *testing.T) {
	if sanitizeUTF8("hello world") != "hello world" {
		t.Fatalf("valid UTF-8 string was altered")
	}
}

func TestToolRegistryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.json")
	reg, err := loadToolRegistry(path)
	if err != nil {
		t.Fatalf("loadToolRegistry (missing file): %v", err)
	}
	reg["gcc"] = "8.2.0"
	if err := saveToolRegistry(path, reg); err != nil {
		t.Fatalf("saveToolRegistry: %v", err)
	}
	reloaded, err := loadToolRegistry(path)
	if err != nil {
		t.Fatalf("loadToolRegistry: %v", err)
	}
	if reloaded["gcc"] != "8.2.0" {
		t.Fatalf("reloaded registry = %+v", reloaded)
	}
}

func TestDepositToolKeysRegistryByVersionNotFilename(t *testing.T) {
	h := &Handler{ProjectBase: t.TempDir()}
	project := &model.Project{Name: "demo"}

	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "gcc.tar.gz")
	if err := os.WriteFile(src, []byte("tarball-v1"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// Every tool tarball is named "<name>.tar.gz" regardless of version,
	// so the registry must key on the version argument, not filename.
	if err := h.depositTool(context.Background(), project, "gcc", "8.2.0", "gcc.tar.gz", src); err != nil {
		t.Fatalf("depositTool: %v", err)
	}

	registryPath := filepath.Join(h.ProjectBase, "demo", "rolling", "tool_repo", "tools.json")
	reg, err := loadToolRegistry(registryPath)
	if err != nil {
		t.Fatalf("loadToolRegistry: %v", err)
	}
	if reg["gcc"] != "8.2.0" {
		t.Fatalf("registry[gcc] = %q, want the version 8.2.0, not the filename", reg["gcc"])
	}

	// A redeposit of the same version with unchanged content is a no-op;
	// a redeposit under a new version must still overwrite the registry
	// entry and the rolling tarball, which a registry keyed on the filename
	// would never allow (every filename is identical, so the
	// compare-and-swap would always short-circuit).
	src2 := filepath.Join(srcDir, "gcc2.tar.gz")
	if err := os.WriteFile(src2, []byte("tarball-v2"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := h.depositTool(context.Background(), project, "gcc", "8.3.0", "gcc.tar.gz", src2); err != nil {
		t.Fatalf("depositTool (new version): %v", err)
	}
	reg, err = loadToolRegistry(registryPath)
	if err != nil {
		t.Fatalf("loadToolRegistry: %v", err)
	}
	if reg["gcc"] != "8.3.0" {
		t.Fatalf("registry[gcc] = %q after version bump, want 8.3.0", reg["gcc"])
	}
	rolled, err := os.ReadFile(filepath.Join(h.ProjectBase, "demo", "rolling", "tool_repo", "gcc.tar.gz"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(rolled) != "tarball-v2" {
		t.Fatalf("rolling tool content = %q, want refreshed tarball-v2", rolled)
	}
}

func TestHandleArtifactDepositFailureMarksArtifactFailed(t *testing.T) {
	project, build := newTestProject(t)
	chunks := chunkstream.New(t.TempDir())
	h := &Handler{
		Projects: func(name string) (*model.Project, bool) {
			if name == project.Name {
				return project, true
			}
			return nil, false
		},
		Chunks:      chunks,
		XbpsRunner:  failingXbpsRunner{},
		ProjectBase: t.TempDir(),
	}

	chunk := &wire.ChunkMessage{LastHash: []byte(wire.InitialHash), Data: []byte("package-bytes")}
	raw, err := chunk.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if err := h.Dispatch(context.Background(), wire.TagChunk, raw); err != nil {
		t.Fatalf("Dispatch(chunk): %v", err)
	}
	sum := blake2b.Sum512(raw)
	lastHash := sum[:]

	msg := &wire.ArtifactMessage{
		Project:      "demo",
		ArtifactType: wire.ArtifactPackage,
		Artifact:     "foo",
		Success:      true,
		Filename:     "foo-1.0.x86_64.xbps",
		LastHash:     lastHash,
	}
	araw, err := msg.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if err := h.Dispatch(context.Background(), wire.TagArtifact, araw); err != nil {
		t.Fatalf("Dispatch(artifact): %v", err)
	}

	a, ok := build.Lookup(model.Package, "foo")
	if !ok {
		t.Fatalf("artifact not found")
	}
	if !a.Received || !a.Failed {
		t.Fatalf("artifact = %+v, want Received=true Failed=true after a deposit error", a)
	}
}
