package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
command_endpoint = "localhost:8023"
project_base = "/srv/xbbs"
build_root = "/var/tmp/xbbs-build"
intake = "localhost:8024"
worker_endpoint = "localhost:8025"

[projects.my_project]
git = "https://example.com/my-project.git"
packages = "https://example.com/packages"
tools = "https://example.com/tools"
classes = ["amd64"]
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "coordinator.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	c, err := Load(writeTemp(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, ok := c.Projects["my_project"]
	if !ok {
		t.Fatalf("missing project")
	}
	if p.DistfilePath != "xbps/" {
		t.Fatalf("DistfilePath = %q, want xbps/", p.DistfilePath)
	}
	if p.DefaultBranch != "master" {
		t.Fatalf("DefaultBranch = %q, want master", p.DefaultBranch)
	}
}

func TestLoadRejectsBadProjectName(t *testing.T) {
	const bad = `
command_endpoint = "localhost:8023"
project_base = "/srv/xbbs"
build_root = "/var/tmp/xbbs-build"
intake = "localhost:8024"
worker_endpoint = "localhost:8025"

[projects."1bad"]
git = "https://example.com/x.git"
packages = "https://example.com/x"
tools = "https://example.com/x"
`
	if _, err := Load(writeTemp(t, bad)); err == nil {
		t.Fatalf("expected validation error for bad project name")
	}
}

func TestLoadRejectsMissingField(t *testing.T) {
	const missing = `
project_base = "/srv/xbbs"
build_root = "/var/tmp/xbbs-build"
intake = "localhost:8024"
worker_endpoint = "localhost:8025"
`
	if _, err := Load(writeTemp(t, missing)); err == nil {
		t.Fatalf("expected validation error for missing command_endpoint")
	}
}

func TestLoadWorker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.toml")
	content := `
job_endpoint = "localhost:8025"
capabilities = ["amd64", "fast-disk"]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	c, err := LoadWorker(path)
	if err != nil {
		t.Fatalf("LoadWorker: %v", err)
	}
	if c.JobEndpoint != "localhost:8025" {
		t.Fatalf("JobEndpoint = %q", c.JobEndpoint)
	}
	if len(c.Capabilities) != 2 {
		t.Fatalf("Capabilities = %v", c.Capabilities)
	}
}

func TestLoadWorkerRejectsMissingEndpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.toml")
	if err := os.WriteFile(path, []byte(`capabilities = []`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadWorker(path); err == nil {
		t.Fatalf("expected error for missing job_endpoint")
	}
}
