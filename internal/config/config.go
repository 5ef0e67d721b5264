// Package config loads and validates the coordinator/worker TOML
// configuration (spec §6). Config loading is the spec's one explicit
// external-collaborator boundary (§1): this package only decodes and
// validates, handing callers a Config struct rather than exposing a
// general-purpose validation framework.
package config

import (
	"regexp"

	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"
)

// projectNameRE matches spec §6's project identifier grammar:
// ^[A-Za-z][A-Za-z0-9]*(?:_[A-Za-z0-9]+)*$
var projectNameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*(?:_[A-Za-z0-9]+)*$`)

// Project is one entry of the `projects` table.
type Project struct {
	Git           string   `toml:"git"`
	Packages      string   `toml:"packages"`
	Tools         string   `toml:"tools"`
	Fingerprint   string   `toml:"fingerprint"`
	Incremental   bool     `toml:"incremental"`
	DistfilePath  string   `toml:"distfile_path"`
	MirrorRoot    string   `toml:"mirror_root"`
	DefaultBranch string   `toml:"default_branch"`
	Classes       []string `toml:"classes"`
	Description   string   `toml:"description"`
}

// Config is the full coordinator configuration (spec §6).
type Config struct {
	CommandEndpoint string             `toml:"command_endpoint"`
	ProjectBase     string             `toml:"project_base"`
	BuildRoot       string             `toml:"build_root"`
	Intake          string             `toml:"intake"`
	WorkerEndpoint  string             `toml:"worker_endpoint"`
	ArtifactHistory string             `toml:"artifact_history"`
	Projects        map[string]Project `toml:"projects"`
}

// WorkerConfig is the worker process's configuration (spec §6 only
// defines the coordinator's schema; this mirrors original_source's
// worker.toml, which the spec's distillation elides — see SPEC_FULL.md §3).
type WorkerConfig struct {
	JobEndpoint  string   `toml:"job_endpoint"`
	Capabilities []string `toml:"capabilities"`
}

// LoadWorker decodes a worker.toml file at path.
func LoadWorker(path string) (*WorkerConfig, error) {
	var c WorkerConfig
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, xerrors.Errorf("config: decode %s: %w", path, err)
	}
	if c.JobEndpoint == "" {
		return nil, xerrors.New("config: job_endpoint is required")
	}
	return &c, nil
}

// Load decodes and validates a config file at path, applying the defaults
// spec §6 specifies (distfile_path = "xbps/", default_branch = "master").
func Load(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, xerrors.Errorf("config: decode %s: %w", path, err)
	}
	if err := c.applyDefaults().Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() *Config {
	for name, p := range c.Projects {
		if p.DistfilePath == "" {
			p.DistfilePath = "xbps/"
		}
		if p.DefaultBranch == "" {
			p.DefaultBranch = "master"
		}
		c.Projects[name] = p
	}
	return c
}

// Validate checks the required top-level fields and every project name and
// entry (spec §6).
func (c *Config) Validate() error {
	if c.CommandEndpoint == "" {
		return xerrors.New("config: command_endpoint is required")
	}
	if c.ProjectBase == "" {
		return xerrors.New("config: project_base is required")
	}
	if c.BuildRoot == "" {
		return xerrors.New("config: build_root is required")
	}
	if c.Intake == "" {
		return xerrors.New("config: intake is required")
	}
	if c.WorkerEndpoint == "" {
		return xerrors.New("config: worker_endpoint is required")
	}
	for name, p := range c.Projects {
		if !projectNameRE.MatchString(name) {
			return xerrors.Errorf("config: invalid project name %q", name)
		}
		if p.Git == "" {
			return xerrors.Errorf("config: project %q: git is required", name)
		}
		if p.Packages == "" {
			return xerrors.Errorf("config: project %q: packages is required", name)
		}
		if p.Tools == "" {
			return xerrors.Errorf("config: project %q: tools is required", name)
		}
	}
	return nil
}
