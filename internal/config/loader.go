package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/imgchar/internal/publish"
	"github.com/lucasnoah/imgchar/internal/refcat"
)

// DefaultTimeout is the per-stage timeout when neither the stage nor the
// defaults block sets one.
const DefaultTimeout = "10m"

// Load reads and parses a configuration from the given YAML file path.
// After parsing, it applies defaults to anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./imgchar.yaml, ~/.imgchar/config.yaml
func LoadDefault() (*Config, error) {
	candidates := []string{"imgchar.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".imgchar", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no imgchar config found (searched: %v)", candidates)
}

func applyDefaults(cfg *Config) {
	p := &cfg.Pipeline

	if p.Workers <= 0 {
		p.Workers = 1
	}
	if p.Defaults.Timeout == "" {
		p.Defaults.Timeout = DefaultTimeout
	}
	if p.ReferenceCatalog.EnvVar == "" {
		p.ReferenceCatalog.EnvVar = refcat.DefaultEnvVar
	}
	if p.Publish.Backend == "" {
		p.Publish.Backend = BackendFile
	}
	if p.Publish.Backend == BackendFile && p.Publish.Root == "" {
		p.Publish.Root = "out"
	}
	if len(p.Outputs) == 0 {
		for _, o := range publish.DefaultOutputs {
			p.Outputs = append(p.Outputs, Output{Key: o.Key, Name: o.Name})
		}
	}

	for i := range p.Stages {
		s := &p.Stages[i]
		if s.Timeout == "" {
			s.Timeout = p.Defaults.Timeout
		}
		if s.Workdir == "" {
			s.Workdir = p.Defaults.Workdir
		}
	}
}
