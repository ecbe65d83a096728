package config

import (
	"fmt"
	"time"

	"github.com/lucasnoah/imgchar/internal/execstage"
	"github.com/lucasnoah/imgchar/internal/publish"
	"github.com/lucasnoah/imgchar/internal/refcat"
	"github.com/lucasnoah/imgchar/internal/stage"
)

// Overrides returns the configured parameter overrides keyed by stage.
func (c *Config) Overrides() (map[stage.ID]stage.Params, error) {
	out := make(map[stage.ID]stage.Params)
	for _, s := range c.Pipeline.Stages {
		if len(s.Params) == 0 {
			continue
		}
		id, err := stage.ParseID(s.ID)
		if err != nil {
			return nil, err
		}
		out[id] = stage.Params(s.Params)
	}
	return out, nil
}

// Registry builds the stage registry with this config's overrides applied.
func (c *Config) Registry() (*stage.Registry, error) {
	overrides, err := c.Overrides()
	if err != nil {
		return nil, err
	}
	return stage.NewRegistry(overrides)
}

// Impls returns a command-backed implementation for every configured stage.
// A nil runner shells out.
func (c *Config) Impls(runner execstage.CommandRunner) (map[stage.ID]stage.Impl, error) {
	impls := make(map[stage.ID]stage.Impl, len(c.Pipeline.Stages))
	for _, s := range c.Pipeline.Stages {
		id, err := stage.ParseID(s.ID)
		if err != nil {
			return nil, err
		}
		cmd := execstage.New(id, s.Command, runner)
		cmd.Dir = s.Workdir
		if s.Timeout != "" {
			d, err := time.ParseDuration(s.Timeout)
			if err != nil {
				return nil, fmt.Errorf("stage %s timeout: %w", s.ID, err)
			}
			cmd.Timeout = d
		}
		impls[id] = cmd
	}
	return impls, nil
}

// PublishOutputs returns the configured key to dataset-name mapping.
func (c *Config) PublishOutputs() []publish.Output {
	out := make([]publish.Output, 0, len(c.Pipeline.Outputs))
	for _, o := range c.Pipeline.Outputs {
		out = append(out, publish.Output{Key: o.Key, Name: o.Name})
	}
	return out
}

// Checker returns the reference-catalog checker for this config.
func (c *Config) Checker() *refcat.Checker {
	rc := c.Pipeline.ReferenceCatalog
	return refcat.NewChecker(rc.EnvVar, rc.EnvFile)
}
