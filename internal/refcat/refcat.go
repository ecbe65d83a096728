// Package refcat checks that an astrometric reference catalog is set up for
// the dataset family being processed.
package refcat

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasnoah/imgchar/internal/stage"
)

// DefaultEnvVar names the directory of the astrometry.net index files.
const DefaultEnvVar = "ASTROMETRY_NET_DATA_DIR"

// Checker looks up the reference catalog location. The process environment
// wins; EnvFile, if set, is consulted as a fallback.
type Checker struct {
	EnvVar  string
	EnvFile string

	lookup func(string) (string, bool) // defaults to os.LookupEnv
}

// NewChecker returns a Checker reading envVar (DefaultEnvVar if empty).
func NewChecker(envVar, envFile string) *Checker {
	if envVar == "" {
		envVar = DefaultEnvVar
	}
	return &Checker{EnvVar: envVar, EnvFile: expandHome(envFile)}
}

// SetLookup overrides environment lookup (for testing).
func (c *Checker) SetLookup(fn func(string) (string, bool)) {
	c.lookup = fn
}

// Location returns the configured catalog directory, or "" if unset.
func (c *Checker) Location() string {
	lookup := c.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(c.EnvVar); ok && v != "" {
		return v
	}
	if c.EnvFile != "" {
		return readEnvFileVar(c.EnvFile, c.EnvVar)
	}
	return ""
}

// Check reports whether the catalog location is set and belongs to family
// (the family name appears in the path, case-insensitively).
func (c *Checker) Check(family string) bool {
	loc := c.Location()
	if loc == "" {
		return false
	}
	return strings.Contains(strings.ToLower(loc), strings.ToLower(family))
}

// Policy decides what a failed check means for a run. With the WCS stage
// scheduled the run cannot succeed, so it is a configuration error; with it
// unscheduled the failure is only worth a warning.
func Policy(enabled stage.Mask, ok bool, family string) (warning string, err error) {
	if ok {
		return "", nil
	}
	msg := fmt.Sprintf("astrometric reference catalog is not set up for %s", family)
	if enabled.Has(stage.WCS) {
		return "", stage.ConfigError("%s", msg)
	}
	return msg, nil
}

// readEnvFileVar reads the value of a specific key from a .env file.
// Supports both "KEY=VALUE" and "export KEY=VALUE" formats.
// Returns empty string if the file or key is not found.
func readEnvFileVar(path, key string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.TrimSpace(parts[0]) == key {
			return strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		}
	}
	return ""
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
