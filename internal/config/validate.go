package config

import (
	"fmt"
	"time"

	"github.com/lucasnoah/imgchar/internal/stage"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var recognizedBackends = map[string]bool{
	BackendFile:     true,
	BackendSQLite:   true,
	BackendPostgres: true,
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	p := cfg.Pipeline

	if p.Name == "" {
		errs = append(errs, ValidationError{Field: "pipeline.name", Message: "is required"})
	}
	if p.DatasetFamily == "" {
		errs = append(errs, ValidationError{Field: "pipeline.dataset_family", Message: "is required"})
	}
	if p.Defaults.Timeout != "" {
		validateDuration("pipeline.defaults.timeout", p.Defaults.Timeout, &errs)
	}

	seen := make(map[stage.ID]bool)
	for i, s := range p.Stages {
		prefix := fmt.Sprintf("pipeline.stages[%d]", i)
		id, err := stage.ParseID(s.ID)
		if err != nil {
			errs = append(errs, ValidationError{Field: prefix + ".id", Message: fmt.Sprintf("unknown stage %q", s.ID)})
			continue
		}
		if seen[id] {
			errs = append(errs, ValidationError{Field: prefix + ".id", Message: fmt.Sprintf("duplicate stage ID %q", s.ID)})
		}
		seen[id] = true
		if s.Command == "" {
			errs = append(errs, ValidationError{Field: prefix + ".command", Message: "is required"})
		}
		if s.Timeout != "" {
			validateDuration(prefix+".timeout", s.Timeout, &errs)
		}
	}

	reg := stage.MustRegistry()
	outNames := make(map[string]bool)
	for i, o := range p.Outputs {
		prefix := fmt.Sprintf("pipeline.outputs[%d]", i)
		if o.Key == "" || o.Name == "" {
			errs = append(errs, ValidationError{Field: prefix, Message: "key and name are required"})
			continue
		}
		if !reg.Produces(o.Key) {
			errs = append(errs, ValidationError{Field: prefix + ".key", Message: fmt.Sprintf("no stage produces %q", o.Key)})
		}
		if outNames[o.Name] {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: fmt.Sprintf("duplicate output name %q", o.Name)})
		}
		outNames[o.Name] = true
	}

	switch {
	case !recognizedBackends[p.Publish.Backend]:
		errs = append(errs, ValidationError{
			Field:   "pipeline.publish.backend",
			Message: fmt.Sprintf("unrecognized backend %q", p.Publish.Backend),
		})
	case p.Publish.Backend == BackendPostgres && p.Publish.DSN == "":
		errs = append(errs, ValidationError{Field: "pipeline.publish.dsn", Message: "is required for the postgres backend"})
	}

	return errs
}

func validateDuration(field, value string, errs *[]ValidationError) {
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", value)})
		return
	}
	if d <= 0 {
		*errs = append(*errs, ValidationError{Field: field, Message: "must be positive"})
	}
}
