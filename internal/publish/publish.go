// Package publish persists the named outputs of a finished run.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lucasnoah/imgchar/internal/stage"
)

// ErrFailedOutcome is returned when asked to publish a Failed run.
var ErrFailedOutcome = errors.New("refusing to publish a failed run")

// DataID identifies the exposure a run processed, e.g. visit/raft/sensor.
type DataID map[string]string

// ParseDataID parses "key=value" pairs.
func ParseDataID(pairs []string) (DataID, error) {
	id := make(DataID, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid data id %q: want key=value", p)
		}
		id[k] = strings.TrimSpace(v)
	}
	return id, nil
}

// Keys returns the keys of id in sorted order.
func (id DataID) Keys() []string {
	keys := make([]string, 0, len(id))
	for k := range id {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the id canonically: sorted "k=v" pairs joined by spaces.
func (id DataID) String() string {
	parts := make([]string, 0, len(id))
	for _, k := range id.Keys() {
		parts = append(parts, k+"="+id[k])
	}
	return strings.Join(parts, " ")
}

// Putter writes one value under an external name and data id. Writing the
// same name and id again overwrites the previous value.
type Putter interface {
	Put(ctx context.Context, value any, name string, id DataID) error
}

// Output maps a context key to the external dataset name it is published as.
type Output struct {
	Key  string `yaml:"key" json:"key"`
	Name string `yaml:"name" json:"name"`
}

// DefaultOutputs is the standard image-characterization product set.
var DefaultOutputs = []Output{
	{Key: "apCorr", Name: "apCorr"},
	{Key: "sourceSet", Name: "icSrc"},
	{Key: stage.MatchListKey, Name: "icMatch"},
	{Key: "measuredPsf", Name: "psf"},
	{Key: stage.ExposureKey, Name: "calexp"},
}

// Report lists which outputs were written and which were skipped because
// their key was absent from the context.
type Report struct {
	Written []string `json:"written"`
	Skipped []string `json:"skipped"`
}

// Publish writes every output whose key is present in the outcome's context.
// Absent keys are skipped, not treated as errors: a truncated run has fewer
// products than a completed one. A failing put does not stop the remaining
// outputs; all put errors are returned joined.
func Publish(ctx context.Context, p Putter, out *stage.Outcome, outputs []Output, id DataID) (*Report, error) {
	if out == nil || !out.Publishable() {
		return nil, ErrFailedOutcome
	}
	report := &Report{Written: []string{}, Skipped: []string{}}
	var errs []error
	for _, o := range outputs {
		v, ok := out.Context.Get(o.Key)
		if !ok {
			report.Skipped = append(report.Skipped, o.Name)
			continue
		}
		if err := p.Put(ctx, v, o.Name, id); err != nil {
			errs = append(errs, fmt.Errorf("put %s (%s): %w", o.Name, id, err))
			continue
		}
		report.Written = append(report.Written, o.Name)
	}
	return report, errors.Join(errs...)
}
