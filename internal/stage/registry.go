package stage

import (
	"fmt"
	"slices"
	"strconv"
)

// ExposureKey is the context key seeded with the caller's exposure.
const ExposureKey = "visitExposure"

// Params is a stage's parameter bundle.
type Params map[string]any

// Merge returns a copy of p with every entry of o applied on top.
func (p Params) Merge(o Params) Params {
	out := make(Params, len(p)+len(o))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Int returns p[key] as an int, or fallback if it is missing or not numeric.
func (p Params) Int(key string, fallback int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// Float returns p[key] as a float64, or fallback.
func (p Params) Float(key string, fallback float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// String returns p[key] as a string, or fallback.
func (p Params) String(key string, fallback string) string {
	if v, ok := p[key]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return fallback
}

// Spec declares what a stage reads from and writes to the context.
type Spec struct {
	ID      ID
	Inputs  []string
	Outputs []string
	Params  Params
}

func (s Spec) reads(key string) bool  { return slices.Contains(s.Inputs, key) }
func (s Spec) writes(key string) bool { return slices.Contains(s.Outputs, key) }

// defaultSpecs is the stage table in execution order.
var defaultSpecs = [numStages]Spec{
	Detect: {
		ID:      Detect,
		Inputs:  []string{ExposureKey},
		Outputs: []string{"positiveFootprintSet", "negativeFootprintSet", "simplePsf"},
		Params: Params{
			"psf.height":           15,
			"psf.width":            15,
			"psf.parameter":        2.12,
			"background.algorithm": "NONE",
		},
	},
	Measure: {
		ID:      Measure,
		Inputs:  []string{ExposureKey, "simplePsf", "positiveFootprintSet", "negativeFootprintSet"},
		Outputs: []string{"sourceSet"},
	},
	PSF: {
		ID:      PSF,
		Inputs:  []string{ExposureKey, "sourceSet"},
		Outputs: []string{"measuredPsf", "cellSet", "psfSourceSet", "sdqa"},
	},
	ApCorr: {
		ID:      ApCorr,
		Inputs:  []string{ExposureKey, "cellSet"},
		Outputs: []string{"apCorr", "sdqaApCorr"},
	},
	WCS: {
		ID:      WCS,
		Inputs:  []string{ExposureKey, "sourceSet"},
		Outputs: []string{"measuredWcs", MatchListKey},
		Params: Params{
			"numBrightStars":    150,
			"defaultFilterName": "mag",
		},
	},
	WCSVerify: {
		ID:      WCSVerify,
		Inputs:  []string{MatchListKey},
		Outputs: []string{"wcsVerification"},
	},
	PhotoCal: {
		ID:      PhotoCal,
		Inputs:  []string{MatchListKey},
		Outputs: []string{"photometricMagnitudeObject"},
	},
}

// Registry holds the immutable stage table for a run configuration.
type Registry struct {
	specs   [numStages]Spec
	initial []string
}

// NewRegistry builds a registry from the default stage table, applying any
// parameter overrides. It fails with ErrSpecDefect when a stage reads a key
// that neither an earlier stage nor the initial context provides.
func NewRegistry(overrides map[ID]Params) (*Registry, error) {
	r := &Registry{initial: []string{ExposureKey}}
	for id := ID(0); id < numStages; id++ {
		s := defaultSpecs[id]
		r.specs[id] = Spec{
			ID:      s.ID,
			Inputs:  slices.Clone(s.Inputs),
			Outputs: slices.Clone(s.Outputs),
			Params:  s.Params.Merge(overrides[id]),
		}
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// MustRegistry is NewRegistry with no overrides; it panics on a defect in
// the built-in table.
func MustRegistry() *Registry {
	r, err := NewRegistry(nil)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) validate() error {
	available := make(map[string]bool)
	for _, k := range r.initial {
		available[k] = true
	}
	for _, s := range r.specs {
		for _, in := range s.Inputs {
			if !available[in] {
				return specDefect(s.ID, in, "input is not produced by any earlier stage")
			}
		}
		for _, out := range s.Outputs {
			available[out] = true
		}
	}
	return nil
}

// SpecFor returns the spec for id. An unknown id is a programming error.
func (r *Registry) SpecFor(id ID) Spec {
	if !id.Valid() {
		panic(fmt.Sprintf("stage: no spec for %s", id))
	}
	return r.specs[id]
}

// ExecutionOrder returns every stage in the fixed execution order.
func (r *Registry) ExecutionOrder() []ID {
	return All.IDs()
}

// InitialKeys returns the keys present in a freshly seeded context.
func (r *Registry) InitialKeys() []string {
	return slices.Clone(r.initial)
}

func (r *Registry) isInitial(key string) bool {
	return slices.Contains(r.initial, key)
}

// Producer returns the latest stage before `before` that writes key.
func (r *Registry) Producer(key string, before ID) (ID, bool) {
	for id := min(before, numStages); id > 0; id-- {
		if r.specs[id-1].writes(key) {
			return id - 1, true
		}
	}
	return 0, false
}

// Dependents returns every stage that reads key, directly or through an
// output of another dependent stage.
func (r *Registry) Dependents(key string) Mask {
	var m Mask
	tainted := map[string]bool{key: true}
	for _, s := range r.specs {
		for _, in := range s.Inputs {
			if tainted[in] {
				m = m.With(s.ID)
				for _, out := range s.Outputs {
					tainted[out] = true
				}
				break
			}
		}
	}
	return m
}

// Produces reports whether any stage writes key or key is an initial key.
func (r *Registry) Produces(key string) bool {
	if r.isInitial(key) {
		return true
	}
	_, ok := r.Producer(key, numStages)
	return ok
}
