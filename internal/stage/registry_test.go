package stage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		in   string
		want ID
	}{
		{"detect", Detect},
		{"MEASURE", Measure},
		{"psf", PSF},
		{"apcorr", ApCorr},
		{"wcs", WCS},
		{"wcs-verify", WCSVerify},
		{" photo_cal ", PhotoCal},
	}
	for _, tt := range tests {
		got, err := ParseID(tt.in)
		if err != nil {
			t.Errorf("ParseID(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseID(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if _, err := ParseID("astrometry"); err == nil {
		t.Error("expected error for unknown stage")
	}
}

func TestMaskStringRoundTrip(t *testing.T) {
	for m := None; m <= All; m++ {
		parsed, err := ParseMask(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed, "mask %08b", uint8(m))
	}
	m, err := ParseMask("")
	require.NoError(t, err)
	assert.Equal(t, All, m)
}

func TestMaskOps(t *testing.T) {
	m := MaskOf(Detect, WCS)
	assert.True(t, m.Has(WCS))
	assert.False(t, m.Has(PSF))
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, []ID{Detect, WCS}, m.IDs())
	assert.Equal(t, MaskOf(Detect), m.Without(WCS))
	assert.Equal(t, MaskOf(WCS), m.Minus(MaskOf(Detect, PSF)))
	assert.True(t, None.Empty())
	assert.Equal(t, 7, All.Len())
}

func TestMaskJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		M Mask `json:"m"`
		I ID   `json:"i"`
	}{MaskOf(Measure, PSF), WCSVerify})
	require.NoError(t, err)
	assert.JSONEq(t, `{"m":"measure,psf","i":"wcs_verify"}`, string(data))
}

func TestRegistry_DefaultTable(t *testing.T) {
	reg, err := NewRegistry(nil)
	require.NoError(t, err)

	assert.Equal(t, []ID{Detect, Measure, PSF, ApCorr, WCS, WCSVerify, PhotoCal}, reg.ExecutionOrder())

	detect := reg.SpecFor(Detect)
	assert.Equal(t, []string{ExposureKey}, detect.Inputs)
	assert.Equal(t, 15, detect.Params.Int("psf.height", 0))
	assert.Equal(t, 2.12, detect.Params.Float("psf.parameter", 0))
	assert.Equal(t, "NONE", detect.Params.String("background.algorithm", ""))

	wcs := reg.SpecFor(WCS)
	assert.Contains(t, wcs.Outputs, MatchListKey)
}

func TestRegistry_Overrides(t *testing.T) {
	reg, err := NewRegistry(map[ID]Params{
		WCS: {"numBrightStars": 75},
	})
	require.NoError(t, err)
	assert.Equal(t, 75, reg.SpecFor(WCS).Params.Int("numBrightStars", 0))
	assert.Equal(t, "mag", reg.SpecFor(WCS).Params.String("defaultFilterName", ""))

	// The built-in table is untouched.
	assert.Equal(t, 150, MustRegistry().SpecFor(WCS).Params.Int("numBrightStars", 0))
}

func TestRegistry_SpecForUnknownPanics(t *testing.T) {
	reg := MustRegistry()
	assert.Panics(t, func() { reg.SpecFor(ID(42)) })
}

func TestRegistry_InputsSatisfiedByEarlierOutputs(t *testing.T) {
	reg := MustRegistry()
	assert.Empty(t, reg.Missing(All))
	for _, id := range reg.ExecutionOrder() {
		for _, in := range reg.SpecFor(id).Inputs {
			assert.True(t, reg.Produces(in), "%s reads %q", id, in)
		}
	}
}

func TestRegistry_ValidateRejectsForwardReference(t *testing.T) {
	reg := &Registry{initial: []string{ExposureKey}}
	reg.specs = defaultSpecs
	reg.specs[Detect] = Spec{ID: Detect, Inputs: []string{ExposureKey, "sourceSet"}, Outputs: defaultSpecs[Detect].Outputs}

	err := reg.validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpecDefect)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, Detect, se.Stage)
	assert.Equal(t, "sourceSet", se.Key)
}

func TestRegistry_Dependents(t *testing.T) {
	reg := MustRegistry()
	assert.Equal(t, MaskOf(WCSVerify, PhotoCal), reg.Dependents(MatchListKey))
	assert.Equal(t, MaskOf(ApCorr), reg.Dependents("cellSet"))
	assert.Equal(t, MaskOf(PSF, ApCorr, WCS, WCSVerify, PhotoCal), reg.Dependents("sourceSet"))
}

func TestParams(t *testing.T) {
	p := Params{"a": 3, "b": "4", "c": 2.5, "d": nil}
	assert.Equal(t, 3, p.Int("a", 0))
	assert.Equal(t, 4, p.Int("b", 0))
	assert.Equal(t, 2, p.Int("c", 0))
	assert.Equal(t, 9, p.Int("missing", 9))
	assert.Equal(t, 2.5, p.Float("c", 0))
	assert.Equal(t, "3", p.String("a", ""))
	assert.Equal(t, "x", p.String("d", "x"))

	merged := p.Merge(Params{"a": 10})
	assert.Equal(t, 10, merged.Int("a", 0))
	assert.Equal(t, 3, p.Int("a", 0))
}

func TestIsEmpty(t *testing.T) {
	var nilPtr *sized
	tests := []struct {
		name string
		v    any
		want bool
	}{
		{"nil", nil, true},
		{"empty slice", []int{}, true},
		{"slice", []int{1}, false},
		{"empty map", map[string]int{}, true},
		{"empty string", "", true},
		{"lener zero", sized(0), true},
		{"lener", sized(3), false},
		{"nil pointer", nilPtr, true},
		{"struct", struct{}{}, false},
		{"int", 0, false},
	}
	for _, tt := range tests {
		if got := IsEmpty(tt.v); got != tt.want {
			t.Errorf("IsEmpty(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

type sized int

func (s sized) Len() int { return int(s) }

func TestContextIsMonotonic(t *testing.T) {
	c := NewContext("img")
	c.Merge(map[string]any{"a": 1, "b": 2})
	c.Set("a", 3)
	assert.Equal(t, []string{"a", "b", ExposureKey}, c.Keys())
	v, _ := c.Get("a")
	assert.Equal(t, 3, v)
	assert.Equal(t, map[string]any{"b": 2}, c.Subset([]string{"b", "zzz"}))
	assert.Equal(t, 3, c.Len())
}
