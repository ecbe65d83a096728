package stage

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Fake stage implementations ---

// recorder collects invocation order and the inputs each stage saw.
type recorder struct {
	calls  []ID
	inputs map[ID]map[string]any
	params map[ID]Params
}

func newRecorder() *recorder {
	return &recorder{inputs: make(map[ID]map[string]any), params: make(map[ID]Params)}
}

// fakeImpls returns an implementation for every stage that writes a string
// for each declared output. matchList is the value the WCS stage produces;
// pass nil to omit the key entirely.
func fakeImpls(t *testing.T, reg *Registry, rec *recorder, matchList any) map[ID]Impl {
	t.Helper()
	impls := make(map[ID]Impl)
	for _, id := range reg.ExecutionOrder() {
		id := id
		spec := reg.SpecFor(id)
		impls[id] = ImplFunc(func(ctx context.Context, inputs map[string]any, params Params) (map[string]any, error) {
			rec.calls = append(rec.calls, id)
			rec.inputs[id] = inputs
			rec.params[id] = params
			out := make(map[string]any)
			for _, k := range spec.Outputs {
				if k == MatchListKey {
					if matchList != nil {
						out[k] = matchList
					}
					continue
				}
				out[k] = id.String() + ":" + k
			}
			return out, nil
		})
	}
	return impls
}

// --- Mock observer ---

type observerEvent struct {
	Kind  string
	Stage ID
	Err   error
}

type mockObserver struct {
	events []observerEvent
}

func (m *mockObserver) StageStarted(_ context.Context, _ string, id ID) {
	m.events = append(m.events, observerEvent{Kind: "started", Stage: id})
}

func (m *mockObserver) StageFinished(_ context.Context, _ string, id ID, _ time.Duration, err error) {
	m.events = append(m.events, observerEvent{Kind: "finished", Stage: id, Err: err})
}

func (m *mockObserver) Truncated(_ context.Context, _ string, ev TruncationEvent) {
	m.events = append(m.events, observerEvent{Kind: "truncated", Stage: ev.After})
}

func TestEngine_RunAll_Completed(t *testing.T) {
	reg := MustRegistry()
	rec := newRecorder()
	eng := NewEngine(reg, fakeImpls(t, reg, rec, []string{"m1", "m2"}))

	out, err := eng.Run(context.Background(), "run-1", "exposure", All)
	require.NoError(t, err)

	assert.Equal(t, Completed, out.Kind)
	assert.Equal(t, reg.ExecutionOrder(), out.Ran)
	assert.Equal(t, reg.ExecutionOrder(), rec.calls)
	assert.Empty(t, out.Truncations)
	assert.Nil(t, out.FailedStage)

	v, ok := out.Context.Get("photometricMagnitudeObject")
	require.True(t, ok)
	assert.Equal(t, "photo_cal:photometricMagnitudeObject", v)
	exp, _ := out.Context.Get(ExposureKey)
	assert.Equal(t, "exposure", exp)
}

func TestEngine_StagesSeeOnlyDeclaredInputs(t *testing.T) {
	reg := MustRegistry()
	rec := newRecorder()
	eng := NewEngine(reg, fakeImpls(t, reg, rec, []string{"m"}))

	_, err := eng.Run(context.Background(), "run-1", "exposure", All)
	require.NoError(t, err)

	for id, inputs := range rec.inputs {
		spec := reg.SpecFor(id)
		assert.Len(t, inputs, len(spec.Inputs), "stage %s", id)
		for _, k := range spec.Inputs {
			assert.Contains(t, inputs, k, "stage %s", id)
		}
	}
	assert.Equal(t, 150, rec.params[WCS].Int("numBrightStars", 0))
	assert.Equal(t, "mag", rec.params[WCS].String("defaultFilterName", ""))
}

func TestEngine_NeverRunsStageBeforeItsProducers(t *testing.T) {
	reg := MustRegistry()
	for m := Mask(1); m <= All; m++ {
		enabled := reg.Resolve(m)
		rec := newRecorder()
		eng := NewEngine(reg, fakeImpls(t, reg, rec, []string{"m"}))

		out, err := eng.Run(context.Background(), "run", "exposure", enabled)
		require.NoError(t, err, "mask %s", m)

		ran := None
		for _, id := range rec.calls {
			for _, in := range reg.SpecFor(id).Inputs {
				if in == ExposureKey {
					continue
				}
				p, ok := reg.Producer(in, id)
				require.True(t, ok)
				assert.True(t, ran.Has(p), "mask %s: %s ran before %s", m, id, p)
			}
			ran = ran.With(id)
		}
		assert.Equal(t, enabled, out.RanMask())
	}
}

func TestEngine_EmptyMatchListTruncates(t *testing.T) {
	for _, tc := range []struct {
		name      string
		matchList any
	}{
		{"empty slice", []string{}},
		{"absent", nil},
		{"typed nil", []int(nil)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			reg := MustRegistry()
			rec := newRecorder()
			obs := &mockObserver{}
			eng := NewEngine(reg, fakeImpls(t, reg, rec, tc.matchList))
			eng.SetObserver(obs)

			out, err := eng.Run(context.Background(), "run-1", "exposure", All)
			require.NoError(t, err)

			assert.Equal(t, Truncated, out.Kind)
			assert.Equal(t, []ID{Detect, Measure, PSF, ApCorr, WCS}, out.Ran)
			require.Len(t, out.Truncations, 1)
			assert.Equal(t, TruncationEvent{After: WCS, Key: MatchListKey, Disabled: MaskOf(WCSVerify, PhotoCal)}, out.Truncations[0])
			assert.False(t, out.Context.Has("photometricMagnitudeObject"))
			assert.Equal(t, observerEvent{Kind: "truncated", Stage: WCS}, obs.events[len(obs.events)-1])
		})
	}
}

func TestEngine_NonEmptyMatchListRunsDownstream(t *testing.T) {
	reg := MustRegistry()
	rec := newRecorder()
	eng := NewEngine(reg, fakeImpls(t, reg, rec, []string{"match"}))

	out, err := eng.Run(context.Background(), "run-1", "exposure", reg.Resolve(MaskOf(WCSVerify, PhotoCal)))
	require.NoError(t, err)
	assert.Equal(t, Completed, out.Kind)
	assert.Equal(t, []ID{Detect, Measure, WCS, WCSVerify, PhotoCal}, out.Ran)
}

func TestEngine_EmptyMatchListWithNothingDownstreamIsCompleted(t *testing.T) {
	reg := MustRegistry()
	rec := newRecorder()
	eng := NewEngine(reg, fakeImpls(t, reg, rec, []string{}))

	out, err := eng.Run(context.Background(), "run-1", "exposure", reg.Resolve(MaskOf(WCS)))
	require.NoError(t, err)
	assert.Equal(t, Completed, out.Kind)
	assert.Empty(t, out.Truncations)
	assert.Equal(t, []ID{Detect, Measure, WCS}, out.Ran)
}

func TestEngine_EmptyMaskIsNoop(t *testing.T) {
	reg := MustRegistry()
	rec := newRecorder()
	eng := NewEngine(reg, fakeImpls(t, reg, rec, nil))

	out, err := eng.Run(context.Background(), "run-1", "exposure", None)
	require.NoError(t, err)
	assert.Equal(t, Completed, out.Kind)
	assert.Empty(t, out.Ran)
	assert.Empty(t, rec.calls)
	assert.Equal(t, []string{ExposureKey}, out.Context.Keys())
}

func TestEngine_StageFailureAbortsRun(t *testing.T) {
	reg := MustRegistry()
	rec := newRecorder()
	impls := fakeImpls(t, reg, rec, []string{"m"})
	boom := errors.New("psf fit diverged")
	impls[PSF] = ImplFunc(func(context.Context, map[string]any, Params) (map[string]any, error) {
		return nil, boom
	})
	obs := &mockObserver{}
	eng := NewEngine(reg, impls)
	eng.SetObserver(obs)

	out, err := eng.Run(context.Background(), "run-1", "exposure", All)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStageExecution)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Failed, out.Kind)
	require.NotNil(t, out.FailedStage)
	assert.Equal(t, PSF, *out.FailedStage)
	assert.Equal(t, []ID{Detect, Measure}, out.Ran)
	assert.True(t, out.Context.Has("sourceSet"), "partial context kept for diagnostics")
	assert.False(t, out.Publishable())

	last := obs.events[len(obs.events)-1]
	assert.Equal(t, "finished", last.Kind)
	assert.Equal(t, PSF, last.Stage)
	assert.Error(t, last.Err)
}

func TestEngine_UndeclaredOutputFails(t *testing.T) {
	reg := MustRegistry()
	rec := newRecorder()
	impls := fakeImpls(t, reg, rec, nil)
	impls[Detect] = ImplFunc(func(context.Context, map[string]any, Params) (map[string]any, error) {
		return map[string]any{"bogus": 1}, nil
	})
	eng := NewEngine(reg, impls)

	out, err := eng.Run(context.Background(), "run-1", "exposure", MaskOf(Detect))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStageExecution)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "bogus", se.Key)
	assert.Equal(t, Failed, out.Kind)
}

func TestEngine_UnresolvedMaskIsSpecDefect(t *testing.T) {
	reg := MustRegistry()
	rec := newRecorder()
	eng := NewEngine(reg, fakeImpls(t, reg, rec, nil))

	out, err := eng.Run(context.Background(), "run-1", "exposure", MaskOf(Measure))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpecDefect)
	assert.Equal(t, Failed, out.Kind)
	assert.Empty(t, rec.calls)
	require.NotNil(t, out.FailedStage)
	assert.Equal(t, Measure, *out.FailedStage)
}

func TestEngine_MissingInputAtRuntimeIsSpecDefect(t *testing.T) {
	reg := MustRegistry()
	rec := newRecorder()
	eng := NewEngine(reg, fakeImpls(t, reg, rec, nil))
	// Without truncation rules the absent match list reaches WCSVerify.
	eng.SetRules(nil)

	out, err := eng.Run(context.Background(), "run-1", "exposure", All)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpecDefect)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, WCSVerify, se.Stage)
	assert.Equal(t, MatchListKey, se.Key)
	assert.Equal(t, []ID{Detect, Measure, PSF, ApCorr, WCS}, out.Ran)
}

func TestEngine_MissingImplementationIsConfigurationError(t *testing.T) {
	reg := MustRegistry()
	rec := newRecorder()
	impls := fakeImpls(t, reg, rec, nil)
	delete(impls, ApCorr)
	eng := NewEngine(reg, impls)

	_, err := eng.Run(context.Background(), "run-1", "exposure", All)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Empty(t, rec.calls)

	out, err := eng.Run(context.Background(), "run-2", "exposure", reg.Resolve(MaskOf(WCS)))
	require.NoError(t, err, "apcorr is not scheduled")
	assert.Equal(t, Completed, out.Kind)
}

func TestEngine_ProgressOutput(t *testing.T) {
	reg := MustRegistry()
	rec := newRecorder()
	eng := NewEngine(reg, fakeImpls(t, reg, rec, []string{}))
	var buf bytes.Buffer
	eng.SetProgress(&buf)

	_, err := eng.Run(context.Background(), "run-9", "exposure", All)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "run run-9: running stage detect")
	assert.Contains(t, buf.String(), `"matchList" empty after wcs, skipping wcs_verify,photo_cal`)
	assert.Contains(t, buf.String(), "run run-9: truncated")
}
