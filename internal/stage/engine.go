package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Impl is an external stage implementation. It receives the context entries
// named by its spec's inputs and returns values for (a subset of) its
// declared outputs.
type Impl interface {
	Invoke(ctx context.Context, inputs map[string]any, params Params) (map[string]any, error)
}

// ImplFunc adapts a function to Impl.
type ImplFunc func(ctx context.Context, inputs map[string]any, params Params) (map[string]any, error)

// Invoke calls f.
func (f ImplFunc) Invoke(ctx context.Context, inputs map[string]any, params Params) (map[string]any, error) {
	return f(ctx, inputs, params)
}

// Observer receives stage lifecycle events, e.g. to persist them.
type Observer interface {
	StageStarted(ctx context.Context, runID string, id ID)
	StageFinished(ctx context.Context, runID string, id ID, duration time.Duration, err error)
	Truncated(ctx context.Context, runID string, ev TruncationEvent)
}

// Engine walks an enabled stage set in execution order, threading a Context
// through the stage implementations.
type Engine struct {
	reg      *Registry
	impls    map[ID]Impl
	rules    []TruncationRule
	observer Observer
	progress io.Writer // live progress output; nil = silent
}

// NewEngine creates an executor using the default truncation rules.
func NewEngine(reg *Registry, impls map[ID]Impl) *Engine {
	return &Engine{
		reg:   reg,
		impls: impls,
		rules: DefaultTruncationRules,
	}
}

// SetRules replaces the truncation rules.
func (e *Engine) SetRules(rules []TruncationRule) {
	e.rules = rules
}

// SetObserver attaches an observer for stage events.
func (e *Engine) SetObserver(o Observer) {
	e.observer = o
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (e *Engine) SetProgress(w io.Writer) {
	e.progress = w
}

// Registry returns the engine's stage table.
func (e *Engine) Registry() *Registry {
	return e.reg
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.progress != nil {
		fmt.Fprintf(e.progress, "  → "+format+"\n", args...)
	}
}

// Run executes every stage of enabled in order. Stages run one at a time and
// a started run is not cancelled between stages. The returned error is
// non-nil exactly when the outcome is Failed; the outcome is never nil.
func (e *Engine) Run(ctx context.Context, runID string, exposure any, enabled Mask) (*Outcome, error) {
	enabled &= All
	out := &Outcome{
		RunID:     runID,
		Kind:      Completed,
		Requested: enabled,
		Enabled:   enabled,
		Ran:       []ID{},
		Context:   NewContext(exposure),
	}
	if enabled.Empty() {
		e.logf("run %s: no stages enabled", runID)
		return out, nil
	}
	if err := e.checkSchedule(enabled); err != nil {
		return e.fail(out, err)
	}

	remaining := enabled
	for _, id := range enabled.IDs() {
		if !remaining.Has(id) {
			continue
		}
		remaining = remaining.Without(id)
		if err := e.runStage(ctx, out, id); err != nil {
			return e.fail(out, err)
		}
		for _, rule := range e.rules {
			if rule.After != id {
				continue
			}
			disabled := rule.apply(e.reg, out.Context, remaining)
			if disabled.Empty() {
				continue
			}
			remaining = remaining.Minus(disabled)
			ev := TruncationEvent{After: id, Key: rule.Key, Disabled: disabled}
			out.Truncations = append(out.Truncations, ev)
			e.logf("run %s: %q empty after %s, skipping %s", runID, rule.Key, id, disabled)
			if e.observer != nil {
				e.observer.Truncated(ctx, runID, ev)
			}
			if remaining.Empty() {
				out.Kind = Truncated
			}
		}
	}
	e.logf("run %s: %s (%d stages ran)", runID, out.Kind, len(out.Ran))
	return out, nil
}

// checkSchedule rejects an enabled set that cannot run: a stage without an
// implementation, or a stage whose prerequisites are not scheduled.
func (e *Engine) checkSchedule(enabled Mask) error {
	for _, id := range enabled.IDs() {
		if impl, ok := e.impls[id]; !ok || impl == nil {
			return stageConfigError(id, "no implementation registered")
		}
	}
	missing := e.reg.Missing(enabled)
	for _, id := range enabled.IDs() {
		if key, ok := missing[id]; ok {
			return specDefect(id, key, "no scheduled stage produces this input")
		}
	}
	return nil
}

// runStage validates inputs, invokes the implementation and merges its
// outputs into the context.
func (e *Engine) runStage(ctx context.Context, out *Outcome, id ID) error {
	spec := e.reg.SpecFor(id)
	for _, in := range spec.Inputs {
		if !out.Context.Has(in) {
			return specDefect(id, in, "input missing from context")
		}
	}

	e.logf("run %s: running stage %s", out.RunID, id)
	if e.observer != nil {
		e.observer.StageStarted(ctx, out.RunID, id)
	}
	start := time.Now()
	produced, err := e.impls[id].Invoke(ctx, out.Context.Subset(spec.Inputs), spec.Params.Merge(nil))
	duration := time.Since(start)
	if err != nil {
		err = executionError(id, err)
	} else {
		err = checkOutputs(spec, produced)
	}
	if e.observer != nil {
		e.observer.StageFinished(ctx, out.RunID, id, duration, err)
	}
	if err != nil {
		e.logf("run %s: stage %s failed after %s: %v", out.RunID, id, duration.Round(time.Millisecond), err)
		return err
	}

	out.Context.Merge(produced)
	out.Ran = append(out.Ran, id)
	e.logf("run %s: stage %s done (%s, %d outputs)", out.RunID, id, duration.Round(time.Millisecond), len(produced))
	return nil
}

// checkOutputs rejects any key the stage did not declare.
func checkOutputs(spec Spec, produced map[string]any) error {
	for k := range produced {
		if !spec.writes(k) {
			return &Error{Kind: ErrStageExecution, Stage: spec.ID, HasStage: true, Key: k, Err: errors.New("undeclared output")}
		}
	}
	return nil
}

func (e *Engine) fail(out *Outcome, err error) (*Outcome, error) {
	if _, ok := err.(*Error); !ok {
		err = &Error{Kind: ErrStageExecution, Err: err}
	}
	out.Kind = Failed
	out.Err = err
	if id, ok := FailedStage(err); ok {
		out.FailedStage = &id
	}
	return out, err
}
