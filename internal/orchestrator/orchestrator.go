package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/imgchar/internal/db"
	"github.com/lucasnoah/imgchar/internal/pipeline"
	"github.com/lucasnoah/imgchar/internal/publish"
	"github.com/lucasnoah/imgchar/internal/refcat"
	"github.com/lucasnoah/imgchar/internal/stage"
)

// Orchestrator runs image characterization for one exposure at a time and
// takes care of everything around the engine: prerequisite resolution, the
// reference-catalog precondition, publishing, and run bookkeeping.
type Orchestrator struct {
	engine  *stage.Engine
	checker *refcat.Checker
	putter  publish.Putter
	store   *pipeline.Store
	db      *db.DB

	family  string
	outputs []publish.Output

	progress io.Writer
	newRunID func() string

	mu        sync.Mutex
	recorders map[string]*db.RunRecorder
}

// NewOrchestrator creates an Orchestrator. A nil checker reads the default
// environment variable. putter, store and database may be nil; the matching
// step is then skipped.
func NewOrchestrator(
	engine *stage.Engine,
	checker *refcat.Checker,
	putter publish.Putter,
	store *pipeline.Store,
	database *db.DB,
	family string,
) *Orchestrator {
	if checker == nil {
		checker = refcat.NewChecker("", "")
	}
	o := &Orchestrator{
		engine:    engine,
		checker:   checker,
		putter:    putter,
		store:     store,
		db:        database,
		family:    family,
		outputs:   publish.DefaultOutputs,
		newRunID:  uuid.NewString,
		recorders: make(map[string]*db.RunRecorder),
	}
	if database != nil {
		engine.SetObserver(o)
	}
	return o
}

// SetOutputs replaces the published output mapping.
func (o *Orchestrator) SetOutputs(outputs []publish.Output) {
	o.outputs = outputs
}

// SetProgress sets a writer for progress messages. Pass nil to disable.
func (o *Orchestrator) SetProgress(w io.Writer) {
	o.progress = w
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.progress != nil {
		fmt.Fprintf(o.progress, "  → "+format+"\n", args...)
	}
}

// Request asks for one exposure to be characterized.
type Request struct {
	Exposure any
	ID       publish.DataID
	Stages   stage.Mask
}

// Run resolves the requested stages, checks the reference catalog, runs the
// engine, and publishes the result unless it failed. The outcome is never
// nil. The error is non-nil when the run failed, when publishing hit an
// error, or both.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*stage.Outcome, error) {
	runID := o.newRunID()
	dataID := req.ID.String()
	enabled := o.engine.Registry().Resolve(req.Stages)
	o.logf("run %s: %s requested %s, enabled %s", runID, dataID, req.Stages, enabled)

	rec := o.startRecording(runID, dataID)
	defer o.stopRecording(runID)

	if o.store != nil {
		if _, err := o.store.Create(pipeline.CreateOpts{
			RunID:     runID,
			DataID:    req.ID,
			Family:    o.family,
			Requested: req.Stages,
			Enabled:   enabled,
		}); err != nil {
			return nil, fmt.Errorf("create run: %w", err)
		}
	}
	if rec != nil {
		rec.Log(runID, db.EventRunStarted, fmt.Sprintf("requested %s, enabled %s", req.Stages, enabled))
	}

	out, runErr := o.execute(ctx, runID, req.Exposure, enabled)
	out.Requested = req.Stages

	var report *publish.Report
	var pubErr error
	if out.Publishable() && o.putter != nil {
		report, pubErr = publish.Publish(ctx, o.putter, out, o.outputs, req.ID)
		if pubErr != nil {
			o.logf("run %s: publish: %v", runID, pubErr)
		}
		if rec != nil && report != nil {
			rec.Log(runID, db.EventPublished, fmt.Sprintf("written %v, skipped %v", report.Written, report.Skipped))
		}
	}

	if rec != nil {
		detail := out.Kind.String()
		if out.Err != nil {
			detail += ": " + out.Err.Error()
		}
		rec.Log(runID, db.EventRunFinished, detail)
		if err := rec.Err(); err != nil {
			o.logf("run %s: event log: %v", runID, err)
		}
	}
	if o.store != nil {
		if err := o.store.Update(runID, func(rs *pipeline.RunState) {
			rs.ApplyOutcome(out)
			if report != nil {
				rs.Published = report.Written
				rs.Skipped = report.Skipped
			}
			if pubErr != nil {
				rs.Error = pubErr.Error()
			}
		}); err != nil {
			o.logf("run %s: save state: %v", runID, err)
		}
	}

	return out, errors.Join(runErr, pubErr)
}

// execute applies the reference-catalog policy and runs the engine. A fatal
// precondition fails the run before any stage is invoked.
func (o *Orchestrator) execute(ctx context.Context, runID string, exposure any, enabled stage.Mask) (*stage.Outcome, error) {
	ok := o.checker.Check(o.family)
	warning, err := refcat.Policy(enabled, ok, o.family)
	if err != nil {
		o.logf("run %s: %v", runID, err)
		return &stage.Outcome{
			RunID:   runID,
			Kind:    stage.Failed,
			Enabled: enabled,
			Ran:     []stage.ID{},
			Context: stage.NewContext(exposure),
			Err:     err,
		}, err
	}

	out, err := o.engine.Run(ctx, runID, exposure, enabled)
	if warning != "" {
		o.logf("run %s: warning: %s", runID, warning)
		out.Warnings = append([]string{warning}, out.Warnings...)
	}
	return out, err
}

// BatchResult is the result of one request in a batch. Outcome is nil when
// the request was never dispatched.
type BatchResult struct {
	Request Request
	Outcome *stage.Outcome
	Err     error
}

// RunBatch runs independent requests on at most workers goroutines. A failed
// run does not stop the batch. Cancelling ctx stops dispatching; runs that
// already started finish, and undispatched requests get ctx's error. The
// returned error is ctx's error if the batch was cut short.
func (o *Orchestrator) RunBatch(ctx context.Context, reqs []Request, workers int) ([]BatchResult, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]BatchResult, len(reqs))
	for i, req := range reqs {
		results[i].Request = req
	}

	var g errgroup.Group
	g.SetLimit(workers)

	runCtx := context.WithoutCancel(ctx)
	dispatched := 0
	for i := range reqs {
		if ctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			out, err := o.Run(runCtx, reqs[i])
			results[i].Outcome = out
			results[i].Err = err
			return nil
		})
		dispatched++
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil && dispatched < len(reqs) {
		for i := dispatched; i < len(reqs); i++ {
			results[i].Err = err
		}
		o.logf("batch cancelled: %d of %d runs dispatched", dispatched, len(reqs))
		return results, err
	}
	return results, nil
}

func (o *Orchestrator) startRecording(runID, dataID string) *db.RunRecorder {
	if o.db == nil {
		return nil
	}
	rec := db.NewRunRecorder(o.db, dataID)
	o.mu.Lock()
	o.recorders[runID] = rec
	o.mu.Unlock()
	return rec
}

func (o *Orchestrator) stopRecording(runID string) {
	o.mu.Lock()
	delete(o.recorders, runID)
	o.mu.Unlock()
}

func (o *Orchestrator) recorder(runID string) *db.RunRecorder {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recorders[runID]
}

// StageStarted implements stage.Observer by forwarding to the run's recorder.
func (o *Orchestrator) StageStarted(ctx context.Context, runID string, id stage.ID) {
	if rec := o.recorder(runID); rec != nil {
		rec.StageStarted(ctx, runID, id)
	}
}

// StageFinished implements stage.Observer.
func (o *Orchestrator) StageFinished(ctx context.Context, runID string, id stage.ID, d time.Duration, err error) {
	if rec := o.recorder(runID); rec != nil {
		rec.StageFinished(ctx, runID, id, d, err)
	}
}

// Truncated implements stage.Observer.
func (o *Orchestrator) Truncated(ctx context.Context, runID string, ev stage.TruncationEvent) {
	if rec := o.recorder(runID); rec != nil {
		rec.Truncated(ctx, runID, ev)
	}
}
