package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lucasnoah/imgchar/internal/stage"
)

// RunRecorder persists one run's stage lifecycle into run_events. It
// implements stage.Observer. Observer callbacks cannot fail the run, so the
// first write error is kept and reported by Err.
type RunRecorder struct {
	db     *DB
	dataID string

	mu  sync.Mutex
	err error
}

// NewRunRecorder returns a recorder tagging every event with dataID.
func NewRunRecorder(d *DB, dataID string) *RunRecorder {
	return &RunRecorder{db: d, dataID: dataID}
}

// Log records a run-level event.
func (r *RunRecorder) Log(runID, event, detail string) {
	r.keep(r.db.LogRunEvent(runID, r.dataID, event, "", 0, detail))
}

// StageStarted implements stage.Observer.
func (r *RunRecorder) StageStarted(_ context.Context, runID string, id stage.ID) {
	r.keep(r.db.LogRunEvent(runID, r.dataID, EventStageStarted, id.String(), 0, ""))
}

// StageFinished implements stage.Observer.
func (r *RunRecorder) StageFinished(_ context.Context, runID string, id stage.ID, d time.Duration, err error) {
	event, detail := EventStageFinished, ""
	if err != nil {
		event, detail = EventStageFailed, err.Error()
	}
	r.keep(r.db.LogRunEvent(runID, r.dataID, event, id.String(), int(d.Milliseconds()), detail))
}

// Truncated implements stage.Observer.
func (r *RunRecorder) Truncated(_ context.Context, runID string, ev stage.TruncationEvent) {
	detail := fmt.Sprintf("%s empty, disabled %s", ev.Key, ev.Disabled)
	r.keep(r.db.LogRunEvent(runID, r.dataID, EventTruncated, ev.After.String(), 0, detail))
}

// Err returns the first error hit while recording, if any.
func (r *RunRecorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *RunRecorder) keep(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}
