package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Run event names.
const (
	EventRunStarted    = "run_started"
	EventStageStarted  = "stage_started"
	EventStageFinished = "stage_finished"
	EventStageFailed   = "stage_failed"
	EventTruncated     = "truncated"
	EventRunFinished   = "run_finished"
	EventPublished     = "published"
)

// RunEvent represents a row in the run_events table.
type RunEvent struct {
	ID         int
	RunID      string
	DataID     string
	Event      string
	Stage      string
	DurationMs int
	Detail     string
	Timestamp  string
}

// Published represents a row in the published_outputs table.
type Published struct {
	Name      string
	DataID    string
	Value     string
	UpdatedAt string
}

// LogRunEvent inserts a run event. stage and detail may be empty.
func (d *DB) LogRunEvent(runID, dataID, event, stage string, durationMs int, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO run_events (run_id, data_id, event, stage, duration_ms, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, dataID, event, nullString(stage), durationMs, nullString(detail),
	)
	if err != nil {
		return fmt.Errorf("log run event: %w", err)
	}
	return nil
}

// GetRunHistory returns all events for a run in the order they were logged.
func (d *DB) GetRunHistory(runID string) ([]RunEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, data_id, event, stage, duration_ms, detail, timestamp
		 FROM run_events WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get run history: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		var stage, detail sql.NullString
		var durationMs sql.NullInt64
		if err := rows.Scan(&e.ID, &e.RunID, &e.DataID, &e.Event, &stage, &durationMs, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		if stage.Valid {
			e.Stage = stage.String
		}
		if durationMs.Valid {
			e.DurationMs = int(durationMs.Int64)
		}
		if detail.Valid {
			e.Detail = detail.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PutPublished stores value as JSON under (name, dataID), replacing any
// earlier value.
func (d *DB) PutPublished(name, dataID string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	_, err = d.conn.Exec(
		`INSERT INTO published_outputs (name, data_id, value) VALUES (?, ?, ?)
		 ON CONFLICT(name, data_id) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
		name, dataID, string(data),
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	return nil
}

// GetPublished returns the stored value for (name, dataID), or nil if absent.
func (d *DB) GetPublished(name, dataID string) (*Published, error) {
	var p Published
	err := d.conn.QueryRow(
		`SELECT name, data_id, value, updated_at FROM published_outputs WHERE name = ? AND data_id = ?`,
		name, dataID,
	).Scan(&p.Name, &p.DataID, &p.Value, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get published %s: %w", name, err)
	}
	return &p, nil
}

// ListPublished returns every output stored for dataID, ordered by name.
func (d *DB) ListPublished(dataID string) ([]Published, error) {
	rows, err := d.conn.Query(
		`SELECT name, data_id, value, updated_at FROM published_outputs WHERE data_id = ? ORDER BY name`,
		dataID,
	)
	if err != nil {
		return nil, fmt.Errorf("list published: %w", err)
	}
	defer rows.Close()

	var out []Published
	for rows.Next() {
		var p Published
		if err := rows.Scan(&p.Name, &p.DataID, &p.Value, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan published: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
