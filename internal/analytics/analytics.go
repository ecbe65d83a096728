package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// StageStats holds execution stats for one stage.
type StageStats struct {
	Stage      string  `json:"stage"`
	Runs       int     `json:"runs"`
	Failures   int     `json:"failures"`
	FailurePct float64 `json:"failure_pct"`
	AvgMs      float64 `json:"avg_ms"`
	P50Ms      float64 `json:"p50_ms"`
	P95Ms      float64 `json:"p95_ms"`
}

// QueryStageStats returns per-stage invocation counts, failure rates, and
// duration percentiles. Durations only include successful invocations.
func QueryStageStats(database DB, since string) ([]StageStats, error) {
	query := `
		SELECT stage, event, COALESCE(duration_ms, 0)
		FROM run_events
		WHERE event IN ('stage_finished', 'stage_failed')
		AND stage IS NOT NULL`

	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage stats: %w", err)
	}
	defer rows.Close()

	type acc struct {
		runs, failures int
		durations      []float64
	}
	byStage := make(map[string]*acc)
	for rows.Next() {
		var stage, event string
		var ms int
		if err := rows.Scan(&stage, &event, &ms); err != nil {
			return nil, fmt.Errorf("scan stage stats: %w", err)
		}
		a := byStage[stage]
		if a == nil {
			a = &acc{}
			byStage[stage] = a
		}
		a.runs++
		if event == "stage_failed" {
			a.failures++
			continue
		}
		a.durations = append(a.durations, float64(ms))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []StageStats
	for stage, a := range byStage {
		sort.Float64s(a.durations)
		results = append(results, StageStats{
			Stage:      stage,
			Runs:       a.runs,
			Failures:   a.failures,
			FailurePct: pct(a.failures, a.runs),
			AvgMs:      avg(a.durations),
			P50Ms:      percentile(a.durations, 50),
			P95Ms:      percentile(a.durations, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Stage < results[j].Stage
	})
	return results, nil
}

// RunOutcomes summarises how runs ended.
type RunOutcomes struct {
	Total         int     `json:"total"`
	Completed     int     `json:"completed"`
	Truncated     int     `json:"truncated"`
	Failed        int     `json:"failed"`
	TruncationPct float64 `json:"truncation_pct"`
	FailurePct    float64 `json:"failure_pct"`
}

// QueryRunOutcomes counts finished runs by outcome kind.
func QueryRunOutcomes(database DB, since string) (*RunOutcomes, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN detail = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN detail = 'truncated' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN detail LIKE 'failed%' THEN 1 ELSE 0 END), 0)
		FROM run_events
		WHERE event = 'run_finished'`

	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}

	var r RunOutcomes
	if err := database.Conn().QueryRow(query, args...).Scan(&r.Total, &r.Completed, &r.Truncated, &r.Failed); err != nil {
		return nil, fmt.Errorf("query run outcomes: %w", err)
	}
	r.TruncationPct = pct(r.Truncated, r.Total)
	r.FailurePct = pct(r.Failed, r.Total)
	return &r, nil
}

// TruncationCount counts truncations triggered after a stage.
type TruncationCount struct {
	After string `json:"after"`
	Count int    `json:"count"`
}

// QueryTruncations returns how often each stage emptied a key that
// downstream stages needed.
func QueryTruncations(database DB, since string) ([]TruncationCount, error) {
	query := `
		SELECT stage, COUNT(*)
		FROM run_events
		WHERE event = 'truncated'`

	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY stage ORDER BY COUNT(*) DESC, stage`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query truncations: %w", err)
	}
	defer rows.Close()

	var results []TruncationCount
	for rows.Next() {
		var tc TruncationCount
		var stage sql.NullString
		if err := rows.Scan(&stage, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan truncation: %w", err)
		}
		tc.After = stage.String
		results = append(results, tc)
	}
	return results, rows.Err()
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
