// Package aggregate recomputes derived task fields from child records.
package aggregate

import (
	"context"
	"database/sql"
	"time"

	"taskline/internal/domain"
)

type Engine struct{}

// RecomputeActualHours sums (end_time - start_time) over all closed time
// entries for the task and writes the result as a plain update. The task
// version is deliberately not bumped: time-entry writes must not serialize
// through the parent task's compare-and-write, so actual_hours is eventually
// consistent with concurrent entry inserts.
func (Engine) RecomputeActualHours(ctx context.Context, tx *sql.Tx, taskID string) (float64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT start_time, end_time FROM time_entries WHERE task_id=? AND end_time IS NOT NULL`, taskID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var total float64
	for rows.Next() {
		var startStr, endStr string
		if err := rows.Scan(&startStr, &endStr); err != nil {
			return 0, err
		}
		start, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return 0, err
		}
		end, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return 0, err
		}
		total += end.Sub(start).Hours()
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET actual_hours=? WHERE id=?`, total, taskID); err != nil {
		return 0, err
	}
	return total, nil
}

// ApplyStatusTransition moves a task to newStatus and maintains completed_at:
// set on the transition into done, cleared on the transition out, untouched
// otherwise. No transition is disallowed; done is reversible.
func (Engine) ApplyStatusTransition(t domain.Task, newStatus string, now time.Time) domain.Task {
	entering := newStatus == domain.StatusDone && t.Status != domain.StatusDone
	leaving := newStatus != domain.StatusDone && t.Status == domain.StatusDone
	t.Status = newStatus
	if entering {
		ts := now.UTC().Format(time.RFC3339)
		t.CompletedAt = &ts
	} else if leaving {
		t.CompletedAt = nil
	}
	return t
}
