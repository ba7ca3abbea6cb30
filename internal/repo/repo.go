package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"taskline/internal/domain"
	"taskline/internal/store"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = store.ErrNotFound

const taskSelect = `SELECT id,team_id,creator_id,parent_id,title,description,status,priority,estimated_hours,actual_hours,metadata_json,due_at,completed_at,version,created_at,updated_at FROM tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var parentID, description, metadata, dueAt, completedAt sql.NullString
	var estimated sql.NullFloat64
	err := row.Scan(&t.ID, &t.TeamID, &t.CreatorID, &parentID, &t.Title, &description, &t.Status, &t.Priority,
		&estimated, &t.ActualHours, &metadata, &dueAt, &completedAt, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if parentID.Valid {
		t.ParentID = &parentID.String
	}
	if description.Valid {
		t.Description = description.String
	}
	if estimated.Valid {
		t.EstimatedHours = &estimated.Float64
	}
	t.Metadata = decodeJSONMap(metadata)
	if dueAt.Valid {
		t.DueAt = &dueAt.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, taskSelect+` WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, taskSelect+` WHERE id=?`, id))
}

// TaskColumns returns the writable columns of a task for the versioned store.
// id and version are managed by the store itself.
func TaskColumns(t domain.Task) map[string]any {
	return map[string]any{
		"team_id":         t.TeamID,
		"creator_id":      t.CreatorID,
		"parent_id":       nullableStringPtr(t.ParentID),
		"title":           t.Title,
		"description":     nullable(t.Description),
		"status":          t.Status,
		"priority":        t.Priority,
		"estimated_hours": nullableFloatPtr(t.EstimatedHours),
		"actual_hours":    t.ActualHours,
		"metadata_json":   encodeJSONMap(t.Metadata),
		"due_at":          nullableStringPtr(t.DueAt),
		"completed_at":    nullableStringPtr(t.CompletedAt),
		"created_at":      t.CreatedAt,
		"updated_at":      t.UpdatedAt,
	}
}

type TaskFilters struct {
	TeamID          string
	Status          string
	Parent          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.TeamID != "" {
		clauses = append(clauses, "team_id=?")
		args = append(args, f.TeamID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Parent != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.Parent)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := taskSelect + ` ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) ListChildren(ctx context.Context, taskID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, taskSelect+` WHERE parent_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) ListChildrenTx(ctx context.Context, tx *sql.Tx, taskID string) ([]domain.Task, error) {
	rows, err := tx.QueryContext(ctx, taskSelect+` WHERE parent_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// --- JSON and null helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func encodeJSONMap(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return string(b)
}

func decodeJSONMap(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil
	}
	return m
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
