package repo

import (
	"context"
	"database/sql"

	"taskline/internal/domain"
)

// Assignments, time entries and comments are owned by their task: the engine
// deletes them row by row during a cascade so each removal is audited.

func (r Repo) InsertAssignmentTx(ctx context.Context, tx *sql.Tx, a domain.TaskAssignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_assignments(id,task_id,user_id,role,created_at) VALUES (?,?,?,?,?)`,
		a.ID, a.TaskID, a.UserID, a.Role, a.CreatedAt)
	return err
}

func (r Repo) DeleteAssignmentTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM task_assignments WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAssignment(row rowScanner) (domain.TaskAssignment, error) {
	var a domain.TaskAssignment
	err := row.Scan(&a.ID, &a.TaskID, &a.UserID, &a.Role, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) GetAssignmentTx(ctx context.Context, tx *sql.Tx, taskID, userID, role string) (domain.TaskAssignment, error) {
	return scanAssignment(tx.QueryRowContext(ctx,
		`SELECT id,task_id,user_id,role,created_at FROM task_assignments WHERE task_id=? AND user_id=? AND role=?`,
		taskID, userID, role))
}

func (r Repo) ListAssignments(ctx context.Context, taskID string) ([]domain.TaskAssignment, error) {
	return r.listAssignments(ctx, r.DB.QueryContext, taskID)
}

func (r Repo) ListAssignmentsTx(ctx context.Context, tx *sql.Tx, taskID string) ([]domain.TaskAssignment, error) {
	return r.listAssignments(ctx, tx.QueryContext, taskID)
}

type queryFunc func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (r Repo) listAssignments(ctx context.Context, query queryFunc, taskID string) ([]domain.TaskAssignment, error) {
	rows, err := query(ctx, `SELECT id,task_id,user_id,role,created_at FROM task_assignments WHERE task_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// TaskOwnerTx returns the user holding the owner role on a task.
func (r Repo) TaskOwnerTx(ctx context.Context, tx *sql.Tx, taskID string) (domain.TaskAssignment, error) {
	return scanAssignment(tx.QueryRowContext(ctx,
		`SELECT id,task_id,user_id,role,created_at FROM task_assignments WHERE task_id=? AND role=?`,
		taskID, domain.RoleOwner))
}

func scanTimeEntry(row rowScanner) (domain.TimeEntry, error) {
	var e domain.TimeEntry
	var endTime, description sql.NullString
	err := row.Scan(&e.ID, &e.TaskID, &e.UserID, &e.StartTime, &endTime, &description, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if endTime.Valid {
		e.EndTime = &endTime.String
	}
	if description.Valid {
		e.Description = description.String
	}
	return e, nil
}

func (r Repo) InsertTimeEntryTx(ctx context.Context, tx *sql.Tx, e domain.TimeEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO time_entries(id,task_id,user_id,start_time,end_time,description,created_at) VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.TaskID, e.UserID, e.StartTime, nullableStringPtr(e.EndTime), nullable(e.Description), e.CreatedAt)
	return err
}

func (r Repo) GetTimeEntryTx(ctx context.Context, tx *sql.Tx, id string) (domain.TimeEntry, error) {
	return scanTimeEntry(tx.QueryRowContext(ctx,
		`SELECT id,task_id,user_id,start_time,end_time,description,created_at FROM time_entries WHERE id=?`, id))
}

// OpenEntryTx returns the in-progress entry for a (task, user) pair, if any.
func (r Repo) OpenEntryTx(ctx context.Context, tx *sql.Tx, taskID, userID string) (domain.TimeEntry, error) {
	return scanTimeEntry(tx.QueryRowContext(ctx,
		`SELECT id,task_id,user_id,start_time,end_time,description,created_at FROM time_entries WHERE task_id=? AND user_id=? AND end_time IS NULL`,
		taskID, userID))
}

func (r Repo) CloseTimeEntryTx(ctx context.Context, tx *sql.Tx, id, endTime string) error {
	res, err := tx.ExecContext(ctx, `UPDATE time_entries SET end_time=? WHERE id=? AND end_time IS NULL`, endTime, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTimeEntryTx(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM time_entries WHERE id=?`, id)
	return err
}

func (r Repo) ListTimeEntries(ctx context.Context, taskID string) ([]domain.TimeEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,user_id,start_time,end_time,description,created_at FROM time_entries WHERE task_id=? ORDER BY start_time ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimeEntry
	for rows.Next() {
		e, err := scanTimeEntry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) ListTimeEntriesTx(ctx context.Context, tx *sql.Tx, taskID string) ([]domain.TimeEntry, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id,task_id,user_id,start_time,end_time,description,created_at FROM time_entries WHERE task_id=? ORDER BY start_time ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimeEntry
	for rows.Next() {
		e, err := scanTimeEntry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func scanComment(row rowScanner) (domain.Comment, error) {
	var c domain.Comment
	var parentID, attachments sql.NullString
	err := row.Scan(&c.ID, &c.TaskID, &c.AuthorID, &parentID, &c.Content, &attachments, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if parentID.Valid {
		c.ParentID = &parentID.String
	}
	c.Attachments = decodeJSONMap(attachments)
	return c, nil
}

func (r Repo) InsertCommentTx(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comments(id,task_id,author_id,parent_id,content,attachments_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.TaskID, c.AuthorID, nullableStringPtr(c.ParentID), c.Content, encodeJSONMap(c.Attachments), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCommentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Comment, error) {
	return scanComment(tx.QueryRowContext(ctx,
		`SELECT id,task_id,author_id,parent_id,content,attachments_json,created_at,updated_at FROM comments WHERE id=?`, id))
}

func (r Repo) DeleteCommentTx(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE id=?`, id)
	return err
}

// Comments are stored flat with a parent reference; thread trees are
// reconstructed by the caller from this ordered list.
func (r Repo) ListComments(ctx context.Context, taskID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,author_id,parent_id,content,attachments_json,created_at,updated_at FROM comments WHERE task_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) ListCommentsTx(ctx context.Context, tx *sql.Tx, taskID string) ([]domain.Comment, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id,task_id,author_id,parent_id,content,attachments_json,created_at,updated_at FROM comments WHERE task_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CommentAuthors returns the distinct authors in a task's comment thread.
func (r Repo) CommentAuthors(ctx context.Context, taskID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT author_id FROM comments WHERE task_id=?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

// HasDependentsTx reports whether any child records hang off a task.
func (r Repo) HasDependentsTx(ctx context.Context, tx *sql.Tx, taskID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT
		(SELECT count(*) FROM tasks WHERE parent_id=?) +
		(SELECT count(*) FROM task_assignments WHERE task_id=?) +
		(SELECT count(*) FROM time_entries WHERE task_id=?) +
		(SELECT count(*) FROM comments WHERE task_id=?)`,
		taskID, taskID, taskID, taskID).Scan(&n)
	return n > 0, err
}
