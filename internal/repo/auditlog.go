package repo

import (
	"context"
	"database/sql"
	"strings"

	"taskline/internal/domain"
)

// The audit log is append-only; the repo exposes only reads. Appends happen
// through the audit recorder inside the mutation transaction.

type AuditFilters struct {
	EntityType string
	EntityID   string
	ActorID    string
	Limit      int
	CursorSeq  int64
}

type AuditRow struct {
	Seq    int64
	Record domain.AuditRecord
}

func scanAuditRow(row rowScanner) (AuditRow, error) {
	var a AuditRow
	var changes, metadata sql.NullString
	err := row.Scan(&a.Seq, &a.Record.ID, &a.Record.EntityType, &a.Record.EntityID, &a.Record.ActorID,
		&a.Record.Action, &changes, &metadata, &a.Record.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Record.Changes = decodeJSONMap(changes)
	a.Record.Metadata = decodeJSONMap(metadata)
	return a, nil
}

func (r Repo) ListAuditTrail(ctx context.Context, f AuditFilters) ([]AuditRow, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.EntityType != "" {
		clauses = append(clauses, "entity_type=?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.CursorSeq > 0 {
		clauses = append(clauses, "seq<?")
		args = append(args, f.CursorSeq)
	}
	query := `SELECT seq,id,entity_type,entity_id,actor_id,action,changes_json,metadata_json,created_at FROM audit_log WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY seq DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AuditRow
	for rows.Next() {
		a, err := scanAuditRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// AuditAfter returns audit rows past the cursor in ascending order, for the
// webhook relay.
func (r Repo) AuditAfter(ctx context.Context, limit int, cursor int64) ([]AuditRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT seq,id,entity_type,entity_id,actor_id,action,changes_json,metadata_json,created_at FROM audit_log WHERE seq>? ORDER BY seq ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AuditRow
	for rows.Next() {
		a, err := scanAuditRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) LatestAuditSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM audit_log`).Scan(&seq)
	return seq, err
}

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(id,recipient_id,type,title,content,context_json,is_read,created_at,read_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		n.ID, n.RecipientID, n.Type, n.Title, nullable(n.Content), encodeJSONMap(n.Context), boolToInt(n.IsRead), n.CreatedAt, nullableStringPtr(n.ReadAt))
	return err
}

func (r Repo) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	query := `SELECT id,recipient_id,type,title,content,context_json,is_read,created_at,read_at FROM notifications WHERE recipient_id=?`
	args := []any{recipientID}
	if unreadOnly {
		query += ` AND is_read=0`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var content, contextJSON, readAt sql.NullString
		var isRead int
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Title, &content, &contextJSON, &isRead, &n.CreatedAt, &readAt); err != nil {
			return nil, err
		}
		if content.Valid {
			n.Content = content.String
		}
		n.Context = decodeJSONMap(contextJSON)
		n.IsRead = isRead != 0
		if readAt.Valid {
			n.ReadAt = &readAt.String
		}
		res = append(res, n)
	}
	return res, rows.Err()
}
