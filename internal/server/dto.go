package server

import (
	"encoding/base64"
	"strings"

	"taskline/internal/domain"
	"taskline/internal/repo"
)

type CreateWorkspaceRequest struct {
	Title       string `json:"title" maxLength:"255"`
	Description string `json:"description,omitempty" maxLength:"1000"`
	PlanType    string `json:"plan_type,omitempty" enum:"free,basic,pro,enterprise"`
}

type CreateTeamRequest struct {
	Name        string `json:"name" maxLength:"255"`
	Description string `json:"description,omitempty"`
}

type AddTeamMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role" enum:"admin,member,guest"`
}

type CreateTaskRequest struct {
	TeamID         string         `json:"team_id"`
	ParentID       *string        `json:"parent_id,omitempty"`
	Title          string         `json:"title" maxLength:"255"`
	Description    *string        `json:"description,omitempty"`
	Status         *string        `json:"status,omitempty" enum:"backlog,todo,in_progress,review,done"`
	Priority       *string        `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	EstimatedHours *float64       `json:"estimated_hours,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	DueAt          *string        `json:"due_at,omitempty" format:"date-time"`
}

// UpdateTaskRequest is a partial update guarded by expected_version.
type UpdateTaskRequest struct {
	ExpectedVersion int64          `json:"expected_version" minimum:"1"`
	Title           *string        `json:"title,omitempty"`
	Description     *string        `json:"description,omitempty"`
	Status          *string        `json:"status,omitempty" enum:"backlog,todo,in_progress,review,done"`
	Priority        *string        `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	EstimatedHours  *float64       `json:"estimated_hours,omitempty"`
	ClearEstimate   bool           `json:"clear_estimate,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	DueAt           *string        `json:"due_at,omitempty"`
}

type ReparentTaskRequest struct {
	ExpectedVersion int64   `json:"expected_version" minimum:"1"`
	ParentID        *string `json:"parent_id"`
}

type AssignRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role" enum:"owner,assignee,reviewer"`
}

type TransferOwnerRequest struct {
	UserID string `json:"user_id"`
}

type LogTimeRequest struct {
	UserID      string  `json:"user_id,omitempty"`
	StartTime   string  `json:"start_time" format:"date-time"`
	EndTime     *string `json:"end_time,omitempty" format:"date-time"`
	Description string  `json:"description,omitempty"`
}

type CloseTimeEntryRequest struct {
	EndTime string `json:"end_time" format:"date-time"`
}

type AddCommentRequest struct {
	ParentID    *string        `json:"parent_id,omitempty"`
	Content     string         `json:"content"`
	Attachments map[string]any `json:"attachments,omitempty"`
}

type paginatedTasks struct {
	Items      []domain.Task `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type AuditRecordResponse struct {
	Seq int64 `json:"seq"`
	domain.AuditRecord
}

type paginatedAudit struct {
	Items      []AuditRecordResponse `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

func mapAuditRows(rows []repo.AuditRow) []AuditRecordResponse {
	out := make([]AuditRecordResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, AuditRecordResponse{Seq: row.Seq, AuditRecord: row.Record})
	}
	return out
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}

// Cursors pair created_at with id so pages stay stable under equal timestamps.
func composeCursor(createdAt, id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(createdAt + "|" + id))
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", "", err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return "", "", errInvalidCursor
	}
	return parts[0], parts[1], nil
}
