package tasklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Taskline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID          string  `json:"id"`
	TeamID      string  `json:"team_id"`
	ParentID    *string `json:"parent_id,omitempty"`
	Title       string  `json:"title"`
	Status      string  `json:"status"`
	Priority    string  `json:"priority"`
	ActualHours float64 `json:"actual_hours"`
	Version     int64   `json:"version"`
	DueAt       *string `json:"due_at,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// AuditRecord represents an audit trail entry.
type AuditRecord struct {
	Seq        int64          `json:"seq"`
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	Changes    map[string]any `json:"changes"`
	CreatedAt  string         `json:"created_at"`
}

// Notification represents a delivered notification.
type Notification struct {
	ID          string         `json:"id"`
	RecipientID string         `json:"recipient_id"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Content     string         `json:"content,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	IsRead      bool           `json:"is_read"`
	CreatedAt   string         `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedTasks wraps list responses with cursors.
type PaginatedTasks struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// PaginatedAudit wraps audit trail pages.
type PaginatedAudit struct {
	Items      []AuditRecord `json:"items"`
	NextCursor string        `json:"next_cursor"`
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, teamID, title string) (Task, error) {
	body := map[string]any{
		"team_id": teamID,
		"title":   title,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v0/tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateTask applies a partial update guarded by expectedVersion. fields maps
// task field names to new values, e.g. {"status": "done"}.
func (c *Client) UpdateTask(ctx context.Context, id string, expectedVersion int64, fields map[string]any) (Task, error) {
	body := map[string]any{"expected_version": expectedVersion}
	for k, v := range fields {
		body[k] = v
	}
	var resp Task
	err := c.do(ctx, http.MethodPatch, "v0/tasks/"+url.PathEscape(id), body, &resp)
	return resp, err
}

// ReparentTask moves a task under a new parent; empty parentID makes it a root.
func (c *Client) ReparentTask(ctx context.Context, id string, expectedVersion int64, parentID string) (Task, error) {
	body := map[string]any{"expected_version": expectedVersion}
	if parentID != "" {
		body["parent_id"] = parentID
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks/"+url.PathEscape(id)+"/reparent", body, &resp)
	return resp, err
}

// DeleteTask removes a task; cascade takes the whole subtree.
func (c *Client) DeleteTask(ctx context.Context, id string, expectedVersion int64, cascade bool) error {
	endpoint := fmt.Sprintf("v0/tasks/%s?expected_version=%d&cascade=%t", url.PathEscape(id), expectedVersion, cascade)
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// Tasks returns a task page filtered by team.
func (c *Client) Tasks(ctx context.Context, teamID string, limit int, cursor string) (PaginatedTasks, error) {
	endpoint := "v0/tasks?team_id=" + url.QueryEscape(teamID)
	if limit > 0 {
		endpoint = fmt.Sprintf("%s&limit=%d", endpoint, limit)
	}
	if cursor != "" {
		endpoint = fmt.Sprintf("%s&cursor=%s", endpoint, url.QueryEscape(cursor))
	}
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// LogTime records a time entry; empty endTime starts a running timer.
func (c *Client) LogTime(ctx context.Context, taskID, startTime, endTime, description string) error {
	body := map[string]any{
		"start_time":  startTime,
		"description": description,
	}
	if endTime != "" {
		body["end_time"] = endTime
	}
	return c.do(ctx, http.MethodPost, "v0/tasks/"+url.PathEscape(taskID)+"/time-entries", body, nil)
}

// AddComment posts a comment on a task.
func (c *Client) AddComment(ctx context.Context, taskID, content string) error {
	body := map[string]any{"content": content}
	return c.do(ctx, http.MethodPost, "v0/tasks/"+url.PathEscape(taskID)+"/comments", body, nil)
}

// AuditTrail returns a page of audit records for an entity.
func (c *Client) AuditTrail(ctx context.Context, entityType, entityID string, limit int) (PaginatedAudit, error) {
	endpoint := fmt.Sprintf("v0/audit?entity_type=%s&entity_id=%s", url.QueryEscape(entityType), url.QueryEscape(entityID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s&limit=%d", endpoint, limit)
	}
	var resp PaginatedAudit
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Notifications returns notifications for the authenticated user.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	endpoint := fmt.Sprintf("v0/notifications?unread_only=%t", unreadOnly)
	var resp []Notification
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
