package domain

// Task statuses. No status is terminal; done is reachable and reversible.
const (
	StatusBacklog    = "backlog"
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusReview     = "review"
	StatusDone       = "done"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Assignment roles.
const (
	RoleOwner    = "owner"
	RoleAssignee = "assignee"
	RoleReviewer = "reviewer"
)

// Notification types.
const (
	NotifyTask    = "task"
	NotifyMention = "mention"
	NotifySystem  = "system"
)

func ValidStatus(s string) bool {
	switch s {
	case StatusBacklog, StatusTodo, StatusInProgress, StatusReview, StatusDone:
		return true
	}
	return false
}

func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

func ValidAssignmentRole(r string) bool {
	switch r {
	case RoleOwner, RoleAssignee, RoleReviewer:
		return true
	}
	return false
}

type Workspace struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	PlanType    string         `json:"plan_type" enum:"free,basic,pro,enterprise"`
	Settings    map[string]any `json:"settings,omitempty"`
	IsCompleted bool           `json:"is_completed"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	UpdatedAt   string         `json:"updated_at" format:"date-time"`
}

type Team struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	OwnerID     string         `json:"owner_id"`
	Settings    map[string]any `json:"settings,omitempty"`
	IsActive    bool           `json:"is_active"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	UpdatedAt   string         `json:"updated_at" format:"date-time"`
}

type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type TeamMember struct {
	ID        string `json:"id"`
	TeamID    string `json:"team_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role" enum:"admin,member,guest"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type WorkspaceMember struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
	Role        string `json:"role" enum:"owner,admin,member"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Task is the versioned record at the center of the mutation engine.
// Version is the optimistic-lock token: every successful write increments it
// by exactly one, and a writer holding a stale version cannot commit.
type Task struct {
	ID             string         `json:"id"`
	TeamID         string         `json:"team_id"`
	CreatorID      string         `json:"creator_id"`
	ParentID       *string        `json:"parent_id,omitempty"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Status         string         `json:"status" enum:"backlog,todo,in_progress,review,done"`
	Priority       string         `json:"priority" enum:"low,medium,high,urgent"`
	EstimatedHours *float64       `json:"estimated_hours,omitempty"`
	ActualHours    float64        `json:"actual_hours"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	DueAt          *string        `json:"due_at,omitempty" format:"date-time"`
	CompletedAt    *string        `json:"completed_at,omitempty" format:"date-time"`
	Version        int64          `json:"version"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
	UpdatedAt      string         `json:"updated_at" format:"date-time"`
}

type TaskAssignment struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role" enum:"owner,assignee,reviewer"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TimeEntry struct {
	ID          string  `json:"id"`
	TaskID      string  `json:"task_id"`
	UserID      string  `json:"user_id"`
	StartTime   string  `json:"start_time" format:"date-time"`
	EndTime     *string `json:"end_time,omitempty" format:"date-time"`
	Description string  `json:"description,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Comment struct {
	ID          string         `json:"id"`
	TaskID      string         `json:"task_id"`
	AuthorID    string         `json:"author_id"`
	ParentID    *string        `json:"parent_id,omitempty"`
	Content     string         `json:"content"`
	Attachments map[string]any `json:"attachments,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	UpdatedAt   string         `json:"updated_at" format:"date-time"`
}

// AuditRecord is append-only; rows are never updated or deleted.
type AuditRecord struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action" enum:"create,update,delete"`
	Changes    map[string]any `json:"changes"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
}

type Notification struct {
	ID          string         `json:"id"`
	RecipientID string         `json:"recipient_id"`
	Type        string         `json:"type" enum:"task,mention,system"`
	Title       string         `json:"title"`
	Content     string         `json:"content,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	IsRead      bool           `json:"is_read"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	ReadAt      *string        `json:"read_at,omitempty" format:"date-time"`
}
