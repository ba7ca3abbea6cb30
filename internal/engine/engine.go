// Package engine implements the mutation operations. Every write follows the
// same transaction protocol: begin, validate, compare-and-write through the
// versioned store, append audit records, commit, then fan out notifications.
// Notification dispatch happens strictly after commit and never fails a write.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskline/internal/aggregate"
	"taskline/internal/audit"
	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/hierarchy"
	"taskline/internal/notify"
	"taskline/internal/repo"
	"taskline/internal/store"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Store     store.Store
	Hierarchy hierarchy.Validator
	Aggregate aggregate.Engine
	Notify    notify.Dispatcher
	Auth      auth.Service
	Config    *config.Config
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:        db,
		Repo:      r,
		Hierarchy: hierarchy.New(r, cfg.MaxDepth()),
		Notify:    notify.New(r),
		Auth:      auth.Service{},
		Config:    cfg,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) recorder() audit.Recorder {
	return audit.Recorder{Now: e.Now}
}

// --- workspaces and teams ---

func validateWorkspaceTitle(title string) error {
	if title == "" || len(title) > 255 {
		return invalidf("title", "must be 1-255 characters")
	}
	return nil
}

var planTypes = map[string]bool{"free": true, "basic": true, "pro": true, "enterprise": true}

func (e Engine) CreateWorkspace(ctx context.Context, title, description, planType, actorID string) (domain.Workspace, error) {
	if err := validateWorkspaceTitle(title); err != nil {
		return domain.Workspace{}, err
	}
	if len(description) > 1000 {
		return domain.Workspace{}, invalidf("description", "must be at most 1000 characters")
	}
	if planType == "" {
		planType = "free"
	}
	if !planTypes[planType] {
		return domain.Workspace{}, invalidf("plan_type", "unknown plan %q", planType)
	}
	now := e.nowStr()
	w := domain.Workspace{
		ID:          uuid.New().String(),
		Title:       title,
		Description: description,
		PlanType:    planType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return w, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureUserTx(ctx, tx, actorID, now); err != nil {
		return w, err
	}
	if err := e.Repo.InsertWorkspaceTx(ctx, tx, w); err != nil {
		return w, err
	}
	if err := e.Repo.AddWorkspaceMemberTx(ctx, tx, domain.WorkspaceMember{
		ID: uuid.New().String(), WorkspaceID: w.ID, UserID: actorID, Role: "owner", CreatedAt: now,
	}); err != nil {
		return w, err
	}
	snap, err := audit.Snapshot(w)
	if err != nil {
		return w, err
	}
	if err := e.recorder().Append(ctx, tx, "workspace", w.ID, actorID, "create", snap, nil); err != nil {
		return w, err
	}
	return w, tx.Commit()
}

func (e Engine) CreateTeam(ctx context.Context, workspaceID, name, description, actorID string) (domain.Team, error) {
	if name == "" || len(name) > 255 {
		return domain.Team{}, invalidf("name", "must be 1-255 characters")
	}
	if _, err := e.Repo.GetWorkspace(ctx, workspaceID); err != nil {
		return domain.Team{}, err
	}
	if err := e.Auth.RequireWorkspaceAdmin(ctx, e.DB, workspaceID, actorID, "create team"); err != nil {
		return domain.Team{}, err
	}
	now := e.nowStr()
	t := domain.Team{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Name:        name,
		Description: description,
		OwnerID:     actorID,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTeamTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Repo.AddTeamMemberTx(ctx, tx, domain.TeamMember{
		ID: uuid.New().String(), TeamID: t.ID, UserID: actorID, Role: "admin", CreatedAt: now,
	}); err != nil {
		return t, err
	}
	snap, err := audit.Snapshot(t)
	if err != nil {
		return t, err
	}
	if err := e.recorder().Append(ctx, tx, "team", t.ID, actorID, "create", snap, nil); err != nil {
		return t, err
	}
	return t, tx.Commit()
}

func (e Engine) AddTeamMember(ctx context.Context, teamID, userID, role, actorID string) (domain.TeamMember, error) {
	switch role {
	case "admin", "member", "guest":
	default:
		return domain.TeamMember{}, invalidf("role", "unknown team role %q", role)
	}
	team, err := e.Repo.GetTeam(ctx, teamID)
	if err != nil {
		return domain.TeamMember{}, err
	}
	if err := e.Auth.RequireWorkspaceAdmin(ctx, e.DB, team.WorkspaceID, actorID, "add team member"); err != nil {
		return domain.TeamMember{}, err
	}
	now := e.nowStr()
	m := domain.TeamMember{ID: uuid.New().String(), TeamID: teamID, UserID: userID, Role: role, CreatedAt: now}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureUserTx(ctx, tx, userID, now); err != nil {
		return m, err
	}
	if err := e.Repo.AddTeamMemberTx(ctx, tx, m); err != nil {
		return m, err
	}
	snap, err := audit.Snapshot(m)
	if err != nil {
		return m, err
	}
	if err := e.recorder().Append(ctx, tx, "team_member", m.ID, actorID, "create", snap, nil); err != nil {
		return m, err
	}
	return m, tx.Commit()
}

// --- tasks ---

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	TeamID         string
	ParentID       string
	Title          string
	Description    string
	Status         string
	Priority       string
	EstimatedHours *float64
	Metadata       map[string]any
	DueAt          string
	ActorID        string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" || len(opts.Title) > 255 {
		return domain.Task{}, invalidf("title", "must be 1-255 characters")
	}
	if opts.TeamID == "" {
		return domain.Task{}, invalidf("team_id", "required")
	}
	if opts.Status == "" {
		opts.Status = domain.StatusBacklog
	}
	if !domain.ValidStatus(opts.Status) {
		return domain.Task{}, invalidf("status", "unknown status %q", opts.Status)
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !domain.ValidPriority(opts.Priority) {
		return domain.Task{}, invalidf("priority", "unknown priority %q", opts.Priority)
	}
	if opts.EstimatedHours != nil && *opts.EstimatedHours < 0 {
		return domain.Task{}, invalidf("estimated_hours", "must not be negative")
	}
	if opts.DueAt != "" {
		if _, err := time.Parse(time.RFC3339, opts.DueAt); err != nil {
			return domain.Task{}, invalidf("due_at", "must be RFC 3339")
		}
	}
	if _, err := e.Repo.GetTeam(ctx, opts.TeamID); err != nil {
		return domain.Task{}, err
	}
	if err := e.Auth.RequireWriter(ctx, e.DB, opts.TeamID, opts.ActorID, "create task"); err != nil {
		return domain.Task{}, err
	}

	now := e.nowStr()
	t := domain.Task{
		ID:             uuid.New().String(),
		TeamID:         opts.TeamID,
		CreatorID:      opts.ActorID,
		ParentID:       optionalString(opts.ParentID),
		Title:          opts.Title,
		Description:    opts.Description,
		Status:         opts.Status,
		Priority:       opts.Priority,
		EstimatedHours: opts.EstimatedHours,
		Metadata:       opts.Metadata,
		DueAt:          optionalString(opts.DueAt),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if t.Status == domain.StatusDone {
		t.CompletedAt = &now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if opts.ParentID != "" {
		parent, err := e.Repo.GetTaskTx(ctx, tx, opts.ParentID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return t, fmt.Errorf("%w: parent %s not found", ErrInvalidHierarchy, opts.ParentID)
			}
			return t, err
		}
		if parent.TeamID != opts.TeamID {
			return t, fmt.Errorf("%w: parent in different team", ErrInvalidHierarchy)
		}
	}
	if err := e.Store.Create(ctx, tx, "tasks", t.ID, repo.TaskColumns(t)); err != nil {
		return t, err
	}
	owner := domain.TaskAssignment{
		ID: uuid.New().String(), TaskID: t.ID, UserID: opts.ActorID, Role: domain.RoleOwner, CreatedAt: now,
	}
	if err := e.Repo.InsertAssignmentTx(ctx, tx, owner); err != nil {
		return t, err
	}
	snap, err := audit.Snapshot(t)
	if err != nil {
		return t, err
	}
	if err := e.recorder().Append(ctx, tx, "task", t.ID, opts.ActorID, "create", snap, nil); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.Notify.TaskEvent(ctx, t, "created", opts.ActorID)
	return t, nil
}

// TaskUpdateOptions carries the fields an update may touch. A nil pointer
// leaves the field alone; an empty string in a nullable field clears it.
// ExpectedVersion is mandatory: it is the version the caller last read.
type TaskUpdateOptions struct {
	ID              string
	ExpectedVersion int64
	Title           *string
	Description     *string
	Status          *string
	Priority        *string
	EstimatedHours  *float64
	ClearEstimate   bool
	Metadata        map[string]any
	DueAt           *string
	ActorID         string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	if opts.ExpectedVersion <= 0 {
		return domain.Task{}, invalidf("expected_version", "required")
	}
	if opts.Title != nil && (*opts.Title == "" || len(*opts.Title) > 255) {
		return domain.Task{}, invalidf("title", "must be 1-255 characters")
	}
	if opts.Status != nil && !domain.ValidStatus(*opts.Status) {
		return domain.Task{}, invalidf("status", "unknown status %q", *opts.Status)
	}
	if opts.Priority != nil && !domain.ValidPriority(*opts.Priority) {
		return domain.Task{}, invalidf("priority", "unknown priority %q", *opts.Priority)
	}
	if opts.EstimatedHours != nil && *opts.EstimatedHours < 0 {
		return domain.Task{}, invalidf("estimated_hours", "must not be negative")
	}
	if opts.DueAt != nil && *opts.DueAt != "" {
		if _, err := time.Parse(time.RFC3339, *opts.DueAt); err != nil {
			return domain.Task{}, invalidf("due_at", "must be RFC 3339")
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	before, err := e.Repo.GetTaskTx(ctx, tx, opts.ID)
	if err != nil {
		return before, err
	}
	if err := e.Auth.RequireWriter(ctx, tx, before.TeamID, opts.ActorID, "update task"); err != nil {
		return before, err
	}
	t := before
	if opts.Title != nil {
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Priority != nil {
		t.Priority = *opts.Priority
	}
	if opts.EstimatedHours != nil {
		t.EstimatedHours = opts.EstimatedHours
	}
	if opts.ClearEstimate {
		t.EstimatedHours = nil
	}
	if opts.Metadata != nil {
		t.Metadata = opts.Metadata
	}
	if opts.DueAt != nil {
		t.DueAt = optionalString(*opts.DueAt)
	}
	if opts.Status != nil {
		t = e.Aggregate.ApplyStatusTransition(t, *opts.Status, e.now())
	}
	t.UpdatedAt = e.nowStr()

	newVersion, err := e.Store.WriteIfVersion(ctx, tx, "tasks", t.ID, opts.ExpectedVersion, repo.TaskColumns(t))
	if err != nil {
		return before, err
	}
	t.Version = newVersion
	changes, err := audit.Diff(before, t)
	if err != nil {
		return t, err
	}
	if err := e.recorder().Append(ctx, tx, "task", t.ID, opts.ActorID, "update", changes, nil); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.Notify.TaskEvent(ctx, t, "updated", opts.ActorID)
	return t, nil
}

// ReparentTask moves a task under a new parent, or to the root when
// newParentID is empty. The move is rejected when it would close a cycle or
// cross team boundaries.
func (e Engine) ReparentTask(ctx context.Context, taskID string, newParentID string, expectedVersion int64, actorID string) (domain.Task, error) {
	if expectedVersion <= 0 {
		return domain.Task{}, invalidf("expected_version", "required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	before, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return before, err
	}
	if err := e.Auth.RequireWriter(ctx, tx, before.TeamID, actorID, "reparent task"); err != nil {
		return before, err
	}
	t := before
	if newParentID == "" {
		t.ParentID = nil
	} else {
		same, err := e.Hierarchy.SameTeam(ctx, tx, taskID, newParentID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return before, fmt.Errorf("%w: parent %s not found", ErrInvalidHierarchy, newParentID)
			}
			return before, err
		}
		if !same {
			return before, fmt.Errorf("%w: parent in different team", ErrInvalidHierarchy)
		}
		cycle, err := e.Hierarchy.WouldCreateCycle(ctx, tx, taskID, newParentID)
		if err != nil {
			return before, err
		}
		if cycle {
			return before, fmt.Errorf("%w: cycle through %s", ErrInvalidHierarchy, newParentID)
		}
		t.ParentID = &newParentID
	}
	t.UpdatedAt = e.nowStr()

	newVersion, err := e.Store.WriteIfVersion(ctx, tx, "tasks", t.ID, expectedVersion, repo.TaskColumns(t))
	if err != nil {
		return before, err
	}
	t.Version = newVersion
	changes, err := audit.Diff(before, t)
	if err != nil {
		return t, err
	}
	if err := e.recorder().Append(ctx, tx, "task", t.ID, actorID, "update", changes, nil); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.Notify.TaskEvent(ctx, t, "moved", actorID)
	return t, nil
}

// DeleteTask removes a task. Without cascade the delete is rejected while any
// child task, assignment, time entry or comment exists. With cascade the whole
// subtree goes, depth first, and every removed task gets its own audit record.
func (e Engine) DeleteTask(ctx context.Context, taskID string, expectedVersion int64, cascade bool, actorID string) error {
	if expectedVersion <= 0 {
		return invalidf("expected_version", "required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if err := e.Auth.RequireWriter(ctx, tx, t.TeamID, actorID, "delete task"); err != nil {
		return err
	}
	if !cascade {
		has, err := e.Repo.HasDependentsTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if has {
			return ErrHasDependents
		}
	}
	if err := e.deleteSubtree(ctx, tx, t, expectedVersion, actorID, true); err != nil {
		return err
	}
	return tx.Commit()
}

// deleteSubtree removes children bottom-up so the parent_id foreign key never
// dangles. Only the root delete is guarded by the caller's expected version;
// descendants go at whatever version they hold inside the transaction.
func (e Engine) deleteSubtree(ctx context.Context, tx *sql.Tx, t domain.Task, expectedVersion int64, actorID string, root bool) error {
	children, err := e.Repo.ListChildrenTx(ctx, tx, t.ID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := e.deleteSubtree(ctx, tx, child, child.Version, actorID, false); err != nil {
			return err
		}
	}
	assignments, err := e.Repo.ListAssignmentsTx(ctx, tx, t.ID)
	if err != nil {
		return err
	}
	for _, a := range assignments {
		if err := e.Repo.DeleteAssignmentTx(ctx, tx, a.ID); err != nil {
			return err
		}
	}
	entries, err := e.Repo.ListTimeEntriesTx(ctx, tx, t.ID)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := e.Repo.DeleteTimeEntryTx(ctx, tx, entry.ID); err != nil {
			return err
		}
	}
	comments, err := e.Repo.ListCommentsTx(ctx, tx, t.ID)
	if err != nil {
		return err
	}
	// replies sort after their parents, so walking backwards keeps the
	// comment parent_id reference intact at every step
	for i := len(comments) - 1; i >= 0; i-- {
		if err := e.Repo.DeleteCommentTx(ctx, tx, comments[i].ID); err != nil {
			return err
		}
	}
	if err := e.Store.DeleteIfVersion(ctx, tx, "tasks", t.ID, expectedVersion); err != nil {
		return err
	}
	snap, err := audit.Snapshot(t)
	if err != nil {
		return err
	}
	metadata := map[string]any{"cascade": !root}
	if root {
		metadata = nil
	}
	return e.recorder().Append(ctx, tx, "task", t.ID, actorID, "delete", snap, metadata)
}

// --- assignments ---

func (e Engine) Assign(ctx context.Context, taskID, userID, role, actorID string) (domain.TaskAssignment, error) {
	if !domain.ValidAssignmentRole(role) {
		return domain.TaskAssignment{}, invalidf("role", "unknown assignment role %q", role)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskAssignment{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.TaskAssignment{}, err
	}
	if err := e.Auth.RequireWriter(ctx, tx, t.TeamID, actorID, "assign"); err != nil {
		return domain.TaskAssignment{}, err
	}
	if existing, err := e.Repo.GetAssignmentTx(ctx, tx, taskID, userID, role); err == nil {
		return existing, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.TaskAssignment{}, err
	}
	// a task has exactly one owner
	if role == domain.RoleOwner {
		if _, err := e.Repo.TaskOwnerTx(ctx, tx, taskID); err == nil {
			return domain.TaskAssignment{}, invalidf("role", "task already has an owner")
		} else if !errors.Is(err, repo.ErrNotFound) {
			return domain.TaskAssignment{}, err
		}
	}
	now := e.nowStr()
	a := domain.TaskAssignment{ID: uuid.New().String(), TaskID: taskID, UserID: userID, Role: role, CreatedAt: now}
	if err := e.Repo.EnsureUserTx(ctx, tx, userID, now); err != nil {
		return a, err
	}
	if err := e.Repo.InsertAssignmentTx(ctx, tx, a); err != nil {
		return a, err
	}
	snap, err := audit.Snapshot(a)
	if err != nil {
		return a, err
	}
	if err := e.recorder().Append(ctx, tx, "assignment", a.ID, actorID, "create", snap, nil); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	e.Notify.TaskEvent(ctx, t, "assigned", actorID)
	return a, nil
}

func (e Engine) Unassign(ctx context.Context, taskID, userID, role, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if err := e.Auth.RequireWriter(ctx, tx, t.TeamID, actorID, "unassign"); err != nil {
		return err
	}
	a, err := e.Repo.GetAssignmentTx(ctx, tx, taskID, userID, role)
	if err != nil {
		return err
	}
	// the owner row never goes away on its own; TransferOwner replaces it
	if a.Role == domain.RoleOwner {
		return invalidf("role", "cannot remove the task owner")
	}
	if err := e.Repo.DeleteAssignmentTx(ctx, tx, a.ID); err != nil {
		return err
	}
	snap, err := audit.Snapshot(a)
	if err != nil {
		return err
	}
	if err := e.recorder().Append(ctx, tx, "assignment", a.ID, actorID, "delete", snap, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Notify.TaskEvent(ctx, t, "unassigned", actorID)
	return nil
}

// TransferOwner moves the owner role to a new user in one transaction, so the
// task never observably has zero or two owners.
func (e Engine) TransferOwner(ctx context.Context, taskID, newOwnerID, actorID string) (domain.TaskAssignment, error) {
	if newOwnerID == "" {
		return domain.TaskAssignment{}, invalidf("user_id", "required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskAssignment{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.TaskAssignment{}, err
	}
	if err := e.Auth.RequireWriter(ctx, tx, t.TeamID, actorID, "transfer ownership"); err != nil {
		return domain.TaskAssignment{}, err
	}
	current, err := e.Repo.TaskOwnerTx(ctx, tx, taskID)
	if err != nil {
		return domain.TaskAssignment{}, err
	}
	if current.UserID == newOwnerID {
		return current, nil
	}
	if err := e.Repo.DeleteAssignmentTx(ctx, tx, current.ID); err != nil {
		return domain.TaskAssignment{}, err
	}
	now := e.nowStr()
	next := domain.TaskAssignment{
		ID: uuid.New().String(), TaskID: taskID, UserID: newOwnerID, Role: domain.RoleOwner, CreatedAt: now,
	}
	if err := e.Repo.EnsureUserTx(ctx, tx, newOwnerID, now); err != nil {
		return next, err
	}
	if err := e.Repo.InsertAssignmentTx(ctx, tx, next); err != nil {
		return next, err
	}
	changes, err := audit.Diff(current, next)
	if err != nil {
		return next, err
	}
	if err := e.recorder().Append(ctx, tx, "assignment", next.ID, actorID, "update", changes, map[string]any{"transfer": true}); err != nil {
		return next, err
	}
	if err := tx.Commit(); err != nil {
		return next, err
	}
	e.Notify.TaskEvent(ctx, t, "assigned", actorID)
	return next, nil
}

// --- time entries ---

// LogTime records work against a task. An open entry (no end time) acts as a
// running timer; a user can hold at most one per task. Closed entries update
// the task's actual hours in the same transaction.
func (e Engine) LogTime(ctx context.Context, taskID, userID, startTime, endTime, description, actorID string) (domain.TimeEntry, error) {
	start, err := time.Parse(time.RFC3339, startTime)
	if err != nil {
		return domain.TimeEntry{}, invalidf("start_time", "must be RFC 3339")
	}
	if endTime != "" {
		end, err := time.Parse(time.RFC3339, endTime)
		if err != nil {
			return domain.TimeEntry{}, invalidf("end_time", "must be RFC 3339")
		}
		// zero-duration entries are allowed, inverted ranges are not
		if end.Before(start) {
			return domain.TimeEntry{}, invalidf("end_time", "must not be before start_time")
		}
	}
	if userID == "" {
		userID = actorID
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TimeEntry{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.TimeEntry{}, err
	}
	if err := e.Auth.RequireWriter(ctx, tx, t.TeamID, actorID, "log time"); err != nil {
		return domain.TimeEntry{}, err
	}
	if endTime == "" {
		if _, err := e.Repo.OpenEntryTx(ctx, tx, taskID, userID); err == nil {
			return domain.TimeEntry{}, invalidf("end_time", "an open entry already exists for this task and user")
		} else if !errors.Is(err, repo.ErrNotFound) {
			return domain.TimeEntry{}, err
		}
	}
	now := e.nowStr()
	entry := domain.TimeEntry{
		ID:          uuid.New().String(),
		TaskID:      taskID,
		UserID:      userID,
		StartTime:   startTime,
		EndTime:     optionalString(endTime),
		Description: description,
		CreatedAt:   now,
	}
	if err := e.Repo.EnsureUserTx(ctx, tx, userID, now); err != nil {
		return entry, err
	}
	if err := e.Repo.InsertTimeEntryTx(ctx, tx, entry); err != nil {
		return entry, err
	}
	if entry.EndTime != nil {
		if _, err := e.Aggregate.RecomputeActualHours(ctx, tx, taskID); err != nil {
			return entry, err
		}
	}
	snap, err := audit.Snapshot(entry)
	if err != nil {
		return entry, err
	}
	if err := e.recorder().Append(ctx, tx, "time_entry", entry.ID, actorID, "create", snap, nil); err != nil {
		return entry, err
	}
	return entry, tx.Commit()
}

// CloseTimeEntry stops a running timer and refreshes the task's actual hours.
func (e Engine) CloseTimeEntry(ctx context.Context, entryID, endTime, actorID string) (domain.TimeEntry, error) {
	end, err := time.Parse(time.RFC3339, endTime)
	if err != nil {
		return domain.TimeEntry{}, invalidf("end_time", "must be RFC 3339")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TimeEntry{}, err
	}
	defer tx.Rollback()

	entry, err := e.Repo.GetTimeEntryTx(ctx, tx, entryID)
	if err != nil {
		return entry, err
	}
	if entry.EndTime != nil {
		return entry, invalidf("end_time", "entry already closed")
	}
	start, err := time.Parse(time.RFC3339, entry.StartTime)
	if err != nil {
		return entry, err
	}
	if end.Before(start) {
		return entry, invalidf("end_time", "must not be before start_time")
	}
	t, err := e.Repo.GetTaskTx(ctx, tx, entry.TaskID)
	if err != nil {
		return entry, err
	}
	if err := e.Auth.RequireWriter(ctx, tx, t.TeamID, actorID, "close time entry"); err != nil {
		return entry, err
	}
	if err := e.Repo.CloseTimeEntryTx(ctx, tx, entryID, endTime); err != nil {
		return entry, err
	}
	before := entry
	entry.EndTime = &endTime
	if _, err := e.Aggregate.RecomputeActualHours(ctx, tx, entry.TaskID); err != nil {
		return entry, err
	}
	changes, err := audit.Diff(before, entry)
	if err != nil {
		return entry, err
	}
	if err := e.recorder().Append(ctx, tx, "time_entry", entry.ID, actorID, "update", changes, nil); err != nil {
		return entry, err
	}
	return entry, tx.Commit()
}

// --- comments ---

func (e Engine) AddComment(ctx context.Context, taskID, parentID, content string, attachments map[string]any, actorID string) (domain.Comment, error) {
	if content == "" {
		return domain.Comment{}, invalidf("content", "required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Comment{}, err
	}
	if err := e.Auth.RequireMember(ctx, tx, t.TeamID, actorID, "comment"); err != nil {
		return domain.Comment{}, err
	}
	if parentID != "" {
		parent, err := e.Repo.GetCommentTx(ctx, tx, parentID)
		if err != nil {
			return domain.Comment{}, err
		}
		if parent.TaskID != taskID {
			return domain.Comment{}, invalidf("parent_id", "parent comment belongs to another task")
		}
	}
	now := e.nowStr()
	c := domain.Comment{
		ID:          uuid.New().String(),
		TaskID:      taskID,
		AuthorID:    actorID,
		ParentID:    optionalString(parentID),
		Content:     content,
		Attachments: attachments,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertCommentTx(ctx, tx, c); err != nil {
		return c, err
	}
	snap, err := audit.Snapshot(c)
	if err != nil {
		return c, err
	}
	if err := e.recorder().Append(ctx, tx, "comment", c.ID, actorID, "create", snap, nil); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	e.Notify.CommentEvent(ctx, t, c)
	return c, nil
}

// --- reads ---

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

func (e Engine) ListChildren(ctx context.Context, taskID string) ([]domain.Task, error) {
	return e.Repo.ListChildren(ctx, taskID)
}

func (e Engine) GetAuditTrail(ctx context.Context, f repo.AuditFilters) ([]repo.AuditRow, error) {
	return e.Repo.ListAuditTrail(ctx, f)
}

func (e Engine) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	return e.Repo.ListNotifications(ctx, recipientID, unreadOnly, limit)
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
