package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/engine/auth"
	"taskline/internal/migrate"
	"taskline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Team   domain.Team
}

// alice owns the workspace and administers the team, bob is a member and gus
// a read-only guest.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	w, err := eng.CreateWorkspace(ctx, "Acme", "", "", "alice")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	team, err := eng.CreateTeam(ctx, w.ID, "Core", "", "alice")
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	if _, err := eng.AddTeamMember(ctx, team.ID, "bob", "member", "alice"); err != nil {
		t.Fatalf("add bob: %v", err)
	}
	if _, err := eng.AddTeamMember(ctx, team.ID, "gus", "guest", "alice"); err != nil {
		t.Fatalf("add gus: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Team: team}
}

func (env testEnv) createTask(t *testing.T, title string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		TeamID:  env.Team.ID,
		Title:   title,
		ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("create task %q: %v", title, err)
	}
	return task
}

func strPtr(s string) *string { return &s }

func TestCreateTaskDefaults(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "First")
	if task.Status != domain.StatusBacklog {
		t.Errorf("status = %q, want backlog", task.Status)
	}
	if task.Priority != domain.PriorityMedium {
		t.Errorf("priority = %q, want medium", task.Priority)
	}
	if task.Version != 1 {
		t.Errorf("version = %d, want 1", task.Version)
	}
	// the creator is auto-assigned as owner
	assignments, err := env.Engine.Repo.ListAssignments(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(assignments) != 1 || assignments[0].UserID != "alice" || assignments[0].Role != domain.RoleOwner {
		t.Fatalf("assignments = %+v, want alice as owner", assignments)
	}
}

func TestConcurrentUpdateConflict(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Contended")

	// both writers read version 1; the first wins
	won, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, ExpectedVersion: 1, Title: strPtr("First writer"), ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	if won.Version != 2 {
		t.Fatalf("version = %d, want 2", won.Version)
	}
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, ExpectedVersion: 1, Title: strPtr("Second writer"), ActorID: "bob",
	})
	if !errors.Is(err, engine.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "First writer" || got.Version != 2 {
		t.Fatalf("losing write must not apply: %+v", got)
	}
}

func TestUpdateRequiresExpectedVersion(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "No version")
	_, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, Title: strPtr("x"), ActorID: "alice",
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "expected_version" {
		t.Fatalf("err = %v, want expected_version validation error", err)
	}
}

func TestCompletedAtSetAndCleared(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Finish me")

	done, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, ExpectedVersion: 1, Status: strPtr(domain.StatusDone), ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("to done: %v", err)
	}
	if done.CompletedAt == nil || *done.CompletedAt != "2026-03-01T12:00:00Z" {
		t.Fatalf("completed_at = %v, want set to now", done.CompletedAt)
	}

	reopened, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, ExpectedVersion: 2, Status: strPtr(domain.StatusInProgress), ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.CompletedAt != nil {
		t.Fatalf("completed_at = %v, want cleared on leaving done", *reopened.CompletedAt)
	}

	// staying within done keeps the original timestamp untouched
	again, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, ExpectedVersion: 3, Status: strPtr(domain.StatusDone), ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	same, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, ExpectedVersion: 4, Status: strPtr(domain.StatusDone), ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if same.CompletedAt == nil || *same.CompletedAt != *again.CompletedAt {
		t.Fatalf("completed_at changed on done->done: %v vs %v", same.CompletedAt, again.CompletedAt)
	}
}

func TestActualHoursFromClosedEntries(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Timed")

	if _, err := env.Engine.LogTime(env.Ctx, task.ID, "", "2026-03-01T09:00:00Z", "2026-03-01T09:45:00Z", "morning", "alice"); err != nil {
		t.Fatalf("log first entry: %v", err)
	}
	if _, err := env.Engine.LogTime(env.Ctx, task.ID, "", "2026-03-01T10:00:00Z", "2026-03-01T10:30:00Z", "later", "alice"); err != nil {
		t.Fatalf("log second entry: %v", err)
	}
	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ActualHours != 1.25 {
		t.Fatalf("actual_hours = %v, want 1.25", got.ActualHours)
	}
	// derived updates do not serialize through the task's version
	if got.Version != 1 {
		t.Fatalf("version = %d, want 1 after time logging", got.Version)
	}
}

func TestOpenTimerUniqueness(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Running")

	open, err := env.Engine.LogTime(env.Ctx, task.ID, "", "2026-03-01T09:00:00Z", "", "", "alice")
	if err != nil {
		t.Fatalf("start timer: %v", err)
	}
	_, err = env.Engine.LogTime(env.Ctx, task.ID, "", "2026-03-01T09:05:00Z", "", "", "alice")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("second open timer err = %v, want validation error", err)
	}
	// a different user can run their own timer on the same task
	if _, err := env.Engine.LogTime(env.Ctx, task.ID, "", "2026-03-01T09:00:00Z", "", "", "bob"); err != nil {
		t.Fatalf("bob's timer: %v", err)
	}

	closed, err := env.Engine.CloseTimeEntry(env.Ctx, open.ID, "2026-03-01T10:00:00Z", "alice")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.EndTime == nil || *closed.EndTime != "2026-03-01T10:00:00Z" {
		t.Fatalf("end_time = %v", closed.EndTime)
	}
	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ActualHours != 1 {
		t.Fatalf("actual_hours = %v, want 1 after closing", got.ActualHours)
	}

	_, err = env.Engine.CloseTimeEntry(env.Ctx, open.ID, "2026-03-01T11:00:00Z", "alice")
	if !errors.As(err, &ve) {
		t.Fatalf("closing twice err = %v, want validation error", err)
	}
}

func TestLogTimeRejectsInvertedRange(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Range")
	_, err := env.Engine.LogTime(env.Ctx, task.ID, "", "2026-03-01T10:00:00Z", "2026-03-01T09:00:00Z", "", "alice")
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "end_time" {
		t.Fatalf("err = %v, want end_time validation error", err)
	}
}

func TestDeleteWithoutCascadeRejectsDependents(t *testing.T) {
	env := newTestEnv(t)
	parent := env.createTask(t, "Parent")
	child, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		TeamID: env.Team.ID, ParentID: parent.ID, Title: "Child", ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	err = env.Engine.DeleteTask(env.Ctx, parent.ID, parent.Version, false, "alice")
	if !errors.Is(err, engine.ErrHasDependents) {
		t.Fatalf("err = %v, want ErrHasDependents", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, child.ID); err != nil {
		t.Fatalf("child must survive rejected delete: %v", err)
	}
}

func TestCascadeDeleteAuditsEveryTask(t *testing.T) {
	env := newTestEnv(t)
	root := env.createTask(t, "Root")
	childA, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		TeamID: env.Team.ID, ParentID: root.ID, Title: "A", ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	childB, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		TeamID: env.Team.ID, ParentID: root.ID, Title: "B", ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	grandchild, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		TeamID: env.Team.ID, ParentID: childA.ID, Title: "A1", ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddComment(env.Ctx, grandchild.ID, "", "deep note", nil, "bob"); err != nil {
		t.Fatalf("comment: %v", err)
	}

	if err := env.Engine.DeleteTask(env.Ctx, root.ID, root.Version, true, "alice"); err != nil {
		t.Fatalf("cascade delete: %v", err)
	}
	for _, id := range []string{root.ID, childA.ID, childB.ID, grandchild.ID} {
		if _, err := env.Engine.GetTask(env.Ctx, id); !errors.Is(err, engine.ErrNotFound) {
			t.Fatalf("task %s err = %v, want ErrNotFound", id, err)
		}
	}

	rows, err := env.Engine.GetAuditTrail(env.Ctx, repo.AuditFilters{EntityType: "task"})
	if err != nil {
		t.Fatal(err)
	}
	deleted := map[string]repo.AuditRow{}
	for _, row := range rows {
		if row.Record.Action == "delete" {
			deleted[row.Record.EntityID] = row
		}
	}
	if len(deleted) != 4 {
		t.Fatalf("delete audit records = %d, want 4", len(deleted))
	}
	// descendants carry cascade metadata, the root does not
	if meta := deleted[root.ID].Record.Metadata; meta != nil {
		t.Errorf("root metadata = %v, want none", meta)
	}
	for _, id := range []string{childA.ID, childB.ID, grandchild.ID} {
		meta := deleted[id].Record.Metadata
		if meta == nil || meta["cascade"] != true {
			t.Errorf("descendant %s metadata = %v, want cascade", id, meta)
		}
	}
}

func TestDeleteStaleVersionConflicts(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Stale")
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, ExpectedVersion: 1, Title: strPtr("Bumped"), ActorID: "alice",
	}); err != nil {
		t.Fatal(err)
	}
	err := env.Engine.DeleteTask(env.Ctx, task.ID, 1, false, "alice")
	if !errors.Is(err, engine.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestReparentCycleRejected(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, "a")
	b, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		TeamID: env.Team.ID, ParentID: a.ID, Title: "b", ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	c, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		TeamID: env.Team.ID, ParentID: b.ID, Title: "c", ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}

	// a under its own descendant closes a loop
	if _, err := env.Engine.ReparentTask(env.Ctx, a.ID, c.ID, a.Version, "alice"); !errors.Is(err, engine.ErrInvalidHierarchy) {
		t.Fatalf("cycle err = %v, want ErrInvalidHierarchy", err)
	}
	// self-parenting is the smallest loop
	if _, err := env.Engine.ReparentTask(env.Ctx, a.ID, a.ID, a.Version, "alice"); !errors.Is(err, engine.ErrInvalidHierarchy) {
		t.Fatalf("self-parent err = %v, want ErrInvalidHierarchy", err)
	}
	// missing parent
	if _, err := env.Engine.ReparentTask(env.Ctx, a.ID, "nope", a.Version, "alice"); !errors.Is(err, engine.ErrInvalidHierarchy) {
		t.Fatalf("missing parent err = %v, want ErrInvalidHierarchy", err)
	}

	// a valid move: c becomes a root
	moved, err := env.Engine.ReparentTask(env.Ctx, c.ID, "", c.Version, "alice")
	if err != nil {
		t.Fatalf("move to root: %v", err)
	}
	if moved.ParentID != nil {
		t.Fatalf("parent_id = %v, want nil", *moved.ParentID)
	}
	// and now a under c is fine
	if _, err := env.Engine.ReparentTask(env.Ctx, a.ID, c.ID, a.Version, "alice"); err != nil {
		t.Fatalf("legal reparent: %v", err)
	}
}

func TestCrossTeamParentRejected(t *testing.T) {
	env := newTestEnv(t)
	other, err := env.Engine.CreateTeam(env.Ctx, env.Team.WorkspaceID, "Other", "", "alice")
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		TeamID: other.ID, Title: "Elsewhere", ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		TeamID: env.Team.ID, ParentID: foreign.ID, Title: "Orphan", ActorID: "alice",
	})
	if !errors.Is(err, engine.ErrInvalidHierarchy) {
		t.Fatalf("create err = %v, want ErrInvalidHierarchy", err)
	}
	local := env.createTask(t, "Local")
	_, err = env.Engine.ReparentTask(env.Ctx, local.ID, foreign.ID, local.Version, "alice")
	if !errors.Is(err, engine.ErrInvalidHierarchy) {
		t.Fatalf("reparent err = %v, want ErrInvalidHierarchy", err)
	}
}

func TestAuditDiffOnlyChangedFields(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Original")
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, ExpectedVersion: 1, Title: strPtr("Renamed"), ActorID: "alice",
	}); err != nil {
		t.Fatal(err)
	}
	rows, err := env.Engine.GetAuditTrail(env.Ctx, repo.AuditFilters{EntityType: "task", EntityID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("audit rows = %d, want create + update", len(rows))
	}
	update := rows[0].Record
	if update.Action != "update" {
		t.Fatalf("latest action = %q, want update (trail is newest first)", update.Action)
	}
	change, ok := update.Changes["title"].(map[string]any)
	if !ok {
		t.Fatalf("changes missing title: %v", update.Changes)
	}
	if change["old"] != "Original" || change["new"] != "Renamed" {
		t.Fatalf("title change = %v", change)
	}
	for _, untouched := range []string{"status", "priority", "team_id", "created_at"} {
		if _, ok := update.Changes[untouched]; ok {
			t.Errorf("changes include untouched field %q", untouched)
		}
	}
}

func TestGuestIsReadOnly(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Protected")

	var fe auth.ForbiddenError
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		TeamID: env.Team.ID, Title: "Nope", ActorID: "gus",
	})
	if !errors.As(err, &fe) {
		t.Fatalf("guest create err = %v, want ForbiddenError", err)
	}
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, ExpectedVersion: 1, Title: strPtr("Nope"), ActorID: "gus",
	})
	if !errors.As(err, &fe) {
		t.Fatalf("guest update err = %v, want ForbiddenError", err)
	}
	// guests may still comment
	if _, err := env.Engine.AddComment(env.Ctx, task.ID, "", "looks good", nil, "gus"); err != nil {
		t.Fatalf("guest comment: %v", err)
	}
	// a non-member may not
	_, err = env.Engine.AddComment(env.Ctx, task.ID, "", "who am i", nil, "mallory")
	if !errors.As(err, &fe) {
		t.Fatalf("outsider comment err = %v, want ForbiddenError", err)
	}
}

func TestTeamCreationRequiresWorkspaceAdmin(t *testing.T) {
	env := newTestEnv(t)
	var fe auth.ForbiddenError
	_, err := env.Engine.CreateTeam(env.Ctx, env.Team.WorkspaceID, "Rogue", "", "bob")
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want ForbiddenError", err)
	}
}

func TestAssignIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Shared")
	first, err := env.Engine.Assign(env.Ctx, task.ID, "bob", domain.RoleReviewer, "alice")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	second, err := env.Engine.Assign(env.Ctx, task.ID, "bob", domain.RoleReviewer, "alice")
	if err != nil {
		t.Fatalf("re-assign: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("repeat assign created a new row: %s vs %s", first.ID, second.ID)
	}
	if err := env.Engine.Unassign(env.Ctx, task.ID, "bob", domain.RoleReviewer, "alice"); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if err := env.Engine.Unassign(env.Ctx, task.ID, "bob", domain.RoleReviewer, "alice"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("second unassign err = %v, want ErrNotFound", err)
	}
}

func TestSingleOwnerPerTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Owned") // alice auto-assigned owner
	_, err := env.Engine.Assign(env.Ctx, task.ID, "bob", domain.RoleOwner, "alice")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("second owner err = %v, want validation error", err)
	}
	// re-asserting the existing owner stays idempotent
	if _, err := env.Engine.Assign(env.Ctx, task.ID, "alice", domain.RoleOwner, "alice"); err != nil {
		t.Fatalf("idempotent owner assign: %v", err)
	}
}

func TestOwnerCannotBeUnassigned(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Owned") // alice auto-assigned owner
	err := env.Engine.Unassign(env.Ctx, task.ID, "alice", domain.RoleOwner, "alice")
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "role" {
		t.Fatalf("unassign owner err = %v, want role validation error", err)
	}
	assignments, err := env.Engine.Repo.ListAssignments(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(assignments) != 1 || assignments[0].Role != domain.RoleOwner {
		t.Fatalf("assignments = %+v, want the owner row intact", assignments)
	}
}

func TestTransferOwnerSwapsInOneStep(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Handover")
	next, err := env.Engine.TransferOwner(env.Ctx, task.ID, "bob", "alice")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if next.UserID != "bob" || next.Role != domain.RoleOwner {
		t.Fatalf("new owner = %+v, want bob as owner", next)
	}
	assignments, err := env.Engine.Repo.ListAssignments(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	owners := 0
	for _, a := range assignments {
		if a.Role == domain.RoleOwner {
			owners++
			if a.UserID != "bob" {
				t.Fatalf("owner = %s, want bob", a.UserID)
			}
		}
	}
	if owners != 1 {
		t.Fatalf("owner rows = %d, want exactly 1", owners)
	}
	// transferring to the current owner is a no-op
	same, err := env.Engine.TransferOwner(env.Ctx, task.ID, "bob", "alice")
	if err != nil {
		t.Fatalf("repeat transfer: %v", err)
	}
	if same.ID != next.ID {
		t.Fatalf("repeat transfer replaced the row: %s vs %s", same.ID, next.ID)
	}
}

func TestZeroDurationEntryAccepted(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Instant")
	entry, err := env.Engine.LogTime(env.Ctx, task.ID, "", "2026-03-01T09:00:00Z", "2026-03-01T09:00:00Z", "", "alice")
	if err != nil {
		t.Fatalf("zero-duration entry: %v", err)
	}
	if entry.EndTime == nil || *entry.EndTime != entry.StartTime {
		t.Fatalf("entry = %+v, want end_time == start_time", entry)
	}
	// closing a timer at its start time is equally valid
	open, err := env.Engine.LogTime(env.Ctx, task.ID, "", "2026-03-01T10:00:00Z", "", "", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CloseTimeEntry(env.Ctx, open.ID, "2026-03-01T10:00:00Z", "alice"); err != nil {
		t.Fatalf("close at start: %v", err)
	}
	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ActualHours != 0 {
		t.Fatalf("actual_hours = %v, want 0", got.ActualHours)
	}
}

func TestClearEstimate(t *testing.T) {
	env := newTestEnv(t)
	estimate := 8.0
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		TeamID: env.Team.ID, Title: "Sized", EstimatedHours: &estimate, ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	cleared, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, ExpectedVersion: 1, ClearEstimate: true, ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("clear estimate: %v", err)
	}
	if cleared.EstimatedHours != nil {
		t.Fatalf("estimated_hours = %v, want nil", *cleared.EstimatedHours)
	}
}

func TestCommentNotificationsAndMentions(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Discussed") // alice auto-assigned owner

	if _, err := env.Engine.AddComment(env.Ctx, task.ID, "", "heads up @gus", nil, "bob"); err != nil {
		t.Fatalf("comment: %v", err)
	}

	// the author gets nothing
	own, err := env.Engine.ListNotifications(env.Ctx, "bob", false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(own) != 0 {
		t.Fatalf("author notifications = %d, want 0", len(own))
	}
	// the assignee gets a task notification
	forAlice, err := env.Engine.ListNotifications(env.Ctx, "alice", false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(forAlice) != 1 || forAlice[0].Type != domain.NotifyTask {
		t.Fatalf("alice notifications = %+v, want one task notification", forAlice)
	}
	// the mentioned user gets a mention
	forGus, err := env.Engine.ListNotifications(env.Ctx, "gus", false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(forGus) != 1 || forGus[0].Type != domain.NotifyMention {
		t.Fatalf("gus notifications = %+v, want one mention", forGus)
	}
}

// A recipient who is the owner, a thread participant and mentioned at once
// still gets a single notification for the comment.
func TestCommentRecipientNotifiedOnce(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Crowded") // alice auto-assigned owner

	if _, err := env.Engine.Assign(env.Ctx, task.ID, "bob", domain.RoleReviewer, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddComment(env.Ctx, task.ID, "", "first pass done", nil, "bob"); err != nil {
		t.Fatal(err)
	}
	c, err := env.Engine.AddComment(env.Ctx, task.ID, "", "@bob please recheck", nil, "alice")
	if err != nil {
		t.Fatal(err)
	}

	// bob qualifies as thread participant and as mentioned
	items, err := env.Engine.ListNotifications(env.Ctx, "bob", false, 0)
	if err != nil {
		t.Fatal(err)
	}
	var forComment []domain.Notification
	for _, n := range items {
		if n.Context["comment_id"] == c.ID {
			forComment = append(forComment, n)
		}
	}
	if len(forComment) != 1 {
		t.Fatalf("notifications for the comment = %d, want exactly 1: %+v", len(forComment), forComment)
	}
	if forComment[0].Type != domain.NotifyMention {
		t.Fatalf("type = %q, want mention to win over the task notification", forComment[0].Type)
	}
}

func TestCommentReplyMustShareTask(t *testing.T) {
	env := newTestEnv(t)
	taskA := env.createTask(t, "A")
	taskB := env.createTask(t, "B")
	root, err := env.Engine.AddComment(env.Ctx, taskA.ID, "", "root", nil, "alice")
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.AddComment(env.Ctx, taskB.ID, root.ID, "cross reply", nil, "alice")
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "parent_id" {
		t.Fatalf("err = %v, want parent_id validation error", err)
	}
}

func TestWorkspaceValidation(t *testing.T) {
	env := newTestEnv(t)
	var ve engine.ValidationError
	if _, err := env.Engine.CreateWorkspace(env.Ctx, "", "", "", "alice"); !errors.As(err, &ve) {
		t.Fatalf("empty title err = %v, want validation error", err)
	}
	if _, err := env.Engine.CreateWorkspace(env.Ctx, "Ok", "", "platinum", "alice"); !errors.As(err, &ve) {
		t.Fatalf("bad plan err = %v, want validation error", err)
	}
}
