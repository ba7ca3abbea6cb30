package repo

import (
	"context"
	"database/sql"

	"taskline/internal/domain"
	"taskline/internal/store"
)

func scanWorkspace(row rowScanner) (domain.Workspace, error) {
	var w domain.Workspace
	var description, settings sql.NullString
	var completed int
	err := row.Scan(&w.ID, &w.Title, &description, &w.PlanType, &settings, &completed, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	if description.Valid {
		w.Description = description.String
	}
	w.Settings = decodeJSONMap(settings)
	w.IsCompleted = completed != 0
	return w, nil
}

// Workspaces, teams and memberships are only ever created inside an engine
// transaction, so the insert helpers exist in tx form alone.
func (r Repo) InsertWorkspaceTx(ctx context.Context, tx *sql.Tx, w domain.Workspace) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workspaces(id,title,description,plan_type,settings_json,is_completed,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		w.ID, w.Title, nullable(w.Description), w.PlanType, encodeJSONMap(w.Settings), boolToInt(w.IsCompleted), w.CreatedAt, w.UpdatedAt)
	return err
}

func (r Repo) GetWorkspace(ctx context.Context, id string) (domain.Workspace, error) {
	return scanWorkspace(r.DB.QueryRowContext(ctx, `SELECT id,title,description,plan_type,settings_json,is_completed,created_at,updated_at FROM workspaces WHERE id=?`, id))
}

func (r Repo) ListWorkspaces(ctx context.Context) ([]domain.Workspace, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,title,description,plan_type,settings_json,is_completed,created_at,updated_at FROM workspaces ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func scanTeam(row rowScanner) (domain.Team, error) {
	var t domain.Team
	var description, settings sql.NullString
	var active int
	err := row.Scan(&t.ID, &t.WorkspaceID, &t.Name, &description, &t.OwnerID, &settings, &active, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	t.Settings = decodeJSONMap(settings)
	t.IsActive = active != 0
	return t, nil
}

func (r Repo) InsertTeamTx(ctx context.Context, tx *sql.Tx, t domain.Team) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO teams(id,workspace_id,name,description,owner_id,settings_json,is_active,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.WorkspaceID, t.Name, nullable(t.Description), t.OwnerID, encodeJSONMap(t.Settings), boolToInt(t.IsActive), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTeam(ctx context.Context, id string) (domain.Team, error) {
	return scanTeam(r.DB.QueryRowContext(ctx, `SELECT id,workspace_id,name,description,owner_id,settings_json,is_active,created_at,updated_at FROM teams WHERE id=?`, id))
}

func (r Repo) ListTeams(ctx context.Context, workspaceID string) ([]domain.Team, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,workspace_id,name,description,owner_id,settings_json,is_active,created_at,updated_at FROM teams WHERE workspace_id=? ORDER BY created_at DESC, id DESC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,email,display_name,created_at) VALUES (?,?,?,?)`,
		u.ID, u.Email, nullable(u.DisplayName), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var display sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,email,display_name,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Email, &display, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if display.Valid {
		u.DisplayName = display.String
	}
	return u, err
}

func ensureUser(ctx context.Context, q store.Querier, id, now string) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO users(id,email,display_name,created_at) VALUES (?,?,?,?)`,
		id, id+"@local", id, now)
	return err
}

// EnsureUser inserts a minimal user row if one does not exist yet.
func (r Repo) EnsureUser(ctx context.Context, id, now string) error {
	return ensureUser(ctx, r.DB, id, now)
}

func (r Repo) EnsureUserTx(ctx context.Context, tx *sql.Tx, id, now string) error {
	return ensureUser(ctx, tx, id, now)
}

func (r Repo) AddWorkspaceMemberTx(ctx context.Context, tx *sql.Tx, m domain.WorkspaceMember) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workspace_members(id,workspace_id,user_id,role,created_at) VALUES (?,?,?,?,?)`,
		m.ID, m.WorkspaceID, m.UserID, m.Role, m.CreatedAt)
	return err
}

func (r Repo) AddTeamMemberTx(ctx context.Context, tx *sql.Tx, m domain.TeamMember) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO team_members(id,team_id,user_id,role,created_at) VALUES (?,?,?,?,?)`,
		m.ID, m.TeamID, m.UserID, m.Role, m.CreatedAt)
	return err
}

// TeamRole returns the member's role in a team, or ErrNotFound for non-members.
func (r Repo) TeamRole(ctx context.Context, teamID, userID string) (string, error) {
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT role FROM team_members WHERE team_id=? AND user_id=?`, teamID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return role, err
}

func (r Repo) ListTeamMembers(ctx context.Context, teamID string) ([]domain.TeamMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,team_id,user_id,role,created_at FROM team_members WHERE team_id=? ORDER BY created_at ASC, id ASC`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TeamMember
	for rows.Next() {
		var m domain.TeamMember
		if err := rows.Scan(&m.ID, &m.TeamID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
