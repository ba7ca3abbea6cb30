// Package auth answers membership questions backed by SQL.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ForbiddenError indicates the actor lacks the required team role.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not permitted to %s", e.Action)
}

// Querier is satisfied by *sql.DB and *sql.Tx. Checks made inside a mutation
// transaction must run through that transaction's connection.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Service struct{}

func (s Service) teamRole(ctx context.Context, q Querier, teamID, actorID string) (string, error) {
	var role string
	err := q.QueryRowContext(ctx, `SELECT role FROM team_members WHERE team_id=? AND user_id=?`, teamID, actorID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return role, err
}

// RequireMember allows any team member, including guests.
func (s Service) RequireMember(ctx context.Context, q Querier, teamID, actorID, action string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	role, err := s.teamRole(ctx, q, teamID, actorID)
	if err != nil {
		return err
	}
	if role == "" {
		return ForbiddenError{Action: action}
	}
	return nil
}

// RequireWriter allows admins and members; guests are read-only.
func (s Service) RequireWriter(ctx context.Context, q Querier, teamID, actorID, action string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	role, err := s.teamRole(ctx, q, teamID, actorID)
	if err != nil {
		return err
	}
	switch role {
	case "admin", "member":
		return nil
	}
	return ForbiddenError{Action: action}
}

// RequireWorkspaceAdmin allows workspace owners and admins.
func (s Service) RequireWorkspaceAdmin(ctx context.Context, q Querier, workspaceID, actorID, action string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	var role string
	err := q.QueryRowContext(ctx, `SELECT role FROM workspace_members WHERE workspace_id=? AND user_id=?`, workspaceID, actorID).Scan(&role)
	if err == sql.ErrNoRows {
		return ForbiddenError{Action: action}
	}
	if err != nil {
		return err
	}
	switch role {
	case "owner", "admin":
		return nil
	}
	return ForbiddenError{Action: action}
}
