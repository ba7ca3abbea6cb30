// Package hierarchy validates the self-referencing task parent relation.
// The parent chain is walked explicitly with a depth bound rather than kept
// as live pointers, so cycle detection stays a testable operation.
package hierarchy

import (
	"context"
	"database/sql"

	"taskline/internal/repo"
)

const DefaultMaxDepth = 1000

type Validator struct {
	Repo     repo.Repo
	MaxDepth int
}

func New(r repo.Repo, maxDepth int) Validator {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return Validator{Repo: r, MaxDepth: maxDepth}
}

// WouldCreateCycle reports whether parenting taskID under proposedParentID
// closes a loop. It climbs the ancestor chain from the proposed parent; hitting
// taskID means a cycle, and exceeding MaxDepth is treated as one for safety.
func (v Validator) WouldCreateCycle(ctx context.Context, tx *sql.Tx, taskID, proposedParentID string) (bool, error) {
	if taskID == proposedParentID {
		return true, nil
	}
	cur := proposedParentID
	for depth := 0; cur != ""; depth++ {
		if depth >= v.MaxDepth {
			return true, nil
		}
		t, err := v.Repo.GetTaskTx(ctx, tx, cur)
		if err != nil {
			return false, err
		}
		if t.ParentID == nil {
			return false, nil
		}
		if *t.ParentID == taskID {
			return true, nil
		}
		cur = *t.ParentID
	}
	return false, nil
}

// SameTeam reports whether both tasks belong to the same team.
func (v Validator) SameTeam(ctx context.Context, tx *sql.Tx, taskID, parentID string) (bool, error) {
	t, err := v.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return false, err
	}
	p, err := v.Repo.GetTaskTx(ctx, tx, parentID)
	if err != nil {
		return false, err
	}
	return t.TeamID == p.TeamID, nil
}
