// Package audit appends immutable change records inside mutation transactions.
// A failed append aborts the enclosing transaction: a mutation either commits
// together with its audit record or not at all.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
)

type Recorder struct {
	Now func() time.Time
}

type Changes map[string]any

// Diff computes the field-level delta between two snapshots of the same
// entity. Only fields whose values differ appear in the result, each as a
// {"old": ..., "new": ...} pair. Both snapshots are flattened through their
// JSON representation so pointer fields and maps compare by value.
func Diff(before, after any) (Changes, error) {
	b, err := flatten(before)
	if err != nil {
		return nil, err
	}
	a, err := flatten(after)
	if err != nil {
		return nil, err
	}
	out := Changes{}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !reflect.DeepEqual(bv, av) {
			out[k] = map[string]any{"old": bv, "new": av}
		}
	}
	for k, bv := range b {
		if _, ok := a[k]; !ok {
			out[k] = map[string]any{"old": bv, "new": nil}
		}
	}
	return out, nil
}

func flatten(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal audit snapshot: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Snapshot renders a full entity as create/delete changes: every field keyed
// to its value, with no old/new nesting.
func Snapshot(v any) (Changes, error) {
	m, err := flatten(v)
	if err != nil {
		return nil, err
	}
	return Changes(m), nil
}

func (r Recorder) Append(ctx context.Context, tx *sql.Tx, entityType, entityID, actorID, action string, changes Changes, metadata map[string]any) error {
	if r.Now == nil {
		r.Now = time.Now
	}
	ts := r.Now().UTC().Format(time.RFC3339)
	if changes == nil {
		changes = Changes{}
	}
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshal audit changes: %w", err)
	}
	var metadataArg any
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		metadataArg = string(b)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_log(id,entity_type,entity_id,actor_id,action,changes_json,metadata_json,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		uuid.New().String(), entityType, entityID, actorID, action, string(changesJSON), metadataArg, ts)
	return err
}
