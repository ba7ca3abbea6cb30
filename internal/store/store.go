// Package store provides the compare-and-write primitive underlying every
// mutation. A write succeeds only if the stored version still equals the
// version the writer read; on success the version increments by exactly one,
// atomically with the data change. Conflicts are returned to the caller and
// never retried here.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store applies versioned writes to any table with an `id` primary key and a
// `version` column. It carries no knowledge of what the records mean.
type Store struct{}

// sortedKeys keeps generated SQL deterministic.
func sortedKeys(cols map[string]any) []string {
	keys := make([]string, 0, len(cols))
	for k := range cols {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ReadVersion returns the current version of a record.
func (s Store) ReadVersion(ctx context.Context, q Querier, table, id string) (int64, error) {
	var version int64
	err := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT version FROM %s WHERE id=?`, table), id).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return version, err
}

// Create inserts a record at version 1. cols must not include id or version.
func (s Store) Create(ctx context.Context, q Querier, table, id string, cols map[string]any) error {
	keys := sortedKeys(cols)
	names := append([]string{"id", "version"}, keys...)
	args := []any{id, int64(1)}
	for _, k := range keys {
		args = append(args, cols[k])
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	_, err := q.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s(%s) VALUES (%s)`,
		table, strings.Join(names, ","), placeholders), args...)
	return err
}

// WriteIfVersion updates a record only if its stored version equals expected,
// bumping the version in the same statement. Returns the new version, or
// ErrVersionConflict when another writer got there first.
func (s Store) WriteIfVersion(ctx context.Context, q Querier, table, id string, expected int64, cols map[string]any) (int64, error) {
	keys := sortedKeys(cols)
	sets := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys)+2)
	for _, k := range keys {
		sets = append(sets, k+"=?")
		args = append(args, cols[k])
	}
	sets = append(sets, "version=version+1")
	args = append(args, id, expected)
	res, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE id=? AND version=?`,
		table, strings.Join(sets, ", ")), args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		if _, err := s.ReadVersion(ctx, q, table, id); err != nil {
			return 0, err
		}
		return 0, ErrVersionConflict
	}
	return expected + 1, nil
}

// DeleteIfVersion removes a record only if its stored version equals expected.
func (s Store) DeleteIfVersion(ctx context.Context, q Querier, table, id string, expected int64) error {
	res, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=? AND version=?`, table), id, expected)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.ReadVersion(ctx, q, table, id); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	return nil
}
