package hierarchy_test

import (
	"context"
	"database/sql"
	"testing"

	"taskline/internal/db"
	"taskline/internal/hierarchy"
	"taskline/internal/migrate"
	"taskline/internal/repo"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	seed(t, conn)
	return conn
}

const ts = "2026-03-01T00:00:00Z"

func seed(t *testing.T, conn *sql.DB) {
	t.Helper()
	stmts := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO users(id,email,created_at) VALUES (?,?,?)`, []any{"u1", "u1@local", ts}},
		{`INSERT INTO workspaces(id,title,created_at,updated_at) VALUES (?,?,?,?)`, []any{"w1", "W", ts, ts}},
		{`INSERT INTO teams(id,workspace_id,name,owner_id,created_at,updated_at) VALUES (?,?,?,?,?,?)`, []any{"tm1", "w1", "T1", "u1", ts, ts}},
		{`INSERT INTO teams(id,workspace_id,name,owner_id,created_at,updated_at) VALUES (?,?,?,?,?,?)`, []any{"tm2", "w1", "T2", "u1", ts, ts}},
	}
	for _, s := range stmts {
		if _, err := conn.Exec(s.query, s.args...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func insertTask(t *testing.T, conn *sql.DB, id, teamID string, parentID any) {
	t.Helper()
	_, err := conn.Exec(`INSERT INTO tasks(id,team_id,creator_id,parent_id,title,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		id, teamID, "u1", parentID, id, ts, ts)
	if err != nil {
		t.Fatalf("insert task %s: %v", id, err)
	}
}

func inTx(t *testing.T, conn *sql.DB, fn func(tx *sql.Tx)) {
	t.Helper()
	tx, err := conn.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	fn(tx)
}

func TestWouldCreateCycle(t *testing.T) {
	conn := openDB(t)
	// t1 <- t2 <- t3
	insertTask(t, conn, "t1", "tm1", nil)
	insertTask(t, conn, "t2", "tm1", "t1")
	insertTask(t, conn, "t3", "tm1", "t2")
	insertTask(t, conn, "t4", "tm1", nil)

	v := hierarchy.New(repo.Repo{DB: conn}, 0)
	ctx := context.Background()
	inTx(t, conn, func(tx *sql.Tx) {
		cases := []struct {
			task, parent string
			want         bool
		}{
			{"t1", "t3", true},  // under own descendant
			{"t1", "t2", true},  // under own child
			{"t1", "t1", true},  // under itself
			{"t3", "t1", false}, // toward the root is fine
			{"t4", "t3", false}, // unrelated subtree
		}
		for _, tc := range cases {
			got, err := v.WouldCreateCycle(ctx, tx, tc.task, tc.parent)
			if err != nil {
				t.Fatalf("WouldCreateCycle(%s, %s): %v", tc.task, tc.parent, err)
			}
			if got != tc.want {
				t.Errorf("WouldCreateCycle(%s, %s) = %v, want %v", tc.task, tc.parent, got, tc.want)
			}
		}
	})
}

func TestDepthBoundTreatedAsCycle(t *testing.T) {
	conn := openDB(t)
	insertTask(t, conn, "d1", "tm1", nil)
	insertTask(t, conn, "d2", "tm1", "d1")
	insertTask(t, conn, "d3", "tm1", "d2")
	insertTask(t, conn, "d4", "tm1", "d3")
	insertTask(t, conn, "x", "tm1", nil)

	v := hierarchy.New(repo.Repo{DB: conn}, 2)
	ctx := context.Background()
	inTx(t, conn, func(tx *sql.Tx) {
		got, err := v.WouldCreateCycle(ctx, tx, "x", "d4")
		if err != nil {
			t.Fatal(err)
		}
		if !got {
			t.Fatal("chain deeper than MaxDepth must be treated as a cycle")
		}
		got, err = v.WouldCreateCycle(ctx, tx, "x", "d2")
		if err != nil {
			t.Fatal(err)
		}
		if got {
			t.Fatal("chain within MaxDepth must pass")
		}
	})
}

func TestSameTeam(t *testing.T) {
	conn := openDB(t)
	insertTask(t, conn, "a", "tm1", nil)
	insertTask(t, conn, "b", "tm1", nil)
	insertTask(t, conn, "c", "tm2", nil)

	v := hierarchy.New(repo.Repo{DB: conn}, 0)
	ctx := context.Background()
	inTx(t, conn, func(tx *sql.Tx) {
		same, err := v.SameTeam(ctx, tx, "a", "b")
		if err != nil {
			t.Fatal(err)
		}
		if !same {
			t.Error("a and b share a team")
		}
		same, err = v.SameTeam(ctx, tx, "a", "c")
		if err != nil {
			t.Fatal(err)
		}
		if same {
			t.Error("a and c are in different teams")
		}
	})
}
