package migrate_test

import (
	"testing"

	"taskline/internal/db"
	"taskline/internal/migrate"
)

func TestMigrateRecordsVersionAndIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	v, err := migrate.Version(conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v < 1 {
		t.Fatalf("schema version = %d, want >= 1", v)
	}
	if _, err := conn.Exec(`INSERT INTO users(id,email,created_at) VALUES('u1','u1@local','2026-03-01T00:00:00Z')`); err != nil {
		t.Fatalf("schema unusable after migrate: %v", err)
	}

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	again, err := migrate.Version(conn)
	if err != nil {
		t.Fatal(err)
	}
	if again != v {
		t.Fatalf("version changed on re-run: %d -> %d", v, again)
	}
}
