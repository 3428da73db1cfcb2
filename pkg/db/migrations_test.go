package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	migrations, err := GetEmbeddedMigrations()
	if err != nil {
		t.Fatalf("GetEmbeddedMigrations: %v", err)
	}
	if len(migrations) < 2 {
		t.Fatalf("expected at least 2 embedded migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "initial" {
		t.Errorf("unexpected first migration: %d %s", migrations[0].Version, migrations[0].Name)
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version <= migrations[i-1].Version {
			t.Errorf("migrations out of order: %d after %d", migrations[i].Version, migrations[i-1].Version)
		}
	}
}

func TestInitializeDatabaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if err := InitializeDatabase(ctx, db); err != nil {
		t.Fatalf("first InitializeDatabase: %v", err)
	}
	if err := InitializeDatabase(ctx, db); err != nil {
		t.Fatalf("second InitializeDatabase: %v", err)
	}

	status, err := NewMigrationManager(db).GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus: %v", err)
	}
	if len(status.Pending) != 0 {
		t.Errorf("expected no pending migrations, got %d", len(status.Pending))
	}
	if status.Current() != status.Available[len(status.Available)-1].Version {
		t.Errorf("expected current version %d, got %d", status.Available[len(status.Available)-1].Version, status.Current())
	}

	for _, table := range []string{"events", "events_fts", "event_skills", "zipcodes", "store_metadata"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("expected table %s to exist: %v", table, err)
		}
	}
}

func TestMigrationsFromPath(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	files := map[string]string{
		"001_first.sql":  "CREATE TABLE first (id INTEGER);",
		"002_second.sql": "CREATE TABLE second (id INTEGER);",
		"notes.txt":      "ignored",
		"bad_name.sql":   "CREATE TABLE bad (id INTEGER);",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}

	db := openTestDB(t)
	m := NewMigrationManagerFromPath(db, dir)

	applied, err := m.ApplyPendingMigrations(ctx)
	if err != nil {
		t.Fatalf("ApplyPendingMigrations: %v", err)
	}
	if applied != 2 {
		t.Fatalf("expected 2 applied migrations, got %d", applied)
	}

	applied, err = m.ApplyPendingMigrations(ctx)
	if err != nil {
		t.Fatalf("second ApplyPendingMigrations: %v", err)
	}
	if applied != 0 {
		t.Errorf("expected nothing to apply, got %d", applied)
	}
}

func TestFailedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_broken.sql"), []byte("CREATE TABLE ok (id INTEGER); NOT SQL;"), 0o644); err != nil {
		t.Fatal(err)
	}

	db := openTestDB(t)
	m := NewMigrationManagerFromPath(db, dir)
	if _, err := m.ApplyPendingMigrations(ctx); err == nil {
		t.Fatal("expected broken migration to fail")
	}

	status, err := m.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus: %v", err)
	}
	if len(status.Applied) != 0 || len(status.Pending) != 1 {
		t.Errorf("expected migration to stay pending, got applied=%d pending=%d", len(status.Applied), len(status.Pending))
	}
}
