package journal

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrations_FreshDB(t *testing.T) {
	db := testDB(t)

	if err := runMigrations(db, testLogger()); err != nil {
		t.Fatalf("runMigrations failed: %v", err)
	}

	version, err := getSchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, version)
	}

	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_deliveries_chat'").Scan(&name); err != nil {
		t.Errorf("expected chat index to exist: %v", err)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := testDB(t)

	if err := runMigrations(db, testLogger()); err != nil {
		t.Fatalf("first migration failed: %v", err)
	}
	if err := runMigrations(db, testLogger()); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count)
	if count != len(migrations) {
		t.Errorf("expected %d schema_version rows, got %d", len(migrations), count)
	}
}

func TestRunMigrations_UpgradesFromV1(t *testing.T) {
	db := testDB(t)

	saved := migrations
	migrations = saved[:1]
	if err := runMigrations(db, testLogger()); err != nil {
		migrations = saved
		t.Fatalf("v1 migration failed: %v", err)
	}
	migrations = saved

	if _, err := db.Exec("INSERT INTO deliveries (id, chat_id, status, created_at) VALUES ('a', 1, 'sent', 0)"); err != nil {
		t.Fatal(err)
	}

	if err := runMigrations(db, testLogger()); err != nil {
		t.Fatalf("upgrade failed: %v", err)
	}
	version, _ := getSchemaVersion(db)
	if version != schemaVersion {
		t.Errorf("expected version %d after upgrade, got %d", schemaVersion, version)
	}

	var n int
	db.QueryRow("SELECT COUNT(*) FROM deliveries").Scan(&n)
	if n != 1 {
		t.Errorf("existing rows should survive the upgrade, got %d", n)
	}
}
