package database

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/nerrad567/triggerflow-core/migrations"
)

func testSource() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000001_widgets.up.sql":   {Data: []byte("CREATE TABLE widgets (id TEXT PRIMARY KEY) STRICT;")},
		"20260101_000001_widgets.down.sql": {Data: []byte("DROP TABLE widgets;")},
		"20260102_000001_gadgets.up.sql":   {Data: []byte("CREATE TABLE gadgets (id TEXT PRIMARY KEY) STRICT;")},
		"README.md":                        {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("checking table %s: %v", name, err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	n, err := db.Migrate(ctx, testSource())
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Migrate() applied %d, want 2", n)
	}
	if !tableExists(t, db, "widgets") || !tableExists(t, db, "gadgets") {
		t.Fatal("expected widgets and gadgets tables")
	}

	n, err = db.Migrate(ctx, testSource())
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if n != 0 {
		t.Errorf("second Migrate() applied %d, want 0", n)
	}
}

func TestMigrate_FailureKeepsEarlierVersions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	src := testSource()
	src["20260102_000001_gadgets.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE broken (")}

	n, err := db.Migrate(ctx, src)
	if err == nil {
		t.Fatal("Migrate() expected error")
	}
	if n != 1 {
		t.Errorf("Migrate() applied %d before failing, want 1", n)
	}

	applied, pending, err := db.MigrationStatus(ctx, src)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 1 {
		t.Errorf("applied=%d pending=%d, want 1 and 1", len(applied), len(pending))
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	src := testSource()
	delete(src, "20260102_000001_gadgets.up.sql")

	if _, err := db.Migrate(ctx, src); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, src); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "widgets") {
		t.Error("widgets should be dropped")
	}

	// Nothing left to revert.
	if err := db.MigrateDown(ctx, src); err != nil {
		t.Errorf("MigrateDown() on empty history error = %v", err)
	}
}

func TestMigrateDown_NoDownFile(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Migrate(ctx, testSource()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	err := db.MigrateDown(ctx, testSource())
	if !errors.Is(err, ErrNoDownMigration) {
		t.Errorf("MigrateDown() error = %v, want ErrNoDownMigration", err)
	}
}

func TestLoadMigrations_OrphanDown(t *testing.T) {
	src := fstest.MapFS{"20260101_000001_x.down.sql": {Data: []byte("DROP TABLE x;")}}
	if _, err := LoadMigrations(src); err == nil {
		t.Error("LoadMigrations() expected error for down file without up file")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		version  string
		name     string
		up       bool
		ok       bool
	}{
		{"20260301_000001_rules.up.sql", "20260301_000001", "rules", true, true},
		{"20260301_000002_notifications.down.sql", "20260301_000002", "notifications", false, true},
		{"20260301_000003_add_index_on_logs.up.sql", "20260301_000003", "add_index_on_logs", true, true},
		{"20260301_000004.up.sql", "20260301_000004", "20260301_000004", true, true},
		{"20260301_000001_rules.sql", "", "", false, false},
		{"rules.up.sql", "", "", false, false},
		{"2026_01_x.up.sql", "", "", false, false},
		{"20260301_000001_rules.up.txt", "", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.filename)
			if ok != tt.ok || version != tt.version || name != tt.name || up != tt.up {
				t.Errorf("parseMigrationFilename(%q) = (%q, %q, %v, %v), want (%q, %q, %v, %v)",
					tt.filename, version, name, up, ok, tt.version, tt.name, tt.up, tt.ok)
			}
		})
	}
}

// TestEmbeddedMigrations applies the real schema to catch SQL errors early.
func TestEmbeddedMigrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate(migrations.FS) error = %v", err)
	}
	for _, table := range []string{"execution_rules", "execution_logs", "notifications"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s missing after migrate", table)
		}
	}

	for {
		applied, _, err := db.MigrationStatus(ctx, migrations.FS)
		if err != nil {
			t.Fatalf("MigrationStatus() error = %v", err)
		}
		if len(applied) == 0 {
			break
		}
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			t.Fatalf("MigrateDown() error = %v", err)
		}
	}
	if tableExists(t, db, "execution_rules") {
		t.Error("execution_rules should be dropped after full rollback")
	}
}
