package database

import (
	"context"
	"testing"
	"testing/fstest"
)

var testMigrations = fstest.MapFS{
	"20260101_090000_create_widgets.up.sql":   {Data: []byte("CREATE TABLE widgets (id INTEGER PRIMARY KEY);")},
	"20260101_090000_create_widgets.down.sql": {Data: []byte("DROP TABLE widgets;")},
	"20260102_090000_add_gadgets.up.sql":      {Data: []byte("CREATE TABLE gadgets (id INTEGER PRIMARY KEY); CREATE INDEX idx_gadgets ON gadgets(id);")},
	"README.md":                               {Data: []byte("not a migration")},
}

func useMigrations(t *testing.T, fsys fstest.MapFS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	MigrationsFS = fsys
	MigrationsDir = "."
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrations)
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if !tableExists(t, db, "widgets") || !tableExists(t, db, "gadgets") {
		t.Fatal("migration tables not created")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied/pending = %d/%d, want 2/0", len(applied), len(pending))
	}
	if applied[0].Version != "20260101_090000" {
		t.Errorf("applied[0].Version = %q, want oldest first", applied[0].Version)
	}
	if applied[0].AppliedAt.IsZero() {
		t.Error("applied[0].AppliedAt is zero")
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260101_090000_create_widgets.up.sql":   testMigrations["20260101_090000_create_widgets.up.sql"],
		"20260101_090000_create_widgets.down.sql": testMigrations["20260101_090000_create_widgets.down.sql"],
	})
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if tableExists(t, db, "widgets") {
		t.Error("table widgets should have been dropped")
	}
	applied, _, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("applied after rollback = %d, want 0", len(applied))
	}

	// Nothing left to roll back.
	if err := db.MigrateDown(ctx); err != nil {
		t.Errorf("MigrateDown() on empty history error = %v", err)
	}
}

func TestMigrateDown_NoDownSQL(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260102_090000_add_gadgets.up.sql": testMigrations["20260102_090000_add_gadgets.up.sql"],
	})
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err == nil {
		t.Error("MigrateDown() without down SQL: error = nil")
	}
}

func TestMigrate_FailureKeepsEarlierMigrations(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260101_090000_create_widgets.up.sql": testMigrations["20260101_090000_create_widgets.up.sql"],
		"20260103_090000_broken.up.sql":         {Data: []byte("CREATE TABLE oops (")},
	})
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err == nil {
		t.Fatal("Migrate() error = nil, want failure")
	}
	if !tableExists(t, db, "widgets") {
		t.Error("earlier migration was rolled back")
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	origFS := MigrationsFS
	t.Cleanup(func() { MigrationsFS = origFS })
	MigrationsFS = nil

	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantIsUp    bool
		wantOk      bool
	}{
		{"20260118_120000_create_users.up.sql", "20260118_120000", "create_users", true, true},
		{"20260118_120000_create_users.down.sql", "20260118_120000", "create_users", false, true},
		{"20260118_120000_add_email_to_users.up.sql", "20260118_120000", "add_email_to_users", true, true},
		{"readme.txt", "", "", false, false},
		{"20260118_120000_create_users.sql", "", "", false, false},
		{"invalid.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || isUp != tt.wantIsUp {
				t.Errorf("parseMigrationFilename(%q) = %q, %q, %v", tt.filename, version, name, isUp)
			}
		})
	}
}
