package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeMigrationFiles(t *testing.T, names ...string) string {
	t.Helper()

	dir := t.TempDir()

	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600); err != nil {
			t.Fatalf("write migration file: %v", err)
		}
	}

	return dir
}

func TestParseMigrationFilename(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name     string
		filename string
		wantErr  bool
		sequence int
		dir      string
	}{
		{name: "valid up", filename: "001_create_clients.up.sql", sequence: 1, dir: "up"},
		{name: "valid down", filename: "004_create_recipe_tables.down.sql", sequence: 4, dir: "down"},
		{name: "missing direction", filename: "001_create_clients.sql", wantErr: true},
		{name: "two digit sequence", filename: "01_create_clients.up.sql", wantErr: true},
		{name: "hyphenated name", filename: "001_create-clients.up.sql", wantErr: true},
		{name: "wrong extension", filename: "001_create_clients.up.txt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := parseMigrationFilename(tt.filename)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseMigrationFilename(%q) expected error", tt.filename)
				}

				return
			}

			if err != nil {
				t.Fatalf("parseMigrationFilename(%q) unexpected error: %v", tt.filename, err)
			}

			if info.Sequence != tt.sequence || info.Direction != tt.dir {
				t.Errorf("parseMigrationFilename(%q) = %+v, want sequence %d direction %s",
					tt.filename, info, tt.sequence, tt.dir)
			}
		})
	}
}

func TestValidateMigrations(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("valid paired set passes", func(t *testing.T) {
		dir := writeMigrationFiles(t,
			"001_create_clients.up.sql", "001_create_clients.down.sql",
			"002_create_history.up.sql", "002_create_history.down.sql",
		)

		if err := validateMigrations(dir); err != nil {
			t.Errorf("validateMigrations() unexpected error: %v", err)
		}
	})

	t.Run("empty directory fails", func(t *testing.T) {
		if err := validateMigrations(t.TempDir()); err == nil {
			t.Error("validateMigrations() expected error for empty directory")
		}
	})

	t.Run("orphaned up migration fails", func(t *testing.T) {
		dir := writeMigrationFiles(t,
			"001_create_clients.up.sql", "001_create_clients.down.sql",
			"002_create_history.up.sql",
		)

		err := validateMigrations(dir)
		if err == nil || !strings.Contains(err.Error(), "missing down migration") {
			t.Errorf("validateMigrations() error = %v, want missing down migration", err)
		}
	})

	t.Run("orphaned down migration fails", func(t *testing.T) {
		dir := writeMigrationFiles(t,
			"001_create_clients.up.sql", "001_create_clients.down.sql",
			"002_create_history.down.sql",
		)

		err := validateMigrations(dir)
		if err == nil || !strings.Contains(err.Error(), "missing up migration") {
			t.Errorf("validateMigrations() error = %v, want missing up migration", err)
		}
	})

	t.Run("sequence gap fails", func(t *testing.T) {
		dir := writeMigrationFiles(t,
			"001_create_clients.up.sql", "001_create_clients.down.sql",
			"003_create_letters.up.sql", "003_create_letters.down.sql",
		)

		err := validateMigrations(dir)
		if err == nil || !strings.Contains(err.Error(), "gap in migration sequence") {
			t.Errorf("validateMigrations() error = %v, want sequence gap", err)
		}
	})

	t.Run("sequence not starting at 001 fails", func(t *testing.T) {
		dir := writeMigrationFiles(t,
			"002_create_history.up.sql", "002_create_history.down.sql",
		)

		err := validateMigrations(dir)
		if err == nil || !strings.Contains(err.Error(), "should start with 001") {
			t.Errorf("validateMigrations() error = %v, want start-with-001 failure", err)
		}
	})

	t.Run("non-conforming sql file fails", func(t *testing.T) {
		dir := writeMigrationFiles(t,
			"001_create_clients.up.sql", "001_create_clients.down.sql",
			"notes.sql",
		)

		if err := validateMigrations(dir); err == nil {
			t.Error("validateMigrations() expected error for non-conforming filename")
		}
	})
}

func TestRepositoryMigrationsAreValid(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// The shipped migration set must always satisfy its own validator.
	if err := validateMigrations("../../migrations"); err != nil {
		t.Errorf("validateMigrations(migrations/) unexpected error: %v", err)
	}
}
