package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/beatdrop/battles-backend/pkg/migrate"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestBattlesMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_battles.sql")
	checks := []string{
		"CREATE TABLE IF NOT EXISTS battles",
		"status battle_status NOT NULL DEFAULT 'OPEN'",
		"CHECK (opponent_id IS NULL OR opponent_id <> challenger_id)",
		"CHECK (challenger_votes >= 0 AND opponent_votes >= 0)",
		"idx_battles_status_ends_at",
		"DROP TABLE IF EXISTS battles",
	}
	assertContains(t, content, checks)
}

func TestVotesMigrationHasCompositeKey(t *testing.T) {
	content := readMigration(t, "*_create_battle_votes.sql")
	assertContains(t, content, []string{
		"PRIMARY KEY (battle_id, voter_id)",
		"DROP TABLE IF EXISTS battle_votes",
	})
}

func TestFlamesMigrationGuardsBalance(t *testing.T) {
	content := readMigration(t, "*_create_flames.sql")
	assertContains(t, content, []string{
		"CHECK (balance >= 0)",
		"CONSTRAINT flame_ledger_entries_idempotency_key_key UNIQUE (idempotency_key)",
		"DROP TABLE IF EXISTS flame_ledger_entries",
	})
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Battle Tags!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_battle_tags.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
	if _, err := migrate.CreateSQLMigration(dir, "!!!"); err == nil {
		t.Fatal("expected sanitized-empty name to fail")
	}
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_bad.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected invalid filename error")
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %s", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestEmbeddedMigrationsMatchDisk(t *testing.T) {
	if err := migrate.ValidateFS(migrate.Embedded()); err != nil {
		t.Fatalf("validate embedded migrations: %v", err)
	}
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	embedded, err := fs.Glob(migrate.Embedded(), "*.sql")
	if err != nil {
		t.Fatalf("glob embedded: %v", err)
	}
	if len(embedded) != len(onDisk) {
		t.Fatalf("expected %d embedded migrations, got %d", len(onDisk), len(embedded))
	}
}

func TestValidateFSRejectsUnbalancedBlocks(t *testing.T) {
	fsys := fstest.MapFS{
		"20250101000000_broken.sql": {Data: []byte("-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\n")},
	}
	if err := migrate.ValidateFS(fsys); err == nil {
		t.Fatal("expected unbalanced statement block error")
	}

	fsys = fstest.MapFS{
		"20250101000000_reversed.sql": {Data: []byte("-- +goose Down\nSELECT 1;\n-- +goose Up\nSELECT 1;\n")},
	}
	if err := migrate.ValidateFS(fsys); err == nil {
		t.Fatal("expected ordering error")
	}
}
