package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestMigrationSourceFallsBackToEmbedded(t *testing.T) {
	source, origin, err := migrationSource(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("migration source: %v", err)
	}
	if origin != "embedded" {
		t.Fatalf("expected embedded source, got %q", origin)
	}
	files, err := fs.Glob(source, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) == 0 || files[0] != "00001_users.sql" {
		t.Fatalf("unexpected embedded migrations %v", files)
	}
}

func TestMigrationSourcePrefersDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "00001_init.sql"), []byte("-- +goose Up\nSELECT 1;\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	source, origin, err := migrationSource(dir)
	if err != nil {
		t.Fatalf("migration source: %v", err)
	}
	if origin != dir {
		t.Fatalf("expected %q, got %q", dir, origin)
	}
	if _, err := fs.Stat(source, "00001_init.sql"); err != nil {
		t.Fatalf("expected directory migration: %v", err)
	}
}

func TestNewRejectsMissingPool(t *testing.T) {
	if _, err := New(nil, "postgres://localhost/bryn", "", nil); err == nil {
		t.Fatalf("expected error for nil pool")
	}
}
