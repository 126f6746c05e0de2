package staging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewDirUniqueAndSanitized(t *testing.T) {
	root := t.TempDir()
	a, err := NewDir(root, "Download #1!")
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	b, err := NewDir(root, "Download #1!")
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	if a == b {
		t.Fatalf("staging directories must be unique: %s", a)
	}
	base := filepath.Base(a)
	if strings.ContainsAny(base, " #!") {
		t.Fatalf("label not sanitized: %s", base)
	}
	if _, err := os.Stat(a); err != nil {
		t.Fatalf("directory not created: %v", err)
	}
}

func TestRemoveTolerantOfEmptyPath(t *testing.T) {
	if err := Remove(""); err != nil {
		t.Fatalf("Remove(\"\") should be a no-op, got %v", err)
	}
}

func TestCleanStaleRemovesOnlyOldDirs(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "job-1")
	fresh := filepath.Join(root, "job-2")
	for _, dir := range []string{old, fresh} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed := CleanStale(root, 24*time.Hour, nil)
	if len(removed) != 1 || removed[0] != old {
		t.Fatalf("unexpected removals: %v", removed)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh directory should survive: %v", err)
	}
}
