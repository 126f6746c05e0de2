package download

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"trestle/internal/config"
	"trestle/internal/logging"
)

func TestFetchRejectsInvalidURL(t *testing.T) {
	fetcher := NewFetcher(config.Download{TimeoutSeconds: 1}, logging.NewNop())
	for _, raw := range []string{"", "not a url", "ftp://example.com/x", "file:///etc/passwd"} {
		if _, err := fetcher.Fetch(context.Background(), raw, t.TempDir()); err == nil {
			t.Fatalf("expected validation error for %q", raw)
		}
	}
}

func TestNewestFilePicksLatest(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "first.webm")
	newer := filepath.Join(dir, "second.webm")
	if err := os.WriteFile(older, []byte("a"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(newer, []byte("b"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	got, err := newestFile(dir)
	if err != nil {
		t.Fatalf("newestFile: %v", err)
	}
	if got != newer {
		t.Fatalf("newestFile = %q, want %q", got, newer)
	}
}

func TestNewestFileIgnoresPartials(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "clip.webm.part"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := newestFile(dir); err == nil {
		t.Fatalf("expected error when only partial files present")
	}
}

func TestNewestFileEmptyDir(t *testing.T) {
	if _, err := newestFile(t.TempDir()); err == nil {
		t.Fatalf("expected error for empty directory")
	}
}
