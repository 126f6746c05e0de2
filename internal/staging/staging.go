package staging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trestle/internal/logging"
)

// NewDir creates a uniquely named subtree under root for one request. The
// caller owns the subtree and must remove it on both success and failure
// paths.
func NewDir(root, label string) (string, error) {
	label = sanitizeLabel(label)
	if label == "" {
		label = "request"
	}
	dir := filepath.Join(root, fmt.Sprintf("%s-%d", label, time.Now().UnixNano()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	return dir, nil
}

// Remove deletes a request's staging subtree. Errors are returned for
// logging; callers never fail a pipeline on cleanup problems.
func Remove(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

// CleanStale removes staging subtrees older than maxAge. Requests clean up
// after themselves; this sweep catches subtrees orphaned by crashes.
func CleanStale(stagingDir string, maxAge time.Duration, logger *slog.Logger) []string {
	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return nil
	}
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		return nil
	}

	cutoff := time.Now().Add(-maxAge)
	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dirPath := filepath.Join(stagingDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dirPath); err != nil {
			if logger != nil {
				logger.Warn("failed to remove stale staging directory",
					logging.String("path", dirPath),
					logging.Error(err),
				)
			}
			continue
		}
		removed = append(removed, dirPath)
		if logger != nil {
			logger.Info("removed stale staging directory",
				logging.String("path", dirPath),
				logging.Duration("age", time.Since(info.ModTime())),
			)
		}
	}
	return removed
}

func sanitizeLabel(label string) string {
	label = strings.TrimSpace(strings.ToLower(label))
	var b strings.Builder
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
