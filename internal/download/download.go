// Package download fetches remote media into a staging directory via yt-dlp.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"trestle/internal/config"
	"trestle/internal/logging"
	"trestle/internal/services"
)

// Fetcher downloads remote URLs with yt-dlp.
type Fetcher struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewFetcher builds a fetcher from configuration.
func NewFetcher(cfg config.Download, logger *slog.Logger) *Fetcher {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Fetcher{
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "download"),
	}
}

// Fetch downloads the media at rawURL into destDir and returns the path of
// the downloaded file.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, destDir string) (string, error) {
	parsed, err := url.ParseRequestURI(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", services.Wrap(services.ErrValidation, "download", "fetch", "invalid media URL", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	args := []string{
		"--no-playlist",
		"--restrict-filenames",
		"-o", filepath.Join(destDir, "%(title)s.%(ext)s"),
		rawURL,
	}
	cmd := exec.CommandContext(ctx, "yt-dlp", args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", services.Wrap(services.ErrTimeout, "download", "fetch", "download timed out", ctx.Err())
		}
		return "", services.Wrap(services.ErrExternalTool, "download", "fetch",
			strings.TrimSpace(output.String()), err)
	}

	path, err := newestFile(destDir)
	if err != nil {
		return "", err
	}

	f.logger.Info("download complete",
		logging.String("file", filepath.Base(path)),
		logging.Duration("elapsed", time.Since(start)),
	)
	return path, nil
}

// newestFile returns the most recently modified regular file in dir. yt-dlp
// chooses the final filename, so the caller cannot predict it.
func newestFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read staging directory: %w", err)
	}

	var newest string
	var newestMod time.Time
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		// Skip partial downloads left behind on interruption.
		if strings.HasSuffix(entry.Name(), ".part") || strings.HasSuffix(entry.Name(), ".ytdl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = entry.Name()
			newestMod = info.ModTime()
		}
	}
	if newest == "" {
		return "", services.Wrap(services.ErrExternalTool, "download", "fetch", "downloader produced no file", nil)
	}
	return filepath.Join(dir, newest), nil
}
