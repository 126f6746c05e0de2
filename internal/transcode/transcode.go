package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"trestle/internal/config"
	"trestle/internal/logging"
	"trestle/internal/progress"
	"trestle/internal/services"
)

// Pipeline runs the local ffmpeg-based transcode policies.
type Pipeline struct {
	cfg    config.Transcode
	logger *slog.Logger
}

// New builds a pipeline from configuration.
func New(cfg config.Transcode, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "transcode"),
	}
}

// Result reports what the normalization pass produced. When Transcoded is
// false, Path is the untouched input.
type Result struct {
	Path       string
	Transcoded bool
}

// webFriendlyExts are containers served as-is when small enough.
var webFriendlyExts = map[string]bool{
	".mp4":  true,
	".webm": true,
}

// NormalizeForWeb re-encodes the input to VP9/Opus unless it is already a
// small web-friendly file. Encode failure is non-fatal: the original file is
// passed through unchanged.
func (p *Pipeline) NormalizeForWeb(ctx context.Context, inputPath string, sink progress.Sink) (Result, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return Result{}, fmt.Errorf("stat input: %w", err)
	}

	if p.shouldSkip(inputPath, info.Size()) {
		p.logger.Info("skipping normalization",
			logging.String("file", filepath.Base(inputPath)),
			logging.Int64("size_bytes", info.Size()),
		)
		return Result{Path: inputPath}, nil
	}

	sink.Publish(progress.NewEvent(progress.StageTranscoding, "Transcoding for web playback"))

	timeout := time.Duration(p.cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outputPath := filepath.Join(filepath.Dir(inputPath), "web-"+trimExt(filepath.Base(inputPath))+".webm")
	args := []string{
		"-y",
		"-i", inputPath,
		"-c:v", "libvpx-vp9",
		"-crf", fmt.Sprintf("%d", p.cfg.CRF),
		"-b:v", "0",
		"-vf", fmt.Sprintf("scale=-2:'min(%d,ih)'", p.cfg.MaxHeight),
		"-row-mt", "1",
		"-c:a", "libopus",
		"-b:a", "128k",
		outputPath,
	}

	if err := runFFmpeg(ctx, args); err != nil {
		// The original file still plays; serve it rather than failing the
		// whole intake.
		p.logger.Warn("normalization failed, using original",
			logging.String("file", filepath.Base(inputPath)),
			logging.Error(err),
		)
		_ = os.Remove(outputPath)
		return Result{Path: inputPath}, nil
	}

	if err := os.Remove(inputPath); err != nil {
		p.logger.Warn("remove original after transcode", logging.Error(err))
	}
	sink.Publish(progress.NewEvent(progress.StageTranscoded, "Transcode complete"))
	return Result{Path: outputPath, Transcoded: true}, nil
}

func (p *Pipeline) shouldSkip(path string, sizeBytes int64) bool {
	if !webFriendlyExts[strings.ToLower(filepath.Ext(path))] {
		return false
	}
	maxBytes := int64(p.cfg.SkipMaxMiB) * 1024 * 1024
	return sizeBytes <= maxBytes
}

func trimExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "transcode", "ffmpeg", "encode timed out", ctx.Err())
		}
		return services.Wrap(services.ErrExternalTool, "transcode", "ffmpeg",
			strings.TrimSpace(stderr.String()), err)
	}
	return nil
}
