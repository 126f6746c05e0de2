package transcode

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"trestle/internal/logging"
	"trestle/internal/progress"
	"trestle/internal/services"
)

// bandwidthTiers maps rendition height to an estimated peak bandwidth in
// bits per second, used for master playlist synthesis and provider profiles.
var bandwidthTiers = []struct {
	height    int
	bandwidth int
}{
	{2160, 16000000},
	{1440, 9000000},
	{1080, 5000000},
	{720, 2800000},
	{480, 1400000},
	{360, 800000},
	{240, 400000},
}

// BandwidthFor returns the estimated bandwidth for a rendition height. Heights
// between tiers round up to the next tier.
func BandwidthFor(height int) int {
	for i := len(bandwidthTiers) - 1; i >= 0; i-- {
		if height <= bandwidthTiers[i].height {
			return bandwidthTiers[i].bandwidth
		}
	}
	return bandwidthTiers[0].bandwidth
}

// ResolveRenditions filters requested heights to those not exceeding the
// source height, sorted descending. An empty result falls back to the single
// lowest requested height.
func ResolveRenditions(requested []int, sourceHeight int) []int {
	var resolved []int
	lowest := 0
	for _, q := range requested {
		if q <= 0 {
			continue
		}
		if lowest == 0 || q < lowest {
			lowest = q
		}
		if q <= sourceHeight {
			resolved = append(resolved, q)
		}
	}
	if len(resolved) == 0 {
		if lowest == 0 {
			return nil
		}
		resolved = []int{lowest}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(resolved)))
	return resolved
}

// PackageOptions control one packaging run.
type PackageOptions struct {
	OutputDir    string
	SubtitlePath string
	// Progress events are mapped onto [ProgressFloor, ProgressCeil] because
	// packaging is one phase of a larger pipeline.
	ProgressFloor int
	ProgressCeil  int
}

// PackageResult describes a finished rendition set.
type PackageResult struct {
	OutputDir      string
	MasterPlaylist string
	Renditions     []int
	DurationSec    float64
}

// PackageHLS fans the source into one segmented stream per resolved rendition
// via a single ffmpeg run, then synthesizes a master playlist referencing all
// variants.
func (p *Pipeline) PackageHLS(ctx context.Context, inputPath string, qualities []int, opts PackageOptions, sink progress.Sink) (PackageResult, error) {
	height, duration, err := probeVideo(ctx, inputPath)
	if err != nil {
		return PackageResult{}, err
	}

	resolved := ResolveRenditions(qualities, height)
	if len(resolved) == 0 {
		return PackageResult{}, services.Wrap(services.ErrValidation, "transcode", "package", "no renditions requested", nil)
	}

	for _, q := range resolved {
		if err := os.MkdirAll(filepath.Join(opts.OutputDir, renditionName(q)), 0o755); err != nil {
			return PackageResult{}, fmt.Errorf("create rendition directory: %w", err)
		}
	}

	sink.Publish(progress.NewPercentEvent(progress.StagePackaging,
		fmt.Sprintf("Packaging %d rendition(s)", len(resolved)), opts.ProgressFloor))

	timeout := time.Duration(p.cfg.HLSTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	span := newProgressSpan(opts.ProgressFloor, opts.ProgressCeil, duration)
	if err := p.runPackaging(ctx, inputPath, resolved, opts.OutputDir, func(percent int) {
		sink.Publish(progress.NewPercentEvent(progress.StagePackaging, "Packaging renditions", percent))
	}, span); err != nil {
		return PackageResult{}, err
	}

	masterPath := filepath.Join(opts.OutputDir, "master.m3u8")
	if err := os.WriteFile(masterPath, []byte(buildMasterPlaylist(resolved)), 0o644); err != nil {
		return PackageResult{}, fmt.Errorf("write master playlist: %w", err)
	}

	if opts.SubtitlePath != "" {
		if err := copyFile(opts.SubtitlePath, filepath.Join(opts.OutputDir, "subtitles.vtt")); err != nil {
			return PackageResult{}, fmt.Errorf("copy subtitle track: %w", err)
		}
	}

	p.logger.Info("packaging complete",
		logging.String("file", filepath.Base(inputPath)),
		logging.Int("renditions", len(resolved)),
		logging.Float64("duration_sec", duration),
	)
	return PackageResult{
		OutputDir:      opts.OutputDir,
		MasterPlaylist: masterPath,
		Renditions:     resolved,
		DurationSec:    duration,
	}, nil
}

func (p *Pipeline) runPackaging(ctx context.Context, inputPath string, resolved []int, outputDir string, onPercent func(int), span *progressSpan) error {
	segmentSecs := p.cfg.HLSSegmentSeconds
	if segmentSecs <= 0 {
		segmentSecs = 6
	}

	args := []string{"-y", "-i", inputPath, "-progress", "pipe:1", "-nostats"}
	args = append(args, "-filter_complex", buildFilterGraph(resolved))

	var streamMap []string
	for i, q := range resolved {
		args = append(args,
			"-map", fmt.Sprintf("[v%dout]", i),
			fmt.Sprintf("-c:v:%d", i), "libx264",
			"-preset", "veryfast",
			fmt.Sprintf("-b:v:%d", i), fmt.Sprintf("%d", BandwidthFor(q)),
			"-map", "0:a:0?",
			fmt.Sprintf("-c:a:%d", i), "aac",
			fmt.Sprintf("-b:a:%d", i), "128k",
		)
		streamMap = append(streamMap, fmt.Sprintf("v:%d,a:%d,name:%s", i, i, renditionName(q)))
	}

	args = append(args,
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", segmentSecs),
		"-hls_list_size", "0",
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outputDir, "%v", "seg%03d.ts"),
		"-var_stream_map", strings.Join(streamMap, " "),
		filepath.Join(outputDir, "%v", "index.m3u8"),
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open progress pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return services.Wrap(services.ErrExternalTool, "transcode", "package", "start ffmpeg", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, found := strings.Cut(line, "=")
		if !found || key != "out_time_ms" {
			continue
		}
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		if percent, advanced := span.percent(ms / 1000); advanced {
			onPercent(percent)
		}
	}

	if err := cmd.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "transcode", "package", "packaging timed out", ctx.Err())
		}
		return services.Wrap(services.ErrExternalTool, "transcode", "package",
			strings.TrimSpace(stderr.String()), err)
	}
	return nil
}

func buildFilterGraph(resolved []int) string {
	var graph strings.Builder
	graph.WriteString(fmt.Sprintf("[0:v]split=%d", len(resolved)))
	for i := range resolved {
		graph.WriteString(fmt.Sprintf("[v%d]", i))
	}
	for i, q := range resolved {
		graph.WriteString(fmt.Sprintf(";[v%d]scale=-2:%d[v%dout]", i, q, i))
	}
	return graph.String()
}

func buildMasterPlaylist(resolved []int) string {
	var playlist strings.Builder
	playlist.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	for _, q := range resolved {
		playlist.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,NAME=\"%s\"\n", BandwidthFor(q), renditionName(q)))
		playlist.WriteString(renditionName(q) + "/index.m3u8\n")
	}
	return playlist.String()
}

func renditionName(height int) string {
	return fmt.Sprintf("%dp", height)
}

// progressSpan maps elapsed encode time onto a bounded percent sub-range,
// suppressing updates that advance less than two points.
type progressSpan struct {
	floor   int
	ceil    int
	totalMs int64
	last    int
}

func newProgressSpan(floor, ceil int, durationSec float64) *progressSpan {
	if ceil <= floor {
		ceil = floor + 1
	}
	return &progressSpan{
		floor:   floor,
		ceil:    ceil,
		totalMs: int64(durationSec * 1000),
		last:    floor,
	}
}

func (s *progressSpan) percent(elapsedMs int64) (int, bool) {
	if s.totalMs <= 0 {
		return 0, false
	}
	fraction := float64(elapsedMs) / float64(s.totalMs)
	if fraction > 1 {
		fraction = 1
	}
	percent := s.floor + int(fraction*float64(s.ceil-s.floor))
	if percent < s.last+2 {
		return 0, false
	}
	s.last = percent
	return percent, true
}

func probeVideo(ctx context.Context, inputPath string) (height int, durationSec float64, err error) {
	heightOut, err := runFFprobe(ctx, []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=height",
		"-of", "default=nokey=1:noprint_wrappers=1",
		inputPath,
	})
	if err != nil {
		return 0, 0, services.Wrap(services.ErrExternalTool, "transcode", "probe", "read source height", err)
	}
	height, err = strconv.Atoi(strings.TrimSpace(heightOut))
	if err != nil {
		return 0, 0, services.Wrap(services.ErrExternalTool, "transcode", "probe", "parse source height", err)
	}

	durationOut, err := runFFprobe(ctx, []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=nokey=1:noprint_wrappers=1",
		inputPath,
	})
	if err != nil {
		return 0, 0, services.Wrap(services.ErrExternalTool, "transcode", "probe", "read source duration", err)
	}
	durationSec, err = strconv.ParseFloat(strings.TrimSpace(durationOut), 64)
	if err != nil {
		return 0, 0, services.Wrap(services.ErrExternalTool, "transcode", "probe", "parse source duration", err)
	}
	return height, durationSec, nil
}

func runFFprobe(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
