package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"trestle/internal/logging"
	"trestle/internal/services"
	"trestle/internal/services/livepeer"
	"trestle/internal/staging"
	"trestle/internal/transcode"
)

// SourceStore adds content to the secondary backend. The raw source goes
// there alone so the provider has a fetchable address without touching the
// primary backend's quota.
type SourceStore interface {
	Add(ctx context.Context, path, name string) (string, error)
	AddDirectory(ctx context.Context, dir, label string) (string, error)
}

// Provider submits cloud transcode jobs and fetches their outputs.
type Provider interface {
	Submit(ctx context.Context, req livepeer.SubmitRequest) (string, error)
	Download(ctx context.Context, outputURL, dest string) error
}

// ReferencePinner persists an identifier on the primary backend without
// re-uploading bytes.
type ReferencePinner interface {
	PinByReference(ctx context.Context, cid, name string) error
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	GatewayURL     string
	WebhookBaseURL string
	SegmentSec     int
	StagingRoot    string
}

// Manager owns the cloud transcode lifecycle: submission, webhook handling,
// and job persistence.
type Manager struct {
	store     *Store
	secondary SourceStore
	provider  Provider
	pinner    ReferencePinner
	cfg       ManagerConfig
	logger    *slog.Logger
}

// NewManager builds a manager.
func NewManager(store *Store, secondary SourceStore, provider Provider, pinner ReferencePinner, cfg ManagerConfig, logger *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		secondary: secondary,
		provider:  provider,
		pinner:    pinner,
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "jobs"),
	}
}

// Submit pins the raw source to the secondary backend, hands the job to the
// provider with the local job id as correlation token, and persists a
// processing record. The caller never sees direct completion.
func (m *Manager) Submit(ctx context.Context, path string, qualities []int, keepOriginal bool, requester string) (*Job, error) {
	if len(qualities) == 0 {
		return nil, services.Wrap(services.ErrValidation, "jobs", "submit", "no qualities requested", nil)
	}

	jobID := uuid.NewString()
	sourceCID, err := m.secondary.Add(ctx, path, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("add source to secondary backend: %w", err)
	}

	profiles := make([]livepeer.Profile, 0, len(qualities))
	for _, q := range qualities {
		profiles = append(profiles, livepeer.Profile{
			Name:    fmt.Sprintf("%dp", q),
			Width:   q * 16 / 9,
			Height:  q,
			Bitrate: transcode.BandwidthFor(q),
			FPS:     30,
		})
	}

	providerJobID, err := m.provider.Submit(ctx, livepeer.SubmitRequest{
		SourceURL:  m.cfg.GatewayURL + "/ipfs/" + sourceCID,
		Profiles:   profiles,
		WebhookURL: m.cfg.WebhookBaseURL + "/webhooks/transcode?token=" + jobID,
		SegmentSec: m.cfg.SegmentSec,
	})
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:            jobID,
		ProviderJobID: providerJobID,
		SourceCID:     sourceCID,
		Qualities:     qualities,
		KeepOriginal:  keepOriginal,
		Requester:     requester,
	}
	if err := m.store.Create(ctx, job); err != nil {
		return nil, err
	}

	m.logger.Info("cloud job submitted",
		logging.String(logging.FieldJobID, jobID),
		logging.String("provider_job_id", providerJobID),
		logging.String(logging.FieldCID, sourceCID),
	)
	return job, nil
}

// HandleCompleted reconstructs the provider's output directory from discrete
// download URLs, pins it as one content-addressed unit, and marks the job
// complete. Any processing error marks the job failed instead.
func (m *Manager) HandleCompleted(ctx context.Context, jobID string, payload WebhookPayload) error {
	job, err := m.store.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "jobs", "webhook", fmt.Sprintf("job %s not found", jobID), nil)
	}
	if job.Status.IsTerminal() {
		m.logger.Info("webhook redelivery for terminal job ignored",
			logging.String(logging.FieldJobID, jobID),
			logging.String("status", string(job.Status)),
		)
		return nil
	}

	resultCID, err := m.assembleOutputs(ctx, jobID, payload)
	if err != nil {
		if markErr := m.store.MarkFailed(ctx, jobID, err.Error()); markErr != nil {
			m.logger.Error("mark job failed", logging.Error(markErr))
		}
		return err
	}
	if err := m.store.MarkComplete(ctx, jobID, resultCID); err != nil {
		return err
	}

	m.logger.Info("cloud job complete",
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldCID, resultCID),
	)
	return nil
}

// HandleFailed records the provider's failure.
func (m *Manager) HandleFailed(ctx context.Context, jobID, message string) error {
	job, err := m.store.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "jobs", "webhook", fmt.Sprintf("job %s not found", jobID), nil)
	}
	if job.Status.IsTerminal() {
		return nil
	}
	if message == "" {
		message = "provider reported failure without detail"
	}
	return m.store.MarkFailed(ctx, jobID, message)
}

func (m *Manager) assembleOutputs(ctx context.Context, jobID string, payload WebhookPayload) (string, error) {
	if len(payload.Outputs) == 0 {
		return "", fmt.Errorf("completion payload carries no outputs")
	}

	dir, err := staging.NewDir(m.cfg.StagingRoot, "job-"+jobID)
	if err != nil {
		return "", err
	}
	defer staging.Remove(dir)

	playlists := make(map[string]string)
	for name, outputURL := range payload.Outputs {
		rel := sanitizeOutputName(name)
		if rel == "" {
			return "", fmt.Errorf("output name %q escapes the staging tree", name)
		}
		dest := filepath.Join(dir, filepath.FromSlash(rel))
		if err := m.provider.Download(ctx, outputURL, dest); err != nil {
			return "", fmt.Errorf("download output %s: %w", name, err)
		}
		if strings.HasSuffix(rel, ".m3u8") {
			playlists[dest] = outputURL
		}
	}

	// Variant playlists reference segments the payload does not name; fetch
	// them next to each playlist, preserving relative layout.
	for playlistPath, playlistURL := range playlists {
		if err := m.fetchPlaylistSegments(ctx, playlistPath, playlistURL); err != nil {
			return "", err
		}
	}

	label := "transcode-" + jobID
	dirCID, err := m.secondary.AddDirectory(ctx, dir, label)
	if err != nil {
		return "", fmt.Errorf("add output directory to secondary backend: %w", err)
	}
	if err := m.pinner.PinByReference(ctx, dirCID, label); err != nil {
		return "", fmt.Errorf("pin output directory on primary backend: %w", err)
	}
	return dirCID, nil
}

func (m *Manager) fetchPlaylistSegments(ctx context.Context, playlistPath, playlistURL string) error {
	data, err := os.ReadFile(playlistPath)
	if err != nil {
		return fmt.Errorf("read playlist: %w", err)
	}

	base, err := url.Parse(playlistURL)
	if err != nil {
		return fmt.Errorf("parse playlist url: %w", err)
	}

	for _, ref := range playlistRefs(string(data)) {
		rel := sanitizeOutputName(ref)
		if rel == "" {
			m.logger.Warn("skipping playlist reference outside staging tree", logging.String("ref", ref))
			continue
		}
		dest := filepath.Join(filepath.Dir(playlistPath), filepath.FromSlash(rel))
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		refURL, err := base.Parse(ref)
		if err != nil {
			return fmt.Errorf("resolve segment url %q: %w", ref, err)
		}
		if err := m.provider.Download(ctx, refURL.String(), dest); err != nil {
			return fmt.Errorf("download segment %s: %w", ref, err)
		}
	}
	return nil
}

// playlistRefs extracts the non-comment entries of an m3u8 playlist.
func playlistRefs(playlist string) []string {
	var refs []string
	for _, line := range strings.Split(playlist, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		refs = append(refs, line)
	}
	return refs
}

// sanitizeOutputName normalizes a provider-supplied relative path and rejects
// anything that would escape the staging tree. Absolute URLs keep only their
// path's base name.
func sanitizeOutputName(name string) string {
	if strings.Contains(name, "://") {
		if parsed, err := url.Parse(name); err == nil {
			name = parsed.Path
		}
	}
	cleaned := filepath.ToSlash(filepath.Clean("/" + strings.TrimSpace(name)))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return ""
	}
	return cleaned
}
