package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"trestle/internal/jobs"
	"trestle/internal/logging"
	"trestle/internal/pinning"
	"trestle/internal/progress"
	"trestle/internal/services"
	"trestle/internal/staging"
	"trestle/internal/transcode"
)

// Pinner is the pin coordinator surface the API depends on.
type Pinner interface {
	Pin(ctx context.Context, path, name string, sink progress.Sink) (pinning.Outcome, error)
	PinByReference(ctx context.Context, cid, name string) error
	EnsureLocalPin(ctx context.Context, cid string, sink progress.Sink) (bool, error)
	GatewayURL(cid string) string
}

// Transcoder is the local pipeline surface the API depends on.
type Transcoder interface {
	NormalizeForWeb(ctx context.Context, inputPath string, sink progress.Sink) (transcode.Result, error)
	PackageHLS(ctx context.Context, inputPath string, qualities []int, opts transcode.PackageOptions, sink progress.Sink) (transcode.PackageResult, error)
}

// Fetcher downloads remote media into a staging directory.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, destDir string) (string, error)
}

// DirectoryAdder pins a directory tree on the secondary backend.
type DirectoryAdder interface {
	AddDirectory(ctx context.Context, dir, label string) (string, error)
}

// JobService is the async transcode surface the API depends on.
type JobService interface {
	Submit(ctx context.Context, path string, qualities []int, keepOriginal bool, requester string) (*jobs.Job, error)
	HandleCompleted(ctx context.Context, jobID string, payload jobs.WebhookPayload) error
	HandleFailed(ctx context.Context, jobID, message string) error
}

// JobReader reads persisted jobs for the status routes.
type JobReader interface {
	GetByID(ctx context.Context, id string) (*jobs.Job, error)
	ListRecent(ctx context.Context, limit int) ([]*jobs.Job, error)
}

// WikiUpdater records pinned identifiers on submission pages.
type WikiUpdater interface {
	Configured() bool
	UpdateSubmissionCID(ctx context.Context, submissionID, cid string) (string, error)
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	pinner      Pinner
	transcoder  Transcoder
	fetcher     Fetcher
	secondary   DirectoryAdder
	jobService  JobService
	jobReader   JobReader
	wiki        WikiUpdater
	authorizer  Authorizer
	stagingRoot string
	listLimit   int
	// Pipelines derive from baseCtx, not the request context: a client
	// disconnect must not interrupt an in-flight encode or pin.
	baseCtx context.Context
	logger  *slog.Logger
}

// ServerConfig wires a Server.
type ServerConfig struct {
	Pinner      Pinner
	Transcoder  Transcoder
	Fetcher     Fetcher
	Secondary   DirectoryAdder
	JobService  JobService
	JobReader   JobReader
	Wiki        WikiUpdater
	Authorizer  Authorizer
	StagingRoot string
	ListLimit   int
	BaseContext context.Context
}

// NewServer builds the handler set.
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	baseCtx := cfg.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	listLimit := cfg.ListLimit
	if listLimit <= 0 {
		listLimit = 50
	}
	return &Server{
		pinner:      cfg.Pinner,
		transcoder:  cfg.Transcoder,
		fetcher:     cfg.Fetcher,
		secondary:   cfg.Secondary,
		jobService:  cfg.JobService,
		jobReader:   cfg.JobReader,
		wiki:        cfg.Wiki,
		authorizer:  cfg.Authorizer,
		stagingRoot: cfg.StagingRoot,
		listLimit:   listLimit,
		baseCtx:     baseCtx,
		logger:      logging.NewComponentLogger(logger, "api"),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePinFile(w http.ResponseWriter, r *http.Request) {
	path, name, cleanup, err := s.receiveUpload(r, "file")
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer cleanup()

	outcome, err := s.pinner.Pin(s.baseCtx, path, name, progress.Nop{})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type pinFromURLRequest struct {
	URL          string `json:"url"`
	SubmissionID string `json:"submissionId"`
}

func (s *Server) handlePinFromURL(w http.ResponseWriter, r *http.Request) {
	var req pinFromURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		s.writeError(w, services.Wrap(services.ErrValidation, "api", "pin from url", "url is required", err))
		return
	}

	outcome, err := s.runURLPipeline(req.URL, progress.Nop{})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handlePinFromURLStream(w http.ResponseWriter, r *http.Request) {
	var req pinFromURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		s.writeError(w, services.Wrap(services.ErrValidation, "api", "pin from url", "url is required", err))
		return
	}

	stream := progress.NewStream(w)
	outcome, err := s.runURLPipeline(req.URL, stream)
	if err != nil {
		stream.Fail(err.Error())
		return
	}

	if req.SubmissionID != "" && s.wiki != nil && s.wiki.Configured() {
		stream.Publish(progress.NewEvent(progress.StageWikiUpdate, "Recording CID on submission page"))
		if _, err := s.wiki.UpdateSubmissionCID(s.baseCtx, req.SubmissionID, outcome.CID); err != nil {
			// Best-effort side channel; the pin already succeeded.
			s.logger.Warn("wiki update failed",
				logging.String("submission_id", req.SubmissionID),
				logging.Error(err),
			)
		}
	}

	stream.Complete(map[string]any{
		"cid":           outcome.CID,
		"uri":           outcome.URI,
		"gatewayUrl":    outcome.GatewayURL,
		"sizeBytes":     outcome.SizeBytes,
		"alreadyPinned": outcome.AlreadyPinned,
	})
}

func (s *Server) runURLPipeline(rawURL string, sink progress.Sink) (pinning.Outcome, error) {
	dir, err := staging.NewDir(s.stagingRoot, "url")
	if err != nil {
		return pinning.Outcome{}, err
	}
	defer func() { _ = staging.Remove(dir) }()

	sink.Publish(progress.NewEvent(progress.StageDownloading, "Downloading media"))
	path, err := s.fetcher.Fetch(s.baseCtx, rawURL, dir)
	if err != nil {
		return pinning.Outcome{}, err
	}
	sink.Publish(progress.NewEvent(progress.StageDownloaded, "Download complete"))

	result, err := s.transcoder.NormalizeForWeb(s.baseCtx, path, sink)
	if err != nil {
		return pinning.Outcome{}, err
	}

	return s.pinner.Pin(s.baseCtx, result.Path, filepath.Base(result.Path), sink)
}

type pinCIDRequest struct {
	CID string `json:"cid"`
}

func (s *Server) handlePinCID(w http.ResponseWriter, r *http.Request) {
	var req pinCIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.CID) == "" {
		s.writeError(w, services.Wrap(services.ErrValidation, "api", "pin cid", "cid is required", err))
		return
	}

	already, err := s.pinner.EnsureLocalPin(s.baseCtx, req.CID, progress.Nop{})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cid":           req.CID,
		"alreadyPinned": already,
	})
}

func (s *Server) handlePackage(w http.ResponseWriter, r *http.Request) {
	path, name, cleanup, err := s.receiveUpload(r, "file")
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer cleanup()

	qualities, err := parseQualities(r.FormValue("qualities"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	outputDir, err := staging.NewDir(s.stagingRoot, "package")
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer func() { _ = staging.Remove(outputDir) }()

	subtitlePath, subtitleCleanup, err := s.receiveOptionalUpload(r, "subtitle")
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer subtitleCleanup()

	result, err := s.transcoder.PackageHLS(s.baseCtx, path, qualities, transcode.PackageOptions{
		OutputDir:     outputDir,
		SubtitlePath:  subtitlePath,
		ProgressFloor: 0,
		ProgressCeil:  100,
	}, progress.Nop{})
	if err != nil {
		s.writeError(w, err)
		return
	}

	if r.FormValue("keepOriginal") == "true" {
		if err := copyInto(path, filepath.Join(result.OutputDir, name)); err != nil {
			s.writeError(w, fmt.Errorf("keep original: %w", err))
			return
		}
	}

	label := "package-" + trimExt(name)
	rootCID, err := s.secondary.AddDirectory(s.baseCtx, result.OutputDir, label)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.pinner.PinByReference(s.baseCtx, rootCID, label); err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rootCid":           rootCID,
		"uri":               "ipfs://" + rootCID,
		"qualities":         result.Renditions,
		"masterPlaylistUrl": s.pinner.GatewayURL(rootCID) + "/master.m3u8",
	})
}

func (s *Server) handleTranscode(w http.ResponseWriter, r *http.Request) {
	path, _, cleanup, err := s.receiveUpload(r, "file")
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer cleanup()

	qualities, err := parseQualities(r.FormValue("qualities"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	keepOriginal := r.FormValue("keepOriginal") == "true"

	job, err := s.jobService.Submit(s.baseCtx, path, qualities, keepOriginal, r.Header.Get(identityHeader))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":         job.ID,
		"providerJobId": job.ProviderJobID,
		"sourceCid":     job.SourceCID,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	listed, err := s.jobReader.ListRecent(r.Context(), s.listLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if listed == nil {
		listed = []*jobs.Job{}
	}
	writeJSON(w, http.StatusOK, listed)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.jobReader.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if job == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing correlation token"})
		return
	}

	var payload jobs.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload"})
		return
	}

	var err error
	switch payload.Event {
	case jobs.EventCompleted:
		err = s.jobService.HandleCompleted(s.baseCtx, token, payload)
	case jobs.EventFailed:
		err = s.jobService.HandleFailed(s.baseCtx, token, payload.Error)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown event %q", payload.Event)})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// receiveUpload stages a required multipart file and returns its path, the
// client-supplied name, and a cleanup func.
func (s *Server) receiveUpload(r *http.Request, field string) (string, string, func(), error) {
	noop := func() {}
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", "", noop, services.Wrap(services.ErrValidation, "api", "upload", fmt.Sprintf("%s field is required", field), err)
	}
	defer file.Close()

	dir, err := staging.NewDir(s.stagingRoot, "upload")
	if err != nil {
		return "", "", noop, err
	}
	cleanup := func() { _ = staging.Remove(dir) }

	name := filepath.Base(header.Filename)
	if name == "" || name == "." {
		name = "upload.bin"
	}
	path := filepath.Join(dir, name)
	dest, err := os.Create(path)
	if err != nil {
		cleanup()
		return "", "", noop, fmt.Errorf("stage upload: %w", err)
	}
	defer dest.Close()
	if _, err := io.Copy(dest, file); err != nil {
		cleanup()
		return "", "", noop, fmt.Errorf("write upload: %w", err)
	}
	return path, name, cleanup, nil
}

func (s *Server) receiveOptionalUpload(r *http.Request, field string) (string, func(), error) {
	noop := func() {}
	if _, _, err := r.FormFile(field); err != nil {
		return "", noop, nil
	}
	path, _, cleanup, err := s.receiveUpload(r, field)
	return path, cleanup, err
}

func parseQualities(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, services.Wrap(services.ErrValidation, "api", "qualities", "qualities field is required", nil)
	}
	parts := strings.Split(raw, ",")
	qualities := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		q, err := strconv.Atoi(strings.TrimSuffix(part, "p"))
		if err != nil || q <= 0 {
			return nil, services.Wrap(services.ErrValidation, "api", "qualities", fmt.Sprintf("invalid quality %q", part), nil)
		}
		qualities = append(qualities, q)
	}
	if len(qualities) == 0 {
		return nil, services.Wrap(services.ErrValidation, "api", "qualities", "qualities field is required", nil)
	}
	return qualities, nil
}

func copyInto(src, dest string) error {
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
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func trimExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := services.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", logging.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
