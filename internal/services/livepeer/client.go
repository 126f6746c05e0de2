package livepeer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trestle/internal/config"
	"trestle/internal/logging"
	"trestle/internal/services"
)

// Profile is one rendition the provider is asked to produce.
type Profile struct {
	Name    string `json:"name"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Bitrate int    `json:"bitrate"`
	FPS     int    `json:"fps"`
}

// SubmitRequest describes a cloud transcode job: where the source lives, the
// renditions wanted, and where completion is reported.
type SubmitRequest struct {
	SourceURL  string
	Profiles   []Profile
	WebhookURL string
	SegmentSec int
}

// Client talks to the cloud transcoding provider's job API.
type Client struct {
	apiKey          string
	baseURL         string
	httpClient      *http.Client
	downloadTimeout time.Duration
	logger          *slog.Logger
}

// NewClient builds a provider client from configuration.
func NewClient(cfg config.Provider, logger *slog.Logger) *Client {
	requestTimeout := time.Duration(cfg.RequestTimeout) * time.Second
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	downloadTimeout := time.Duration(cfg.DownloadTimeout) * time.Second
	if downloadTimeout <= 0 {
		downloadTimeout = 10 * time.Minute
	}
	return &Client{
		apiKey:          strings.TrimSpace(cfg.APIKey),
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:      &http.Client{Timeout: requestTimeout},
		downloadTimeout: downloadTimeout,
		logger:          logging.NewComponentLogger(logger, "livepeer"),
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != "" && c.baseURL != ""
}

// Submit creates a transcode job and returns the provider's job identifier.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if !c.Configured() {
		return "", services.Wrap(services.ErrConfiguration, "livepeer", "submit", "provider not configured", nil)
	}

	payload := map[string]any{
		"input": map[string]string{
			"url": req.SourceURL,
		},
		"outputs": map[string]any{
			"hls": map[string]any{
				"path":        "/renditions",
				"segmentSecs": req.SegmentSec,
			},
		},
		"profiles": req.Profiles,
		"webhook": map[string]string{
			"url": req.WebhookURL,
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode job request: %w", err)
	}

	endpoint := c.baseURL + "/api/transcode"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("build job request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "livepeer", "submit", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", services.Wrap(services.ErrTransient, "livepeer", "submit",
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))), nil)
	}

	var decoded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode job response: %w", err)
	}
	if decoded.ID == "" {
		return "", fmt.Errorf("job response missing id")
	}

	c.logger.Info("transcode job submitted",
		logging.String("provider_job_id", decoded.ID),
		logging.Int("profiles", len(req.Profiles)),
	)
	return decoded.ID, nil
}

// Download fetches one completed output to dest, creating parent directories
// as needed. Output URLs come from the completion webhook and may point at
// provider storage that requires the API key.
func (c *Client) Download(ctx context.Context, outputURL, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, outputURL, nil)
	if err != nil {
		return fmt.Errorf("build output request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "livepeer", "download output", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return services.Wrap(services.ErrTransient, "livepeer", "download output",
			fmt.Sprintf("status %d for %s", resp.StatusCode, outputURL), nil)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}
