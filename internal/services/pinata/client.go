package pinata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"trestle/internal/config"
	"trestle/internal/logging"
	"trestle/internal/services"
)

const userAgent = "Trestle/0.1.0"

// Client talks to the Pinata v3 files API, the primary pinning backend.
type Client struct {
	jwt        string
	apiBase    string
	uploadBase string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a Pinata client from configuration.
func NewClient(cfg config.Pinata, logger *slog.Logger) *Client {
	return &Client{
		jwt:        strings.TrimSpace(cfg.JWT),
		apiBase:    cfg.APIBaseURL,
		uploadBase: cfg.UploadURL,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     logging.NewComponentLogger(logger, "pinata"),
	}
}

// Configured reports whether a JWT is present. Without one, index lookups
// report not-found and uploads fail.
func (c *Client) Configured() bool {
	return c.jwt != ""
}

// HasCID checks the account's file index for an entry matching the canonical
// identifier. Lookup failures are reported as errors so the caller can decide
// to fail open.
func (c *Client) HasCID(ctx context.Context, cidV1 string) (bool, error) {
	if !c.Configured() {
		return false, nil
	}

	endpoint := fmt.Sprintf("%s/v3/files/public?cid=%s", c.apiBase, url.QueryEscape(cidV1))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("build index request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("query file index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("file index returned %d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			Files []struct {
				CID string `json:"cid"`
			} `json:"files"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, fmt.Errorf("decode file index response: %w", err)
	}
	return len(payload.Data.Files) > 0, nil
}

// Upload streams a file to the uploads endpoint and returns the
// backend-assigned identifier.
func (c *Client) Upload(ctx context.Context, path, name string) (string, error) {
	if !c.Configured() {
		return "", services.Wrap(services.ErrConfiguration, "pinata", "upload", "JWT not configured", nil)
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for upload: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("create multipart file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("buffer file for upload: %w", err)
	}
	// The v3 API defaults to private storage; public is required for IPFS
	// gateway reachability.
	_ = writer.WriteField("network", "public")
	_ = writer.WriteField("name", name)
	keyvalues, _ := json.Marshal(map[string]string{
		"source":    "trestle",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	_ = writer.WriteField("keyvalues", string(keyvalues))
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize multipart body: %w", err)
	}

	endpoint := c.uploadBase + "/v3/files"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "pinata", "upload", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", services.Wrap(services.ErrTransient, "pinata", "upload",
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))), nil)
	}

	var payload struct {
		Data struct {
			CID string `json:"cid"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if payload.Data.CID == "" {
		return "", fmt.Errorf("upload response missing cid")
	}
	return payload.Data.CID, nil
}

// PinByCID asks the backend to pin content it can fetch from the public
// network by identifier, without re-uploading bytes.
func (c *Client) PinByCID(ctx context.Context, cidValue, name string) error {
	if !c.Configured() {
		return services.Wrap(services.ErrConfiguration, "pinata", "pin by cid", "JWT not configured", nil)
	}

	request := map[string]any{
		"hashToPin": cidValue,
		"pinataMetadata": map[string]string{
			"name": name,
		},
	}
	encoded, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encode pin request: %w", err)
	}

	endpoint := c.apiBase + "/pinning/pinByHash"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build pin request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "pinata", "pin by cid", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return services.Wrap(services.ErrTransient, "pinata", "pin by cid",
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))), nil)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.jwt)
	req.Header.Set("User-Agent", userAgent)
}
