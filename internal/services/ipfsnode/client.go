package ipfsnode

import (
	"bufio"
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
	"path/filepath"
	"strings"
	"time"

	"trestle/internal/logging"
	"trestle/internal/services"
)

// Client talks to a self-hosted Kubo node over its HTTP API. It is the
// secondary, redundancy-only pinning backend.
type Client struct {
	apiURL     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a node client. Pin operations on large content can run for
// a long time, so no client-level timeout is imposed; callers bound requests
// with contexts.
func NewClient(apiURL string, logger *slog.Logger) *Client {
	return &Client{
		apiURL:     strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{},
		logger:     logging.NewComponentLogger(logger, "ipfsnode"),
	}
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Add uploads a single file to the node and returns its identifier. The node
// pins what it adds.
func (c *Client) Add(ctx context.Context, path, name string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := appendFilePart(writer, path, name); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize multipart body: %w", err)
	}

	lines, err := c.postAdd(ctx, &body, writer.FormDataContentType())
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("add returned no entries")
	}
	return lines[len(lines)-1].Hash, nil
}

// AddDirectory uploads every file under dir, preserving relative structure
// beneath a top-level directory called label, and returns the directory's own
// identifier.
func (c *Client) AddDirectory(ctx context.Context, dir, label string) (string, error) {
	label = strings.Trim(strings.TrimSpace(label), "/")
	if label == "" {
		label = filepath.Base(dir)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		return appendFilePart(writer, path, label+"/"+filepath.ToSlash(rel))
	})
	if walkErr != nil {
		return "", fmt.Errorf("collect directory files: %w", walkErr)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize multipart body: %w", err)
	}

	lines, err := c.postAdd(ctx, &body, writer.FormDataContentType())
	if err != nil {
		return "", err
	}
	for _, line := range lines {
		if line.Name == label {
			return line.Hash, nil
		}
	}
	return "", fmt.Errorf("add response missing directory entry %q", label)
}

// IsPinned reports whether the node already holds a recursive pin for the
// identifier. Errors and not-pinned are indistinguishable by design: the
// node answers pin/ls for unknown pins with a 500.
func (c *Client) IsPinned(ctx context.Context, cidValue string) bool {
	endpoint := fmt.Sprintf("%s/api/v0/pin/ls?arg=%s&type=recursive", c.apiURL, url.QueryEscape(cidValue))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var payload struct {
		Keys map[string]any `json:"Keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false
	}
	return len(payload.Keys) > 0
}

// Pin instructs the node to fetch and retain the identifier. The node streams
// newline-delimited progress updates; each is forwarded to onProgress when
// provided.
func (c *Client) Pin(ctx context.Context, cidValue string, onProgress func(nodes int)) error {
	start := time.Now()
	endpoint := fmt.Sprintf("%s/api/v0/pin/add?arg=%s&progress=true", c.apiURL, url.QueryEscape(cidValue))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build pin request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "ipfsnode", "pin", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return services.Wrap(services.ErrTransient, "ipfsnode", "pin",
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))), nil)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var update struct {
			Progress int      `json:"Progress"`
			Pins     []string `json:"Pins"`
		}
		if err := json.Unmarshal([]byte(line), &update); err != nil {
			continue
		}
		if update.Progress > 0 && onProgress != nil {
			onProgress(update.Progress)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read pin progress: %w", err)
	}

	c.logger.Info("pin complete",
		logging.String(logging.FieldCID, cidValue),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (c *Client) postAdd(ctx context.Context, body io.Reader, contentType string) ([]addResponse, error) {
	endpoint := c.apiURL + "/api/v0/add?cid-version=1&pin=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build add request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "ipfsnode", "add", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, services.Wrap(services.ErrTransient, "ipfsnode", "add",
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))), nil)
	}

	var lines []addResponse
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var entry addResponse
		if err := json.Unmarshal([]byte(text), &entry); err != nil {
			continue
		}
		lines = append(lines, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read add response: %w", err)
	}
	return lines, nil
}

func appendFilePart(writer *multipart.Writer, path, name string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("buffer %s: %w", path, err)
	}
	return nil
}
