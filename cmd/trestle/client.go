package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trestle/internal/jobs"
	"trestle/internal/pinning"
)

// apiClient talks to a running trestled instance over its HTTP API. The
// server and token fields point at the root command's persistent flags so
// values resolved by cobra are visible at RunE time.
type apiClient struct {
	server *string
	token  *string
	http   http.Client
}

func (c *apiClient) baseURL() string {
	return strings.TrimRight(strings.TrimSpace(*c.server), "/")
}

func (c *apiClient) do(req *http.Request) (*http.Response, error) {
	if token := strings.TrimSpace(*c.token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.http.Do(req)
}

func (c *apiClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("contact daemon at %s: %w", c.baseURL(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("contact daemon at %s: %w", c.baseURL(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) health(ctx context.Context) error {
	var status struct {
		Status string `json:"status"`
	}
	if err := c.getJSON(ctx, "/health", &status); err != nil {
		return err
	}
	if status.Status != "ok" {
		return fmt.Errorf("daemon reported status %q", status.Status)
	}
	return nil
}

func (c *apiClient) listJobs(ctx context.Context) ([]jobs.Job, error) {
	var listed []jobs.Job
	if err := c.getJSON(ctx, "/jobs", &listed); err != nil {
		return nil, err
	}
	return listed, nil
}

func (c *apiClient) getJob(ctx context.Context, id string) (*jobs.Job, error) {
	var job jobs.Job
	if err := c.getJSON(ctx, "/jobs/"+id, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *apiClient) pinFile(ctx context.Context, path string) (pinning.Outcome, error) {
	file, err := os.Open(path)
	if err != nil {
		return pinning.Outcome{}, err
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return pinning.Outcome{}, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return pinning.Outcome{}, err
	}
	if err := writer.Close(); err != nil {
		return pinning.Outcome{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/pin-file", &buf)
	if err != nil {
		return pinning.Outcome{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := c.do(req)
	if err != nil {
		return pinning.Outcome{}, fmt.Errorf("contact daemon at %s: %w", c.baseURL(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return pinning.Outcome{}, apiError(resp)
	}

	var outcome pinning.Outcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		return pinning.Outcome{}, err
	}
	return outcome, nil
}

func (c *apiClient) pinCID(ctx context.Context, cid string) (bool, error) {
	var result struct {
		CID           string `json:"cid"`
		AlreadyPinned bool   `json:"alreadyPinned"`
	}
	payload := map[string]string{"cid": cid}
	if err := c.postJSON(ctx, "/pin-cid", payload, &result); err != nil {
		return false, err
	}
	return result.AlreadyPinned, nil
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("daemon returned %d", resp.StatusCode)
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}
