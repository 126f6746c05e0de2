package pinata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"trestle/internal/config"
	"trestle/internal/logging"
)

func newTestClient(apiURL, uploadURL string) *Client {
	return NewClient(config.Pinata{
		JWT:        "test-jwt",
		APIBaseURL: apiURL,
		UploadURL:  uploadURL,
	}, logging.NewNop())
}

func TestHasCIDQueriesIndex(t *testing.T) {
	var gotAuth, gotCID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCID = r.URL.Query().Get("cid")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"files": []map[string]any{{"cid": "bafyfound"}}},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL)
	found, err := client.HasCID(context.Background(), "bafyfound")
	if err != nil {
		t.Fatalf("HasCID: %v", err)
	}
	if !found {
		t.Fatalf("expected found")
	}
	if gotAuth != "Bearer test-jwt" {
		t.Fatalf("missing bearer auth: %q", gotAuth)
	}
	if gotCID != "bafyfound" {
		t.Fatalf("cid not forwarded: %q", gotCID)
	}
}

func TestHasCIDEmptyIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"files": []any{}}})
	}))
	defer server.Close()

	found, err := newTestClient(server.URL, server.URL).HasCID(context.Background(), "bafymissing")
	if err != nil {
		t.Fatalf("HasCID: %v", err)
	}
	if found {
		t.Fatalf("expected not found")
	}
}

func TestHasCIDErrorOnBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL, server.URL).HasCID(context.Background(), "bafyx"); err == nil {
		t.Fatalf("expected error on non-200 index response")
	}
}

func TestHasCIDUnconfigured(t *testing.T) {
	client := NewClient(config.Pinata{}, logging.NewNop())
	found, err := client.HasCID(context.Background(), "bafyx")
	if err != nil || found {
		t.Fatalf("unconfigured client should report not found without error, got %v %v", found, err)
	}
}

func TestUploadReturnsBackendCID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("network"); got != "public" {
			t.Errorf("network field = %q, want public", got)
		}
		if got := r.FormValue("name"); got != "clip.mp4" {
			t.Errorf("name field = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"cid": "bafyfrombackend"}})
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("video bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cid, err := newTestClient(server.URL, server.URL).Upload(context.Background(), path, "clip.mp4")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if cid != "bafyfrombackend" {
		t.Fatalf("unexpected cid: %q", cid)
	}
}

func TestPinByCIDPostsHash(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pinning/pinByHash" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := newTestClient(server.URL, server.URL).PinByCID(context.Background(), "bafydir", "renditions"); err != nil {
		t.Fatalf("PinByCID: %v", err)
	}
	if body["hashToPin"] != "bafydir" {
		t.Fatalf("hashToPin not sent: %v", body)
	}
}
