package ipfsnode

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"trestle/internal/logging"
)

func TestAddReturnsLastEntry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0/add" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("cid-version"); got != "1" {
			t.Errorf("cid-version = %q, want 1", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		fmt.Fprintln(w, `{"Name":"clip.webm","Hash":"bafyclip","Size":"11"}`)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "clip.webm")
	if err := os.WriteFile(path, []byte("video bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cid, err := NewClient(server.URL, logging.NewNop()).Add(context.Background(), path, "clip.webm")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if cid != "bafyclip" {
		t.Fatalf("unexpected cid: %q", cid)
	}
}

func TestAddDirectoryReturnsRootEntry(t *testing.T) {
	var filenames []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		for _, headers := range r.MultipartForm.File {
			for _, header := range headers {
				filenames = append(filenames, header.Filename)
			}
		}
		fmt.Fprintln(w, `{"Name":"renditions/index.m3u8","Hash":"bafyplaylist","Size":"4"}`)
		fmt.Fprintln(w, `{"Name":"renditions/seg0.ts","Hash":"bafyseg","Size":"7"}`)
		fmt.Fprintln(w, `{"Name":"renditions","Hash":"bafydirroot","Size":"20"}`)
	}))
	defer server.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.m3u8"), []byte("#EXT"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "seg0.ts"), []byte("segment"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cid, err := NewClient(server.URL, logging.NewNop()).AddDirectory(context.Background(), dir, "renditions")
	if err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	if cid != "bafydirroot" {
		t.Fatalf("unexpected root cid: %q", cid)
	}
	for _, name := range filenames {
		if filepath.Dir(name) != "renditions" {
			t.Fatalf("part filename %q not under label", name)
		}
	}
}

func TestAddDirectoryMissingRoot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"Name":"other","Hash":"bafyx","Size":"1"}`)
	}))
	defer server.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := NewClient(server.URL, logging.NewNop()).AddDirectory(context.Background(), dir, "renditions"); err == nil {
		t.Fatalf("expected error when root entry missing")
	}
}

func TestIsPinned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("arg") == "bafyknown" {
			fmt.Fprintln(w, `{"Keys":{"bafyknown":{"Type":"recursive"}}}`)
			return
		}
		http.Error(w, `{"Message":"not pinned"}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, logging.NewNop())
	if !client.IsPinned(context.Background(), "bafyknown") {
		t.Fatalf("expected pinned")
	}
	if client.IsPinned(context.Background(), "bafyunknown") {
		t.Fatalf("expected not pinned")
	}
}

func TestPinForwardsProgress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"Progress":3}`)
		fmt.Fprintln(w, `{"Progress":9}`)
		fmt.Fprintln(w, `{"Pins":["bafytarget"]}`)
	}))
	defer server.Close()

	var updates []int
	err := NewClient(server.URL, logging.NewNop()).Pin(context.Background(), "bafytarget", func(nodes int) {
		updates = append(updates, nodes)
	})
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if len(updates) != 2 || updates[0] != 3 || updates[1] != 9 {
		t.Fatalf("unexpected progress updates: %v", updates)
	}
}

func TestPinErrorOnBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "node unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	if err := NewClient(server.URL, logging.NewNop()).Pin(context.Background(), "bafyx", nil); err == nil {
		t.Fatalf("expected error on non-200 pin response")
	}
}
