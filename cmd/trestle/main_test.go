package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trestle/internal/jobs"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/health" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	out, err := runCLI(t, "status", "--server", srv.URL, "--token", "secret")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "healthy") {
		t.Fatalf("unexpected output %q", out)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer token, got %q", gotAuth)
	}
}

func TestJobsCommandListsJobs(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jobs" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]jobs.Job{{
			ID:        "job-1",
			Status:    jobs.StatusComplete,
			SourceCID: "bafybeigdyrztvzk5cidexamplesourcecidvaluehere",
			ResultCID: "bafybeigdyrztvzk5cidexampleresultcidvaluehere",
			Qualities: []int{1080, 720},
			CreatedAt: created,
		}})
	}))
	defer srv.Close()

	out, err := runCLI(t, "jobs", "--server", srv.URL)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if !strings.Contains(out, "job-1") || !strings.Contains(out, "complete") {
		t.Fatalf("unexpected output %q", out)
	}
	if !strings.Contains(out, "1080p,720p") {
		t.Fatalf("expected qualities column in %q", out)
	}
}

func TestJobsCommandEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]jobs.Job{})
	}))
	defer srv.Close()

	out, err := runCLI(t, "jobs", "--server", srv.URL)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if !strings.Contains(out, "No jobs recorded") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestShowCommandSurfacesDaemonError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "job not found"})
	}))
	defer srv.Close()

	_, err := runCLI(t, "show", "missing", "--server", srv.URL)
	if err == nil || !strings.Contains(err.Error(), "job not found") {
		t.Fatalf("expected daemon error, got %v", err)
	}
}

func TestPinCIDCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pin-cid" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["cid"] != "bafytest" {
			t.Fatalf("unexpected cid %q", req["cid"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"cid": "bafytest", "alreadyPinned": true})
	}))
	defer srv.Close()

	out, err := runCLI(t, "pin-cid", "bafytest", "--server", srv.URL)
	if err != nil {
		t.Fatalf("pin-cid: %v", err)
	}
	if !strings.Contains(out, "already pinned") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestShortCID(t *testing.T) {
	if got := shortCID(""); got != "-" {
		t.Fatalf("empty cid: got %q", got)
	}
	if got := shortCID("bafyshort"); got != "bafyshort" {
		t.Fatalf("short cid: got %q", got)
	}
	long := "bafybeigdyrztvzk5cidexamplesourcecidvaluehere"
	got := shortCID(long)
	if !strings.HasPrefix(got, "bafybeig") || !strings.Contains(got, "...") {
		t.Fatalf("long cid: got %q", got)
	}
}

func TestFormatQualities(t *testing.T) {
	if got := formatQualities(nil); got != "-" {
		t.Fatalf("nil qualities: got %q", got)
	}
	if got := formatQualities([]int{720, 480}); got != "720p,480p" {
		t.Fatalf("got %q", got)
	}
}
