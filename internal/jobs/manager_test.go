package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"trestle/internal/logging"
	"trestle/internal/services/livepeer"
)

type fakeSourceStore struct {
	addCID     string
	addErr     error
	dirCID     string
	dirEntries []string
}

func (f *fakeSourceStore) Add(_ context.Context, _, _ string) (string, error) {
	if f.addErr != nil {
		return "", f.addErr
	}
	return f.addCID, nil
}

func (f *fakeSourceStore) AddDirectory(_ context.Context, dir, _ string) (string, error) {
	f.dirEntries = nil
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		f.dirEntries = append(f.dirEntries, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", err
	}
	return f.dirCID, nil
}

type fakeProvider struct {
	jobID      string
	submitErr  error
	submitted  []livepeer.SubmitRequest
	content    map[string]string
	downloads  []string
	failAtPath string
}

func (f *fakeProvider) Submit(_ context.Context, req livepeer.SubmitRequest) (string, error) {
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.jobID, nil
}

func (f *fakeProvider) Download(_ context.Context, outputURL, dest string) error {
	f.downloads = append(f.downloads, outputURL)
	if f.failAtPath != "" && strings.Contains(outputURL, f.failAtPath) {
		return errors.New("storage gone")
	}
	body, ok := f.content[outputURL]
	if !ok {
		return fmt.Errorf("no content for %s", outputURL)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(body), 0o644)
}

type fakePinner struct {
	referenced []string
	err        error
}

func (f *fakePinner) PinByReference(_ context.Context, cid, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.referenced = append(f.referenced, cid)
	return nil
}

func newTestManager(t *testing.T, source *fakeSourceStore, provider *fakeProvider, pinner *fakePinner) *Manager {
	t.Helper()
	store := newTestStore(t)
	return NewManager(store, source, provider, pinner, ManagerConfig{
		GatewayURL:     "https://gateway.example",
		WebhookBaseURL: "https://trestle.example",
		SegmentSec:     6,
		StagingRoot:    t.TempDir(),
	}, logging.NewNop())
}

func TestSubmitCreatesProcessingJob(t *testing.T) {
	source := &fakeSourceStore{addCID: "bafysource"}
	provider := &fakeProvider{jobID: "prov-9"}
	manager := newTestManager(t, source, provider, &fakePinner{})

	job, err := manager.Submit(context.Background(), "/tmp/clip.mp4", []int{1080, 720}, true, "0xabc")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != StatusProcessing {
		t.Fatalf("status = %q, want processing", job.Status)
	}
	if job.ProviderJobID != "prov-9" || job.SourceCID != "bafysource" {
		t.Fatalf("job = %+v", job)
	}

	if len(provider.submitted) != 1 {
		t.Fatalf("provider submissions = %d", len(provider.submitted))
	}
	req := provider.submitted[0]
	if req.SourceURL != "https://gateway.example/ipfs/bafysource" {
		t.Fatalf("source url = %q", req.SourceURL)
	}
	wantWebhook := "https://trestle.example/webhooks/transcode?token=" + job.ID
	if req.WebhookURL != wantWebhook {
		t.Fatalf("webhook url = %q, want %q", req.WebhookURL, wantWebhook)
	}
	if len(req.Profiles) != 2 || req.Profiles[0].Height != 1080 || req.Profiles[1].Name != "720p" {
		t.Fatalf("profiles = %+v", req.Profiles)
	}

	stored, err := manager.store.GetByID(context.Background(), job.ID)
	if err != nil || stored == nil {
		t.Fatalf("job not persisted: %v", err)
	}
}

func TestSubmitRequiresQualities(t *testing.T) {
	manager := newTestManager(t, &fakeSourceStore{}, &fakeProvider{}, &fakePinner{})
	if _, err := manager.Submit(context.Background(), "/tmp/clip.mp4", nil, false, ""); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestSubmitProviderRejectionSurfaces(t *testing.T) {
	source := &fakeSourceStore{addCID: "bafysource"}
	provider := &fakeProvider{submitErr: errors.New("quota exceeded")}
	manager := newTestManager(t, source, provider, &fakePinner{})

	if _, err := manager.Submit(context.Background(), "/tmp/clip.mp4", []int{720}, false, ""); err == nil {
		t.Fatalf("expected provider error to surface")
	}
}

func TestHandleCompletedAssemblesDirectory(t *testing.T) {
	source := &fakeSourceStore{addCID: "bafysource", dirCID: "bafydir"}
	provider := &fakeProvider{
		jobID: "prov-1",
		content: map[string]string{
			"https://out.example/master.m3u8":    "#EXTM3U\n720p/index.m3u8\n",
			"https://out.example/720p/index.m3u8": "#EXTM3U\n#EXTINF:6.0,\nseg000.ts\n#EXTINF:6.0,\nseg001.ts\n",
			"https://out.example/720p/seg000.ts":  "segment zero",
			"https://out.example/720p/seg001.ts":  "segment one",
		},
	}
	pinner := &fakePinner{}
	manager := newTestManager(t, source, provider, pinner)

	job, err := manager.Submit(context.Background(), "/tmp/clip.mp4", []int{720}, false, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	err = manager.HandleCompleted(context.Background(), job.ID, WebhookPayload{
		Event: EventCompleted,
		Outputs: map[string]string{
			"master.m3u8":      "https://out.example/master.m3u8",
			"720p/index.m3u8":  "https://out.example/720p/index.m3u8",
		},
	})
	if err != nil {
		t.Fatalf("HandleCompleted: %v", err)
	}

	stored, _ := manager.store.GetByID(context.Background(), job.ID)
	if stored.Status != StatusComplete || stored.ResultCID != "bafydir" {
		t.Fatalf("job after completion: %+v", stored)
	}

	// Segments referenced by the variant playlist were fetched alongside it.
	want := map[string]bool{
		"master.m3u8":     true,
		"720p/index.m3u8": true,
		"720p/seg000.ts":  true,
		"720p/seg001.ts":  true,
	}
	if len(source.dirEntries) != len(want) {
		t.Fatalf("pinned tree = %v", source.dirEntries)
	}
	for _, entry := range source.dirEntries {
		if !want[entry] {
			t.Fatalf("unexpected entry %q in pinned tree", entry)
		}
	}

	if len(pinner.referenced) != 1 || pinner.referenced[0] != "bafydir" {
		t.Fatalf("primary reference pins = %v", pinner.referenced)
	}
}

func TestHandleCompletedFailureMarksJobFailed(t *testing.T) {
	source := &fakeSourceStore{addCID: "bafysource", dirCID: "bafydir"}
	provider := &fakeProvider{
		jobID:      "prov-1",
		failAtPath: "master.m3u8",
		content:    map[string]string{},
	}
	manager := newTestManager(t, source, provider, &fakePinner{})

	job, err := manager.Submit(context.Background(), "/tmp/clip.mp4", []int{720}, false, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	err = manager.HandleCompleted(context.Background(), job.ID, WebhookPayload{
		Event:   EventCompleted,
		Outputs: map[string]string{"master.m3u8": "https://out.example/master.m3u8"},
	})
	if err == nil {
		t.Fatalf("expected processing error")
	}

	stored, _ := manager.store.GetByID(context.Background(), job.ID)
	if stored.Status != StatusFailed || stored.ErrorMessage == "" {
		t.Fatalf("job after failed webhook: %+v", stored)
	}
}

func TestHandleCompletedUnknownJob(t *testing.T) {
	manager := newTestManager(t, &fakeSourceStore{}, &fakeProvider{}, &fakePinner{})
	if err := manager.HandleCompleted(context.Background(), "ghost", WebhookPayload{}); err == nil {
		t.Fatalf("expected not-found error")
	}
}

func TestHandleCompletedRedeliveryIsNoOp(t *testing.T) {
	source := &fakeSourceStore{addCID: "bafysource", dirCID: "bafydir"}
	provider := &fakeProvider{
		jobID:   "prov-1",
		content: map[string]string{"https://out.example/master.m3u8": "#EXTM3U\n"},
	}
	manager := newTestManager(t, source, provider, &fakePinner{})

	job, err := manager.Submit(context.Background(), "/tmp/clip.mp4", []int{720}, false, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	payload := WebhookPayload{
		Event:   EventCompleted,
		Outputs: map[string]string{"master.m3u8": "https://out.example/master.m3u8"},
	}
	if err := manager.HandleCompleted(context.Background(), job.ID, payload); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	downloadsAfterFirst := len(provider.downloads)

	if err := manager.HandleCompleted(context.Background(), job.ID, payload); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(provider.downloads) != downloadsAfterFirst {
		t.Fatalf("redelivery re-downloaded outputs")
	}
}

func TestHandleFailed(t *testing.T) {
	source := &fakeSourceStore{addCID: "bafysource"}
	manager := newTestManager(t, source, &fakeProvider{jobID: "prov-1"}, &fakePinner{})

	job, err := manager.Submit(context.Background(), "/tmp/clip.mp4", []int{720}, false, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := manager.HandleFailed(context.Background(), job.ID, "encoder crashed"); err != nil {
		t.Fatalf("HandleFailed: %v", err)
	}

	stored, _ := manager.store.GetByID(context.Background(), job.ID)
	if stored.Status != StatusFailed || stored.ErrorMessage != "encoder crashed" {
		t.Fatalf("job after failure: %+v", stored)
	}
}

func TestSanitizeOutputName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"master.m3u8", "master.m3u8"},
		{"720p/index.m3u8", "720p/index.m3u8"},
		{"../../etc/passwd", "etc/passwd"},
		{"/absolute/seg.ts", "absolute/seg.ts"},
		{"", ""},
		{".", ""},
	}
	for _, tt := range tests {
		if got := sanitizeOutputName(tt.in); got != tt.want {
			t.Fatalf("sanitizeOutputName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPlaylistRefs(t *testing.T) {
	refs := playlistRefs("#EXTM3U\n#EXT-X-VERSION:3\n\nseg000.ts\nseg001.ts\n#EXT-X-ENDLIST\n")
	if len(refs) != 2 || refs[0] != "seg000.ts" || refs[1] != "seg001.ts" {
		t.Fatalf("refs = %v", refs)
	}
}
