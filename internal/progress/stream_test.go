package progress

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
)

func parseEvents(t *testing.T, body string) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, chunk := range strings.Split(body, "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		payload := strings.TrimPrefix(chunk, "data: ")
		var obj map[string]any
		if err := json.Unmarshal([]byte(payload), &obj); err != nil {
			t.Fatalf("bad event %q: %v", payload, err)
		}
		events = append(events, obj)
	}
	return events
}

func TestStreamOrderingAndTerminalComplete(t *testing.T) {
	rec := httptest.NewRecorder()
	stream := NewStream(rec)

	stream.Publish(NewPercentEvent(StageDownloading, "Downloading video...", 10))
	stream.Publish(NewEvent(StageUploading, "Uploading"))
	stream.Complete(map[string]any{"cid": "bafyexample", "alreadyPinned": false})
	stream.Publish(NewEvent("late", "should be dropped"))
	stream.Fail("should also be dropped")

	events := parseEvents(t, rec.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %v", len(events), events)
	}
	if events[0]["stage"] != StageDownloading || events[1]["stage"] != StageUploading {
		t.Fatalf("events out of order: %v", events)
	}
	last := events[len(events)-1]
	if last["stage"] != StageComplete {
		t.Fatalf("terminal event missing: %v", last)
	}
	if last["cid"] != "bafyexample" {
		t.Fatalf("result payload not flattened: %v", last)
	}
	if !stream.Terminal() {
		t.Fatalf("stream should be terminal")
	}
}

func TestStreamExactlyOneTerminal(t *testing.T) {
	rec := httptest.NewRecorder()
	stream := NewStream(rec)

	stream.Fail("first failure")
	stream.Complete(map[string]any{"cid": "x"})
	stream.Fail("second failure")

	events := parseEvents(t, rec.Body.String())
	if len(events) != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", len(events))
	}
	if events[0]["stage"] != StageError || events[0]["message"] != "first failure" {
		t.Fatalf("unexpected terminal event: %v", events[0])
	}
}

func TestStreamSetsSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	NewStream(rec)
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type: %s", got)
	}
	if rec.Header().Get("X-Accel-Buffering") != "no" {
		t.Fatalf("proxy buffering not disabled")
	}
}

func TestEventJSONOmitsNegativePercent(t *testing.T) {
	payload, err := json.Marshal(NewEvent("transcoding", "working"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(payload), "progress") {
		t.Fatalf("negative percent should be omitted: %s", payload)
	}
}
