package progress

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// Stream is a single-producer, single-consumer ordered event channel written
// as server-sent events. Exactly one terminal event is emitted: either
// Complete or Fail. Publishes after the terminal event are dropped, and write
// failures (client gone) turn the stream into a no-op rather than an error.
type Stream struct {
	mu       sync.Mutex
	w        http.ResponseWriter
	flusher  http.Flusher
	dead     bool
	terminal bool
}

// NewStream prepares w for server-sent events and returns the stream.
func NewStream(w http.ResponseWriter) *Stream {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	return &Stream{w: w, flusher: flusher}
}

// Publish writes one event. It is a no-op once the stream is terminal or the
// client has disconnected.
func (s *Stream) Publish(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.write(event)
}

// Complete emits the terminal complete event carrying the result payload and
// closes the stream to further events.
func (s *Stream) Complete(result map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return
	}
	event := Event{Stage: StageComplete, Percent: 100, Extra: result}
	s.write(event)
	s.terminal = true
}

// Fail emits the terminal error event and closes the stream to further
// events.
func (s *Stream) Fail(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return
	}
	s.write(Event{Stage: StageError, Message: message, Percent: -1})
	s.terminal = true
}

// Terminal reports whether a terminal event has been emitted.
func (s *Stream) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

func (s *Stream) write(event Event) {
	if s.dead || s.terminal {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		s.dead = true
		return
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
