package progress

import "encoding/json"

// Stage names shared across pipelines. Stages are checkpoints, not an
// exhaustive enum; components may emit their own intermediate stages.
const (
	StageDownloading  = "downloading"
	StageDownloaded   = "downloaded"
	StageTranscoding  = "transcoding"
	StageTranscoded   = "transcoded"
	StagePackaging    = "packaging"
	StageComputingCID = "computing-cid"
	StageChecking     = "checking-primary"
	StageAlreadyPin   = "already-pinned"
	StageUploading    = "uploading"
	StageUploaded     = "uploaded"
	StagePinningLocal = "pinning-local"
	StageWikiUpdate   = "wiki-update"
	StageComplete     = "complete"
	StageError        = "error"
)

// Event is a discrete progress message on a per-request channel. Percent is
// coarse (0-100) and optional: negative values are omitted from the wire
// form. Extra fields are flattened into the JSON object alongside stage and
// message.
type Event struct {
	Stage   string
	Message string
	Percent int
	Extra   map[string]any
}

// NewEvent builds an event without a percentage.
func NewEvent(stage, message string) Event {
	return Event{Stage: stage, Message: message, Percent: -1}
}

// NewPercentEvent builds an event carrying a coarse percentage.
func NewPercentEvent(stage, message string, percent int) Event {
	return Event{Stage: stage, Message: message, Percent: percent}
}

// MarshalJSON flattens Extra into the top-level object.
func (e Event) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Extra)+3)
	for k, v := range e.Extra {
		obj[k] = v
	}
	obj["stage"] = e.Stage
	if e.Message != "" {
		obj["message"] = e.Message
	}
	if e.Percent >= 0 {
		obj["progress"] = e.Percent
	}
	return json.Marshal(obj)
}

// Sink receives ordered progress events for one request. Implementations
// must tolerate publishes after the consumer has gone away; event delivery is
// always best-effort and never fails the pipeline.
type Sink interface {
	Publish(event Event)
}

// Nop is a sink that discards all events.
type Nop struct{}

func (Nop) Publish(Event) {}

// Func adapts a function to the Sink interface.
type Func func(Event)

func (f Func) Publish(event Event) { f(event) }
