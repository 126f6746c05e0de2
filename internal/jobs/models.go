package jobs

import "time"

// Status is the lifecycle state of a cloud transcode job.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Job is the persistent record for one cloud transcode. Created in
// processing state at submission; mutated exactly once more, to a terminal
// state, by the webhook handler.
type Job struct {
	ID            string     `json:"id"`
	ProviderJobID string     `json:"providerJobId"`
	Status        Status     `json:"status"`
	SourceCID     string     `json:"sourceCid"`
	Qualities     []int      `json:"qualities"`
	KeepOriginal  bool       `json:"keepOriginal"`
	Requester     string     `json:"requester,omitempty"`
	ResultCID     string     `json:"resultCid,omitempty"`
	ErrorMessage  string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	FailedAt      *time.Time `json:"failedAt,omitempty"`
}

// WebhookPayload is the provider's completion notification. Outputs maps
// output names (relative paths, master playlist at the root) to fetchable
// URLs.
type WebhookPayload struct {
	Event       string            `json:"event"`
	Outputs     map[string]string `json:"outputs"`
	DurationSec float64           `json:"durationSec"`
	Error       string            `json:"error"`
}

// Webhook event kinds.
const (
	EventCompleted = "job.completed"
	EventFailed    = "job.failed"
)
