package task

// Kind tells the pipeline whether a job produces a video or an audio file.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// State is the lifecycle state of a job.
type State string

const (
	StatePending     State = "pending"
	StateDownloading State = "downloading"
	StateProcessing  State = "processing"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is the immutable description of one submitted request. It is built
// once at submission and never mutated; all mutable state lives in Status.
type Job struct {
	ID        string
	URL       string
	Kind      Kind
	Format    string
	Quality   string
	TrimStart string
	TrimEnd   string

	// Explicit stream picks, e.g. "720p" / "128kbps". Unparseable values
	// are ignored and the quality-based selection applies.
	SelectedVideoFormat string
	SelectedAudioFormat string
}

// Status is the single caller-visible record for a job. It is a value type
// on purpose: every update replaces the whole record in the store, so a
// concurrent reader can never observe a half-written mix of fields.
type Status struct {
	State       State  `json:"status"`
	Progress    int    `json:"progress"`
	Message     string `json:"message,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	Error       string `json:"error,omitempty"`
}
