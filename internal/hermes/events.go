package hermes

import "time"

// Subjects used by corpusd.
const (
	SubjectScanRequested = "corpus.scan.requested"
	SubjectScanCompleted = "corpus.scan.completed"
	SubjectScanFailed    = "corpus.scan.failed"
	SubjectFileChanged   = "corpus.file.changed"
)

// ScanRequested asks a running server to rescan its corpus. Trigger is
// optional and recorded on the resulting events.
type ScanRequested struct {
	Trigger string `json:"trigger,omitempty"`
}

// ScanCompleted is published after every successful scan.
type ScanCompleted struct {
	ScanID        string    `json:"scan_id"`
	Trigger       string    `json:"trigger"`
	Root          string    `json:"root"`
	Conversations int       `json:"conversations"`
	Inbound       int       `json:"inbound"`
	Outbound      int       `json:"outbound"`
	Slots         int       `json:"slots"`
	DurationMS    int64     `json:"duration_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// ScanFailed is published when a scan ends in a pipeline error.
type ScanFailed struct {
	ScanID    string    `json:"scan_id"`
	Trigger   string    `json:"trigger"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Detail    any       `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// FileChanged is published when a file under the corpus root changes.
type FileChanged struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}
