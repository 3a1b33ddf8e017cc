package upload

import (
	"context"
	"time"
)

type Status string

const (
	StatusUploading Status = "uploading"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// TrackedFile is the manager's record of one file's upload lifecycle.
type TrackedFile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	MediaType   string    `json:"media_type"`
	Preview     string    `json:"preview,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	Error       string    `json:"error,omitempty"`

	payload Handle
	attempt int
}

// Payload returns the handle the file was accepted with.
func (f TrackedFile) Payload() Handle { return f.payload }

// Terminal reports whether the file reached completed or error.
func (f TrackedFile) Terminal() bool {
	return f.Status == StatusCompleted || f.Status == StatusError
}

type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Uploading int `json:"uploading"`
	Errored   int `json:"error"`
}

// Transport moves one payload to its destination. report may be called any
// number of times with a percentage in [0,100]; the manager ignores values that
// would move progress backwards or arrive after the attempt has settled.
type Transport interface {
	Upload(ctx context.Context, id string, h Handle, report func(percent int)) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, id string, h Handle, report func(percent int)) error

func (f TransportFunc) Upload(ctx context.Context, id string, h Handle, report func(percent int)) error {
	return f(ctx, id, h, report)
}

type Options struct {
	MaxFileSizeMB      int
	AcceptedExtensions []string
	MaxFiles           int
	OnUploadComplete   func(batch []TrackedFile)
	OnUploadError      func(msg string)
	Transport          Transport
	// TransferTimeout bounds a single attempt; zero disables it.
	TransferTimeout time.Duration
}

const (
	DefaultMaxFileSizeMB = 10
	DefaultMaxFiles      = 10
	bytesPerMB           = 1024 * 1024
)

// DefaultAcceptedExtensions is used when Options.AcceptedExtensions is empty.
var DefaultAcceptedExtensions = []string{".pdf", ".jpg", ".jpeg", ".png", ".doc", ".docx"}

type EventType string

const (
	EventAdded     EventType = "added"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventRetried   EventType = "retried"
	EventRemoved   EventType = "removed"
	EventCleared   EventType = "cleared"
)

// Event describes a single state transition. File is empty for EventCleared.
type Event struct {
	Type EventType   `json:"type"`
	File TrackedFile `json:"file"`
}
