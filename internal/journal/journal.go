package journal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"uploaddesk/internal/config"
	"uploaddesk/internal/upload"
)

var ErrClosed = errors.New("journal closed")

// Entry is one terminal outcome of a file transfer within a session.
type Entry struct {
	SessionID  string        `json:"session_id"`
	FileID     string        `json:"file_id"`
	Name       string        `json:"name"`
	Size       int64         `json:"size"`
	MediaType  string        `json:"media_type"`
	Status     upload.Status `json:"status"`
	Error      string        `json:"error,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// FromFile builds an entry for f recorded now.
func FromFile(sessionID string, f upload.TrackedFile) Entry {
	return Entry{
		SessionID:  sessionID,
		FileID:     f.ID,
		Name:       f.Name,
		Size:       f.Size,
		MediaType:  f.MediaType,
		Status:     f.Status,
		Error:      f.Error,
		RecordedAt: time.Now().UTC(),
	}
}

// Journal keeps the upload history of sessions. History returns entries in
// the order they were recorded.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	History(ctx context.Context, sessionID string) ([]Entry, error)
	Forget(ctx context.Context, sessionID string) error
	Close() error
}

// Open builds the journal selected in cfg.
func Open(ctx context.Context, cfg config.Journal, dataDir string) (Journal, error) {
	switch cfg.Kind {
	case config.JournalNone, "":
		return Nop{}, nil
	case config.JournalFile:
		dir := cfg.Path
		if dir == "" {
			dir = dataDir
		}
		return NewFile(dir), nil
	case config.JournalSQLite:
		path := cfg.Path
		if path == "" {
			path = filepath.Join(dataDir, "history.db")
		}
		return OpenSQLite(ctx, path)
	default:
		return nil, fmt.Errorf("unknown journal kind %q", cfg.Kind)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error              { return nil }
func (Nop) History(context.Context, string) ([]Entry, error) { return nil, nil }
func (Nop) Forget(context.Context, string) error             { return nil }
func (Nop) Close() error                                     { return nil }
