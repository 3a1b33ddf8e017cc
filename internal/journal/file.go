package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	fileutil "uploaddesk/internal/file"
)

// File keeps each session's history as sessions/<id>/history.json under
// dataDir, rewritten atomically on every record.
type File struct {
	dataDir string

	mu     sync.Mutex
	cache  map[string][]Entry
	closed bool
}

func NewFile(dataDir string) *File {
	if dataDir == "" {
		dataDir = "data"
	}
	return &File{dataDir: dataDir, cache: make(map[string][]Entry)}
}

func (j *File) sessionDir(sessionID string) string {
	return filepath.Join(j.dataDir, "sessions", sessionID)
}

func (j *File) historyPath(sessionID string) string {
	return filepath.Join(j.sessionDir(sessionID), "history.json")
}

func (j *File) Record(_ context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	entries, err := j.loadLocked(e.SessionID)
	if err != nil {
		return err
	}
	next := append(append(make([]Entry, 0, len(entries)+1), entries...), e)
	if err := fileutil.WriteJSONAtomic(j.historyPath(e.SessionID), next); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	j.cache[e.SessionID] = next
	return nil
}

func (j *File) History(_ context.Context, sessionID string) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}
	entries, err := j.loadLocked(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

func (j *File) Forget(_ context.Context, sessionID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.cache, sessionID)
	if err := os.RemoveAll(j.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("remove history: %w", err)
	}
	return nil
}

func (j *File) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	j.cache = nil
	return nil
}

func (j *File) loadLocked(sessionID string) ([]Entry, error) {
	if entries, ok := j.cache[sessionID]; ok {
		return entries, nil
	}
	b, err := os.ReadFile(j.historyPath(sessionID)) //nolint:gosec // path is controlled by application
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	j.cache[sessionID] = entries
	return entries, nil
}
