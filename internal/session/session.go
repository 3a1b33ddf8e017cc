package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"uploaddesk/internal/journal"
	"uploaddesk/internal/surface"
	"uploaddesk/internal/upload"
)

// Session is one upload form: its own manager, surface and error banner.
type Session struct {
	ID        string
	CreatedAt time.Time

	surface     *surface.Surface
	journal     journal.Journal
	unsubscribe func()

	mu        sync.RWMutex
	lastError string
	lastBatch []upload.TrackedFile
}

// View is the JSON shape of a session.
type View struct {
	ID        string               `json:"id"`
	CreatedAt time.Time            `json:"created_at"`
	Files     []upload.TrackedFile `json:"files"`
	Stats     upload.Stats         `json:"stats"`
	LastError string               `json:"last_error,omitempty"`
	LastBatch []upload.TrackedFile `json:"last_batch,omitempty"`
	MaxFiles  int                  `json:"max_files"`
	DragState surface.DragState    `json:"drag_state"`
}

func (s *Session) Surface() *surface.Surface { return s.surface }

func (s *Session) Manager() *upload.Manager { return s.surface.Manager() }

// Submit clears the previous error banner and forwards handles to the
// surface; dropped selects the drag-and-drop path over the file picker.
func (s *Session) Submit(handles []upload.Handle, dropped bool) ([]upload.TrackedFile, error) {
	s.mu.Lock()
	s.lastError = ""
	s.mu.Unlock()
	if dropped {
		return s.surface.Drop(handles)
	}
	return s.surface.Select(handles)
}

// LastError returns the most recent capacity or validation message.
func (s *Session) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// LastBatch returns the outcome of the most recently joined batch.
func (s *Session) LastBatch() []upload.TrackedFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]upload.TrackedFile(nil), s.lastBatch...)
}

// View leaves image previews out; they are fetched per file from the
// preview route so snapshots stay small.
func (s *Session) View() View {
	return View{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		Files:     withoutPreviews(s.surface.Snapshot()),
		Stats:     s.surface.Stats(),
		LastError: s.LastError(),
		LastBatch: withoutPreviews(s.LastBatch()),
		MaxFiles:  s.Manager().MaxFiles(),
		DragState: s.surface.DragState(),
	}
}

func withoutPreviews(files []upload.TrackedFile) []upload.TrackedFile {
	for i := range files {
		files[i].Preview = ""
	}
	return files
}

// Subscribe forwards manager transitions to fn until the returned func is called.
func (s *Session) Subscribe(fn func(upload.Event)) func() {
	return s.Manager().Subscribe(fn)
}

func (s *Session) History(ctx context.Context) ([]journal.Entry, error) {
	return s.journal.History(ctx, s.ID)
}

func (s *Session) onUploadError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}

func (s *Session) onUploadComplete(batch []upload.TrackedFile) {
	s.mu.Lock()
	s.lastBatch = batch
	s.mu.Unlock()
	log.Info().Str("session_id", s.ID).Int("files", len(batch)).Msg("batch settled")
}

func (s *Session) record(evt upload.Event) {
	if evt.Type != upload.EventCompleted && evt.Type != upload.EventFailed {
		return
	}
	if err := s.journal.Record(context.Background(), journal.FromFile(s.ID, evt.File)); err != nil {
		log.Warn().Str("session_id", s.ID).Str("file_id", evt.File.ID).Err(err).Msg("journal record failed")
	}
}
