package surface

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"uploaddesk/internal/archive"
	fileutil "uploaddesk/internal/file"
	"uploaddesk/internal/preview"
	"uploaddesk/internal/upload"
)

type DragState string

const (
	DragIdle   DragState = "idle"
	DragActive DragState = "drag-active"
)

// Surface collects handles from drops or the file picker, forwards them to
// the manager and exposes the manager's snapshot for rendering.
type Surface struct {
	manager *upload.Manager
	tempDir string

	mu   sync.Mutex
	drag DragState
}

// New wraps manager. Download temp files are created under tempDir, or the
// OS temp dir when empty.
func New(manager *upload.Manager, tempDir string) *Surface {
	return &Surface{manager: manager, tempDir: tempDir, drag: DragIdle}
}

func (s *Surface) Manager() *upload.Manager { return s.manager }

func (s *Surface) DragEnter() { s.setDrag(DragActive) }
func (s *Surface) DragOver()  { s.setDrag(DragActive) }
func (s *Surface) DragLeave() { s.setDrag(DragIdle) }

// Drag applies a named drag event (enter, over or leave) reported by a client.
func (s *Surface) Drag(event string) (DragState, error) {
	switch event {
	case "enter":
		s.DragEnter()
	case "over":
		s.DragOver()
	case "leave":
		s.DragLeave()
	default:
		return s.DragState(), fmt.Errorf("%w: %q", ErrUnknownDragEvent, event)
	}
	return s.DragState(), nil
}

func (s *Surface) DragState() DragState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drag
}

func (s *Surface) setDrag(state DragState) {
	s.mu.Lock()
	s.drag = state
	s.mu.Unlock()
}

// Drop ends a drag and submits the dropped files.
func (s *Surface) Drop(handles []upload.Handle) ([]upload.TrackedFile, error) {
	s.setDrag(DragIdle)
	return s.Select(handles)
}

// Select submits files chosen with the file picker.
func (s *Surface) Select(handles []upload.Handle) ([]upload.TrackedFile, error) {
	return s.manager.Submit(handles)
}

func (s *Surface) Remove(id string) { s.manager.RemoveFile(id) }

func (s *Surface) Retry(id string) error {
	return s.manager.RetryUpload(id)
}

func (s *Surface) Clear() { s.manager.ClearAllFiles() }

// Snapshot returns the tracked files in submission order.
func (s *Surface) Snapshot() []upload.TrackedFile { return s.manager.Files() }

func (s *Surface) Stats() upload.Stats { return s.manager.Stats() }

// WithDownload materializes the payload of id as a temp file, hands its path
// to fn and removes the file once fn returns, whatever the outcome.
func (s *Surface) WithDownload(id string, fn func(path string, f upload.TrackedFile) error) error {
	f, ok := s.manager.File(id)
	if !ok || f.Payload() == nil {
		return upload.ErrFileNotFound
	}
	rc, err := f.Payload().Open()
	if err != nil {
		return fmt.Errorf("open payload: %w", err)
	}
	defer func() { _ = rc.Close() }()

	path, release, err := fileutil.TempCopy(s.tempDir, "download-*", rc)
	if err != nil {
		return err
	}
	defer release()
	return fn(path, f)
}

// WithArchive zips every completed payload into a temp file, hands its path
// to fn and removes the file once fn returns.
func (s *Surface) WithArchive(ctx context.Context, fn func(path string, results []archive.Result) error) error {
	dir := s.tempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := fileutil.EnsureDir(dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "archive-*.zip")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	path := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(path) }()

	results, err := archive.BuildArchive(ctx, path, s.manager.Files())
	if err != nil {
		return err
	}
	return fn(path, results)
}

// Describe builds the preview descriptor for id; url is the download
// reference the renderer may embed.
func (s *Surface) Describe(id, url string) (preview.Descriptor, error) {
	f, ok := s.manager.File(id)
	if !ok {
		return preview.Descriptor{}, upload.ErrFileNotFound
	}
	return preview.Descriptor{
		Name:      f.Name,
		MediaType: f.MediaType,
		Preview:   f.Preview,
		URL:       url,
	}, nil
}

var ErrUnknownDragEvent = errors.New("unknown drag event")

// ErrPayloadTooLarge is returned by Open on handles whose content was not
// buffered because it already exceeded the size limit.
var ErrPayloadTooLarge = errors.New("payload exceeds size limit")
