package surface

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uploaddesk/internal/archive"
	"uploaddesk/internal/preview"
	"uploaddesk/internal/upload"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func newTestSurface(t *testing.T) *Surface {
	t.Helper()
	m := upload.NewManager(upload.Options{
		Transport: upload.TransportFunc(func(context.Context, string, upload.Handle, func(int)) error {
			return nil
		}),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Wait(ctx)
	})
	return New(m, t.TempDir())
}

func settled(t *testing.T, s *Surface, id string) upload.TrackedFile {
	t.Helper()
	var out upload.TrackedFile
	require.Eventually(t, func() bool {
		f, ok := s.Manager().File(id)
		out = f
		return ok && f.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return out
}

func TestDragStateTransitions(t *testing.T) {
	s := newTestSurface(t)
	assert.Equal(t, DragIdle, s.DragState())

	s.DragEnter()
	assert.Equal(t, DragActive, s.DragState())
	s.DragOver()
	assert.Equal(t, DragActive, s.DragState())
	s.DragLeave()
	assert.Equal(t, DragIdle, s.DragState())

	s.DragEnter()
	accepted, err := s.Drop([]upload.Handle{FromBytes("a.pdf", "application/pdf", []byte("%PDF-1.4"))})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, DragIdle, s.DragState())
}

func TestDragEvents(t *testing.T) {
	s := newTestSurface(t)
	state, err := s.Drag("enter")
	require.NoError(t, err)
	assert.Equal(t, DragActive, state)

	state, err = s.Drag("drop")
	require.ErrorIs(t, err, ErrUnknownDragEvent)
	assert.Equal(t, DragActive, state)

	state, err = s.Drag("leave")
	require.NoError(t, err)
	assert.Equal(t, DragIdle, state)
}

func TestInlineTypeSniffsContent(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, data, 0o600))
		return path
	}

	mediaType, ok := InlineType(write("pic.png", pngHeader))
	assert.True(t, ok)
	assert.Equal(t, "image/png", mediaType)

	mediaType, ok = InlineType(write("doc.pdf", []byte("%PDF-1.4\n")))
	assert.True(t, ok)
	assert.Equal(t, "application/pdf", mediaType)

	_, ok = InlineType(write("report.pdf", []byte("<html><script>alert(1)</script></html>")))
	assert.False(t, ok)

	_, ok = InlineType(write("logo.png", []byte(`<svg xmlns="http://www.w3.org/2000/svg"><script>alert(1)</script></svg>`)))
	assert.False(t, ok)

	_, ok = InlineType(filepath.Join(dir, "missing"))
	assert.False(t, ok)
}

func TestDropOfNothingIsRejected(t *testing.T) {
	s := newTestSurface(t)
	s.DragEnter()
	_, err := s.Drop(nil)
	require.ErrorIs(t, err, upload.ErrNoFiles)
	assert.Equal(t, DragIdle, s.DragState())
	assert.Empty(t, s.Snapshot())
}

func TestSelectRemoveClear(t *testing.T) {
	s := newTestSurface(t)
	accepted, err := s.Select([]upload.Handle{
		FromBytes("a.pdf", "application/pdf", []byte("%PDF-1.4")),
		FromBytes("b.pdf", "application/pdf", []byte("%PDF-1.4")),
	})
	require.NoError(t, err)
	require.Len(t, accepted, 2)
	assert.Equal(t, 2, s.Stats().Total)

	s.Remove(accepted[0].ID)
	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "b.pdf", snap[0].Name)

	s.Clear()
	assert.Empty(t, s.Snapshot())
}

func TestRetryUnknownFile(t *testing.T) {
	s := newTestSurface(t)
	require.ErrorIs(t, s.Retry("missing"), upload.ErrFileNotFound)
}

func TestDownloadRemovesTempFile(t *testing.T) {
	s := newTestSurface(t)
	payload := []byte("%PDF-1.4 body")
	accepted, err := s.Select([]upload.Handle{FromBytes("doc.pdf", "application/pdf", payload)})
	require.NoError(t, err)
	settled(t, s, accepted[0].ID)

	var tempPath string
	err = s.WithDownload(accepted[0].ID, func(path string, f upload.TrackedFile) error {
		tempPath = path
		assert.Equal(t, "doc.pdf", f.Name)
		got, readErr := os.ReadFile(path)
		require.NoError(t, readErr)
		assert.Equal(t, payload, got)
		return nil
	})
	require.NoError(t, err)
	_, statErr := os.Stat(tempPath)
	assert.True(t, os.IsNotExist(statErr))

	entries, err := os.ReadDir(s.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownloadUnknownFile(t *testing.T) {
	s := newTestSurface(t)
	err := s.WithDownload("nope", func(string, upload.TrackedFile) error {
		t.Fatal("callback must not run for unknown files")
		return nil
	})
	require.ErrorIs(t, err, upload.ErrFileNotFound)
}

func TestDescribe(t *testing.T) {
	s := newTestSurface(t)
	img := FromBytes("pic.png", "", pngHeader)
	assert.Equal(t, "image/png", img.MediaType())

	accepted, err := s.Select([]upload.Handle{img})
	require.NoError(t, err)
	d, err := s.Describe(accepted[0].ID, "/files/x")
	require.NoError(t, err)
	assert.Equal(t, "pic.png", d.Name)
	assert.NotEmpty(t, d.Preview)
	assert.Equal(t, preview.KindImage, preview.Render(d).Kind)

	_, err = s.Describe("missing", "")
	require.ErrorIs(t, err, upload.ErrFileNotFound)
}

func TestDetectMediaType(t *testing.T) {
	assert.Equal(t, "application/pdf", DetectMediaType("", []byte("%PDF-1.7\n")))
	assert.Equal(t, "image/png", DetectMediaType("application/octet-stream", pngHeader))
	assert.Equal(t, "image/jpeg", DetectMediaType("image/jpeg", []byte("not really")))
}

func multipartHeader(t *testing.T, name, contentType string, data []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(map[string][]string)
	h["Content-Disposition"] = []string{`form-data; name="files"; filename="` + name + `"`}
	if contentType != "" {
		h["Content-Type"] = []string{contentType}
	}
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	t.Cleanup(func() { _ = req.MultipartForm.RemoveAll() })
	return req.MultipartForm.File["files"][0]
}

func TestFromFileHeaderBuffersContent(t *testing.T) {
	fh := multipartHeader(t, "scan.png", "", pngHeader)
	h, err := FromFileHeader(fh, 1024)
	require.NoError(t, err)
	assert.Equal(t, "scan.png", h.Name())
	assert.Equal(t, int64(len(pngHeader)), h.Size())
	assert.Equal(t, "image/png", h.MediaType())
}

func TestFromFileHeaderOversizedSkipsContent(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 64)
	fh := multipartHeader(t, "big.pdf", "application/pdf", data)
	h, err := FromFileHeader(fh, 16)
	require.NoError(t, err)
	assert.Equal(t, int64(64), h.Size())
	assert.Equal(t, "application/pdf", h.MediaType())
	_, err = h.Open()
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestOpenPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\nbody"), 0o600))

	h, err := OpenPath(path)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", h.Name())
	assert.Equal(t, int64(13), h.Size())
	assert.Equal(t, "application/pdf", h.MediaType())

	_, err = OpenPath(dir)
	require.Error(t, err)
	_, err = OpenPath(filepath.Join(dir, "missing"))
	require.Error(t, err)
}

func TestWithArchive(t *testing.T) {
	s := newTestSurface(t)
	err := s.WithArchive(context.Background(), func(string, []archive.Result) error { return nil })
	require.ErrorIs(t, err, archive.ErrNothingToArchive)

	accepted, err := s.Select([]upload.Handle{
		FromBytes("a.pdf", "application/pdf", []byte("%PDF-1.4 a")),
		FromBytes("b.pdf", "application/pdf", []byte("%PDF-1.4 b")),
	})
	require.NoError(t, err)
	for _, f := range accepted {
		settled(t, s, f.ID)
	}

	var zipPath string
	err = s.WithArchive(context.Background(), func(path string, results []archive.Result) error {
		zipPath = path
		require.Len(t, results, 2)
		info, statErr := os.Stat(path)
		require.NoError(t, statErr)
		assert.Positive(t, info.Size())
		return nil
	})
	require.NoError(t, err)
	_, statErr := os.Stat(zipPath)
	assert.True(t, os.IsNotExist(statErr))
}
