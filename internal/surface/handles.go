package surface

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"uploaddesk/internal/upload"
)

const octetStream = "application/octet-stream"

// DetectMediaType keeps a declared media type unless it is missing or
// generic, in which case the content is sniffed.
func DetectMediaType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != octetStream {
		return declared
	}
	return mimetype.Detect(data).String()
}

// inlineTypes are the formats browsers render without running scripts.
var inlineTypes = []string{
	"application/pdf",
	"image/png",
	"image/jpeg",
	"image/gif",
	"image/webp",
	"image/bmp",
}

// InlineType sniffs the file at path and reports the media type to serve it
// inline with. Content that is not a plain image or PDF must be downloaded as
// an attachment whatever the client declared at upload time.
func InlineType(path string) (string, bool) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", false
	}
	if !mimetype.EqualsAny(mt.String(), inlineTypes...) {
		return "", false
	}
	return mt.String(), true
}

// FromBytes builds a handle from uploaded bytes.
func FromBytes(name, declaredType string, data []byte) upload.Handle {
	return upload.NewBytesFile(name, DetectMediaType(declaredType, data), data)
}

// oversized reports a size but never buffers its content.
type oversized struct {
	name      string
	mediaType string
	size      int64
}

func (o oversized) Name() string                 { return o.name }
func (o oversized) Size() int64                  { return o.size }
func (o oversized) MediaType() string            { return o.mediaType }
func (o oversized) Open() (io.ReadCloser, error) { return nil, ErrPayloadTooLarge }

// FromFileHeader buffers a multipart file so it outlives the request.
// Files larger than maxBytes are not read; the returned handle only carries
// their size so validation can reject them.
func FromFileHeader(fh *multipart.FileHeader, maxBytes int64) (upload.Handle, error) {
	declared := fh.Header.Get("Content-Type")
	if fh.Size > maxBytes {
		return oversized{name: fh.Filename, mediaType: declared, size: fh.Size}, nil
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return FromBytes(fh.Filename, declared, data), nil
}

type pathFile struct {
	path      string
	size      int64
	mediaType string
}

// OpenPath returns a handle backed by a local file. Content is read on each
// Open, so the file must stay in place until its transfer settles.
func OpenPath(path string) (upload.Handle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect %s: %w", path, err)
	}
	return &pathFile{path: path, size: info.Size(), mediaType: mt.String()}, nil
}

func (p *pathFile) Name() string      { return filepath.Base(p.path) }
func (p *pathFile) Size() int64       { return p.size }
func (p *pathFile) MediaType() string { return p.mediaType }

func (p *pathFile) Open() (io.ReadCloser, error) {
	return os.Open(p.path) //nolint:gosec // caller-supplied path
}
