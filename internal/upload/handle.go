package upload

import (
	"bytes"
	"io"
)

// Handle is a raw file supplied by the user: bytes plus name, size and media type.
type Handle interface {
	Name() string
	Size() int64
	MediaType() string
	Open() (io.ReadCloser, error)
}

type bytesFile struct {
	name      string
	mediaType string
	data      []byte
}

// NewBytesFile returns an in-memory Handle. The slice must not be modified afterwards.
func NewBytesFile(name, mediaType string, data []byte) Handle {
	return &bytesFile{name: name, mediaType: mediaType, data: data}
}

func (f *bytesFile) Name() string      { return f.name }
func (f *bytesFile) Size() int64       { return int64(len(f.data)) }
func (f *bytesFile) MediaType() string { return f.mediaType }

func (f *bytesFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}
