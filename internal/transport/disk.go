package transport

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	fileutil "uploaddesk/internal/file"
	"uploaddesk/internal/upload"

	"github.com/rs/zerolog/log"
)

// Disk stores payloads under Dir/<id>/<name>, writing each one atomically.
type Disk struct {
	dir string
}

func NewDisk(dir string) *Disk {
	if dir == "" {
		dir = "data/files"
	}
	return &Disk{dir: dir}
}

// Path returns where the payload for id is stored.
func (d *Disk) Path(id, name string) string {
	return filepath.Join(d.dir, filepath.Base(id), safeName(name))
}

func (d *Disk) Upload(ctx context.Context, id string, h upload.Handle, report func(int)) error {
	rc, err := h.Open()
	if err != nil {
		return fmt.Errorf("open payload: %w", err)
	}
	defer func() { _ = rc.Close() }()

	dest := d.Path(id, h.Name())
	written, err := fileutil.CopyAtomic(dest, newProgressReader(ctx, rc, h.Size(), report))
	if err != nil {
		return fmt.Errorf("store %s: %w", h.Name(), err)
	}
	log.Debug().Str("file_id", id).Str("path", dest).Int64("bytes", written).Msg("payload stored on disk")
	return nil
}

// safeName strips directories and characters that are awkward in file names.
func safeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	base = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, strings.ContainsRune(`<>:"/\|?*`, r):
			return '-'
		}
		return r
	}, base)
	if base == "" || base == "." || base == ".." {
		return "unnamed"
	}
	return base
}
