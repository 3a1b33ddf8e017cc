package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	fileutil "uploaddesk/internal/file"
	"uploaddesk/internal/upload"
)

var ErrNothingToArchive = errors.New("no completed files to archive")

// Result describes outcome of writing a single file into the zip
type Result struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	Err      string `json:"error,omitempty"`
}

// BuildArchive writes the payloads of the completed files into a zip at
// destZipPath. Files in any other state are skipped. The returned results
// follow the order of the written entries; a failed entry keeps its Err and
// is left out of the archive.
func BuildArchive(ctx context.Context, destZipPath string, files []upload.TrackedFile) ([]Result, error) {
	completed := make([]upload.TrackedFile, 0, len(files))
	for _, f := range files {
		if f.Status == upload.StatusCompleted && f.Payload() != nil {
			completed = append(completed, f)
		}
	}
	if len(completed) == 0 {
		return nil, ErrNothingToArchive
	}

	zipFile, err := createFile(destZipPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = zipFile.Close() }()
	zipWriter := zip.NewWriter(zipFile)
	defer func() { _ = zipWriter.Close() }()

	used := make(map[string]bool, len(completed))
	results := make([]Result, 0, len(completed))
	for _, f := range completed {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("archive cancelled: %w", err)
		}
		results = append(results, processFile(zipWriter, f, entryName(f.Name, used)))
	}

	if err := zipWriter.Close(); err != nil {
		log.Error().Err(err).Msg("closing zip writer failed")
		return results, fmt.Errorf("close zip writer: %w", err)
	}
	if err := zipFile.Close(); err != nil {
		log.Error().Err(err).Msg("closing zip file failed")
		return results, fmt.Errorf("close zip file: %w", err)
	}
	return results, nil
}

func processFile(zipWriter *zip.Writer, f upload.TrackedFile, name string) Result {
	result := Result{FileID: f.ID, Filename: name}

	payload, err := f.Payload().Open()
	if err != nil {
		result.Err = err.Error()
		log.Warn().Str("file_id", f.ID).Err(err).Msg("open payload failed")
		return result
	}
	defer func() { _ = payload.Close() }()

	zipEntryWriter, err := zipWriter.Create(name)
	if err != nil {
		result.Err = err.Error()
		log.Warn().Str("file_id", f.ID).Err(err).Msg("zip entry create failed")
		return result
	}
	if _, err := io.Copy(zipEntryWriter, payload); err != nil {
		result.Err = err.Error()
		log.Warn().Str("file_id", f.ID).Err(err).Msg("copy into zip failed")
	}
	return result
}

// entryName flattens name to its base and suffixes repeats: a.pdf, a (2).pdf, ...
// The returned name is never one already in used.
func entryName(name string, used map[string]bool) string {
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "/" || base == "." || base == "" {
		base = "file"
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	candidate := base
	for n := 2; used[candidate]; n++ {
		candidate = stem + " (" + strconv.Itoa(n) + ")" + ext
	}
	used[candidate] = true
	return candidate
}

// createFile creates or truncates the destination file along with ensuring parent dir exists
func createFile(destinationPath string) (*os.File, error) {
	if err := fileutil.EnsureDir(filepath.Dir(destinationPath)); err != nil {
		return nil, err
	}
	outputFile, err := os.Create(destinationPath) //nolint:gosec // path is constructed by the application
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	return outputFile, nil
}
