package upload

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// Validate checks a handle against the configured size limit and extension set.
// Only the name and reported size are inspected.
func (m *Manager) Validate(h Handle) error {
	if h.Size() > int64(m.maxFileSizeMB)*bytesPerMB {
		return fmt.Errorf("File size must be less than %dMB", m.maxFileSizeMB)
	}
	if _, ok := m.accepted[extensionOf(h.Name())]; !ok {
		return fmt.Errorf("File type not supported. Accepted types: %s", strings.Join(m.extensions, ", "))
	}
	return nil
}

// extensionOf returns the lowercase suffix after the last '.', dot-prefixed.
// Names without a dot have no extension.
func extensionOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return "." + strings.ToLower(name[i+1:])
}

// NormalizeExtensions lowercases, dot-prefixes and de-duplicates extensions,
// keeping the first occurrence order.
func NormalizeExtensions(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, ext := range in {
		e := strings.ToLower(strings.TrimSpace(ext))
		if e == "" || e == "." {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		normalized = append(normalized, e)
	}
	return normalized
}

func capacityMessage(maxFiles int) string {
	return fmt.Sprintf("Maximum %d files allowed", maxFiles)
}

// IsImage reports whether the media type is an image/* type.
func IsImage(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}

// DataURI reads the handle and encodes it as a base64 data URI. Non-image
// handles yield an empty string.
func DataURI(h Handle) (string, error) {
	if !IsImage(h.MediaType()) {
		return "", nil
	}
	rc, err := h.Open()
	if err != nil {
		return "", fmt.Errorf("open payload: %w", err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read payload: %w", err)
	}
	return "data:" + h.MediaType() + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
