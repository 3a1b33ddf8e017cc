package transport

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"uploaddesk/internal/upload"
)

const defaultHTTPTimeout = 5 * time.Minute

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// HTTP streams each payload as a multipart/form-data POST to Endpoint.
type HTTP struct {
	endpoint  string
	fieldName string
	client    *http.Client
}

func NewHTTP(endpoint, fieldName string, client *http.Client) *HTTP {
	if fieldName == "" {
		fieldName = "file"
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTP{endpoint: endpoint, fieldName: fieldName, client: client}
}

func (t *HTTP) Upload(ctx context.Context, id string, h upload.Handle, report func(int)) error {
	rc, err := h.Open()
	if err != nil {
		return fmt.Errorf("open payload: %w", err)
	}
	defer func() { _ = rc.Close() }()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(t.writeBody(ctx, mw, id, h, rc, report))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Upload-Id", id)

	resp, err := t.client.Do(req)
	if err != nil {
		_ = pr.CloseWithError(err)
		return fmt.Errorf("post %s: %w", h.Name(), err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload %s: http %d", h.Name(), resp.StatusCode)
	}
	return nil
}

func (t *HTTP) writeBody(ctx context.Context, mw *multipart.Writer, id string, h upload.Handle, body io.Reader, report func(int)) error {
	if err := mw.WriteField("id", id); err != nil {
		return err
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(t.fieldName), quoteEscaper.Replace(h.Name())))
	contentType := h.MediaType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, newProgressReader(ctx, body, h.Size(), report)); err != nil {
		return err
	}
	return mw.Close()
}

func clientWithTimeout(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}
