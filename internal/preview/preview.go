// Package preview maps a file descriptor to the markup used to show it.
// Rendering is a pure function of the descriptor.
package preview

import (
	"bytes"
	"html/template"
	"strings"
)

type Kind string

const (
	KindImage    Kind = "image"
	KindDocument Kind = "document"
	KindFallback Kind = "fallback"
)

const fallbackMessage = "Preview unavailable. Download the file to view it."

// Descriptor is what the renderer needs to know about a file. Preview is an
// inline data URI; URL is a reference the browser can fetch.
type Descriptor struct {
	Name      string
	MediaType string
	Preview   string
	URL       string
}

type Rendering struct {
	Kind    Kind
	Message string
	HTML    template.HTML
}

var documentTypes = map[string]struct{}{
	"application/pdf": {},
}

var fragments = template.Must(template.New("preview").Parse(`
{{define "image"}}<figure class="preview preview-image"><img src="{{.Src}}" alt="{{.Name}}"/><figcaption>{{.Name}}</figcaption></figure>{{end}}
{{define "document"}}<figure class="preview preview-document"><iframe src="{{.Src}}" title="{{.Name}}" width="100%" height="600"></iframe><figcaption>{{.Name}}</figcaption></figure>{{end}}
{{define "fallback"}}<div class="preview preview-fallback"><strong>{{.Name}}</strong><p>{{.Message}}</p>{{if .Download}}<a href="{{.Download}}">Download</a>{{end}}</div>{{end}}
`))

// Render picks the representation for d.
func Render(d Descriptor) Rendering {
	mediaType := baseType(d.MediaType)
	switch {
	case strings.HasPrefix(mediaType, "image/") && (d.Preview != "" || d.URL != ""):
		src := d.Preview
		if src == "" {
			src = d.URL
		}
		return Rendering{Kind: KindImage, HTML: execute("image", d.Name, src, "", "")}
	case isDocument(mediaType) && d.URL != "":
		return Rendering{Kind: KindDocument, HTML: execute("document", d.Name, d.URL, "", "")}
	default:
		return Rendering{Kind: KindFallback, Message: fallbackMessage, HTML: execute("fallback", d.Name, "", fallbackMessage, d.URL)}
	}
}

func isDocument(mediaType string) bool {
	_, ok := documentTypes[mediaType]
	return ok
}

func baseType(mediaType string) string {
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

func execute(name, fileName, src, message, download string) template.HTML {
	var buf bytes.Buffer
	data := struct {
		Name     string
		Src      template.URL
		Message  string
		Download template.URL
	}{
		Name:     fileName,
		Src:      safeURL(src),
		Message:  message,
		Download: safeURL(download),
	}
	if err := fragments.ExecuteTemplate(&buf, name, data); err != nil {
		return template.HTML(template.HTMLEscapeString(fileName)) //nolint:gosec // escaped above
	}
	return template.HTML(buf.String()) //nolint:gosec // produced by html/template
}

// safeURL admits data:image URIs and relative or http(s) references; anything
// else is dropped.
func safeURL(u string) template.URL {
	lower := strings.ToLower(strings.TrimSpace(u))
	switch {
	case lower == "":
		return ""
	case strings.HasPrefix(lower, "data:image/"),
		strings.HasPrefix(lower, "/"),
		strings.HasPrefix(lower, "http://"),
		strings.HasPrefix(lower, "https://"):
		return template.URL(u) //nolint:gosec // scheme checked above
	}
	return ""
}
