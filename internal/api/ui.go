package api

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"uploaddesk/internal/preview"
	"uploaddesk/internal/session"
	"uploaddesk/internal/upload"
)

var uiFuncs = template.FuncMap{
	"bytes": func(n int64) string {
		if n < 0 {
			n = 0
		}
		return humanize.IBytes(uint64(n))
	},
	"ago":      humanize.Time,
	"download": downloadURL,
}

var uiTemplates = template.Must(template.New("layout").Funcs(uiFuncs).Parse(`{{define "head"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  {{if .Refresh}}<meta http-equiv="refresh" content="1"/>{{end}}
  <title>Uploaddesk</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:880px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    header{margin-bottom:24px}
    h1{font-size:22px;margin:0 0 8px}
    a{color:#0b63e5;text-decoration:none}
    a:hover{text-decoration:underline}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .row{display:flex;gap:12px;flex-wrap:wrap;align-items:center}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:8px 12px;border-radius:8px;cursor:pointer}
    .btn.secondary{background:#444}
    .btn.danger{background:#b3261e}
    input[type=text]{padding:9px 10px;border:1px solid #dcdcdc;border-radius:8px;width:100%}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    .drop{display:block;border:2px dashed #c4c4c4;border-radius:10px;padding:28px;text-align:center;background:#fdfdfd}
    .drop:hover,.drop:focus-within,.drop.active{border-color:#0b63e5;background:#f2f7ff}
    table{width:100%;border-collapse:collapse}
    td,th{padding:6px 4px;border-bottom:1px solid #efefef;text-align:left;font-size:14px}
    .status{display:inline-block;padding:4px 8px;border-radius:6px;background:#efefef;font-size:12px}
    .status.completed{background:#e3f5e6}
    .status.error{background:#fde8e7}
    progress{width:120px}
    .preview img,.preview iframe{max-width:100%}
    .preview iframe{width:100%;height:480px;border:0}
    .banner{border-color:#f2b8b5;background:#fff6f6;white-space:pre-line}
    footer{margin-top:24px;color:#666;font-size:12px}
  </style>
</head>
<body>
  <header>
    <h1><a href="/">Uploaddesk</a></h1>
    <div class="muted">Minimal no-JS helper for API</div>
  </header>
  {{if .Error}}
  <div class="card banner">
    <strong style="color:#b3261e">Error:</strong> <span class="muted">{{.Error}}</span>
  </div>
  {{end}}
{{end}}

{{define "foot"}}
  <footer>
    <div>API base: <span class="mono">/api/v1</span></div>
  </footer>
</body>
</html>
{{end}}

{{define "home"}}
  {{template "head" .}}
  <div class="card">
    <h2>New upload session</h2>
    <form method="post" action="/ui/sessions">
      <button class="btn" type="submit">Create</button>
    </form>
    <div class="muted">POST /api/v1/sessions</div>
  </div>

  <div class="card">
    <h2>Open existing session</h2>
    <form method="get" action="/ui/sessions">
      <div class="row">
        <input type="text" name="id" placeholder="Session ID" required />
        <button class="btn" type="submit">Open</button>
      </div>
    </form>
  </div>

  {{if .Sessions}}
  <div class="card">
    <h2>Active sessions</h2>
    <table>
      <tr><th>Session</th><th>Created</th><th>Files</th><th>Completed</th><th>Errors</th></tr>
      {{range .Sessions}}
      <tr>
        <td><a class="mono" href="/ui/sessions/{{.ID}}">{{.ID}}</a></td>
        <td class="muted">{{ago .CreatedAt}}</td>
        <td>{{.Stats.Total}}</td>
        <td>{{.Stats.Completed}}</td>
        <td>{{.Stats.Errored}}</td>
      </tr>
      {{end}}
    </table>
  </div>
  {{end}}
  {{template "foot" .}}
{{end}}

{{define "session"}}
  {{template "head" .}}
  <div class="card">
    <h2>Session <span class="mono">{{.Session.ID}}</span></h2>
    <div class="muted">Created {{ago .Session.CreatedAt}}</div>
    <div class="row" style="margin-top:8px">
      <span class="status">total {{.Session.Stats.Total}}</span>
      <span class="status">uploading {{.Session.Stats.Uploading}}</span>
      <span class="status completed">completed {{.Session.Stats.Completed}}</span>
      <span class="status error">error {{.Session.Stats.Errored}}</span>
    </div>
  </div>

  <div class="card">
    <form method="post" action="/ui/sessions/{{.Session.ID}}/files" enctype="multipart/form-data">
      <label class="drop{{if eq .Session.DragState "drag-active"}} active{{end}}">
        <div><strong>Drop files here</strong> or click to browse</div>
        <div class="muted">Up to {{.Session.MaxFiles}} files, {{.MaxSizeMB}}MB each ({{.Accept}})</div>
        <input type="file" name="files" multiple accept="{{.Accept}}" style="margin-top:12px"/>
      </label>
      <div style="margin-top:12px"><button class="btn" type="submit">Upload</button>
        <a class="btn secondary" href="/ui/sessions/{{.Session.ID}}" style="margin-left:8px">Refresh</a>
      </div>
    </form>
    <div class="muted">POST /api/v1/sessions/{{.Session.ID}}/files</div>
  </div>

  <div class="card">
    <div class="row" style="justify-content:space-between">
      <h3 style="margin:0">Files</h3>
      {{if .Session.Files}}
      <div class="row">
        {{if .Session.Stats.Completed}}<a class="btn secondary" href="/api/v1/sessions/{{.Session.ID}}/archive">Download zip</a>{{end}}
        <form method="post" action="/ui/sessions/{{.Session.ID}}/clear">
          <button class="btn danger" type="submit">Clear all</button>
        </form>
      </div>
      {{end}}
    </div>
    {{if .Session.Files}}
    <table>
      <tr><th>Name</th><th>Size</th><th>Status</th><th>Progress</th><th></th></tr>
      {{$sid := .Session.ID}}
      {{range .Session.Files}}
      <tr>
        <td><a href="/ui/sessions/{{$sid}}?preview={{.ID}}">{{.Name}}</a></td>
        <td class="muted">{{bytes .Size}}</td>
        <td><span class="status {{.Status}}">{{.Status}}</span>{{if .Error}}<div class="muted">{{.Error}}</div>{{end}}</td>
        <td><progress max="100" value="{{.Progress}}"></progress> {{.Progress}}%</td>
        <td class="row">
          <a href="{{download $sid .ID}}">Download</a>
          {{if eq .Status "error"}}
          <form method="post" action="/ui/sessions/{{$sid}}/files/{{.ID}}/retry"><button class="btn" type="submit">Retry</button></form>
          {{end}}
          <form method="post" action="/ui/sessions/{{$sid}}/files/{{.ID}}/remove"><button class="btn secondary" type="submit">Remove</button></form>
        </td>
      </tr>
      {{end}}
    </table>
    {{else}}
      <div class="muted">No files yet</div>
    {{end}}
  </div>

  {{if .Preview}}
  <div class="card preview">
    <h3>{{.PreviewName}}</h3>
    {{.Preview.HTML}}
  </div>
  {{end}}
  {{template "foot" .}}
{{end}}
`))

type homePage struct {
	Error    string
	Refresh  bool
	Sessions []session.View
}

type sessionPage struct {
	Error       string
	Refresh     bool
	Session     session.View
	Accept      string
	MaxSizeMB   int
	Preview     *preview.Rendering
	PreviewName string
}

// RegisterUIRoutes registers minimal HTML UI without JS
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.GET("/ui/sessions", a.UIOpenExisting)
	router.POST("/ui/sessions", a.UICreateSession)
	router.GET("/ui/sessions/:id", a.UISession)
	router.POST("/ui/sessions/:id/files", a.UISubmit)
	router.POST("/ui/sessions/:id/clear", a.UIClear)
	router.POST("/ui/sessions/:id/files/:fid/retry", a.UIRetry)
	router.POST("/ui/sessions/:id/files/:fid/remove", a.UIRemove)
}

// UIHome renders the home page with the active sessions
func (a *API) UIHome(c *gin.Context) {
	c.HTML(http.StatusOK, "home", a.homePage(""))
}

func (a *API) homePage(errMsg string) homePage {
	sessions := a.registry.List()
	views := make([]session.View, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.View())
	}
	return homePage{Error: errMsg, Sessions: views}
}

// UIOpenExisting redirects to the session page by id
func (a *API) UIOpenExisting(c *gin.Context) {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.Redirect(http.StatusFound, "/ui/sessions/"+id)
}

// UICreateSession creates a session and redirects to its page
func (a *API) UICreateSession(c *gin.Context) {
	sess, err := a.registry.Create()
	if err != nil {
		c.HTML(http.StatusServiceUnavailable, "home", a.homePage("server busy: "+err.Error()))
		return
	}
	c.Redirect(http.StatusFound, "/ui/sessions/"+sess.ID)
}

// UISession renders a session page; ?preview=<file id> adds the preview card
func (a *API) UISession(c *gin.Context) {
	sess, ok := a.uiSession(c)
	if !ok {
		return
	}
	c.HTML(http.StatusOK, "session", a.sessionPage(sess, c.Query("preview"), ""))
}

func (a *API) sessionPage(sess *session.Session, previewID, errMsg string) sessionPage {
	view := sess.View()
	page := sessionPage{
		Error:     errMsg,
		Refresh:   view.Stats.Uploading > 0,
		Session:   view,
		Accept:    strings.Join(sess.Manager().AcceptedExtensions(), ","),
		MaxSizeMB: sess.Manager().MaxFileSizeMB(),
	}
	if page.Error == "" {
		page.Error = view.LastError
	}
	if previewID != "" {
		if desc, err := sess.Surface().Describe(previewID, downloadURL(sess.ID, previewID)+"?inline=1"); err == nil {
			rendering := preview.Render(desc)
			page.Preview = &rendering
			page.PreviewName = desc.Name
		}
	}
	return page
}

// UISubmit uploads files from the drop zone form and redirects back
func (a *API) UISubmit(c *gin.Context) {
	sess, ok := a.uiSession(c)
	if !ok {
		return
	}
	handles, status, err := readHandles(c, sess.Manager())
	if err == nil {
		_, err = sess.Submit(handles, false)
		status = http.StatusBadRequest
	}
	// capacity and validation failures are shown through the session banner
	if err != nil && !errors.Is(err, upload.ErrTooManyFiles) && !errors.Is(err, upload.ErrValidation) {
		c.HTML(status, "session", a.sessionPage(sess, "", err.Error()))
		return
	}
	c.Redirect(http.StatusFound, "/ui/sessions/"+sess.ID)
}

func (a *API) UIClear(c *gin.Context) {
	if sess, ok := a.uiSession(c); ok {
		sess.Surface().Clear()
		c.Redirect(http.StatusFound, "/ui/sessions/"+sess.ID)
	}
}

func (a *API) UIRetry(c *gin.Context) {
	sess, ok := a.uiSession(c)
	if !ok {
		return
	}
	if err := sess.Surface().Retry(c.Param("fid")); err != nil {
		c.HTML(http.StatusConflict, "session", a.sessionPage(sess, "", err.Error()))
		return
	}
	c.Redirect(http.StatusFound, "/ui/sessions/"+sess.ID)
}

func (a *API) UIRemove(c *gin.Context) {
	if sess, ok := a.uiSession(c); ok {
		sess.Surface().Remove(c.Param("fid"))
		c.Redirect(http.StatusFound, "/ui/sessions/"+sess.ID)
	}
}

func (a *API) uiSession(c *gin.Context) (*session.Session, bool) {
	sess, ok := a.registry.Get(c.Param("id"))
	if !ok {
		c.HTML(http.StatusNotFound, "home", a.homePage("session not found"))
	}
	return sess, ok
}
