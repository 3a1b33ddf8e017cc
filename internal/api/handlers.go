package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"uploaddesk/internal/archive"
	"uploaddesk/internal/journal"
	"uploaddesk/internal/preview"
	"uploaddesk/internal/session"
	"uploaddesk/internal/surface"
	"uploaddesk/internal/upload"
)

const (
	apiBase          = "/api/v1"
	filesField       = "files"
	sourceDrop       = "drop"
	bytesPerMB       = 1024 * 1024
	multipartSlackMB = 1
	keepAlive        = 15 * time.Second
)

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type submitResponse struct {
	Accepted []upload.TrackedFile `json:"accepted"`
	Error    string               `json:"error,omitempty"`
}

type historyResponse struct {
	SessionID string          `json:"session_id"`
	Entries   []journal.Entry `json:"entries"`
}

type dragRequest struct {
	Event string `json:"event" binding:"required"`
}

type healthResponse struct {
	Status        string `json:"status"`
	Sessions      int    `json:"sessions"`
	TransportBusy bool   `json:"transport_busy"`
}

type API struct {
	registry *session.Registry
}

func NewAPI(registry *session.Registry) *API {
	return &API{registry: registry}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group(apiBase)
	{
		api.GET("/health", a.Health)
		api.POST("/sessions", a.CreateSession)
		api.GET("/sessions/:id", a.GetSession)
		api.DELETE("/sessions/:id", a.DeleteSession)
		api.POST("/sessions/:id/drag", a.Drag)
		api.POST("/sessions/:id/files", a.SubmitFiles)
		api.DELETE("/sessions/:id/files", a.ClearFiles)
		api.DELETE("/sessions/:id/files/:fid", a.RemoveFile)
		api.POST("/sessions/:id/files/:fid/retry", a.RetryFile)
		api.GET("/sessions/:id/files/:fid/download", a.DownloadFile)
		api.GET("/sessions/:id/files/:fid/preview", a.PreviewFile)
		api.GET("/sessions/:id/archive", a.DownloadArchive)
		api.GET("/sessions/:id/stats", a.GetStats)
		api.GET("/sessions/:id/history", a.GetHistory)
		api.GET("/sessions/:id/events", a.Events)
	}
}

// CreateSession opens a new upload session
func (a *API) CreateSession(c *gin.Context) {
	if a.registry.IsFull() {
		log.Warn().Msg("rejecting session creation: registry is full")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": session.ErrTooManySessions.Error()})
		return
	}
	sess, err := a.registry.Create()
	if err != nil {
		log.Warn().Err(err).Msg("rejecting session creation")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, createSessionResponse{SessionID: sess.ID})
}

func (a *API) GetSession(c *gin.Context) {
	if sess, ok := a.session(c); ok {
		c.JSON(http.StatusOK, sess.View())
	}
}

func (a *API) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := a.registry.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// SubmitFiles accepts a multipart batch under the "files" field. A form value
// source=drop marks the batch as dropped rather than picked.
func (a *API) SubmitFiles(c *gin.Context) {
	sess, ok := a.session(c)
	if !ok {
		return
	}
	handles, status, err := readHandles(c, sess.Manager())
	if err != nil {
		log.Warn().Str("session_id", sess.ID).Err(err).Msg("invalid upload request")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	accepted, err := sess.Submit(handles, c.PostForm("source") == sourceDrop)
	resp := submitResponse{Accepted: accepted}
	if resp.Accepted == nil {
		resp.Accepted = []upload.TrackedFile{}
	}
	if err != nil {
		resp.Error = err.Error()
		if len(accepted) == 0 {
			c.JSON(http.StatusBadRequest, resp)
			return
		}
	}
	log.Info().Str("session_id", sess.ID).Int("accepted", len(accepted)).Msg("files submitted")
	c.JSON(http.StatusAccepted, resp)
}

// readHandles buffers the request's files so their payloads outlive the
// request. Oversized files are passed through unread so validation reports them.
func readHandles(c *gin.Context, m *upload.Manager) ([]upload.Handle, int, error) {
	limit := int64(m.MaxFileSizeMB()) * bytesPerMB
	maxBody := 2*int64(m.MaxFiles())*limit + multipartSlackMB*bytesPerMB
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, errors.New("request too large")
		}
		return nil, http.StatusBadRequest, errors.New("expected multipart form with files")
	}
	return buildHandles(form.File[filesField], limit)
}

func buildHandles(headers []*multipart.FileHeader, limit int64) ([]upload.Handle, int, error) {
	handles := make([]upload.Handle, 0, len(headers))
	for _, fh := range headers {
		h, err := surface.FromFileHeader(fh, limit)
		if err != nil {
			return nil, http.StatusBadRequest, err
		}
		handles = append(handles, h)
	}
	return handles, http.StatusOK, nil
}

func (a *API) ClearFiles(c *gin.Context) {
	if sess, ok := a.session(c); ok {
		sess.Surface().Clear()
		c.Status(http.StatusNoContent)
	}
}

// RemoveFile drops one file; unknown file ids are not an error.
func (a *API) RemoveFile(c *gin.Context) {
	if sess, ok := a.session(c); ok {
		sess.Surface().Remove(c.Param("fid"))
		c.Status(http.StatusNoContent)
	}
}

func (a *API) RetryFile(c *gin.Context) {
	sess, ok := a.session(c)
	if !ok {
		return
	}
	fid := c.Param("fid")
	if err := sess.Surface().Retry(fid); err != nil {
		status := http.StatusConflict
		if errors.Is(err, upload.ErrFileNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	f, _ := sess.Manager().File(fid)
	c.JSON(http.StatusAccepted, f)
}

// DownloadFile serves the payload through a temp file that is removed once
// the response is written. inline=1 asks for inline disposition.
func (a *API) DownloadFile(c *gin.Context) {
	sess, ok := a.session(c)
	if !ok {
		return
	}
	fid := c.Param("fid")
	err := sess.Surface().WithDownload(fid, func(path string, f upload.TrackedFile) error {
		c.Header("X-Content-Type-Options", "nosniff")
		if c.Query("inline") != "" {
			if mediaType, ok := surface.InlineType(path); ok {
				c.Header("Content-Type", mediaType)
				c.Header("Content-Disposition", "inline")
				c.File(path)
				return nil
			}
			log.Warn().Str("session_id", sess.ID).Str("file_id", f.ID).Str("declared", f.MediaType).Msg("inline download refused, serving attachment")
		}
		c.FileAttachment(path, f.Name)
		return nil
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, upload.ErrFileNotFound) {
			status = http.StatusNotFound
		}
		log.Warn().Str("session_id", sess.ID).Str("file_id", fid).Err(err).Msg("download failed")
		c.JSON(status, gin.H{"error": err.Error()})
	}
}

// DownloadArchive serves a zip of every completed file in the session
func (a *API) DownloadArchive(c *gin.Context) {
	sess, ok := a.session(c)
	if !ok {
		return
	}
	err := sess.Surface().WithArchive(c.Request.Context(), func(path string, results []archive.Result) error {
		log.Info().Str("session_id", sess.ID).Int("entries", len(results)).Msg("serving archive download")
		c.FileAttachment(path, "archive-"+sess.ID+".zip")
		return nil
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, archive.ErrNothingToArchive) {
			status = http.StatusConflict
		}
		log.Warn().Str("session_id", sess.ID).Err(err).Msg("archive not served")
		c.JSON(status, gin.H{"error": err.Error()})
	}
}

// PreviewFile returns the preview fragment for a tracked file.
func (a *API) PreviewFile(c *gin.Context) {
	sess, ok := a.session(c)
	if !ok {
		return
	}
	fid := c.Param("fid")
	desc, err := sess.Surface().Describe(fid, downloadURL(sess.ID, fid)+"?inline=1")
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	rendering := preview.Render(desc)
	c.Header("X-Preview-Kind", string(rendering.Kind))
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(rendering.HTML))
}

// Health reports the session count and whether the shared transport has
// spare capacity
func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:        "ok",
		Sessions:      len(a.registry.List()),
		TransportBusy: a.registry.TransportBusy(),
	})
}

// Drag records a client drag event (enter, over, leave) for the drop zone
func (a *API) Drag(c *gin.Context) {
	sess, ok := a.session(c)
	if !ok {
		return
	}
	var req dragRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Str("session_id", sess.ID).Err(err).Msg("invalid drag request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	state, err := sess.Surface().Drag(req.Event)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"drag_state": state})
}

func (a *API) GetStats(c *gin.Context) {
	if sess, ok := a.session(c); ok {
		c.JSON(http.StatusOK, sess.Surface().Stats())
	}
}

func (a *API) GetHistory(c *gin.Context) {
	sess, ok := a.session(c)
	if !ok {
		return
	}
	entries, err := sess.History(c.Request.Context())
	if err != nil {
		log.Error().Str("session_id", sess.ID).Err(err).Msg("read history failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	c.JSON(http.StatusOK, historyResponse{SessionID: sess.ID, Entries: entries})
}

// Events streams a "snapshot" event with the session view after every state
// transition. The stream ends when the client goes away or the session is deleted.
func (a *API) Events(c *gin.Context) {
	sess, ok := a.session(c)
	if !ok {
		return
	}
	changed := make(chan struct{}, 1)
	unsubscribe := sess.Subscribe(func(upload.Event) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", sess.View())
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-changed:
		case <-ticker.C:
		}
		if _, alive := a.registry.Get(sess.ID); !alive {
			return false
		}
		c.SSEvent("snapshot", sess.View())
		return true
	})
}

func (a *API) session(c *gin.Context) (*session.Session, bool) {
	id := c.Param("id")
	sess, ok := a.registry.Get(id)
	if !ok {
		log.Warn().Str("session_id", id).Msg("session not found")
		c.JSON(http.StatusNotFound, gin.H{"error": session.ErrSessionNotFound.Error()})
	}
	return sess, ok
}

func downloadURL(sessionID, fileID string) string {
	return apiBase + "/sessions/" + sessionID + "/files/" + fileID + "/download"
}
