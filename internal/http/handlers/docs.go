package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/prdsmith-backend/internal/http/response"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
	"github.com/yungbote/prdsmith-backend/internal/services"
)

type DocsHandler struct {
	log            *logger.Logger
	ingest         services.IngestService
	docs           services.DocsService
	maxUploadBytes int64
}

func NewDocsHandler(log *logger.Logger, ingest services.IngestService, docs services.DocsService, maxUploadBytes int64) *DocsHandler {
	return &DocsHandler{
		log:            log.With("handler", "DocsHandler"),
		ingest:         ingest,
		docs:           docs,
		maxUploadBytes: maxUploadBytes,
	}
}

// POST /api/docs/upload (multipart: file, session_id, chunk_size)
func (h *DocsHandler) Upload(c *gin.Context) {
	file, err := readUpload(c, h.maxUploadBytes)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	chunkSize, err := parseChunkSize(c.PostForm("chunk_size"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	res, err := h.ingest.Upload(c.Request.Context(), services.UploadInput{
		SessionID:   c.PostForm("session_id"),
		Filename:    file.Filename,
		ContentType: file.ContentType,
		Data:        file.Data,
		ChunkSize:   chunkSize,
	})
	if err != nil {
		h.log.Warn("upload rejected", "filename", file.Filename, "error", err)
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// GET /api/docs/status?task_id=|session_id=
func (h *DocsHandler) Status(c *gin.Context) {
	taskID, _, err := parseInt64("task_id", c.Query("task_id"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	st, err := h.docs.Status(c.Request.Context(), taskID, c.Query("session_id"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, st)
}

// GET /api/docs/summaries?session_id=
func (h *DocsHandler) Summaries(c *gin.Context) {
	list, err := h.docs.Summaries(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, list)
}

// GET /api/docs/cumulative?session_id=
func (h *DocsHandler) Cumulative(c *gin.Context) {
	doc, err := h.docs.Cumulative(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, doc)
}

// GET /api/docs/download/original?session_id=&filename=
func (h *DocsHandler) DownloadOriginal(c *gin.Context) {
	f, err := h.docs.OriginalFile(c.Request.Context(), c.Query("session_id"), c.Query("filename"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	serveDownload(c, f)
}

// GET /api/docs/download/cumulative?session_id=
func (h *DocsHandler) DownloadCumulative(c *gin.Context) {
	f, err := h.docs.CumulativeFile(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	serveDownload(c, f)
}

// GET /api/docs/tasks?session_id=&status=&limit=
func (h *DocsHandler) ListTasks(c *gin.Context) {
	limit, _, err := parseInt64("limit", c.Query("limit"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	tasks, err := h.docs.ListTasks(c.Request.Context(), c.Query("session_id"), strings.TrimSpace(c.Query("status")), int(limit))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"tasks": tasks})
}

type requeueReq struct {
	TaskID int64 `json:"task_id"`
}

// POST /api/docs/requeue {task_id}
func (h *DocsHandler) Requeue(c *gin.Context) {
	var req requeueReq
	if isJSON(c) {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	} else {
		id, _, err := parseInt64("task_id", c.PostForm("task_id"))
		if err != nil {
			response.RespondAPIError(c, err)
			return
		}
		req.TaskID = id
	}
	st, err := h.docs.Requeue(c.Request.Context(), req.TaskID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, st)
}

func serveDownload(c *gin.Context, f *services.DownloadFile) {
	if f.ContentType != "" {
		c.Header("Content-Type", f.ContentType)
	}
	c.FileAttachment(f.Path, f.Filename)
}
