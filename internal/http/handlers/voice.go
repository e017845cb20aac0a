package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/prdsmith-backend/internal/domain"
	"github.com/yungbote/prdsmith-backend/internal/http/response"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
	"github.com/yungbote/prdsmith-backend/internal/services"
)

type VoiceHandler struct {
	log    *logger.Logger
	ingest services.IngestService
}

func NewVoiceHandler(log *logger.Logger, ingest services.IngestService) *VoiceHandler {
	return &VoiceHandler{log: log.With("handler", "VoiceHandler"), ingest: ingest}
}

type voiceAppendReq struct {
	SessionID string `json:"session_id" form:"session_id"`
	Text      string `json:"text" form:"text"`
	ChunkSize int    `json:"chunk_size" form:"chunk_size"`
}

// POST /api/voice/append accepts JSON or form fields session_id, text, chunk_size.
func (h *VoiceHandler) Append(c *gin.Context) {
	var req voiceAppendReq
	if isJSON(c) {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	} else {
		size, err := parseChunkSize(c.PostForm("chunk_size"))
		if err != nil {
			response.RespondAPIError(c, err)
			return
		}
		req = voiceAppendReq{SessionID: c.PostForm("session_id"), Text: c.PostForm("text"), ChunkSize: size}
	}
	res, err := h.ingest.AppendVoice(c.Request.Context(), services.VoiceInput{
		SessionID: req.SessionID,
		Text:      req.Text,
		ChunkSize: req.ChunkSize,
		Source:    types.SourceVoice,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}
