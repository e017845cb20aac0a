package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/prdsmith-backend/internal/http/response"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
	"github.com/yungbote/prdsmith-backend/internal/services"
)

type ChatHandler struct {
	log            *logger.Logger
	chat           services.ChatService
	maxUploadBytes int64
}

func NewChatHandler(log *logger.Logger, chat services.ChatService, maxUploadBytes int64) *ChatHandler {
	return &ChatHandler{
		log:            log.With("handler", "ChatHandler"),
		chat:           chat,
		maxUploadBytes: maxUploadBytes,
	}
}

// POST /api/chat {message, session_id?}
func (h *ChatHandler) Send(c *gin.Context) {
	var req services.ChatInput
	if isJSON(c) {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	} else {
		req = services.ChatInput{SessionID: c.PostForm("session_id"), Message: c.PostForm("message")}
	}
	reply, err := h.chat.Send(c.Request.Context(), req)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, reply)
}

// POST /api/chat/import (multipart: file, session_id, chunk_size)
func (h *ChatHandler) Import(c *gin.Context) {
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
	res, err := h.chat.Import(c.Request.Context(), services.ChatImportInput{
		SessionID:   c.PostForm("session_id"),
		Filename:    file.Filename,
		ContentType: file.ContentType,
		Data:        file.Data,
		ChunkSize:   chunkSize,
	})
	if err != nil {
		h.log.Warn("chat import failed", "filename", file.Filename, "error", err)
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}
