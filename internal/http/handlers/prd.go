package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/prdsmith-backend/internal/http/response"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
	"github.com/yungbote/prdsmith-backend/internal/services"
)

type PRDHandler struct {
	log *logger.Logger
	prd services.PRDService
}

func NewPRDHandler(log *logger.Logger, prd services.PRDService) *PRDHandler {
	return &PRDHandler{log: log.With("handler", "PRDHandler"), prd: prd}
}

// GET /api/prd/list
func (h *PRDHandler) List(c *gin.Context) {
	recs, err := h.prd.List(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, recs)
}

// GET /api/prd/latest?session_id=
func (h *PRDHandler) Latest(c *gin.Context) {
	latest, err := h.prd.Latest(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, latest)
}

// GET /api/prd/download/:id
func (h *PRDHandler) Download(c *gin.Context) {
	id, ok, err := parseInt64("id", c.Param("id"))
	if err == nil && !ok {
		err = errMissingID
	}
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	f, err := h.prd.Download(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	serveDownload(c, f)
}

type finalizeReq struct {
	SessionID string `json:"session_id" form:"session_id"`
}

// POST /api/prd/finalize {session_id}
func (h *PRDHandler) Finalize(c *gin.Context) {
	var req finalizeReq
	if isJSON(c) {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	} else {
		req.SessionID = c.PostForm("session_id")
		if req.SessionID == "" {
			req.SessionID = c.Query("session_id")
		}
	}
	res, err := h.prd.Finalize(c.Request.Context(), strings.TrimSpace(req.SessionID))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	h.log.Info("prd finalized",
		"session_id", req.SessionID,
		"folded_chunks", res.FoldedChunks,
		"fallback", res.Fallback,
		"unchanged", res.Unchanged,
	)
	response.RespondOK(c, res)
}
