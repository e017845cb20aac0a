package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	types "github.com/yungbote/prdsmith-backend/internal/domain"
	"github.com/yungbote/prdsmith-backend/internal/http/response"
	"github.com/yungbote/prdsmith-backend/internal/modules/asr"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
	"github.com/yungbote/prdsmith-backend/internal/platform/sessionfs"
	"github.com/yungbote/prdsmith-backend/internal/services"
)

const (
	wsWriteWait     = 10 * time.Second
	wsMaxFrameBytes = 1 << 20
	asrAppendWait   = 30 * time.Second
)

type asrControl struct {
	Action string `json:"action"`
}

// asrFrame is everything the server writes besides relay events.
type asrFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	TaskID    int64  `json:"task_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
}

type ASRHandler struct {
	log      *logger.Logger
	relay    *asr.Relay
	ingest   services.IngestService
	upgrader websocket.Upgrader
}

// NewASRHandler accepts browser origins from the list; an empty list or "*"
// accepts any origin.
func NewASRHandler(log *logger.Logger, relay *asr.Relay, ingest services.IngestService, origins []string) *ASRHandler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	return &ASRHandler{
		log:    log.With("handler", "ASRHandler"),
		relay:  relay,
		ingest: ingest,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 << 10,
			WriteBufferSize: 32 << 10,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
			},
		},
	}
}

// GET /ws/asr?session_id=&language=
//
// Binary frames carry audio. A text frame {"action":"stop"} ends the stream.
// The server writes relay events as JSON and, once the recognizer closes,
// appends the final transcript to the session as a voice task.
func (h *ASRHandler) Stream(c *gin.Context) {
	if h.relay == nil {
		response.RespondError(c, http.StatusServiceUnavailable, "speech_unavailable", errors.New("speech recognition is not configured"))
		return
	}
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		sessionID = uuid.New().String()
	} else if err := sessionfs.ValidateSegment(sessionID); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(wsMaxFrameBytes)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sess, err := h.relay.Start(ctx, c.Query("language"))
	if err != nil {
		h.log.Error("speech stream open failed", "session_id", sessionID, "error", err)
		_ = h.write(ws, asrFrame{Type: string(asr.EventError), Error: err.Error()})
		return
	}
	h.log.Info("speech stream started", "session_id", sessionID)
	if err := h.write(ws, asrFrame{Type: "ready", SessionID: sessionID}); err != nil {
		sess.Abort()
		drain(sess)
		return
	}

	go h.readLoop(ws, sess)

	clientGone := false
	for ev := range sess.Events() {
		if clientGone {
			continue
		}
		if err := h.write(ws, ev); err != nil {
			h.log.Debug("websocket write failed", "session_id", sessionID, "error", err)
			clientGone = true
			sess.Stop()
		}
	}

	text := sess.Transcript()
	if text == "" {
		if !clientGone {
			_ = h.write(ws, asrFrame{Type: "done", SessionID: sessionID})
		}
		return
	}
	actx, acancel := context.WithTimeout(context.WithoutCancel(ctx), asrAppendWait)
	defer acancel()
	res, err := h.ingest.AppendVoice(actx, services.VoiceInput{
		SessionID: sessionID,
		Text:      text,
		Source:    types.SourceASR,
	})
	if err != nil {
		h.log.Error("transcript append failed", "session_id", sessionID, "error", err)
		if !clientGone {
			_ = h.write(ws, asrFrame{Type: string(asr.EventError), SessionID: sessionID, Error: err.Error()})
		}
		return
	}
	h.log.Info("transcript appended", "session_id", sessionID, "task_id", res.TaskID, "chunks", res.TotalChunks)
	if !clientGone {
		_ = h.write(ws, asrFrame{Type: "appended", SessionID: sessionID, TaskID: res.TaskID, Text: text})
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
	}
}

// readLoop forwards audio until the client stops or disconnects. It is the
// only reader of ws.
func (h *ASRHandler) readLoop(ws *websocket.Conn, sess *asr.Session) {
	defer sess.Stop()
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			if err := sess.Write(data); err != nil {
				return
			}
		case websocket.TextMessage:
			var ctl asrControl
			if err := json.Unmarshal(data, &ctl); err != nil {
				continue
			}
			if strings.EqualFold(ctl.Action, "stop") {
				return
			}
		}
	}
}

func (h *ASRHandler) write(ws *websocket.Conn, v any) error {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return ws.WriteJSON(v)
}

func drain(sess *asr.Session) {
	for range sess.Events() {
	}
}
