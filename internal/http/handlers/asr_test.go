package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yungbote/prdsmith-backend/internal/clients/gcp"
	"github.com/yungbote/prdsmith-backend/internal/data/repos/testutil"
	"github.com/yungbote/prdsmith-backend/internal/modules/asr"
	"github.com/yungbote/prdsmith-backend/internal/services"
)

// echoStream turns every audio frame into one final transcript.
type echoStream struct {
	once    sync.Once
	results chan []gcp.Transcript
}

func (e *echoStream) Send(audio []byte) error {
	e.results <- []gcp.Transcript{{Text: string(audio), Final: true}}
	return nil
}

func (e *echoStream) CloseSend() error {
	e.once.Do(func() { close(e.results) })
	return nil
}

func (e *echoStream) Recv() ([]gcp.Transcript, error) {
	r, ok := <-e.results
	if !ok {
		return nil, io.EOF
	}
	return r, nil
}

type echoRecognizer struct{}

func (echoRecognizer) Open(context.Context, gcp.StreamConfig) (gcp.RecognizeStream, error) {
	return &echoStream{results: make(chan []gcp.Transcript, 16)}, nil
}

func (echoRecognizer) Close() error { return nil }

func TestASRUnavailableWithoutRelay(t *testing.T) {
	env := newHandlerEnv(t, nil)
	expectError(t, env.get("/ws/asr?session_id=s1"), http.StatusServiceUnavailable, "speech_unavailable")
}

func TestASRStreamAppendsTranscript(t *testing.T) {
	env := newHandlerEnv(t, nil)
	log := testutil.Logger(t)
	relay := asr.NewRelay(log, echoRecognizer{}, asr.Config{})

	r := gin.New()
	r.GET("/ws/asr", NewASRHandler(log, relay, env.ingest, nil).Stream)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/asr?session_id=a1"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ready asrFrame
	if err := ws.ReadJSON(&ready); err != nil || ready.Type != "ready" || ready.SessionID != "a1" {
		t.Fatalf("ready frame: %+v err=%v", ready, err)
	}
	speech := strings.Repeat("需", 120)
	if err := ws.WriteMessage(websocket.BinaryMessage, []byte(speech)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"action":"stop"}`)); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	var kinds []string
	var appended asrFrame
	for {
		var f asrFrame
		if err := ws.ReadJSON(&f); err != nil {
			break
		}
		kinds = append(kinds, f.Type)
		if f.Type == "appended" {
			appended = f
			break
		}
	}
	want := []string{"final", "closed", "appended"}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Fatalf("frames: want=%v got=%v", want, kinds)
	}
	if appended.TaskID == 0 || appended.SessionID != "a1" || appended.Text != speech {
		t.Fatalf("appended frame: %+v", appended)
	}

	sums, err := env.ingest.AppendVoice(context.Background(), services.VoiceInput{SessionID: "a1", Text: "next"})
	if err != nil {
		t.Fatalf("follow-up append: %v", err)
	}
	if sums.StartChunkIndex != 2 {
		t.Fatalf("asr task should own chunk 1: next start=%d", sums.StartChunkIndex)
	}
}
