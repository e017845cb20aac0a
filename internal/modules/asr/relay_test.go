package asr

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/prdsmith-backend/internal/clients/gcp"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
)

// fakeStream echoes every audio frame back as a final transcript and ends
// with io.EOF after CloseSend.
type fakeStream struct {
	mu      sync.Mutex
	results chan []gcp.Transcript
	closed  bool
	recvErr error
}

func newFakeStream() *fakeStream {
	return &fakeStream{results: make(chan []gcp.Transcript, 16)}
}

func (f *fakeStream) Send(audio []byte) error {
	f.results <- []gcp.Transcript{
		{Text: "~" + string(audio)},
		{Text: string(audio), Final: true},
	}
	return nil
}

func (f *fakeStream) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.results)
	}
	return nil
}

func (f *fakeStream) Recv() ([]gcp.Transcript, error) {
	r, ok := <-f.results
	if !ok {
		if f.recvErr != nil {
			return nil, f.recvErr
		}
		return nil, io.EOF
	}
	return r, nil
}

type fakeRecognizer struct {
	stream  *fakeStream
	openErr error
	cfg     gcp.StreamConfig
}

func (f *fakeRecognizer) Open(_ context.Context, cfg gcp.StreamConfig) (gcp.RecognizeStream, error) {
	f.cfg = cfg
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.stream, nil
}

func (f *fakeRecognizer) Close() error { return nil }

func drain(t *testing.T, s *Session) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("events channel never closed; got %v", out)
		}
	}
}

func TestSessionRelaysFinals(t *testing.T) {
	rec := &fakeRecognizer{stream: newFakeStream()}
	relay := NewRelay(logger.Nop(), rec, Config{Stream: gcp.StreamConfig{LanguageCode: "zh-CN"}})

	s, err := relay.Start(context.Background(), "en-US")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if rec.cfg.LanguageCode != "en-US" {
		t.Fatalf("language override: got=%s", rec.cfg.LanguageCode)
	}
	for _, frame := range []string{"hello", "world"} {
		if err := s.Write([]byte(frame)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	s.Stop()
	events := drain(t, s)

	if got := s.Transcript(); got != "hello world" {
		t.Fatalf("transcript: got=%q", got)
	}
	finals := 0
	for _, ev := range events {
		if ev.Type == EventFinal {
			finals++
		}
	}
	if finals != 2 {
		t.Fatalf("finals: want=2 got=%d (%v)", finals, events)
	}
	if last := events[len(events)-1]; last.Type != EventClosed {
		t.Fatalf("last event should be closed: %+v", last)
	}
	if err := s.Write([]byte("late")); !errors.Is(err, ErrStopped) {
		t.Fatalf("write after stop: got=%v", err)
	}
}

func TestSessionReportsRecognizerError(t *testing.T) {
	stream := newFakeStream()
	stream.recvErr = errors.New("quota exceeded")
	relay := NewRelay(logger.Nop(), &fakeRecognizer{stream: stream}, Config{})

	s, err := relay.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()
	events := drain(t, s)
	if len(events) != 2 || events[0].Type != EventError || events[1].Type != EventClosed {
		t.Fatalf("events: %+v", events)
	}
}

func TestStartFailsWithoutRecognizer(t *testing.T) {
	if _, err := NewRelay(logger.Nop(), nil, Config{}).Start(context.Background(), ""); err == nil {
		t.Fatalf("expected error without recognizer")
	}
	rec := &fakeRecognizer{openErr: errors.New("denied")}
	if _, err := NewRelay(logger.Nop(), rec, Config{}).Start(context.Background(), ""); err == nil {
		t.Fatalf("expected open error")
	}
}
