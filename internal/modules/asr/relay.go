package asr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/yungbote/prdsmith-backend/internal/clients/gcp"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
)

var ErrStopped = errors.New("speech session stopped")

type EventType string

const (
	EventPartial EventType = "partial"
	EventFinal   EventType = "final"
	EventError   EventType = "error"
	EventClosed  EventType = "closed"
)

// Event is one message from the recognizer to the client. Closed is always
// the last event on a session.
type Event struct {
	Type  EventType `json:"type"`
	Text  string    `json:"text,omitempty"`
	Error string    `json:"error,omitempty"`
}

type Config struct {
	Stream      gcp.StreamConfig
	EventBuffer int
	AudioBuffer int
}

// Relay starts recognition sessions against a Recognizer.
type Relay struct {
	log *logger.Logger
	rec gcp.Recognizer
	cfg Config
}

func NewRelay(baseLog *logger.Logger, rec gcp.Recognizer, cfg Config) *Relay {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.AudioBuffer <= 0 {
		cfg.AudioBuffer = 32
	}
	return &Relay{log: baseLog.With("component", "SpeechRelay"), rec: rec, cfg: cfg}
}

/*
Session owns one recognizer stream.

  - Write queues audio; a sender goroutine forwards it to the stream.
  - A receiver goroutine turns results into Events on a bounded channel.
    Partial results are dropped when the client falls behind; final, error
    and closed events are always delivered.
  - Stop (or ctx cancellation) half-closes the stream; the receiver drains the
    remaining results and then emits EventClosed and closes Events.

Callers must read Events until it is closed.
*/
type Session struct {
	log    *logger.Logger
	stream gcp.RecognizeStream
	ctx    context.Context
	cancel context.CancelFunc

	audio    chan []byte
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	finals []string
}

// Start opens a stream. language overrides the configured language code.
func (r *Relay) Start(ctx context.Context, language string) (*Session, error) {
	if r == nil || r.rec == nil {
		return nil, errors.New("speech recognizer not configured")
	}
	cfg := r.cfg.Stream
	if strings.TrimSpace(language) != "" {
		cfg.LanguageCode = strings.TrimSpace(language)
	}
	sctx, cancel := context.WithCancel(ctx)
	stream, err := r.rec.Open(sctx, cfg)
	if err != nil {
		cancel()
		return nil, err
	}
	s := &Session{
		log:    r.log,
		stream: stream,
		ctx:    sctx,
		cancel: cancel,
		audio:  make(chan []byte, r.cfg.AudioBuffer),
		events: make(chan Event, r.cfg.EventBuffer),
		done:   make(chan struct{}),
	}
	go s.sendLoop()
	go s.recvLoop()
	return s, nil
}

func (s *Session) Events() <-chan Event { return s.events }

// Write queues one audio frame. It blocks while the audio buffer is full.
func (s *Session) Write(audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	select {
	case <-s.done:
		return ErrStopped
	default:
	}
	buf := append([]byte(nil), audio...)
	select {
	case s.audio <- buf:
		return nil
	case <-s.done:
		return ErrStopped
	case <-s.ctx.Done():
		return ErrStopped
	}
}

// Stop ends the audio stream. Queued audio is still sent. Safe to call more
// than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Abort cancels the stream without waiting for trailing results.
func (s *Session) Abort() {
	s.Stop()
	s.cancel()
}

// Transcript joins every final result seen so far.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimSpace(strings.Join(s.finals, " "))
}

func (s *Session) sendLoop() {
	defer func() {
		if err := s.stream.CloseSend(); err != nil {
			s.log.Debug("speech CloseSend failed", "error", err)
		}
	}()
	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk := <-s.audio:
			if err := s.stream.Send(chunk); err != nil {
				s.log.Warn("speech send failed", "error", err)
				return
			}
		case <-s.done:
			s.flush()
			return
		}
	}
}

func (s *Session) flush() {
	for {
		select {
		case chunk := <-s.audio:
			if err := s.stream.Send(chunk); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) recvLoop() {
	defer func() {
		s.emit(Event{Type: EventClosed}, true)
		close(s.events)
		s.cancel()
	}()
	for {
		results, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if s.ctx.Err() == nil {
				s.emit(Event{Type: EventError, Error: fmt.Sprintf("recognizer: %v", err)}, true)
			}
			return
		}
		for _, t := range results {
			if t.Final {
				s.mu.Lock()
				s.finals = append(s.finals, t.Text)
				s.mu.Unlock()
				s.emit(Event{Type: EventFinal, Text: t.Text}, true)
				continue
			}
			s.emit(Event{Type: EventPartial, Text: t.Text}, false)
		}
	}
}

// emit delivers ev; non-essential events are dropped when the buffer is full.
func (s *Session) emit(ev Event, essential bool) {
	if essential {
		s.events <- ev
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}
