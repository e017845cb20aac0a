package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
)

// Recognizer opens streaming speech-recognition sessions.
type Recognizer interface {
	Open(ctx context.Context, cfg StreamConfig) (RecognizeStream, error)
	Close() error
}

// RecognizeStream is one live recognition session. Send and Recv may be
// called from different goroutines; Recv returns io.EOF after CloseSend once
// the server has flushed its last result.
type RecognizeStream interface {
	Send(audio []byte) error
	CloseSend() error
	Recv() ([]Transcript, error)
}

type StreamConfig struct {
	LanguageCode    string
	SampleRateHertz int
	Encoding        string
	Model           string
	InterimResults  bool
}

type Transcript struct {
	Text      string
	Final     bool
	Stability float32
}

type SpeechConfig struct {
	Credentials string
	MaxRetries  int
}

type speechService struct {
	log        *logger.Logger
	client     *speech.Client
	maxRetries int
}

func NewSpeech(ctx context.Context, log *logger.Logger, cfg SpeechConfig) (Recognizer, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	c, err := speech.NewClient(ctx, ClientOptions(cfg.Credentials)...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &speechService{
		log:        log.With("service", "gcp.Speech"),
		client:     c,
		maxRetries: retries,
	}, nil
}

func (s *speechService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Open starts a stream and sends the config frame. Opening is retried on
// transient gRPC codes; audio already sent is never replayed.
func (s *speechService) Open(ctx context.Context, cfg StreamConfig) (RecognizeStream, error) {
	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: BuildStreamingConfig(cfg),
		},
	}
	backoff := 500 * time.Millisecond
	var last error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		stream, err := s.client.StreamingRecognize(ctx)
		if err == nil {
			err = stream.Send(req)
			if err == nil {
				return &grpcStream{stream: stream}, nil
			}
		}
		last = err
		if !IsTransient(err) || attempt == s.maxRetries {
			break
		}
		s.log.Warn("speech stream open failed; retrying", "attempt", attempt+1, "error", err)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > 5*time.Second {
			backoff = 5 * time.Second
		}
	}
	return nil, fmt.Errorf("speech streamingrecognize: %w", last)
}

// IsTransient reports whether a gRPC error is worth retrying.
func IsTransient(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded:
		return true
	}
	return false
}

func BuildStreamingConfig(cfg StreamConfig) *speechpb.StreamingRecognitionConfig {
	lang := strings.TrimSpace(cfg.LanguageCode)
	if lang == "" {
		lang = "zh-CN"
	}
	rate := cfg.SampleRateHertz
	if rate <= 0 {
		rate = 16000
	}
	return &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			LanguageCode:               lang,
			Model:                      cfg.Model,
			Encoding:                   ParseEncoding(cfg.Encoding),
			SampleRateHertz:            int32(rate),
			EnableAutomaticPunctuation: true,
		},
		InterimResults: cfg.InterimResults,
	}
}

func ParseEncoding(name string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "flac":
		return speechpb.RecognitionConfig_FLAC
	case "mulaw":
		return speechpb.RecognitionConfig_MULAW
	case "ogg_opus", "opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "webm_opus", "webm":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

type grpcStream struct {
	stream speechpb.Speech_StreamingRecognizeClient
}

func (g *grpcStream) Send(audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	return g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: audio},
	})
}

func (g *grpcStream) CloseSend() error { return g.stream.CloseSend() }

func (g *grpcStream) Recv() ([]Transcript, error) {
	resp, err := g.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	if st := resp.GetError(); st != nil && st.GetCode() != 0 {
		return nil, status.Error(codes.Code(st.GetCode()), st.GetMessage())
	}
	return parseStreamingResponse(resp), nil
}

func parseStreamingResponse(resp *speechpb.StreamingRecognizeResponse) []Transcript {
	out := make([]Transcript, 0, len(resp.GetResults()))
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		text := strings.TrimSpace(alts[0].GetTranscript())
		if text == "" {
			continue
		}
		out = append(out, Transcript{Text: text, Final: r.GetIsFinal(), Stability: r.GetStability()})
	}
	return out
}
