package gcp

import (
	"errors"
	"testing"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestBuildStreamingConfigDefaults(t *testing.T) {
	cfg := BuildStreamingConfig(StreamConfig{InterimResults: true})
	if cfg.Config.LanguageCode != "zh-CN" || cfg.Config.SampleRateHertz != 16000 {
		t.Fatalf("defaults: lang=%s rate=%d", cfg.Config.LanguageCode, cfg.Config.SampleRateHertz)
	}
	if cfg.Config.Encoding != speechpb.RecognitionConfig_LINEAR16 || !cfg.InterimResults {
		t.Fatalf("encoding/interim: %v %v", cfg.Config.Encoding, cfg.InterimResults)
	}
	if got := ParseEncoding("webm"); got != speechpb.RecognitionConfig_WEBM_OPUS {
		t.Fatalf("webm: got=%v", got)
	}
}

func TestParseStreamingResponse(t *testing.T) {
	resp := &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: " 你好 "}}, IsFinal: true},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "世"}}, Stability: 0.4},
			{Alternatives: nil},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "  "}}},
		},
	}
	got := parseStreamingResponse(resp)
	if len(got) != 2 || got[0].Text != "你好" || !got[0].Final || got[1].Final {
		t.Fatalf("parsed: %+v", got)
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(status.Error(codes.Unavailable, "x")) {
		t.Fatalf("unavailable should be transient")
	}
	if IsTransient(status.Error(codes.InvalidArgument, "x")) || IsTransient(errors.New("plain")) {
		t.Fatalf("non-transient codes should not retry")
	}
}

func TestClientOptions(t *testing.T) {
	if n := len(ClientOptions("")); n != 0 {
		t.Fatalf("empty: want 0 options got %d", n)
	}
	if n := len(ClientOptions(`{"type":"service_account"}`)); n != 1 {
		t.Fatalf("json: want 1 option got %d", n)
	}
	if n := len(ClientOptions("/etc/key.json")); n != 1 {
		t.Fatalf("file: want 1 option got %d", n)
	}
}
