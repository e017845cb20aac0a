package logger

import "testing"

func TestSanitizeKVsRedactsSecrets(t *testing.T) {
	out := sanitizeKVs([]interface{}{
		"openai_api_key", "sk-abcdefghijklmnopqrstuvwxyz",
		"session_id", "sess-1",
		"client_ip", "10.0.0.1",
		"note", "Bearer abc.def",
		"dangling",
	})
	if len(out) != 9 {
		t.Fatalf("unexpected kv length: got=%d want=9", len(out))
	}
	if out[1] != "[REDACTED]" {
		t.Fatalf("api key not redacted: %v", out[1])
	}
	if out[3] != "sess-1" {
		t.Fatalf("session id should pass through: %v", out[3])
	}
	if s, ok := out[5].(string); !ok || len(s) != len("hash:")+12 {
		t.Fatalf("client ip not hashed: %v", out[5])
	}
	if out[7] != "[REDACTED]" {
		t.Fatalf("bearer value not redacted: %v", out[7])
	}
	if out[8] != "dangling" {
		t.Fatalf("odd trailing key dropped: %v", out[8])
	}
}

func TestSanitizeMapNested(t *testing.T) {
	got := sanitizeValue("payload", map[string]interface{}{
		"password": "hunter2",
		"name":     "x",
	})
	m, ok := got.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map, got %T", got)
	}
	if m["password"] != "[REDACTED]" || m["name"] != "x" {
		t.Fatalf("unexpected map: %#v", m)
	}
}
