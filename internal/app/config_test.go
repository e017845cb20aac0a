package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/prd-data")
	cfg, err := LoadConfig(logger.Nop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SQLitePath != filepath.Join("/tmp/prd-data", "prd.db") {
		t.Fatalf("sqlite path: got=%q", cfg.SQLitePath)
	}
	if cfg.MaxInputBytes != 800000 || cfg.MaxChatInputBytes != 100000 || cfg.ChatHistory != 6 {
		t.Fatalf("prompt budgets: %+v", cfg)
	}
	if cfg.DefaultChunkSize != 1000 || cfg.VoiceChunkSize != 500 || cfg.MinChunkSize != 200 {
		t.Fatalf("chunk sizes: %d/%d/%d", cfg.DefaultChunkSize, cfg.VoiceChunkSize, cfg.MinChunkSize)
	}
	if cfg.AgentTimeout != 20*time.Minute || cfg.WorkerSweep != 30*time.Second {
		t.Fatalf("timeouts: agent=%v sweep=%v", cfg.AgentTimeout, cfg.WorkerSweep)
	}
}

func TestLoadConfigFileFillsUnsetKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prd.yaml")
	body := "PORT: 9090\nWORKER_CONCURRENCY: 4\nCORS_ALLOWED_ORIGINS:\n  - https://a.example.com\n  - https://b.example.com\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configFileEnv, path)
	t.Setenv("WORKER_CONCURRENCY", "3")
	// Keys the file sets are cleaned up through t.Setenv's restore.
	t.Setenv("PORT", "")
	os.Unsetenv("PORT")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	os.Unsetenv("CORS_ALLOWED_ORIGINS")

	cfg, err := LoadConfig(logger.Nop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("port from file: got=%q", cfg.Port)
	}
	if cfg.WorkerConcurrency != 3 {
		t.Fatalf("environment should win: got=%d", cfg.WorkerConcurrency)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example.com" {
		t.Fatalf("origins: got=%v", cfg.CORSOrigins)
	}
}

func TestLoadConfigRejectsBadChunkSizes(t *testing.T) {
	t.Setenv("MIN_CHUNK_SIZE", "600")
	if _, err := LoadConfig(logger.Nop()); err == nil {
		t.Fatalf("voice chunk size below minimum should fail")
	}
}
