package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/prdsmith-backend/internal/observability"
	"github.com/yungbote/prdsmith-backend/internal/platform/envutil"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
)

const configFileEnv = "PRD_CONFIG_FILE"

type Config struct {
	Port         string
	LogMode      string
	DataDir      string
	SQLitePath   string
	ShutdownWait time.Duration

	MaxInputBytes     int
	MaxChatInputBytes int
	ChatHistory       int
	DefaultChunkSize  int
	VoiceChunkSize    int
	MinChunkSize      int
	MaxUploadBytes    int64

	WorkerConcurrency  int
	WorkerSweep        time.Duration
	AgentTimeout       time.Duration
	ChatDigestInterval time.Duration
	ChatDigestWindow   time.Duration

	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int

	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAIModel    string
	ChatModel      string
	SummaryModel   string
	DocModel       string
	LLMMaxRetries  int
	LLMTemperature float64

	SpeechEnabled     bool
	SpeechLanguage    string
	SpeechSampleRate  int
	SpeechEncoding    string
	SpeechModel       string
	SpeechCredentials string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	MetricsEnabled bool
	Otel           observability.OtelConfig
}

// LoadConfig reads the environment. When PRD_CONFIG_FILE names a YAML file of
// KEY: value pairs, those keys fill in variables the environment leaves unset.
func LoadConfig(log *logger.Logger) (Config, error) {
	if path := strings.TrimSpace(os.Getenv(configFileEnv)); path != "" {
		n, err := applyConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		log.Info("Config file applied", "path", path, "keys", n)
	}

	dataDir := envutil.String("DATA_DIR", "data")
	cfg := Config{
		Port:         envutil.String("PORT", "8080"),
		LogMode:      envutil.String("LOG_MODE", "development"),
		DataDir:      dataDir,
		SQLitePath:   envutil.String("SQLITE_PATH", filepath.Join(dataDir, "prd.db")),
		ShutdownWait: envutil.Duration("SHUTDOWN_TIMEOUT", 15*time.Second),

		MaxInputBytes:     envutil.Int("PRD_MAX_INPUT_BYTES", 800000),
		MaxChatInputBytes: envutil.Int("PRD_MAX_CHAT_INPUT_BYTES", 100000),
		ChatHistory:       envutil.Int("PRD_CHAT_HISTORY_MESSAGES", 6),
		DefaultChunkSize:  envutil.Int("DEFAULT_CHUNK_SIZE", 1000),
		VoiceChunkSize:    envutil.Int("VOICE_CHUNK_SIZE", 500),
		MinChunkSize:      envutil.Int("MIN_CHUNK_SIZE", 200),
		MaxUploadBytes:    envutil.Int64("MAX_UPLOAD_BYTES", 20<<20),

		WorkerConcurrency:  envutil.Int("WORKER_CONCURRENCY", 2),
		WorkerSweep:        envutil.Duration("WORKER_SWEEP_INTERVAL", 30*time.Second),
		AgentTimeout:       envutil.Duration("AGENT_TIMEOUT", 20*time.Minute),
		ChatDigestInterval: envutil.Duration("CHAT_DIGEST_INTERVAL", 5*time.Minute),
		ChatDigestWindow:   envutil.Duration("CHAT_DIGEST_WINDOW", 5*time.Minute),

		CORSOrigins:    envutil.List("CORS_ALLOWED_ORIGINS", nil),
		RateLimitRPS:   envutil.Float("RATE_LIMIT_RPS", 0),
		RateLimitBurst: envutil.Int("RATE_LIMIT_BURST", 0),

		OpenAIAPIKey:   envutil.String("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  envutil.String("OPENAI_BASE_URL", ""),
		OpenAIModel:    envutil.String("OPENAI_MODEL", "gpt-4o-mini"),
		LLMMaxRetries:  envutil.Int("OPENAI_MAX_RETRIES", 2),
		LLMTemperature: envutil.Float("OPENAI_TEMPERATURE", 0.3),

		SpeechEnabled:    envutil.Bool("SPEECH_ENABLED", false),
		SpeechLanguage:   envutil.String("SPEECH_LANGUAGE", "zh-CN"),
		SpeechSampleRate: envutil.Int("SPEECH_SAMPLE_RATE", 16000),
		SpeechEncoding:   envutil.String("SPEECH_ENCODING", "LINEAR16"),
		SpeechModel:      envutil.String("SPEECH_MODEL", ""),
		SpeechCredentials: firstNonEmpty(
			envutil.String("GOOGLE_APPLICATION_CREDENTIALS_JSON", ""),
			envutil.String("GOOGLE_APPLICATION_CREDENTIALS", ""),
		),

		RedisAddr:     envutil.String("REDIS_ADDR", ""),
		RedisPassword: envutil.String("REDIS_PASSWORD", ""),
		RedisDB:       envutil.Int("REDIS_DB", 0),
		RedisChannel:  envutil.String("REDIS_EVENTS_CHANNEL", ""),

		MetricsEnabled: envutil.Bool("METRICS_ENABLED", true),
		Otel: observability.OtelConfig{
			Enabled:     envutil.Bool("OTEL_ENABLED", false),
			ServiceName: envutil.String("OTEL_SERVICE_NAME", "prdsmith"),
			Environment: envutil.String("OTEL_ENVIRONMENT", ""),
			Version:     envutil.String("OTEL_SERVICE_VERSION", ""),
			Endpoint:    envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:     observability.ParseHeaders(envutil.String("OTEL_EXPORTER_OTLP_HEADERS", "")),
			Insecure:    envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SampleRatio: envutil.Float("OTEL_SAMPLE_RATIO", 1),
		},
	}
	cfg.ChatModel = envutil.String("PRD_CHAT_MODEL", cfg.OpenAIModel)
	cfg.SummaryModel = envutil.String("PRD_SUMMARY_MODEL", cfg.OpenAIModel)
	cfg.DocModel = envutil.String("PRD_DOC_MODEL", cfg.OpenAIModel)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	log.Info("Config loaded",
		"port", cfg.Port,
		"data_dir", cfg.DataDir,
		"sqlite_path", cfg.SQLitePath,
		"worker_concurrency", cfg.WorkerConcurrency,
		"llm_enabled", cfg.OpenAIAPIKey != "",
		"speech_enabled", cfg.SpeechEnabled,
		"redis_enabled", cfg.RedisAddr != "",
		"metrics_enabled", cfg.MetricsEnabled,
		"otel_enabled", cfg.Otel.Enabled,
	)
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case strings.TrimSpace(c.DataDir) == "":
		return fmt.Errorf("DATA_DIR is empty")
	case c.MinChunkSize <= 0:
		return fmt.Errorf("MIN_CHUNK_SIZE must be positive, got %d", c.MinChunkSize)
	case c.DefaultChunkSize < c.MinChunkSize:
		return fmt.Errorf("DEFAULT_CHUNK_SIZE %d is below MIN_CHUNK_SIZE %d", c.DefaultChunkSize, c.MinChunkSize)
	case c.VoiceChunkSize < c.MinChunkSize:
		return fmt.Errorf("VOICE_CHUNK_SIZE %d is below MIN_CHUNK_SIZE %d", c.VoiceChunkSize, c.MinChunkSize)
	case c.MaxInputBytes <= 0:
		return fmt.Errorf("PRD_MAX_INPUT_BYTES must be positive, got %d", c.MaxInputBytes)
	case c.WorkerConcurrency <= 0:
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.WorkerConcurrency)
	}
	return nil
}

// applyConfigFile sets every key of the YAML file that is not already in the
// environment and reports how many it set.
func applyConfigFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read config file: %w", err)
	}
	values := map[string]any{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return 0, fmt.Errorf("parse config file %s: %w", path, err)
	}
	n := 0
	for key, val := range values {
		key = strings.ToUpper(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, yamlScalar(val)); err != nil {
			return n, fmt.Errorf("set %s: %w", key, err)
		}
		n++
	}
	return n, nil
}

func yamlScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, yamlScalar(p))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
