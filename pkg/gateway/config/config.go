package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Analysis upstream. An empty key disables live analysis; the
	// dispatcher then serves fallback payloads only.
	GeminiAPIKey        string
	GeminiModel         string
	AnalysisMinInterval time.Duration
	AnalysisTimeout     time.Duration

	// Session buffering.
	BufferWordThreshold int
	BufferIdleTimeout   time.Duration
	SessionRetention    time.Duration

	// Ingestion queue.
	IngestWorkers       int
	IngestQueueCapacity int

	// Live WebSocket stream (/v1/stream).
	WSMaxMessageBytes int64
	WSWriteTimeout    time.Duration
	WSPingInterval    time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("FLOWD_ADDR", ":8080"),
		AuthMode:            AuthMode(envOr("FLOWD_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:             make(map[string]struct{}),
		CORSAllowedOrigins:  make(map[string]struct{}),
		GeminiAPIKey:        strings.TrimSpace(os.Getenv("FLOWD_GEMINI_API_KEY")),
		GeminiModel:         envOr("FLOWD_GEMINI_MODEL", "gemini-1.5-flash"),
		AnalysisMinInterval: envDurationOr("FLOWD_ANALYSIS_MIN_INTERVAL", 4*time.Second),
		AnalysisTimeout:     envDurationOr("FLOWD_ANALYSIS_TIMEOUT", 60*time.Second),
		BufferWordThreshold: envIntOr("FLOWD_BUFFER_WORD_THRESHOLD", 50),
		BufferIdleTimeout:   envDurationOr("FLOWD_BUFFER_IDLE_TIMEOUT", 30*time.Second),
		SessionRetention:    envDurationOr("FLOWD_SESSION_RETENTION", 10*time.Minute),
		IngestWorkers:       envIntOr("FLOWD_INGEST_WORKERS", 5),
		IngestQueueCapacity: envIntOr("FLOWD_INGEST_QUEUE_CAPACITY", 1024),
		WSMaxMessageBytes:   envInt64Or("FLOWD_WS_MAX_MESSAGE_BYTES", 64*1024),
		WSWriteTimeout:      envDurationOr("FLOWD_WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:      envDurationOr("FLOWD_WS_PING_INTERVAL", 20*time.Second),
		ReadHeaderTimeout:   envDurationOr("FLOWD_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("FLOWD_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("FLOWD_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("FLOWD_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("FLOWD_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	for _, origin := range splitCSV(os.Getenv("FLOWD_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.AnalysisMinInterval < 0 {
		return Config{}, fmt.Errorf("FLOWD_ANALYSIS_MIN_INTERVAL must be >= 0")
	}
	if cfg.AnalysisTimeout <= 0 {
		return Config{}, fmt.Errorf("FLOWD_ANALYSIS_TIMEOUT must be > 0")
	}
	if cfg.BufferWordThreshold <= 0 {
		return Config{}, fmt.Errorf("FLOWD_BUFFER_WORD_THRESHOLD must be > 0")
	}
	if cfg.BufferIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("FLOWD_BUFFER_IDLE_TIMEOUT must be > 0")
	}
	if cfg.SessionRetention <= 0 {
		return Config{}, fmt.Errorf("FLOWD_SESSION_RETENTION must be > 0")
	}
	if cfg.IngestWorkers <= 0 {
		return Config{}, fmt.Errorf("FLOWD_INGEST_WORKERS must be > 0")
	}
	if cfg.IngestQueueCapacity <= 0 {
		return Config{}, fmt.Errorf("FLOWD_INGEST_QUEUE_CAPACITY must be > 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("FLOWD_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("FLOWD_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("FLOWD_WS_PING_INTERVAL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("FLOWD_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("FLOWD_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("FLOWD_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("FLOWD_API_KEYS must be set when FLOWD_AUTH_MODE=required")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
