package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/minuteflow/minuteflow/pkg/gateway/config"
	"github.com/minuteflow/minuteflow/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK              bool     `json:"ok"`
		Draining        bool     `json:"draining"`
		AuthMode        string   `json:"auth_mode"`
		AnalysisEnabled bool     `json:"analysis_enabled"`
		UptimeSeconds   int64    `json:"uptime_seconds"`
		Issues          []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.BufferWordThreshold <= 0 {
		issues = append(issues, "buffer word threshold must be > 0")
	}
	if h.Config.BufferIdleTimeout <= 0 {
		issues = append(issues, "buffer idle timeout must be > 0")
	}
	if h.Config.IngestWorkers <= 0 {
		issues = append(issues, "ingest workers must be > 0")
	}
	if h.Config.WSMaxMessageBytes <= 0 {
		issues = append(issues, "ws max message bytes must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	draining := h.Lifecycle.IsDraining()
	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:              ok,
		Draining:        draining,
		AuthMode:        string(h.Config.AuthMode),
		AnalysisEnabled: h.Config.GeminiAPIKey != "",
		UptimeSeconds:   int64(h.Lifecycle.Uptime().Seconds()),
		Issues:          issues,
	})
}
