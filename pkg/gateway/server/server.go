// Package server assembles the HTTP surface of the gateway: routes,
// middleware chain, and the wiring between pipeline stages and handlers.
package server

import (
	"log/slog"
	"net/http"

	"github.com/minuteflow/minuteflow/pkg/gateway/analyze"
	"github.com/minuteflow/minuteflow/pkg/gateway/broadcast"
	"github.com/minuteflow/minuteflow/pkg/gateway/config"
	"github.com/minuteflow/minuteflow/pkg/gateway/handlers"
	"github.com/minuteflow/minuteflow/pkg/gateway/ingest"
	"github.com/minuteflow/minuteflow/pkg/gateway/lifecycle"
	"github.com/minuteflow/minuteflow/pkg/gateway/metrics"
	"github.com/minuteflow/minuteflow/pkg/gateway/mw"
)

// Pipeline carries the already-constructed pipeline stages the server
// exposes. Construction and shutdown order stay with the caller.
type Pipeline struct {
	Lifecycle   *lifecycle.Lifecycle
	Broadcaster *broadcast.Broadcaster
	Buffer      *ingest.Buffer
	Queue       *ingest.Queue
	Dispatcher  *analyze.Dispatcher
	Metrics     *metrics.Metrics
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	pipe   Pipeline
}

func New(cfg config.Config, logger *slog.Logger, pipe Pipeline) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		pipe:   pipe,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.pipe.Lifecycle})
	if s.pipe.Metrics != nil {
		s.mux.Handle("/metrics", s.pipe.Metrics.Handler())
	}

	s.mux.Handle("/v1/stream", handlers.StreamHandler{
		Config:      s.cfg,
		Logger:      s.logger,
		Lifecycle:   s.pipe.Lifecycle,
		Broadcaster: s.pipe.Broadcaster,
		Queue:       s.pipe.Queue,
		Buffer:      s.pipe.Buffer,
		Dispatcher:  s.pipe.Dispatcher,
		Metrics:     s.pipe.Metrics,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
