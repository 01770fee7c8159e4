package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/minuteflow/minuteflow/pkg/gateway/analyze"
	"github.com/minuteflow/minuteflow/pkg/gateway/broadcast"
	"github.com/minuteflow/minuteflow/pkg/gateway/config"
	"github.com/minuteflow/minuteflow/pkg/gateway/ingest"
	"github.com/minuteflow/minuteflow/pkg/gateway/lifecycle"
	"github.com/minuteflow/minuteflow/pkg/gateway/metrics"
	gatewayserver "github.com/minuteflow/minuteflow/pkg/gateway/server"
)

type flowdDeps struct {
	loadConfig   func() (config.Config, error)
	newAnalyzer  func(ctx context.Context, apiKey, model string) (analyze.Client, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultFlowdDeps() flowdDeps {
	return flowdDeps{
		loadConfig: config.LoadFromEnv,
		newAnalyzer: func(ctx context.Context, apiKey, model string) (analyze.Client, error) {
			return analyze.NewGeminiClient(ctx, apiKey, model)
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

// pipeline holds the wired processing stages so shutdown can drain them in
// dependency order.
type pipeline struct {
	lc          *lifecycle.Lifecycle
	broadcaster *broadcast.Broadcaster
	buffer      *ingest.Buffer
	queue       *ingest.Queue
	dispatcher  *analyze.Dispatcher
	metrics     *metrics.Metrics
}

func buildPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger, deps flowdDeps) (*pipeline, error) {
	m := metrics.New("minuteflow")
	bc := broadcast.New()

	var client analyze.Client
	if cfg.GeminiAPIKey != "" {
		c, err := deps.newAnalyzer(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		client = c
	} else {
		logger.Warn("no gemini api key configured, serving fallback analysis")
	}

	dispatcher := analyze.NewDispatcher(analyze.DispatcherConfig{
		Client:      client,
		MinInterval: cfg.AnalysisMinInterval,
		Logger:      logger,
		Metrics:     m,
	})

	buffer := ingest.NewBuffer(ingest.BufferConfig{
		WordThreshold: cfg.BufferWordThreshold,
		IdleTimeout:   cfg.BufferIdleTimeout,
		Retention:     cfg.SessionRetention,
		Logger:        logger,
		Metrics:       m,
		Flush: func(sessionID, text string) {
			// Bound each analysis call so a stuck upstream cannot pin the
			// flush goroutine forever.
			callCtx, cancel := context.WithTimeout(ctx, cfg.AnalysisTimeout)
			defer cancel()
			result := dispatcher.ProcessTranscript(callCtx, text)
			bc.Publish(sessionID, broadcast.EventAnalysisResult, result)
			m.RecordBroadcast(broadcast.EventAnalysisResult)
		},
	})

	queue := ingest.NewQueue(ingest.QueueConfig{
		Workers:  cfg.IngestWorkers,
		Capacity: cfg.IngestQueueCapacity,
		Logger:   logger,
		Metrics:  m,
		Handler: func(ev ingest.Event) error {
			if err := ev.Validate(); err != nil {
				return err
			}
			buffer.Add(ev.SessionID, ev.Text)
			return nil
		},
	})

	return &pipeline{
		lc:          lifecycle.New(),
		broadcaster: bc,
		buffer:      buffer,
		queue:       queue,
		dispatcher:  dispatcher,
		metrics:     m,
	}, nil
}

func runFlowd(ctx context.Context, logger *slog.Logger, deps flowdDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newAnalyzer == nil {
		return errors.New("missing newAnalyzer dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pipeCtx, pipeCancel := context.WithCancel(context.Background())
	defer pipeCancel()

	pipe, err := buildPipeline(pipeCtx, cfg, logger, deps)
	if err != nil {
		return err
	}

	gw := gatewayserver.New(cfg, logger, gatewayserver.Pipeline{
		Lifecycle:   pipe.lc,
		Broadcaster: pipe.broadcaster,
		Buffer:      pipe.buffer,
		Queue:       pipe.queue,
		Dispatcher:  pipe.dispatcher,
		Metrics:     pipe.metrics,
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"analysis_enabled", cfg.GeminiAPIKey != "",
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	pipe.lc.SetDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	// Drain upstream of downstream: stop accepting events, let buffered text
	// flush, then tell subscribers the stream is over.
	pipe.queue.Close()
	pipe.buffer.Close()
	pipe.broadcaster.CloseAll()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !pipe.broadcaster.Wait(waitCtx) {
		logger.Warn("subscribers still attached after grace period")
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps flowdDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	_ = godotenv.Load()

	if err := runFlowd(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "flowd: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultFlowdDeps()))
}
