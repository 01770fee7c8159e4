package analyze

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/minuteflow/minuteflow/pkg/gateway/metrics"
)

// contextTailChars bounds how much transcript is sent as Q&A context.
const contextTailChars = 5000

// DefaultMinInterval is the default spacing between upstream model calls.
const DefaultMinInterval = 4 * time.Second

// DispatcherConfig configures a Dispatcher. Client may be nil, in which
// case every call serves the fallback payload.
type DispatcherConfig struct {
	Client      Client
	MinInterval time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Dispatcher is the single gate through which all model traffic flows.
// Calls from every session share one pacer, and failures are absorbed into
// fallback payloads so callers always receive a result.
type Dispatcher struct {
	client  Client
	pacer   *Pacer
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher builds a Dispatcher from cfg, applying defaults for the
// pacing interval and logger.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	interval := cfg.MinInterval
	if interval == 0 {
		interval = DefaultMinInterval
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		client:  cfg.Client,
		pacer:   NewPacer(interval),
		log:     log,
		metrics: cfg.Metrics,
	}
}

// ProcessTranscript analyzes one transcript chunk. It always returns a
// usable result: upstream errors, malformed responses, and a missing client
// all degrade to the fallback payload.
func (d *Dispatcher) ProcessTranscript(ctx context.Context, text string) *Result {
	if err := d.pacer.Wait(ctx); err != nil {
		d.log.Warn("analysis call abandoned while pacing", "error", err)
		d.metrics.RecordAnalysis("transcript", "abandoned")
		return fallbackResult()
	}

	if d.client == nil {
		d.metrics.RecordAnalysis("transcript", "fallback")
		return fallbackResult()
	}

	result, err := d.client.Analyze(ctx, text)
	if err != nil {
		d.log.Error("transcript analysis failed", "error", err)
		d.metrics.RecordAnalysis("transcript", "fallback")
		return fallbackResult()
	}
	d.metrics.RecordAnalysis("transcript", "ok")
	return result
}

// AnswerQuery answers a free-form question against the transcript. Only the
// most recent portion of the transcript is forwarded as context. Like
// ProcessTranscript it never fails; errors degrade to canned answers.
func (d *Dispatcher) AnswerQuery(ctx context.Context, transcript, question string) Answer {
	answer := Answer{
		RequestID: uuid.NewString(),
		Question:  question,
	}

	if err := d.pacer.Wait(ctx); err != nil {
		d.log.Warn("qna call abandoned while pacing", "error", err)
		d.metrics.RecordAnalysis("qna", "abandoned")
		answer.Answer = fallbackAnswer(question)
		return answer
	}

	if d.client == nil {
		d.metrics.RecordAnalysis("qna", "fallback")
		answer.Answer = fallbackAnswer(question)
		return answer
	}

	text, err := d.client.Answer(ctx, tail(transcript, contextTailChars), question)
	if err != nil {
		d.log.Error("qna call failed", "error", err)
		d.metrics.RecordAnalysis("qna", "fallback")
		answer.Answer = fallbackAnswer(question)
		return answer
	}
	d.metrics.RecordAnalysis("qna", "ok")
	answer.Answer = text
	return answer
}

// tail returns at most n trailing bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
