package ingest

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/minuteflow/minuteflow/pkg/gateway/metrics"
)

const (
	// DefaultWorkers bounds how many ingestion events are dispatched
	// concurrently.
	DefaultWorkers = 5
	// DefaultQueueCapacity bounds how many events may wait for a worker.
	DefaultQueueCapacity = 1024
)

var (
	// ErrQueueClosed is returned by Submit after Close.
	ErrQueueClosed = errors.New("ingest: queue closed")
	// ErrQueueFull is returned by Submit when the backlog is at capacity.
	ErrQueueFull = errors.New("ingest: queue full")
)

// Event is one inbound ingestion event from a capture client.
type Event struct {
	SessionID   string `json:"session_id"`
	Speaker     string `json:"speaker"`
	Text        string `json:"text"`
	TimestampMs int64  `json:"timestamp_ms"`
	IsFinal     bool   `json:"is_final"`
}

// Validate reports whether the event carries the required fields.
func (e Event) Validate() error {
	if e.SessionID == "" {
		return errors.New("ingest: event missing session_id")
	}
	if e.Text == "" {
		return errors.New("ingest: event missing text")
	}
	return nil
}

// Handler processes one dequeued event.
type Handler func(Event) error

// QueueConfig configures a Queue.
type QueueConfig struct {
	Workers  int
	Capacity int
	Handler  Handler
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Queue dispatches ingestion events to a handler with bounded parallelism.
// Events are dequeued in submission order; completions may interleave, and
// two events for the same session may run concurrently on different
// workers, so the handler must do its own per-session serialization.
type Queue struct {
	tasks   chan task
	handler Handler
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type task struct {
	event Event
	done  func(error)
}

// NewQueue starts the worker pool and returns the queue.
func NewQueue(cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultQueueCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	q := &Queue{
		tasks:   make(chan task, cfg.Capacity),
		handler: cfg.Handler,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit enqueues an event. The optional done callback receives the
// handler's error once the event has been processed; a failing event never
// blocks or drops the events behind it. The intake mutex keeps Submit from
// racing Close onto a closed channel.
func (q *Queue) Submit(event Event, done func(error)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.tasks <- task{event: event, done: done}:
		if q.metrics != nil {
			q.metrics.QueueDepth.Set(float64(len(q.tasks)))
		}
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops intake and waits for in-flight and queued events to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		if q.metrics != nil {
			q.metrics.QueueDepth.Set(float64(len(q.tasks)))
		}
		err := q.handler(t.event)
		if err != nil {
			q.log.Error("ingestion task failed",
				"session_id", t.event.SessionID,
				"error", err,
			)
		}
		if t.done != nil {
			t.done(err)
		}
	}
}
