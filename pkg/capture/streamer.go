package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DeliveryReason tags why a caption batch was flushed.
type DeliveryReason string

const (
	ReasonPeriodic DeliveryReason = "periodic"
	ReasonShutdown DeliveryReason = "shutdown"
)

// BodyMode selects the webhook payload schema variant. Batch content is the
// same in both modes.
type BodyMode string

const (
	BodyModeSimple   BodyMode = "simple"
	BodyModeAdvanced BodyMode = "advanced"
)

// BatchMetadata accompanies every delivered caption batch.
type BatchMetadata struct {
	SourceLabel           string         `json:"source_label"`
	SessionTitle          string         `json:"session_title"`
	SessionStartTimestamp string         `json:"session_start_timestamp"`
	BatchStartTimestamp   string         `json:"batch_start_timestamp"`
	BatchEndTimestamp     string         `json:"batch_end_timestamp"`
	Reason                DeliveryReason `json:"reason"`
	BodyMode              BodyMode       `json:"body_mode"`
}

// CaptionBatch is the ordered set of pending utterance blocks for one flush
// attempt plus its metadata.
type CaptionBatch struct {
	Captions []UtteranceBlock
	Metadata BatchMetadata
}

// BatchSink delivers a caption batch to its destination.
type BatchSink interface {
	Deliver(ctx context.Context, batch CaptionBatch) error
}

// StreamerOptions configures a Streamer.
type StreamerOptions struct {
	// Interval between periodic flushes. Defaults to 30s.
	Interval time.Duration

	// DeliveryTimeout bounds a single delivery attempt. Defaults to 10s.
	DeliveryTimeout time.Duration

	BodyMode BodyMode
	Enabled  bool
	Logger   *slog.Logger
}

// Streamer periodically ships the delta since the last successful delivery to
// a sink, advancing the coordinator's delivery cursor only on acknowledged
// success. Streaming is an optional feature: while disabled, the cursor is
// advanced unconditionally on every tick so no backlog accumulates.
type Streamer struct {
	coord  *Coordinator
	sink   BatchSink
	logger *slog.Logger

	interval        time.Duration
	deliveryTimeout time.Duration

	mu       sync.Mutex
	bodyMode BodyMode
	enabled  bool
	stopped  bool
	ticker   chan struct{}
}

// NewStreamer creates a batch streamer for the given coordinator and sink.
func NewStreamer(coord *Coordinator, sink BatchSink, opts StreamerOptions) *Streamer {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 10 * time.Second
	}
	if opts.BodyMode != BodyModeAdvanced {
		opts.BodyMode = BodyModeSimple
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Streamer{
		coord:           coord,
		sink:            sink,
		logger:          opts.Logger,
		interval:        opts.Interval,
		deliveryTimeout: opts.DeliveryTimeout,
		bodyMode:        opts.BodyMode,
	}
	if opts.Enabled {
		s.SetEnabled(true)
	}
	return s
}

// SetEnabled toggles streaming. Enabling starts the periodic timer; disabling
// cancels it. Takes effect immediately and is a no-op after Shutdown.
func (s *Streamer) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.enabled == enabled {
		return
	}
	s.enabled = enabled
	if enabled {
		s.startTickerLocked()
	} else {
		s.stopTickerLocked()
	}
}

// SetBodyMode switches the payload schema variant for subsequent flushes.
func (s *Streamer) SetBodyMode(mode BodyMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == BodyModeAdvanced {
		s.bodyMode = BodyModeAdvanced
	} else {
		s.bodyMode = BodyModeSimple
	}
}

func (s *Streamer) startTickerLocked() {
	if s.ticker != nil {
		return
	}
	stop := make(chan struct{})
	s.ticker = stop
	go func() {
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				s.Flush(ReasonPeriodic)
			}
		}
	}()
}

func (s *Streamer) stopTickerLocked() {
	if s.ticker != nil {
		close(s.ticker)
		s.ticker = nil
	}
}

// Flush computes the pending batch and, if it is non-empty, delivers it. On
// delivery failure the cursor is left untouched so the same (growing) delta
// is retried on the next tick; there is no immediate retry.
func (s *Streamer) Flush(reason DeliveryReason) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	enabled := s.enabled
	mode := s.bodyMode
	s.mu.Unlock()

	if !enabled {
		s.coord.skipCursor()
		return
	}

	snap := s.coord.pendingBatch()
	if len(snap.blocks) == 0 {
		s.logger.Debug("no new captions to send", "reason", reason)
		return
	}

	sourceLabel, title, startISO := s.coord.meta()
	batch := CaptionBatch{
		Captions: snap.blocks,
		Metadata: BatchMetadata{
			SourceLabel:           sourceLabel,
			SessionTitle:          title,
			SessionStartTimestamp: startISO,
			BatchStartTimestamp:   snap.blocks[0].Timestamp,
			BatchEndTimestamp:     snap.blocks[len(snap.blocks)-1].Timestamp,
			Reason:                reason,
			BodyMode:              mode,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.deliveryTimeout)
	defer cancel()
	if err := s.sink.Deliver(ctx, batch); err != nil {
		s.logger.Warn("caption batch delivery failed", "reason", reason, "captions", len(batch.Captions), "error", err)
		return
	}

	s.coord.advanceCursor(snap)
	s.logger.Info("caption batch delivered", "reason", reason, "captions", len(batch.Captions))
}

// Shutdown cancels the periodic timer, force-fires one final flush with
// reason shutdown, and permanently stops the streamer.
func (s *Streamer) Shutdown() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopTickerLocked()
	s.mu.Unlock()

	s.Flush(ReasonShutdown)

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}
