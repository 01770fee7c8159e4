// Package ingest accumulates inbound transcript text per session and feeds
// it downstream in analyzable chunks.
package ingest

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/minuteflow/minuteflow/pkg/gateway/metrics"
)

const (
	// DefaultWordThreshold triggers an immediate flush once a session's
	// unflushed text reaches this many words.
	DefaultWordThreshold = 50
	// DefaultIdleTimeout flushes a session that stops receiving text.
	DefaultIdleTimeout = 30 * time.Second
	// DefaultRetention reclaims sessions with no activity at all.
	DefaultRetention = 10 * time.Minute

	janitorInterval = time.Minute
)

// FlushFunc receives a snapshot of one session's buffered text. Each call
// runs on its own goroutine outside the session lock, so it may block; new
// text keeps accumulating while it does.
type FlushFunc func(sessionID, text string)

// BufferConfig configures a Buffer.
type BufferConfig struct {
	WordThreshold int
	IdleTimeout   time.Duration
	Retention     time.Duration
	Flush         FlushFunc
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Buffer holds per-session text between flushes. All mutations of one
// session's state are serialized behind that session's lock; different
// sessions proceed independently.
type Buffer struct {
	mu       sync.Mutex
	sessions map[string]*session
	closed   bool

	wordThreshold int
	idleTimeout   time.Duration
	retention     time.Duration
	flush         FlushFunc
	log           *slog.Logger
	metrics       *metrics.Metrics

	stopJanitor chan struct{}
	janitorDone chan struct{}
	flushes     sync.WaitGroup

	now func() time.Time
}

type session struct {
	mu         sync.Mutex
	text       strings.Builder
	words      int
	idleTimer  *time.Timer
	lastActive time.Time
}

// NewBuffer creates a Buffer and starts its idle-session janitor.
func NewBuffer(cfg BufferConfig) *Buffer {
	if cfg.WordThreshold <= 0 {
		cfg.WordThreshold = DefaultWordThreshold
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := &Buffer{
		sessions:      make(map[string]*session),
		wordThreshold: cfg.WordThreshold,
		idleTimeout:   cfg.IdleTimeout,
		retention:     cfg.Retention,
		flush:         cfg.Flush,
		log:           cfg.Logger,
		metrics:       cfg.Metrics,
		stopJanitor:   make(chan struct{}),
		janitorDone:   make(chan struct{}),
		now:           time.Now,
	}
	go b.janitor()
	return b
}

// Add appends text to the named session's buffer. Reaching the word
// threshold flushes immediately; otherwise the idle timer is rearmed.
func (b *Buffer) Add(sessionID, text string) {
	s := b.session(sessionID)
	if s == nil {
		return
	}

	trimmed := strings.TrimSpace(text)

	s.mu.Lock()
	if trimmed != "" {
		if s.text.Len() > 0 {
			s.text.WriteByte(' ')
		}
		s.text.WriteString(trimmed)
		s.words += len(strings.Fields(trimmed))
	}
	s.lastActive = b.now()

	if s.words >= b.wordThreshold {
		snapshot := b.takeSnapshotLocked(s)
		s.mu.Unlock()
		b.dispatch(sessionID, snapshot, "words")
		return
	}

	b.rearmIdleLocked(sessionID, s)
	s.mu.Unlock()
}

// Flush forces out whatever the session has buffered right now.
func (b *Buffer) Flush(sessionID string) {
	b.flushSession(sessionID, "manual")
}

// Context returns the session's current unflushed text without consuming
// it.
func (b *Buffer) Context(sessionID string) string {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// Close stops the janitor and all idle timers, flushes whatever text is
// still buffered, and waits for in-flight flushes to finish.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	sessions := b.sessions
	b.sessions = make(map[string]*session)
	b.mu.Unlock()

	close(b.stopJanitor)
	<-b.janitorDone

	for id, s := range sessions {
		s.mu.Lock()
		snapshot := b.takeSnapshotLocked(s)
		s.mu.Unlock()
		b.dispatch(id, snapshot, "shutdown")
	}
	b.flushes.Wait()
	if b.metrics != nil {
		b.metrics.SessionsActive.Set(0)
	}
}

func (b *Buffer) session(id string) *session {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	s, ok := b.sessions[id]
	if !ok {
		s = &session{lastActive: b.now()}
		b.sessions[id] = s
		if b.metrics != nil {
			b.metrics.SessionsActive.Set(float64(len(b.sessions)))
		}
	}
	return s
}

// takeSnapshotLocked empties the session and returns what it held. The
// caller holds s.mu. Resetting before the downstream call runs means text
// arriving during that call lands in a fresh buffer and is never lost or
// double-counted.
func (b *Buffer) takeSnapshotLocked(s *session) string {
	snapshot := s.text.String()
	s.text.Reset()
	s.words = 0
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	return snapshot
}

func (b *Buffer) rearmIdleLocked(sessionID string, s *session) {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(b.idleTimeout, func() {
		b.flushSession(sessionID, "idle")
	})
}

func (b *Buffer) flushSession(sessionID, trigger string) {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	snapshot := b.takeSnapshotLocked(s)
	s.mu.Unlock()
	b.dispatch(sessionID, snapshot, trigger)
}

// dispatch hands a snapshot to the flush callback on its own goroutine so
// a slow downstream (the analysis pacer, a stalled subscriber) never blocks
// the caller that triggered the flush.
func (b *Buffer) dispatch(sessionID, snapshot, trigger string) {
	if strings.TrimSpace(snapshot) == "" {
		return
	}
	b.metrics.RecordFlush(trigger)
	b.log.Debug("session buffer flushed",
		"session_id", sessionID,
		"trigger", trigger,
		"chars", len(snapshot),
	)
	if b.flush == nil {
		return
	}
	b.flushes.Add(1)
	go func() {
		defer b.flushes.Done()
		b.flush(sessionID, snapshot)
	}()
}

// janitor drops sessions that have seen no activity for the retention
// window so abandoned sessions cannot grow the map forever.
func (b *Buffer) janitor() {
	defer close(b.janitorDone)
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.reap()
		case <-b.stopJanitor:
			return
		}
	}
}

func (b *Buffer) reap() {
	cutoff := b.now().Add(-b.retention)
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.sessions {
		s.mu.Lock()
		stale := s.lastActive.Before(cutoff) && s.text.Len() == 0
		if stale && s.idleTimer != nil {
			s.idleTimer.Stop()
		}
		s.mu.Unlock()
		if stale {
			delete(b.sessions, id)
			b.log.Debug("reclaimed idle session", "session_id", id)
		}
	}
	if b.metrics != nil {
		b.metrics.SessionsActive.Set(float64(len(b.sessions)))
	}
}
