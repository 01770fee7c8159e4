// Package capture turns a stream of raw mutation notifications from a live,
// externally-mutated caption source into discrete, timestamped utterance
// blocks, and streams the delta since the last successful delivery to a
// configurable webhook.
package capture

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultSelfSpeaker is the placeholder name many caption sources emit for
// the local participant before the real display name is known.
const DefaultSelfSpeaker = "You"

// Mutation is one change descriptor from the observed source. TargetID is the
// opaque grouping identity: notifications with the same TargetID belong to
// the same logical utterance, and Text carries the complete current text of
// that utterance (a replacement, not an append).
type Mutation struct {
	TargetID string `json:"target_id"`
	Speaker  string `json:"speaker"`
	Text     string `json:"text"`
}

// Notifier receives the single user-visible capture error per session.
type Notifier func(message string)

// BlockListener observes each completed utterance block as it is appended to
// the transcript.
type BlockListener func(UtteranceBlock)

// Options configures a Coordinator.
type Options struct {
	// SourceLabel identifies the observed source, e.g. "Google Meet".
	SourceLabel string

	// SelfSpeaker is the placeholder the source emits for the local user.
	// Defaults to DefaultSelfSpeaker.
	SelfSpeaker string

	// Title is the initial session title. May be replaced later via SetTitle.
	Title string

	Logger  *slog.Logger
	Notify  Notifier
	OnBlock BlockListener

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// captureBuffer is the in-progress, not-yet-finalized utterance. At most one
// is live per coordinator at any time.
type captureBuffer struct {
	targetID  string
	speaker   string
	startedAt time.Time
	text      string
}

// Coordinator owns all per-source capture state. All mutation notifications
// for a source must be delivered to a single Coordinator; it serializes
// observation, flushes, and cursor movement behind one mutex so a batch flush
// never observes a half-updated buffer.
type Coordinator struct {
	mu sync.Mutex

	sourceLabel string
	selfSpeaker string
	title       string
	displayName string
	startedAt   time.Time

	transcript Transcript
	chat       []ChatMessage
	buf        *captureBuffer

	// Delivery cursor: how much of the transcript (completed blocks plus the
	// partial live buffer) has been handed to the batch destination.
	cursorBlockIndex int
	cursorBufferLen  int

	errLatched bool
	errCount   int
	ended      bool

	logger  *slog.Logger
	notify  Notifier
	onBlock BlockListener
	now     func() time.Time
}

// NewCoordinator creates a capture coordinator for one observed source.
func NewCoordinator(opts Options) *Coordinator {
	if opts.SelfSpeaker == "" {
		opts.SelfSpeaker = DefaultSelfSpeaker
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		sourceLabel: opts.SourceLabel,
		selfSpeaker: opts.SelfSpeaker,
		title:       opts.Title,
		startedAt:   opts.Now().UTC(),
		logger:      opts.Logger,
		notify:      opts.Notify,
		onBlock:     opts.OnBlock,
		now:         opts.Now,
	}
}

// SetDisplayName records the locally known display name. The self placeholder
// is resolved at flush time, so a buffer that started before the name was
// known still resolves correctly.
func (c *Coordinator) SetDisplayName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name = strings.TrimSpace(name); name != "" {
		c.displayName = name
	}
}

// SetTitle replaces the session title carried in batch metadata.
func (c *Coordinator) SetTitle(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if title = strings.TrimSpace(title); title != "" {
		c.title = title
	}
}

// OnMutation consumes one batch of change descriptors from the observed
// source. Notifications are processed in order; a single malformed
// notification never aborts observation.
func (c *Coordinator) OnMutation(muts []Mutation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	for _, m := range muts {
		c.applyMutation(m)
	}
}

func (c *Coordinator) applyMutation(m Mutation) {
	if m.TargetID == "" || m.Speaker == "" || m.Text == "" {
		c.captureError("mutation missing target, speaker, or text")
		return
	}

	switch {
	case c.buf == nil:
		// Starting fresh.
		c.startBuffer(m)
	case c.buf.targetID == m.TargetID:
		// Same logical utterance: the source re-emits the complete current
		// text on every update, so replace rather than append.
		c.buf.text = m.Text
	default:
		// New logical utterance: finalize the previous one first.
		c.flushBufferLocked()
		c.startBuffer(m)
	}
}

func (c *Coordinator) startBuffer(m Mutation) {
	c.buf = &captureBuffer{
		targetID:  m.TargetID,
		speaker:   m.Speaker,
		startedAt: c.now().UTC(),
		text:      m.Text,
	}
	c.cursorBufferLen = 0
}

// flushBufferLocked finalizes the live buffer into the transcript. Caller
// holds c.mu.
func (c *Coordinator) flushBufferLocked() {
	if c.buf == nil || c.buf.text == "" {
		c.buf = nil
		c.cursorBufferLen = 0
		return
	}
	block := UtteranceBlock{
		PersonName:     c.resolveSpeakerLocked(c.buf.speaker),
		Timestamp:      c.buf.startedAt.Format(time.RFC3339Nano),
		TranscriptText: c.buf.text,
	}
	c.transcript.Append(block)
	c.buf = nil
	c.cursorBufferLen = 0
	c.logger.Debug("caption captured", "person", block.PersonName, "chars", len(block.TranscriptText))
	if c.onBlock != nil {
		c.onBlock(block)
	}
}

func (c *Coordinator) resolveSpeakerLocked(speaker string) string {
	if speaker == c.selfSpeaker && c.displayName != "" {
		return c.displayName
	}
	return speaker
}

// OnChatMessage records a chat line. The source fires many notifications per
// message, so an already-recorded speaker+text pair is picked only once.
func (c *Coordinator) OnChatMessage(speaker, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	if speaker == "" || text == "" {
		c.captureError("chat message missing speaker or text")
		return
	}
	for _, m := range c.chat {
		if m.PersonName == speaker && m.ChatMessageText == text {
			return
		}
	}
	c.chat = append(c.chat, ChatMessage{
		PersonName:      speaker,
		Timestamp:       c.now().UTC().Format(time.RFC3339Nano),
		ChatMessageText: text,
	})
}

// captureError records a source-unavailable class error. The first occurrence
// per session is logged and surfaced to the user; the latch suppresses
// user-facing noise for the rest of the session. Caller holds c.mu.
func (c *Coordinator) captureError(msg string) {
	c.errCount++
	if c.errLatched {
		return
	}
	c.errLatched = true
	c.logger.Warn("capture source error", "source", c.sourceLabel, "error", msg)
	if c.notify != nil {
		c.notify(msg)
	}
}

// End signals end-of-source. A non-empty live buffer is force-flushed into
// the transcript before teardown; further mutations are ignored.
func (c *Coordinator) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	c.flushBufferLocked()
	c.ended = true
}

// Transcript returns a copy of the completed blocks so far.
func (c *Coordinator) Transcript() []UtteranceBlock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.Blocks()
}

// ChatMessages returns a copy of the chat messages so far.
func (c *Coordinator) ChatMessages() []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChatMessage, len(c.chat))
	copy(out, c.chat)
	return out
}

// ErrorCount reports how many capture errors were latched or suppressed.
func (c *Coordinator) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errCount
}

// batchSnapshot is one flush attempt's view of pending content, recomputed on
// every attempt and never persisted.
type batchSnapshot struct {
	blocks []UtteranceBlock

	// Marks captured at snapshot time. The cursor advances to these exact
	// values on acknowledged delivery, never to the current lengths, so text
	// arriving while a delivery is in flight is not skipped.
	blockMark     int
	bufferMark    int
	bufTargetID   string
	includeBuffer bool
}

// pendingBatch computes everything new since the delivery cursor: completed
// blocks past the block index, plus the unsent suffix of the live buffer as a
// synthetic trailing block. A whitespace-only suffix is dropped without
// advancing the buffer cursor so later non-trivial text from the same buffer
// is still captured in full.
func (c *Coordinator) pendingBatch() batchSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := batchSnapshot{
		blocks:    c.transcript.Since(c.cursorBlockIndex),
		blockMark: c.transcript.Len(),
	}

	if c.buf != nil && len(c.buf.text) > c.cursorBufferLen {
		delta := c.buf.text[c.cursorBufferLen:]
		if strings.TrimSpace(delta) != "" {
			snap.blocks = append(snap.blocks, UtteranceBlock{
				PersonName:     c.resolveSpeakerLocked(c.buf.speaker),
				Timestamp:      c.now().UTC().Format(time.RFC3339Nano),
				TranscriptText: delta,
			})
			snap.bufferMark = len(c.buf.text)
			snap.bufTargetID = c.buf.targetID
			snap.includeBuffer = true
		}
	}
	return snap
}

// advanceCursor moves the delivery cursor to the snapshot marks after an
// acknowledged delivery. The buffer cursor only advances if the same live
// buffer is still in place.
func (c *Coordinator) advanceCursor(snap batchSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap.blockMark > c.cursorBlockIndex {
		c.cursorBlockIndex = snap.blockMark
	}
	if snap.includeBuffer && c.buf != nil && c.buf.targetID == snap.bufTargetID && snap.bufferMark > c.cursorBufferLen {
		c.cursorBufferLen = snap.bufferMark
	}
}

// skipCursor advances the cursor past everything currently captured without
// delivering it. Used while streaming is disabled so no backlog accumulates.
func (c *Coordinator) skipCursor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursorBlockIndex = c.transcript.Len()
	if c.buf != nil {
		c.cursorBufferLen = len(c.buf.text)
	} else {
		c.cursorBufferLen = 0
	}
}

// meta returns the batch metadata fields owned by the coordinator.
func (c *Coordinator) meta() (sourceLabel, title, startISO string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sourceLabel, c.title, c.startedAt.Format(time.RFC3339Nano)
}
