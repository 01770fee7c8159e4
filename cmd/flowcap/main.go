// Command flowcap is the capture agent. It reads observation events from a
// caption source on stdin (one JSON object per line), assembles them into
// utterance blocks, and forwards finalized blocks to a flowd gateway over
// websocket. Optionally it also streams periodic caption batches to a
// webhook.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/minuteflow/minuteflow/pkg/capture"
	"github.com/minuteflow/minuteflow/pkg/gateway/ingest"
	"github.com/minuteflow/minuteflow/pkg/gateway/live/protocol"
)

type captureConfig struct {
	ServerURL   string
	APIKey      string
	SessionID   string
	SourceLabel string
	SelfSpeaker string
	Title       string

	WebhookURL     string
	StreamInterval time.Duration
	BodyMode       capture.BodyMode
}

func loadCaptureConfig() (captureConfig, error) {
	cfg := captureConfig{
		ServerURL:      os.Getenv("FLOWCAP_SERVER_URL"),
		APIKey:         os.Getenv("FLOWCAP_API_KEY"),
		SessionID:      os.Getenv("FLOWCAP_SESSION_ID"),
		SourceLabel:    os.Getenv("FLOWCAP_SOURCE_LABEL"),
		SelfSpeaker:    os.Getenv("FLOWCAP_SELF_SPEAKER"),
		Title:          os.Getenv("FLOWCAP_TITLE"),
		WebhookURL:     os.Getenv("FLOWCAP_WEBHOOK_URL"),
		StreamInterval: 30 * time.Second,
		BodyMode:       capture.BodyModeSimple,
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.SourceLabel == "" {
		cfg.SourceLabel = "Google Meet"
	}
	if raw := os.Getenv("FLOWCAP_STREAM_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("FLOWCAP_STREAM_INTERVAL: invalid duration %q", raw)
		}
		cfg.StreamInterval = d
	}
	if raw := os.Getenv("FLOWCAP_BODY_MODE"); raw != "" {
		switch capture.BodyMode(raw) {
		case capture.BodyModeSimple, capture.BodyModeAdvanced:
			cfg.BodyMode = capture.BodyMode(raw)
		default:
			return cfg, fmt.Errorf("FLOWCAP_BODY_MODE: must be %q or %q", capture.BodyModeSimple, capture.BodyModeAdvanced)
		}
	}
	if cfg.ServerURL == "" && cfg.WebhookURL == "" {
		return cfg, errors.New("set FLOWCAP_SERVER_URL or FLOWCAP_WEBHOOK_URL, captions have nowhere to go")
	}
	return cfg, nil
}

// inputEvent is one line of the stdin observation protocol.
type inputEvent struct {
	Type      string             `json:"type"`
	Mutations []capture.Mutation `json:"mutations,omitempty"`
	Name      string             `json:"name,omitempty"`
	Title     string             `json:"title,omitempty"`
	Speaker   string             `json:"speaker,omitempty"`
	Text      string             `json:"text,omitempty"`
	Question  string             `json:"question,omitempty"`

	// stream_config fields; omitted fields leave the current value alone.
	URL      *string `json:"url,omitempty"`
	BodyMode *string `json:"body_mode,omitempty"`
	Enabled  *bool   `json:"enabled,omitempty"`
}

// gatewayLink is the agent's side of the flowd websocket. Writes are
// serialized because blocks finalize on the stdin goroutine while the read
// pump runs on its own.
type gatewayLink struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  *slog.Logger
}

func dialGateway(ctx context.Context, cfg captureConfig, logger *slog.Logger) (*gatewayLink, error) {
	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.ServerURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial gateway: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	return &gatewayLink{conn: conn, log: logger}, nil
}

func (l *gatewayLink) send(v any) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.WriteJSON(v)
}

func (l *gatewayLink) join(sessionID string) error {
	return l.send(protocol.ClientJoin{Type: protocol.TypeJoin, SessionID: sessionID})
}

func (l *gatewayLink) ask(sessionID, question string) error {
	return l.send(protocol.ClientAsk{Type: protocol.TypeAsk, SessionID: sessionID, Question: question})
}

func (l *gatewayLink) ingest(sessionID string, block capture.UtteranceBlock) error {
	ts := time.Now().UnixMilli()
	if parsed, err := time.Parse(time.RFC3339Nano, block.Timestamp); err == nil {
		ts = parsed.UnixMilli()
	}
	return l.send(protocol.ClientIngest{
		Type: protocol.TypeIngest,
		Event: ingest.Event{
			SessionID:   sessionID,
			Speaker:     block.PersonName,
			Text:        block.TranscriptText,
			TimestampMs: ts,
			IsFinal:     true,
		},
	})
}

func (l *gatewayLink) close() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = l.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = l.conn.Close()
}

// readPump copies every server frame to out as one JSON line, so whatever is
// driving flowcap sees analysis results and answers as they arrive.
func (l *gatewayLink) readPump(out io.Writer) {
	if l == nil {
		return
	}
	enc := json.NewEncoder(out)
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.log.Warn("gateway connection lost", "error", err)
			}
			return
		}
		var frame json.RawMessage = data
		if err := enc.Encode(frame); err != nil {
			return
		}
	}
}

func runCapture(ctx context.Context, logger *slog.Logger, cfg captureConfig, in io.Reader, out io.Writer) error {
	var link *gatewayLink
	if cfg.ServerURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		l, err := dialGateway(dialCtx, cfg, logger)
		if err != nil {
			return err
		}
		link = l
		defer link.close()

		if err := link.join(cfg.SessionID); err != nil {
			return fmt.Errorf("join session: %w", err)
		}
		go link.readPump(out)
		logger.Info("connected to gateway", "session_id", cfg.SessionID)
	}

	coord := capture.NewCoordinator(capture.Options{
		SourceLabel: cfg.SourceLabel,
		SelfSpeaker: cfg.SelfSpeaker,
		Title:       cfg.Title,
		Logger:      logger,
		Notify: func(message string) {
			logger.Warn("capture problem", "message", message)
		},
		OnBlock: func(block capture.UtteranceBlock) {
			if link == nil {
				return
			}
			if err := link.ingest(cfg.SessionID, block); err != nil {
				logger.Warn("forwarding caption failed", "error", err)
			}
		},
	})

	sink := capture.NewWebhookClient(cfg.WebhookURL, nil)
	streamer := capture.NewStreamer(coord, sink, capture.StreamerOptions{
		Interval: cfg.StreamInterval,
		BodyMode: cfg.BodyMode,
		Enabled:  sink.Configured(),
		Logger:   logger,
	})
	defer streamer.Shutdown()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			coord.End()
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev inputEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			logger.Warn("skipping malformed input line", "error", err)
			continue
		}

		switch ev.Type {
		case "mutation":
			coord.OnMutation(ev.Mutations)
		case "display_name":
			coord.SetDisplayName(ev.Name)
		case "title":
			coord.SetTitle(ev.Title)
		case "chat":
			coord.OnChatMessage(ev.Speaker, ev.Text)
		case "stream_config":
			if ev.URL != nil {
				sink.SetURL(*ev.URL)
			}
			if ev.BodyMode != nil {
				streamer.SetBodyMode(capture.BodyMode(*ev.BodyMode))
			}
			if ev.Enabled != nil {
				streamer.SetEnabled(*ev.Enabled && sink.Configured())
			}
		case "ask":
			if link == nil {
				logger.Warn("ask ignored, no gateway connection")
				continue
			}
			if err := link.ask(cfg.SessionID, ev.Question); err != nil {
				logger.Warn("ask failed", "error", err)
			}
		case "end":
			coord.End()
			logger.Info("capture ended",
				"blocks", len(coord.Transcript()),
				"chat_messages", len(coord.ChatMessages()),
				"errors", coord.ErrorCount(),
			)
			return nil
		default:
			logger.Warn("skipping unknown input event", "type", ev.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	// EOF without an explicit end event still finalizes the live buffer.
	coord.End()
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, in io.Reader, out io.Writer) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	_ = godotenv.Load()

	cfg, err := loadCaptureConfig()
	if err != nil {
		fmt.Fprintf(stderr, "flowcap: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runCapture(ctx, logger, cfg, in, out); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "flowcap: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, os.Stdin, os.Stdout))
}
