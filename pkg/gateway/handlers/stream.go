package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/minuteflow/minuteflow/pkg/gateway/analyze"
	"github.com/minuteflow/minuteflow/pkg/gateway/broadcast"
	"github.com/minuteflow/minuteflow/pkg/gateway/config"
	"github.com/minuteflow/minuteflow/pkg/gateway/ingest"
	"github.com/minuteflow/minuteflow/pkg/gateway/lifecycle"
	"github.com/minuteflow/minuteflow/pkg/gateway/live/protocol"
	"github.com/minuteflow/minuteflow/pkg/gateway/metrics"
	"github.com/minuteflow/minuteflow/pkg/gateway/mw"
)

// StreamHandler handles /v1/stream websocket connections: transcript
// ingestion, session subscriptions, and ad-hoc questions.
type StreamHandler struct {
	Config      config.Config
	Logger      *slog.Logger
	Lifecycle   *lifecycle.Lifecycle
	Broadcaster *broadcast.Broadcaster
	Queue       *ingest.Queue
	Buffer      *ingest.Buffer
	Dispatcher  *analyze.Dispatcher
	Metrics     *metrics.Metrics
}

func (h StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle.IsDraining() {
		http.Error(w, "gateway is draining", http.StatusServiceUnavailable)
		return
	}
	if !h.originAllowed(r) {
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.WSMaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.WSMaxMessageBytes)
	}

	writer := newConnWriter(conn, h.Config.WSWriteTimeout)
	connCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if h.Config.WSPingInterval > 0 {
		go writer.pingLoop(connCtx, h.Config.WSPingInterval)
	}

	if h.Metrics != nil {
		h.Metrics.SubscribersActive.Inc()
		defer h.Metrics.SubscribersActive.Dec()
	}

	// Per-connection subscriptions, released on disconnect.
	unsubs := make(map[string]func())
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	var asks sync.WaitGroup
	defer asks.Wait()

	for {
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		decoded, err := protocol.DecodeClientMessage(frame)
		if err != nil {
			h.Metrics.RecordEvent("rejected")
			h.Logger.Warn("rejected client frame", "request_id", reqID, "error", err)
			_ = writer.WriteJSON(protocol.ErrorEvent(err))
			continue
		}

		switch msg := decoded.(type) {
		case protocol.ClientJoin:
			if _, ok := unsubs[msg.SessionID]; ok {
				continue
			}
			unsubs[msg.SessionID] = h.Broadcaster.Subscribe(msg.SessionID, broadcast.Handle{
				Send: func(event string, payload any) error {
					return writer.WriteJSON(protocol.ServerEvent{
						Type:      event,
						SessionID: msg.SessionID,
						Payload:   payload,
					})
				},
				// Closing the connection unblocks ReadMessage so the read
				// loop exits and releases its subscriptions during drain.
				Close: func() {
					cancel()
					_ = conn.Close()
				},
			})

		case protocol.ClientLeave:
			if unsub, ok := unsubs[msg.SessionID]; ok {
				unsub()
				delete(unsubs, msg.SessionID)
			}

		case protocol.ClientIngest:
			h.Metrics.RecordEvent("accepted")
			if err := h.Queue.Submit(msg.Event, nil); err != nil {
				h.Metrics.RecordEvent("dropped")
				h.Logger.Warn("ingest event dropped",
					"request_id", reqID,
					"session_id", msg.SessionID,
					"error", err,
				)
				_ = writer.WriteJSON(protocol.ServerError{
					Type:    protocol.TypeError,
					Code:    "overloaded",
					Message: "ingestion queue is full",
				})
			}

		case protocol.ClientAsk:
			transcript := h.Buffer.Context(msg.SessionID)
			sessionID := msg.SessionID
			question := msg.Question
			asks.Add(1)
			go func() {
				defer asks.Done()
				answer := h.Dispatcher.AnswerQuery(connCtx, transcript, question)
				_ = writer.WriteJSON(protocol.ServerEvent{
					Type:      protocol.TypeQnAResponse,
					SessionID: sessionID,
					Payload:   answer,
				})
			}()
		}
	}
}

func (h StreamHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

// connWriter serializes writes to a websocket connection. The broadcaster,
// the ask goroutines, and the read loop all write concurrently.
type connWriter struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
}

func newConnWriter(conn *websocket.Conn, timeout time.Duration) *connWriter {
	return &connWriter{conn: conn, timeout: timeout}
}

func (w *connWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	}
	return w.conn.WriteJSON(v)
}

func (w *connWriter) pingLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			deadline := time.Now().Add(w.timeout)
			err := w.conn.WriteControl(websocket.PingMessage, nil, deadline)
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
