package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/minuteflow/minuteflow/pkg/gateway/broadcast"
	"github.com/minuteflow/minuteflow/pkg/gateway/config"
	"github.com/minuteflow/minuteflow/pkg/gateway/lifecycle"
	"github.com/minuteflow/minuteflow/pkg/gateway/metrics"
)

func testServer() *Server {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	return New(config.Config{
		AuthMode:            config.AuthModeDisabled,
		APIKeys:             map[string]struct{}{},
		CORSAllowedOrigins:  map[string]struct{}{},
		BufferWordThreshold: 50,
		BufferIdleTimeout:   30 * time.Second,
		IngestWorkers:       5,
		WSMaxMessageBytes:   64 * 1024,
		WSWriteTimeout:      5 * time.Second,
		ReadHeaderTimeout:   10 * time.Second,
		ReadTimeout:         30 * time.Second,
	}, logger, Pipeline{
		Lifecycle:   lifecycle.New(),
		Broadcaster: broadcast.New(),
		Metrics:     metrics.New("minuteflow_test"),
	})
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s := testServer()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"not_found"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_HealthRoutes_Reachable(t *testing.T) {
	s := testServer()

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		s.Handler().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("path %s status=%d body=%q", path, rr.Code, rr.Body.String())
		}
	}
}

func TestServer_MetricsRoute_Reachable(t *testing.T) {
	s := testServer()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestServer_RequiredAuth_RejectsAnonymous(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	s := New(config.Config{
		AuthMode:            config.AuthModeRequired,
		APIKeys:             map[string]struct{}{"sk-test": {}},
		CORSAllowedOrigins:  map[string]struct{}{},
		BufferWordThreshold: 50,
		BufferIdleTimeout:   30 * time.Second,
		IngestWorkers:       5,
		WSMaxMessageBytes:   64 * 1024,
		WSWriteTimeout:      5 * time.Second,
		ReadHeaderTimeout:   10 * time.Second,
		ReadTimeout:         30 * time.Second,
	}, logger, Pipeline{
		Lifecycle:   lifecycle.New(),
		Broadcaster: broadcast.New(),
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/stream", nil)
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz should bypass auth, status=%d", rr.Code)
	}
}

// The upgrade must survive the full middleware chain: the access-log wrapper
// has to expose the hijacker of the underlying connection or the handshake
// fails with a 500.
func TestServer_WebSocketUpgradeThroughMiddleware(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	bc := broadcast.New()
	s := New(config.Config{
		AuthMode:            config.AuthModeDisabled,
		APIKeys:             map[string]struct{}{},
		CORSAllowedOrigins:  map[string]struct{}{},
		BufferWordThreshold: 50,
		BufferIdleTimeout:   30 * time.Second,
		IngestWorkers:       5,
		WSMaxMessageBytes:   64 * 1024,
		WSWriteTimeout:      5 * time.Second,
		ReadHeaderTimeout:   10 * time.Second,
		ReadTimeout:         30 * time.Second,
	}, logger, Pipeline{
		Lifecycle:   lifecycle.New(),
		Broadcaster: bc,
		Metrics:     metrics.New("minuteflow_ws_test"),
	})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status=%d)", err, status)
	}
	defer conn.Close()

	// The upgraded connection is live: a join lands a subscription.
	if err := conn.WriteJSON(map[string]string{"type": "join", "session_id": "s1"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for bc.SubscriberCount("s1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("join never registered a subscriber")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_StreamRoute_Reachable(t *testing.T) {
	s := testServer()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/stream", nil)
	s.Handler().ServeHTTP(rr, req)
	// A plain GET is not a websocket upgrade; reachable means not 404.
	if rr.Code == http.StatusNotFound {
		t.Fatalf("/v1/stream unexpectedly returned 404")
	}
}
