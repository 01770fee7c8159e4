package capture

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testBatch(mode BodyMode) CaptionBatch {
	return CaptionBatch{
		Captions: []UtteranceBlock{
			{PersonName: "Alice", Timestamp: "2026-03-01T10:00:00Z", TranscriptText: "hello"},
			{PersonName: "Bob", Timestamp: "2026-03-01T10:00:05Z", TranscriptText: "hi"},
		},
		Metadata: BatchMetadata{
			SourceLabel:           "Google Meet",
			SessionTitle:          "standup",
			SessionStartTimestamp: "2026-03-01T09:59:00Z",
			BatchStartTimestamp:   "2026-03-01T10:00:00Z",
			BatchEndTimestamp:     "2026-03-01T10:00:05Z",
			Reason:                ReasonPeriodic,
			BodyMode:              mode,
		},
	}
}

func TestWebhookClient_SimpleBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type=%q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("unmarshal body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL, srv.Client())
	if err := c.Deliver(context.Background(), testBatch(BodyModeSimple)); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	transcript, _ := got["transcript"].(string)
	if !strings.Contains(transcript, "Alice: hello") || !strings.Contains(transcript, "Bob: hi") {
		t.Fatalf("transcript=%q", transcript)
	}
	if got["reason"] != "periodic" || got["session_title"] != "standup" {
		t.Fatalf("metadata not flattened into simple body: %v", got)
	}
}

func TestWebhookClient_AdvancedBody(t *testing.T) {
	var got advancedWebhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("unmarshal body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL, srv.Client())
	if err := c.Deliver(context.Background(), testBatch(BodyModeAdvanced)); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if len(got.Captions) != 2 {
		t.Fatalf("captions=%d, want 2", len(got.Captions))
	}
	if got.Captions[0].PersonName != "Alice" || got.Metadata.SessionTitle != "standup" {
		t.Fatalf("unexpected advanced body: %+v", got)
	}
}

func TestWebhookClient_NonSuccessStatusIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "over quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL, srv.Client())
	err := c.Deliver(context.Background(), testBatch(BodyModeSimple))
	if err == nil {
		t.Fatalf("want error on 429 response")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("error does not carry status: %v", err)
	}
}

func TestWebhookClient_UnconfiguredDestination(t *testing.T) {
	c := NewWebhookClient("", nil)
	if c.Configured() {
		t.Fatalf("client with empty url reports configured")
	}
	if err := c.Deliver(context.Background(), testBatch(BodyModeSimple)); err == nil {
		t.Fatalf("want error when destination is unset")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	c.SetURL(srv.URL)
	if err := c.Deliver(context.Background(), testBatch(BodyModeSimple)); err != nil {
		t.Fatalf("deliver after SetURL: %v", err)
	}
}
