package analyze

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClient struct {
	mu        sync.Mutex
	calls     int
	result    *Result
	answer    string
	err       error
	lastText  string
	lastQuery string
}

func (f *fakeClient) Analyze(ctx context.Context, text string) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastText = text
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeClient) Answer(ctx context.Context, transcript, question string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastText = transcript
	f.lastQuery = question
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func newTestDispatcher(client Client) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		Client:      client,
		MinInterval: time.Millisecond,
		Logger:      discardLogger(),
	})
}

func TestProcessTranscriptReturnsModelResult(t *testing.T) {
	want := &Result{Summary: "decided on the rollout date", Tasks: []Task{}, Citations: []Citation{}}
	client := &fakeClient{result: want}
	d := newTestDispatcher(client)

	got := d.ProcessTranscript(context.Background(), "we agreed to ship Tuesday")
	if got.Summary != want.Summary {
		t.Fatalf("summary = %q, want %q", got.Summary, want.Summary)
	}
	if client.lastText != "we agreed to ship Tuesday" {
		t.Fatalf("client received %q", client.lastText)
	}
}

func TestProcessTranscriptFallsBackOnError(t *testing.T) {
	client := &fakeClient{err: errors.New("upstream 503")}
	d := newTestDispatcher(client)

	got := d.ProcessTranscript(context.Background(), "anything")
	if got == nil {
		t.Fatal("expected a fallback result, got nil")
	}
	if got.Visualization == nil || got.Visualization.Type != "mermaid" {
		t.Fatalf("fallback visualization = %+v", got.Visualization)
	}
	if got.Tasks == nil || got.Citations == nil {
		t.Fatal("fallback must carry empty, non-nil arrays")
	}
}

func TestProcessTranscriptWithoutClientServesFallback(t *testing.T) {
	d := newTestDispatcher(nil)

	got := d.ProcessTranscript(context.Background(), "anything")
	if !strings.Contains(got.Summary, "Unavailable") {
		t.Fatalf("summary = %q", got.Summary)
	}
}

func TestAnswerQueryTruncatesContext(t *testing.T) {
	client := &fakeClient{answer: "the deadline is Friday"}
	d := newTestDispatcher(client)

	long := strings.Repeat("a", contextTailChars+100) + "TAIL"
	got := d.AnswerQuery(context.Background(), long, "when is the deadline?")
	if got.Answer != "the deadline is Friday" {
		t.Fatalf("answer = %q", got.Answer)
	}
	if len(client.lastText) != contextTailChars {
		t.Fatalf("context length = %d, want %d", len(client.lastText), contextTailChars)
	}
	if !strings.HasSuffix(client.lastText, "TAIL") {
		t.Fatal("context must keep the transcript tail, not the head")
	}
	if got.RequestID == "" {
		t.Fatal("answer must carry a request id")
	}
}

func TestAnswerQueryCannedFallbacks(t *testing.T) {
	client := &fakeClient{err: errors.New("quota exceeded")}
	d := newTestDispatcher(client)

	cases := []struct {
		question string
		want     string
	}{
		{"what did they say about the API?", "Redis cache layer"},
		{"any risks raised?", "migration timeline"},
		{"what's for lunch?", "Q3 deliverables"},
	}
	for _, tc := range cases {
		got := d.AnswerQuery(context.Background(), "ctx", tc.question)
		if !strings.Contains(got.Answer, tc.want) {
			t.Errorf("question %q: answer %q does not mention %q", tc.question, got.Answer, tc.want)
		}
	}
}

func TestParseResultRejectsMalformedShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "sure, here's your analysis!"},
		{"missing summary", `{"tasks":[],"citations":[]}`},
		{"missing tasks", `{"summary":"s","citations":[]}`},
		{"missing citations", `{"summary":"s","tasks":[]}`},
	}
	for _, tc := range cases {
		if _, err := parseResult(tc.raw); err == nil {
			t.Errorf("%s: expected parse error", tc.name)
		}
	}
}

func TestParseResultAcceptsMinimalShape(t *testing.T) {
	got, err := parseResult(`{"summary":"s","tasks":[],"visualization":null,"citations":[]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Summary != "s" || got.Visualization != nil {
		t.Fatalf("result = %+v", got)
	}
}
