package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeClientMessage_Join(t *testing.T) {
	raw := []byte(`{"type":"join","session_id":"standup-42"}`)

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	join, ok := msg.(ClientJoin)
	if !ok {
		t.Fatalf("decoded type = %T, want ClientJoin", msg)
	}
	if join.SessionID != "standup-42" {
		t.Fatalf("session_id=%q", join.SessionID)
	}
}

func TestDecodeClientMessage_Ingest(t *testing.T) {
	raw := []byte(`{
		"type":"ingest",
		"session_id":"standup-42",
		"speaker":"Dana",
		"text":"let's move the launch to Friday",
		"timestamp_ms":1717000000000,
		"is_final":true
	}`)

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	ing := msg.(ClientIngest)
	if ing.Speaker != "Dana" || !ing.IsFinal {
		t.Fatalf("ingest=%+v", ing)
	}
	if err := ing.Event.Validate(); err != nil {
		t.Fatalf("decoded event invalid: %v", err)
	}
}

func TestDecodeClientMessage_IngestMissingRequired(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"no session", `{"type":"ingest","text":"hi"}`},
		{"no text", `{"type":"ingest","session_id":"s"}`},
	}
	for _, tc := range cases {
		_, err := DecodeClientMessage([]byte(tc.raw))
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		decErr, ok := err.(*DecodeError)
		if !ok {
			t.Fatalf("%s: err type = %T", tc.name, err)
		}
		if decErr.Code != "bad_request" {
			t.Fatalf("%s: code=%q", tc.name, decErr.Code)
		}
	}
}

func TestDecodeClientMessage_Ask(t *testing.T) {
	raw := []byte(`{"type":"ask","session_id":"standup-42","question":"any blockers?"}`)

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	ask := msg.(ClientAsk)
	if ask.Question != "any blockers?" {
		t.Fatalf("question=%q", ask.Question)
	}
}

func TestDecodeClientMessage_AskMissingQuestion(t *testing.T) {
	raw := []byte(`{"type":"ask","session_id":"standup-42","question":"  "}`)
	if _, err := DecodeClientMessage(raw); err == nil {
		t.Fatal("expected error")
	}
}

func TestDecodeClientMessage_UnsupportedType(t *testing.T) {
	raw := []byte(`{"type":"reboot"}`)
	_, err := DecodeClientMessage(raw)
	if err == nil {
		t.Fatal("expected error")
	}
	decErr, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("err type = %T", err)
	}
	if decErr.Param != "type" {
		t.Fatalf("param=%q", decErr.Param)
	}
}

func TestDecodeClientMessage_InvalidJSON(t *testing.T) {
	if _, err := DecodeClientMessage([]byte(`{not json`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestErrorEvent(t *testing.T) {
	ev := ErrorEvent(badRequest("ingest.text is required", "text"))
	blob, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded ServerError
	if err := json.Unmarshal(blob, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != TypeError || decoded.Code != "bad_request" || decoded.Param != "text" {
		t.Fatalf("decoded=%+v", decoded)
	}
}
