// Package protocol defines the websocket message types exchanged between
// capture clients and the gateway, and the strict decoding rules for them.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/minuteflow/minuteflow/pkg/gateway/ingest"
)

const (
	// Client message types.
	TypeJoin   = "join"
	TypeLeave  = "leave"
	TypeIngest = "ingest"
	TypeAsk    = "ask"

	// Server message types.
	TypeAnalysisResult = "analysis_result"
	TypeQnAResponse    = "qna_response"
	TypeError          = "error"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// ClientJoin subscribes the connection to a session's result stream.
type ClientJoin struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// ClientLeave drops the connection's subscription to a session.
type ClientLeave struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// ClientIngest carries one transcript event into the pipeline.
type ClientIngest struct {
	Type string `json:"type"`
	ingest.Event
}

// ClientAsk is an ad-hoc question about a session's transcript.
type ClientAsk struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

// DecodeClientMessage parses one inbound frame into its typed message.
// Frames that fail validation are rejected with a *DecodeError rather than
// half-decoded.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeJoin:
		var msg ClientJoin
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid join frame", "")
		}
		if strings.TrimSpace(msg.SessionID) == "" {
			return nil, badRequest("join.session_id is required", "session_id")
		}
		return msg, nil
	case TypeLeave:
		var msg ClientLeave
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid leave frame", "")
		}
		if strings.TrimSpace(msg.SessionID) == "" {
			return nil, badRequest("leave.session_id is required", "session_id")
		}
		return msg, nil
	case TypeIngest:
		var msg ClientIngest
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid ingest frame", "")
		}
		if strings.TrimSpace(msg.SessionID) == "" {
			return nil, badRequest("ingest.session_id is required", "session_id")
		}
		if msg.Text == "" {
			return nil, badRequest("ingest.text is required", "text")
		}
		return msg, nil
	case TypeAsk:
		var msg ClientAsk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid ask frame", "")
		}
		if strings.TrimSpace(msg.SessionID) == "" {
			return nil, badRequest("ask.session_id is required", "session_id")
		}
		if strings.TrimSpace(msg.Question) == "" {
			return nil, badRequest("ask.question is required", "question")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// ServerEvent is the envelope for every message the gateway sends.
type ServerEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// ServerError reports a rejected frame back to the client.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// ErrorEvent builds a ServerError from a decode failure.
func ErrorEvent(err error) ServerError {
	if de, ok := err.(*DecodeError); ok {
		return ServerError{
			Type:    TypeError,
			Code:    de.Code,
			Message: de.Message,
			Param:   de.Param,
		}
	}
	return ServerError{
		Type:    TypeError,
		Code:    "internal",
		Message: "internal error",
	}
}
