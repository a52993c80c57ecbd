package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeTurnRequest  MessageType = "turn_request"
	TypeGreetRequest MessageType = "greet_request"
	TypeTurnResult   MessageType = "turn_result"
	TypeGreetResult  MessageType = "greet_result"
	TypeSystemEvent  MessageType = "system_event"
	TypeErrorEvent   MessageType = "error_event"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidMessage  = errors.New("invalid message")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// TurnRequest carries one recorded clip. RequestID is echoed on the reply so
// clients can pipeline requests over one connection. Filename is the optional
// name of the recording, used as a format hint.
type TurnRequest struct {
	Type        MessageType     `json:"type"`
	RequestID   string          `json:"request_id,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	Voice       string          `json:"voice"`
	Profile     json.RawMessage `json:"profile,omitempty"`
	Filename    string          `json:"filename,omitempty"`
	AudioBase64 string          `json:"audio_base64"`

	Audio []byte `json:"-"`
}

type GreetRequest struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	SessionID string          `json:"session_id"`
	Voice     string          `json:"voice"`
	Profile   json.RawMessage `json:"profile,omitempty"`
}

type Timings struct {
	RecognitionMS int64 `json:"recognition_ms,omitempty"`
	GenerationMS  int64 `json:"generation_ms"`
	SynthesisMS   int64 `json:"synthesis_ms"`
	TotalMS       int64 `json:"total_ms"`
}

type TurnResult struct {
	Type           MessageType `json:"type"`
	RequestID      string      `json:"request_id,omitempty"`
	SessionID      string      `json:"session_id"`
	UserText       string      `json:"user_text"`
	ReplyText      string      `json:"reply_text"`
	AudioBase64    string      `json:"audio_base64"`
	ShouldNavigate bool        `json:"should_navigate"`
	TargetPage     *string     `json:"target_page"`
	Timings        Timings     `json:"timings"`
}

type GreetResult struct {
	Type        MessageType `json:"type"`
	RequestID   string      `json:"request_id,omitempty"`
	SessionID   string      `json:"session_id"`
	ReplyText   string      `json:"reply_text"`
	AudioBase64 string      `json:"audio_base64"`
	Timings     Timings     `json:"timings"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates one inbound frame. Turn audio is
// decoded into TurnRequest.Audio; maxAudioBytes <= 0 disables the size check.
func ParseClientMessage(raw []byte, maxAudioBytes int) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeTurnRequest:
		var msg TurnRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		if strings.TrimSpace(msg.AudioBase64) == "" {
			return nil, fmt.Errorf("%w: turn_request requires audio_base64", ErrInvalidMessage)
		}
		if maxAudioBytes > 0 && base64.StdEncoding.DecodedLen(len(msg.AudioBase64)) > maxAudioBytes+3 {
			return nil, fmt.Errorf("%w: audio exceeds %d bytes", ErrInvalidMessage, maxAudioBytes)
		}
		audio, err := base64.StdEncoding.DecodeString(msg.AudioBase64)
		if err != nil {
			return nil, fmt.Errorf("%w: audio_base64: %v", ErrInvalidMessage, err)
		}
		msg.Audio = audio
		return msg, nil
	case TypeGreetRequest:
		var msg GreetRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, env.Type)
	}
}

// ProfileText flattens a profile sent either as a JSON string or as any other
// JSON value. Non-string values are passed on compacted.
func ProfileText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// ProfileJSON is the client side of ProfileText: JSON text is sent as is,
// anything else as a JSON string.
func ProfileJSON(text string) json.RawMessage {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text)
	}
	quoted, _ := json.Marshal(text)
	return quoted
}

// TargetPage maps an empty target onto a JSON null.
func TargetPage(target string) *string {
	if target == "" {
		return nil
	}
	return &target
}
