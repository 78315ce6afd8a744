// Package wire implements the JSON envelope exchanged with the message server.
// Encoding and decoding are pure transforms: no I/O, no retries.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/treasuretool/treasured/internal/model"
)

// FrameType tags the payload carried by an envelope.
type FrameType string

const (
	FrameChatMessage   FrameType = "CHAT_MESSAGE"
	FrameReadReceipt   FrameType = "READ_RECEIPT"
	FrameOnlineMessage FrameType = "ONLINE_MESSAGE"
)

// OnlineStatus is the ONLINE_MESSAGE payload.
type OnlineStatus struct {
	UserID   string         `json:"userId"`
	Presence model.Presence `json:"presence"`
}

// ReadReceipt is the READ_RECEIPT payload.
type ReadReceipt struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// Frame is a decoded envelope. Exactly one payload field is set, matching Type.
type Frame struct {
	Type      FrameType
	Timestamp int64 // epoch millis, as stamped by the sender

	Message *model.Message
	Status  *OnlineStatus
	Receipt *ReadReceipt
}

// envelope is the bit-exact wire shape.
type envelope struct {
	Type      FrameType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// DecodeError reports a malformed or unrecognized frame. Callers drop the
// frame; a decode failure never changes engine state.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode frame: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode frame: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode wraps payload in an envelope of the given type, stamped with the
// current time in epoch milliseconds.
func Encode(t FrameType, payload any) ([]byte, error) {
	return EncodeAt(t, payload, time.Now().UnixMilli())
}

// EncodeAt is Encode with an explicit timestamp.
func EncodeAt(t FrameType, payload any, timestamp int64) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return json.Marshal(envelope{Type: t, Data: data, Timestamp: timestamp})
}

// Decode parses an envelope and its payload. The payload shape is selected by
// the type tag; unknown JSON fields are ignored for forward compatibility.
func Decode(raw []byte) (*Frame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Reason: "invalid envelope", Err: err}
	}

	frame := &Frame{Type: env.Type, Timestamp: env.Timestamp}

	switch env.Type {
	case FrameChatMessage:
		var msg model.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, &DecodeError{Reason: "invalid chat message payload", Err: err}
		}
		frame.Message = &msg
	case FrameOnlineMessage:
		var st OnlineStatus
		if err := json.Unmarshal(env.Data, &st); err != nil {
			return nil, &DecodeError{Reason: "invalid online status payload", Err: err}
		}
		frame.Status = &st
	case FrameReadReceipt:
		var rr ReadReceipt
		if err := json.Unmarshal(env.Data, &rr); err != nil {
			return nil, &DecodeError{Reason: "invalid read receipt payload", Err: err}
		}
		frame.Receipt = &rr
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown frame type %q", env.Type)}
	}

	return frame, nil
}
