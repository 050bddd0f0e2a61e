package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// FrameKind classifies a decoded WebSocket frame.
type FrameKind int

const (
	// FrameControl is a JSON control message of a known type.
	FrameControl FrameKind = iota + 1

	// FrameAudio is raw PCM16 audio.
	FrameAudio
)

// String returns "control" or "audio".
func (k FrameKind) String() string {
	switch k {
	case FrameControl:
		return "control"
	case FrameAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Frame is one classified WebSocket message.
type Frame struct {
	Kind FrameKind

	// Type is the control message type. Empty for audio.
	Type string

	// Data is the JSON payload for control frames and the even-length PCM16
	// payload for audio frames.
	Data []byte

	// Truncated is set when an odd-length audio payload lost its trailing
	// byte.
	Truncated bool
}

// Decode errors. Both are recoverable: the frame is dropped and the
// connection stays open.
var (
	// ErrUnknownType is returned for JSON whose type is not in the dialect.
	ErrUnknownType = errors.New("wire: unknown control message type")

	// ErrMalformed is returned for text frames that are not JSON objects
	// with a type field.
	ErrMalformed = errors.New("wire: malformed control message")
)

// Decode classifies a frame received on a socket speaking dialect d.
//
// Binary payloads that parse as a JSON object with a known type are control
// frames; binary payloads that do not parse as JSON are audio. Parsed JSON
// with an unknown or missing type is rejected with [ErrUnknownType] rather
// than misrouted as audio. Text payloads must be control messages.
func (d *Dialect) Decode(typ websocket.MessageType, data []byte) (Frame, error) {
	if typ == websocket.MessageBinary && !looksLikeJSON(data) {
		return audioFrame(data), nil
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if typ == websocket.MessageBinary {
			return audioFrame(data), nil
		}
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		if typ == websocket.MessageText {
			return Frame{}, fmt.Errorf("%w: missing type", ErrMalformed)
		}
		return Frame{}, fmt.Errorf("%w: missing type in binary JSON", ErrUnknownType)
	}
	if !d.Knows(env.Type) {
		return Frame{}, fmt.Errorf("%w: %q (%s dialect)", ErrUnknownType, env.Type, d.name)
	}
	return Frame{Kind: FrameControl, Type: env.Type, Data: data}, nil
}

func audioFrame(data []byte) Frame {
	fixed, truncated := audio.RepairPCM16(data)
	return Frame{Kind: FrameAudio, Data: fixed, Truncated: truncated}
}

// looksLikeJSON is a cheap pre-check so ordinary audio never reaches the
// JSON decoder.
func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return utf8.Valid(trimmed)
}

// Encode marshals a control message.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	return data, nil
}
