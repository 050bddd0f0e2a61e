package proxy

import "github.com/MrWong99/voxbridge/pkg/wire"

// ── Realtime client events ────────────────────────────────────────────────────

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string            `json:"modalities,omitempty"`
	Voice                   string              `json:"voice,omitempty"`
	Instructions            string              `json:"instructions,omitempty"`
	Tools                   []tool              `json:"tools,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string              `json:"output_audio_format,omitempty"`
	InputAudioTranscription *transcriptionParam `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection      `json:"turn_detection,omitempty"`
}

type tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type transcriptionParam struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type appendAudio struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type itemCreate struct {
	Type string `json:"type"`
	Item item   `json:"item"`
}

type item struct {
	ID      string        `json:"id,omitempty"`
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []contentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type responseCreate struct {
	EventID  string          `json:"event_id,omitempty"`
	Type     string          `json:"type"`
	Response *responseParams `json:"response,omitempty"`
}

type responseParams struct {
	Instructions string `json:"instructions,omitempty"`
}

// ── Realtime server events ────────────────────────────────────────────────────

// serverEvent is the union of the server event fields the translator reads.
type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta
	Delta string `json:"delta,omitempty"`

	// response.audio_transcript.done, input transcription
	Transcript string `json:"transcript,omitempty"`

	// response.text.done
	Text string `json:"text,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// conversation.item.created
	Item *struct {
		ID string `json:"id"`
	} `json:"item,omitempty"`

	// error
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
		Message string `json:"message"`
		EventID string `json:"event_id,omitempty"`
	} `json:"error,omitempty"`
}

// messageItem builds a conversation message. Assistant content is "text",
// everything else "input_text".
func messageItem(id, role, text string) item {
	partType := "input_text"
	switch role {
	case wire.RoleAssistant:
		partType = "text"
	case wire.RoleUser, "system":
	default:
		role = wire.RoleUser
	}
	return item{
		ID:      id,
		Type:    "message",
		Role:    role,
		Content: []contentPart{{Type: partType, Text: text}},
	}
}
