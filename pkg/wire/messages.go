package wire

import "encoding/json"

// Agent dialect message types.
const (
	TypeSettings             = "Settings"
	TypeSettingsApplied      = "SettingsApplied"
	TypeSessionReady         = "SessionReady"
	TypeWelcome              = "Welcome"
	TypeInjectUserMessage    = "InjectUserMessage"
	TypeInjectAgentMessage   = "InjectAgentMessage"
	TypeInjectionRefused     = "InjectionRefused"
	TypeConversationText     = "ConversationText"
	TypeFunctionCallRequest  = "FunctionCallRequest"
	TypeFunctionCallResponse = "FunctionCallResponse"
	TypeUserStartedSpeaking  = "UserStartedSpeaking"
	TypeUtteranceEnd         = "UtteranceEnd"
	TypeVADEvent             = "VADEvent"
	TypeAgentStartedSpeaking = "AgentStartedSpeaking"
	TypeAgentThinking        = "AgentThinking"
	TypeAgentAudioDone       = "AgentAudioDone"
	TypeError                = "Error"
	TypeWarning              = "Warning"
	TypeKeepAlive            = "KeepAlive"
	TypeUpdatePrompt         = "UpdatePrompt"
	TypePromptUpdated        = "PromptUpdated"
	TypeUpdateSpeak          = "UpdateSpeak"
	TypeSpeakUpdated         = "SpeakUpdated"
)

// Error codes carried by [ErrorMessage.Code].
const (
	CodeClientMessageTimeout   = "CLIENT_MESSAGE_TIMEOUT"
	CodeSettingsAlreadyApplied = "SETTINGS_ALREADY_APPLIED"
	CodeActiveResponseConflict = "ACTIVE_RESPONSE_CONFLICT"
	CodeUnparsableClientMsg    = "UNPARSABLE_CLIENT_MESSAGE"
	CodeFunctionCallFailed     = "FUNCTION_CALL_FAILED"

	// CodeUpstreamClosedBeforeReady is synthesised by the proxy when
	// upstream B closes before its readiness event.
	CodeUpstreamClosedBeforeReady = "upstream_closed_before_session_ready"

	// CodeUpstreamClosed is synthesised when a ready upstream goes away.
	CodeUpstreamClosed = "upstream_closed"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Audio encodings.
const (
	EncodingLinear16 = "linear16"
)

// Envelope is the part of every control message needed for routing.
type Envelope struct {
	Type string `json:"type"`
}

// PeekType returns the type field of a JSON control message.
func PeekType(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}

// ── Settings ─────────────────────────────────────────────────────────────────

// Settings is the per-connection handshake. It is sent exactly once per
// socket.
type Settings struct {
	Type  string        `json:"type"`
	Audio AudioSettings `json:"audio"`
	Agent AgentSettings `json:"agent"`
}

// AudioSettings describes both audio directions.
type AudioSettings struct {
	Input  AudioFormat `json:"input"`
	Output AudioFormat `json:"output"`
}

// AudioFormat is one direction's PCM format.
type AudioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Container  string `json:"container,omitempty"`
}

// AgentSettings configures the conversational agent.
type AgentSettings struct {
	Language string           `json:"language,omitempty"`
	Listen   *ListenSettings  `json:"listen,omitempty"`
	Think    ThinkSettings    `json:"think"`
	Speak    *SpeakSettings   `json:"speak,omitempty"`
	Greeting string           `json:"greeting,omitempty"`
	Context  *ContextSettings `json:"context,omitempty"`
}

// ListenSettings selects the speech-to-text provider. Provider blocks are
// passed through opaquely.
type ListenSettings struct {
	Provider map[string]any `json:"provider"`
}

// ThinkSettings selects the language model and its instructions.
type ThinkSettings struct {
	Provider  map[string]any `json:"provider,omitempty"`
	Prompt    string         `json:"prompt,omitempty"`
	Functions []FunctionDef  `json:"functions,omitempty"`
}

// SpeakSettings selects the text-to-speech provider.
type SpeakSettings struct {
	Provider map[string]any `json:"provider"`
}

// Voice returns the provider's "model" or "voice" entry, whichever is set.
func (s *SpeakSettings) Voice() string {
	if s == nil {
		return ""
	}
	for _, k := range []string{"voice", "model"} {
		if v, ok := s.Provider[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// FunctionDef declares a function the agent may call.
type FunctionDef struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Parameters  map[string]any    `json:"parameters,omitempty"`
	Endpoint    *FunctionEndpoint `json:"endpoint,omitempty"`
}

// FunctionEndpoint makes a function server-side: the upstream calls it
// directly instead of asking the client.
type FunctionEndpoint struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ContextSettings seeds the conversation with prior turns.
type ContextSettings struct {
	Messages []ContextMessage `json:"messages"`
}

// ContextMessage is one seeded turn.
type ContextMessage struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContextMessageHistory is the only [ContextMessage.Type] currently defined.
const ContextMessageHistory = "History"

// ── Conversation ─────────────────────────────────────────────────────────────

// Welcome is the upstream's first message on a new socket.
type Welcome struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

// InjectUserMessage is a user-authored text turn.
type InjectUserMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// InjectAgentMessage asks the agent to speak the given text.
type InjectAgentMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ConversationText is a transcript entry for either role.
type ConversationText struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FunctionCallRequest asks the client to execute one or more functions.
type FunctionCallRequest struct {
	Type      string         `json:"type"`
	Functions []FunctionCall `json:"functions"`
}

// FunctionCall is one requested invocation.
type FunctionCall struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	ClientSide bool   `json:"client_side"`
}

// FunctionCallResponse carries the client's result for one call.
type FunctionCallResponse struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// UpdatePrompt replaces the agent's instructions mid-session.
type UpdatePrompt struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt"`
}

// UpdateSpeak replaces the text-to-speech provider mid-session.
type UpdateSpeak struct {
	Type  string        `json:"type"`
	Speak SpeakSettings `json:"speak"`
}

// ErrorMessage is used for both Error and Warning.
type ErrorMessage struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Signal is any message whose only field is its type (KeepAlive,
// SettingsApplied, UserStartedSpeaking and similar).
type Signal struct {
	Type string `json:"type"`
}

// NewSignal returns a type-only message.
func NewSignal(typ string) Signal { return Signal{Type: typ} }

// NewError returns an Error message.
func NewError(code, description string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Code: code, Description: description}
}

// NewWarning returns a Warning message.
func NewWarning(code, description string) ErrorMessage {
	return ErrorMessage{Type: TypeWarning, Code: code, Description: description}
}
