// Package wire defines the two upstream protocol dialects spoken by voxbridge,
// the JSON control messages of the uniform agent dialect, and the frame codec
// that tells control traffic apart from PCM16 audio.
//
// Every client speaks the agent dialect. The realtime dialect is only spoken
// between the proxy and upstream B; its event names live here so both the
// codec and the proxy agree on the known set.
package wire

import (
	"fmt"
	"time"
)

// UpstreamKind identifies which upstream a connection ultimately talks to.
type UpstreamKind string

const (
	// UpstreamAgent is the speech-native agent API (upstream A), reached
	// directly.
	UpstreamAgent UpstreamKind = "agent"

	// UpstreamRealtime is the generic multimodal realtime API (upstream B),
	// reached through the voxbridge proxy.
	UpstreamRealtime UpstreamKind = "realtime"
)

// IsValid reports whether k is a recognised upstream kind.
func (k UpstreamKind) IsValid() bool {
	switch k {
	case UpstreamAgent, UpstreamRealtime:
		return true
	}
	return false
}

// defaultFunctionCallTimeout applies to kinds without an entry in
// functionCallTimeouts.
const defaultFunctionCallTimeout = 60 * time.Second

var functionCallTimeouts = map[UpstreamKind]time.Duration{
	UpstreamAgent:    60 * time.Second,
	UpstreamRealtime: 60 * time.Second,
}

// FunctionCallTimeout returns how long the upstream waits for a function-call
// result before giving up on the turn. The window is owned by the upstream and
// is not user-configurable.
func (k UpstreamKind) FunctionCallTimeout() time.Duration {
	if d, ok := functionCallTimeouts[k]; ok {
		return d
	}
	return defaultFunctionCallTimeout
}

// ReadySignal names the upstream event class that marks a connection ready
// for conversational turns. It is an open enum: new dialects may map their
// own message types onto an existing signal or register a new value above
// [SignalSessionCreated].
type ReadySignal int

const (
	// SignalNone means the message does not signal readiness.
	SignalNone ReadySignal = iota

	// SignalSettingsApplied is the agent dialect's acknowledgement of Settings.
	SignalSettingsApplied

	// SignalSessionCreated is a session-created style acknowledgement.
	SignalSessionCreated
)

// String returns a readable name for the signal.
func (s ReadySignal) String() string {
	switch s {
	case SignalNone:
		return "none"
	case SignalSettingsApplied:
		return "settings_applied"
	case SignalSessionCreated:
		return "session_created"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// Dialect is the set of control message types one upstream can emit or
// accept, plus the subset that signals readiness.
//
// A Dialect is configured once at start-up. Register* methods must not be
// called concurrently with lookups.
type Dialect struct {
	name  string
	known map[string]struct{}
	ready map[string]ReadySignal
}

// NewDialect creates a dialect that recognises the given message types.
func NewDialect(name string, types ...string) *Dialect {
	d := &Dialect{
		name:  name,
		known: make(map[string]struct{}, len(types)),
		ready: make(map[string]ReadySignal),
	}
	d.Register(types...)
	return d
}

// Name returns the dialect's display name.
func (d *Dialect) Name() string { return d.name }

// Register adds message types to the known set.
func (d *Dialect) Register(types ...string) {
	for _, t := range types {
		d.known[t] = struct{}{}
	}
}

// RegisterReadySignal marks messageType as carrying sig. The type is also
// added to the known set.
func (d *Dialect) RegisterReadySignal(messageType string, sig ReadySignal) {
	d.known[messageType] = struct{}{}
	d.ready[messageType] = sig
}

// Knows reports whether messageType belongs to the dialect.
func (d *Dialect) Knows(messageType string) bool {
	_, ok := d.known[messageType]
	return ok
}

// ReadySignal returns the readiness signal carried by messageType, or
// [SignalNone].
func (d *Dialect) ReadySignal(messageType string) ReadySignal {
	return d.ready[messageType]
}

// Agent is the uniform dialect spoken by every client and by upstream A.
var Agent = newAgentDialect()

// Realtime is upstream B's event vocabulary.
var Realtime = newRealtimeDialect()

func newAgentDialect() *Dialect {
	d := NewDialect("agent",
		TypeSettings, TypeWelcome, TypeInjectUserMessage, TypeInjectAgentMessage,
		TypeInjectionRefused, TypeConversationText, TypeFunctionCallRequest,
		TypeFunctionCallResponse, TypeUserStartedSpeaking, TypeUtteranceEnd,
		TypeVADEvent, TypeAgentStartedSpeaking, TypeAgentThinking,
		TypeAgentAudioDone, TypeError, TypeWarning, TypeKeepAlive,
		TypeUpdatePrompt, TypePromptUpdated, TypeUpdateSpeak, TypeSpeakUpdated,
	)
	d.RegisterReadySignal(TypeSettingsApplied, SignalSettingsApplied)
	d.RegisterReadySignal(TypeSessionReady, SignalSessionCreated)
	return d
}

func newRealtimeDialect() *Dialect {
	d := NewDialect("realtime",
		// client events
		RTSessionUpdate, RTInputAudioAppend, RTInputAudioCommit, RTInputAudioClear,
		RTItemCreate, RTItemTruncate, RTItemDelete, RTResponseCreate, RTResponseCancel,
		// server events
		RTError, RTSessionCreated, RTConversationCreated, RTItemCreated,
		RTItemTruncated, RTItemDeleted, RTInputTranscriptionCompleted,
		RTInputTranscriptionFailed, RTInputAudioCommitted, RTInputAudioCleared,
		RTSpeechStarted, RTSpeechStopped, RTResponseCreated, RTResponseDone,
		RTOutputItemAdded, RTOutputItemDone, RTContentPartAdded, RTContentPartDone,
		RTTextDelta, RTTextDone, RTAudioTranscriptDelta, RTAudioTranscriptDone,
		RTAudioDelta, RTAudioDone, RTFunctionArgsDelta, RTFunctionArgsDone,
		RTRateLimitsUpdated,
	)
	d.RegisterReadySignal(RTSessionUpdated, SignalSessionCreated)
	return d
}
