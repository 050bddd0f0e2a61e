package agent

import (
	"errors"
	"fmt"

	"github.com/MrWong99/voxbridge/pkg/wire"
)

// ErrorKind classifies every error a [Conn] reports. Hosts branch on the
// kind, never on message text.
type ErrorKind int

const (
	// KindInvalidOptions is a caller error: the [SessionConfig] failed
	// validation. No socket was opened.
	KindInvalidOptions ErrorKind = iota + 1

	// KindConnection means the WebSocket could not be established.
	KindConnection

	// KindIdleTimeout means the idle timer fired.
	KindIdleTimeout

	// KindFunctionCallTimeout means a function call was not answered within
	// the upstream's response window.
	KindFunctionCallTimeout

	// KindSettingsAlreadyApplied means the upstream rejected a second
	// Settings message on the same socket.
	KindSettingsAlreadyApplied

	// KindActiveResponseConflict means a session update collided with an
	// in-progress response.
	KindActiveResponseConflict

	// KindUpstreamClosedBeforeReady means the socket closed before any
	// readiness signal arrived.
	KindUpstreamClosedBeforeReady

	// KindUpstreamClosed means a ready socket was closed by the far side.
	KindUpstreamClosed

	// KindMessageTimeout means the upstream closed because it received no
	// client message for too long.
	KindMessageTimeout

	// KindUpstream is any other Error message from the upstream.
	KindUpstream

	// KindWarning is a Warning message from the upstream.
	KindWarning

	// KindQueuedMessageDropped is reported once for every message still
	// waiting for readiness when the connection closed.
	KindQueuedMessageDropped

	// KindStaleFunctionCallResponse means a response named a call that is
	// unknown, already answered, or timed out. Nothing was transmitted.
	KindStaleFunctionCallResponse

	// KindAudioTruncated means an odd-length PCM16 frame lost its trailing
	// byte.
	KindAudioTruncated
)

var kindNames = map[ErrorKind]string{
	KindInvalidOptions:            "invalid_options",
	KindConnection:                "connection",
	KindIdleTimeout:               "idle_timeout",
	KindFunctionCallTimeout:       "function_call_timeout",
	KindSettingsAlreadyApplied:    "settings_already_applied",
	KindActiveResponseConflict:    "active_response_conflict",
	KindUpstreamClosedBeforeReady: "upstream_closed_before_ready",
	KindUpstreamClosed:            "upstream_closed",
	KindMessageTimeout:            "message_timeout",
	KindUpstream:                  "upstream",
	KindWarning:                   "warning",
	KindQueuedMessageDropped:      "queued_message_dropped",
	KindStaleFunctionCallResponse: "stale_function_call_response",
	KindAudioTruncated:            "audio_truncated",
}

// String returns the snake_case kind name used in logs and metrics.
func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Fatal reports whether errors of this kind close the connection.
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindConnection, KindIdleTimeout, KindFunctionCallTimeout,
		KindSettingsAlreadyApplied, KindActiveResponseConflict,
		KindUpstreamClosedBeforeReady, KindUpstreamClosed, KindMessageTimeout:
		return true
	}
	return false
}

// Error is the typed error delivered through [ErrorEvent] and returned by
// [Conn] methods.
type Error struct {
	Kind ErrorKind

	// Code is the upstream error code, when there was one.
	Code string

	// CallID is set for function-call related kinds.
	CallID string

	// Err is the underlying condition.
	Err error
}

// Fatal reports whether the error closed the connection.
func (e *Error) Fatal() bool { return e.Kind.Fatal() }

func (e *Error) Error() string {
	msg := "agent: " + e.Kind.String()
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.CallID != "" {
		msg += " call " + e.CallID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinel values below work
// with [errors.Is].
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for [errors.Is].
var (
	ErrInvalidOptions            = &Error{Kind: KindInvalidOptions}
	ErrConnection                = &Error{Kind: KindConnection}
	ErrIdleTimeout               = &Error{Kind: KindIdleTimeout}
	ErrFunctionCallTimeout       = &Error{Kind: KindFunctionCallTimeout}
	ErrSettingsAlreadyApplied    = &Error{Kind: KindSettingsAlreadyApplied}
	ErrActiveResponseConflict    = &Error{Kind: KindActiveResponseConflict}
	ErrUpstreamClosedBeforeReady = &Error{Kind: KindUpstreamClosedBeforeReady}
	ErrUpstreamClosed            = &Error{Kind: KindUpstreamClosed}
	ErrMessageTimeout            = &Error{Kind: KindMessageTimeout}
	ErrStaleFunctionCallResponse = &Error{Kind: KindStaleFunctionCallResponse}
	ErrQueuedMessageDropped      = &Error{Kind: KindQueuedMessageDropped}
)

// Usage errors returned directly by [Conn] methods.
var (
	// ErrClosed is returned after [Conn.Close].
	ErrClosed = errors.New("agent: connection handle closed")

	// ErrNotConnected is returned by operations that need a live socket.
	ErrNotConnected = errors.New("agent: not connected")

	// ErrNotReady is returned by [Conn.SendAudio] before readiness. The audio
	// was dropped.
	ErrNotReady = errors.New("agent: connection not ready, audio dropped")

	// ErrAlreadyConnected is returned by [Conn.Reconnect] while a socket is
	// still open.
	ErrAlreadyConnected = errors.New("agent: already connected")
)

// errorFromMessage maps an upstream Error or Warning message to a typed error.
func errorFromMessage(msg wire.ErrorMessage) *Error {
	kind := KindUpstream
	if msg.Type == wire.TypeWarning {
		kind = KindWarning
	} else {
		switch msg.Code {
		case wire.CodeClientMessageTimeout:
			kind = KindMessageTimeout
		case wire.CodeSettingsAlreadyApplied:
			kind = KindSettingsAlreadyApplied
		case wire.CodeActiveResponseConflict:
			kind = KindActiveResponseConflict
		case wire.CodeUpstreamClosedBeforeReady:
			kind = KindUpstreamClosedBeforeReady
		case wire.CodeUpstreamClosed:
			kind = KindUpstreamClosed
		}
	}
	var err error
	if msg.Description != "" {
		err = errors.New(msg.Description)
	}
	return &Error{Kind: kind, Code: msg.Code, Err: err}
}
