package wire_test

import (
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/pkg/wire"
)

func TestDialect_ReadySignals(t *testing.T) {
	t.Parallel()

	if got := wire.Agent.ReadySignal(wire.TypeSettingsApplied); got != wire.SignalSettingsApplied {
		t.Errorf("SettingsApplied signal = %v; want %v", got, wire.SignalSettingsApplied)
	}
	if got := wire.Agent.ReadySignal(wire.TypeSessionReady); got != wire.SignalSessionCreated {
		t.Errorf("SessionReady signal = %v; want %v", got, wire.SignalSessionCreated)
	}
	if got := wire.Agent.ReadySignal(wire.TypeConversationText); got != wire.SignalNone {
		t.Errorf("ConversationText signal = %v; want none", got)
	}
	if got := wire.Realtime.ReadySignal(wire.RTSessionUpdated); got != wire.SignalSessionCreated {
		t.Errorf("session.updated signal = %v; want %v", got, wire.SignalSessionCreated)
	}
}

func TestDialect_RegisterCustomSignal(t *testing.T) {
	t.Parallel()

	const signalHandshakeDone wire.ReadySignal = wire.SignalSessionCreated + 1

	d := wire.NewDialect("third", "hello")
	if d.Knows("handshake.done") {
		t.Fatal("type known before registration")
	}
	d.RegisterReadySignal("handshake.done", signalHandshakeDone)
	if !d.Knows("handshake.done") {
		t.Error("RegisterReadySignal did not add type to known set")
	}
	if got := d.ReadySignal("handshake.done"); got != signalHandshakeDone {
		t.Errorf("signal = %v; want %v", got, signalHandshakeDone)
	}
	if got := signalHandshakeDone.String(); got != "signal(3)" {
		t.Errorf("String() = %q; want %q", got, "signal(3)")
	}
}

func TestUpstreamKind(t *testing.T) {
	t.Parallel()

	for _, k := range []wire.UpstreamKind{wire.UpstreamAgent, wire.UpstreamRealtime} {
		if !k.IsValid() {
			t.Errorf("%q.IsValid() = false", k)
		}
		if got := k.FunctionCallTimeout(); got != 60*time.Second {
			t.Errorf("%q.FunctionCallTimeout() = %v; want 60s", k, got)
		}
	}
	if wire.UpstreamKind("other").IsValid() {
		t.Error(`"other".IsValid() = true`)
	}
}

func TestSpeakSettings_Voice(t *testing.T) {
	t.Parallel()

	var nilSpeak *wire.SpeakSettings
	if got := nilSpeak.Voice(); got != "" {
		t.Errorf("nil Voice() = %q", got)
	}
	s := &wire.SpeakSettings{Provider: map[string]any{"type": "x", "model": "aura-asteria-en"}}
	if got := s.Voice(); got != "aura-asteria-en" {
		t.Errorf("Voice() = %q; want aura-asteria-en", got)
	}
}
