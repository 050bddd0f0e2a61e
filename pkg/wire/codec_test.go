package wire_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxbridge/pkg/wire"
)

func TestDecode_Classification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		typ      websocket.MessageType
		data     []byte
		wantKind wire.FrameKind
		wantType string
		wantErr  error
	}{
		{
			name:     "text control",
			typ:      websocket.MessageText,
			data:     []byte(`{"type":"SettingsApplied"}`),
			wantKind: wire.FrameControl,
			wantType: wire.TypeSettingsApplied,
		},
		{
			name:     "binary control",
			typ:      websocket.MessageBinary,
			data:     []byte(`{"type":"ConversationText","role":"user","content":"hi"}`),
			wantKind: wire.FrameControl,
			wantType: wire.TypeConversationText,
		},
		{
			name:     "binary audio",
			typ:      websocket.MessageBinary,
			data:     []byte{0x01, 0x02, 0x03, 0x04},
			wantKind: wire.FrameAudio,
		},
		{
			name:     "binary starting with brace but not json",
			typ:      websocket.MessageBinary,
			data:     []byte{'{', 0x00, 0x10, 0x20},
			wantKind: wire.FrameAudio,
		},
		{
			name:    "binary json unknown type",
			typ:     websocket.MessageBinary,
			data:    []byte(`{"type":"Bogus"}`),
			wantErr: wire.ErrUnknownType,
		},
		{
			name:    "binary json without type",
			typ:     websocket.MessageBinary,
			data:    []byte(`{"foo":1}`),
			wantErr: wire.ErrUnknownType,
		},
		{
			name:    "text unknown type",
			typ:     websocket.MessageText,
			data:    []byte(`{"type":"session.update"}`),
			wantErr: wire.ErrUnknownType,
		},
		{
			name:    "text not json",
			typ:     websocket.MessageText,
			data:    []byte(`hello`),
			wantErr: wire.ErrMalformed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := wire.Agent.Decode(tt.typ, tt.data)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decode error = %v; want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if f.Kind != tt.wantKind {
				t.Errorf("kind = %v; want %v", f.Kind, tt.wantKind)
			}
			if f.Type != tt.wantType {
				t.Errorf("type = %q; want %q", f.Type, tt.wantType)
			}
		})
	}
}

func TestDecode_OddAudioTruncated(t *testing.T) {
	t.Parallel()

	in := []byte{0x10, 0x00, 0x20, 0x00, 0x30}
	f, err := wire.Agent.Decode(websocket.MessageBinary, in)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !f.Truncated {
		t.Error("expected Truncated for odd-length audio")
	}
	if !bytes.Equal(f.Data, in[:4]) {
		t.Errorf("Data = %v; want %v", f.Data, in[:4])
	}

	even := []byte{0x10, 0x00}
	f, err = wire.Agent.Decode(websocket.MessageBinary, even)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Truncated || len(f.Data) != 2 {
		t.Errorf("even buffer changed: truncated=%v len=%d", f.Truncated, len(f.Data))
	}
}

func TestDecode_RealtimeDialect(t *testing.T) {
	t.Parallel()

	f, err := wire.Realtime.Decode(websocket.MessageText, []byte(`{"type":"response.done","response":{}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Type != wire.RTResponseDone {
		t.Errorf("type = %q; want %q", f.Type, wire.RTResponseDone)
	}
	if _, err := wire.Realtime.Decode(websocket.MessageText, []byte(`{"type":"Settings"}`)); !errors.Is(err, wire.ErrUnknownType) {
		t.Errorf("agent type on realtime dialect: err = %v; want ErrUnknownType", err)
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	data, err := wire.Encode(wire.InjectUserMessage{Type: wire.TypeInjectUserMessage, Content: "hello"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	typ, err := wire.PeekType(data)
	if err != nil {
		t.Fatalf("PeekType: %v", err)
	}
	if typ != wire.TypeInjectUserMessage {
		t.Errorf("type = %q; want %q", typ, wire.TypeInjectUserMessage)
	}
}
