package proxy

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/wire"
)

// Dest names the socket an [Action] is written to.
type Dest int

const (
	ToClient Dest = iota + 1
	ToUpstream
)

// String returns "client" or "upstream".
func (d Dest) String() string {
	switch d {
	case ToClient:
		return "client"
	case ToUpstream:
		return "upstream"
	default:
		return "none"
	}
}

// Action is one step the session performs, in order.
type Action struct {
	Dest    Dest
	Payload []byte
	Binary  bool

	// Close ends the session once every preceding action was written.
	Close bool

	// Err is set when the payload could not be encoded. The action is
	// skipped.
	Err error
}

// Gate names reported to [TranslatorConfig.OnGate].
const (
	GateReadiness      = "readiness"
	GateContext        = "context"
	GateResponse       = "response_create"
	GateFunctionResult = "function_result"
	GateSessionUpdate  = "session_update"
)

// TranslatorConfig configures a [Translator].
type TranslatorConfig struct {
	// DefaultVoice is used when Settings carry no speak provider.
	DefaultVoice string

	// TranscriptionModel enables user transcripts. Empty disables them.
	TranscriptionModel string

	// NewID returns conversation item ids. Default: uuid based.
	NewID func() string

	// OnGate is called whenever an event is held back by a gate.
	OnGate func(gate string)

	// OnTruncate is called for every odd-length client audio frame.
	OnTruncate func()
}

// Translator rewrites the agent dialect into realtime events and back. It
// is not safe for concurrent use: one session goroutine owns it and feeds it
// client and upstream frames in delivery order.
//
// Ordering rules enforced here:
//   - Conversation context from Settings is sent only after session.updated.
//   - A user message gets its response.create only after conversation.item.created
//     acknowledged that exact item.
//   - A function result gets its response.create only after response.done of
//     the response that requested the call. response.audio.done never counts.
//   - Prompt or voice updates are held while a response is open.
//   - A response.create rejected with an error before response.created
//     closes the response again, so later turns are not stalled.
//   - An upstream that closes before readiness is reported with its own code.
type Translator struct {
	cfg TranslatorConfig

	settings    *wire.Settings
	sessionSent bool
	ready       bool
	closed      bool

	in, out audio.Resampler

	held           [][]byte
	pendingContext []item
	greeting       string

	responseOpen bool
	wantResponse bool
	// pendingCreate is the event id of a response.create that upstream has
	// not confirmed with response.created yet.
	pendingCreate string
	createSeq     int
	awaitingAck  map[string]struct{}
	calls        map[string]string
	heldUpdates  []heldUpdate
	updateAcks   []string
	speaking     bool
}

type heldUpdate struct {
	params sessionParams
	ack    string
}

// NewTranslator returns a [Translator] for one session.
func NewTranslator(cfg TranslatorConfig) *Translator {
	if cfg.NewID == nil {
		cfg.NewID = newItemID
	}
	if cfg.OnGate == nil {
		cfg.OnGate = func(string) {}
	}
	if cfg.OnTruncate == nil {
		cfg.OnTruncate = func() {}
	}
	return &Translator{
		cfg:         cfg,
		awaitingAck: make(map[string]struct{}),
		calls:       make(map[string]string),
	}
}

// newItemID returns a realtime item id (at most 32 characters).
func newItemID() string {
	return "item_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:27]
}

// Ready reports whether upstream acknowledged the session configuration.
func (t *Translator) Ready() bool { return t.ready }

// Welcome greets a freshly connected client.
func (t *Translator) Welcome(requestID string) []Action {
	return []Action{toClient(wire.Welcome{Type: wire.TypeWelcome, RequestID: requestID})}
}

// ── Client → upstream ────────────────────────────────────────────────────────

// HandleClient translates one decoded client frame.
func (t *Translator) HandleClient(f wire.Frame) []Action {
	if t.closed {
		return nil
	}
	if f.Kind == wire.FrameAudio {
		return t.clientAudio(f)
	}
	if f.Type == wire.TypeSettings {
		return t.clientSettings(f.Data)
	}
	if !t.ready {
		t.held = append(t.held, f.Data)
		t.cfg.OnGate(GateReadiness)
		return nil
	}
	return t.clientControl(f.Type, f.Data)
}

func (t *Translator) clientAudio(f wire.Frame) []Action {
	if f.Truncated {
		t.cfg.OnTruncate()
	}
	if !t.ready {
		t.cfg.OnGate(GateReadiness)
		return nil
	}
	if len(f.Data) == 0 {
		return nil
	}
	pcm := t.in.Convert(f.Data)
	if len(pcm) == 0 {
		return nil
	}
	return []Action{toUpstream(appendAudio{
		Type:  wire.RTInputAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})}
}

func (t *Translator) clientSettings(data []byte) []Action {
	if t.settings != nil {
		return t.fail(wire.CodeSettingsAlreadyApplied, "settings were already applied to this session")
	}
	var s wire.Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return t.fail(wire.CodeUnparsableClientMsg, "invalid Settings: "+err.Error())
	}
	for _, f := range []wire.AudioFormat{s.Audio.Input, s.Audio.Output} {
		if f.Encoding != "" && f.Encoding != wire.EncodingLinear16 {
			return t.fail(wire.CodeUnparsableClientMsg, fmt.Sprintf("unsupported audio encoding %q", f.Encoding))
		}
	}
	t.settings = &s
	t.in = audio.Resampler{SrcRate: s.Audio.Input.SampleRate, DstRate: wire.RealtimeSampleRate}
	t.out = audio.Resampler{SrcRate: wire.RealtimeSampleRate, DstRate: s.Audio.Output.SampleRate}
	t.greeting = s.Agent.Greeting
	if s.Agent.Context != nil {
		for _, m := range s.Agent.Context.Messages {
			t.pendingContext = append(t.pendingContext, messageItem("", m.Role, m.Content))
			t.cfg.OnGate(GateContext)
		}
	}

	params := sessionParams{
		Modalities:        []string{"text", "audio"},
		Voice:             s.Agent.Speak.Voice(),
		Instructions:      s.Agent.Think.Prompt,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     &turnDetection{Type: "server_vad"},
	}
	if params.Voice == "" {
		params.Voice = t.cfg.DefaultVoice
	}
	if t.cfg.TranscriptionModel != "" {
		params.InputAudioTranscription = &transcriptionParam{Model: t.cfg.TranscriptionModel}
	}

	var acts []Action
	for _, fn := range s.Agent.Think.Functions {
		if fn.Endpoint != nil {
			acts = append(acts, toClient(wire.NewWarning(wire.CodeFunctionCallFailed,
				fmt.Sprintf("function %q has an endpoint; server-side functions are not supported and it was not declared", fn.Name))))
			continue
		}
		params.Tools = append(params.Tools, tool{
			Type:        "function",
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  fn.Parameters,
		})
	}

	t.sessionSent = true
	return append(acts, toUpstream(sessionUpdate{Type: wire.RTSessionUpdate, Session: params}))
}

func (t *Translator) clientControl(typ string, data []byte) []Action {
	switch typ {
	case wire.TypeInjectUserMessage:
		var msg wire.InjectUserMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return t.warn(wire.CodeUnparsableClientMsg, err)
		}
		id := t.cfg.NewID()
		t.awaitingAck[id] = struct{}{}
		t.cfg.OnGate(GateResponse)
		return []Action{toUpstream(itemCreate{Type: wire.RTItemCreate, Item: messageItem(id, wire.RoleUser, msg.Content)})}

	case wire.TypeInjectAgentMessage:
		var msg wire.InjectAgentMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return t.warn(wire.CodeUnparsableClientMsg, err)
		}
		if t.busy() {
			return []Action{toClient(wire.NewSignal(wire.TypeInjectionRefused))}
		}
		return []Action{t.createResponse("Say exactly the following to the user: " + msg.Message)}

	case wire.TypeFunctionCallResponse:
		var msg wire.FunctionCallResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			return t.warn(wire.CodeUnparsableClientMsg, err)
		}
		if _, ok := t.calls[msg.ID]; !ok {
			return []Action{toClient(wire.NewWarning(wire.CodeFunctionCallFailed,
				fmt.Sprintf("no pending function call with id %q", msg.ID)))}
		}
		delete(t.calls, msg.ID)
		t.wantResponse = true
		acts := []Action{toUpstream(itemCreate{Type: wire.RTItemCreate, Item: item{
			Type:   "function_call_output",
			CallID: msg.ID,
			Output: msg.Content,
		}})}
		more := t.maybeRespond()
		if len(more) == 0 {
			t.cfg.OnGate(GateFunctionResult)
		}
		return append(acts, more...)

	case wire.TypeUpdatePrompt:
		var msg wire.UpdatePrompt
		if err := json.Unmarshal(data, &msg); err != nil {
			return t.warn(wire.CodeUnparsableClientMsg, err)
		}
		return t.sessionUpdate(sessionParams{Instructions: msg.Prompt}, wire.TypePromptUpdated)

	case wire.TypeUpdateSpeak:
		var msg wire.UpdateSpeak
		if err := json.Unmarshal(data, &msg); err != nil {
			return t.warn(wire.CodeUnparsableClientMsg, err)
		}
		return t.sessionUpdate(sessionParams{Voice: msg.Speak.Voice()}, wire.TypeSpeakUpdated)
	}
	// KeepAlive and server-only types have no realtime equivalent.
	return nil
}

// busy reports whether a response is open or about to be requested.
func (t *Translator) busy() bool {
	return t.responseOpen || t.wantResponse || len(t.awaitingAck) > 0 || len(t.calls) > 0
}

func (t *Translator) sessionUpdate(p sessionParams, ack string) []Action {
	if t.responseOpen {
		t.heldUpdates = append(t.heldUpdates, heldUpdate{params: p, ack: ack})
		t.cfg.OnGate(GateSessionUpdate)
		return nil
	}
	t.updateAcks = append(t.updateAcks, ack)
	return []Action{toUpstream(sessionUpdate{Type: wire.RTSessionUpdate, Session: p})}
}

// maybeRespond requests the next response once nothing blocks it.
func (t *Translator) maybeRespond() []Action {
	if !t.wantResponse || t.responseOpen || len(t.awaitingAck) > 0 || len(t.calls) > 0 {
		return nil
	}
	t.wantResponse = false
	return []Action{t.createResponse("")}
}

func (t *Translator) createResponse(instructions string) Action {
	t.responseOpen = true
	t.createSeq++
	t.pendingCreate = fmt.Sprintf("evt_response_create_%d", t.createSeq)
	msg := responseCreate{EventID: t.pendingCreate, Type: wire.RTResponseCreate}
	if instructions != "" {
		msg.Response = &responseParams{Instructions: instructions}
	}
	return toUpstream(msg)
}

// ── Upstream → client ────────────────────────────────────────────────────────

// HandleUpstream translates one decoded realtime event.
func (t *Translator) HandleUpstream(f wire.Frame) []Action {
	if t.closed || f.Kind != wire.FrameControl {
		return nil
	}
	var ev serverEvent
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		return nil
	}

	switch ev.Type {
	case wire.RTSessionUpdated:
		if !t.ready {
			if !t.sessionSent {
				return nil
			}
			return t.onReady()
		}
		if len(t.updateAcks) == 0 {
			return nil
		}
		ack := t.updateAcks[0]
		t.updateAcks = t.updateAcks[1:]
		return []Action{toClient(wire.NewSignal(ack))}

	case wire.RTItemCreated:
		if ev.Item == nil {
			return nil
		}
		if _, ok := t.awaitingAck[ev.Item.ID]; !ok {
			return nil
		}
		delete(t.awaitingAck, ev.Item.ID)
		t.wantResponse = true
		return t.maybeRespond()

	case wire.RTResponseCreated:
		t.responseOpen = true
		t.pendingCreate = ""
		return []Action{toClient(wire.NewSignal(wire.TypeAgentThinking))}

	case wire.RTResponseDone:
		return t.closeResponse()

	case wire.RTAudioDelta:
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil || len(pcm) == 0 {
			return nil
		}
		pcm, _ = audio.RepairPCM16(pcm)
		var acts []Action
		if !t.speaking {
			t.speaking = true
			acts = append(acts, toClient(wire.NewSignal(wire.TypeAgentStartedSpeaking)))
		}
		if out := t.out.Convert(pcm); len(out) > 0 {
			acts = append(acts, Action{Dest: ToClient, Payload: out, Binary: true})
		}
		return acts

	case wire.RTAudioDone:
		t.speaking = false
		t.out.Reset()
		return []Action{toClient(wire.NewSignal(wire.TypeAgentAudioDone))}

	case wire.RTAudioTranscriptDone:
		return t.conversationText(wire.RoleAssistant, ev.Transcript)

	case wire.RTTextDone:
		return t.conversationText(wire.RoleAssistant, ev.Text)

	case wire.RTInputTranscriptionCompleted:
		return t.conversationText(wire.RoleUser, strings.TrimSpace(ev.Transcript))

	case wire.RTSpeechStarted:
		return []Action{toClient(wire.NewSignal(wire.TypeUserStartedSpeaking))}

	case wire.RTSpeechStopped:
		return []Action{toClient(wire.NewSignal(wire.TypeUtteranceEnd))}

	case wire.RTFunctionArgsDone:
		if ev.CallID == "" {
			return nil
		}
		t.calls[ev.CallID] = ev.Name
		return []Action{toClient(wire.FunctionCallRequest{
			Type: wire.TypeFunctionCallRequest,
			Functions: []wire.FunctionCall{{
				ID:         ev.CallID,
				Name:       ev.Name,
				Arguments:  ev.Arguments,
				ClientSide: true,
			}},
		})}

	case wire.RTError:
		if ev.Error == nil {
			return nil
		}
		if ev.Error.Code == wire.RTCodeActiveResponse {
			return []Action{toClient(wire.NewError(wire.CodeActiveResponseConflict, ev.Error.Message))}
		}
		code := ev.Error.Code
		if code == "" {
			code = ev.Error.Type
		}
		acts := []Action{toClient(wire.NewWarning(code, ev.Error.Message))}
		if t.rejectsPendingCreate(ev.Error.EventID) {
			acts = append(acts, t.closeResponse()...)
		}
		return acts
	}
	return nil
}

// rejectsPendingCreate reports whether an error names the unconfirmed
// response.create. Errors without an event id are attributed to it too,
// since nothing else is in flight that would block the next turn.
func (t *Translator) rejectsPendingCreate(eventID string) bool {
	return t.pendingCreate != "" && (eventID == "" || eventID == t.pendingCreate)
}

// closeResponse ends the response window, releases held session updates
// and requests the next response if one is wanted.
func (t *Translator) closeResponse() []Action {
	t.responseOpen = false
	t.pendingCreate = ""
	var acts []Action
	held := t.heldUpdates
	t.heldUpdates = nil
	for _, u := range held {
		acts = append(acts, t.sessionUpdate(u.params, u.ack)...)
	}
	return append(acts, t.maybeRespond()...)
}

func (t *Translator) onReady() []Action {
	t.ready = true
	acts := []Action{toClient(wire.NewSignal(wire.TypeSettingsApplied))}
	for _, it := range t.pendingContext {
		acts = append(acts, toUpstream(itemCreate{Type: wire.RTItemCreate, Item: it}))
	}
	t.pendingContext = nil
	if t.greeting != "" {
		acts = append(acts, t.createResponse("Greet the user by saying exactly: "+t.greeting))
	}
	held := t.held
	t.held = nil
	for _, data := range held {
		typ, err := wire.PeekType(data)
		if err != nil {
			continue
		}
		acts = append(acts, t.clientControl(typ, data)...)
	}
	return acts
}

func (t *Translator) conversationText(role, content string) []Action {
	if content == "" {
		return nil
	}
	return []Action{toClient(wire.ConversationText{Type: wire.TypeConversationText, Role: role, Content: content})}
}

// UpstreamClosed reports the loss of the upstream socket to the client and
// ends the session. A socket that never became ready gets its own code.
func (t *Translator) UpstreamClosed(reason string) []Action {
	if t.closed {
		return nil
	}
	code := wire.CodeUpstreamClosed
	if !t.ready {
		code = wire.CodeUpstreamClosedBeforeReady
	}
	t.closed = true
	return []Action{toClient(wire.NewError(code, reason)), {Close: true}}
}

// fail sends a fatal error to the client and ends the session.
func (t *Translator) fail(code, description string) []Action {
	t.closed = true
	return []Action{toClient(wire.NewError(code, description)), {Close: true}}
}

func (t *Translator) warn(code string, err error) []Action {
	return []Action{toClient(wire.NewWarning(code, err.Error()))}
}

func toClient(v any) Action   { return encode(ToClient, v) }
func toUpstream(v any) Action { return encode(ToUpstream, v) }

func encode(dest Dest, v any) Action {
	data, err := wire.Encode(v)
	return Action{Dest: dest, Payload: data, Err: err}
}
