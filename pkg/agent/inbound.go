package agent

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/session"
	"github.com/MrWong99/voxbridge/pkg/history"
	"github.com/MrWong99/voxbridge/pkg/wire"
)

func (c *Conn) onFrame(s *socket, typ websocket.MessageType, data []byte) {
	f, err := wire.Agent.Decode(typ, data)
	if err != nil {
		c.metrics.RecordProtocolError(c.ctx, "decode")
		c.logger.Warn("dropping undecodable frame", "err", err, "bytes", len(data))
		return
	}
	if f.Kind == wire.FrameAudio {
		c.onAudio(f)
		return
	}
	if sig := wire.Agent.ReadySignal(f.Type); sig != wire.SignalNone {
		c.onReady(s, sig)
		c.emit(Message{Type: f.Type, Data: f.Data})
		return
	}

	switch f.Type {
	case wire.TypeConversationText:
		c.onConversationText(s, f.Data)
	case wire.TypeFunctionCallRequest:
		c.onFunctionCallRequest(s, f.Data)
	case wire.TypeError, wire.TypeWarning:
		var msg wire.ErrorMessage
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			c.logger.Warn("malformed error message", "err", err)
			return
		}
		e := errorFromMessage(msg)
		switch {
		case e.Fatal():
			c.teardown(e)
		case e.Kind == KindUpstream:
			c.holdUpstreamError(s, e)
		default:
			c.report(e)
		}
	case wire.TypeUserStartedSpeaking:
		enterOnce(s.idle, session.ReasonUserSpeaking)
		c.emit(Message{Type: f.Type, Data: f.Data})
	case wire.TypeUtteranceEnd:
		s.idle.ExitAll(session.ReasonUserSpeaking)
		c.emit(Message{Type: f.Type, Data: f.Data})
	case wire.TypeAgentStartedSpeaking:
		enterOnce(s.idle, session.ReasonAgentSpeaking)
		c.emit(Message{Type: f.Type, Data: f.Data})
	case wire.TypeAgentAudioDone:
		s.idle.ExitAll(session.ReasonAgentSpeaking)
		c.emit(Message{Type: f.Type, Data: f.Data})
	case wire.TypeVADEvent, wire.TypeAgentThinking:
		s.idle.Touch()
		c.emit(Message{Type: f.Type, Data: f.Data})
	default:
		c.emit(Message{Type: f.Type, Data: f.Data})
	}
}

// enterOnce takes a reference for a speaking flag. Repeated start events
// without a matching end must not stack.
func enterOnce(idle *session.IdleTimer, r session.Reason) {
	if !idle.Holds(r) {
		idle.Enter(r)
	}
}

func (c *Conn) onReady(s *socket, sig wire.ReadySignal) {
	if c.State() != StateAwaitingReadiness {
		return
	}
	c.setState(StateReady)
	flushed, err := s.gate.MarkReady(sig)
	if err != nil {
		c.socketLost(s, err)
		return
	}
	s.idle.Arm()
	c.startKeepAlive(s.cfg.KeepAliveInterval)
	c.logger.Info("connection ready", "signal", sig.String(), "flushed", flushed)
}

func (c *Conn) onAudio(f wire.Frame) {
	if f.Truncated {
		c.metrics.AudioTruncations.Add(c.ctx, 1)
		c.report(&Error{Kind: KindAudioTruncated, Err: errors.New("odd-length PCM16 frame from upstream")})
	}
	if len(f.Data) > 0 {
		c.emit(AgentAudio{PCM: f.Data})
	}
}

func (c *Conn) onConversationText(s *socket, data []byte) {
	var msg wire.ConversationText
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("malformed conversation text", "err", err)
		return
	}
	now := time.Now()
	c.recordEntry(history.Entry{Role: msg.Role, Text: msg.Content, Timestamp: now})
	if msg.Role == wire.RoleUser {
		s.idle.ExitAll(session.ReasonUserSpeaking)
	}
	s.idle.Touch()
	c.emit(ConversationText{Role: msg.Role, Content: msg.Content, Timestamp: now})
}

func (c *Conn) onFunctionCallRequest(s *socket, data []byte) {
	var req wire.FunctionCallRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.metrics.RecordProtocolError(c.ctx, "decode")
		c.logger.Warn("malformed function call request", "err", err)
		return
	}
	serverSide := false
	for _, fc := range req.Functions {
		if !fc.ClientSide {
			serverSide = true
			continue
		}
		call, err := s.calls.OnRequest(fc)
		if err != nil {
			c.logger.Warn("ignoring function call request", "call_id", fc.ID, "err", err)
			continue
		}
		deadline := call.RequestedAt.Add(s.calls.Timeout())
		c.metrics.RecordFunctionCall(c.ctx, string(s.cfg.Upstream), "requested", 0)
		c.logger.Debug("function call requested", "call_id", fc.ID, "name", fc.Name)
		c.emit(FunctionCallRequested{Call: fc, Deadline: deadline})
		if c.opts.handler != nil {
			go c.runHandler(fc, deadline)
		}
	}
	if serverSide {
		c.emit(Message{Type: wire.TypeFunctionCallRequest, Data: data})
	}
}

// runHandler executes a call with the configured handler and answers it.
func (c *Conn) runHandler(fc wire.FunctionCall, deadline time.Time) {
	ctx, cancel := context.WithDeadline(c.ctx, deadline)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "agent.function_call", observe.FunctionCall(fc.Name, fc.ID))
	defer span.End()

	result, err := c.opts.handler.HandleFunctionCall(ctx, fc)
	if err != nil {
		observe.Fail(span, err, "handler failed")
	}
	if rerr := c.RespondToFunctionCall(fc.ID, result, err); rerr != nil && !errors.Is(rerr, ErrClosed) {
		c.logger.Debug("function handler result not delivered", "call_id", fc.ID, "err", rerr)
	}
}
