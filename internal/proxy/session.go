package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/wire"
)

const (
	readLimit    = 4 << 20
	writeTimeout = 5 * time.Second
)

// errSessionDone ends the errgroup after an orderly close.
var errSessionDone = errors.New("proxy: session done")

// inbound is one frame, or the end of a socket, from either side.
type inbound struct {
	from Dest
	typ  websocket.MessageType
	data []byte
	err  error
}

// session bridges one client socket to one upstream socket.
type session struct {
	id       string
	client   *websocket.Conn
	upstream *websocket.Conn
	tr       *Translator
	metrics  *observe.Metrics
	log      *slog.Logger
}

// run pumps both sockets until either side goes away or the translator
// ends the session. Two readers feed one ordered channel; the processor is
// the only writer on both sockets.
func (s *session) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	inbox := make(chan inbound, 64)

	g.Go(func() error { return s.read(ctx, ToClient, s.client, inbox) })
	g.Go(func() error { return s.read(ctx, ToUpstream, s.upstream, inbox) })
	g.Go(func() error { return s.process(ctx, inbox) })

	err := g.Wait()
	if errors.Is(err, errSessionDone) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// read forwards frames from ws. from names the side the frames come from.
func (s *session) read(ctx context.Context, from Dest, ws *websocket.Conn, inbox chan<- inbound) error {
	for {
		typ, data, err := ws.Read(ctx)
		in := inbound{from: from, typ: typ, data: data, err: err}
		select {
		case inbox <- in:
		case <-ctx.Done():
			return nil
		}
		if err != nil {
			return nil
		}
	}
}

func (s *session) process(ctx context.Context, inbox <-chan inbound) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in := <-inbox:
			acts, err := s.handle(ctx, in)
			if err != nil {
				return err
			}
			if done, err := s.apply(ctx, acts); err != nil || done {
				if err != nil {
					return err
				}
				return errSessionDone
			}
		}
	}
}

func (s *session) handle(ctx context.Context, in inbound) ([]Action, error) {
	if in.from == ToClient {
		if in.err != nil {
			s.log.Debug("client went away", "err", in.err)
			return nil, errSessionDone
		}
		f, err := wire.Agent.Decode(in.typ, in.data)
		if err != nil {
			s.metrics.RecordProtocolError(ctx, "client_decode")
			s.log.Warn("dropping undecodable client frame", "err", err, "bytes", len(in.data))
			return nil, nil
		}
		s.metrics.RecordProxyFrame(ctx, "client", f.Kind.String())
		return s.tr.HandleClient(f), nil
	}

	if in.err != nil {
		reason := "upstream connection closed"
		if status := websocket.CloseStatus(in.err); status != -1 {
			reason = fmt.Sprintf("upstream closed the connection (%d)", status)
		}
		s.log.Info("upstream went away", "ready", s.tr.Ready(), "err", in.err)
		return s.tr.UpstreamClosed(reason), nil
	}
	f, err := wire.Realtime.Decode(in.typ, in.data)
	if err != nil {
		s.metrics.RecordProtocolError(ctx, "upstream_decode")
		s.log.Debug("ignoring unknown upstream event", "err", err)
		return nil, nil
	}
	s.metrics.RecordProxyFrame(ctx, "upstream", f.Type)
	return s.tr.HandleUpstream(f), nil
}

// apply writes acts in order. done reports a Close action.
func (s *session) apply(ctx context.Context, acts []Action) (done bool, err error) {
	for _, a := range acts {
		if a.Close {
			return true, nil
		}
		if a.Err != nil {
			s.log.Error("dropping unencodable message", "dest", a.Dest.String(), "err", a.Err)
			continue
		}
		ws := s.client
		if a.Dest == ToUpstream {
			ws = s.upstream
		}
		typ := websocket.MessageText
		if a.Binary {
			typ = websocket.MessageBinary
		}
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := ws.Write(wctx, typ, a.Payload)
		cancel()
		if err != nil {
			return false, fmt.Errorf("proxy: write %s: %w", a.Dest, err)
		}
	}
	return false, nil
}
