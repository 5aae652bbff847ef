// Package handler implements the per-connection request loop: read a
// frame, parse a command, execute it against the store, write the
// reply. Once a connection issues SUBSCRIBE it moves into pub/sub mode,
// where it concurrently serves further subscription commands and
// messages fanned out from the channels it joined.
package handler

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/google/uuid"

	"github.com/real-staging-ai/miniredis/internal/command"
	"github.com/real-staging-ai/miniredis/internal/conn"
	"github.com/real-staging-ai/miniredis/internal/logging"
	"github.com/real-staging-ai/miniredis/internal/resp"
	"github.com/real-staging-ai/miniredis/internal/store"
)

// Handler dispatches requests for one accepted connection against a
// shared store.
type Handler struct {
	db  *store.DB
	log logging.Logger
}

// New builds a Handler bound to db. A nil log falls back to the
// process-wide default logger.
func New(db *store.DB, log logging.Logger) *Handler {
	if log == nil {
		log = logging.Default()
	}
	return &Handler{db: db, log: log}
}

type frameResult struct {
	frame resp.Frame
	err   error
}

// Serve runs the request loop for c until the client disconnects, sends
// QUIT, or ctx is canceled. It always closes c before returning.
func (h *Handler) Serve(ctx context.Context, c *conn.Connection) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var readerDone chan struct{}
	defer func() {
		if readerDone != nil {
			// unblock a reader parked on sending its final result
			cancel()
			<-readerDone
		}
	}()

	id := uuid.NewString()
	log := h.log.With("conn_id", id, "remote_addr", c.RemoteAddr().String())
	log.Info(ctx, "connection accepted")
	defer func() {
		c.Close()
		log.Info(ctx, "connection closed")
	}()

	frames := make(chan frameResult)
	readerDone = make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			f, err := c.ReadFrame()
			select {
			case frames <- frameResult{frame: f, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	subs := map[string]*store.Subscription{}
	defer func() {
		for _, s := range subs {
			s.Close()
		}
	}()

	for {
		var res frameResult
		var haveFrame bool
		if len(subs) == 0 {
			select {
			case <-ctx.Done():
				return
			case res = <-frames:
				haveFrame = true
			}
		} else {
			var ok bool
			res, haveFrame, ok = h.selectWithSubs(ctx, c, frames, subs)
			if !ok {
				return
			}
			if !haveFrame {
				continue
			}
		}

		if res.err != nil {
			if !errors.Is(res.err, conn.ErrClosed) {
				log.Warn(ctx, "connection read error", "error", res.err.Error())
			}
			return
		}

		cmd, err := command.Parse(res.frame)
		if err != nil {
			var protoErr *resp.ProtocolError
			if errors.As(err, &protoErr) {
				c.WriteFrame(resp.NewError(err.Error()))
				return
			}
			var cmdErr *command.Error
			if errors.As(err, &cmdErr) {
				if writeErr := c.WriteFrame(resp.NewError(cmdErr.Msg)); writeErr != nil {
					return
				}
				continue
			}
			log.Error(ctx, "unexpected parse error", "error", err.Error())
			return
		}

		if len(subs) > 0 && !allowedWhileSubscribed(cmd.Kind) {
			if err := c.WriteFrame(resp.NewError("ERR only (UN)SUBSCRIBE / PING / QUIT allowed in this context")); err != nil {
				return
			}
			continue
		}

		if !h.dispatch(ctx, c, log, cmd, subs) {
			return
		}
	}
}

// selectWithSubs blocks until either a new frame arrives from the
// socket or a message arrives on one of the active subscriptions. A
// delivered pub/sub message is written out directly (haveFrame=false,
// ok=true, loop again); a socket frame is returned for the caller to
// dispatch (haveFrame=true); ok=false means the connection must close.
func (h *Handler) selectWithSubs(ctx context.Context, c *conn.Connection, frames <-chan frameResult, subs map[string]*store.Subscription) (frameResult, bool, bool) {
	cases := make([]reflect.SelectCase, 0, len(subs)+2)
	names := make([]string, 0, len(subs))
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(frames)})
	for name, s := range subs {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(s.Msgs)})
		names = append(names, name)
	}

	chosen, value, recvOK := reflect.Select(cases)
	switch chosen {
	case 0:
		return frameResult{}, false, false
	case 1:
		if !recvOK {
			return frameResult{}, false, false
		}
		return value.Interface().(frameResult), true, true
	default:
		if !recvOK {
			// the store never closes a Subscription's Msgs channel, so
			// this case does not arise; it is treated as a no-op wakeup.
			return frameResult{}, false, true
		}
		channel := names[chosen-2]
		payload := value.Interface().([]byte)
		msg := resp.NewArray(
			resp.NewBulkString("message"),
			resp.NewBulkString(channel),
			resp.NewBulk(payload),
		)
		if err := c.WriteFrame(msg); err != nil {
			return frameResult{}, false, false
		}
		return frameResult{}, false, true
	}
}

func allowedWhileSubscribed(k command.Kind) bool {
	switch k {
	case command.Subscribe, command.Unsubscribe, command.Ping, command.Quit:
		return true
	default:
		return false
	}
}

// dispatch executes one parsed command, mutating subs for
// Subscribe/Unsubscribe. It returns false when the connection should
// close.
func (h *Handler) dispatch(ctx context.Context, c *conn.Connection, log logging.Logger, cmd command.Command, subs map[string]*store.Subscription) bool {
	switch cmd.Kind {
	case command.Quit:
		c.WriteFrame(resp.NewSimpleString("OK"))
		return false

	case command.Subscribe:
		for _, chBytes := range cmd.Channels {
			name := string(chBytes)
			if _, already := subs[name]; !already {
				subs[name] = h.db.Subscribe(name)
			}
			reply := resp.NewArray(
				resp.NewBulkString("subscribe"),
				resp.NewBulkString(name),
				resp.NewInteger(int64(len(subs))),
			)
			if err := c.WriteFrame(reply); err != nil {
				return false
			}
		}
		return true

	case command.Unsubscribe:
		targets := cmd.Channels
		if len(targets) == 0 {
			for name := range subs {
				targets = append(targets, []byte(name))
			}
		}
		for _, chBytes := range targets {
			name := string(chBytes)
			if s, ok := subs[name]; ok {
				s.Close()
				delete(subs, name)
			}
			reply := resp.NewArray(
				resp.NewBulkString("unsubscribe"),
				resp.NewBulkString(name),
				resp.NewInteger(int64(len(subs))),
			)
			if err := c.WriteFrame(reply); err != nil {
				return false
			}
		}
		return true

	default:
		frame, err := command.Execute(h.db, cmd)
		if err != nil {
			if errors.Is(err, command.ErrHandledByConnection) {
				log.Error(ctx, "command kind fell through to Execute", "kind", fmt.Sprint(cmd.Kind))
				return false
			}
			log.Error(ctx, "execute error", "error", err.Error())
			return false
		}
		return c.WriteFrame(frame) == nil
	}
}
