package command

import (
	"github.com/real-staging-ai/miniredis/internal/resp"
	"github.com/real-staging-ai/miniredis/internal/store"
)

// Execute runs cmd against db and returns the reply frame. It handles
// every command kind except Subscribe, Unsubscribe, and Quit, which
// require per-connection state the store does not hold; calling Execute
// with one of those kinds returns ErrHandledByConnection.
func Execute(db *store.DB, cmd Command) (resp.Frame, error) {
	switch cmd.Kind {
	case Ping:
		if cmd.HasMsg {
			return resp.NewBulk(cmd.Message), nil
		}
		return resp.NewSimpleString("PONG"), nil

	case Get:
		v, ok := db.Get(cmd.Key)
		if !ok {
			return resp.NewNullBulk(), nil
		}
		return resp.NewBulk(v), nil

	case Set:
		db.Set(cmd.Key, cmd.Value, cmd.Expire)
		return resp.NewSimpleString("OK"), nil

	case Del:
		n := db.Del(cmd.Keys)
		return resp.NewInteger(int64(n)), nil

	case Publish:
		n := db.Publish(cmd.Channel, cmd.Payload)
		return resp.NewInteger(int64(n)), nil

	case Unknown:
		return resp.NewErrorf("ERR unknown command '%s'", cmd.Name), nil

	default:
		return resp.Frame{}, ErrHandledByConnection
	}
}
