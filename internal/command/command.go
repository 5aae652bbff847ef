// Package command provides a typed representation of every RESP command
// this server understands, parsed from a resp.Frame and executed against
// the shared store.
package command

import (
	"errors"
	"strings"
	"time"

	"github.com/real-staging-ai/miniredis/internal/resp"
)

// Kind identifies which command a Command value holds.
type Kind int

const (
	Ping Kind = iota
	Get
	Set
	Del
	Publish
	Subscribe
	Unsubscribe
	Quit
	Unknown
)

// Command is the parsed, typed form of one client request. Only the
// fields relevant to Kind are populated.
type Command struct {
	Kind Kind

	// Ping
	Message []byte // nil if no message argument was given
	HasMsg  bool

	// Get, Set, Del share Keys/Key
	Key  []byte
	Keys [][]byte // Del

	// Set
	Value     []byte
	Expire    time.Duration
	HasExpire bool

	// Publish
	Channel []byte
	Payload []byte

	// Subscribe, Unsubscribe
	Channels [][]byte

	// Unknown
	Name string
}

// Error is a command-level error: the request was well-formed RESP but
// semantically invalid. It is always reported to the client as an Error
// frame; it never terminates the connection.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return e.Msg }

func cmdErr(msg string) error { return &Error{Msg: msg} }

func wrongArgs(name string) error {
	return cmdErr("ERR wrong number of arguments for '" + strings.ToLower(name) + "' command")
}

var errNotInteger = cmdErr("ERR value is not an integer or out of range")
var errSyntax = cmdErr("ERR syntax error")
var errInvalidExpire = cmdErr("ERR invalid expire time in set")

// Parse interprets f as a command request. The top-level frame must be a
// non-null Array whose first element is a non-null Bulk command name
// (case-insensitive); anything else yields a command-level *Error rather
// than a protocol error, since the frame itself was valid RESP.
func Parse(f resp.Frame) (Command, error) {
	if f.Type != resp.Array || f.Null {
		return Command{}, cmdErr("ERR invalid request: expected array")
	}
	if len(f.Elems) == 0 {
		return Command{}, cmdErr("ERR invalid request: empty array")
	}
	nameFrame := f.Elems[0]
	nameBytes, ok := asBulk(nameFrame)
	if !ok {
		return Command{}, cmdErr("ERR invalid request: command name must be a bulk string")
	}
	args := f.Elems[1:]
	name := strings.ToUpper(string(nameBytes))

	switch name {
	case "PING":
		return parsePing(args)
	case "GET":
		return parseGet(args)
	case "SET":
		return parseSet(args)
	case "DEL":
		return parseDel(args)
	case "PUBLISH":
		return parsePublish(args)
	case "SUBSCRIBE":
		return parseSubscribe(args)
	case "UNSUBSCRIBE":
		return parseUnsubscribe(args)
	case "QUIT":
		if len(args) != 0 {
			return Command{}, wrongArgs(name)
		}
		return Command{Kind: Quit}, nil
	default:
		return Command{Kind: Unknown, Name: string(nameBytes)}, nil
	}
}

func asBulk(f resp.Frame) ([]byte, bool) {
	if f.Type != resp.Bulk || f.Null {
		return nil, false
	}
	return f.Bytes, true
}

func parsePing(args []resp.Frame) (Command, error) {
	switch len(args) {
	case 0:
		return Command{Kind: Ping}, nil
	case 1:
		b, ok := asBulk(args[0])
		if !ok {
			return Command{}, errSyntax
		}
		return Command{Kind: Ping, Message: b, HasMsg: true}, nil
	default:
		return Command{}, wrongArgs("PING")
	}
}

func parseGet(args []resp.Frame) (Command, error) {
	if len(args) != 1 {
		return Command{}, wrongArgs("GET")
	}
	key, ok := asBulk(args[0])
	if !ok {
		return Command{}, errSyntax
	}
	return Command{Kind: Get, Key: key}, nil
}

func parseSet(args []resp.Frame) (Command, error) {
	if len(args) < 2 {
		return Command{}, wrongArgs("SET")
	}
	key, ok := asBulk(args[0])
	if !ok {
		return Command{}, errSyntax
	}
	val, ok := asBulk(args[1])
	if !ok {
		return Command{}, errSyntax
	}
	cmd := Command{Kind: Set, Key: key, Value: val}

	rest := args[2:]
	if len(rest) == 0 {
		return cmd, nil
	}
	if len(rest) != 2 {
		return Command{}, errSyntax
	}
	opt, ok := asBulk(rest[0])
	if !ok {
		return Command{}, errSyntax
	}
	numBytes, ok := asBulk(rest[1])
	if !ok {
		return Command{}, errSyntax
	}
	n, err := resp.ParseInt(numBytes)
	if err != nil {
		return Command{}, errNotInteger
	}
	if n <= 0 {
		return Command{}, errInvalidExpire
	}
	switch strings.ToUpper(string(opt)) {
	case "EX":
		cmd.Expire = time.Duration(n) * time.Second
		cmd.HasExpire = true
	case "PX":
		cmd.Expire = time.Duration(n) * time.Millisecond
		cmd.HasExpire = true
	default:
		return Command{}, errSyntax
	}
	return cmd, nil
}

func parseDel(args []resp.Frame) (Command, error) {
	if len(args) == 0 {
		return Command{}, wrongArgs("DEL")
	}
	keys := make([][]byte, 0, len(args))
	for _, a := range args {
		k, ok := asBulk(a)
		if !ok {
			return Command{}, errSyntax
		}
		keys = append(keys, k)
	}
	return Command{Kind: Del, Keys: keys}, nil
}

func parsePublish(args []resp.Frame) (Command, error) {
	if len(args) != 2 {
		return Command{}, wrongArgs("PUBLISH")
	}
	ch, ok := asBulk(args[0])
	if !ok {
		return Command{}, errSyntax
	}
	payload, ok := asBulk(args[1])
	if !ok {
		return Command{}, errSyntax
	}
	return Command{Kind: Publish, Channel: ch, Payload: payload}, nil
}

func parseSubscribe(args []resp.Frame) (Command, error) {
	if len(args) == 0 {
		return Command{}, wrongArgs("SUBSCRIBE")
	}
	chans, err := bulkList(args)
	if err != nil {
		return Command{}, err
	}
	return Command{Kind: Subscribe, Channels: chans}, nil
}

func parseUnsubscribe(args []resp.Frame) (Command, error) {
	chans, err := bulkList(args)
	if err != nil {
		return Command{}, err
	}
	return Command{Kind: Unsubscribe, Channels: chans}, nil
}

func bulkList(args []resp.Frame) ([][]byte, error) {
	out := make([][]byte, 0, len(args))
	for _, a := range args {
		b, ok := asBulk(a)
		if !ok {
			return nil, errSyntax
		}
		out = append(out, b)
	}
	return out, nil
}

// ErrHandledByConnection is returned by Execute for command kinds that
// require per-connection state (Subscribe, Unsubscribe, Quit) and so must
// be dispatched by the connection handler instead.
var ErrHandledByConnection = errors.New("command: kind requires connection-level handling")
