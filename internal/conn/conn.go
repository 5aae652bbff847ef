// Package conn provides buffered RESP framing over one TCP socket: read
// complete frames as they arrive, write frames with an explicit flush.
package conn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/real-staging-ai/miniredis/internal/resp"
)

const readChunk = 4096

// ErrClosed is returned by ReadFrame when the peer closed the socket
// cleanly at a frame boundary (no partial frame was in flight).
var ErrClosed = io.EOF

// Connection owns one accepted socket. ReadFrame accumulates bytes until
// a full RESP frame is available; WriteFrame serializes and flushes one
// frame immediately, so no response is ever left sitting in a buffer
// when Close is about to run.
type Connection struct {
	nc net.Conn
	w  *bufio.Writer

	buf    []byte
	filled int
}

// New wraps an accepted net.Conn.
func New(nc net.Conn) *Connection {
	return &Connection{
		nc:  nc,
		w:   bufio.NewWriter(nc),
		buf: make([]byte, readChunk),
	}
}

// RemoteAddr returns the peer's address for logging.
func (c *Connection) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Close closes the underlying socket.
func (c *Connection) Close() error { return c.nc.Close() }

// SetDeadline forwards to the underlying socket's SetDeadline.
func (c *Connection) SetDeadline(t time.Time) error { return c.nc.SetDeadline(t) }

// ReadFrame returns the next complete frame on the socket. It returns
// ErrClosed if the peer disconnected cleanly between frames; any other
// error (including a truncated frame at EOF) is a connection error that
// should end the session.
func (c *Connection) ReadFrame() (resp.Frame, error) {
	for {
		if c.filled > 0 {
			f, n, err := resp.Decode(c.buf[:c.filled])
			switch {
			case err == nil:
				copy(c.buf, c.buf[n:c.filled])
				c.filled -= n
				return f, nil
			case errors.Is(err, resp.ErrIncomplete):
				// fall through to read more bytes
			default:
				return resp.Frame{}, fmt.Errorf("conn: %w", err)
			}
		}

		if c.filled == len(c.buf) {
			grown := make([]byte, len(c.buf)*2)
			copy(grown, c.buf[:c.filled])
			c.buf = grown
		}

		n, err := c.nc.Read(c.buf[c.filled:])
		if n > 0 {
			c.filled += n
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if c.filled == 0 {
					return resp.Frame{}, ErrClosed
				}
				return resp.Frame{}, fmt.Errorf("conn: connection closed mid-frame: %w", io.ErrUnexpectedEOF)
			}
			return resp.Frame{}, fmt.Errorf("conn: read: %w", err)
		}
	}
}

// WriteFrame serializes f and flushes it to the socket.
func (c *Connection) WriteFrame(f resp.Frame) error {
	if _, err := c.w.Write(resp.Encode(f)); err != nil {
		return fmt.Errorf("conn: write: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("conn: flush: %w", err)
	}
	return nil
}
