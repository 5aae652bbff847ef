// Package resp implements a streaming encoder/decoder for the Redis
// serialization protocol (RESP): simple strings, errors, integers, bulk
// strings, and arrays, each terminated by CRLF.
package resp

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Type tags the concrete shape a Frame holds.
type Type byte

const (
	Simple  Type = '+'
	Error   Type = '-'
	Integer Type = ':'
	Bulk    Type = '$'
	Array   Type = '*'
)

// ErrIncomplete is returned by Decode when buf does not yet contain a full
// frame. It is not a protocol error: callers must read more bytes and
// retry. Decode never consumes bytes when it returns ErrIncomplete.
var ErrIncomplete = errors.New("resp: incomplete frame")

// ProtocolError describes malformed RESP input: a bad type tag, a
// non-numeric length, a truncated line, or invalid UTF-8 in a simple
// string or error frame.
type ProtocolError struct {
	msg string
}

func (e *ProtocolError) Error() string { return "resp: protocol error: " + e.msg }

func protoErr(format string, args ...any) error {
	return &ProtocolError{msg: fmt.Sprintf(format, args...)}
}

// Frame is a tagged RESP value. Null is meaningful only for Bulk and
// Array: a null bulk carries Type == Bulk, Null == true, Bytes == nil; a
// null array carries Type == Array, Null == true, Elems == nil.
type Frame struct {
	Type  Type
	Str   string  // Simple, Error
	Int   int64   // Integer
	Bytes []byte  // Bulk payload (nil when Null)
	Elems []Frame // Array elements (nil when Null)
	Null  bool    // Bulk or Array null sentinel
}

// NewSimpleString builds a Simple string frame.
func NewSimpleString(s string) Frame { return Frame{Type: Simple, Str: s} }

// NewError builds an Error frame.
func NewError(s string) Frame { return Frame{Type: Error, Str: s} }

// NewErrorf builds an Error frame with a formatted message.
func NewErrorf(format string, args ...any) Frame {
	return Frame{Type: Error, Str: fmt.Sprintf(format, args...)}
}

// NewInteger builds an Integer frame.
func NewInteger(n int64) Frame { return Frame{Type: Integer, Int: n} }

// NewBulk builds a Bulk frame from a byte payload. A nil payload that is
// not meant to be the null bulk should use an empty, non-nil slice.
func NewBulk(b []byte) Frame { return Frame{Type: Bulk, Bytes: b} }

// NewBulkString builds a Bulk frame from a Go string.
func NewBulkString(s string) Frame { return Frame{Type: Bulk, Bytes: []byte(s)} }

// NewNullBulk builds the null bulk sentinel ($-1\r\n).
func NewNullBulk() Frame { return Frame{Type: Bulk, Null: true} }

// NewArray builds an Array frame from its elements.
func NewArray(elems ...Frame) Frame { return Frame{Type: Array, Elems: elems} }

// NewNullArray builds the null array sentinel (*-1\r\n).
func NewNullArray() Frame { return Frame{Type: Array, Null: true} }

// IsNullBulk reports whether f is the null bulk sentinel.
func (f Frame) IsNullBulk() bool { return f.Type == Bulk && f.Null }

// IsNullArray reports whether f is the null array sentinel.
func (f Frame) IsNullArray() bool { return f.Type == Array && f.Null }

// Equal reports deep equality between two frames, treating a nil and an
// empty non-null Bytes/Elems slice as equal.
func (f Frame) Equal(g Frame) bool {
	if f.Type != g.Type || f.Null != g.Null {
		return false
	}
	switch f.Type {
	case Simple, Error:
		return f.Str == g.Str
	case Integer:
		return f.Int == g.Int
	case Bulk:
		if f.Null {
			return true
		}
		return string(f.Bytes) == string(g.Bytes)
	case Array:
		if f.Null {
			return true
		}
		if len(f.Elems) != len(g.Elems) {
			return false
		}
		for i := range f.Elems {
			if !f.Elems[i].Equal(g.Elems[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// findCRLF returns the index of the first '\r' of a "\r\n" pair in
// buf[start:], relative to the start of buf, or ok=false if no full CRLF
// is present yet.
func findCRLF(buf []byte, start int) (idx int, ok bool) {
	for i := start; i+1 < len(buf); i++ {
		if buf[i] == '\r' && buf[i+1] == '\n' {
			return i, true
		}
	}
	return 0, false
}

// parseInt64 parses strict decimal ASCII: an optional leading '-', at
// least one digit, no other characters, no overflow of int64.
func parseInt64(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, protoErr("empty integer")
	}
	neg := false
	i := 0
	if b[0] == '-' {
		neg = true
		i = 1
	}
	if i >= len(b) {
		return 0, protoErr("invalid integer %q", b)
	}
	var acc uint64
	limit := uint64(1) << 63
	if !neg {
		limit--
	}
	for ; i < len(b); i++ {
		c := b[i]
		if c < '0' || c > '9' {
			return 0, protoErr("invalid integer %q", b)
		}
		d := uint64(c - '0')
		if acc > (limit-d)/10 {
			return 0, protoErr("integer overflow %q", b)
		}
		acc = acc*10 + d
	}
	if neg {
		return -int64(acc), nil
	}
	return int64(acc), nil
}

// ParseInt parses strict decimal ASCII as used for RESP lengths and for
// command integer arguments (e.g. SET's EX/PX values): an optional
// leading '-', at least one digit, no other characters, no int64
// overflow.
func ParseInt(b []byte) (int64, error) { return parseInt64(b) }

// Decode attempts to parse one complete Frame from the front of buf. It
// returns the parsed frame and the number of bytes consumed on success,
// ErrIncomplete if buf does not yet hold a full frame (no bytes are ever
// considered consumed in that case), or a *ProtocolError for malformed
// input.
//
// Decoding is two-phase: decode first walks buf to find the frame's byte
// boundary (cheap, no allocation beyond what building the Frame itself
// needs), then builds the owned Frame from that confirmed span. This
// keeps a caller from ever committing a partial read.
func Decode(buf []byte) (Frame, int, error) {
	n, err := frameLen(buf, 0)
	if err != nil {
		return Frame{}, 0, err
	}
	f, _, err := decodeAt(buf, 0)
	if err != nil {
		return Frame{}, 0, err
	}
	return f, n, nil
}

// frameLen reports how many bytes starting at off a complete frame
// occupies, without building it. Used as the pre-check phase.
func frameLen(buf []byte, off int) (int, error) {
	if off >= len(buf) {
		return 0, ErrIncomplete
	}
	switch Type(buf[off]) {
	case Simple, Error, Integer:
		idx, ok := findCRLF(buf, off+1)
		if !ok {
			return 0, ErrIncomplete
		}
		return idx + 2 - off, nil
	case Bulk:
		idx, ok := findCRLF(buf, off+1)
		if !ok {
			return 0, ErrIncomplete
		}
		length, err := parseInt64(buf[off+1 : idx])
		if err != nil {
			return 0, err
		}
		if length < -1 {
			return 0, protoErr("invalid bulk length %d", length)
		}
		lineLen := idx + 2 - off
		if length == -1 {
			return lineLen, nil
		}
		end := idx + 2 + int(length)
		if end+2 > len(buf) {
			return 0, ErrIncomplete
		}
		if buf[end] != '\r' || buf[end+1] != '\n' {
			return 0, protoErr("bulk payload missing trailing CRLF")
		}
		return end + 2 - off, nil
	case Array:
		idx, ok := findCRLF(buf, off+1)
		if !ok {
			return 0, ErrIncomplete
		}
		count, err := parseInt64(buf[off+1 : idx])
		if err != nil {
			return 0, err
		}
		if count < -1 {
			return 0, protoErr("invalid array length %d", count)
		}
		cursor := idx + 2
		if count == -1 {
			return cursor - off, nil
		}
		for i := int64(0); i < count; i++ {
			sub, err := frameLen(buf, cursor)
			if err != nil {
				return 0, err
			}
			cursor += sub
		}
		return cursor - off, nil
	default:
		return 0, protoErr("unknown type tag %q", buf[off])
	}
}

// decodeAt builds an owned Frame starting at off, given that frameLen has
// already confirmed a complete frame is present. It returns the frame and
// the number of bytes consumed.
func decodeAt(buf []byte, off int) (Frame, int, error) {
	switch Type(buf[off]) {
	case Simple:
		idx, _ := findCRLF(buf, off+1)
		s := buf[off+1 : idx]
		if !utf8.Valid(s) {
			return Frame{}, 0, protoErr("invalid UTF-8 in simple string")
		}
		return Frame{Type: Simple, Str: string(s)}, idx + 2 - off, nil
	case Error:
		idx, _ := findCRLF(buf, off+1)
		s := buf[off+1 : idx]
		if !utf8.Valid(s) {
			return Frame{}, 0, protoErr("invalid UTF-8 in error string")
		}
		return Frame{Type: Error, Str: string(s)}, idx + 2 - off, nil
	case Integer:
		idx, _ := findCRLF(buf, off+1)
		n, err := parseInt64(buf[off+1 : idx])
		if err != nil {
			return Frame{}, 0, err
		}
		return Frame{Type: Integer, Int: n}, idx + 2 - off, nil
	case Bulk:
		idx, _ := findCRLF(buf, off+1)
		length, _ := parseInt64(buf[off+1 : idx])
		lineLen := idx + 2 - off
		if length == -1 {
			return Frame{Type: Bulk, Null: true}, lineLen, nil
		}
		start := idx + 2
		end := start + int(length)
		payload := make([]byte, length)
		copy(payload, buf[start:end])
		return Frame{Type: Bulk, Bytes: payload}, end + 2 - off, nil
	case Array:
		idx, _ := findCRLF(buf, off+1)
		count, _ := parseInt64(buf[off+1 : idx])
		cursor := idx + 2
		if count == -1 {
			return Frame{Type: Array, Null: true}, cursor - off, nil
		}
		elems := make([]Frame, 0, count)
		for i := int64(0); i < count; i++ {
			sub, n, err := decodeAt(buf, cursor)
			if err != nil {
				return Frame{}, 0, err
			}
			elems = append(elems, sub)
			cursor += n
		}
		return Frame{Type: Array, Elems: elems}, cursor - off, nil
	default:
		return Frame{}, 0, protoErr("unknown type tag %q", buf[off])
	}
}

// Encode serializes f to its wire form. Encoding is total and lossless
// for every value Decode can produce.
func Encode(f Frame) []byte {
	buf := make([]byte, 0, 32)
	return appendFrame(buf, f)
}

func appendFrame(buf []byte, f Frame) []byte {
	switch f.Type {
	case Simple:
		buf = append(buf, byte(Simple))
		buf = append(buf, f.Str...)
		return append(buf, '\r', '\n')
	case Error:
		buf = append(buf, byte(Error))
		buf = append(buf, f.Str...)
		return append(buf, '\r', '\n')
	case Integer:
		buf = append(buf, byte(Integer))
		buf = appendInt(buf, f.Int)
		return append(buf, '\r', '\n')
	case Bulk:
		buf = append(buf, byte(Bulk))
		if f.Null {
			buf = append(buf, '-', '1')
			return append(buf, '\r', '\n')
		}
		buf = appendInt(buf, int64(len(f.Bytes)))
		buf = append(buf, '\r', '\n')
		buf = append(buf, f.Bytes...)
		return append(buf, '\r', '\n')
	case Array:
		buf = append(buf, byte(Array))
		if f.Null {
			buf = append(buf, '-', '1')
			return append(buf, '\r', '\n')
		}
		buf = appendInt(buf, int64(len(f.Elems)))
		buf = append(buf, '\r', '\n')
		for _, e := range f.Elems {
			buf = appendFrame(buf, e)
		}
		return buf
	default:
		panic(fmt.Sprintf("resp: encode: unknown frame type %q", byte(f.Type)))
	}
}

func appendInt(buf []byte, n int64) []byte {
	if n == 0 {
		return append(buf, '0')
	}
	neg := n < 0
	var tmp [20]byte
	i := len(tmp)
	var u uint64
	if neg {
		u = uint64(-(n + 1)) + 1 // avoids overflow when n == math.MinInt64
	} else {
		u = uint64(n)
	}
	for u > 0 {
		i--
		tmp[i] = byte('0' + u%10)
		u /= 10
	}
	if neg {
		i--
		tmp[i] = '-'
	}
	return append(buf, tmp[i:]...)
}
