package resp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []Frame{
		NewSimpleString("OK"),
		NewSimpleString(""),
		NewError("ERR boom"),
		NewInteger(0),
		NewInteger(-1),
		NewInteger(9223372036854775807),
		NewInteger(-9223372036854775808),
		NewBulkString("hello"),
		NewBulk([]byte{}),
		NewNullBulk(),
		NewArray(),
		NewArray(NewBulkString("a"), NewBulkString("b")),
		NewArray(NewInteger(1), NewNullBulk(), NewArray(NewSimpleString("x"))),
		NewNullArray(),
	}

	for _, f := range cases {
		encoded := Encode(f)
		got, n, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, len(encoded), n)
		assert.True(t, f.Equal(got), "expected %+v got %+v", f, got)
	}
}

func TestDecodeIncomplete(t *testing.T) {
	full := Encode(NewArray(NewBulkString("SET"), NewBulkString("k"), NewBulkString("v")))
	for i := 0; i < len(full); i++ {
		_, n, err := Decode(full[:i])
		require.ErrorIs(t, err, ErrIncomplete)
		assert.Equal(t, 0, n)
	}
	_, n, err := Decode(full)
	require.NoError(t, err)
	assert.Equal(t, len(full), n)
}

func TestDecodeIncompleteMonotonicity(t *testing.T) {
	full := Encode(NewArray(NewBulkString("PUBLISH"), NewBulkString("chan"), NewBulkString("payload body")))
	prefixWasIncomplete := true
	for i := 0; i <= len(full); i++ {
		_, _, err := Decode(full[:i])
		if err == nil {
			prefixWasIncomplete = false
			continue
		}
		if prefixWasIncomplete {
			require.ErrorIsf(t, err, ErrIncomplete, "prefix %d should stay incomplete, not error: %v", i, err)
		}
	}
}

func TestDecodeExtraTrailingBytesNotConsumed(t *testing.T) {
	f := NewSimpleString("PONG")
	encoded := Encode(f)
	withExtra := append(append([]byte{}, encoded...), Encode(NewInteger(5))...)
	got, n, err := Decode(withExtra)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), n)
	assert.True(t, f.Equal(got))

	next, n2, err := Decode(withExtra[n:])
	require.NoError(t, err)
	assert.True(t, NewInteger(5).Equal(next))
	assert.Equal(t, len(withExtra)-n, n2)
}

func TestDecodeProtocolErrors(t *testing.T) {
	cases := map[string][]byte{
		"unknown tag":         []byte("!foo\r\n"),
		"bad integer":         []byte(":abc\r\n"),
		"bad bulk length":     []byte("$abc\r\nhi\r\n"),
		"bulk too short":      []byte("$-2\r\n"),
		"missing trailer":     []byte("$2\r\nhiXX"),
		"array bad count":     []byte("*abc\r\n"),
		"non utf8 simple":     {'+', 0xff, 0xfe, '\r', '\n'},
		"integer overflow":    []byte(":99999999999999999999\r\n"),
		"leading plus reject": []byte(":+5\r\n"),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Decode(b)
			require.Error(t, err)
			var pe *ProtocolError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestEncodeMinimalIntegerForm(t *testing.T) {
	assert.Equal(t, []byte(":0\r\n"), Encode(NewInteger(0)))
	assert.Equal(t, []byte(":-5\r\n"), Encode(NewInteger(-5)))
	assert.Equal(t, []byte(":42\r\n"), Encode(NewInteger(42)))
}

func TestBulkEmptyVsNull(t *testing.T) {
	assert.Equal(t, []byte("$0\r\n\r\n"), Encode(NewBulk([]byte{})))
	assert.Equal(t, []byte("$-1\r\n"), Encode(NewNullBulk()))
	assert.False(t, NewBulk([]byte{}).IsNullBulk())
	assert.True(t, NewNullBulk().IsNullBulk())
}
