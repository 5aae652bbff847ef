package conn

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-staging-ai/miniredis/internal/resp"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sc := New(server)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f, err := sc.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, []byte("PING"), f.Elems[0].Bytes)
		require.NoError(t, sc.WriteFrame(resp.NewSimpleString("PONG")))
	}()

	cc := New(client)
	require.NoError(t, cc.WriteFrame(resp.NewArray(resp.NewBulkString("PING"))))
	reply, err := cc.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "PONG", reply.Str)
	<-done
}

func TestReadFrameSplitAcrossWrites(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sc := New(server)
	raw := resp.Encode(resp.NewArray(resp.NewBulkString("GET"), resp.NewBulkString("k")))

	go func() {
		for i := 0; i < len(raw); i++ {
			client.Write(raw[i : i+1])
		}
	}()

	f, err := sc.ReadFrame()
	require.NoError(t, err)
	require.Len(t, f.Elems, 2)
	assert.Equal(t, []byte("GET"), f.Elems[0].Bytes)
	assert.Equal(t, []byte("k"), f.Elems[1].Bytes)
}

func TestReadFrameCleanCloseReturnsErrClosed(t *testing.T) {
	client, server := net.Pipe()
	sc := New(server)

	client.Close()
	_, err := sc.ReadFrame()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReadFrameTruncatedMidFrameIsError(t *testing.T) {
	client, server := net.Pipe()
	sc := New(server)

	go func() {
		client.Write([]byte("*2\r\n$3\r\nGET\r\n$1\r\n"))
		client.Close()
	}()

	_, err := sc.ReadFrame()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrClosed))
}
