package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-staging-ai/miniredis/internal/server"
	"github.com/real-staging-ai/miniredis/internal/store"
)

func startTestListener(t *testing.T) (addr string, stop func()) {
	t.Helper()
	db := store.New(nil)
	s := server.New(db, nil, server.Options{
		Addr:           ":0",
		MaxConnections: 10,
		BackoffInitial: 10 * time.Millisecond,
		BackoffMax:     50 * time.Millisecond,
	})
	ln, err := s.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(ctx, ln)
	}()

	return ln.Addr().String(), func() {
		cancel()
		<-done
		db.Close()
	}
}

func dialTestClient(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), addr, Options{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientPing(t *testing.T) {
	addr, stop := startTestListener(t)
	defer stop()
	c := dialTestClient(t, addr)

	reply, err := c.Ping(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "PONG", reply)

	reply, err = c.Ping(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", reply)
}

func TestClientSetGetDel(t *testing.T) {
	addr, stop := startTestListener(t)
	defer stop()
	c := dialTestClient(t, addr)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 0))

	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	n, err := c.Del(ctx, "k", "missing")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientSetWithExpirePX(t *testing.T) {
	addr, stop := startTestListener(t)
	defer stop()
	c := dialTestClient(t, addr)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 20*time.Millisecond))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, "k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestClientPublishSubscribe(t *testing.T) {
	addr, stop := startTestListener(t)
	defer stop()
	sub := dialTestClient(t, addr)
	pub := dialTestClient(t, addr)
	ctx := context.Background()

	s, err := sub.Subscribe(ctx, "news")
	require.NoError(t, err)
	defer s.Close()

	require.Eventually(t, func() bool {
		n, err := pub.Publish(ctx, "news", "hello")
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)

	select {
	case msg := <-s.Msgs():
		assert.Equal(t, "news", msg.Channel)
		assert.Equal(t, []byte("hello"), msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestClientUnsubscribeStopsDelivery(t *testing.T) {
	addr, stop := startTestListener(t)
	defer stop()
	sub := dialTestClient(t, addr)
	pub := dialTestClient(t, addr)
	ctx := context.Background()

	s, err := sub.Subscribe(ctx, "news")
	require.NoError(t, err)

	require.NoError(t, s.Unsubscribe(ctx, "news"))

	n, err := pub.Publish(ctx, "news", "hello")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestClientGetWhileSubscribedIsRejectedByServer(t *testing.T) {
	addr, stop := startTestListener(t)
	defer stop()
	c := dialTestClient(t, addr)
	ctx := context.Background()

	sub, err := c.Subscribe(ctx, "news")
	require.NoError(t, err)
	defer sub.Close()

	_, _, err = c.Get(ctx, "k")
	assert.Error(t, err)
}
