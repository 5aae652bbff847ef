// Package client is an asynchronous client for this server's RESP
// dialect. Each request method hands its frame to a single writer and
// waits on a dedicated reply channel fed by one reader goroutine, so
// concurrent callers can share one connection safely; a caller that
// gives up early (context canceled) simply stops listening; the reader
// keeps draining the wire in order.
package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/real-staging-ai/miniredis/internal/conn"
	"github.com/real-staging-ai/miniredis/internal/logging"
	"github.com/real-staging-ai/miniredis/internal/resp"
)

// Options controls dial retries and connect backoff.
type Options struct {
	DialTimeout time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      logging.Logger
}

func (o *Options) setDefaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 100 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	exp := math.Pow(2, float64(attempt-1))
	d := time.Duration(float64(base) * exp)
	if d > max {
		return max
	}
	return d
}

// ErrClosed is returned by every pending and subsequent call once the
// client's connection has been closed or lost.
var ErrClosed = errors.New("client: connection closed")

type pendingReply struct {
	frame resp.Frame
	err   error
}

// Client is a connection to one server, safe for concurrent use.
type Client struct {
	cc *conn.Connection
	log logging.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	queue   []chan pendingReply
	closed  bool
	closeCh chan struct{}

	subMu     sync.Mutex
	subs      map[string]map[uint64]*Subscription
	nextSubID uint64
}

// Dial connects to addr, retrying with capped exponential backoff up to
// opts.MaxAttempts before giving up.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	opts.setDefaults()

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		d := net.Dialer{Timeout: opts.DialTimeout}
		nc, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			c := &Client{
				cc:      conn.New(nc),
				log:     opts.Logger.With("component", "client", "addr", addr),
				closeCh: make(chan struct{}),
				subs:    make(map[string]map[uint64]*Subscription),
			}
			go c.readLoop()
			return c, nil
		}
		lastErr = err
		if attempt == opts.MaxAttempts {
			break
		}
		delay := backoffDelay(opts.BaseDelay, opts.MaxDelay, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("client: dial %s failed after %d attempts: %w", addr, opts.MaxAttempts, lastErr)
}

// Close closes the underlying connection and fails every pending call.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.closeCh)
	return c.cc.Close()
}

func (c *Client) readLoop() {
	for {
		f, err := c.cc.ReadFrame()
		if err != nil {
			c.failAll(err)
			return
		}
		if channel, payload, ok := asPushMessage(f); ok {
			c.deliver(channel, payload)
			continue
		}
		c.popAndDeliver(pendingReply{frame: f})
	}
}

func asPushMessage(f resp.Frame) (channel string, payload []byte, ok bool) {
	if f.Type != resp.Array || len(f.Elems) != 3 {
		return "", nil, false
	}
	if f.Elems[0].Type != resp.Bulk || string(f.Elems[0].Bytes) != "message" {
		return "", nil, false
	}
	if f.Elems[1].Type != resp.Bulk {
		return "", nil, false
	}
	return string(f.Elems[1].Bytes), f.Elems[2].Bytes, true
}

func (c *Client) deliver(channel string, payload []byte) {
	c.subMu.Lock()
	subs := make([]*Subscription, 0, len(c.subs[channel]))
	for _, s := range c.subs[channel] {
		subs = append(subs, s)
	}
	c.subMu.Unlock()

	for _, s := range subs {
		select {
		case s.msgs <- Message{Channel: channel, Payload: payload}:
		default:
			c.log.Warn(context.Background(), "subscription lagged, message dropped", "channel", channel)
		}
	}
}

func (c *Client) popAndDeliver(r pendingReply) {
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	ch := c.queue[0]
	c.queue = c.queue[1:]
	c.mu.Unlock()
	ch <- r
}

func (c *Client) failAll(err error) {
	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	c.closed = true
	c.mu.Unlock()
	for _, ch := range queue {
		ch <- pendingReply{err: fmt.Errorf("%w: %v", ErrClosed, err)}
	}

	c.subMu.Lock()
	for _, bySub := range c.subs {
		for _, s := range bySub {
			s.closeOnce.Do(func() { close(s.msgs) })
		}
	}
	c.subMu.Unlock()
}

// do sends one command frame and waits for its reply, respecting ctx
// cancellation without desynchronizing the shared connection.
func (c *Client) do(ctx context.Context, args ...string) (resp.Frame, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return resp.Frame{}, ErrClosed
	}
	ch := make(chan pendingReply, 1)
	c.queue = append(c.queue, ch)
	c.mu.Unlock()

	elems := make([]resp.Frame, len(args))
	for i, a := range args {
		elems[i] = resp.NewBulkString(a)
	}

	c.writeMu.Lock()
	err := c.cc.WriteFrame(resp.NewArray(elems...))
	c.writeMu.Unlock()
	if err != nil {
		return resp.Frame{}, err
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return resp.Frame{}, r.err
		}
		if r.frame.Type == resp.Error {
			return resp.Frame{}, errors.New(r.frame.Str)
		}
		return r.frame, nil
	case <-ctx.Done():
		return resp.Frame{}, ctx.Err()
	case <-c.closeCh:
		return resp.Frame{}, ErrClosed
	}
}

// Ping checks the connection. With an empty message it expects "PONG".
func (c *Client) Ping(ctx context.Context, message string) (string, error) {
	var f resp.Frame
	var err error
	if message == "" {
		f, err = c.do(ctx, "PING")
	} else {
		f, err = c.do(ctx, "PING", message)
	}
	if err != nil {
		return "", err
	}
	if f.Type == resp.Simple {
		return f.Str, nil
	}
	return string(f.Bytes), nil
}

// Get returns a key's value and whether it was present.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f, err := c.do(ctx, "GET", key)
	if err != nil {
		return nil, false, err
	}
	if f.IsNullBulk() {
		return nil, false, nil
	}
	return f.Bytes, true, nil
}

// Set stores key=value. A positive expire sets a TTL in whole
// milliseconds.
func (c *Client) Set(ctx context.Context, key, value string, expire time.Duration) error {
	args := []string{"SET", key, value}
	if expire > 0 {
		args = append(args, "PX", fmt.Sprintf("%d", expire.Milliseconds()))
	}
	_, err := c.do(ctx, args...)
	return err
}

// Del deletes keys and returns how many were present.
func (c *Client) Del(ctx context.Context, keys ...string) (int, error) {
	args := append([]string{"DEL"}, keys...)
	f, err := c.do(ctx, args...)
	if err != nil {
		return 0, err
	}
	return int(f.Int), nil
}

// Publish sends payload on channel and returns the subscriber count it
// reached.
func (c *Client) Publish(ctx context.Context, channel, payload string) (int, error) {
	f, err := c.do(ctx, "PUBLISH", channel, payload)
	if err != nil {
		return 0, err
	}
	return int(f.Int), nil
}

// Message is one payload delivered to a Subscription.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription is a live handle to one or more channels opened by
// Subscribe. Msgs delivers payloads until the subscription is closed;
// a slow reader only misses messages for itself, mirroring the server's
// own per-subscriber backpressure policy.
type Subscription struct {
	client    *Client
	id        uint64
	mu        sync.Mutex
	channels  map[string]struct{}
	msgs      chan Message
	closeOnce sync.Once
}

// Msgs returns the delivery channel for this subscription.
func (s *Subscription) Msgs() <-chan Message { return s.msgs }

// Subscribe joins channels, issuing one SUBSCRIBE request per channel
// and waiting for its confirmation before returning.
func (c *Client) Subscribe(ctx context.Context, channels ...string) (*Subscription, error) {
	id := atomic.AddUint64(&c.nextSubID, 1)
	sub := &Subscription{
		client:   c,
		id:       id,
		channels: make(map[string]struct{}),
		msgs:     make(chan Message, 256),
	}
	if err := c.joinChannels(ctx, sub, channels); err != nil {
		return nil, err
	}
	return sub, nil
}

func (c *Client) joinChannels(ctx context.Context, sub *Subscription, channels []string) error {
	for _, ch := range channels {
		c.subMu.Lock()
		if c.subs[ch] == nil {
			c.subs[ch] = make(map[uint64]*Subscription)
		}
		c.subs[ch][sub.id] = sub
		c.subMu.Unlock()

		f, err := c.do(ctx, "SUBSCRIBE", ch)
		if err != nil {
			c.removeChannel(sub, ch)
			return err
		}
		if len(f.Elems) != 3 || string(f.Elems[1].Bytes) != ch {
			c.removeChannel(sub, ch)
			return fmt.Errorf("client: unexpected subscribe reply for %q", ch)
		}

		sub.mu.Lock()
		sub.channels[ch] = struct{}{}
		sub.mu.Unlock()
	}
	return nil
}

func (c *Client) removeChannel(sub *Subscription, channel string) {
	c.subMu.Lock()
	if bySub, ok := c.subs[channel]; ok {
		delete(bySub, sub.id)
		if len(bySub) == 0 {
			delete(c.subs, channel)
		}
	}
	c.subMu.Unlock()

	sub.mu.Lock()
	delete(sub.channels, channel)
	sub.mu.Unlock()
}

// Unsubscribe leaves channels (or every channel this subscription holds,
// if none are given).
func (s *Subscription) Unsubscribe(ctx context.Context, channels ...string) error {
	s.mu.Lock()
	if len(channels) == 0 {
		for ch := range s.channels {
			channels = append(channels, ch)
		}
	}
	s.mu.Unlock()

	for _, ch := range channels {
		if _, err := s.client.do(ctx, "UNSUBSCRIBE", ch); err != nil {
			return err
		}
		s.client.removeChannel(s, ch)
	}
	return nil
}

// Close unsubscribes from every remaining channel and stops delivery.
// Safe to call more than once.
func (s *Subscription) Close() error {
	err := s.Unsubscribe(context.Background())
	s.closeOnce.Do(func() { close(s.msgs) })
	return err
}
