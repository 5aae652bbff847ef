// Package server supervises the TCP listener: it accepts connections
// under a concurrency cap and an accept-rate limit, hands each one to a
// handler goroutine, and backs off exponentially on repeated accept
// errors rather than spinning.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/real-staging-ai/miniredis/internal/conn"
	"github.com/real-staging-ai/miniredis/internal/handler"
	"github.com/real-staging-ai/miniredis/internal/logging"
	"github.com/real-staging-ai/miniredis/internal/store"
)

// Options configures the accept loop's admission control and backoff.
type Options struct {
	Addr            string
	MaxConnections  int64
	AcceptRateLimit rate.Limit
	AcceptBurst     int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
}

// maxConsecutiveAcceptErrors bounds how many accept errors in a row
// Serve will back off through before concluding the listener is
// permanently broken and returning a fatal error.
const maxConsecutiveAcceptErrors = 5

// Server owns the listening socket and the fleet of connection
// handlers it spawns from it.
type Server struct {
	opts Options
	db   *store.DB
	log  logging.Logger

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	wg sync.WaitGroup
}

// New builds a Server. A nil log falls back to the process-wide default
// logger.
func New(db *store.DB, log logging.Logger, opts Options) *Server {
	if log == nil {
		log = logging.Default()
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 250
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 64 * time.Second
	}

	var limiter *rate.Limiter
	if opts.AcceptRateLimit > 0 {
		burst := opts.AcceptBurst
		if burst <= 0 {
			burst = int(opts.AcceptRateLimit)
		}
		limiter = rate.NewLimiter(opts.AcceptRateLimit, burst)
	}

	return &Server{
		opts:    opts,
		db:      db,
		log:     log.With("component", "server"),
		sem:     semaphore.NewWeighted(opts.MaxConnections),
		limiter: limiter,
	}
}

// Run listens on opts.Addr and serves connections until ctx is
// canceled. It is equivalent to Listen followed by Serve.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Listen opens the TCP socket without accepting connections yet, so
// callers (tests included) can discover the resolved address before
// serving starts.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("server: listen: %w", err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is canceled, then stops
// accepting, waits for in-flight connections to finish their current
// command, and returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info(ctx, "listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	backoff := s.opts.BackoffInitial
	consecutiveErrors := 0
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				s.wg.Wait()
				return nil
			}
		}

		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			consecutiveErrors++
			if consecutiveErrors > maxConsecutiveAcceptErrors {
				s.log.Error(ctx, "accept failing repeatedly, giving up", "error", err.Error(), "attempts", consecutiveErrors)
				s.wg.Wait()
				return fmt.Errorf("server: accept failed %d times in a row, giving up: %w", consecutiveErrors, err)
			}
			s.log.Warn(ctx, "accept error, backing off", "error", err.Error(), "backoff", backoff.String())
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			}
			backoff *= 2
			if backoff > s.opts.BackoffMax {
				backoff = s.opts.BackoffMax
			}
			continue
		}
		consecutiveErrors = 0
		backoff = s.opts.BackoffInitial

		if !s.sem.TryAcquire(1) {
			s.log.Warn(ctx, "connection limit reached, rejecting", "max_connections", s.opts.MaxConnections)
			nc.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			handler.New(s.db, s.log).Serve(ctx, conn.New(nc))
		}()
	}

	s.wg.Wait()
	return nil
}
