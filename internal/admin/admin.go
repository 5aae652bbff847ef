// Package admin exposes a small HTTP surface for operators: a liveness
// probe and a JSON dump of the latest diagnostics snapshot. It never
// touches the RESP protocol and is only started when configured with a
// listen address.
package admin

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/real-staging-ai/miniredis/internal/diagnostics"
	"github.com/real-staging-ai/miniredis/internal/logging"
)

// Server is the admin HTTP server.
type Server struct {
	echo    *echo.Echo
	addr    string
	log     logging.Logger
	diag    *diagnostics.Reporter
	tracing bool
}

// New builds an admin Server listening on addr. diag may be nil, in
// which case /debug/stats reports an empty snapshot. tracing enables
// the otelecho request middleware.
func New(addr string, diag *diagnostics.Reporter, log logging.Logger, tracing bool) *Server {
	if log == nil {
		log = logging.Default()
	}
	s := &Server{
		echo:    echo.New(),
		addr:    addr,
		log:     log.With("component", "admin"),
		diag:    diag,
		tracing: tracing,
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	if tracing {
		s.echo.Use(otelecho.Middleware("miniredis"))
	}
	s.echo.GET("/healthz", s.healthCheck)
	s.echo.GET("/debug/stats", s.debugStats)
	return s
}

// ListenAndServe blocks serving HTTP until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(s.addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		s.log.Info(ctx, "admin server shutting down")
		return s.echo.Shutdown(context.Background())
	}
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "miniredis",
	})
}

func (s *Server) debugStats(c echo.Context) error {
	var snap diagnostics.Snapshot
	if s.diag != nil {
		snap = s.diag.Snapshot()
	}
	return c.JSON(http.StatusOK, snap)
}
