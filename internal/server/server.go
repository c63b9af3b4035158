// Package server exposes the streaming speech-to-text endpoint. Each websocket
// connection gets its own recognizer and Session; the Server wires the
// endpoint together with health, metrics and language listing routes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liuscraft/orion-stt/internal/health"
	"github.com/liuscraft/orion-stt/internal/logging"
	"github.com/liuscraft/orion-stt/internal/protocol"
)

const defaultShutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	Addr     string
	Registry Languages
	Handler  HandlerOptions
	// MetricsHandler is mounted on /metrics when set.
	MetricsHandler  http.Handler
	ShutdownTimeout time.Duration
}

type Server struct {
	opts     Options
	tracker  *Tracker
	draining atomic.Bool
	handler  *Handler
	mux      *http.ServeMux
	http     *http.Server
}

func New(opts Options) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	s := &Server{
		opts:    opts,
		tracker: NewTracker(),
		mux:     http.NewServeMux(),
	}
	s.handler = NewHandler(opts.Registry, s.tracker, &s.draining, opts.Handler)

	s.mux.Handle("GET "+protocol.StreamPath, s.handler)
	s.mux.HandleFunc("GET /languages", s.handleLanguages)
	if opts.MetricsHandler != nil {
		s.mux.Handle("GET /metrics", opts.MetricsHandler)
	}
	checks := []health.Checker{health.NotDraining(&s.draining)}
	checks = append(checks, health.ModelsLoaded(func() int {
		return len(opts.Registry.Languages())
	}))
	health.New(checks...).Register(s.mux)

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routing handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ActiveSessions returns the number of live streaming sessions.
func (s *Server) ActiveSessions() int {
	return s.tracker.Count()
}

// Run listens on Addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logging.Infof("stt server listening on %s (languages: %v)", ln.Addr(), s.opts.Registry.Languages())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown stops accepting connections, cancels live sessions and waits for
// them within ctx. It then closes the registry when it is an io.Closer.
func (s *Server) Shutdown(ctx context.Context) error {
	s.draining.Store(true)
	s.tracker.Close()

	var errs []error
	// hijacked websocket connections are not tracked by http.Server
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	if n := s.tracker.CancelAll(); n > 0 {
		logging.Infof("canceling %d active sessions", n)
	}
	if !s.tracker.Wait(ctx) {
		logging.Warnf("shutdown timed out with %d sessions still open", s.tracker.Count())
		errs = append(errs, fmt.Errorf("sessions still open: %w", ctx.Err()))
	}

	if c, ok := s.opts.Registry.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close registry: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(map[string][]string{
		"languages": s.opts.Registry.Languages(),
	})
}
