// Package server exposes the display fleet over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/displayctl/internal/display"
	"github.com/danmuck/displayctl/internal/observability"
	"github.com/danmuck/displayctl/internal/protocol/session"
)

// Display is the part of a display client the HTTP surface drives.
type Display interface {
	Name() string
	Status() display.Status
	SubmitContext(ctx context.Context, commandID byte, payload []byte) (*session.Result, error)
	Disconnect()
}

type Options struct {
	// CommandTimeout bounds how long one command request waits for settlement.
	CommandTimeout time.Duration
	Version        string
}

// Server routes HTTP requests to named displays.
type Server struct {
	router   chi.Router
	displays map[string]Display
	names    []string
	opts     Options
	appeared time.Time
}

func New(displays []Display, opts Options) *Server {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 10 * time.Second
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{
		router:   chi.NewRouter(),
		displays: make(map[string]Display, len(displays)),
		opts:     opts,
		appeared: time.Now(),
	}
	for _, d := range displays {
		s.displays[d.Name()] = d
		s.names = append(s.names, d.Name())
	}
	sort.Strings(s.names)

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(observability.RequestLogger(log.Logger))
	s.router.Use(observability.RequestMetrics)
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	addr := ln.Addr().String()
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Int("displays", len(s.names)).Msg("server.Server.Serve listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Str("addr", addr).Msg("server.Server.Serve stopped")
	return nil
}
