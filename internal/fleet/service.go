// Package fleet runs the configured displays behind the HTTP control surface.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/displayctl/internal/config"
	"github.com/danmuck/displayctl/internal/display"
	"github.com/danmuck/displayctl/internal/server"
)

var (
	ErrAlreadyRunning = errors.New("fleet: service already running")
	ErrServiceStopped = errors.New("fleet: service already stopped")
)

// Service owns one display client per configured display and the HTTP server.
// A Service runs once; build a new one to serve again.
type Service struct {
	cfg     config.File
	version string

	mu      sync.Mutex
	running bool
	stopped bool
	clients []*display.Client
	ln      net.Listener
	ready   chan struct{}
}

func NewService(cfg config.File, version string) *Service {
	return &Service{cfg: cfg, version: version, ready: make(chan struct{})}
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext blocks until ctx ends or the HTTP server fails.
func (s *Service) RunContext(ctx context.Context) error {
	if err := s.bootstrap(); err != nil {
		return err
	}
	defer s.shutdown()
	return s.serve(ctx)
}

// Ready is closed once the listener is bound and every client exists.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound HTTP address after Ready.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Clients returns the display clients in configuration order.
func (s *Service) Clients() []*display.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*display.Client(nil), s.clients...)
}

func (s *Service) bootstrap() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	if s.stopped {
		return ErrServiceStopped
	}
	if err := config.Validate(s.cfg); err != nil {
		return err
	}

	clients := make([]*display.Client, 0, len(s.cfg.Displays))
	for _, d := range s.cfg.Displays {
		ccfg, opts := d.ToClientConfig()
		c, err := display.New(ccfg, opts...)
		if err != nil {
			for _, done := range clients {
				_ = done.Close()
			}
			return fmt.Errorf("display %q: %w", d.Name, err)
		}
		clients = append(clients, c)
	}

	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		for _, c := range clients {
			_ = c.Close()
		}
		return err
	}
	s.clients = clients
	s.ln = ln
	s.running = true
	close(s.ready)

	log.Info().
		Str("listen", ln.Addr().String()).
		Int("displays", len(clients)).
		Msg("fleet.Service.bootstrap ready")
	return nil
}

// serve runs the HTTP server and logs a fleet heartbeat.
func (s *Service) serve(ctx context.Context) error {
	displays := make([]server.Display, 0, len(s.clients))
	for _, c := range s.clients {
		displays = append(displays, c)
	}
	srv := server.New(displays, server.Options{
		CommandTimeout: s.cfg.Server.CommandTimeout,
		Version:        s.version,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	httpErr := make(chan error, 1)
	go func() {
		httpErr <- srv.Serve(ctx, s.ln)
	}()

	var tick <-chan time.Time
	if s.cfg.Server.StatusInterval > 0 {
		ticker := time.NewTicker(s.cfg.Server.StatusInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("fleet.Service.serve shutdown")
			return <-httpErr
		case err := <-httpErr:
			return err
		case <-tick:
			s.heartbeat()
		}
	}
}

func (s *Service) heartbeat() {
	for _, c := range s.clients {
		st := c.Status()
		inFlight := len(st.Commands) > 0 && st.Commands[0].InFlight
		log.Info().
			Str("display", st.Name).
			Str("state", st.State.String()).
			Int("queued", len(st.Commands)).
			Bool("in_flight", inFlight).
			Msg("fleet.Service.heartbeat")
	}
}

func (s *Service) shutdown() {
	s.mu.Lock()
	clients := s.clients
	s.running = false
	s.stopped = true
	s.mu.Unlock()
	for _, c := range clients {
		_ = c.Close()
	}
}
