// Package simulator plays the display side of MDC over TCP. It backs the
// simulate command and the client tests.
package simulator

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/displayctl/internal/protocol/frame"
)

// Reply is what the simulated display answers. Raw, when set, is written
// verbatim instead of an encoded response.
type Reply struct {
	Ack  bool
	Data []byte
	Raw  []byte
}

// Handler decides the reply for one request; false sends nothing.
type Handler func(req frame.Request) (Reply, bool)

// Server is a simulated display.
type Server struct {
	displayID byte

	mu        sync.Mutex
	ln        net.Listener
	handler   Handler
	dropFirst map[byte]int
	requests  []frame.Request
	peers     map[*peer]struct{}
	values    map[byte][]byte
	wg        sync.WaitGroup

	active   atomic.Int64
	accepted atomic.Int64
	closed   atomic.Bool
}

type peer struct {
	conn net.Conn
	mu   sync.Mutex
}

func (p *peer) write(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.conn.Write(b)
	return err
}

// New returns a simulator answering as displayID with the stateful handler.
func New(displayID byte) *Server {
	s := &Server{
		displayID: displayID,
		dropFirst: make(map[byte]int),
		peers:     make(map[*peer]struct{}),
		values:    make(map[byte][]byte),
	}
	s.handler = s.statefulReply
	return s
}

// statefulReply acknowledges every command. A command with data stores it;
// a command without data reads back what was stored, or 0x00.
func (s *Server) statefulReply(req frame.Request) (Reply, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(req.Data) > 0 {
		s.values[req.CommandID] = append([]byte(nil), req.Data...)
		return Reply{Ack: true, Data: req.Data}, true
	}
	if v, ok := s.values[req.CommandID]; ok {
		return Reply{Ack: true, Data: append([]byte(nil), v...)}, true
	}
	return Reply{Ack: true, Data: []byte{0x00}}, true
}

// SetHandler replaces the reply policy; nil restores the stateful handler.
func (s *Server) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil {
		h = s.statefulReply
	}
	s.handler = h
}

// DropFirst ignores the next n requests carrying commandID.
func (s *Server) DropFirst(commandID byte, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropFirst[commandID] = n
}

// Requests returns every request received so far, in arrival order.
func (s *Server) Requests() []frame.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frame.Request(nil), s.requests...)
}

// Count returns how many requests carried commandID.
func (s *Server) Count(commandID byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.CommandID == commandID {
			n++
		}
	}
	return n
}

// ActiveConnections returns the number of open client connections.
func (s *Server) ActiveConnections() int {
	return int(s.active.Load())
}

// Accepted returns how many client connections were accepted since Start.
func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

// Addr returns the listen address once Start succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start listens on addr and accepts clients in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", strings.TrimSpace(addr))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	log.Info().Str("addr", ln.Addr().String()).Int("display_id", int(s.displayID)).Msg("simulator.Server.Start listening")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln)
	}()
	return nil
}

// Run starts the simulator and blocks until ctx ends.
func (s *Server) Run(ctx context.Context, addr string) error {
	if err := s.Start(addr); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Close()
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.closed.Load() && !errors.Is(err, net.ErrClosed) {
				log.Warn().Err(err).Msg("simulator.Server.acceptLoop failed")
			}
			return
		}
		p := &peer{conn: conn}
		s.mu.Lock()
		s.peers[p] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(p)
		}()
	}
}

// handleConn decodes requests from one client until it disconnects.
func (s *Server) handleConn(p *peer) {
	remote := p.conn.RemoteAddr().String()
	s.accepted.Add(1)
	active := s.active.Add(1)
	log.Info().Str("remote", remote).Int64("active_clients", active).Msg("simulator.Server.handleConn connected")
	defer func() {
		_ = p.conn.Close()
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		remaining := s.active.Add(-1)
		log.Info().Str("remote", remote).Int64("active_clients", remaining).Msg("simulator.Server.handleConn disconnected")
	}()

	var buf []byte
	chunk := make([]byte, 1024)
	for {
		n, err := p.conn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		for {
			req, used, derr := frame.TryExtractRequest(buf)
			if errors.Is(derr, frame.ErrIncomplete) {
				break
			}
			if derr != nil {
				log.Warn().Err(derr).Str("remote", remote).Msg("simulator.Server.handleConn corrupt")
				return
			}
			buf = buf[:copy(buf, buf[used:])]
			if werr := s.serve(p, req); werr != nil {
				log.Warn().Err(werr).Str("remote", remote).Msg("simulator.Server.handleConn write_failed")
				return
			}
		}
		if err != nil {
			if err != io.EOF && !s.closed.Load() {
				log.Debug().Err(err).Str("remote", remote).Msg("simulator.Server.handleConn read_ended")
			}
			return
		}
	}
}

func (s *Server) serve(p *peer, req frame.Request) error {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	drop := s.dropFirst[req.CommandID] > 0
	if drop {
		s.dropFirst[req.CommandID]--
	}
	handler := s.handler
	s.mu.Unlock()

	log.Debug().Int("command", int(req.CommandID)).Hex("data", req.Data).Bool("dropped", drop).Msg("simulator.Server.serve request")
	if drop || (req.DisplayID != s.displayID && req.DisplayID != Broadcast) {
		return nil
	}
	reply, ok := handler(req)
	if !ok {
		return nil
	}
	raw := reply.Raw
	if raw == nil {
		var err error
		raw, err = frame.EncodeResponse(s.displayID, reply.Ack, req.CommandID, reply.Data)
		if err != nil {
			return err
		}
	}
	return p.write(raw)
}

// Broadcast is the display id every simulated display answers to.
const Broadcast byte = 0xFE

// Inject writes raw to every connected client, e.g. an unsolicited or
// corrupt frame.
func (s *Server) Inject(raw []byte) int {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	sent := 0
	for _, p := range peers {
		if err := p.write(raw); err == nil {
			sent++
		}
	}
	return sent
}

// DropConnections closes every client connection but keeps listening.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.peers {
		_ = p.conn.Close()
	}
}

// Close stops listening, closes every client and waits for handlers.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.DropConnections()
	s.wg.Wait()
	return err
}
