package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/danmuck/displayctl/internal/display"
	"github.com/danmuck/displayctl/internal/observability"
)

type displaySummary struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	DisplayID int    `json:"display_id"`
	State     string `json:"state"`
	Queued    int    `json:"queued"`
	InFlight  bool   `json:"in_flight"`
}

type commandSummary struct {
	ID         string    `json:"id"`
	Command    int       `json:"command"`
	RetryCount int       `json:"retry_count"`
	InFlight   bool      `json:"in_flight"`
	QueuedAt   time.Time `json:"queued_at"`
}

type displayDetail struct {
	displaySummary
	Commands []commandSummary `json:"commands"`
}

type commandRequest struct {
	Command *int   `json:"command"`
	Data    string `json:"data"`
}

type commandResponse struct {
	Command int    `json:"command"`
	Data    string `json:"data"`
}

type errorResponse struct {
	Error string `json:"error"`
	Data  string `json:"data,omitempty"`
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", observability.Handler())
	s.router.Route("/displays", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", s.handleDetail)
			r.Post("/commands", s.handleCommand)
			r.Post("/disconnect", s.handleDisconnect)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptime":   time.Since(s.appeared).String(),
		"version":  s.opts.Version,
		"displays": len(s.names),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	out := make([]displaySummary, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, summarize(s.displays[name].Status()))
	}
	writeJSON(w, http.StatusOK, map[string]any{"displays": out})
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	st := d.Status()
	detail := displayDetail{displaySummary: summarize(st), Commands: make([]commandSummary, 0, len(st.Commands))}
	for _, c := range st.Commands {
		detail.Commands = append(detail.Commands, commandSummary{
			ID:         c.ID,
			Command:    int(c.CommandID),
			RetryCount: c.RetryCount,
			InFlight:   c.InFlight,
			QueuedAt:   c.QueuedAt,
		})
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err), nil)
		return
	}
	if req.Command == nil || *req.Command < 0 || *req.Command > 0xFF {
		writeError(w, http.StatusBadRequest, errors.New("command must be an integer in 0..255"), nil)
		return
	}
	payload, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(req.Data), " ", ""))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("data must be hex: %w", err), nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.CommandTimeout)
	defer cancel()
	res, err := d.SubmitContext(ctx, byte(*req.Command), payload)
	if err != nil {
		writeError(w, statusFor(err), err, nil)
		return
	}
	data, err := res.Wait(ctx)
	if err != nil {
		var rejected *display.RejectedError
		if errors.As(err, &rejected) {
			writeError(w, statusFor(err), err, rejected.Data)
			return
		}
		writeError(w, statusFor(err), err, nil)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Command: *req.Command, Data: hex.EncodeToString(data)})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	d.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (Display, bool) {
	name := chi.URLParam(r, "name")
	d, ok := s.displays[name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown display %q", name), nil)
	}
	return d, ok
}

func summarize(st display.Status) displaySummary {
	out := displaySummary{
		Name:      st.Name,
		Transport: st.Transport,
		DisplayID: int(st.DisplayID),
		State:     st.State.String(),
		Queued:    len(st.Commands),
	}
	if len(st.Commands) > 0 {
		out.InFlight = st.Commands[0].InFlight
	}
	return out
}

// statusFor maps a command outcome onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, display.ErrInvalidPayload), errors.Is(err, display.ErrEmptyCommand):
		return http.StatusBadRequest
	case errors.Is(err, display.ErrCommandRejected):
		return http.StatusBadGateway
	case errors.Is(err, display.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, display.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, display.ErrConnectionLost),
		errors.Is(err, display.ErrProtocolCorruption),
		errors.Is(err, display.ErrClientClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error, data []byte) {
	resp := errorResponse{Error: err.Error()}
	if len(data) > 0 {
		resp.Data = hex.EncodeToString(data)
	}
	writeJSON(w, status, resp)
}
