package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/displayctl/internal/display"
	"github.com/danmuck/displayctl/internal/protocol/frame"
	"github.com/danmuck/displayctl/internal/protocol/session"
	"github.com/danmuck/displayctl/internal/simulator"
	"github.com/danmuck/displayctl/internal/testutil/testlog"
)

func newFleet(t *testing.T) (*Server, *simulator.Server) {
	t.Helper()
	sim := simulator.New(0x00)
	if err := sim.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start simulator: %v", err)
	}
	t.Cleanup(func() { _ = sim.Close() })
	sim.SetHandler(func(req frame.Request) (simulator.Reply, bool) {
		switch req.CommandID {
		case 0x12:
			return simulator.Reply{Ack: false, Data: []byte{0x02}}, true
		case 0x13:
			return simulator.Reply{}, false
		}
		return simulator.Reply{Ack: true, Data: req.Data}, true
	})

	sess := session.DefaultConfig()
	sess.CmdRate = time.Millisecond
	sess.RetryDelay = 20 * time.Millisecond
	sess.RetryMaxCount = 2
	c, err := display.New(display.Config{Name: "lobby", Session: sess},
		display.WithTransport(display.TCPTransport{Addr: sim.Addr(), Timeout: time.Second}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return New([]Display{c}, Options{CommandTimeout: 2 * time.Second, Version: "test"}), sim
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestHealthAndList(t *testing.T) {
	testlog.Start(t)
	s, _ := newFleet(t)

	rr := do(t, s, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK || decode(t, rr)["status"] != "ok" {
		t.Fatalf("unexpected health: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, s, http.MethodGet, "/displays", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected list status %d", rr.Code)
	}
	displays, _ := decode(t, rr)["displays"].([]any)
	if len(displays) != 1 {
		t.Fatalf("unexpected displays: %s", rr.Body.String())
	}
	entry := displays[0].(map[string]any)
	if entry["name"] != "lobby" || entry["state"] != "disconnected" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestCommandStatusMapping(t *testing.T) {
	testlog.Start(t)
	s, _ := newFleet(t)

	cases := []struct {
		name string
		path string
		body string
		want int
		data string
	}{
		{name: "ack", path: "/displays/lobby/commands", body: `{"command":17,"data":"01"}`, want: http.StatusOK, data: "01"},
		{name: "nak", path: "/displays/lobby/commands", body: `{"command":18,"data":"64"}`, want: http.StatusBadGateway, data: "02"},
		{name: "timeout", path: "/displays/lobby/commands", body: `{"command":19}`, want: http.StatusGatewayTimeout},
		{name: "bad hex", path: "/displays/lobby/commands", body: `{"command":17,"data":"zz"}`, want: http.StatusBadRequest},
		{name: "no command", path: "/displays/lobby/commands", body: `{"data":"01"}`, want: http.StatusBadRequest},
		{name: "range", path: "/displays/lobby/commands", body: `{"command":256}`, want: http.StatusBadRequest},
		{name: "oversize", path: "/displays/lobby/commands", body: `{"command":17,"data":"` + strings.Repeat("00", 256) + `"}`, want: http.StatusBadRequest},
		{name: "spaced hex", path: "/displays/lobby/commands", body: `{"command":20,"data":"00 ff"}`, want: http.StatusOK, data: "00ff"},
		{name: "unknown", path: "/displays/hall/commands", body: `{"command":17}`, want: http.StatusNotFound},
	}
	for _, tc := range cases {
		rr := do(t, s, http.MethodPost, tc.path, tc.body)
		if rr.Code != tc.want {
			t.Fatalf("%s: got status %d want %d body=%s", tc.name, rr.Code, tc.want, rr.Body.String())
		}
		if tc.data != "" {
			if got := decode(t, rr)["data"]; got != tc.data {
				t.Fatalf("%s: got data %v want %s", tc.name, got, tc.data)
			}
		}
	}
}

func TestDetailAndDisconnect(t *testing.T) {
	testlog.Start(t)
	s, sim := newFleet(t)

	if rr := do(t, s, http.MethodPost, "/displays/lobby/commands", `{"command":0}`); rr.Code != http.StatusOK {
		t.Fatalf("warm-up command: %d %s", rr.Code, rr.Body.String())
	}
	rr := do(t, s, http.MethodGet, "/displays/lobby", "")
	if rr.Code != http.StatusOK || decode(t, rr)["state"] != "connected" {
		t.Fatalf("unexpected detail: %d %s", rr.Code, rr.Body.String())
	}

	if rr := do(t, s, http.MethodPost, "/displays/lobby/disconnect", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("unexpected disconnect status %d", rr.Code)
	}
	deadline := time.Now().Add(2 * time.Second)
	for sim.ActiveConnections() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("disconnect did not close the link")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if rr := do(t, s, http.MethodGet, "/displays/ghost", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("unexpected status for unknown display %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	testlog.Start(t)
	s, _ := newFleet(t)
	_ = do(t, s, http.MethodGet, "/healthz", "")

	rr := do(t, s, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected metrics status %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `displayctl_http_requests_total{method="GET",path="/healthz",status="200"}`) {
		t.Fatalf("metrics missing http request series")
	}
}
