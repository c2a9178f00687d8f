package fleet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/displayctl/internal/config"
	"github.com/danmuck/displayctl/internal/display"
	"github.com/danmuck/displayctl/internal/simulator"
	"github.com/danmuck/displayctl/internal/testutil/testlog"
)

func TestServiceServesConfiguredDisplays(t *testing.T) {
	testlog.Start(t)
	sim := simulator.New(0x02)
	if err := sim.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start simulator: %v", err)
	}
	defer sim.Close()
	host, port, _ := strings.Cut(sim.Addr(), ":")

	cfg, err := config.Decode(fmt.Sprintf(`
[server]
listen = "127.0.0.1:0"
status_interval = "20ms"

[[displays]]
name = "lobby"
host = %q
port = %s
display_id = 2
cmd_rate = "1ms"
`, host, port))
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}

	svc := NewService(cfg, "test")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunContext(ctx) }()

	select {
	case <-svc.Ready():
	case err := <-done:
		t.Fatalf("service exited early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("service not ready")
	}

	resp, err := http.Post("http://"+svc.Addr()+"/displays/lobby/commands", "application/json",
		strings.NewReader(`{"command":17,"data":"01"}`))
	if err != nil {
		t.Fatalf("post command: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"data":"01"`) {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, body)
	}
	if sim.Count(0x11) != 1 {
		t.Fatalf("simulator saw %d requests", sim.Count(0x11))
	}
	time.Sleep(50 * time.Millisecond)

	clients := svc.Clients()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("service did not stop")
	}
	for _, c := range clients {
		if _, err := c.Submit(0x00, nil); !errors.Is(err, display.ErrClientClosed) {
			t.Fatalf("clients must be closed on shutdown, got %v", err)
		}
	}
}

func TestServiceRunsOnce(t *testing.T) {
	testlog.Start(t)
	cfg, err := config.Decode(`
[server]
listen = "127.0.0.1:0"

[[displays]]
name = "lobby"
host = "127.0.0.1"
`)
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}
	svc := NewService(cfg, "test")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := svc.RunContext(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	select {
	case <-svc.Ready():
	default:
		t.Fatalf("ready must stay closed after the run")
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	if err := svc.RunContext(ctx2); !errors.Is(err, ErrServiceStopped) {
		t.Fatalf("expected ErrServiceStopped on reuse, got %v", err)
	}
}

func TestServiceRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)
	svc := NewService(config.File{Server: config.DefaultServer()}, "test")
	if err := svc.RunContext(context.Background()); !errors.Is(err, config.ErrNoDisplays) {
		t.Fatalf("expected ErrNoDisplays, got %v", err)
	}
}
