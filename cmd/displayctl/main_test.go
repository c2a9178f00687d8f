package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/displayctl/internal/simulator"
	"github.com/danmuck/displayctl/internal/testutil/testlog"
)

func TestParseByte(t *testing.T) {
	testlog.Start(t)
	for raw, want := range map[string]byte{"17": 17, "0x11": 0x11, " 0xFF ": 0xFF} {
		got, err := parseByte(raw)
		if err != nil || got != want {
			t.Fatalf("parseByte(%q) = %d, %v", raw, got, err)
		}
	}
	if _, err := parseByte("0x100"); err == nil {
		t.Fatalf("expected range error")
	}
}

func TestRunSendAgainstSimulator(t *testing.T) {
	testlog.Start(t)
	sim := simulator.New(0x01)
	if err := sim.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start simulator: %v", err)
	}
	defer sim.Close()
	host, portRaw, _ := strings.Cut(sim.Addr(), ":")
	port, _ := strconv.Atoi(portRaw)

	data, err := runSend(context.Background(), sendOptions{
		host: host, port: port, displayID: 1, command: "0x11", data: "01", timeout: 5 * time.Second, retries: 3,
	})
	if err != nil || !bytes.Equal(data, []byte{0x01}) {
		t.Fatalf("runSend data=% X err=%v", data, err)
	}
	if _, err := runSend(context.Background(), sendOptions{host: host, port: port, command: "0x11", data: "zz", timeout: 5 * time.Second, retries: 3}); err == nil {
		t.Fatalf("expected hex decode error")
	}
	if _, err := runSend(context.Background(), sendOptions{command: "0x11", timeout: 5 * time.Second, retries: 3}); err == nil {
		t.Fatalf("expected missing transport error")
	}
}

func TestConfigInitAndCheck(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "displayctl.toml")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "init", "--out", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}

	root = newRootCmd()
	out.Reset()
	root.SetOut(&out)
	root.SetArgs([]string{"config", "check", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("config check: %v", err)
	}
	if !strings.Contains(out.String(), "lobby transport=tcp") {
		t.Fatalf("unexpected check output %q", out.String())
	}
}

func TestVersionShort(t *testing.T) {
	testlog.Start(t)
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--short"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Fatalf("unexpected version output %q", out.String())
	}
}
