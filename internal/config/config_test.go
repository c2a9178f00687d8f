package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/displayctl/internal/display"
	"github.com/danmuck/displayctl/internal/protocol/session"
	"github.com/danmuck/displayctl/internal/testutil/testlog"
)

const sample = `
[server]
listen = "0.0.0.0:9090"
command_timeout = "3s"

[[displays]]
name = "lobby"
host = "10.0.0.44"
display_id = 5
cmd_rate = "0s"
retry_delay = "250ms"
retry_max_count = 5

[[displays]]
name = "wall"
transport = "serial"
display_id = 254
reconnect_delay = "500ms"
reconnect_max_delay = "8s"

[displays.serial]
device = "/dev/ttyUSB1"
baud_rate = 19200
parity = "even"
stop_bits = "2"
`

func TestDecodeAppliesDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	cfg, err := Decode(sample)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Server.Listen != "0.0.0.0:9090" || cfg.Server.CommandTimeout != 3*time.Second {
		t.Fatalf("unexpected server: %+v", cfg.Server)
	}
	if cfg.Server.StatusInterval != DefaultServer().StatusInterval {
		t.Fatalf("status interval should keep its default: %v", cfg.Server.StatusInterval)
	}
	if len(cfg.Displays) != 2 {
		t.Fatalf("unexpected displays: %+v", cfg.Displays)
	}

	lobby := cfg.Displays[0]
	if lobby.Transport != TransportTCP || lobby.Port != 1515 || lobby.DisplayID != 5 {
		t.Fatalf("unexpected lobby: %+v", lobby)
	}
	if lobby.Session.CmdRate != 0 || lobby.Session.RetryDelay != 250*time.Millisecond || lobby.Session.RetryMaxCount != 5 {
		t.Fatalf("unexpected lobby session: %+v", lobby.Session)
	}
	if lobby.Session.Backoff.InitialDelay != time.Second || lobby.Session.Backoff.MaxDelay != time.Second {
		t.Fatalf("lobby should keep the fixed reconnect delay: %+v", lobby.Session.Backoff)
	}

	wall := cfg.Displays[1]
	if wall.Transport != TransportSerial || wall.Serial.Device != "/dev/ttyUSB1" || wall.Serial.BaudRate != 19200 {
		t.Fatalf("unexpected wall: %+v", wall)
	}
	if wall.Session.Backoff.Multiplier != 2.0 || wall.Session.Backoff.MaxDelay != 8*time.Second {
		t.Fatalf("unexpected wall backoff: %+v", wall.Session.Backoff)
	}
	if wall.Session.RetryMaxCount != 3 || wall.Session.CmdRate != 10*time.Millisecond {
		t.Fatalf("wall should keep session defaults: %+v", wall.Session)
	}
}

func TestDecodeReconnectMultiplier(t *testing.T) {
	testlog.Start(t)
	cfg, err := Decode(`
[[displays]]
name = "lobby"
host = "10.0.0.44"
reconnect_delay = "250ms"
reconnect_max_delay = "4s"
reconnect_multiplier = 1.5
reconnect_jitter = true

[[displays]]
name = "fixed"
host = "10.0.0.45"
reconnect_multiplier = 3.0
`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b := cfg.Displays[0].Session.Backoff
	if b.Multiplier != 1.5 || !b.Jitter || b.InitialDelay != 250*time.Millisecond || b.MaxDelay != 4*time.Second {
		t.Fatalf("unexpected backoff: %+v", b)
	}
	// the cap defaults to the initial delay, so the multiplier has no room to grow
	fixed := cfg.Displays[1].Session.Backoff
	if fixed.Multiplier != 3 || fixed.MaxDelay != fixed.InitialDelay {
		t.Fatalf("unexpected fixed backoff: %+v", fixed)
	}

	_, err = Decode(`
[[displays]]
name = "lobby"
host = "10.0.0.44"
reconnect_multiplier = 0.5
`)
	if !errors.Is(err, session.ErrInvalidMultiplier) {
		t.Fatalf("expected ErrInvalidMultiplier, got %v", err)
	}
}

func TestToClientConfigSelectsTransport(t *testing.T) {
	testlog.Start(t)
	cfg, err := Decode(sample)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	client, opts := cfg.Displays[0].ToClientConfig()
	if client.Addr() != "10.0.0.44:1515" || client.DisplayID != 5 || len(opts) != 0 {
		t.Fatalf("unexpected tcp client config: %+v opts=%d", client, len(opts))
	}
	serialCfg, opts := cfg.Displays[1].ToClientConfig()
	if len(opts) != 1 {
		t.Fatalf("serial display needs a transport option")
	}
	c, err := display.New(serialCfg, opts...)
	if err != nil {
		t.Fatalf("new serial client: %v", err)
	}
	defer c.Close()
	if !strings.HasPrefix(c.Status().Transport, "serial://") {
		t.Fatalf("unexpected transport %q", c.Status().Transport)
	}
}

func TestDecodeRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"no displays":   "[server]\nlisten = \":8080\"\n",
		"missing host":  "[[displays]]\nname = \"a\"\n",
		"bad transport": "[[displays]]\nname = \"a\"\nhost = \"h\"\ntransport = \"udp\"\n",
		"bad id":        "[[displays]]\nname = \"a\"\nhost = \"h\"\ndisplay_id = 300\n",
		"bad duration":  "[[displays]]\nname = \"a\"\nhost = \"h\"\nretry_delay = \"soon\"\n",
		"duplicate":     "[[displays]]\nname = \"a\"\nhost = \"h\"\n[[displays]]\nname = \"a\"\nhost = \"h\"\n",
		"serial device": "[[displays]]\nname = \"a\"\ntransport = \"serial\"\n",
		"bad parity":    "[[displays]]\nname = \"a\"\nhost = \"h\"\n[displays.serial]\nparity = \"weird\"\n",
		"empty listen":  "[server]\nlisten = \"\"\n[[displays]]\nname = \"a\"\nhost = \"h\"\n",
	}
	for name, data := range cases {
		if _, err := Decode(data); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Decode("[server]\nlisten = \":8080\"\n"); !errors.Is(err, ErrNoDisplays) {
		t.Fatalf("expected ErrNoDisplays, got %v", err)
	}
}

func TestTemplateRoundTripsThroughLoad(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "displayctl.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("second write must refuse to overwrite")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("forced write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		data, _ := os.ReadFile(path)
		t.Fatalf("load template: %v\n%s", err, data)
	}
	if len(cfg.Displays) != 2 || cfg.Displays[0].Name != "lobby" || cfg.Displays[1].Transport != TransportSerial {
		t.Fatalf("unexpected template config: %+v", cfg.Displays)
	}
}

func TestLoadMissingFile(t *testing.T) {
	testlog.Start(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected load error")
	}
}
