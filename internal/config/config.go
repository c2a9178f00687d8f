package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/displayctl/internal/display"
	"github.com/danmuck/displayctl/internal/protocol"
	"github.com/danmuck/displayctl/internal/protocol/session"
)

const (
	TransportTCP    = "tcp"
	TransportSerial = "serial"

	// DefaultReconnectMultiplier applies when reconnect_max_delay exceeds
	// reconnect_delay and reconnect_multiplier is unset.
	DefaultReconnectMultiplier = 2.0
)

var ErrNoDisplays = errors.New("config: no displays configured")

// File is a resolved displayctl configuration.
type File struct {
	Server   Server
	Displays []Display
}

// Server holds the HTTP control surface settings.
type Server struct {
	Listen string
	// CommandTimeout bounds how long one HTTP command waits for settlement.
	CommandTimeout time.Duration
	// StatusInterval is the period of the serve heartbeat log; 0 disables it.
	StatusInterval time.Duration
}

// Display is one configured display with defaults applied.
type Display struct {
	Name      string
	Transport string
	Host      string
	Port      int
	DisplayID byte
	Serial    display.SerialConfig
	Session   session.Config
}

type fileConfig struct {
	Server   serverFile    `toml:"server"`
	Displays []displayFile `toml:"displays"`
}

type serverFile struct {
	Listen         string `toml:"listen"`
	CommandTimeout string `toml:"command_timeout"`
	StatusInterval string `toml:"status_interval"`
}

type displayFile struct {
	Name           string     `toml:"name"`
	Transport      string     `toml:"transport,omitempty"`
	Host           string     `toml:"host,omitempty"`
	Port           int        `toml:"port,omitempty"`
	DisplayID      int        `toml:"display_id"`
	ReconnectDelay string     `toml:"reconnect_delay,omitempty"`
	ReconnectMax   string     `toml:"reconnect_max_delay,omitempty"`
	ReconnectMult  float64    `toml:"reconnect_multiplier,omitempty"`
	ReconnectJit   bool       `toml:"reconnect_jitter,omitempty"`
	CmdRate        string     `toml:"cmd_rate,omitempty"`
	RetryDelay     string     `toml:"retry_delay,omitempty"`
	RetryMaxCount  int        `toml:"retry_max_count,omitempty"`
	MaxQueueLen    int        `toml:"max_queue_len,omitempty"`
	Serial         serialFile `toml:"serial,omitempty"`
}

type serialFile struct {
	Device   string `toml:"device,omitempty"`
	BaudRate int    `toml:"baud_rate,omitempty"`
	DataBits int    `toml:"data_bits,omitempty"`
	Parity   string `toml:"parity,omitempty"`
	StopBits string `toml:"stop_bits,omitempty"`
}

// DefaultServer returns the control surface defaults.
func DefaultServer() Server {
	return Server{
		Listen:         "127.0.0.1:8080",
		CommandTimeout: 10 * time.Second,
		StatusInterval: 30 * time.Second,
	}
}

// Load reads path and applies the keys it defines on top of the defaults.
func Load(path string) (File, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return File{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := resolve(raw, meta)
	if err != nil {
		return File{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Decode parses TOML text the same way Load parses a file.
func Decode(data string) (File, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return File{}, fmt.Errorf("config parse failed: %w", err)
	}
	return resolve(raw, meta)
}

func resolve(raw fileConfig, meta toml.MetaData) (File, error) {
	cfg := File{Server: DefaultServer()}

	if meta.IsDefined("server", "listen") {
		cfg.Server.Listen = strings.TrimSpace(raw.Server.Listen)
	}
	if meta.IsDefined("server", "command_timeout") {
		d, err := parseDuration("server.command_timeout", raw.Server.CommandTimeout)
		if err != nil {
			return File{}, err
		}
		cfg.Server.CommandTimeout = d
	}
	if meta.IsDefined("server", "status_interval") {
		d, err := parseDuration("server.status_interval", raw.Server.StatusInterval)
		if err != nil {
			return File{}, err
		}
		cfg.Server.StatusInterval = d
	}

	for i, entry := range raw.Displays {
		d, err := resolveDisplay(entry)
		if err != nil {
			return File{}, fmt.Errorf("displays[%d]: %w", i, err)
		}
		cfg.Displays = append(cfg.Displays, d)
	}
	if err := Validate(cfg); err != nil {
		return File{}, err
	}
	return cfg, nil
}

// resolveDisplay fills omitted fields of one [[displays]] entry. Array
// entries are not addressable through MetaData, so zero values mean "unset".
func resolveDisplay(entry displayFile) (Display, error) {
	d := Display{
		Name:      strings.TrimSpace(entry.Name),
		Transport: strings.ToLower(strings.TrimSpace(entry.Transport)),
		Host:      strings.TrimSpace(entry.Host),
		Port:      entry.Port,
		Serial:    display.DefaultSerialConfig(),
		Session:   session.DefaultConfig(),
	}
	if d.Transport == "" {
		d.Transport = TransportTCP
	}
	if d.Port == 0 {
		d.Port = protocol.DefaultPort
	}
	if entry.DisplayID < 0 || entry.DisplayID > 0xFF {
		return Display{}, fmt.Errorf("display_id %d out of range", entry.DisplayID)
	}
	d.DisplayID = byte(entry.DisplayID)

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"reconnect_delay", entry.ReconnectDelay, &d.Session.Backoff.InitialDelay},
		{"reconnect_max_delay", entry.ReconnectMax, &d.Session.Backoff.MaxDelay},
		{"cmd_rate", entry.CmdRate, &d.Session.CmdRate},
		{"retry_delay", entry.RetryDelay, &d.Session.RetryDelay},
	}
	for _, item := range durations {
		if strings.TrimSpace(item.raw) == "" {
			continue
		}
		v, err := parseDuration(item.key, item.raw)
		if err != nil {
			return Display{}, err
		}
		*item.dst = v
	}
	// Without reconnect_max_delay the delay stays fixed. With a larger cap and
	// no reconnect_multiplier, consecutive failed dials double the delay.
	if entry.ReconnectMax == "" {
		d.Session.Backoff.MaxDelay = d.Session.Backoff.InitialDelay
	} else if d.Session.Backoff.MaxDelay > d.Session.Backoff.InitialDelay {
		d.Session.Backoff.Multiplier = DefaultReconnectMultiplier
	}
	if entry.ReconnectMult != 0 {
		d.Session.Backoff.Multiplier = entry.ReconnectMult
	}
	d.Session.Backoff.Jitter = entry.ReconnectJit
	if entry.RetryMaxCount != 0 {
		d.Session.RetryMaxCount = entry.RetryMaxCount
	}
	d.Session.MaxQueueLen = entry.MaxQueueLen

	if entry.Serial.Device != "" {
		d.Serial.Device = strings.TrimSpace(entry.Serial.Device)
	}
	if entry.Serial.BaudRate != 0 {
		d.Serial.BaudRate = entry.Serial.BaudRate
	}
	if entry.Serial.DataBits != 0 {
		d.Serial.DataBits = entry.Serial.DataBits
	}
	parity, ok := display.ParseParity(strings.ToLower(strings.TrimSpace(entry.Serial.Parity)))
	if !ok {
		return Display{}, fmt.Errorf("serial.parity %q not supported", entry.Serial.Parity)
	}
	d.Serial.Parity = parity
	stop, ok := display.ParseStopBits(strings.TrimSpace(entry.Serial.StopBits))
	if !ok {
		return Display{}, fmt.Errorf("serial.stop_bits %q not supported", entry.Serial.StopBits)
	}
	d.Serial.StopBits = stop
	return d, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

// Validate checks a resolved configuration.
func Validate(cfg File) error {
	if strings.TrimSpace(cfg.Server.Listen) == "" {
		return fmt.Errorf("server.listen is required")
	}
	if cfg.Server.CommandTimeout <= 0 {
		return fmt.Errorf("server.command_timeout must be positive")
	}
	if len(cfg.Displays) == 0 {
		return ErrNoDisplays
	}
	seen := make(map[string]struct{}, len(cfg.Displays))
	for i, d := range cfg.Displays {
		if err := ValidateDisplay(d); err != nil {
			return fmt.Errorf("displays[%d] invalid: %w", i, err)
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("displays[%d] invalid: duplicate name %q", i, d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return nil
}

func ValidateDisplay(d Display) error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch d.Transport {
	case TransportTCP:
		if d.Host == "" {
			return fmt.Errorf("host is required for tcp transport")
		}
		if d.Port <= 0 || d.Port > 65535 {
			return fmt.Errorf("port %d out of range", d.Port)
		}
	case TransportSerial:
		if d.Serial.Device == "" {
			return fmt.Errorf("serial.device is required for serial transport")
		}
		if d.Serial.BaudRate <= 0 {
			return fmt.Errorf("serial.baud_rate must be positive")
		}
	default:
		return fmt.Errorf("unknown transport %q", d.Transport)
	}
	return d.Session.Validate()
}

// ToClientConfig maps d onto a display client config and the options that
// select its transport.
func (d Display) ToClientConfig() (display.Config, []display.Option) {
	cfg := display.Config{
		Name:      d.Name,
		Host:      d.Host,
		Port:      d.Port,
		DisplayID: d.DisplayID,
		Session:   d.Session,
	}
	var opts []display.Option
	if d.Transport == TransportSerial {
		opts = append(opts, display.WithTransport(display.SerialTransport{Config: d.Serial}))
	}
	return cfg, opts
}
