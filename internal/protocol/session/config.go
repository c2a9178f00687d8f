package session

import (
	"errors"
	"time"

	"github.com/danmuck/displayctl/internal/protocol"
)

var (
	ErrInvalidRetryDelay    = errors.New("session: retry delay must be positive")
	ErrInvalidRetryMaxCount = errors.New("session: retry max count must be positive")
	ErrInvalidCmdRate       = errors.New("session: cmd rate must not be negative")
	ErrInvalidBackoff       = errors.New("session: reconnect delay must be positive")
	ErrInvalidMultiplier    = errors.New("session: reconnect multiplier must be at least 1")
)

// BackoffConfig defines reconnect backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines command pacing, retry and transport timing for one display.
type Config struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	// CmdRate is the pause after connecting and after each settled command.
	CmdRate time.Duration
	// RetryDelay is how long the head waits for a response before it is resent.
	RetryDelay time.Duration
	// RetryMaxCount bounds transmissions per command.
	RetryMaxCount int
	// MaxQueueLen bounds pending commands; 0 disables the bound.
	MaxQueueLen int
	Backoff     BackoffConfig
}

// DefaultConfig returns the MDC reliability defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   5 * time.Second,
		CmdRate:        protocol.DefaultCmdRate,
		RetryDelay:     protocol.DefaultRetryDelay,
		RetryMaxCount:  protocol.DefaultRetryMaxCount,
		Backoff: BackoffConfig{
			InitialDelay: protocol.DefaultReconnectDelay,
			Multiplier:   1.0,
			MaxDelay:     protocol.DefaultReconnectDelay,
			Jitter:       false,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.RetryMaxCount == 0 {
		c.RetryMaxCount = def.RetryMaxCount
	}
	if c.Backoff.InitialDelay == 0 {
		c.Backoff.InitialDelay = def.Backoff.InitialDelay
	}
	if c.Backoff.Multiplier == 0 {
		c.Backoff.Multiplier = def.Backoff.Multiplier
	}
	return c
}

func (c Config) Validate() error {
	if c.RetryDelay <= 0 {
		return ErrInvalidRetryDelay
	}
	if c.RetryMaxCount <= 0 {
		return ErrInvalidRetryMaxCount
	}
	if c.CmdRate < 0 {
		return ErrInvalidCmdRate
	}
	if c.Backoff.InitialDelay <= 0 {
		return ErrInvalidBackoff
	}
	if c.Backoff.Multiplier != 0 && c.Backoff.Multiplier < 1 {
		return ErrInvalidMultiplier
	}
	return nil
}
