package display

import (
	"context"
	"io"
	"net"
	"time"

	"go.bug.st/serial"
)

// Transport opens the byte stream to a display.
type Transport interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

// TCPTransport reaches a display on its LAN control port.
type TCPTransport struct {
	Addr    string
	Timeout time.Duration
}

func (t TCPTransport) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	dialer := net.Dialer{Timeout: t.Timeout}
	return dialer.DialContext(ctx, "tcp", t.Addr)
}

func (t TCPTransport) String() string {
	return "tcp://" + t.Addr
}

// SerialConfig holds RS-232 line settings.
type SerialConfig struct {
	// Device is the port name, e.g. "/dev/ttyUSB0" or "COM3".
	Device   string
	BaudRate int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
}

// DefaultSerialConfig returns the MDC line defaults, 9600 8N1.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// SerialTransport reaches a display over an RS-232 daisy chain.
type SerialTransport struct {
	Config SerialConfig
}

func (t SerialTransport) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: t.Config.BaudRate,
		DataBits: t.Config.DataBits,
		Parity:   t.Config.Parity,
		StopBits: t.Config.StopBits,
	}
	return serial.Open(t.Config.Device, mode)
}

func (t SerialTransport) String() string {
	return "serial://" + t.Config.Device
}

// ParseParity maps "none", "odd", "even", "mark" and "space" to serial.Parity.
func ParseParity(raw string) (serial.Parity, bool) {
	switch raw {
	case "", "none", "n":
		return serial.NoParity, true
	case "odd", "o":
		return serial.OddParity, true
	case "even", "e":
		return serial.EvenParity, true
	case "mark", "m":
		return serial.MarkParity, true
	case "space", "s":
		return serial.SpaceParity, true
	default:
		return serial.NoParity, false
	}
}

// ParseStopBits maps 1, 1.5 and 2 to serial.StopBits.
func ParseStopBits(raw string) (serial.StopBits, bool) {
	switch raw {
	case "", "1":
		return serial.OneStopBit, true
	case "1.5":
		return serial.OnePointFiveStopBits, true
	case "2":
		return serial.TwoStopBits, true
	default:
		return serial.OneStopBit, false
	}
}
