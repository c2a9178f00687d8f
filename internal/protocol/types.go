package protocol

import "time"

const (
	// Magic opens every request and response frame.
	Magic byte = 0xAA
	// ResponseMarker follows Magic in frames sent by a display.
	ResponseMarker byte = 0xFF

	Ack byte = 0x41
	Nak byte = 0x4E

	// MaxPayload is the largest data section a one byte length can describe.
	MaxPayload = 255

	// RequestOverhead counts magic, command, display, length and checksum.
	RequestOverhead = 5
	// MinResponseLen is the smallest buffer that can hold a response header.
	MinResponseLen = 6
)

// DefaultPort is the MDC TCP control port.
const DefaultPort = 1515

// Reliability defaults shared by clients and the config loader.
const (
	DefaultReconnectDelay = 1000 * time.Millisecond
	DefaultCmdRate        = 10 * time.Millisecond
	DefaultRetryDelay     = 1000 * time.Millisecond
	DefaultRetryMaxCount  = 3
)
