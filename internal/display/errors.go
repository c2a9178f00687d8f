package display

import (
	"errors"
	"fmt"

	"github.com/danmuck/displayctl/internal/protocol/frame"
	"github.com/danmuck/displayctl/internal/protocol/session"
)

var (
	ErrInvalidPayload     = frame.ErrInvalidPayload
	ErrQueueFull          = session.ErrQueueFull
	ErrEmptyCommand       = errors.New("display: empty command")
	ErrTimeout            = errors.New("display: retry budget exhausted")
	ErrCommandRejected    = errors.New("display: command rejected")
	ErrConnectionLost     = errors.New("display: connection lost")
	ErrProtocolCorruption = errors.New("display: protocol corruption")
	ErrClientClosed       = errors.New("display: client closed")
	ErrAddressRequired    = errors.New("display: address required")
)

// RejectedError reports a NAK from the display. It matches ErrCommandRejected.
type RejectedError struct {
	CommandID byte
	Data      []byte
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%v: command=0x%02X data=% X", ErrCommandRejected, e.CommandID, e.Data)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrCommandRejected
}
