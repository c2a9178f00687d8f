package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrQueueFull = errors.New("session: command queue full")

// PendingCommand is one queued command and its retry state.
type PendingCommand struct {
	ID         string
	CommandID  byte
	Payload    []byte
	RetryCount int
	InFlight   bool
	QueuedAt   time.Time
	LastSentAt time.Time
	Result     *Result

	retry      *time.Timer
	retryToken uint64
}

func NewPendingCommand(commandID byte, payload []byte) *PendingCommand {
	data := make([]byte, len(payload))
	copy(data, payload)
	return &PendingCommand{
		ID:        uuid.NewString(),
		CommandID: commandID,
		Payload:   data,
		QueuedAt:  time.Now(),
		Result:    NewResult(),
	}
}

// ArmRetry starts the retry timer unless one is already armed. fire runs on
// the timer goroutine with the token identifying this arming.
func (p *PendingCommand) ArmRetry(d time.Duration, fire func(token uint64)) bool {
	if p.retry != nil {
		return false
	}
	p.retryToken++
	token := p.retryToken
	p.retry = time.AfterFunc(d, func() { fire(token) })
	return true
}

// CancelRetry stops the armed timer; a callback already in flight is
// invalidated through its token.
func (p *PendingCommand) CancelRetry() {
	if p.retry != nil {
		p.retry.Stop()
		p.retry = nil
	}
	p.retryToken++
}

// ExpireRetry clears the timer after it fired. It reports false for a stale token.
func (p *PendingCommand) ExpireRetry(token uint64) bool {
	if p.retry == nil || token != p.retryToken {
		return false
	}
	p.retry = nil
	return true
}

func (p *PendingCommand) RetryArmed() bool {
	return p.retry != nil
}

// Queue is the FIFO of pending commands for one display. Only the head may be
// in flight.
type Queue struct {
	items []*PendingCommand
	max   int
}

// NewQueue returns a queue bounded to max entries; max <= 0 is unbounded.
func NewQueue(max int) *Queue {
	return &Queue{max: max}
}

func (q *Queue) Push(p *PendingCommand) error {
	if q.max > 0 && len(q.items) >= q.max {
		return ErrQueueFull
	}
	q.items = append(q.items, p)
	return nil
}

func (q *Queue) Head() (*PendingCommand, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// Pop removes the head and stops its retry timer.
func (q *Queue) Pop() (*PendingCommand, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	head := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	head.CancelRetry()
	head.InFlight = false
	return head, true
}

func (q *Queue) Len() int {
	return len(q.items)
}

// Drain removes every entry in order, stopping retry timers.
func (q *Queue) Drain() []*PendingCommand {
	out := q.items
	q.items = nil
	for _, p := range out {
		p.CancelRetry()
		p.InFlight = false
	}
	return out
}

// CommandSnapshot is a read-only view of one queued command.
type CommandSnapshot struct {
	ID         string
	CommandID  byte
	RetryCount int
	InFlight   bool
	QueuedAt   time.Time
}

func (q *Queue) Snapshot() []CommandSnapshot {
	out := make([]CommandSnapshot, 0, len(q.items))
	for _, p := range q.items {
		out = append(out, CommandSnapshot{
			ID:         p.ID,
			CommandID:  p.CommandID,
			RetryCount: p.RetryCount,
			InFlight:   p.InFlight,
			QueuedAt:   p.QueuedAt,
		})
	}
	return out
}
