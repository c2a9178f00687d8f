package display

import (
	"fmt"
	"time"

	"github.com/danmuck/displayctl/internal/observability"
	"github.com/danmuck/displayctl/internal/protocol/frame"
	"github.com/danmuck/displayctl/internal/protocol/session"
)

type trigger int

const (
	triggerSubmit trigger = iota
	triggerPace
	triggerRetry
)

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// attemptTransmit sends the queue head when the link and pacing allow it.
// Only a retry expiry may resend a head that is already in flight.
func (c *Client) attemptTransmit(why trigger) {
	if c.state != StateConnected {
		if c.queue.Len() > 0 {
			c.ensureConnected()
		}
		return
	}
	head, ok := c.queue.Head()
	if !ok {
		return
	}
	if head.InFlight && why != triggerRetry {
		return
	}
	if why == triggerSubmit && c.paceArmed {
		return
	}
	if head.RetryCount >= c.cfg.Session.RetryMaxCount {
		c.queue.Pop()
		c.log.Warn().
			Str("id", head.ID).
			Str("command", fmt.Sprintf("0x%02X", head.CommandID)).
			Int("attempts", head.RetryCount).
			Msg("display.Client.attemptTransmit timeout")
		c.settle(head, nil, fmt.Errorf("%w: command=0x%02X attempts=%d", ErrTimeout, head.CommandID, head.RetryCount))
		c.schedulePace()
		return
	}

	raw, err := frame.Encode(head.CommandID, c.cfg.DisplayID, head.Payload)
	if err != nil {
		c.queue.Pop()
		c.settle(head, nil, err)
		c.schedulePace()
		return
	}
	if err := c.write(raw); err != nil {
		c.connectionLost(fmt.Errorf("write: %w", err))
		return
	}
	head.RetryCount++
	head.InFlight = true
	head.LastSentAt = time.Now()
	observability.RecordTransmission(c.name, head.RetryCount > 1)
	c.log.Debug().
		Str("id", head.ID).
		Int("attempt", head.RetryCount).
		Hex("frame", raw).
		Msg("display.Client.attemptTransmit sent")

	head.ArmRetry(c.cfg.Session.RetryDelay, func(token uint64) {
		c.post(retryEvent{cmd: head, token: token})
	})
}

func (c *Client) write(raw []byte) error {
	if wd, ok := c.conn.(writeDeadliner); ok && c.cfg.Session.WriteTimeout > 0 {
		_ = wd.SetWriteDeadline(time.Now().Add(c.cfg.Session.WriteTimeout))
	}
	_, err := c.conn.Write(raw)
	return err
}

func (c *Client) onRetry(ev retryEvent) {
	head, ok := c.queue.Head()
	if !ok || head != ev.cmd || !head.ExpireRetry(ev.token) {
		return
	}
	c.log.Debug().Str("id", head.ID).Int("attempts", head.RetryCount).Msg("display.Client.onRetry overdue")
	c.attemptTransmit(triggerRetry)
}

// schedulePace arms the inter-command pause, replacing any pending one.
func (c *Client) schedulePace() {
	c.stopPace()
	c.paceArmed = true
	seq := c.paceSeq
	c.paceTimer = time.AfterFunc(c.cfg.Session.CmdRate, func() {
		c.post(paceEvent{seq: seq})
	})
}

func (c *Client) stopPace() {
	if c.paceTimer != nil {
		c.paceTimer.Stop()
		c.paceTimer = nil
	}
	c.paceArmed = false
	c.paceSeq++
}

func (c *Client) onPace(ev paceEvent) {
	if ev.seq != c.paceSeq || !c.paceArmed {
		return
	}
	c.paceArmed = false
	c.paceTimer = nil
	c.attemptTransmit(triggerPace)
}

func (c *Client) onRead(ev readEvent) {
	if ev.gen != c.gen || c.state != StateConnected {
		return
	}
	c.buf = append(c.buf, ev.data...)
	frames, n, err := frame.ExtractAll(c.buf)
	c.buf = c.buf[:copy(c.buf, c.buf[n:])]
	for _, resp := range frames {
		c.dispatch(resp)
	}
	if err != nil {
		c.log.Error().Err(err).Hex("buffer", c.buf).Msg("display.Client.onRead corrupt")
		c.dropConnection(fmt.Errorf("%w: %w", ErrProtocolCorruption, err))
		c.scheduleReconnect()
	}
}

// dispatch routes one decoded response against the queue head.
func (c *Client) dispatch(resp frame.Response) {
	head, ok := c.queue.Head()
	if !ok {
		c.log.Debug().Str("command", fmt.Sprintf("0x%02X", resp.CommandID)).Msg("display.Client.dispatch discard empty_queue")
		return
	}
	if resp.CommandID != head.CommandID || !head.InFlight {
		observability.RecordUnexpected(c.name)
		if resp.Success && c.unexpected != nil {
			c.callUnexpected(resp)
			return
		}
		c.log.Debug().
			Str("command", fmt.Sprintf("0x%02X", resp.CommandID)).
			Str("head", fmt.Sprintf("0x%02X", head.CommandID)).
			Bool("ack", resp.Success).
			Msg("display.Client.dispatch drop unmatched")
		return
	}

	c.queue.Pop()
	if resp.Success {
		c.settle(head, resp.Data, nil)
	} else {
		c.settle(head, nil, &RejectedError{CommandID: resp.CommandID, Data: resp.Data})
	}
	c.schedulePace()
}

func (c *Client) callUnexpected(resp frame.Response) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("display.Client.callUnexpected panic")
		}
	}()
	c.unexpected(resp.CommandID, resp.Data)
}

// settle completes cmd exactly once and records its outcome.
func (c *Client) settle(cmd *session.PendingCommand, data []byte, err error) {
	var won bool
	if err != nil {
		won = cmd.Result.Reject(err)
	} else {
		won = cmd.Result.Resolve(data)
	}
	if !won {
		return
	}
	c.finishCommand(cmd, err)
}

func (c *Client) reconnectDelay() time.Duration {
	return session.ReconnectDelay(c.cfg.Session.Backoff, c.reconnectAttempt, c.rng)
}
