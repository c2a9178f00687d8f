package display

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/displayctl/internal/observability"
)

const readChunk = 4096

func (c *Client) setState(s State) {
	if c.state != s {
		c.log.Debug().Str("from", c.state.String()).Str("to", s.String()).Msg("display.Client.setState")
	}
	c.state = s
	c.published.Store(int32(s))
	observability.SetConnectionState(c.name, int(s))
}

// ensureConnected starts a dial unless one is under way, a link is up, or a
// reconnect is already scheduled.
func (c *Client) ensureConnected() {
	if c.state != StateDisconnected || c.reconnectArmed {
		return
	}
	c.gen++
	gen := c.gen
	c.setState(StateConnecting)
	c.log.Info().Str("transport", c.transport.String()).Msg("display.Client.ensureConnected dial")

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.Session.ConnectTimeout)
	go func() {
		defer cancel()
		conn, err := c.transport.Dial(ctx)
		if !c.post(dialedEvent{gen: gen, conn: conn, err: err}) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (c *Client) onDialed(ev dialedEvent) {
	if ev.gen != c.gen || c.state != StateConnecting {
		if ev.conn != nil {
			_ = ev.conn.Close()
		}
		return
	}
	if ev.err != nil {
		c.log.Warn().Err(ev.err).Int("attempt", c.reconnectAttempt).Msg("display.Client.onDialed failed")
		c.setState(StateDisconnected)
		c.scheduleReconnect()
		return
	}
	c.conn = ev.conn
	c.buf = c.buf[:0]
	c.reconnectAttempt = 0
	c.setState(StateConnected)
	c.log.Info().Int("queued", c.queue.Len()).Msg("display.Client.onDialed connected")

	go c.readLoop(ev.gen, ev.conn)
	c.schedulePace()
}

// readLoop forwards socket bytes to the client goroutine until the read fails.
func (c *Client) readLoop(gen uint64, r io.Reader) {
	buf := make([]byte, readChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !c.post(readEvent{gen: gen, data: data}) {
				return
			}
		}
		if err != nil {
			c.post(readErrEvent{gen: gen, err: err})
			return
		}
	}
}

func (c *Client) onReadErr(ev readErrEvent) {
	if ev.gen != c.gen || c.state != StateConnected {
		return
	}
	cause := ev.err
	if errors.Is(cause, io.EOF) {
		cause = errors.New("closed by peer")
	}
	c.connectionLost(cause)
}

// connectionLost handles an unrequested socket failure.
func (c *Client) connectionLost(cause error) {
	c.log.Warn().Err(cause).Int("queued", c.queue.Len()).Msg("display.Client.connectionLost")
	c.dropConnection(fmt.Errorf("%w: %v", ErrConnectionLost, cause))
	c.scheduleReconnect()
}

// dropConnection closes the link and fails the in-flight head with reason.
// Commands that were never sent stay queued.
func (c *Client) dropConnection(reason error) {
	c.gen++
	c.closeConn()
	c.stopPace()
	c.buf = c.buf[:0]
	if head, ok := c.queue.Head(); ok {
		head.CancelRetry()
		if head.InFlight {
			c.queue.Pop()
			c.settle(head, nil, reason)
		}
	}
	c.setState(StateDisconnected)
}

func (c *Client) closeConn() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
}

// onDisconnect is the caller-forced teardown. Only the in-flight head fails;
// unsent commands stay queued and go out once a later Submit reconnects.
func (c *Client) onDisconnect() {
	c.stopReconnect()
	c.reconnectAttempt = 0
	c.dropConnection(fmt.Errorf("%w: disconnect requested", ErrConnectionLost))
	c.log.Info().Int("queued", c.queue.Len()).Msg("display.Client.onDisconnect")
}

// scheduleReconnect arms one reconnect attempt after backoff if commands are
// waiting.
func (c *Client) scheduleReconnect() {
	if c.queue.Len() == 0 || c.reconnectArmed {
		return
	}
	c.reconnectAttempt++
	delay := c.reconnectDelay()
	c.reconnectSeq++
	seq := c.reconnectSeq
	c.reconnectArmed = true
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.post(reconnectEvent{seq: seq})
	})
	observability.RecordReconnect(c.name)
	c.log.Info().Dur("delay", delay).Int("attempt", c.reconnectAttempt).Msg("display.Client.scheduleReconnect armed")
}

func (c *Client) onReconnect(ev reconnectEvent) {
	if ev.seq != c.reconnectSeq || !c.reconnectArmed {
		return
	}
	c.reconnectArmed = false
	c.reconnectTimer = nil
	if c.queue.Len() == 0 {
		c.reconnectAttempt = 0
		return
	}
	c.ensureConnected()
}

func (c *Client) stopReconnect() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.reconnectArmed = false
	c.reconnectSeq++
}
