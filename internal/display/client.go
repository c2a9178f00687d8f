package display

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/danmuck/displayctl/internal/protocol"
	"github.com/danmuck/displayctl/internal/protocol/session"
)

// State is the connection state of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// UnexpectedResponseHandler receives ACK frames whose echoed command does not
// match the queue head. It runs on the client goroutine and must not call
// blocking Client methods.
type UnexpectedResponseHandler func(commandID byte, data []byte)

// Config identifies one display and its reliability settings.
type Config struct {
	Name      string
	Host      string
	Port      int
	DisplayID byte
	Session   session.Config
}

// DefaultConfig returns a config for host on the MDC port with default timings.
func DefaultConfig(host string) Config {
	return Config{
		Host:    host,
		Port:    protocol.DefaultPort,
		Session: session.DefaultConfig(),
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = protocol.DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Option customizes a Client.
type Option func(*Client)

// WithTransport replaces the TCP dialer derived from Config.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.log = l
		c.logSet = true
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

func WithUnexpectedResponseHandler(fn UnexpectedResponseHandler) Option {
	return func(c *Client) {
		c.unexpected = fn
	}
}

// Status is a point-in-time view of a Client.
type Status struct {
	Name      string
	Transport string
	DisplayID byte
	State     State
	Commands  []session.CommandSnapshot
}

// Client drives one display. All methods are safe for concurrent use.
type Client struct {
	name      string
	cfg       Config
	transport Transport
	log       zerolog.Logger
	logSet    bool
	tracer    trace.Tracer

	events    chan any
	stopping  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	ctx       context.Context
	cancel    context.CancelFunc
	published atomic.Int32

	// owned by the run goroutine
	state            State
	queue            *session.Queue
	spans            map[string]trace.Span
	conn             io.ReadWriteCloser
	gen              uint64
	buf              []byte
	unexpected       UnexpectedResponseHandler
	paceTimer        *time.Timer
	paceSeq          uint64
	paceArmed        bool
	reconnectTimer   *time.Timer
	reconnectSeq     uint64
	reconnectArmed   bool
	reconnectAttempt int
	rng              *rand.Rand
}

// New validates cfg and starts the client goroutine. No connection is opened
// until the first command is submitted.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:      cfg,
		events:   make(chan any, 64),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
		queue:    session.NewQueue(cfg.Session.MaxQueueLen),
		spans:    make(map[string]trace.Span),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		if cfg.Host == "" {
			return nil, ErrAddressRequired
		}
		c.transport = TCPTransport{Addr: cfg.Addr(), Timeout: cfg.Session.ConnectTimeout}
	}
	c.name = cfg.Name
	if c.name == "" {
		c.name = c.transport.String()
	}
	if !c.logSet {
		c.log = log.Logger
	}
	c.log = c.log.With().Str("display", c.name).Logger()
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.setState(StateDisconnected)

	go c.run()
	return c, nil
}

func (c *Client) Name() string {
	return c.name
}

// State returns the last published connection state without waiting on the
// client goroutine.
func (c *Client) State() State {
	return State(c.published.Load())
}

// Submit queues commandID with payload and returns its settle-once result.
func (c *Client) Submit(commandID byte, payload []byte) (*session.Result, error) {
	return c.SubmitContext(context.Background(), commandID, payload)
}

// SubmitContext is Submit with ctx as the parent of the command span. ctx does
// not bound the command; use Result.Wait for that.
func (c *Client) SubmitContext(ctx context.Context, commandID byte, payload []byte) (*session.Result, error) {
	if len(payload) > protocol.MaxPayload {
		return nil, fmt.Errorf("%w: len=%d", ErrInvalidPayload, len(payload))
	}
	cmd := session.NewPendingCommand(commandID, payload)
	span := c.startSpan(ctx, cmd)
	if !c.post(submitEvent{cmd: cmd, span: span}) {
		span.End()
		return nil, ErrClientClosed
	}
	return cmd.Result, nil
}

// SubmitRaw splits packet into command byte and payload and submits it.
func (c *Client) SubmitRaw(packet []byte) (*session.Result, error) {
	if len(packet) == 0 {
		return nil, ErrEmptyCommand
	}
	return c.Submit(packet[0], packet[1:])
}

// Send submits a command and waits for its outcome or ctx.
func (c *Client) Send(ctx context.Context, commandID byte, payload []byte) ([]byte, error) {
	res, err := c.SubmitContext(ctx, commandID, payload)
	if err != nil {
		return nil, err
	}
	return res.Wait(ctx)
}

// SetUnexpectedResponseHandler installs fn; nil removes the handler.
func (c *Client) SetUnexpectedResponseHandler(fn UnexpectedResponseHandler) {
	c.post(handlerEvent{fn: fn})
}

// Disconnect drops the connection and fails the in-flight command with
// ErrConnectionLost. Queued commands stay queued; the next Submit reconnects
// and sends them in order.
func (c *Client) Disconnect() {
	ack := make(chan struct{})
	if !c.post(disconnectEvent{ack: ack}) {
		return
	}
	select {
	case <-ack:
	case <-c.done:
	}
}

// Status asks the client goroutine for a snapshot.
func (c *Client) Status() Status {
	reply := make(chan Status, 1)
	if c.post(statusEvent{reply: reply}) {
		select {
		case st := <-reply:
			return st
		case <-c.done:
		}
	}
	return Status{
		Name:      c.name,
		Transport: c.transport.String(),
		DisplayID: c.cfg.DisplayID,
		State:     StateDisconnected,
	}
}

// Close fails every queued command with ErrClientClosed and stops the client.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.post(closeEvent{})
	})
	<-c.done
	return nil
}

// Done is closed once the client goroutine has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

type submitEvent struct {
	cmd  *session.PendingCommand
	span trace.Span
}

type handlerEvent struct{ fn UnexpectedResponseHandler }

type disconnectEvent struct{ ack chan struct{} }

type statusEvent struct{ reply chan Status }

type closeEvent struct{}

type dialedEvent struct {
	gen  uint64
	conn io.ReadWriteCloser
	err  error
}

type readEvent struct {
	gen  uint64
	data []byte
}

type readErrEvent struct {
	gen uint64
	err error
}

type retryEvent struct {
	cmd   *session.PendingCommand
	token uint64
}

type paceEvent struct{ seq uint64 }

type reconnectEvent struct{ seq uint64 }

// post hands ev to the client goroutine. It reports false once the client
// is shutting down; an accepted event is always handled.
func (c *Client) post(ev any) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.events <- ev:
		return true
	case <-c.stopping:
		return false
	}
}

func (c *Client) run() {
	defer close(c.done)
	for ev := range c.events {
		switch ev := ev.(type) {
		case submitEvent:
			c.onSubmit(ev)
		case handlerEvent:
			c.unexpected = ev.fn
		case disconnectEvent:
			c.onDisconnect()
			close(ev.ack)
		case statusEvent:
			ev.reply <- c.snapshot()
		case dialedEvent:
			c.onDialed(ev)
		case readEvent:
			c.onRead(ev)
		case readErrEvent:
			c.onReadErr(ev)
		case retryEvent:
			c.onRetry(ev)
		case paceEvent:
			c.onPace(ev)
		case reconnectEvent:
			c.onReconnect(ev)
		case closeEvent:
			c.shutdown()
			return
		}
	}
}

func (c *Client) snapshot() Status {
	return Status{
		Name:      c.name,
		Transport: c.transport.String(),
		DisplayID: c.cfg.DisplayID,
		State:     c.state,
		Commands:  c.queue.Snapshot(),
	}
}

func (c *Client) onSubmit(ev submitEvent) {
	c.spans[ev.cmd.ID] = ev.span
	if err := c.queue.Push(ev.cmd); err != nil {
		c.settle(ev.cmd, nil, err)
		return
	}
	c.log.Debug().
		Str("id", ev.cmd.ID).
		Str("command", fmt.Sprintf("0x%02X", ev.cmd.CommandID)).
		Int("queued", c.queue.Len()).
		Msg("display.Client.onSubmit queued")
	c.attemptTransmit(triggerSubmit)
}

func (c *Client) shutdown() {
	close(c.stopping)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.drainEvents()

	c.cancel()
	c.stopPace()
	c.stopReconnect()
	c.closeConn()
	for _, cmd := range c.queue.Drain() {
		c.settle(cmd, nil, ErrClientClosed)
	}
	c.setState(StateDisconnected)
	c.log.Info().Msg("display.Client.shutdown closed")
}

// drainEvents answers events accepted before the client stopped accepting.
func (c *Client) drainEvents() {
	for {
		select {
		case ev := <-c.events:
			switch ev := ev.(type) {
			case submitEvent:
				c.spans[ev.cmd.ID] = ev.span
				c.settle(ev.cmd, nil, ErrClientClosed)
			case disconnectEvent:
				close(ev.ack)
			case statusEvent:
				ev.reply <- c.snapshot()
			case dialedEvent:
				if ev.conn != nil {
					_ = ev.conn.Close()
				}
			}
		default:
			return
		}
	}
}
