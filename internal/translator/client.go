package translator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-translator/internal/observability"
)

// State is the lifecycle position of a Client
type State int32

const (
	StateCreated State = iota
	StateConnecting
	StateOpen
	StateCloseReceived
	StateClosing
	StateClosed
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateCloseReceived:
		return "close_received"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

const (
	// closeGrace bounds how long Disconnect waits for the peer to echo the close frame
	closeGrace = time.Second

	frameBacklog = 128
)

// Frame is one piece of an inbound message. EndOfMessage is set on the piece
// that completes the logical websocket message.
type Frame struct {
	Data         []byte
	EndOfMessage bool
}

// ClientOption customizes a Client
type ClientOption func(*Client)

// WithDialer replaces the websocket dialer used by Connect
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = d
	}
}

// Client owns one websocket to the translation service. A send loop drains
// the outbound queue while a receive loop publishes inbound frames on
// TextFrames and BinaryFrames. A Client is used for a single connection.
type Client struct {
	dialer *websocket.Dialer
	logger zerolog.Logger

	conn       *websocket.Conn
	state      atomic.Int32
	ctx        context.Context
	cancel     context.CancelFunc
	queue      *outboundQueue
	errors     ErrorLog
	bufferSize int
	poll       time.Duration

	text         chan Frame
	binary       chan Frame
	failures     chan error
	disconnected chan struct{}
	sendDone     chan struct{}
	receiveDone  chan struct{}

	sendFailed    atomic.Bool
	receiveFailed atomic.Bool
	teardownOnce  sync.Once
}

// NewClient creates an unconnected client
func NewClient(logger zerolog.Logger, opts ...ClientOption) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	dialer := *websocket.DefaultDialer

	c := &Client{
		dialer:       &dialer,
		logger:       logger.With().Str("component", "translator_client").Logger(),
		ctx:          ctx,
		cancel:       cancel,
		queue:        newOutboundQueue(),
		text:         make(chan Frame, frameBacklog),
		binary:       make(chan Frame, frameBacklog),
		failures:     make(chan error, 2),
		disconnected: make(chan struct{}),
		sendDone:     make(chan struct{}),
		receiveDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect performs the handshake and starts the send and receive loops.
// It is a no-op when the client is already connecting or open.
func (c *Client) Connect(ctx context.Context, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	if !c.state.CompareAndSwap(int32(StateCreated), int32(StateConnecting)) {
		switch s := c.State(); s {
		case StateConnecting, StateOpen:
			return nil
		default:
			return fmt.Errorf("%w: state is %s", ErrClosed, s)
		}
	}

	c.bufferSize = opts.receiveBufferSize()
	c.poll = opts.pollInterval()
	c.logger = c.logger.With().Str("correlation_id", opts.CorrelationID).Logger()

	c.logger.Info().
		Str("host", opts.Hostname).
		Str("from", opts.From).
		Str("to", opts.To).
		Msg("Connecting to translation service")

	// A Disconnect during the handshake aborts the dial
	dialCtx, stopDial := context.WithCancel(ctx)
	defer stopDial()
	defer context.AfterFunc(c.ctx, stopDial)()

	conn, resp, err := c.dialer.DialContext(dialCtx, opts.URL(), opts.Header())
	if err != nil && c.state.CompareAndSwap(int32(StateConnecting), int32(StateFaulted)) {
		cerr := &ConnectError{Host: opts.Hostname, Err: err}
		if resp != nil {
			cerr.StatusCode = resp.StatusCode
		}
		c.errors.Add(cerr)
		c.abortConnect(StateFaulted)
		return cerr
	}

	c.conn = conn
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		if conn != nil {
			conn.Close()
		}
		c.abortConnect(StateClosed)
		c.logger.Info().Msg("Connect abandoned by disconnect")
		return fmt.Errorf("%w: disconnected during handshake", ErrClosed)
	}
	c.logger.Info().Msg("Connected to translation service")

	go c.sendLoop()
	go c.receiveLoop()
	return nil
}

// abortConnect settles a client whose handshake did not produce a running connection
func (c *Client) abortConnect(final State) {
	c.state.Store(int32(final))
	c.cancel()
	c.cancelQueued()
	close(c.sendDone)
	close(c.receiveDone)
	close(c.text)
	close(c.binary)
}

// State returns the current lifecycle state
func (c *Client) State() State {
	return State(c.state.Load())
}

// IsConnected reports whether no cancellation has been requested and the
// socket is open or has only received the peer's close frame.
func (c *Client) IsConnected() bool {
	if c.ctx.Err() != nil {
		return false
	}
	s := c.State()
	return s == StateOpen || s == StateCloseReceived
}

// SendBinary queues payload as one binary frame. It never blocks.
func (c *Client) SendBinary(payload []byte) *OutboundMessage {
	return c.enqueue(MessageBinary, payload)
}

// SendText queues s as one text frame. It never blocks.
func (c *Client) SendText(s string) *OutboundMessage {
	return c.enqueue(MessageText, []byte(s))
}

func (c *Client) enqueue(kind MessageKind, payload []byte) *OutboundMessage {
	m := newOutboundMessage(kind, payload)
	if !c.queue.push(m) {
		m.resolve(ErrCancelled)
	}
	return m
}

// Pending returns the number of queued messages not yet taken by the send loop
func (c *Client) Pending() int {
	return c.queue.size()
}

// TextFrames delivers inbound text frames in arrival order. Closed when the receive loop exits.
func (c *Client) TextFrames() <-chan Frame {
	return c.text
}

// BinaryFrames delivers inbound binary frames in arrival order. Closed when the receive loop exits.
func (c *Client) BinaryFrames() <-chan Frame {
	return c.binary
}

// Disconnected is closed once the socket has been torn down
func (c *Client) Disconnected() <-chan struct{} {
	return c.disconnected
}

// Failures reports the first fatal error of each loop
func (c *Client) Failures() <-chan error {
	return c.failures
}

// ErrorLog exposes every error recorded so far
func (c *Client) ErrorLog() *ErrorLog {
	return &c.errors
}

// Disconnect sends a normal closure frame, waits briefly for the peer to
// answer and closes the socket. During a handshake it makes Connect give up
// with ErrClosed. Calling it again, or on a client that never connected,
// does nothing.
func (c *Client) Disconnect() {
	if c.state.CompareAndSwap(int32(StateCreated), int32(StateClosed)) {
		c.cancel()
		c.cancelQueued()
		return
	}
	if c.state.CompareAndSwap(int32(StateConnecting), int32(StateClosing)) {
		c.cancel()
		return
	}
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) &&
		!c.state.CompareAndSwap(int32(StateCloseReceived), int32(StateClosing)) {
		return
	}

	c.logger.Info().Msg("Disconnecting from translation service")
	c.cancel()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug().Err(err).Msg("Failed to send close frame")
	}

	select {
	case <-c.receiveDone:
	case <-time.After(closeGrace):
		c.logger.Warn().Msg("Peer did not answer close frame in time")
	}
	c.teardown()
}

func (c *Client) sendLoop() {
	defer close(c.sendDone)

	for {
		m, ok := c.queue.take(c.ctx, c.poll)
		if !ok {
			if c.ctx.Err() != nil {
				return
			}
			continue
		}

		if c.ctx.Err() != nil {
			m.resolve(ErrCancelled)
			return
		}

		messageType := websocket.BinaryMessage
		if m.Kind == MessageText {
			messageType = websocket.TextMessage
		}

		if err := c.conn.WriteMessage(messageType, m.Payload); err != nil {
			if c.ctx.Err() != nil {
				m.resolve(ErrCancelled)
				continue
			}
			err = fmt.Errorf("%w: write %s frame: %w", ErrTransport, m.Kind, err)
			m.resolve(err)
			c.fault(err, &c.sendFailed)
			continue
		}

		observability.RecordFrameSent(m.Kind.String())
		m.resolve(nil)
	}
}

func (c *Client) receiveLoop() {
	defer func() {
		close(c.text)
		close(c.binary)
		close(c.receiveDone)
		c.teardown()
	}()

	buf := make([]byte, c.bufferSize)
	for {
		messageType, r, err := c.conn.NextReader()
		if err != nil {
			c.readFailed(err)
			return
		}

		frames, kind := c.binary, "binary"
		if messageType == websocket.TextMessage {
			frames, kind = c.text, "text"
		}

		for {
			n, err := io.ReadFull(r, buf)
			if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
				c.readFailed(err)
				return
			}

			end := err != nil
			if n > 0 || end {
				data := make([]byte, n)
				copy(data, buf[:n])
				observability.RecordFrameReceived(kind)
				if !c.deliver(frames, Frame{Data: data, EndOfMessage: end}) {
					return
				}
			}
			if end {
				break
			}
		}
	}
}

// deliver blocks while the consumer is behind, unless the client is shutting down
func (c *Client) deliver(ch chan Frame, f Frame) bool {
	select {
	case ch <- f:
		return true
	default:
	}
	select {
	case ch <- f:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Client) readFailed(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
		c.state.CompareAndSwap(int32(StateOpen), int32(StateCloseReceived))
		if closeErr.Code != websocket.CloseNormalClosure {
			c.errors.Add(fmt.Errorf("%w: disconnecting web socket with status %d for the following reason: %s",
				ErrTransport, closeErr.Code, closeErr.Text))
		}
		c.logger.Info().
			Int("code", closeErr.Code).
			Str("reason", closeErr.Text).
			Msg("Close frame received")
		return
	}

	// Errors after a local shutdown are the socket closing under the reader.
	// Otherwise an abnormal closure (1006) means the peer vanished without a
	// close frame and is treated like any other read failure.
	if c.ctx.Err() != nil {
		return
	}
	c.fault(fmt.Errorf("%w: read: %w", ErrTransport, err), &c.receiveFailed)
}

// fault records a fatal loop error and moves the client to Faulted
func (c *Client) fault(err error, reported *atomic.Bool) {
	c.errors.Add(err)
	c.logger.Error().Err(err).Msg("Connection fault")

	if reported.CompareAndSwap(false, true) {
		c.failures <- err
	}

	for {
		s := c.State()
		if s == StateClosed || s == StateFaulted {
			break
		}
		if c.state.CompareAndSwap(int32(s), int32(StateFaulted)) {
			break
		}
	}
	c.cancel()
	// Unblock the reader
	c.conn.Close()
}

// teardown releases the socket and resolves queued messages; runs once
func (c *Client) teardown() {
	c.teardownOnce.Do(func() {
		c.cancel()
		c.conn.Close()
		c.state.CompareAndSwap(int32(StateClosing), int32(StateClosed))
		c.state.CompareAndSwap(int32(StateCloseReceived), int32(StateClosed))
		c.state.CompareAndSwap(int32(StateOpen), int32(StateClosed))

		<-c.sendDone
		c.cancelQueued()

		c.logger.Info().
			Str("state", c.State().String()).
			Int("errors", c.errors.Len()).
			Msg("Disconnected from translation service")
		close(c.disconnected)
	})
}

func (c *Client) cancelQueued() {
	for _, m := range c.queue.drain() {
		m.resolve(ErrCancelled)
	}
}
