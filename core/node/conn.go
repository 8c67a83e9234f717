package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"lavabridge/logger"
	"lavabridge/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the lifecycle state of a node connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configures one node connection.
type Options struct {
	// Address is the websocket address of the node.
	Address string
	// Password is the node's authorization credential.
	Password string
	// UserID and ShardCount identify the bot during the handshake.
	UserID     string
	ShardCount int

	// Reconnect backoff bounds. Zero values pick the defaults below.
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	BackoffMaxAttempts int
}

const (
	defaultBackoffInitial     = time.Second
	defaultBackoffMax         = 30 * time.Second
	defaultBackoffMaxAttempts = 10

	handshakeTimeout = 10 * time.Second
	sendQueueSize    = 64
)

// sendReq is one serialized command waiting for the write pump.
type sendReq struct {
	guildID string
	data    []byte
	err     chan error
}

// Conn owns one persistent websocket to one node: the socket, the
// read/write pumps, and the reconnect loop. Commands for a single guild
// are written in submission order; incoming frames are delivered through
// Messages in arrival order, with no reordering across a reconnect
// boundary. A Conn that reaches a terminal state cannot be restarted.
type Conn struct {
	opts Options

	// resumeKey is offered to the node on every dial so a short outage
	// can resume the previous node session. Resume handling is entirely
	// internal to the connection.
	resumeKey string

	ctx    context.Context
	cancel context.CancelFunc

	sendCh   chan sendReq
	messages chan model.IncomingMessage
	notifyCh chan State

	onState func(c *Conn, s State)

	mu        sync.Mutex
	state     State
	sessionID string
	stats     *model.Stats
}

// Connect dials the node and starts the connection pumps. A handshake or
// authorization failure is terminal and returned as ErrConnect. onState is
// invoked on every state transition, including from pump goroutines; it
// must not block.
func Connect(ctx context.Context, opts Options, onState func(c *Conn, s State)) (*Conn, error) {
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = defaultBackoffInitial
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = defaultBackoffMax
	}
	if opts.BackoffMaxAttempts <= 0 {
		opts.BackoffMaxAttempts = defaultBackoffMaxAttempts
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		opts:      opts,
		resumeKey: uuid.NewString(),
		ctx:       runCtx,
		cancel:    cancel,
		sendCh:    make(chan sendReq, sendQueueSize),
		messages:  make(chan model.IncomingMessage, sendQueueSize),
		notifyCh:  make(chan State, 32),
		onState:   onState,
		state:     StateDisconnected,
	}

	go c.notifier()
	c.setState(StateConnecting)
	ws, err := c.dial(ctx)
	if err != nil {
		c.setState(StateFailed)
		cancel()
		if errors.Is(err, ErrConnect) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	go c.run(ws)
	return c, nil
}

// Address returns the node's websocket address.
func (c *Conn) Address() string { return c.opts.Address }

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the node session identifier, valid only while Ready.
func (c *Conn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Stats returns the last stats frame the node reported, or nil.
func (c *Conn) Stats() *model.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Messages returns the stream of incoming node messages in arrival order.
// The channel is closed when the connection terminates.
func (c *Conn) Messages() <-chan model.IncomingMessage {
	return c.messages
}

// Close tears the connection down. In-flight sends fail with ErrShutdown.
func (c *Conn) Close() {
	c.cancel()
}

// Send queues a command for delivery and waits until it has been written
// to the socket. While the connection is reconnecting the command is held
// and flushed after the node is ready again; if the retry budget runs out
// the command fails with ErrSend.
func (c *Conn) Send(ctx context.Context, cmd model.OutgoingCommand) error {
	switch c.State() {
	case StateFailed:
		return fmt.Errorf("%w: node %s is failed", ErrSend, c.opts.Address)
	case StateDisconnected:
		return fmt.Errorf("%w: node %s is disconnected", ErrSend, c.opts.Address)
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode %s command: %w", cmd.Opcode(), err)
	}

	req := sendReq{guildID: cmd.Guild(), data: data, err: make(chan error, 1)}
	select {
	case c.sendCh <- req:
	case <-c.ctx.Done():
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.err:
		return err
	case <-c.ctx.Done():
		// The pump may have completed the request just before shutdown.
		select {
		case err := <-req.err:
			return err
		default:
			return ErrShutdown
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dial opens the websocket with the node handshake headers. Authorization
// rejections come back wrapped in ErrConnect so callers can tell them from
// transient failures.
func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", c.opts.Password)
	header.Set("User-Id", c.opts.UserID)
	header.Set("Num-Shards", strconv.Itoa(c.opts.ShardCount))
	header.Set("Client-Name", "lavabridge")
	header.Set("Resume-Key", c.resumeKey)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, c.opts.Address, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: node %s rejected credentials (%d)",
				ErrConnect, c.opts.Address, resp.StatusCode)
		}
		return nil, err
	}
	return ws, nil
}

// run is the connection's lifecycle loop: pump until the socket breaks,
// then reconnect with backoff, flushing held commands once the node
// reports ready again.
func (c *Conn) run(ws *websocket.Conn) {
	defer close(c.messages)

	var pending []sendReq
	for {
		readErr := make(chan error, 1)
		readyCh := make(chan struct{}, 1)
		readDone := make(chan struct{})
		go c.readLoop(ws, readyCh, readErr, readDone)

		err := c.writePump(ws, &pending, readyCh, readErr)
		ws.Close()

		// Let the reader finish its last frame before the messages channel
		// can close or a new reader starts. The reader exits via the socket
		// error after ws.Close, or via its own ctx case.
		<-readDone

		if errors.Is(err, ErrShutdown) {
			c.setState(StateDisconnected)
			c.failPending(pending, ErrShutdown)
			c.drainSends(ErrShutdown)
			return
		}

		logger.Warn("node connection lost",
			logger.String("node", c.opts.Address),
			logger.ErrorField(err))

		ws = c.reconnect(&pending)
		if ws == nil {
			if c.ctx.Err() != nil {
				c.setState(StateDisconnected)
				c.failPending(pending, ErrShutdown)
				c.drainSends(ErrShutdown)
				return
			}
			c.setState(StateFailed)
			// Fail held commands before cancelling so waiters observe the
			// exhaustion error rather than a generic shutdown.
			cause := fmt.Errorf("%w: retry budget exhausted", ErrSend)
			c.failPending(pending, cause)
			c.drainSends(cause)
			c.cancel()
			return
		}
	}
}

// readLoop receives frames in arrival order, keeps session/stats
// bookkeeping current, and forwards every parsed message. Malformed frames
// are logged and dropped without killing the connection. Runs until the
// socket errors or the connection shuts down.
func (c *Conn) readLoop(ws *websocket.Conn, readyCh chan struct{}, readErr chan error, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}

		msg, err := model.ParseMessage(data)
		if err != nil {
			logger.Warn("dropping malformed frame",
				logger.String("node", c.opts.Address),
				logger.ErrorField(err))
			continue
		}

		switch m := msg.(type) {
		case model.Ready:
			c.mu.Lock()
			c.sessionID = m.SessionID
			c.mu.Unlock()
			c.setState(StateReady)
			logger.Info("node ready",
				logger.String("node", c.opts.Address),
				logger.Bool("resumed", m.Resumed))
			select {
			case readyCh <- struct{}{}:
			default:
			}
		case model.Stats:
			c.mu.Lock()
			c.stats = &m
			c.mu.Unlock()
		}

		select {
		case c.messages <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

// writePump is the socket's only writer. Commands are held back until the
// node's ready frame arrives, on first connect and after every reconnect.
// Returns the socket error, or ErrShutdown.
func (c *Conn) writePump(ws *websocket.Conn, pending *[]sendReq, readyCh chan struct{}, readErr chan error) error {
	ready := false
	for {
		// A nil channel is never selected; sends stay queued until ready.
		var sends chan sendReq
		if ready {
			sends = c.sendCh
		}

		select {
		case <-c.ctx.Done():
			return ErrShutdown

		case err := <-readErr:
			return err

		case <-readyCh:
			ready = true
			if err := c.flush(ws, pending); err != nil {
				return err
			}

		case req := <-sends:
			if err := ws.WriteMessage(websocket.TextMessage, req.data); err != nil {
				// Held for redelivery after reconnect.
				*pending = append(*pending, req)
				return err
			}
			req.err <- nil
		}
	}
}

// flush writes held commands in their original submission order.
func (c *Conn) flush(ws *websocket.Conn, pending *[]sendReq) error {
	for len(*pending) > 0 {
		req := (*pending)[0]
		if err := ws.WriteMessage(websocket.TextMessage, req.data); err != nil {
			return err
		}
		req.err <- nil
		*pending = (*pending)[1:]
	}
	return nil
}

// reconnect runs the bounded backoff loop. While waiting it keeps
// accepting sends into the held queue so submission order survives the
// outage. Returns nil when the budget is exhausted, the node rejects
// credentials, or the connection is shut down.
func (c *Conn) reconnect(pending *[]sendReq) *websocket.Conn {
	c.setState(StateReconnecting)

	delay := c.opts.BackoffInitial
	for attempt := 1; attempt <= c.opts.BackoffMaxAttempts; attempt++ {
		wait := delay + time.Duration(rand.Int63n(int64(delay/2)+1))
		logger.Info("reconnecting to node",
			logger.String("node", c.opts.Address),
			logger.Int("attempt", attempt),
			logger.Duration("backoff", wait))

		timer := time.NewTimer(wait)
	collect:
		for {
			select {
			case <-c.ctx.Done():
				timer.Stop()
				return nil
			case req := <-c.sendCh:
				*pending = append(*pending, req)
			case <-timer.C:
				break collect
			}
		}

		ws, err := c.dial(c.ctx)
		if err == nil {
			return ws
		}
		if errors.Is(err, ErrConnect) {
			logger.Error("node authorization failed, giving up",
				logger.String("node", c.opts.Address),
				logger.ErrorField(err))
			return nil
		}
		logger.Warn("reconnect attempt failed",
			logger.String("node", c.opts.Address),
			logger.Int("attempt", attempt),
			logger.ErrorField(err))

		delay *= 2
		if delay > c.opts.BackoffMax {
			delay = c.opts.BackoffMax
		}
	}
	return nil
}

// failPending reports the terminal error to every held command.
func (c *Conn) failPending(pending []sendReq, cause error) {
	for _, req := range pending {
		req.err <- cause
	}
}

// drainSends fails commands that were queued but never picked up.
func (c *Conn) drainSends(cause error) {
	for {
		select {
		case req := <-c.sendCh:
			req.err <- cause
		default:
			return
		}
	}
}

// setState records the new state and queues the notification. Listener
// callbacks run on the notifier goroutine so they can take locks that a
// command in flight on this connection might hold.
func (c *Conn) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	if c.onState != nil {
		c.notifyCh <- s
	}
}

// notifier delivers state transitions to the listener in order. It exits
// once the connection context is cancelled, after draining transitions
// queued before cancellation (the terminal state among them).
func (c *Conn) notifier() {
	for {
		select {
		case s := <-c.notifyCh:
			c.onState(c, s)
		case <-c.ctx.Done():
			for {
				select {
				case s := <-c.notifyCh:
					c.onState(c, s)
				default:
					return
				}
			}
		}
	}
}
