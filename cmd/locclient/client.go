package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
	"github.com/wricardo/mcp-training/locationsync/relay/message"
)

// ErrGaveUp is returned by Run once every reconnection attempt has failed.
var ErrGaveUp = errors.New("gave up reconnecting")

// State is the client's connection state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateWaiting
	StateGaveUp
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateWaiting:
		return "waiting"
	case StateGaveUp:
		return "gave-up"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Conn is the part of *websocket.Conn the client uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DialFunc opens one connection. It must give up when ctx is done.
type DialFunc func(ctx context.Context) (Conn, error)

// WebSocketDialer dials url with a bounded opening handshake.
func WebSocketDialer(url string, handshakeTimeout time.Duration) DialFunc {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	return func(ctx context.Context) (Conn, error) {
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Client simulates one peer: it sends random location updates on an
// interval, prints everything it receives, and reconnects a bounded number
// of times when the connection drops.
type Client struct {
	clientIP   string
	dial       DialFunc
	interval   time.Duration
	maxRetries int
	backoff    *backoff.Backoff
	clock      clockwork.Clock
	out        io.Writer
	log        *logrus.Entry

	rngMu sync.Mutex
	rng   *rand.Rand

	state   atomic.Int32
	onState func(State)
	manual  chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithInterval sets how often updates are sent.
func WithInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithRetries caps reconnection attempts and fixes the delay between them.
func WithRetries(n int, delay time.Duration) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
		if delay > 0 {
			c.backoff = &backoff.Backoff{Min: delay, Max: delay, Factor: 1}
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithOutput sets where received messages are printed.
func WithOutput(w io.Writer) Option {
	return func(c *Client) { c.out = w }
}

// WithRand seeds transform generation.
func WithRand(rng *rand.Rand) Option {
	return func(c *Client) { c.rng = rng }
}

// WithStateHook is called on every state change.
func WithStateHook(fn func(State)) Option {
	return func(c *Client) { c.onState = fn }
}

// NewClient creates a client that reports itself as clientIP.
func NewClient(clientIP string, dial DialFunc, opts ...Option) *Client {
	c := &Client{
		clientIP:   clientIP,
		dial:       dial,
		interval:   2 * time.Second,
		maxRetries: 5,
		backoff:    &backoff.Backoff{Min: 3 * time.Second, Max: 3 * time.Second, Factor: 1},
		clock:      clockwork.NewRealClock(),
		out:        io.Discard,
		log:        logrus.WithField("client_ip", clientIP),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		manual:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	c.log.Debugf("State: %s", s)
	if c.onState != nil {
		c.onState(s)
	}
}

// Trigger asks the connected session to send an update now.
func (c *Client) Trigger() {
	select {
	case c.manual <- struct{}{}:
	default:
	}
}

// Run connects and keeps the session alive until ctx is done, returning
// nil, or until the retry budget is spent, returning ErrGaveUp.
func (c *Client) Run(ctx context.Context) error {
	retries := 0
	for {
		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err == nil {
			retries = 0
			c.backoff.Reset()
			c.setState(StateConnected)
			c.log.Info("Connected to server")

			err = c.session(ctx, conn)
			if ctx.Err() != nil {
				c.setState(StateIdle)
				return nil
			}
			c.log.Warnf("Connection to server closed: %v", err)
		} else {
			if ctx.Err() != nil {
				c.setState(StateIdle)
				return nil
			}
			c.log.Warnf("Connect failed: %v", err)
		}

		if retries >= c.maxRetries {
			c.setState(StateGaveUp)
			c.log.Errorf("Giving up after %d retries", retries)
			return ErrGaveUp
		}
		retries++

		c.setState(StateWaiting)
		delay := c.backoff.Duration()
		c.log.Infof("Reconnecting in %s (attempt %d/%d)", delay, retries, c.maxRetries)
		select {
		case <-ctx.Done():
			c.setState(StateIdle)
			return nil
		case <-c.clock.After(delay):
		}
	}
}

// session drives one open connection. Only this goroutine writes to conn.
func (c *Client) session(ctx context.Context, conn Conn) error {
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			fmt.Fprintf(c.out, "Received: %s\n", data)
		}
	}()

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			<-readErr
			return ctx.Err()
		case err := <-readErr:
			conn.Close()
			return err
		case <-ticker.Chan():
			c.sendUpdate(conn)
		case <-c.manual:
			c.sendUpdate(conn)
		}
	}
}

func (c *Client) sendUpdate(conn Conn) {
	c.rngMu.Lock()
	transforms := RandomTransforms(c.rng, c.clientIP, 2)
	c.rngMu.Unlock()

	data, err := message.EncodeUpdate(c.clientIP, transforms)
	if err != nil {
		c.log.Errorf("Failed to encode update: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.Warnf("Send failed: %v", err)
		return
	}
	fmt.Fprintf(c.out, "Sent: %s\n", data)
}
