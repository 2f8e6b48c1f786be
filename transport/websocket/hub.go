package websocket

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/wricardo/mcp-training/locationsync/metrics"
	"github.com/wricardo/mcp-training/locationsync/relay/message"
	"github.com/wricardo/mcp-training/locationsync/relay/registry"
)

const (
	// Time allowed to write a message to the peer.
	defaultWriteWait = 10 * time.Second

	// Maximum message size allowed from peer.
	defaultMaxMessageSize = 64 * 1024

	// Frames queued per peer before sends start failing.
	defaultSendBuffer = 256
)

var (
	ErrPeerClosed     = errors.New("peer connection closed")
	ErrSendBufferFull = errors.New("peer send buffer full")
)

// connState is the lifecycle of a single connection.
type connState int32

const (
	stateConnecting connState = iota
	stateOpen
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("connState(%d)", int32(s))
	}
}

// Heartbeat is notified when a peer answers a ping.
type Heartbeat interface {
	Acknowledge(identity string)
}

// Hub accepts peer connections and relays location updates between them.
type Hub struct {
	registry  *registry.Registry
	metrics   *metrics.Metrics
	heartbeat Heartbeat
	upgrader  websocket.Upgrader
	log       *logrus.Entry

	serverIP       string
	writeWait      time.Duration
	maxMessageSize int64
	sendBuffer     int
}

// Option configures a Hub.
type Option func(*Hub)

// WithHeartbeat routes pong replies to hb.
func WithHeartbeat(hb Heartbeat) Option {
	return func(h *Hub) { h.heartbeat = hb }
}

// WithServerIP sets the address announced in the greeting.
func WithServerIP(ip string) Option {
	return func(h *Hub) { h.serverIP = ip }
}

// WithWriteWait bounds each frame write.
func WithWriteWait(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeWait = d
		}
	}
}

// WithMaxMessageSize caps inbound frame size.
func WithMaxMessageSize(n int64) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxMessageSize = n
		}
	}
}

// WithSendBuffer sets the per-peer outbound queue length.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// NewHub creates a hub over reg.
func NewHub(reg *registry.Registry, m *metrics.Metrics, opts ...Option) *Hub {
	h := &Hub{
		registry: reg,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Peers are trusted LAN clients; any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:            logrus.WithField("component", "hub"),
		serverIP:       "127.0.0.1",
		writeWait:      defaultWriteWait,
		maxMessageSize: defaultMaxMessageSize,
		sendBuffer:     defaultSendBuffer,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry returns the hub's peer registry.
func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

// ServeWS upgrades the request and runs the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity := PeerIdentity(r)

	c := &client{
		hub:  h,
		send: make(chan []byte, h.sendBuffer),
		done: make(chan struct{}),
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithField("peer", identity).Warnf("WebSocket upgrade failed: %v", err)
		return
	}
	c.conn = conn
	c.state.Store(int32(stateOpen))
	var prev *registry.Peer
	c.peer, prev = h.registry.Replace(identity, c)

	h.metrics.Connections.Inc()
	h.metrics.ActivePeers.Set(float64(h.registry.Len()))
	c.log = h.log.WithFields(logrus.Fields{
		"peer":    identity,
		"conn_id": c.peer.ConnID,
	})
	c.log.Infof("Peer registered: %s (total peers: %d)", identity, h.registry.Len())

	if prev != nil {
		c.log.WithField("replaced_conn_id", prev.ConnID).Info("Closing superseded connection")
		if err := prev.Conn.Close(); err != nil {
			c.log.Debugf("Close superseded connection: %v", err)
		}
	}

	go c.writePump()

	greeting, err := message.EncodeEstablished(fmt.Sprintf("Connected to location sync server (%s)", h.serverIP))
	if err == nil {
		err = c.Send(greeting)
	}
	if err != nil {
		c.log.Warnf("Failed to send greeting: %v", err)
	}

	go c.readPump()
}

// Dispatch validates one inbound frame from sender and queues the resulting
// broadcast to every other peer. It returns how many peers it reached.
// Invalid frames are dropped; the returned error says why.
func (h *Hub) Dispatch(sender string, payload []byte) (int, error) {
	h.metrics.MessagesReceived.Inc()

	update, err := message.Validate(payload)
	if err != nil {
		h.metrics.MessagesRejected.WithLabelValues(rejectReason(err)).Inc()
		h.log.WithField("peer", sender).Warnf("Dropped invalid message: %v", err)
		return 0, err
	}

	data, err := message.EncodeBroadcast(update)
	if err != nil {
		h.log.WithField("peer", sender).Errorf("Failed to marshal broadcast: %v", err)
		return 0, err
	}

	h.log.WithField("peer", sender).Debugf("Location update from %s (%d transforms)", update.ClientIP, len(update.Transforms))

	delivered := 0
	h.registry.ForEachExcept(sender, func(p *registry.Peer) {
		if err := p.Conn.Send(data); err != nil {
			h.metrics.SendFailures.Inc()
			h.log.WithFields(logrus.Fields{
				"peer":   p.Identity,
				"source": update.ClientIP,
			}).Warnf("Broadcast send failed: %v", err)
			return
		}
		delivered++
	})

	h.metrics.Broadcasts.Inc()
	h.metrics.FramesDelivered.Add(float64(delivered))
	return delivered, nil
}

// CloseAll disconnects every registered peer and returns how many there were.
func (h *Hub) CloseAll() int {
	peers := h.registry.Peers()
	for _, p := range peers {
		if err := p.Conn.Close(); err != nil {
			h.log.WithField("peer", p.Identity).Debugf("Close on shutdown: %v", err)
		}
		h.registry.Release(p)
	}
	h.metrics.ActivePeers.Set(float64(h.registry.Len()))
	if len(peers) > 0 {
		h.log.Infof("Closed %d peer connections", len(peers))
	}
	return len(peers)
}

func rejectReason(err error) string {
	for _, sentinel := range []error{
		message.ErrMalformedEncoding,
		message.ErrUnknownType,
		message.ErrMissingSender,
		message.ErrMalformedTransform,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "other"
}

// client is one peer connection. It implements registry.Conn.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	peer *registry.Peer
	log  *logrus.Entry

	state     atomic.Int32
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) State() connState {
	return connState(c.state.Load())
}

// Send queues data for the write pump without blocking.
func (c *client) Send(data []byte) error {
	if c.State() != stateOpen {
		return ErrPeerClosed
	}
	select {
	case <-c.done:
		return ErrPeerClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrPeerClosed
	default:
		return ErrSendBufferFull
	}
}

// Ping sends a heartbeat ping. Control frames may be written concurrently
// with the write pump.
func (c *client) Ping() error {
	if c.State() != stateOpen {
		return ErrPeerClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.hub.writeWait))
}

// Close moves the connection to closed and shuts the socket. The read pump
// then exits and releases the registry entry.
func (c *client) Close() error {
	return c.closeWith(websocket.CloseGoingAway, "")
}

func (c *client) closeWith(code int, text string) error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(stateClosed))
		close(c.done)

		deadline := time.Now().Add(c.hub.writeWait)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
		err = c.conn.Close()
	})
	return err
}

// readPump pumps messages from the WebSocket connection to the hub.
func (c *client) readPump() {
	defer c.teardown()

	c.conn.SetReadLimit(c.hub.maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		if c.hub.heartbeat != nil && c.hub.registry.Current(c.peer) {
			c.hub.heartbeat.Acknowledge(c.peer.Identity)
		}
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.State() == stateOpen && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Warnf("WebSocket error: %v", err)
			}
			return
		}
		c.hub.Dispatch(c.peer.Identity, data)
	}
}

// writePump pumps queued frames from the hub to the WebSocket connection.
func (c *client) writePump() {
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debugf("Write failed: %v", err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) teardown() {
	c.Close()
	if c.hub.registry.Release(c.peer) {
		c.log.Infof("Peer disconnected: %s (remaining peers: %d)", c.peer.Identity, c.hub.registry.Len())
	}
	c.hub.metrics.ActivePeers.Set(float64(c.hub.registry.Len()))
}
