package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wricardo/mcp-training/locationsync/metrics"
	"github.com/wricardo/mcp-training/locationsync/relay/message"
	"github.com/wricardo/mcp-training/locationsync/relay/registry"
	relayws "github.com/wricardo/mcp-training/locationsync/transport/websocket"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type frame struct {
	kind int
	data []byte
}

// fakeConn is a scripted connection. Closing incoming simulates the server
// dropping the connection.
type fakeConn struct {
	mu       sync.Mutex
	writes   []frame
	incoming chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-c.incoming:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(kind int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, frame{kind, data})
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) textWrites() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	for _, f := range c.writes {
		if f.kind == websocket.TextMessage {
			out = append(out, f.data)
		}
	}
	return out
}

func (c *fakeConn) lastKind() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) == 0 {
		return -1
	}
	return c.writes[len(c.writes)-1].kind
}

// scriptedDialer hands out conns in order; nil entries fail.
type scriptedDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	calls int
}

func (d *scriptedDialer) dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	next := d.conns[0]
	d.conns = d.conns[1:]
	if next == nil {
		return nil, errors.New("connection refused")
	}
	return next, nil
}

func (d *scriptedDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) list() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func runClient(ctx context.Context, c *Client) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	return errc
}

func wait(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestRandomTransforms(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		transforms := RandomTransforms(rng, "192.168.1.7", 2)
		require.Len(t, transforms, 2)
		assert.Equal(t, "192.168.1.7:P1", transforms[0].ID)
		assert.Equal(t, "192.168.1.7:P2", transforms[1].ID)

		for _, tr := range transforms {
			x, y, yaw, scale := tr.Data[0], tr.Data[1], tr.Data[2], tr.Data[3]
			assert.True(t, x >= 0 && x <= 100, "x=%v", x)
			assert.True(t, y >= 0 && y <= 100, "y=%v", y)
			assert.True(t, yaw >= -180 && yaw <= 180, "yaw=%v", yaw)
			assert.True(t, scale >= 0.5 && scale <= 3.5, "scale=%v", scale)
			for _, v := range tr.Data {
				assert.InDelta(t, math.Round(v*10), v*10, 1e-6, "%v has more than one decimal", v)
			}
		}
	}
}

func TestSimulatedIP(t *testing.T) {
	ip := SimulatedIP(rand.New(rand.NewSource(1)))
	assert.True(t, strings.HasPrefix(ip, "192.168.1."), ip)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "gave-up", StateGaveUp.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func TestRun_GivesUpAfterRetries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := &scriptedDialer{}
	states := &stateLog{}
	client := NewClient("192.168.1.7", dialer.dial,
		WithClock(clock),
		WithRetries(2, 3*time.Second),
		WithStateHook(states.record),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errc := runClient(ctx, client)

	for i := 0; i < 2; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(3 * time.Second)
	}

	assert.ErrorIs(t, wait(t, errc), ErrGaveUp)
	assert.Equal(t, 3, dialer.count())
	assert.Equal(t, StateGaveUp, client.State())
	assert.Equal(t, []State{
		StateConnecting, StateWaiting,
		StateConnecting, StateWaiting,
		StateConnecting, StateGaveUp,
	}, states.list())
}

func TestRun_ZeroRetriesGivesUpImmediately(t *testing.T) {
	dialer := &scriptedDialer{}
	client := NewClient("192.168.1.7", dialer.dial, WithRetries(0, time.Second))

	assert.ErrorIs(t, client.Run(context.Background()), ErrGaveUp)
	assert.Equal(t, 1, dialer.count())
}

func TestRun_SendsOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn()
	dialer := &scriptedDialer{conns: []*fakeConn{conn}}
	client := NewClient("192.168.1.7", dialer.dial,
		WithClock(clock),
		WithInterval(2*time.Second),
		WithRand(rand.New(rand.NewSource(7))),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errc := runClient(ctx, client)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, StateConnected, client.State())
	assert.Empty(t, conn.textWrites(), "first update waits one interval")

	clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return len(conn.textWrites()) == 1 }, time.Second, 5*time.Millisecond)

	update, err := message.Validate(conn.textWrites()[0])
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.7", update.ClientIP)
	assert.Len(t, update.Transforms, 2)

	cancel()
	assert.NoError(t, wait(t, errc))
	assert.Equal(t, StateIdle, client.State())
	assert.Equal(t, websocket.CloseMessage, conn.lastKind())
}

func TestRun_TriggerSendsImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn()
	dialer := &scriptedDialer{conns: []*fakeConn{conn}}
	out := &syncBuffer{}
	client := NewClient("192.168.1.7", dialer.dial, WithClock(clock), WithOutput(out))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := runClient(ctx, client)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	client.Trigger()

	require.Eventually(t, func() bool { return len(conn.textWrites()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, out.String(), `Sent: {"type":"LocationUpdate"`)

	cancel()
	assert.NoError(t, wait(t, errc))
}

func TestRun_PrintsReceivedFrames(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn()
	dialer := &scriptedDialer{conns: []*fakeConn{conn}}
	out := &syncBuffer{}
	client := NewClient("192.168.1.7", dialer.dial, WithClock(clock), WithOutput(out))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := runClient(ctx, client)

	conn.incoming <- []byte(`{"type":"LocationBroadcast","sourceIP":"192.168.1.9","transforms":[]}`)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `Received: {"type":"LocationBroadcast","sourceIP":"192.168.1.9"`)
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, wait(t, errc))
}

func TestRun_ReconnectsAfterDrop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	first, second := newFakeConn(), newFakeConn()
	dialer := &scriptedDialer{conns: []*fakeConn{first, nil, second}}
	states := &stateLog{}
	client := NewClient("192.168.1.7", dialer.dial,
		WithClock(clock),
		WithRetries(2, 3*time.Second),
		WithStateHook(states.record),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errc := runClient(ctx, client)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	close(first.incoming)

	// Drop, failed redial, successful redial.
	for i := 0; i < 2; i++ {
		require.Eventually(t, func() bool { return client.State() == StateWaiting }, time.Second, 5*time.Millisecond)
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(3 * time.Second)
	}

	require.Eventually(t, func() bool { return client.State() == StateConnected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, dialer.count())
	assert.Equal(t, []State{
		StateConnecting, StateConnected,
		StateWaiting, StateConnecting,
		StateWaiting, StateConnecting,
		StateConnected,
	}, states.list())

	cancel()
	assert.NoError(t, wait(t, errc))
}

func TestRun_CancelWhileWaiting(t *testing.T) {
	clock := clockwork.NewFakeClock()
	client := NewClient("192.168.1.7", (&scriptedDialer{}).dial, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	errc := runClient(ctx, client)

	require.Eventually(t, func() bool { return client.State() == StateWaiting }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, wait(t, errc))
	assert.Equal(t, StateIdle, client.State())
}

func TestHandleCommand(t *testing.T) {
	client := NewClient("192.168.1.7", (&scriptedDialer{}).dial)
	out := &syncBuffer{}
	cancelled := false
	cancel := func() { cancelled = true }

	assert.True(t, handleCommand("send", client, cancel, out))
	assert.Len(t, client.manual, 1)

	assert.True(t, handleCommand("jump", client, cancel, out))
	assert.Contains(t, out.String(), "Unknown command")

	assert.False(t, handleCommand("exit", client, cancel, out))
	assert.True(t, cancelled)
}

func TestReadURL(t *testing.T) {
	assert.Equal(t, defaultURL, readURL(bufio.NewScanner(strings.NewReader("\n"))))
	assert.Equal(t, defaultURL, readURL(bufio.NewScanner(strings.NewReader(""))))
	assert.Equal(t, "ws://10.0.0.5:3000", readURL(bufio.NewScanner(strings.NewReader(" ws://10.0.0.5:3000 \n"))))
}

func TestWebSocketDialer_AgainstRelay(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	hub := relayws.NewHub(registry.New(), m)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	observer, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"X-Forwarded-For": []string{"192.168.1.99"}})
	require.NoError(t, err)
	defer observer.Close()
	observer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = observer.ReadMessage() // greeting
	require.NoError(t, err)

	client := NewClient("192.168.1.7", WebSocketDialer(wsURL, time.Second), WithInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := runClient(ctx, client)

	require.Eventually(t, func() bool { return hub.Registry().Len() == 2 }, time.Second, 5*time.Millisecond)
	client.Trigger()

	_, data, err := observer.ReadMessage()
	require.NoError(t, err)

	var broadcast struct {
		Type       string              `json:"type"`
		SourceIP   string              `json:"sourceIP"`
		Transforms []message.Transform `json:"transforms"`
	}
	require.NoError(t, json.Unmarshal(data, &broadcast))
	assert.Equal(t, "LocationBroadcast", broadcast.Type)
	assert.Equal(t, "192.168.1.7", broadcast.SourceIP)
	assert.Len(t, broadcast.Transforms, 2)

	cancel()
	assert.NoError(t, wait(t, errc))
}

func TestWebSocketDialer_Refused(t *testing.T) {
	dial := WebSocketDialer("ws://127.0.0.1:1", 100*time.Millisecond)
	_, err := dial(context.Background())
	assert.Error(t, err)
}
