// Package liveness pings registered peers on a fixed period and evicts the
// ones that stop answering.
//
// A peer starts alive. Each round clears the flag and sends a ping; a pong
// sets it again. A peer still not alive at the next round is closed and
// removed, so a silent peer is evicted on the second round after it joined.
// A failed ping is treated exactly like a missing pong.
package liveness

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/wricardo/mcp-training/locationsync/metrics"
	"github.com/wricardo/mcp-training/locationsync/relay/registry"
)

// DefaultInterval is the heartbeat period.
const DefaultInterval = 30 * time.Second

// Monitor drives heartbeat rounds over a registry.
type Monitor struct {
	registry *registry.Registry
	metrics  *metrics.Metrics
	clock    clockwork.Clock
	interval time.Duration
	log      *logrus.Entry

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithInterval sets the heartbeat period.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// NewMonitor creates a monitor for reg. It does nothing until Run is called.
func NewMonitor(reg *registry.Registry, m *metrics.Metrics, opts ...Option) *Monitor {
	mon := &Monitor{
		registry: reg,
		metrics:  m,
		clock:    clockwork.NewRealClock(),
		interval: DefaultInterval,
		log:      logrus.WithField("component", "liveness"),
	}
	for _, opt := range opts {
		opt(mon)
	}
	return mon
}

// Interval returns the heartbeat period.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Run performs a heartbeat round every interval until ctx is done or Stop is
// called.
func (m *Monitor) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	m.mu.Unlock()
	defer close(done)

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Infof("Heartbeat started (interval %s)", m.interval)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("Heartbeat stopped")
			return
		case <-ticker.Chan():
			m.Tick()
		}
	}
}

// Stop ends Run and waits for it to return. Once stopped, the monitor
// never schedules another round.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Acknowledge records a heartbeat reply from identity.
func (m *Monitor) Acknowledge(identity string) {
	m.registry.MarkAlive(identity)
}

// Tick runs one heartbeat round and returns the identities it evicted.
func (m *Monitor) Tick() []string {
	dead := m.registry.SweepDead()

	evicted := make([]string, 0, len(dead))
	for _, p := range dead {
		m.log.WithFields(logrus.Fields{
			"peer":    p.Identity,
			"conn_id": p.ConnID,
		}).Warn("Peer missed heartbeat, disconnecting")

		if err := p.Conn.Close(); err != nil {
			m.log.WithField("peer", p.Identity).Debugf("Close after missed heartbeat: %v", err)
		}
		m.metrics.PeersEvicted.Inc()
		evicted = append(evicted, p.Identity)
	}

	for _, p := range m.registry.Peers() {
		if err := p.Conn.Ping(); err != nil {
			// The flag is already cleared, so the next round evicts it.
			m.log.WithField("peer", p.Identity).Debugf("Heartbeat ping failed: %v", err)
		}
	}

	m.metrics.HeartbeatRounds.Inc()
	m.metrics.ActivePeers.Set(float64(m.registry.Len()))
	return evicted
}
