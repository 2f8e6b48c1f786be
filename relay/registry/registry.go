// Package registry holds the set of connected peers, keyed by network
// identity. All operations synchronize internally; callers never lock.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Conn is the outbound side of a peer connection.
type Conn interface {
	// Send queues a text frame. It must not block on the network.
	Send(data []byte) error
	// Ping sends a heartbeat ping.
	Ping() error
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Peer is a registry entry.
type Peer struct {
	Identity    string
	ConnID      uuid.UUID
	ConnectedAt time.Time
	Conn        Conn

	alive atomic.Bool
}

// Alive reports whether the peer answered since the last heartbeat round.
func (p *Peer) Alive() bool {
	return p.alive.Load()
}

// Registry maps peer identity to its current connection.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
	now   func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		peers: make(map[string]*Peer),
		now:   time.Now,
	}
}

// Register stores conn under identity and returns the new entry. An existing
// entry for the same identity is replaced; the last registration wins.
func (r *Registry) Register(identity string, conn Conn) *Peer {
	p, _ := r.Replace(identity, conn)
	return p
}

// Replace is Register that also returns the entry it displaced, or nil. The
// caller owns prev and is expected to close its connection.
func (r *Registry) Replace(identity string, conn Conn) (p, prev *Peer) {
	p = &Peer{
		Identity:    identity,
		ConnID:      uuid.New(),
		ConnectedAt: r.now(),
		Conn:        conn,
	}
	p.alive.Store(true)

	r.mu.Lock()
	prev = r.peers[identity]
	r.peers[identity] = p
	r.mu.Unlock()

	return p, prev
}

// Remove deletes the entry for identity. Unknown identities are ignored.
func (r *Registry) Remove(identity string) {
	r.mu.Lock()
	delete(r.peers, identity)
	r.mu.Unlock()
}

// Release removes p only if it is still the entry stored for its identity.
// It reports whether anything was removed.
func (r *Registry) Release(p *Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.peers[p.Identity]; ok && cur == p {
		delete(r.peers, p.Identity)
		return true
	}
	return false
}

// Get returns the entry for identity.
func (r *Registry) Get(identity string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[identity]
	return p, ok
}

// ForEachExcept calls fn for every peer whose identity is not excluded.
// Iteration order is unspecified. fn runs on a snapshot taken under the read
// lock, so it may call back into the registry.
func (r *Registry) ForEachExcept(excluded string, fn func(*Peer)) {
	for _, p := range r.Peers() {
		if p.Identity == excluded {
			continue
		}
		fn(p)
	}
}

// Current reports whether p is still the entry stored for its identity.
func (r *Registry) Current(p *Peer) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peers[p.Identity] == p
}

// MarkAlive records a heartbeat acknowledgment for identity.
func (r *Registry) MarkAlive(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[identity]
	if !ok {
		return false
	}
	p.alive.Store(true)
	return true
}

// SweepDead removes and returns every peer that has not been marked alive
// since the previous sweep, then clears the flag on all survivors.
func (r *Registry) SweepDead() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dead []*Peer
	for id, p := range r.peers {
		if !p.alive.Load() {
			dead = append(dead, p)
			delete(r.peers, id)
			continue
		}
		p.alive.Store(false)
	}
	return dead
}

// Peers returns a snapshot of all entries.
func (r *Registry) Peers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Identities returns the registered identities in sorted order.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
