// Package ring implements the robot ring's membership set and the
// Chang-Roberts-style election rule. Membership is append-only: the
// reference design never removes a peer once seen (see the re-architecture
// note about replacing shared-memory peer-list mutation with an
// append-only set).
package ring

import (
	"net"
	"sync"
)

// PeerSet is an append-only, concurrency-safe collection of robot peer
// addresses, keyed by their string form so duplicate Announce/Hello/Leader
// deliveries are idempotent inserts.
type PeerSet struct {
	mu    sync.RWMutex
	order []net.Addr
	seen  map[string]bool
}

// NewPeerSet returns an empty peer set.
func NewPeerSet() *PeerSet {
	return &PeerSet{seen: make(map[string]bool)}
}

// Add inserts addr if not already present. Returns true when it was new.
func (p *PeerSet) Add(addr net.Addr) bool {
	key := addr.String()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen[key] {
		return false
	}
	p.seen[key] = true
	p.order = append(p.order, addr)
	return true
}

// Contains reports whether addr has been added.
func (p *PeerSet) Contains(addr net.Addr) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.seen[addr.String()]
}

// Snapshot returns a copy of the current peer list, in insertion order.
func (p *PeerSet) Snapshot() []net.Addr {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]net.Addr, len(p.order))
	copy(out, p.order)
	return out
}

// Other returns the first known peer that does not match exclude, or nil
// when every known peer is exclude (or the set is empty). Used by election
// forwarding, which must pick a ring neighbour other than the sender.
func (p *PeerSet) Other(exclude net.Addr) net.Addr {
	excludeKey := ""
	if exclude != nil {
		excludeKey = exclude.String()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, addr := range p.order {
		if addr.String() != excludeKey {
			return addr
		}
	}
	return nil
}

// Len reports how many peers are currently known.
func (p *PeerSet) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order)
}
