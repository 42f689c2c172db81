// Package ackmgr implements the reliable-datagram acknowledgement layer
// every process lays over its UDP socket: bounded retry with escalation to
// a resilience hook once a record exhausts its tries.
package ackmgr

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/icecream-ring/icecream-ring/internal/metrics"
	"github.com/icecream-ring/icecream-ring/internal/protocol"
)

// ResilienceFunc is invoked when a record exhausts its retries. It receives
// the kind and destination of the escalated record along with the wire
// payload that was being retried, so a caller can, for kind
// protocol.KindRobotResult, reroute it to neighbouring interfaces.
type ResilienceFunc func(kind protocol.Kind, dest net.Addr, payload string)

// record is one outstanding, unacknowledged send.
type record struct {
	dest    net.Addr
	destKey string
	payload string
	kind    protocol.Kind
	tries   int
	backoff backoff.BackOff
	nextAt  time.Time
}

// Manager tracks outstanding sends on a single datagram socket, retransmits
// them on a fixed interval, and escalates to a ResilienceFunc after
// maxTries. Construct with New, which starts the background loop.
type Manager struct {
	conn       net.PacketConn
	interval   time.Duration
	maxTries   int
	resilience ResilienceFunc
	logger     *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	records []*record
	closed  bool
}

// New constructs a Manager bound to conn and starts its background
// retransmit loop. interval is the fixed retransmit period (1s in the
// reference configuration); maxTries bounds retransmissions per record
// before escalation (3 in the reference configuration).
func New(conn net.PacketConn, interval time.Duration, maxTries int, resilience ResilienceFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		conn:       conn,
		interval:   interval,
		maxTries:   maxTries,
		resilience: resilience,
		logger:     logger,
	}
	m.cond = sync.NewCond(&m.mu)
	go m.loop()
	return m
}

// Track schedules payload to be resent to dest every interval until an Ack
// for (dest, kind) arrives or maxTries is reached. The first send is the
// caller's responsibility — Track only governs retransmission.
func (m *Manager) Track(dest net.Addr, payload string, kind protocol.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.records = append(m.records, &record{
		dest:    dest,
		destKey: dest.String(),
		payload: payload,
		kind:    kind,
		backoff: backoff.NewConstantBackOff(m.interval),
		nextAt:  time.Now().Add(m.interval),
	})
	m.cond.Broadcast()
}

// Ack removes the oldest tracked record matching (kind, src). A record with
// no match is a no-op, per the design's idempotence requirements.
func (m *Manager) Ack(kind protocol.Kind, src net.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := src.String()
	for i, r := range m.records {
		if r.kind == kind && r.destKey == key {
			m.records = append(m.records[:i], m.records[i+1:]...)
			return
		}
	}
}

// Close stops the background loop. Outstanding records are dropped without
// escalation.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}

// loop wakes whenever the tracked set is non-empty, sleeps one retransmit
// interval, and retransmits or escalates every record whose deadline has passed. All
// expired records are handled per wake, not just one, per the redesign
// flag about bounded latency under bursty failure.
func (m *Manager) loop() {
	for {
		m.mu.Lock()
		for len(m.records) == 0 && !m.closed {
			m.cond.Wait()
		}
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		time.Sleep(m.interval)

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		now := time.Now()
		var toEscalate []*record
		kept := m.records[:0]
		for _, r := range m.records {
			if now.Before(r.nextAt) {
				kept = append(kept, r)
				continue
			}
			if r.tries >= m.maxTries {
				toEscalate = append(toEscalate, r)
				continue
			}
			if _, err := m.conn.WriteTo([]byte(r.payload), r.dest); err != nil {
				m.logger.Error("ackmgr: retransmit failed", "dest", r.destKey, "kind", r.kind, "error", err)
			} else {
				metrics.AckRetries.WithLabelValues(string(r.kind)).Inc()
			}
			r.tries++
			r.nextAt = now.Add(r.backoff.NextBackOff())
			kept = append(kept, r)
		}
		m.records = kept
		m.mu.Unlock()

		for _, r := range toEscalate {
			metrics.AckEscalations.WithLabelValues(string(r.kind)).Inc()
			m.logger.Warn("ackmgr: record escalated after exhausting retries", "dest", r.destKey, "kind", r.kind, "tries", r.tries)
			if m.resilience != nil {
				m.resilience(r.kind, r.dest, r.payload)
			}
		}
	}
}
