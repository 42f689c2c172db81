// Package leader implements the leader-side order-processing engine: the
// pending/working queues, stock arbitration, and timeout-driven
// reassignment that run only on whichever robot currently holds
// leadership.
package leader

import (
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/icecream-ring/icecream-ring/internal/ackmgr"
	"github.com/icecream-ring/icecream-ring/internal/leadership"
	"github.com/icecream-ring/icecream-ring/internal/metrics"
	"github.com/icecream-ring/icecream-ring/internal/protocol"
	"github.com/icecream-ring/icecream-ring/internal/tracing"
)

// assignment tracks one outstanding worker assignment's deadline.
type assignment struct {
	worker  net.Addr
	orderID uint64
	deadline time.Time
}

// Engine is the leader's order-processing state machine. It is safe for
// concurrent use; all exported methods may be called from any goroutine
// handling an inbound datagram.
type Engine struct {
	assignmentTimeout time.Duration
	logger            *slog.Logger

	flag *leadership.Flag

	pendingMu sync.Mutex
	pending   map[uint64]protocol.OrderDTO

	workingMu sync.Mutex
	working   map[string]workingEntry

	timersMu sync.Mutex
	timers   []assignment

	waitingMu sync.Mutex
	waiting   []net.Addr

	stock *StockTable

	conn net.PacketConn
	ack  *ackmgr.Manager

	dispatchCh chan struct{}
	stopCh     chan struct{}
	stopOnce   sync.Once
}

type workingEntry struct {
	worker net.Addr
	order  protocol.OrderDTO
}

// New constructs a dormant Engine. Call Activate once this process wins
// leadership. Until then the engine has no socket and no AckManager: only
// the active leader's engine is driven, and RequestWork and UseStock must
// not be called before Activate.
func New(assignmentTimeout time.Duration, initialStock map[string]float64, flag *leadership.Flag, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		assignmentTimeout: assignmentTimeout,
		logger:            logger,
		flag:              flag,
		pending:           make(map[uint64]protocol.OrderDTO),
		working:           make(map[string]workingEntry),
		stock:             NewStockTable(initialStock),
		dispatchCh:        make(chan struct{}, 1),
		stopCh:            make(chan struct{}),
	}
}

// Activate binds the engine to its own socket and AckManager, sets the
// leadership flag, and starts the receiver and timeout-watcher loops. It
// is the one-shot transition described in the design: exactly one process
// performs it per election/join sequence.
func (e *Engine) Activate(conn net.PacketConn, ack *ackmgr.Manager) {
	e.conn = conn
	e.ack = ack
	e.flag.Set()
	metrics.LeadershipTransitions.Inc()

	go e.receiveLoop()
	go e.watchAssignments()
	go e.dispatchLoop()

	e.logger.Info("leader engine activated", "component", "leader", "addr", conn.LocalAddr().String())
}

// Stop halts the engine's background loops. Safe to call multiple times.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// receiveLoop reads datagrams on the leader's well-known socket: Order
// submissions from interfaces and Ack replies from workers.
func (e *Engine) receiveLoop() {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}
		n, addr, err := e.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-e.stopCh:
				return
			default:
			}
			e.logger.Error("leader: recv failed", "component", "leader", "error", err)
			continue
		}
		raw := string(buf[:n])
		kind, payload, ok := protocol.Split(raw)
		if !ok {
			e.logger.Warn("leader: malformed message dropped", "component", "leader", "raw", raw)
			continue
		}
		traceID := tracing.NewID()
		e.logger.Debug("leader: message received", "component", "leader", "trace_id", traceID, "kind", kind, "from", addr.String())
		switch kind {
		case protocol.KindOrder:
			dto, err := protocol.DecodeOrderDTO([]byte(payload))
			if err != nil {
				e.logger.Warn("leader: malformed order dropped", "component", "leader", "error", err)
				continue
			}
			e.Submit(dto, addr)
		case protocol.KindUseStock:
			flavours, amountEach, err := protocol.DecodeUseStock(payload)
			if err != nil {
				e.logger.Warn("leader: malformed use-stock dropped", "component", "leader", "error", err)
				continue
			}
			e.send(protocol.EncodeAck(protocol.KindUseStock), addr)
			e.UseStock(flavours, amountEach, addr)
		case protocol.KindAvailability:
			e.send(protocol.EncodeAck(protocol.KindAvailability), addr)
			e.Complete(addr)
		case protocol.KindAck:
			ackedKind := protocol.Kind(payload)
			switch ackedKind {
			case protocol.KindWork, protocol.KindStockResult:
				e.ack.Ack(ackedKind, addr)
			}
		default:
			e.logger.Warn("leader: unexpected message kind", "component", "leader", "kind", kind)
		}
	}
}

// Submit places order on the pending queue, acknowledges the submitter,
// and wakes the dispatcher so any idle worker is served immediately.
// A duplicate order id overwrites the pending entry with (by construction)
// identical data, making retried submissions idempotent.
func (e *Engine) Submit(order protocol.OrderDTO, submitter net.Addr) {
	e.pendingMu.Lock()
	e.pending[order.OrderID] = order
	e.pendingMu.Unlock()

	e.send(protocol.EncodeAck(protocol.KindOrder), submitter)
	e.signalDispatch()
}

// RequestWork is called when a worker announces readiness for work (at
// join time, or after completing a prior assignment). If a pending order
// exists it is assigned immediately; otherwise the worker is parked until
// the next Submit, or an assignment-timeout re-queue, wakes the dispatcher.
func (e *Engine) RequestWork(worker net.Addr) {
	if e.tryAssign(worker) {
		return
	}
	e.waitingMu.Lock()
	e.waiting = append(e.waiting, worker)
	e.waitingMu.Unlock()
}

// Complete is called on an Availability signal from a worker: it clears
// the worker's working-map entry and assignment timer, then immediately
// re-invokes RequestWork for that worker.
func (e *Engine) Complete(worker net.Addr) {
	key := worker.String()

	e.workingMu.Lock()
	delete(e.working, key)
	e.workingMu.Unlock()

	e.timersMu.Lock()
	kept := e.timers[:0]
	for _, t := range e.timers {
		if t.worker.String() != key {
			kept = append(kept, t)
		}
	}
	e.timers = kept
	e.timersMu.Unlock()

	e.RequestWork(worker)
}

// UseStock attempts to deduct amountEach from every flavour in order for
// worker, and replies with a StockResult tracked for acknowledgement.
func (e *Engine) UseStock(flavours []string, amountEach float64, worker net.Addr) {
	ok := e.stock.Transact(flavours, amountEach)
	msg := protocol.EncodeStockResult(ok)
	e.send(msg, worker)
	e.ack.Track(worker, msg, protocol.KindStockResult)
}

// tryAssign assigns the smallest-keyed pending order to worker, if any
// exists. Ties among keys cannot occur since order ids are unique; "next
// order" is simply the minimum key presently in the map.
func (e *Engine) tryAssign(worker net.Addr) bool {
	e.pendingMu.Lock()
	if len(e.pending) == 0 {
		e.pendingMu.Unlock()
		return false
	}
	var ids []uint64
	for id := range e.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	id := ids[0]
	order := e.pending[id]
	delete(e.pending, id)
	e.pendingMu.Unlock()

	e.workingMu.Lock()
	e.working[worker.String()] = workingEntry{worker: worker, order: order}
	e.workingMu.Unlock()

	e.timersMu.Lock()
	e.timers = append(e.timers, assignment{
		worker:   worker,
		orderID:  order.OrderID,
		deadline: time.Now().Add(e.assignmentTimeout),
	})
	e.timersMu.Unlock()

	msg, err := protocol.EncodeWork(order)
	if err != nil {
		e.logger.Error("leader: encode work failed", "component", "leader", "error", err)
		return true
	}
	e.send(msg, worker)
	e.ack.Track(worker, msg, protocol.KindWork)
	e.logger.Info("leader: order assigned", "component", "leader", "order_id", order.OrderID, "worker", worker.String())
	return true
}

// dispatchLoop serialises calls to tryDispatchWaiting so concurrent
// Submit calls and timeout re-queues don't race over the same waiting
// worker.
func (e *Engine) dispatchLoop() {
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.dispatchCh:
			e.tryDispatchWaiting()
		}
	}
}

// tryDispatchWaiting assigns pending orders to as many waiting workers as
// possible.
func (e *Engine) tryDispatchWaiting() {
	for {
		e.waitingMu.Lock()
		if len(e.waiting) == 0 {
			e.waitingMu.Unlock()
			return
		}
		worker := e.waiting[0]
		e.waiting = e.waiting[1:]
		e.waitingMu.Unlock()

		if !e.tryAssign(worker) {
			// No pending order after all: put the worker back and stop.
			e.waitingMu.Lock()
			e.waiting = append([]net.Addr{worker}, e.waiting...)
			e.waitingMu.Unlock()
			return
		}
	}
}

func (e *Engine) signalDispatch() {
	select {
	case e.dispatchCh <- struct{}{}:
	default:
	}
}

// watchAssignments re-scans the full assignment-timer set on every wake
// and re-queues every expired, still-outstanding assignment. This departs
// from the literal "process one expiry per wake" line in favour of the
// redesign flag calling out unbounded latency under bursty failure.
func (e *Engine) watchAssignments() {
	const pollInterval = 250 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.expireAssignments()
		}
	}
}

func (e *Engine) expireAssignments() {
	now := time.Now()

	e.timersMu.Lock()
	var expired []assignment
	kept := e.timers[:0]
	for _, t := range e.timers {
		if now.After(t.deadline) || now.Equal(t.deadline) {
			expired = append(expired, t)
		} else {
			kept = append(kept, t)
		}
	}
	e.timers = kept
	e.timersMu.Unlock()

	if len(expired) == 0 {
		return
	}

	requeued := false
	for _, t := range expired {
		key := t.worker.String()

		e.workingMu.Lock()
		entry, ok := e.working[key]
		if ok && entry.order.OrderID == t.orderID {
			delete(e.working, key)
		}
		e.workingMu.Unlock()

		if !ok || entry.order.OrderID != t.orderID {
			continue
		}

		e.logger.Warn("leader: worker failure, re-queueing order",
			"component", "leader", "worker", key, "order_id", t.orderID)
		metrics.AssignmentTimeouts.Inc()

		e.pendingMu.Lock()
		e.pending[entry.order.OrderID] = entry.order
		e.pendingMu.Unlock()
		requeued = true
	}

	if requeued {
		e.signalDispatch()
	}
}

func (e *Engine) send(msg string, dest net.Addr) {
	if e.conn == nil {
		return
	}
	if _, err := e.conn.WriteTo([]byte(msg), dest); err != nil {
		e.logger.Error("leader: send failed", "component", "leader", "dest", dest.String(), "error", err)
	}
}

// Stock exposes the leader's stock table for diagnostics and tests.
func (e *Engine) Stock() *StockTable { return e.stock }

// PendingLen reports how many orders are currently queued, for tests.
func (e *Engine) PendingLen() int {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return len(e.pending)
}

// WorkingLen reports how many assignments are currently outstanding, for
// tests.
func (e *Engine) WorkingLen() int {
	e.workingMu.Lock()
	defer e.workingMu.Unlock()
	return len(e.working)
}

// String implements fmt.Stringer for debug logging of an assignment.
func (a assignment) String() string {
	return fmt.Sprintf("assignment{worker:%s order:%d deadline:%s}", a.worker, a.orderID, a.deadline)
}
