package leader

import (
	"sync"

	"github.com/icecream-ring/icecream-ring/internal/metrics"
)

// StockTable is the leader's concurrent flavour inventory. The whole table
// is guarded by a single mutex rather than one per flavour: a multi-flavour
// deduction (Transact) must complete as a unit relative to other workers'
// requests, and throughput here is bounded by dispatch rate, not by stock
// lookups, so serial execution over the full table is acceptable.
type StockTable struct {
	mu    sync.Mutex
	cells map[string]float64
}

// NewStockTable returns a StockTable seeded with the given starting
// quantities.
func NewStockTable(initial map[string]float64) *StockTable {
	cells := make(map[string]float64, len(initial))
	for flavour, qty := range initial {
		cells[flavour] = qty
	}
	return &StockTable{cells: cells}
}

// tryDeduct atomically subtracts amount from flavour iff the result would
// stay non-negative. Must be called with mu held.
func (s *StockTable) tryDeduct(flavour string, amount float64) bool {
	qty, ok := s.cells[flavour]
	if !ok || qty < amount {
		return false
	}
	s.cells[flavour] = qty - amount
	return true
}

// Transact attempts to deduct amountEach from every flavour in order. It
// stops at the first flavour that cannot satisfy the deduction and returns
// false; flavours already deducted before that point are NOT rolled back.
// This preserves an open design bug flagged in DESIGN.md rather than
// silently fixing it: a correct design would reserve all flavours
// tentatively and commit only if every one succeeds.
func (s *StockTable) Transact(flavours []string, amountEach float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, flavour := range flavours {
		if s.tryDeduct(flavour, amountEach) {
			metrics.StockDeductions.WithLabelValues(flavour, "ok").Inc()
			continue
		}
		metrics.StockDeductions.WithLabelValues(flavour, "insufficient").Inc()
		return false
	}
	return true
}

// Snapshot returns a copy of the current quantities, for diagnostics and
// tests.
func (s *StockTable) Snapshot() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.cells))
	for k, v := range s.cells {
		out[k] = v
	}
	return out
}
