package leader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStockTableTransactSufficientStock(t *testing.T) {
	table := NewStockTable(map[string]float64{"vanilla": 2, "chocolate": 2})

	ok := table.Transact([]string{"vanilla", "chocolate"}, 1)
	require.True(t, ok)

	snap := table.Snapshot()
	assert.Equal(t, 1.0, snap["vanilla"])
	assert.Equal(t, 1.0, snap["chocolate"])
}

func TestStockTableTransactRejectsUnknownFlavour(t *testing.T) {
	table := NewStockTable(map[string]float64{"vanilla": 2})

	ok := table.Transact([]string{"mint"}, 1)
	assert.False(t, ok)
}

func TestStockTableTransactNeverGoesNegative(t *testing.T) {
	table := NewStockTable(map[string]float64{"vanilla": 0.5})

	ok := table.Transact([]string{"vanilla"}, 1)
	assert.False(t, ok)
	assert.Equal(t, 0.5, table.Snapshot()["vanilla"])
}

// TestStockTableTransactDoesNotRollBackPartialDeduction documents the
// preserved open design bug: a multi-flavour order that fails partway
// through leaves the flavours already deducted gone, even though the
// order as a whole is reported as failed.
func TestStockTableTransactDoesNotRollBackPartialDeduction(t *testing.T) {
	table := NewStockTable(map[string]float64{"vanilla": 5, "mint": 0})

	ok := table.Transact([]string{"vanilla", "mint"}, 1)
	require.False(t, ok)

	snap := table.Snapshot()
	assert.Equal(t, 4.0, snap["vanilla"], "vanilla was deducted even though the overall transaction failed")
	assert.Equal(t, 0.0, snap["mint"])
}
