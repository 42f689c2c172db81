package robot

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icecream-ring/icecream-ring/internal/config"
)

func TestPreparationDelayFallsWithinSpecRanges(t *testing.T) {
	for i := 0; i < 50; i++ {
		success := preparationDelay(true)
		assert.GreaterOrEqual(t, success, 2*time.Second)
		assert.LessOrEqual(t, success, 4*time.Second)

		failure := preparationDelay(false)
		assert.GreaterOrEqual(t, failure, 2*time.Second)
		assert.LessOrEqual(t, failure, 3*time.Second)
	}
}

func TestInterfaceIDFromAddrRecoversID(t *testing.T) {
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:9003")
	require.NoError(t, err)
	id, err := interfaceIDFromAddr(addr)
	require.NoError(t, err)
	assert.Equal(t, 3, id)
}

func testConfig() *config.Config {
	return &config.Config{
		Host:              "127.0.0.1",
		AckRetryInterval:  1,
		AckMaxTries:       2,
		AssignmentTimeout: 1,
		GossipInterval:    5,
	}
}

// TestTwoRobotRingConvergesOnASingleLeader exercises join and membership
// discovery end to end: neither robot is told who leads, so whichever one
// receives the other's Announce first with no leader known promotes itself
// and replies Leader to the joiner, and both ultimately agree on that id.
func TestTwoRobotRingConvergesOnASingleLeader(t *testing.T) {
	cfg := testConfig()
	stock := map[string]float64{"vanilla": 10}

	n1 := New(1, cfg, stock, nil)
	n2 := New(2, cfg, stock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n1.Run(ctx)
	go n2.Run(ctx)
	defer n1.Stop()
	defer n2.Stop()

	require.Eventually(t, func() bool {
		return leaderOf(n1) != 0 && leaderOf(n2) != 0
	}, 6*time.Second, 20*time.Millisecond, "both robots should converge on a leader")

	assert.Equal(t, leaderOf(n1), leaderOf(n2), "both robots must agree on the same leader id")
}

func leaderOf(n *Node) int {
	n.leaderMu.RLock()
	defer n.leaderMu.RUnlock()
	if !n.leaderKnown {
		return 0
	}
	return n.leaderID
}
