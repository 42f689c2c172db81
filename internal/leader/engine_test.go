package leader

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/icecream-ring/icecream-ring/internal/ackmgr"
	"github.com/icecream-ring/icecream-ring/internal/leadership"
	"github.com/icecream-ring/icecream-ring/internal/protocol"
)

func newTestEngine(t *testing.T, assignmentTimeout time.Duration) (*Engine, net.PacketConn) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ack := ackmgr.New(conn, time.Second, 3, nil, nil)
	t.Cleanup(ack.Close)

	engine := New(assignmentTimeout, map[string]float64{"vanilla": 10}, leadership.NewFlag(), nil)
	engine.Activate(conn, ack)
	t.Cleanup(engine.Stop)
	return engine, conn
}

func newUDPSocket(t *testing.T) net.PacketConn {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEngineAssignsPendingOrderToWaitingWorker(t *testing.T) {
	engine, leaderConn := newTestEngine(t, time.Second)
	worker := newUDPSocket(t)
	submitter := newUDPSocket(t)

	dto := protocol.OrderDTO{OrderID: 1, InterfaceID: 1, IceCreams: []string{"vanilla"}, SizeOrder: 0.25}
	engine.Submit(dto, submitter.LocalAddr())

	require.Eventually(t, func() bool { return engine.PendingLen() == 1 }, time.Second, 5*time.Millisecond)

	engine.RequestWork(worker.LocalAddr())

	require.Eventually(t, func() bool { return engine.WorkingLen() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, engine.PendingLen())

	buf := make([]byte, 4096)
	worker.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := worker.ReadFrom(buf)
	require.NoError(t, err)
	kind, _, ok := protocol.Split(string(buf[:n]))
	require.True(t, ok)
	require.Equal(t, protocol.KindWork, kind)

	_ = leaderConn
}

func TestEngineRequeuesOnAssignmentTimeout(t *testing.T) {
	engine, _ := newTestEngine(t, 30*time.Millisecond)
	worker := newUDPSocket(t)
	submitter := newUDPSocket(t)

	dto := protocol.OrderDTO{OrderID: 7, InterfaceID: 1, IceCreams: []string{"vanilla"}, SizeOrder: 0.25}
	engine.Submit(dto, submitter.LocalAddr())
	require.Eventually(t, func() bool { return engine.PendingLen() == 1 }, time.Second, 5*time.Millisecond)

	engine.RequestWork(worker.LocalAddr())
	require.Eventually(t, func() bool { return engine.WorkingLen() == 1 }, time.Second, 5*time.Millisecond)

	// Never send Availability for the assignment: the watcher should expire
	// it and return the order to pending within a couple of poll cycles.
	require.Eventually(t, func() bool {
		return engine.PendingLen() == 1 && engine.WorkingLen() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngineUseStockDeductsAndRepliesStockResult(t *testing.T) {
	engine, _ := newTestEngine(t, time.Second)
	worker := newUDPSocket(t)

	engine.UseStock([]string{"vanilla"}, 3, worker.LocalAddr())
	require.Eventually(t, func() bool {
		return engine.Stock().Snapshot()["vanilla"] == 7
	}, time.Second, 5*time.Millisecond)

	buf := make([]byte, 4096)
	worker.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := worker.ReadFrom(buf)
	require.NoError(t, err)
	kind, payload, ok := protocol.Split(string(buf[:n]))
	require.True(t, ok)
	require.Equal(t, protocol.KindStockResult, kind)
	ok2, err := protocol.DecodeStockResult(payload)
	require.NoError(t, err)
	require.True(t, ok2)
}
