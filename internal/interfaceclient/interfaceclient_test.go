package interfaceclient

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/icecream-ring/icecream-ring/internal/config"
	"github.com/icecream-ring/icecream-ring/internal/protocol"
)

func writeCatalogue(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orders.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// fakeGateway accepts exactly one connection and hands every line it reads
// to onLine, standing in for the real gateway process.
func fakeGateway(t *testing.T, addr string, onLine func(conn net.Conn, line string)) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			onLine(conn, scanner.Text())
		}
	}()
	return ln
}

func TestClientSubmitsCatalogueOrdersToGateway(t *testing.T) {
	cfg := config.Load()
	received := make(chan string, 4)
	gw := fakeGateway(t, cfg.GatewayTCPAddr(), func(_ net.Conn, line string) {
		received <- line
	})
	defer gw.Close()

	path := writeCatalogue(t, `{"orders": [{"id": 1, "ice_creams": ["vanilla"], "size_order": 0.25, "cash_card": 500}]}`)

	client := New(3, cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx, path)
	defer client.Stop()

	select {
	case line := <-received:
		kind, payload, ok := protocol.Split(line)
		require.True(t, ok)
		require.Equal(t, protocol.KindOrder, kind)
		dto, err := protocol.DecodeOrderDTO([]byte(payload))
		require.NoError(t, err)
		require.EqualValues(t, 1, dto.OrderID)
		require.EqualValues(t, 500, dto.TotalAmount)
	case <-time.After(2 * time.Second):
		t.Fatal("gateway never received the submitted order")
	}
}

func TestClientForwardsApprovedOrderToLeader(t *testing.T) {
	cfg := config.Load()
	gw := fakeGateway(t, cfg.GatewayTCPAddr(), func(_ net.Conn, _ string) {})
	defer gw.Close()

	leaderConn, err := net.ListenPacket("udp", cfg.LeaderAddr())
	require.NoError(t, err)
	defer leaderConn.Close()

	path := writeCatalogue(t, `{"orders": [{"id": 5, "ice_creams": ["mint"], "size_order": 0.5, "cash_card": 900}]}`)

	client := New(4, cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx, path)
	defer client.Stop()

	// Wait for the interface's socket to come up before pretending to be
	// the gateway pushing an approval at it.
	require.Eventually(t, func() bool {
		return client.conn != nil
	}, time.Second, 5*time.Millisecond)

	approval := protocol.EncodeApproval(true, 5)
	_, err = client.conn.WriteTo([]byte(approval), client.conn.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, 4096)
	leaderConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := leaderConn.ReadFrom(buf)
	require.NoError(t, err)
	kind, payload, ok := protocol.Split(string(buf[:n]))
	require.True(t, ok)
	require.Equal(t, protocol.KindOrder, kind)
	dto, err := protocol.DecodeOrderDTO([]byte(payload))
	require.NoError(t, err)
	require.EqualValues(t, 5, dto.OrderID)
}
