// Package gateway implements the payment gateway: a TCP front door that
// approves or declines an order's card against its catalogue price, then
// later learns over that same long-lived connection how the order it
// approved was actually settled. Each interface opens one TCP connection
// at startup and keeps it for every order it ever submits.
package gateway

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"

	"github.com/icecream-ring/icecream-ring/internal/config"
	"github.com/icecream-ring/icecream-ring/internal/metrics"
	"github.com/icecream-ring/icecream-ring/internal/protocol"
	"github.com/icecream-ring/icecream-ring/internal/tracing"
)

// randomDeclineChance is the probability an order that otherwise has
// sufficient funds is declined anyway, simulating a card issuer's own
// fraud checks rather than a simple balance check.
const randomDeclineChance = 0.10

// Gateway is the payment service. It never talks to the robot ring
// directly: its entire job is approving or declining a card, and later
// recording how the order it approved was actually settled.
type Gateway struct {
	cfg    *config.Config
	logger *slog.Logger

	listener net.Listener
	udpConn  net.PacketConn

	stopCh chan struct{}
}

// New constructs a Gateway. Call Run to bind its sockets and start
// serving.
func New(cfg *config.Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:    cfg,
		logger: logger.With("component", "gateway"),
		stopCh: make(chan struct{}),
	}
}

// Run binds the TCP and UDP sockets and serves until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", g.cfg.GatewayTCPAddr())
	if err != nil {
		return fmt.Errorf("gateway: listen tcp %s: %w", g.cfg.GatewayTCPAddr(), err)
	}
	g.listener = listener

	udpConn, err := net.ListenPacket("udp", g.cfg.GatewayUDPAddr())
	if err != nil {
		listener.Close()
		return fmt.Errorf("gateway: listen udp %s: %w", g.cfg.GatewayUDPAddr(), err)
	}
	g.udpConn = udpConn

	go g.acceptLoop()

	g.logger.Info("gateway serving", "tcp", g.cfg.GatewayTCPAddr(), "udp", g.cfg.GatewayUDPAddr())

	<-ctx.Done()
	g.Stop()
	return ctx.Err()
}

// Stop closes the gateway's sockets, unblocking both background loops.
func (g *Gateway) Stop() {
	select {
	case <-g.stopCh:
		return
	default:
		close(g.stopCh)
	}
	if g.listener != nil {
		g.listener.Close()
	}
	if g.udpConn != nil {
		g.udpConn.Close()
	}
}

// acceptLoop accepts one long-lived connection per interface and reads
// newline-delimited messages from it for as long as it stays open:
// "Order:<dto>" submissions and, later, "Payment:<order_id>,<bool>"
// settlement notices for orders this gateway already approved.
func (g *Gateway) acceptLoop() {
	for {
		conn, err := g.listener.Accept()
		if err != nil {
			select {
			case <-g.stopCh:
				return
			default:
			}
			g.logger.Error("gateway: accept failed", "error", err)
			continue
		}
		go g.handleConn(conn)
	}
}

func (g *Gateway) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		raw := scanner.Text()
		kind, payload, ok := protocol.Split(raw)
		if !ok {
			g.logger.Warn("gateway: malformed message dropped", "raw", raw)
			continue
		}
		traceID := tracing.NewID()
		g.logger.Debug("gateway: message received", "trace_id", traceID, "kind", kind)
		switch kind {
		case protocol.KindOrder:
			g.handleOrder(payload)
		case protocol.KindPayment:
			g.handleSettlement(payload)
		default:
			g.logger.Warn("gateway: unexpected message kind", "kind", kind)
		}
	}
	if err := scanner.Err(); err != nil {
		g.logger.Warn("gateway: connection read error", "error", err)
	}
}

func (g *Gateway) handleOrder(payload string) {
	dto, err := protocol.DecodeOrderDTO([]byte(payload))
	if err != nil {
		g.logger.Warn("gateway: invalid order dto dropped", "error", err)
		return
	}

	approved := g.approve(dto)
	outcome := "rejected"
	if approved {
		outcome = "approved"
	}
	metrics.OrdersSubmitted.WithLabelValues(outcome).Inc()
	g.logger.Info("gateway: order decisioned", "order_id", dto.OrderID, "approved", approved)

	interfaceAddr, err := net.ResolveUDPAddr("udp", g.cfg.InterfaceAddr(int(dto.InterfaceID)))
	if err != nil {
		g.logger.Error("gateway: resolve interface addr failed", "error", err)
		return
	}
	msg := protocol.EncodeApproval(approved, dto.OrderID)
	if _, err := g.udpConn.WriteTo([]byte(msg), interfaceAddr); err != nil {
		g.logger.Error("gateway: send approval failed", "error", err)
	}
}

func (g *Gateway) handleSettlement(payload string) {
	orderID, charged, err := protocol.DecodeSettlement(payload)
	if err != nil {
		g.logger.Warn("gateway: invalid settlement dropped", "error", err)
		return
	}
	result := "declined"
	if charged {
		result = "charged"
	}
	metrics.Settlements.WithLabelValues(result).Inc()
	g.logger.Info("gateway: order settled", "order_id", orderID, "charged", charged)
}

// approve declines any card whose balance can't cover the order outright,
// then applies a flat decline probability to the remainder, mirroring a
// card issuer's own independent fraud check rather than a simple balance
// comparison.
func (g *Gateway) approve(dto protocol.OrderDTO) bool {
	if dto.CashCard < dto.TotalAmount {
		return false
	}
	return rand.Float64() >= randomDeclineChance
}
