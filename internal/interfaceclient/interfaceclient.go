// Package interfaceclient implements the customer-facing interface
// process: it loads a catalogue of orders, submits each one to the
// payment gateway over a single long-lived TCP connection, and — once a
// card is approved — forwards the order on to whichever robot currently
// leads, then reports back how the robot's attempt was ultimately
// settled.
package interfaceclient

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/icecream-ring/icecream-ring/internal/ackmgr"
	"github.com/icecream-ring/icecream-ring/internal/catalog"
	"github.com/icecream-ring/icecream-ring/internal/config"
	"github.com/icecream-ring/icecream-ring/internal/metrics"
	"github.com/icecream-ring/icecream-ring/internal/protocol"
	"github.com/icecream-ring/icecream-ring/internal/tracing"
)

// Client is one interface instance: one UDP socket, one TCP connection to
// the gateway, and the in-flight order book needed to turn a gateway
// approval back into a full DTO.
type Client struct {
	id     int
	cfg    *config.Config
	logger *slog.Logger

	conn   net.PacketConn
	stream net.Conn
	ack    *ackmgr.Manager

	ordersMu sync.Mutex
	orders   map[uint64]catalog.Order

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a Client for the given interface id. Call Run to connect
// and start submitting orders.
func New(id int, cfg *config.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		id:     id,
		cfg:    cfg,
		logger: logger.With("component", "interface", "interface_id", id),
		orders: make(map[uint64]catalog.Order),
		stopCh: make(chan struct{}),
	}
}

// Run binds the interface's UDP socket, connects to the gateway, loads
// catalogPath, and submits every order in it. It then blocks serving
// inbound UDP traffic until ctx is cancelled.
func (c *Client) Run(ctx context.Context, catalogPath string) error {
	conn, err := net.ListenPacket("udp", c.cfg.InterfaceAddr(c.id))
	if err != nil {
		return fmt.Errorf("interface: listen %s: %w", c.cfg.InterfaceAddr(c.id), err)
	}
	c.conn = conn

	stream, err := net.Dial("tcp", c.cfg.GatewayTCPAddr())
	if err != nil {
		conn.Close()
		return fmt.Errorf("interface: dial gateway %s: %w", c.cfg.GatewayTCPAddr(), err)
	}
	c.stream = stream

	c.ack = ackmgr.New(conn, time.Duration(c.cfg.AckRetryInterval)*time.Second, c.cfg.AckMaxTries, c.resilience, c.logger)

	orders, err := catalog.Load(catalogPath)
	if err != nil {
		c.Stop()
		return err
	}
	c.logger.Info("interface: catalogue loaded", "orders", len(orders))

	go c.receiveLoop()

	for _, order := range orders {
		c.submitOrder(order)
	}

	select {
	case <-ctx.Done():
		c.Stop()
		return ctx.Err()
	case <-c.stopCh:
		return nil
	}
}

// Stop closes the interface's sockets and connection. Safe to call more
// than once.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if c.ack != nil {
			c.ack.Close()
		}
		if c.stream != nil {
			c.stream.Close()
		}
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// submitOrder prices order, remembers it for when the gateway's verdict
// arrives, and sends it to the gateway over the shared TCP connection.
func (c *Client) submitOrder(order catalog.Order) {
	c.ordersMu.Lock()
	c.orders[order.ID] = order
	c.ordersMu.Unlock()

	msg, err := protocol.EncodeOrder(c.dtoFor(order))
	if err != nil {
		c.logger.Error("interface: encode order failed", "order_id", order.ID, "error", err)
		return
	}
	if _, err := fmt.Fprintln(c.stream, msg); err != nil {
		c.logger.Error("interface: send order to gateway failed", "order_id", order.ID, "error", err)
	}
}

// dtoFor turns a catalogue entry into the priced wire DTO this interface
// submits on its behalf.
func (c *Client) dtoFor(order catalog.Order) protocol.OrderDTO {
	dto := protocol.OrderDTO{
		OrderID:     order.ID,
		InterfaceID: uint64(c.id),
		IceCreams:   order.IceCreams,
		SizeOrder:   order.SizeOrder,
		CashCard:    order.CashCard,
	}
	dto.ApplyPricing()
	return dto
}

// receiveLoop handles every datagram addressed to this interface's own
// socket: the gateway's approval verdict, a robot's final result (direct or
// failed over as Resilience), and acks for this interface's own tracked
// order submission.
func (c *Client) receiveLoop() {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		n, addr, err := c.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-c.stopCh:
				return
			default:
			}
			c.logger.Error("interface: recv failed", "error", err)
			continue
		}
		raw := string(buf[:n])
		kind, payload, ok := protocol.Split(raw)
		if !ok {
			c.logger.Warn("interface: malformed message dropped", "raw", raw)
			continue
		}
		traceID := tracing.NewID()
		c.logger.Debug("interface: message received", "trace_id", traceID, "kind", kind, "from", addr.String())
		switch kind {
		case protocol.KindPayment:
			c.handleApproval(payload)
		case protocol.KindRobotResult, protocol.KindResilience:
			c.handleRobotResult(kind, payload, addr)
		case protocol.KindAck:
			c.ack.Ack(protocol.Kind(payload), addr)
		default:
			c.logger.Warn("interface: unexpected message kind", "kind", kind)
		}
	}
}

// handleApproval reacts to the gateway's verdict on a previously submitted
// order: approved orders are handed to the leader over UDP; rejected ones
// are simply recorded.
func (c *Client) handleApproval(payload string) {
	approved, orderID, err := protocol.DecodeApproval(payload)
	if err != nil {
		c.logger.Warn("interface: malformed approval dropped", "error", err)
		return
	}
	if !approved {
		c.logger.Info("interface: order rejected by gateway", "order_id", orderID)
		return
	}
	c.ordersMu.Lock()
	order, ok := c.orders[orderID]
	c.ordersMu.Unlock()
	if !ok {
		c.logger.Warn("interface: approval for unknown order", "order_id", orderID)
		return
	}

	msg, err := protocol.EncodeOrder(c.dtoFor(order))
	if err != nil {
		c.logger.Error("interface: encode order for leader failed", "order_id", orderID, "error", err)
		return
	}
	leaderAddr, err := net.ResolveUDPAddr("udp", c.cfg.LeaderAddr())
	if err != nil {
		c.logger.Error("interface: resolve leader addr failed", "error", err)
		return
	}
	c.logger.Info("interface: order approved, forwarding to leader", "order_id", orderID)
	if _, err := c.conn.WriteTo([]byte(msg), leaderAddr); err != nil {
		c.logger.Error("interface: send order to leader failed", "error", err)
		return
	}
	c.ack.Track(leaderAddr, msg, protocol.KindOrder)
}

// handleRobotResult reacts to a robot's final outcome for an order, either
// a direct Robot report for one of this interface's orders or a Resilience
// report failed over from a neighbouring interface: it acks the robot
// directly with the same kind (so the robot can move on), then settles the
// card over the shared gateway connection.
func (c *Client) handleRobotResult(kind protocol.Kind, payload string, addr net.Addr) {
	orderID, result, err := protocol.DecodeOrderResult(payload)
	if err != nil {
		c.logger.Warn("interface: malformed robot result dropped", "error", err)
		return
	}
	outcome := "failure"
	if result {
		outcome = "success"
	}
	path := "direct"
	if kind == protocol.KindResilience {
		path = "resilience"
	}
	metrics.OrdersCompleted.WithLabelValues(outcome, path).Inc()
	c.logger.Info("interface: order result received", "order_id", orderID, "success", result, "path", path)

	if _, err := c.conn.WriteTo([]byte(protocol.EncodeAck(kind)), addr); err != nil {
		c.logger.Error("interface: ack robot result failed", "error", err)
	}

	settlement := protocol.EncodeSettlement(orderID, result)
	if _, err := fmt.Fprintln(c.stream, settlement); err != nil {
		c.logger.Error("interface: settle with gateway failed", "order_id", orderID, "error", err)
	}
}

// resilience handles an exhausted retry of this interface's own tracked
// Order submission to the leader: the leader the interface knew about is
// presumably gone, so there's nothing useful to fail over to. Log and give
// up on that order rather than retrying forever.
func (c *Client) resilience(kind protocol.Kind, dest net.Addr, _ string) {
	c.logger.Warn("interface: send exhausted retries", "kind", kind, "dest", dest.String())
}
