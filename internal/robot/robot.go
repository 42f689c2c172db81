// Package robot implements the robot node: ring membership, the
// Chang-Roberts-style election client, and the single-order worker loop
// that runs whichever robot is not currently serving as leader (and, for
// the leader itself, alongside its leader engine).
package robot

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/icecream-ring/icecream-ring/internal/ackmgr"
	"github.com/icecream-ring/icecream-ring/internal/config"
	"github.com/icecream-ring/icecream-ring/internal/leader"
	"github.com/icecream-ring/icecream-ring/internal/leadership"
	"github.com/icecream-ring/icecream-ring/internal/metrics"
	"github.com/icecream-ring/icecream-ring/internal/protocol"
	"github.com/icecream-ring/icecream-ring/internal/ring"
	"github.com/icecream-ring/icecream-ring/internal/tracing"
)

// joinGraceFactor sets how many ack-retry intervals a newly joined robot
// waits for a Leader reply before assuming the ring has none and starting
// an election itself.
const joinGraceFactor = 3

// Node is one robot in the ring. It owns its own UDP socket and ack
// manager for robot-to-robot and robot-to-leader traffic; if and when it
// wins leadership it additionally binds the well-known leader socket and
// activates a leader.Engine on top of it.
type Node struct {
	id     int
	cfg    *config.Config
	logger *slog.Logger

	conn    net.PacketConn
	ownAck  *ackmgr.Manager
	peers   *ring.PeerSet
	cronSched *cron.Cron

	leaderMu    sync.RWMutex
	leaderKnown bool
	leaderID    int
	leaderAddr  net.Addr

	flag         *leadership.Flag
	engine       *leader.Engine
	initialStock map[string]float64

	currentMu sync.Mutex
	current   *protocol.OrderDTO

	resultMu sync.Mutex
	resultCh chan bool

	electionMu sync.Mutex
	electing   bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a dormant Node. Call Run to join the ring and start
// serving. initialStock seeds the leader engine this node would activate
// if it wins leadership; followers never touch it.
func New(id int, cfg *config.Config, initialStock map[string]float64, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "robot", "robot_id", id)
	flag := leadership.NewFlag()
	return &Node{
		id:           id,
		cfg:          cfg,
		logger:       logger,
		peers:        ring.NewPeerSet(),
		flag:         flag,
		initialStock: initialStock,
		engine:       leader.New(time.Duration(cfg.AssignmentTimeout)*time.Second, initialStock, flag, logger),
		stopCh:       make(chan struct{}),
	}
}

// Run binds the robot's socket, announces itself to every configured peer
// id, and blocks serving traffic until ctx is cancelled or Stop is called.
func (n *Node) Run(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", n.cfg.RobotAddr(n.id))
	if err != nil {
		return fmt.Errorf("robot: listen %s: %w", n.cfg.RobotAddr(n.id), err)
	}
	n.conn = conn
	n.ownAck = ackmgr.New(conn, time.Duration(n.cfg.AckRetryInterval)*time.Second, n.cfg.AckMaxTries, n.resilience, n.logger)

	go n.receiveLoop()

	n.announceAll()

	n.cronSched = cron.New()
	spec := fmt.Sprintf("@every %ds", n.cfg.GossipInterval)
	if _, err := n.cronSched.AddFunc(spec, n.announceAll); err != nil {
		n.logger.Error("robot: schedule gossip failed", "error", err)
	} else {
		n.cronSched.Start()
	}

	go n.joinWatchdog()

	n.logger.Info("robot joined", "addr", conn.LocalAddr().String())

	select {
	case <-ctx.Done():
		n.Stop()
		return ctx.Err()
	case <-n.stopCh:
		return nil
	}
}

// Stop shuts down the robot's background loops and sockets. Safe to call
// more than once.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
		if n.cronSched != nil {
			n.cronSched.Stop()
		}
		n.ownAck.Close()
		n.engine.Stop()
		n.conn.Close()
	})
}

// announceAll broadcasts Announce to every configured robot id except its
// own, skipping ids it has already discovered so repeated gossip ticks
// only reach peers not yet seen.
func (n *Node) announceAll() {
	for id := config.MinRobotID; id <= config.MaxRobotID; id++ {
		if id == n.id {
			continue
		}
		addr, err := net.ResolveUDPAddr("udp", n.cfg.RobotAddr(id))
		if err != nil {
			continue
		}
		if n.peers.Contains(addr) {
			continue
		}
		msg := protocol.EncodeAnnounce(n.id)
		n.send(msg, addr)
		n.ownAck.Track(addr, msg, protocol.KindAnnounce)
	}
}

// joinWatchdog waits a few ack-retry intervals for a Leader reply to this
// robot's Announce broadcast; if none arrives, it assumes the ring has no
// leader yet and starts an election itself.
func (n *Node) joinWatchdog() {
	grace := time.Duration(joinGraceFactor*n.cfg.AckRetryInterval) * time.Second
	select {
	case <-time.After(grace):
	case <-n.stopCh:
		return
	}
	n.leaderMu.RLock()
	known := n.leaderKnown
	n.leaderMu.RUnlock()
	if !known {
		n.startElection()
	}
}

// receiveLoop reads every datagram addressed to this robot's own socket:
// membership and election traffic from peers, work assignments and stock
// results from whichever robot leads, and acks for this robot's own
// tracked sends.
func (n *Node) receiveLoop() {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-n.stopCh:
			return
		default:
		}
		size, addr, err := n.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
			}
			n.logger.Error("robot: recv failed", "error", err)
			continue
		}
		raw := string(buf[:size])
		kind, payload, ok := protocol.Split(raw)
		if !ok {
			n.logger.Warn("robot: malformed message dropped", "raw", raw)
			continue
		}
		traceID := tracing.NewID()
		n.logger.Debug("robot: message received", "trace_id", traceID, "kind", kind, "from", addr.String())
		n.dispatch(kind, payload, addr)
	}
}

func (n *Node) dispatch(kind protocol.Kind, payload string, addr net.Addr) {
	switch kind {
	case protocol.KindAnnounce:
		id, err := protocol.DecodeID(payload)
		if err != nil {
			n.logger.Warn("robot: malformed announce", "error", err)
			return
		}
		n.handleAnnounce(id, addr)
	case protocol.KindHello:
		id, err := protocol.DecodeID(payload)
		if err != nil {
			n.logger.Warn("robot: malformed hello", "error", err)
			return
		}
		n.handleHello(id, addr)
	case protocol.KindLeader:
		id, err := protocol.DecodeID(payload)
		if err != nil {
			n.logger.Warn("robot: malformed leader", "error", err)
			return
		}
		n.handleLeaderMsg(id, addr)
	case protocol.KindElection:
		id, err := protocol.DecodeID(payload)
		if err != nil {
			n.logger.Warn("robot: malformed election", "error", err)
			return
		}
		n.handleElection(id, addr)
	case protocol.KindWork:
		dto, err := protocol.DecodeOrderDTO([]byte(payload))
		if err != nil {
			n.logger.Warn("robot: malformed work dropped", "error", err)
			return
		}
		n.send(protocol.EncodeAck(protocol.KindWork), addr)
		go n.handleWork(dto)
	case protocol.KindStockResult:
		ok, err := protocol.DecodeStockResult(payload)
		if err != nil {
			n.logger.Warn("robot: malformed stock result", "error", err)
			return
		}
		n.send(protocol.EncodeAck(protocol.KindStockResult), addr)
		n.deliverStockResult(ok)
	case protocol.KindAck:
		n.handleAck(protocol.Kind(payload), addr)
	default:
		n.logger.Warn("robot: unexpected message kind", "kind", kind)
	}
}

func (n *Node) handleAnnounce(id int, addr net.Addr) {
	n.send(protocol.EncodeAck(protocol.KindAnnounce), addr)
	if n.peers.Add(addr) {
		n.logger.Info("robot: discovered peer", "peer_id", id, "addr", addr.String())
	}

	n.leaderMu.RLock()
	known, leaderID := n.leaderKnown, n.leaderID
	n.leaderMu.RUnlock()

	switch {
	case !known:
		// No leader yet: promote ourselves right away instead of waiting on
		// the election fallback. promote's broadcastLeader reaches the
		// joiner we just added above, and setLeader's requestWork schedules
		// this robot itself for dispatch.
		n.setLeader(n.id)
	case leaderID == n.id:
		// Already leading: tell the joiner directly, since it wasn't in our
		// peer set for the broadcast made at promotion time.
		msg := protocol.EncodeLeader(n.id)
		n.send(msg, addr)
		n.ownAck.Track(addr, msg, protocol.KindLeader)
	default:
		// Follower: greet the joiner so it can add us as a peer.
		hello := protocol.EncodeHello(n.id)
		n.send(hello, addr)
		n.ownAck.Track(addr, hello, protocol.KindHello)
	}
}

func (n *Node) handleHello(id int, addr net.Addr) {
	n.send(protocol.EncodeAck(protocol.KindHello), addr)
	if n.peers.Add(addr) {
		n.logger.Info("robot: discovered peer", "peer_id", id, "addr", addr.String())
	}
}

func (n *Node) handleLeaderMsg(id int, addr net.Addr) {
	n.send(protocol.EncodeAck(protocol.KindLeader), addr)
	n.peers.Add(addr)
	n.setLeader(id)
}

func (n *Node) setLeader(id int) {
	leaderAddr, err := net.ResolveUDPAddr("udp", n.cfg.LeaderAddr())
	if err != nil {
		n.logger.Error("robot: resolve leader addr failed", "error", err)
		return
	}
	n.leaderMu.Lock()
	wasKnown := n.leaderKnown
	n.leaderKnown = true
	n.leaderID = id
	n.leaderAddr = leaderAddr
	n.leaderMu.Unlock()

	if id == n.id {
		n.promote()
	}
	if !wasKnown {
		n.requestWork()
	}
}

// promote binds the well-known leader socket and activates this node's
// leader engine. Guarded so a robot only ever does this once per process
// lifetime, matching the one-shot leadership flag.
func (n *Node) promote() {
	if n.flag.IsSet() {
		return
	}
	leaderConn, err := net.ListenPacket("udp", n.cfg.LeaderAddr())
	if err != nil {
		n.logger.Error("robot: bind leader socket failed", "error", err)
		return
	}
	leaderAck := ackmgr.New(leaderConn, time.Duration(n.cfg.AckRetryInterval)*time.Second, n.cfg.AckMaxTries, n.leaderResilience, n.logger)
	n.engine.Activate(leaderConn, leaderAck)
	n.logger.Info("robot: won election, now leading")
	n.broadcastLeader()
}

func (n *Node) broadcastLeader() {
	for _, addr := range n.peers.Snapshot() {
		msg := protocol.EncodeLeader(n.id)
		n.send(msg, addr)
		n.ownAck.Track(addr, msg, protocol.KindLeader)
	}
}

// startElection sends an Election token carrying this robot's own id to
// the next known ring neighbour. Guarded against concurrent duplicate
// starts by electing; the ring's append-only peer set is read fresh each
// time in case more peers have since joined.
func (n *Node) startElection() {
	n.electionMu.Lock()
	if n.electing {
		n.electionMu.Unlock()
		return
	}
	n.electing = true
	n.electionMu.Unlock()

	defer func() {
		n.electionMu.Lock()
		n.electing = false
		n.electionMu.Unlock()
	}()

	next := n.peers.Other(n.conn.LocalAddr())
	if next == nil {
		// No peers discovered: a ring of one promotes itself directly.
		n.setLeader(n.id)
		return
	}
	n.logger.Info("robot: starting election", "token_id", n.id, "to", next.String())
	n.send(protocol.EncodeElection(n.id), next)
	metrics.ElectionMessages.WithLabelValues("started").Inc()
}

func (n *Node) handleElection(tokenID int, addr net.Addr) {
	n.peers.Add(addr)
	if tokenID == n.id {
		metrics.ElectionMessages.WithLabelValues("self_elected").Inc()
		n.setLeader(n.id)
		n.broadcastLeader()
		return
	}
	if ring.ShouldForward(n.id, tokenID) {
		next := n.peers.Other(addr)
		if next == nil {
			metrics.ElectionMessages.WithLabelValues("dropped").Inc()
			return
		}
		n.send(protocol.EncodeElection(n.id), next)
		metrics.ElectionMessages.WithLabelValues("forwarded").Inc()
		return
	}
	metrics.ElectionMessages.WithLabelValues("dropped").Inc()
}

// handleWork runs the single-order worker loop for one assignment: reserve
// stock, simulate preparation, report the outcome to the ordering
// interface, then signal availability for the next assignment.
func (n *Node) handleWork(dto protocol.OrderDTO) {
	n.currentMu.Lock()
	n.current = &dto
	n.currentMu.Unlock()

	n.resultMu.Lock()
	n.resultCh = make(chan bool, 1)
	ch := n.resultCh
	n.resultMu.Unlock()

	leaderAddr := n.currentLeaderAddr()
	amountEach := dto.SizeOrder / float64(len(dto.IceCreams))
	msg := protocol.EncodeUseStock(dto.IceCreams, amountEach)
	n.send(msg, leaderAddr)
	n.ownAck.Track(leaderAddr, msg, protocol.KindUseStock)

	var ok bool
	select {
	case ok = <-ch:
	case <-n.stopCh:
		return
	}

	if ok {
		n.logger.Info("robot: preparing order", "order_id", dto.OrderID)
	} else {
		n.logger.Warn("robot: insufficient stock for order", "order_id", dto.OrderID)
	}
	time.Sleep(preparationDelay(ok))

	interfaceAddr, err := net.ResolveUDPAddr("udp", n.cfg.InterfaceAddr(int(dto.InterfaceID)))
	if err != nil {
		n.logger.Error("robot: resolve interface addr failed", "error", err)
		n.finishOrder()
		return
	}
	result := protocol.EncodeRobotResult(dto.OrderID, ok)
	n.send(result, interfaceAddr)
	n.ownAck.Track(interfaceAddr, result, protocol.KindRobotResult)
}

// preparationDelay models processing time with a randomised delay: 2-4s on
// a successful stock reservation, 2-3s on a failed one.
func preparationDelay(success bool) time.Duration {
	if success {
		return 2*time.Second + time.Duration(rand.IntN(2001))*time.Millisecond
	}
	return 2*time.Second + time.Duration(rand.IntN(1001))*time.Millisecond
}

func (n *Node) deliverStockResult(ok bool) {
	n.resultMu.Lock()
	ch := n.resultCh
	n.resultMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- ok:
	default:
	}
}

// handleAck clears a tracked send and, for the two kinds that mean "the
// order report was delivered", moves the robot back to idle. Ack:Resilience
// arrives from a neighbouring interface rather than the original
// destination and stands in for an Ack:Robot the robot never received, so
// it is treated identically despite never having a matching tracked
// record to clear.
func (n *Node) handleAck(ackedKind protocol.Kind, addr net.Addr) {
	n.ownAck.Ack(ackedKind, addr)
	switch ackedKind {
	case protocol.KindRobotResult, protocol.KindResilience:
		n.finishOrder()
	}
}

// finishOrder clears the in-flight order and asks the leader for more
// work.
func (n *Node) finishOrder() {
	n.currentMu.Lock()
	n.current = nil
	n.currentMu.Unlock()
	n.requestWork()
}

func (n *Node) requestWork() {
	addr := n.currentLeaderAddr()
	if addr == nil {
		return
	}
	n.send(protocol.EncodeAvailability(), addr)
	n.ownAck.Track(addr, protocol.EncodeAvailability(), protocol.KindAvailability)
}

func (n *Node) currentLeaderAddr() net.Addr {
	n.leaderMu.RLock()
	defer n.leaderMu.RUnlock()
	return n.leaderAddr
}

func (n *Node) send(msg string, dest net.Addr) {
	if _, err := n.conn.WriteTo([]byte(msg), dest); err != nil {
		n.logger.Error("robot: send failed", "dest", dest.String(), "error", err)
	}
}

// resilience handles exhausted retries for this robot's own tracked sends
// (membership traffic and order reports). A dead peer during Announce or
// Hello is expected churn and only logged. An exhausted Robot result
// report is fanned out as "Resilience:<order>,<result>" to the ordering
// interface's two ring neighbours, mirroring the reference failover: one
// of them is expected to be alive, record the result on the submitting
// interface's behalf, and ack the robot back with Ack:Resilience.
func (n *Node) resilience(kind protocol.Kind, dest net.Addr, payload string) {
	n.logger.Warn("robot: send exhausted retries", "kind", kind, "dest", dest.String())
	if kind != protocol.KindRobotResult {
		return
	}
	_, body, ok := protocol.Split(payload)
	if !ok {
		return
	}
	interfaceID, err := interfaceIDFromAddr(dest)
	if err != nil {
		n.logger.Error("robot: resilience failover failed", "error", err)
		return
	}
	msg := fmt.Sprintf("%s:%s", protocol.KindResilience, body)
	for _, neighbour := range []int{interfaceID - 1, interfaceID + 1} {
		addr, err := net.ResolveUDPAddr("udp", n.cfg.InterfaceAddr(neighbour))
		if err != nil {
			continue
		}
		n.send(msg, addr)
	}
}

// interfaceIDFromAddr recovers the interface id encoded in an
// InterfaceAddr-produced address's port number.
func interfaceIDFromAddr(addr net.Addr) (int, error) {
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0, err
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return 0, err
	}
	return port - config.InterfaceBasePort, nil
}

// leaderResilience handles exhausted retries for the leader engine's own
// Work/StockResult sends to a worker. The engine's independent
// assignment-timeout watcher already re-queues a stalled worker's order,
// so this hook only logs; it exists as a second, narrower signal of the
// same underlying failure.
func (n *Node) leaderResilience(kind protocol.Kind, dest net.Addr, _ string) {
	n.logger.Warn("leader: send exhausted retries", "kind", kind, "dest", dest.String())
}
