package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a message's tag — the part of a wire message before the
// first colon (or the whole message, for the argument-less Availability
// kind).
type Kind string

const (
	KindOrder        Kind = "Order"
	KindPayment      Kind = "Payment"
	KindAnnounce     Kind = "Announce"
	KindHello        Kind = "Hello"
	KindLeader       Kind = "Leader"
	KindElection     Kind = "Election"
	KindWork         Kind = "Work"
	KindAvailability Kind = "Availability"
	KindUseStock     Kind = "UseStock"
	KindStockResult  Kind = "StockResult"
	KindRobotResult  Kind = "Robot"
	KindResilience   Kind = "Resilience"
	KindAck          Kind = "Ack"
)

// Split separates a raw datagram/line into its Kind and payload. Availability
// carries no payload and no colon. Any other message without a colon
// returns ok=false — callers must treat that as a parse error: log and drop.
// The kind is not checked against the known set; callers reject unknown
// kinds themselves.
func Split(raw string) (kind Kind, payload string, ok bool) {
	raw = strings.TrimRight(raw, "\n")
	if raw == string(KindAvailability) {
		return KindAvailability, "", true
	}
	idx := strings.IndexByte(raw, ':')
	if idx < 0 {
		return "", "", false
	}
	return Kind(raw[:idx]), raw[idx+1:], true
}

// EncodeOrder builds the "Order:<dto-json>" message used both
// interface→gateway (TCP) and interface→leader (UDP).
func EncodeOrder(dto OrderDTO) (string, error) {
	body, err := EncodeOrderDTO(dto)
	if err != nil {
		return "", err
	}
	return string(KindOrder) + ":" + string(body), nil
}

// EncodeWork builds the leader→worker "Work:<dto-json>" assignment.
func EncodeWork(dto OrderDTO) (string, error) {
	body, err := EncodeOrderDTO(dto)
	if err != nil {
		return "", err
	}
	return string(KindWork) + ":" + string(body), nil
}

// EncodeApproval builds the gateway→interface "Payment:<bool>,<order_id>".
func EncodeApproval(approved bool, orderID uint64) string {
	return fmt.Sprintf("%s:%t,%d", KindPayment, approved, orderID)
}

// DecodeApproval parses a gateway→interface approval payload.
func DecodeApproval(payload string) (approved bool, orderID uint64, err error) {
	parts := strings.SplitN(payload, ",", 2)
	if len(parts) != 2 {
		return false, 0, fmt.Errorf("protocol: malformed payment approval %q", payload)
	}
	approved, err = strconv.ParseBool(parts[0])
	if err != nil {
		return false, 0, fmt.Errorf("protocol: malformed payment approval bool %q: %w", payload, err)
	}
	orderID, err = strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return false, 0, fmt.Errorf("protocol: malformed payment approval order id %q: %w", payload, err)
	}
	return approved, orderID, nil
}

// EncodeSettlement builds the interface→gateway "Payment:<order_id>,<bool>".
func EncodeSettlement(orderID uint64, result bool) string {
	return fmt.Sprintf("%s:%d,%t", KindPayment, orderID, result)
}

// DecodeSettlement parses an interface→gateway settlement payload.
func DecodeSettlement(payload string) (orderID uint64, result bool, err error) {
	parts := strings.SplitN(payload, ",", 2)
	if len(parts) != 2 {
		return 0, false, fmt.Errorf("protocol: malformed settlement %q", payload)
	}
	orderID, err = strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("protocol: malformed settlement order id %q: %w", payload, err)
	}
	result, err = strconv.ParseBool(parts[1])
	if err != nil {
		return 0, false, fmt.Errorf("protocol: malformed settlement bool %q: %w", payload, err)
	}
	return orderID, result, nil
}

// EncodeAnnounce/EncodeHello/EncodeLeader/EncodeElection build the
// robot↔robot membership and election messages, each carrying a numeric
// robot id.
func EncodeAnnounce(id int) string { return fmt.Sprintf("%s:%d", KindAnnounce, id) }
func EncodeHello(id int) string    { return fmt.Sprintf("%s:%d", KindHello, id) }
func EncodeLeader(id int) string   { return fmt.Sprintf("%s:%d", KindLeader, id) }
func EncodeElection(id int) string { return fmt.Sprintf("%s:%d", KindElection, id) }

// DecodeID parses the single-integer payload shared by Announce, Hello,
// Leader and Election.
func DecodeID(payload string) (int, error) {
	id, err := strconv.Atoi(payload)
	if err != nil {
		return 0, fmt.Errorf("protocol: malformed numeric id %q: %w", payload, err)
	}
	return id, nil
}

// EncodeAvailability builds the worker→leader readiness signal.
func EncodeAvailability() string { return string(KindAvailability) }

// EncodeUseStock builds the worker→leader "UseStock:<csv>;<amount>" request.
func EncodeUseStock(flavours []string, amountEach float64) string {
	return fmt.Sprintf("%s:%s;%s", KindUseStock, strings.Join(flavours, ","), strconv.FormatFloat(amountEach, 'f', -1, 64))
}

// DecodeUseStock parses a stock request payload into its flavour list and
// per-flavour amount.
func DecodeUseStock(payload string) (flavours []string, amountEach float64, err error) {
	parts := strings.SplitN(payload, ";", 2)
	if len(parts) != 2 {
		return nil, 0, fmt.Errorf("protocol: malformed use-stock %q", payload)
	}
	amountEach, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, 0, fmt.Errorf("protocol: malformed use-stock amount %q: %w", payload, err)
	}
	for _, f := range strings.Split(parts[0], ",") {
		f = strings.TrimSpace(strings.Trim(f, `"`))
		if f == "" {
			continue
		}
		flavours = append(flavours, f)
	}
	if len(flavours) == 0 {
		return nil, 0, fmt.Errorf("protocol: malformed use-stock %q: no flavours", payload)
	}
	return flavours, amountEach, nil
}

// EncodeStockResult builds the leader→worker "StockResult:<bool>".
func EncodeStockResult(ok bool) string { return fmt.Sprintf("%s:%t", KindStockResult, ok) }

// DecodeStockResult parses a stock-result payload.
func DecodeStockResult(payload string) (bool, error) {
	ok, err := strconv.ParseBool(payload)
	if err != nil {
		return false, fmt.Errorf("protocol: malformed stock result %q: %w", payload, err)
	}
	return ok, nil
}

// EncodeRobotResult builds the worker→interface "Robot:<order_id>,<bool>".
func EncodeRobotResult(orderID uint64, result bool) string {
	return fmt.Sprintf("%s:%d,%t", KindRobotResult, orderID, result)
}

// EncodeResilience builds the failover "Resilience:<order_id>,<bool>".
func EncodeResilience(orderID uint64, result bool) string {
	return fmt.Sprintf("%s:%d,%t", KindResilience, orderID, result)
}

// DecodeOrderResult parses the payload shared by Robot and Resilience
// messages: "<order_id>,<bool>".
func DecodeOrderResult(payload string) (orderID uint64, result bool, err error) {
	parts := strings.SplitN(payload, ",", 2)
	if len(parts) != 2 {
		return 0, false, fmt.Errorf("protocol: malformed order result %q", payload)
	}
	orderID, err = strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("protocol: malformed order result id %q: %w", payload, err)
	}
	result, err = strconv.ParseBool(parts[1])
	if err != nil {
		return 0, false, fmt.Errorf("protocol: malformed order result bool %q: %w", payload, err)
	}
	return orderID, result, nil
}

// EncodeAck builds the "Ack:<kind>" acknowledgement.
func EncodeAck(kind Kind) string { return fmt.Sprintf("%s:%s", KindAck, kind) }
