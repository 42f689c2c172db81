// Package protocol implements the tagged wire protocol shared by every
// process: the order DTO and the colon/comma/semicolon delimited message
// kinds listed in the external-interfaces section of the design. Replacing
// ad-hoc string slicing with named encode/decode functions keeps the wire
// format centralised in one place instead of scattered across components.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Size-to-price mapping applied when an interface builds a DTO from its
// catalogue. Sizes outside this table leave TotalAmount untouched.
const (
	SizeQuarter = 0.25
	SizeHalf    = 0.5
	SizeFull    = 1.0

	PriceQuarter = 500
	PriceHalf    = 850
	PriceFull    = 1500
)

// OrderDTO is the on-wire order record. Field names and JSON tags match
// the external interface's DTO JSON exactly.
type OrderDTO struct {
	OrderID     uint64   `json:"id_order" validate:"required"`
	InterfaceID uint64   `json:"id_interface" validate:"required"`
	IceCreams   []string `json:"ice_creams" validate:"required,min=1,dive,required"`
	SizeOrder   float64  `json:"size_order" validate:"required,gt=0"`
	CashCard    uint64   `json:"cash_card"`
	TotalAmount uint64   `json:"total_amount"`
}

// PriceFor returns the price associated with a given order size, or ok=false
// when the size does not match one of the known sizes (callers should then
// leave TotalAmount unchanged, per the external interface's pricing rule).
func PriceFor(size float64) (uint64, bool) {
	switch size {
	case SizeQuarter:
		return PriceQuarter, true
	case SizeHalf:
		return PriceHalf, true
	case SizeFull:
		return PriceFull, true
	default:
		return 0, false
	}
}

// ApplyPricing sets TotalAmount from SizeOrder using PriceFor, leaving it
// untouched for unrecognised sizes.
func (o *OrderDTO) ApplyPricing() {
	if price, ok := PriceFor(o.SizeOrder); ok {
		o.TotalAmount = price
	}
}

// DecodeOrderDTO parses and validates a JSON-encoded DTO. A non-nil error
// means the payload is a parse error per the error-handling design: log and
// drop, no retry, no ACK.
func DecodeOrderDTO(data []byte) (OrderDTO, error) {
	var dto OrderDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return OrderDTO{}, fmt.Errorf("protocol: decode order dto: %w", err)
	}
	if err := validate.Struct(dto); err != nil {
		return OrderDTO{}, fmt.Errorf("protocol: invalid order dto: %w", err)
	}
	return dto, nil
}

// EncodeOrderDTO serialises a DTO back to its wire JSON form.
func EncodeOrderDTO(dto OrderDTO) ([]byte, error) {
	return json.Marshal(dto)
}
