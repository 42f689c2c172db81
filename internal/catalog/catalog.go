// Package catalog loads an interface's order list from disk: a single
// JSON document listing the orders that interface will submit, in the
// format produced by the reference order-generation tooling.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Order is one catalogue entry: a customer's ice cream order before the
// interface prices it and turns it into a wire DTO.
type Order struct {
	ID        uint64   `json:"id" validate:"required"`
	ClientID  uint64   `json:"client_id"`
	IceCreams []string `json:"ice_creams" validate:"required,min=1,dive,required"`
	SizeOrder float64  `json:"size_order" validate:"required,gt=0"`
	CashCard  uint64   `json:"cash_card"`
}

type orderList struct {
	Orders []Order `json:"orders"`
}

// Load reads and validates every order in path, returning them in file
// order so an interface submits them deterministically.
func Load(path string) ([]Order, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var list orderList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	for i, order := range list.Orders {
		if err := validate.Struct(order); err != nil {
			return nil, fmt.Errorf("catalog: invalid order at index %d in %s: %w", i, path, err)
		}
	}
	return list.Orders, nil
}
