package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderDTORoundTrip(t *testing.T) {
	dto := OrderDTO{
		OrderID:     42,
		InterfaceID: 3,
		IceCreams:   []string{"vanilla", "mint"},
		SizeOrder:   0.5,
		CashCard:    1000,
	}
	dto.ApplyPricing()
	assert.EqualValues(t, PriceHalf, dto.TotalAmount)

	body, err := EncodeOrderDTO(dto)
	require.NoError(t, err)

	decoded, err := DecodeOrderDTO(body)
	require.NoError(t, err)
	assert.Equal(t, dto, decoded)
}

func TestDecodeOrderDTORejectsEmptyIceCreams(t *testing.T) {
	_, err := DecodeOrderDTO([]byte(`{"id_order":1,"id_interface":1,"ice_creams":[],"size_order":0.25}`))
	assert.Error(t, err)
}

func TestApprovalRoundTrip(t *testing.T) {
	msg := EncodeApproval(true, 99)
	kind, payload, ok := Split(msg)
	require.True(t, ok)
	assert.Equal(t, KindPayment, kind)

	approved, orderID, err := DecodeApproval(payload)
	require.NoError(t, err)
	assert.True(t, approved)
	assert.EqualValues(t, 99, orderID)
}

func TestSettlementRoundTrip(t *testing.T) {
	msg := EncodeSettlement(7, false)
	_, payload, ok := Split(msg)
	require.True(t, ok)

	orderID, result, err := DecodeSettlement(payload)
	require.NoError(t, err)
	assert.EqualValues(t, 7, orderID)
	assert.False(t, result)
}

func TestUseStockRoundTrip(t *testing.T) {
	msg := EncodeUseStock([]string{"vanilla", "mint"}, 0.5)
	kind, payload, ok := Split(msg)
	require.True(t, ok)
	assert.Equal(t, KindUseStock, kind)

	flavours, amount, err := DecodeUseStock(payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"vanilla", "mint"}, flavours)
	assert.Equal(t, 0.5, amount)
}

func TestAvailabilityHasNoPayload(t *testing.T) {
	kind, payload, ok := Split(EncodeAvailability())
	require.True(t, ok)
	assert.Equal(t, KindAvailability, kind)
	assert.Empty(t, payload)
}

func TestSplitRejectsMessageWithoutColonOrKnownShape(t *testing.T) {
	_, _, ok := Split("garbage")
	assert.False(t, ok)
}

func TestOrderResultRoundTrip(t *testing.T) {
	msg := EncodeRobotResult(5, true)
	_, payload, ok := Split(msg)
	require.True(t, ok)

	orderID, result, err := DecodeOrderResult(payload)
	require.NoError(t, err)
	assert.EqualValues(t, 5, orderID)
	assert.True(t, result)
}

func TestAckRoundTrip(t *testing.T) {
	msg := EncodeAck(KindWork)
	kind, payload, ok := Split(msg)
	require.True(t, ok)
	assert.Equal(t, KindAck, kind)
	assert.Equal(t, string(KindWork), payload)
}
