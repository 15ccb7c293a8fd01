package models

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateOrderIDRange(t *testing.T) {
	for i := 0; i < 10000; i++ {
		id, err := GenerateOrderID()
		require.NoError(t, err)
		require.GreaterOrEqual(t, id, MinOrderID)
		require.LessOrEqual(t, id, MaxOrderID)
	}
}

func TestGenerateOrderIDUniform(t *testing.T) {
	const (
		buckets = 90
		samples = 180000
	)

	counts := make([]int, buckets)
	width := (MaxOrderID - MinOrderID + 1) / buckets

	for i := 0; i < samples; i++ {
		id, err := GenerateOrderID()
		require.NoError(t, err)
		counts[(id-MinOrderID)/width]++
	}

	expected := float64(samples) / buckets
	chi2 := 0.0

	for _, c := range counts {
		d := float64(c) - expected
		chi2 += d * d / expected
	}

	// 89 degrees of freedom; 150 is far beyond the 0.9999 quantile (~141).
	assert.Less(t, chi2, 150.0, "chi-square %.1f suggests a non-uniform generator", chi2)
	assert.False(t, math.IsNaN(chi2))
}

func TestGenerateOrderIDRejectsTopOfRange(t *testing.T) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(math.MaxUint32))
	_ = binary.Write(&buf, binary.BigEndian, uint32(5))

	id, err := GenerateOrderIDFrom(&buf)
	require.NoError(t, err)
	assert.Equal(t, MinOrderID+5, id)
}

func TestGenerateOrderIDReaderError(t *testing.T) {
	_, err := GenerateOrderIDFrom(bytes.NewReader([]byte{1, 2}))
	assert.Error(t, err)
}

func TestNewOrderTotals(t *testing.T) {
	order := NewOrder(123456, 7, []OrderItem{
		{ProductID: 1, ProductName: "Mug", UnitPrice: decimal.RequireFromString("12.50"), Quantity: 2},
		{ProductID: 2, ProductName: "Tea", UnitPrice: decimal.RequireFromString("3.33"), Quantity: 3},
	})

	assert.Equal(t, OrderStatusPending, order.Status)
	assert.True(t, decimal.RequireFromString("25").Equal(order.Items[0].TotalPrice))
	assert.True(t, decimal.RequireFromString("9.99").Equal(order.Items[1].TotalPrice))
	assert.True(t, decimal.RequireFromString("34.99").Equal(order.TotalPrice))
	assert.Equal(t, 123456, order.Items[1].OrderID)

	order.AssignID(654321)
	assert.Equal(t, "654321", order.ConversationID())
	assert.Equal(t, 654321, order.Items[0].OrderID)
}

func TestParseOrderStatus(t *testing.T) {
	cases := map[string]OrderStatus{
		"Pending":   OrderStatusPending,
		"shipped":   OrderStatusShipped,
		" PAID ":    OrderStatusPaid,
		"0":         OrderStatusCancelled,
		"5":         OrderStatusDelivered,
		"Cancelled": OrderStatusCancelled,
	}

	for raw, want := range cases {
		got, err := ParseOrderStatus(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	for _, bad := range []string{"", "refunded", "6", "-1"} {
		_, err := ParseOrderStatus(bad)
		assert.Error(t, err, bad)
	}
}

func TestOrderStatusJSON(t *testing.T) {
	raw, err := json.Marshal(struct {
		Status OrderStatus `json:"status"`
	}{OrderStatusProcessing})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"Processing"}`, string(raw))

	var s OrderStatus
	require.NoError(t, json.Unmarshal([]byte(`"delivered"`), &s))
	assert.Equal(t, OrderStatusDelivered, s)
	require.NoError(t, json.Unmarshal([]byte(`3`), &s))
	assert.Equal(t, OrderStatusProcessing, s)
	assert.Error(t, json.Unmarshal([]byte(`"lost"`), &s))
}

func TestTransitionTables(t *testing.T) {
	unchecked := UncheckedTransitions()
	assert.True(t, unchecked.Allows(OrderStatusDelivered, OrderStatusPending))
	assert.True(t, unchecked.Allows(OrderStatusCancelled, OrderStatusShipped))

	strict := StrictTransitions()
	assert.True(t, strict.Allows(OrderStatusPending, OrderStatusCancelled))
	assert.True(t, strict.Allows(OrderStatusShipped, OrderStatusDelivered))
	assert.True(t, strict.Allows(OrderStatusShipped, OrderStatusShipped))
	assert.False(t, strict.Allows(OrderStatusDelivered, OrderStatusPending))
	assert.False(t, strict.Allows(OrderStatusCancelled, OrderStatusPaid))
	assert.False(t, strict.Allows(OrderStatusPending, OrderStatusDelivered))
}

func TestProductFinalPrice(t *testing.T) {
	p := Product{Name: "Lamp", Price: decimal.RequireFromString("199.99"), Discount: decimal.RequireFromString("0.15")}

	assert.Equal(t, "169.99", p.FinalPrice().StringFixed(2))

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"final_price":"169.99"`)
	assert.Contains(t, string(raw), `"name":"Lamp"`)
}

func TestOutboxEventRoundTrip(t *testing.T) {
	order := NewOrder(222222, 9, []OrderItem{{ProductID: 1, UnitPrice: decimal.NewFromInt(10), Quantity: 1}})
	order.Status = OrderStatusPaid

	msg, err := NewOrderPaidEvent(order, OrderStatusPending, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, EventOrderPaid, msg.EventType)
	assert.Equal(t, "222222", msg.AggregateID)

	var change OrderStatusChange
	event, err := DecodeEvent(msg.Payload, &change)
	require.NoError(t, err)
	assert.Equal(t, EventOrderPaid, event.EventType)
	assert.Equal(t, OrderStatusPending, change.OldStatus)
	assert.Equal(t, OrderStatusPaid, change.NewStatus)
	assert.Equal(t, "10.00", change.Total)
	assert.Equal(t, "pay-1", change.PaymentID)
}
