package models

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus values are persisted as integers and must not be renumbered
type OrderStatus int

const (
	OrderStatusCancelled OrderStatus = iota
	OrderStatusPaid
	OrderStatusPending
	OrderStatusProcessing
	OrderStatusShipped
	OrderStatusDelivered
)

var orderStatusNames = map[OrderStatus]string{
	OrderStatusCancelled:  "Cancelled",
	OrderStatusPaid:       "Paid",
	OrderStatusPending:    "Pending",
	OrderStatusProcessing: "Processing",
	OrderStatusShipped:    "Shipped",
	OrderStatusDelivered:  "Delivered",
}

func (s OrderStatus) String() string {
	if name, ok := orderStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("OrderStatus(%d)", int(s))
}

// Valid reports whether s is one of the defined statuses
func (s OrderStatus) Valid() bool {
	_, ok := orderStatusNames[s]
	return ok
}

// IsTerminal reports whether no further transition is expected
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// ParseOrderStatus accepts a case-insensitive status name or its numeric value
func ParseOrderStatus(raw string) (OrderStatus, error) {
	raw = strings.TrimSpace(raw)

	if n, err := strconv.Atoi(raw); err == nil {
		s := OrderStatus(n)
		if s.Valid() {
			return s, nil
		}
		return 0, fmt.Errorf("unknown order status %q", raw)
	}

	for s, name := range orderStatusNames {
		if strings.EqualFold(name, raw) {
			return s, nil
		}
	}

	return 0, fmt.Errorf("unknown order status %q", raw)
}

func (s OrderStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	var raw string

	if err := json.Unmarshal(data, &raw); err != nil {
		var n int
		if numErr := json.Unmarshal(data, &n); numErr != nil {
			return err
		}
		raw = strconv.Itoa(n)
	}

	parsed, err := ParseOrderStatus(raw)

	if err != nil {
		return err
	}

	*s = parsed
	return nil
}

// Order is a placed order. TotalPrice is fixed at creation time.
type Order struct {
	ID          int             `db:"id" json:"id"`
	UserID      int64           `db:"user_id" json:"user_id"`
	TotalPrice  decimal.Decimal `db:"total_price" json:"total_price"`
	Status      OrderStatus     `db:"status" json:"status"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
	PaymentDate *time.Time      `db:"payment_date" json:"payment_date,omitempty"`
	Items       []OrderItem     `db:"-" json:"items"`
}

// OrderItem snapshots the product as it was when the order was placed
type OrderItem struct {
	ID          int64           `db:"id" json:"id"`
	OrderID     int             `db:"order_id" json:"order_id"`
	ProductID   int64           `db:"product_id" json:"product_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	ProductImg  string          `db:"product_img" json:"product_img"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity    int             `db:"quantity" json:"quantity"`
	TotalPrice  decimal.Decimal `db:"total_price" json:"total_price"`
}

// NewOrder builds a pending order and computes line and order totals
func NewOrder(id int, userID int64, items []OrderItem) *Order {
	now := GetCurrentTime()
	order := &Order{
		ID:        id,
		UserID:    userID,
		Status:    OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Items:     make([]OrderItem, len(items)),
	}

	total := decimal.Zero

	for i, item := range items {
		item.OrderID = id
		item.TotalPrice = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(item.TotalPrice)
		order.Items[i] = item
	}

	order.TotalPrice = total
	return order
}

// AssignID moves the order and its items to a new id
func (o *Order) AssignID(id int) {
	o.ID = id

	for i := range o.Items {
		o.Items[i].OrderID = id
	}
}

// ConversationID is the correlation key shared with the payment provider
func (o *Order) ConversationID() string {
	return strconv.Itoa(o.ID)
}

const (
	MinOrderID = 100000
	MaxOrderID = 999999

	orderIDSpan = MaxOrderID - MinOrderID + 1
	// Largest multiple of orderIDSpan below 2^32. Samples at or above it are
	// rejected so every id in range is equally likely.
	orderIDLimit = (1 << 32) / orderIDSpan * orderIDSpan
)

// GenerateOrderID draws a uniformly distributed id in [MinOrderID, MaxOrderID]
// from crypto/rand.
func GenerateOrderID() (int, error) {
	return GenerateOrderIDFrom(rand.Reader)
}

// GenerateOrderIDFrom draws 32-bit samples from r until one is accepted
func GenerateOrderIDFrom(r io.Reader) (int, error) {
	var buf [4]byte

	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, fmt.Errorf("failed to read random bytes: %w", err)
		}

		v := uint64(binary.BigEndian.Uint32(buf[:]))

		if v >= orderIDLimit {
			continue
		}

		return MinOrderID + int(v%orderIDSpan), nil
	}
}

// TransitionTable lists, per current status, the statuses an order may move to
type TransitionTable map[OrderStatus][]OrderStatus

// Allows reports whether from -> to is permitted. Re-applying the current status is always allowed.
func (t TransitionTable) Allows(from, to OrderStatus) bool {
	if from == to {
		return true
	}

	for _, next := range t[from] {
		if next == to {
			return true
		}
	}

	return false
}

// UncheckedTransitions permits every status from every status
func UncheckedTransitions() TransitionTable {
	table := make(TransitionTable, len(orderStatusNames))

	for from := range orderStatusNames {
		for to := range orderStatusNames {
			table[from] = append(table[from], to)
		}
	}

	return table
}

// StrictTransitions follows the forward order lifecycle
func StrictTransitions() TransitionTable {
	return TransitionTable{
		OrderStatusPending:    {OrderStatusPaid, OrderStatusProcessing, OrderStatusCancelled},
		OrderStatusPaid:       {OrderStatusProcessing, OrderStatusCancelled},
		OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
		OrderStatusShipped:    {OrderStatusDelivered},
	}
}
