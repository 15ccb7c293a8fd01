package models

import (
	"encoding/json"
	"time"
)

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusCompleted  OutboxStatus = "completed"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// Event types written to the outbox
const (
	EventOrderCreated       = "order_created"
	EventOrderStatusChanged = "order_status_changed"
	EventOrderPaid          = "order_paid"
	EventOrderCancelled     = "order_cancelled"
	EventEmailRequested     = "email_requested"
)

// OrderEventTypes are the events published to the order stream
var OrderEventTypes = []string{
	EventOrderCreated,
	EventOrderStatusChanged,
	EventOrderPaid,
	EventOrderCancelled,
}

// OutboxMessage is a pending side effect committed together with the state change that caused it
type OutboxMessage struct {
	ID                 int64        `db:"id" json:"id"`
	AggregateType      string       `db:"aggregate_type" json:"aggregate_type"`
	AggregateID        string       `db:"aggregate_id" json:"aggregate_id"`
	EventType          string       `db:"event_type" json:"event_type"`
	Payload            []byte       `db:"payload" json:"payload"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	ProcessedAt        *time.Time   `db:"processed_at" json:"processed_at,omitempty"`
	ProcessingAttempts int          `db:"processing_attempts" json:"processing_attempts"`
	LastError          *string      `db:"last_error" json:"last_error,omitempty"`
	Status             OutboxStatus `db:"status" json:"status"`
}

// OutboxMessageEvent is the envelope stored in OutboxMessage.Payload
type OutboxMessageEvent struct {
	EventType   string          `json:"event_type"`
	EventID     string          `json:"event_id"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Data        json.RawMessage `json:"data"`
}

// OrderStatusChange is the data of order_status_changed, order_paid and order_cancelled events
type OrderStatusChange struct {
	OrderID   int         `json:"order_id"`
	UserID    int64       `json:"user_id"`
	OldStatus OrderStatus `json:"old_status"`
	NewStatus OrderStatus `json:"new_status"`
	PaymentID string      `json:"payment_id,omitempty"`
	Total     string      `json:"total"`
	ChangedAt time.Time   `json:"changed_at"`
}

// EmailRequest is the data of email_requested events
type EmailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

func newOutboxMessage(aggregateType, aggregateID, eventType string, data interface{}) (*OutboxMessage, error) {
	raw, err := json.Marshal(data)

	if err != nil {
		return nil, err
	}

	now := GetCurrentTime()
	payload, err := json.Marshal(OutboxMessageEvent{
		EventType:   eventType,
		EventID:     GenerateEventID(),
		AggregateID: aggregateID,
		OccurredAt:  now,
		Data:        raw,
	})

	if err != nil {
		return nil, err
	}

	return &OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     now,
		Status:        OutboxStatusPending,
	}, nil
}

// NewOrderCreatedEvent carries the full order with its items
func NewOrderCreatedEvent(order *Order) (*OutboxMessage, error) {
	return newOutboxMessage("order", order.ConversationID(), EventOrderCreated, order)
}

// NewOrderStatusChangedEvent records an admin or lifecycle status change
func NewOrderStatusChangedEvent(order *Order, oldStatus OrderStatus) (*OutboxMessage, error) {
	return newStatusEvent(EventOrderStatusChanged, order, oldStatus, "")
}

// NewOrderPaidEvent records a settled payment
func NewOrderPaidEvent(order *Order, oldStatus OrderStatus, paymentID string) (*OutboxMessage, error) {
	return newStatusEvent(EventOrderPaid, order, oldStatus, paymentID)
}

// NewOrderCancelledEvent records a cancellation by the owner
func NewOrderCancelledEvent(order *Order, oldStatus OrderStatus) (*OutboxMessage, error) {
	return newStatusEvent(EventOrderCancelled, order, oldStatus, "")
}

func newStatusEvent(eventType string, order *Order, oldStatus OrderStatus, paymentID string) (*OutboxMessage, error) {
	return newOutboxMessage("order", order.ConversationID(), eventType, OrderStatusChange{
		OrderID:   order.ID,
		UserID:    order.UserID,
		OldStatus: oldStatus,
		NewStatus: order.Status,
		PaymentID: paymentID,
		Total:     order.TotalPrice.StringFixed(2),
		ChangedAt: order.UpdatedAt,
	})
}

// NewEmailRequestedEvent queues an email for the outbox email handler
func NewEmailRequestedEvent(aggregateType, aggregateID string, req EmailRequest) (*OutboxMessage, error) {
	return newOutboxMessage(aggregateType, aggregateID, EventEmailRequested, req)
}

// DecodeEvent unpacks the envelope and its data
func DecodeEvent(payload []byte, data interface{}) (*OutboxMessageEvent, error) {
	var event OutboxMessageEvent

	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}

	if data != nil && len(event.Data) > 0 {
		if err := json.Unmarshal(event.Data, data); err != nil {
			return nil, err
		}
	}

	return &event, nil
}
