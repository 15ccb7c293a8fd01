package handlers

import (
	"context"
	"fmt"
	"html"
	"strconv"

	"github.com/Shopify/sarama"

	"github.com/vaidashi/storefront-api/internal/models"
	"github.com/vaidashi/storefront-api/pkg/logger"
)

// UserLookup resolves the recipient of an order email
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

// OutboxWriter queues follow-up work
type OutboxWriter interface {
	Create(ctx context.Context, message *models.OutboxMessage) error
}

// OrderEventsHandler consumes the order stream and queues customer emails
// for paid and cancelled orders.
type OrderEventsHandler struct {
	users  UserLookup
	outbox OutboxWriter
	logger logger.Logger
}

func NewOrderEventsHandler(users UserLookup, outbox OutboxWriter, logger logger.Logger) *OrderEventsHandler {
	return &OrderEventsHandler{
		users:  users,
		outbox: outbox,
		logger: logger,
	}
}

// HandleMessage handles incoming order events from Kafka messages
func (h *OrderEventsHandler) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var change models.OrderStatusChange

	event, err := models.DecodeEvent(msg.Value, nil)

	if err != nil {
		// Unparsable records are skipped so they do not block the partition
		h.logger.Error("Failed to unmarshal order event", "error", err, "offset", msg.Offset)
		return nil
	}

	h.logger.Debug("Handling order event",
		"eventType", event.EventType,
		"eventID", event.EventID,
		"aggregateID", event.AggregateID)

	switch event.EventType {
	case models.EventOrderPaid:
		if _, err := models.DecodeEvent(msg.Value, &change); err != nil {
			h.logger.Error("Invalid order_paid data", "error", err, "eventID", event.EventID)
			return nil
		}
		return h.queueEmail(ctx, change, "Payment received for order #"+strconv.Itoa(change.OrderID), receiptHTML(change))
	case models.EventOrderCancelled:
		if _, err := models.DecodeEvent(msg.Value, &change); err != nil {
			h.logger.Error("Invalid order_cancelled data", "error", err, "eventID", event.EventID)
			return nil
		}
		return h.queueEmail(ctx, change, "Order #"+strconv.Itoa(change.OrderID)+" cancelled", cancellationHTML(change))
	default:
		return nil
	}
}

func (h *OrderEventsHandler) queueEmail(ctx context.Context, change models.OrderStatusChange, subject, body string) error {
	user, err := h.users.GetByID(ctx, change.UserID)

	if err != nil {
		h.logger.Warn("Skipping order email, user unavailable", "error", err, "userID", change.UserID, "orderID", change.OrderID)
		return nil
	}

	message, err := models.NewEmailRequestedEvent("order", strconv.Itoa(change.OrderID), models.EmailRequest{
		To:      user.Email,
		Subject: subject,
		HTML:    body,
	})

	if err != nil {
		return fmt.Errorf("failed to build email event: %w", err)
	}

	if err := h.outbox.Create(ctx, message); err != nil {
		return fmt.Errorf("failed to queue order email: %w", err)
	}

	h.logger.Info("Queued order email", "orderID", change.OrderID, "userID", change.UserID, "subject", subject)
	return nil
}

func receiptHTML(change models.OrderStatusChange) string {
	return fmt.Sprintf(
		"<p>We received your payment of %s for order #%d.</p><p>Payment reference: %s</p>",
		html.EscapeString(change.Total), change.OrderID, html.EscapeString(change.PaymentID),
	)
}

func cancellationHTML(change models.OrderStatusChange) string {
	return fmt.Sprintf("<p>Your order #%d has been cancelled.</p>", change.OrderID)
}
