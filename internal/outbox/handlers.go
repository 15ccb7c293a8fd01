package outbox

import (
	"context"
	"fmt"

	"github.com/vaidashi/storefront-api/internal/models"
	apperrors "github.com/vaidashi/storefront-api/pkg/errors"
	"github.com/vaidashi/storefront-api/pkg/logger"
)

// LoggingHandler records order events when no broker is configured
type LoggingHandler struct {
	logger logger.Logger
}

func NewLoggingHandler(logger logger.Logger) *LoggingHandler {
	return &LoggingHandler{
		logger: logger,
	}
}

func (h *LoggingHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	event, err := models.DecodeEvent(message.Payload, nil)

	if err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("failed to unmarshal outbox message: %v", err))
	}

	h.logger.Info("Order event",
		"messageID", message.ID,
		"eventType", message.EventType,
		"aggregateID", message.AggregateID,
		"eventID", event.EventID,
		"occurredAt", event.OccurredAt)

	return nil
}

// Mailer is satisfied by *clients.Mailer
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

// EmailHandler delivers email_requested events
type EmailHandler struct {
	mailer Mailer
	logger logger.Logger
}

func NewEmailHandler(mailer Mailer, logger logger.Logger) *EmailHandler {
	return &EmailHandler{
		mailer: mailer,
		logger: logger,
	}
}

func (h *EmailHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	var req models.EmailRequest

	if _, err := models.DecodeEvent(message.Payload, &req); err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("malformed email request: %v", err))
	}

	if req.To == "" {
		return apperrors.NewValidationError("email request has no recipient")
	}

	return h.mailer.Send(ctx, req.To, req.Subject, req.HTML)
}
