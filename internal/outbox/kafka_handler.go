package outbox

import (
	"context"
	"fmt"
	"strconv"

	"github.com/vaidashi/storefront-api/internal/models"
	"github.com/vaidashi/storefront-api/pkg/kafka"
	"github.com/vaidashi/storefront-api/pkg/logger"
)

// Publisher is satisfied by *kafka.Producer
type Publisher interface {
	Send(ctx context.Context, msg kafka.Message) error
}

// KafkaHandler publishes order events to the order stream
type KafkaHandler struct {
	producer Publisher
	topic    string
	logger   logger.Logger
}

func NewKafkaHandler(producer Publisher, topic string, logger logger.Logger) *KafkaHandler {
	return &KafkaHandler{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// HandleMessage keys the record by order id so events of one order stay ordered
func (h *KafkaHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	err := h.producer.Send(ctx, kafka.Message{
		Topic: h.topic,
		Key:   message.AggregateID,
		Value: message.Payload,
		Headers: map[string]string{
			"event_type":        message.EventType,
			"aggregate_type":    message.AggregateType,
			"outbox_message_id": strconv.FormatInt(message.ID, 10),
		},
	})

	if err != nil {
		return fmt.Errorf("failed to publish message to Kafka: %w", err)
	}

	h.logger.Debug("Published message to Kafka",
		"topic", h.topic,
		"messageID", message.ID,
		"aggregateID", message.AggregateID,
		"eventType", message.EventType)

	return nil
}
