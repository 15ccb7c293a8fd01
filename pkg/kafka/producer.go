package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/Shopify/sarama"

	"github.com/vaidashi/storefront-api/pkg/logger"
)

// Message is a single record to publish
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Producer is a thin wrapper around sarama.SyncProducer
type Producer struct {
	producer sarama.SyncProducer
	logger   logger.Logger
}

// NewProducer dials the brokers and waits for all in-sync replicas on every send
func NewProducer(brokers []string, clientID string, logger logger.Logger) (*Producer, error) {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	config.Producer.Retry.Max = 5
	config.Producer.Retry.Backoff = 250 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)

	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return NewProducerFromSyncProducer(producer, logger), nil
}

// NewProducerFromSyncProducer wraps an existing sarama producer (mocks in tests)
func NewProducerFromSyncProducer(producer sarama.SyncProducer, logger logger.Logger) *Producer {
	return &Producer{producer: producer, logger: logger}
}

// Send publishes msg and blocks until it is acknowledged
func (p *Producer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pm := &sarama.ProducerMessage{
		Topic: msg.Topic,
		Value: sarama.ByteEncoder(msg.Value),
	}

	if msg.Key != "" {
		pm.Key = sarama.StringEncoder(msg.Key)
	}

	for k, v := range msg.Headers {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	partition, offset, err := p.producer.SendMessage(pm)

	if err != nil {
		p.logger.Error("Failed to send message to Kafka", "error", err, "topic", msg.Topic, "key", msg.Key)
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}

	p.logger.Debug("Message sent to Kafka",
		"topic", msg.Topic,
		"key", msg.Key,
		"partition", partition,
		"offset", offset)

	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
