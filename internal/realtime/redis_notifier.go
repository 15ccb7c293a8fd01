package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vaidashi/storefront-api/pkg/logger"
)

type redisEnvelope struct {
	ConversationID string          `json:"conversationId"`
	Data           json.RawMessage `json:"data"`
}

// RedisNotifier fans notifications out over a redis channel. The callback can
// land on any instance; every instance runs Run and delivers to the
// connections it holds.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
	local   *LocalNotifier
	logger  logger.Logger
	ready   chan struct{}
}

func NewRedisNotifier(client redis.UniversalClient, channel string, local *LocalNotifier, logger logger.Logger) *RedisNotifier {
	return &RedisNotifier{
		client:  client,
		channel: channel,
		local:   local,
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

func (n *RedisNotifier) Notify(ctx context.Context, conversationID string, payload interface{}) error {
	data, err := json.Marshal(payload)

	if err != nil {
		return err
	}

	message, err := json.Marshal(redisEnvelope{ConversationID: conversationID, Data: data})

	if err != nil {
		return err
	}

	if err := n.client.Publish(ctx, n.channel, message).Err(); err != nil {
		n.logger.Error("Failed to publish notification", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	return nil
}

// Ready is closed once the subscription is confirmed
func (n *RedisNotifier) Ready() <-chan struct{} {
	return n.ready
}

// Run subscribes and delivers until ctx is done
func (n *RedisNotifier) Run(ctx context.Context) error {
	sub := n.client.Subscribe(ctx, n.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", n.channel, err)
	}

	close(n.ready)
	n.logger.Info("Subscribed to notification channel", "channel", n.channel)

	messages := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			var envelope redisEnvelope

			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				n.logger.Warn("Dropping malformed notification", "error", err)
				continue
			}

			_ = n.local.Deliver(envelope.ConversationID, envelope.Data)
		}
	}
}
