package realtime

import (
	"context"
	"encoding/json"

	"github.com/vaidashi/storefront-api/pkg/logger"
)

// FrameTypeReceive marks a payment outcome frame
const FrameTypeReceive = "Receive"

// Frame is what a waiting client receives
type Frame struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId"`
	Data           json.RawMessage `json:"data"`
}

// Notifier pushes a payload to whichever client waits on a conversation
type Notifier interface {
	Notify(ctx context.Context, conversationID string, payload interface{}) error
}

// LocalNotifier delivers through the in-process registry
type LocalNotifier struct {
	registry *Registry
	logger   logger.Logger
}

func NewLocalNotifier(registry *Registry, logger logger.Logger) *LocalNotifier {
	return &LocalNotifier{
		registry: registry,
		logger:   logger,
	}
}

func (n *LocalNotifier) Notify(ctx context.Context, conversationID string, payload interface{}) error {
	data, err := json.Marshal(payload)

	if err != nil {
		return err
	}

	return n.Deliver(conversationID, data)
}

// Deliver sends already encoded data and releases the binding. No registered
// connection is not an error.
func (n *LocalNotifier) Deliver(conversationID string, data json.RawMessage) error {
	conn, ok := n.registry.Lookup(conversationID)

	if !ok {
		n.logger.Debug("No connection waiting on conversation", "conversationID", conversationID)
		return nil
	}

	frame, err := json.Marshal(Frame{
		Type:           FrameTypeReceive,
		ConversationID: conversationID,
		Data:           data,
	})

	if err != nil {
		return err
	}

	if err := conn.Send(frame); err != nil {
		n.logger.Warn("Failed to deliver payment outcome", "error", err, "conversationID", conversationID, "connectionID", conn.ID())
		return err
	}

	// An outcome is delivered once; paying again binds the conversation anew
	n.registry.Unregister(conversationID, conn)

	n.logger.Info("Delivered payment outcome", "conversationID", conversationID, "connectionID", conn.ID())
	return nil
}
