package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vaidashi/storefront-api/internal/models"
	apperrors "github.com/vaidashi/storefront-api/pkg/errors"
	"github.com/vaidashi/storefront-api/pkg/logger"
)

// MessageHandler defines the interface for handling outbox messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, message *models.OutboxMessage) error
}

// MessageHandlerFunc adapts a function to MessageHandler
type MessageHandlerFunc func(ctx context.Context, message *models.OutboxMessage) error

func (f MessageHandlerFunc) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	return f(ctx, message)
}

// Store is the slice of the outbox repository the processor needs
type Store interface {
	ClaimPending(ctx context.Context, limit int) ([]*models.OutboxMessage, error)
	MarkAsCompleted(ctx context.Context, id int64) error
	MarkForRetry(ctx context.Context, id int64, errorMessage string) error
	MarkAsFailed(ctx context.Context, id int64, errorMessage string) error
}

// DeadLetterSink receives messages the processor gives up on
type DeadLetterSink interface {
	Create(ctx context.Context, message *models.DeadLetterMessage) error
}

// Processor is responsible for processing outbox messages
type Processor struct {
	store           Store
	deadLetters     DeadLetterSink
	handlers        map[string]MessageHandler
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	logger          logger.Logger
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	running         bool
	mu              sync.Mutex
}

// ProcessorConfig holds the configuration for the Processor
type ProcessorConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxRetries      int
}

// NewProcessor creates a new Processor. deadLetters may be nil, in which case
// exhausted messages are only marked failed.
func NewProcessor(store Store, deadLetters DeadLetterSink, config ProcessorConfig, logger logger.Logger) *Processor {
	ctx, cancel := context.WithCancel(context.Background())

	return &Processor{
		store:           store,
		deadLetters:     deadLetters,
		handlers:        make(map[string]MessageHandler),
		pollingInterval: config.PollingInterval,
		batchSize:       config.BatchSize,
		maxRetries:      config.MaxRetries,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// RegisterHandler registers a message handler for a specific event type
func (p *Processor) RegisterHandler(eventType string, handler MessageHandler) {
	p.handlers[eventType] = handler
}

// Handlers exposes the registered handlers so the dead-letter processor can replay with them
func (p *Processor) Handlers() map[string]MessageHandler {
	return p.handlers
}

// Start starts the outbox processor
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		p.processOutbox()
	}()

	p.logger.Info("Outbox processor started",
		"pollingInterval", p.pollingInterval,
		"batchSize", p.batchSize)
}

// Stop stops the outbox processor and waits for the current batch
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	p.logger.Info("Outbox processor stopped")
}

func (p *Processor) processOutbox() {
	ticker := time.NewTicker(p.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(p.ctx); err != nil {
				p.logger.Error("Failed to process outbox batch", "error", err)
			}
		}
	}
}

// ProcessBatch claims and handles one batch, returning how many messages were claimed
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.pollingInterval+30*time.Second)
	defer cancel()

	messages, err := p.store.ClaimPending(ctx, p.batchSize)

	if err != nil {
		return 0, fmt.Errorf("failed to claim pending messages: %w", err)
	}

	if len(messages) == 0 {
		return 0, nil
	}

	p.logger.Debug("Processing batch of outbox messages", "count", len(messages))

	for _, msg := range messages {
		if err := p.processMessage(ctx, msg); err != nil {
			p.logger.Warn("Failed to process message",
				"error", err,
				"messageID", msg.ID,
				"aggregateID", msg.AggregateID,
				"eventType", msg.EventType)
		}
	}

	return len(messages), nil
}

func (p *Processor) processMessage(ctx context.Context, msg *models.OutboxMessage) error {
	handler, exists := p.handlers[msg.EventType]

	if !exists {
		reason := fmt.Sprintf("no handler registered for event type: %s", msg.EventType)
		p.giveUp(ctx, msg, reason, "no handler")
		return fmt.Errorf("%s", reason)
	}

	err := handler.HandleMessage(ctx, msg)

	if err == nil {
		if markErr := p.store.MarkAsCompleted(ctx, msg.ID); markErr != nil {
			return fmt.Errorf("failed to mark message as completed: %w", markErr)
		}

		p.logger.Info("Successfully processed message",
			"messageID", msg.ID,
			"aggregateID", msg.AggregateID,
			"eventType", msg.EventType)
		return nil
	}

	if isPermanent(err) {
		p.giveUp(ctx, msg, err.Error(), "permanent failure")
		return err
	}

	if msg.ProcessingAttempts >= p.maxRetries {
		p.giveUp(ctx, msg, err.Error(), fmt.Sprintf("max retries (%d) reached", p.maxRetries))
		return fmt.Errorf("message failed after %d attempts: %w", msg.ProcessingAttempts, err)
	}

	if markErr := p.store.MarkForRetry(ctx, msg.ID, err.Error()); markErr != nil {
		p.logger.Error("Failed to return message to queue", "error", markErr, "messageID", msg.ID)
	}

	p.logger.Warn("Message processing failed, will retry",
		"error", err,
		"messageID", msg.ID,
		"attempt", msg.ProcessingAttempts)

	return err
}

func (p *Processor) giveUp(ctx context.Context, msg *models.OutboxMessage, errorMsg, reason string) {
	p.logger.Error("Moving message to dead-letter queue",
		"messageID", msg.ID,
		"eventType", msg.EventType,
		"attempts", msg.ProcessingAttempts,
		"reason", reason)

	if err := p.store.MarkAsFailed(ctx, msg.ID, errorMsg); err != nil {
		p.logger.Error("Failed to mark message as failed", "error", err, "messageID", msg.ID)
	}

	if p.deadLetters == nil {
		return
	}

	dlq := models.NewDeadLetterMessage(msg, errorMsg, reason)
	dlq.RetryCount = msg.ProcessingAttempts

	if err := p.deadLetters.Create(ctx, dlq); err != nil {
		p.logger.Error("Failed to create dead letter message", "error", err, "messageID", msg.ID)
	}
}

// isPermanent reports errors that no retry can fix. Plain errors are treated as transient.
func isPermanent(err error) bool {
	var appErr *apperrors.AppError

	return apperrors.As(err, &appErr) && !appErr.Retryable
}
