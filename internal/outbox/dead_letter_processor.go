package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vaidashi/storefront-api/internal/models"
	"github.com/vaidashi/storefront-api/pkg/logger"
	"github.com/vaidashi/storefront-api/pkg/retry"
)

// ErrAlreadyResolved is returned when replaying a message that was already delivered
var ErrAlreadyResolved = errors.New("dead letter message already resolved")

// DeadLetterStore is the slice of the dead-letter repository the processor needs
type DeadLetterStore interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*models.DeadLetterMessage, error)
	GetMessage(ctx context.Context, id int64) (*models.DeadLetterMessage, error)
	MarkAsRetrying(ctx context.Context, id int64) error
	MarkAsResolved(ctx context.Context, id int64) error
	MarkAsDiscarded(ctx context.Context, id int64, reason string) error
	ResetToRetry(ctx context.Context, id int64) error
}

// DeadLetterProcessor gives dead-lettered emails and order events a slower
// second life. Each sweep redelivers the pending messages whose backoff has
// elapsed, one attempt per message. A message is discarded once it fails
// permanently or spends its retry budget.
type DeadLetterProcessor struct {
	store           DeadLetterStore
	handlers        map[string]MessageHandler
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	backoff         retry.BackoffStrategy
	logger          logger.Logger
	now             func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

type DeadLetterProcessorConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	// MaxRetries is the redelivery budget per message, manual replays included
	MaxRetries int
	// BackoffStrategy spaces redeliveries of the same message across sweeps
	BackoffStrategy retry.BackoffStrategy
}

func NewDeadLetterProcessor(store DeadLetterStore, logger logger.Logger, config *DeadLetterProcessorConfig) *DeadLetterProcessor {
	ctx, cancel := context.WithCancel(context.Background())

	backoff := config.BackoffStrategy

	if backoff == nil {
		backoff = retry.NewDefaultExponentialBackoff()
	}

	return &DeadLetterProcessor{
		store:           store,
		handlers:        make(map[string]MessageHandler),
		pollingInterval: config.PollingInterval,
		batchSize:       config.BatchSize,
		maxRetries:      config.MaxRetries,
		backoff:         backoff,
		logger:          logger,
		now:             time.Now,
		ctx:             ctx,
		cancel:          cancel,
	}
}

func (p *DeadLetterProcessor) RegisterHandler(eventType string, handler MessageHandler) {
	p.handlers[eventType] = handler
}

func (p *DeadLetterProcessor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.pollingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				if err := p.ProcessBatch(p.ctx); err != nil {
					p.logger.Error("Dead letter sweep failed", "error", err)
				}
			}
		}
	}()

	p.logger.Info("Dead letter processor started",
		"pollingInterval", p.pollingInterval,
		"maxRetries", p.maxRetries)
}

func (p *DeadLetterProcessor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	p.logger.Info("Dead letter processor stopped")
}

// ProcessBatch runs one sweep over the pending queue
func (p *DeadLetterProcessor) ProcessBatch(ctx context.Context) error {
	messages, err := p.store.GetPendingMessages(ctx, p.batchSize)

	if err != nil {
		return fmt.Errorf("failed to get pending dead letters: %w", err)
	}

	var delivered, failed, waiting int

	for _, msg := range messages {
		if !p.due(msg) {
			waiting++
			continue
		}

		if err := p.redeliver(ctx, msg); err != nil {
			failed++
			continue
		}
		delivered++
	}

	if delivered+failed > 0 {
		p.logger.Info("Dead letter sweep finished",
			"delivered", delivered,
			"failed", failed,
			"waiting", waiting)
	}

	return nil
}

// due reports whether the message's backoff since its last attempt has elapsed
func (p *DeadLetterProcessor) due(msg *models.DeadLetterMessage) bool {
	if msg.LastRetryAt == nil {
		return true
	}

	return p.now().Sub(*msg.LastRetryAt) >= p.backoff.NextBackoff(msg.RetryCount)
}

// Replay redelivers one dead letter right away, ignoring its backoff. A
// discarded message can be replayed; a resolved one cannot.
func (p *DeadLetterProcessor) Replay(ctx context.Context, id int64) error {
	msg, err := p.store.GetMessage(ctx, id)

	if err != nil {
		return err
	}

	if msg.Status == models.DeadLetterStatusResolved {
		return ErrAlreadyResolved
	}

	return p.redeliver(ctx, msg)
}

// Discard gives up on a dead letter for good
func (p *DeadLetterProcessor) Discard(ctx context.Context, id int64, reason string) error {
	msg, err := p.store.GetMessage(ctx, id)

	if err != nil {
		return err
	}

	if msg.Status == models.DeadLetterStatusResolved {
		return ErrAlreadyResolved
	}

	p.logger.Info("Dead letter discarded by operator", "messageID", id, "eventType", msg.EventType)
	return p.store.MarkAsDiscarded(ctx, id, reason)
}

// redeliver makes a single attempt and settles the message's status from its outcome
func (p *DeadLetterProcessor) redeliver(ctx context.Context, msg *models.DeadLetterMessage) error {
	handler, ok := p.handlers[msg.EventType]

	if !ok {
		err := fmt.Errorf("no handler registered for event type %s", msg.EventType)
		p.discard(ctx, msg, err.Error())
		return err
	}

	attempt := msg.RetryCount + 1

	if err := p.store.MarkAsRetrying(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to claim dead letter %d: %w", msg.ID, err)
	}

	err := handler.HandleMessage(ctx, msg.ToOutboxMessage())

	switch {
	case err == nil:
		if markErr := p.store.MarkAsResolved(ctx, msg.ID); markErr != nil {
			p.logger.Error("Failed to mark dead letter resolved", "error", markErr, "messageID", msg.ID)
			return fmt.Errorf("failed to mark dead letter %d resolved: %w", msg.ID, markErr)
		}

		p.logger.Info("Dead letter delivered",
			"messageID", msg.ID,
			"aggregateID", msg.AggregateID,
			"eventType", msg.EventType,
			"attempt", attempt)
		return nil

	case isPermanent(err):
		p.discard(ctx, msg, fmt.Sprintf("permanent failure: %v", err))

	case attempt >= p.maxRetries:
		p.discard(ctx, msg, fmt.Sprintf("retry budget of %d spent: %v", p.maxRetries, err))

	default:
		if resetErr := p.store.ResetToRetry(ctx, msg.ID); resetErr != nil {
			p.logger.Error("Failed to return dead letter to the queue", "error", resetErr, "messageID", msg.ID)
		}

		p.logger.Warn("Dead letter redelivery failed",
			"error", err,
			"messageID", msg.ID,
			"eventType", msg.EventType,
			"attempt", attempt,
			"nextIn", p.backoff.NextBackoff(attempt))
	}

	return err
}

func (p *DeadLetterProcessor) discard(ctx context.Context, msg *models.DeadLetterMessage, reason string) {
	if err := p.store.MarkAsDiscarded(ctx, msg.ID, reason); err != nil {
		p.logger.Error("Failed to discard dead letter", "error", err, "messageID", msg.ID)
		return
	}

	p.logger.Warn("Dead letter discarded",
		"messageID", msg.ID,
		"aggregateID", msg.AggregateID,
		"eventType", msg.EventType,
		"reason", reason)
}
