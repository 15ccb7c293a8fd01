package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/vaidashi/storefront-api/internal/api"
	"github.com/vaidashi/storefront-api/internal/auth"
	"github.com/vaidashi/storefront-api/internal/clients"
	"github.com/vaidashi/storefront-api/internal/config"
	"github.com/vaidashi/storefront-api/internal/database"
	"github.com/vaidashi/storefront-api/internal/handlers"
	"github.com/vaidashi/storefront-api/internal/models"
	"github.com/vaidashi/storefront-api/internal/outbox"
	"github.com/vaidashi/storefront-api/internal/realtime"
	"github.com/vaidashi/storefront-api/internal/repository"
	"github.com/vaidashi/storefront-api/internal/service"
	"github.com/vaidashi/storefront-api/pkg/kafka"
	"github.com/vaidashi/storefront-api/pkg/logger"
	"github.com/vaidashi/storefront-api/pkg/retry"
)

func main() {
	app := &cli.App{
		Name:    "storefront-api",
		Usage:   "storefront order and payment API",
		Version: api.Version,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and background processors",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply or roll back database migrations",
				Subcommands: []*cli.Command{
					{
						Name:   "up",
						Usage:  "apply all pending migrations",
						Action: migrateUp,
					},
					{
						Name:  "down",
						Usage: "roll back migrations",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "steps", Value: 1, Usage: "number of migrations to roll back"},
						},
						Action: migrateDown,
					},
				},
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// bootstrap loads the configuration and opens the database
func bootstrap() (*config.Config, logger.Logger, *database.Database, error) {
	cfg, err := config.Load()

	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	l := logger.NewLogger(cfg.LogLevel, cfg.Env)
	db, err := database.New(cfg, l)

	if err != nil {
		logger.Sync(l)
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return cfg, l, db, nil
}

func migrateUp(c *cli.Context) error {
	_, l, db, err := bootstrap()

	if err != nil {
		return err
	}
	defer logger.Sync(l)
	defer db.Close()

	return db.RunMigrations()
}

func migrateDown(c *cli.Context) error {
	_, l, db, err := bootstrap()

	if err != nil {
		return err
	}
	defer logger.Sync(l)
	defer db.Close()

	return db.RollbackMigrations(c.Int("steps"))
}

func serve(c *cli.Context) error {
	cfg, l, db, err := bootstrap()

	if err != nil {
		return err
	}
	defer logger.Sync(l)
	defer db.Close()

	l.Info("Starting API server...", "env", cfg.Env, "version", api.Version)

	if err := db.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	users := repository.NewUserRepository(db, l)
	orders := repository.NewOrderRepository(db, l)
	products := repository.NewProductRepository(db, l)
	categories := repository.NewCategoryRepository(db, l)
	outboxRepo := repository.NewOutboxRepository(db, l)
	deadLetters := repository.NewDeadLetterRepository(db, l)

	tokens := auth.NewJWTService(cfg.JWT)
	paymentClient := clients.NewPaymentClient(cfg.Payment, l)
	mailer := clients.NewMailer(cfg.SMTP, l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Payment outcome delivery
	registry := realtime.NewRegistry(cfg.PayHub.TTL)
	registry.Start(cfg.PayHub.SweepInterval)
	defer registry.Stop()

	hub := realtime.NewHub(registry, cfg.PayHub.AllowedOrigins, l)
	local := realtime.NewLocalNotifier(registry, l)
	var notifier service.OutcomeNotifier = local

	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		redisNotifier := realtime.NewRedisNotifier(redisClient, cfg.Redis.Channel, local, l)
		notifier = redisNotifier

		go func() {
			if err := redisNotifier.Run(ctx); err != nil {
				l.Error("Notification subscription stopped", "error", err)
			}
		}()
	}

	transitions := models.UncheckedTransitions()

	if cfg.Orders.StrictTransitions {
		transitions = models.StrictTransitions()
	}

	orderService := service.NewOrderService(orders, products, transitions, l)
	paymentService := service.NewPaymentService(orderService, users, paymentClient, hub, notifier, cfg.Payment, l)
	authService := service.NewAuthService(users, tokens, cfg.JWT.RefreshTTL, cfg.PublicBaseURL, l)
	accountService := service.NewAccountService(users, l)
	catalogService := service.NewCatalogService(products, categories, l)

	// Outbox delivery: emails always, order events to Kafka when brokers are configured
	var orderEvents outbox.MessageHandler = outbox.NewLoggingHandler(l)
	var producer *kafka.Producer

	if cfg.KafkaEnabled() {
		producer, err = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID, l)

		if err != nil {
			return fmt.Errorf("failed to create kafka producer: %w", err)
		}
		defer producer.Close()

		orderEvents = outbox.NewKafkaHandler(producer, cfg.Kafka.OrdersTopic, l)
	}

	emails := outbox.NewEmailHandler(mailer, l)

	processor := outbox.NewProcessor(outboxRepo, deadLetters, outbox.ProcessorConfig{
		PollingInterval: cfg.Outbox.PollingInterval,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxRetries:      cfg.Outbox.MaxRetries,
	}, l)

	dlqProcessor := outbox.NewDeadLetterProcessor(deadLetters, l, &outbox.DeadLetterProcessorConfig{
		PollingInterval: cfg.Outbox.DLQPollingInterval,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxRetries:      cfg.Outbox.DLQMaxRetries,
		BackoffStrategy: &retry.ExponentialBackoff{
			InitialInterval: cfg.Outbox.DLQBaseBackoff,
			MaxInterval:     time.Hour,
			Multiplier:      2,
			JitterFactor:    0.1,
		},
	})

	for _, p := range []interface {
		RegisterHandler(string, outbox.MessageHandler)
	}{processor, dlqProcessor} {
		p.RegisterHandler(models.EventEmailRequested, emails)

		for _, eventType := range models.OrderEventTypes {
			p.RegisterHandler(eventType, orderEvents)
		}
	}

	processor.Start()
	dlqProcessor.Start()

	var consumer *kafka.Consumer

	if cfg.KafkaEnabled() {
		consumer, err = kafka.NewConsumer(&kafka.ConsumerConfig{
			Brokers:       cfg.Kafka.Brokers,
			Topics:        []string{cfg.Kafka.OrdersTopic},
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
		}, l)

		if err != nil {
			return fmt.Errorf("failed to create kafka consumer: %w", err)
		}

		consumer.RegisterHandler(cfg.Kafka.OrdersTopic, handlers.NewOrderEventsHandler(users, outboxRepo, l))

		if err := consumer.Start(); err != nil {
			return fmt.Errorf("failed to start kafka consumer: %w", err)
		}
	}

	server := api.NewServer(cfg, api.Deps{
		Orders:         orderService,
		Payments:       paymentService,
		Auth:           authService,
		Accounts:       accountService,
		Catalog:        catalogService,
		Tokens:         tokens,
		Hub:            hub,
		DB:             db,
		DeadLetters:    deadLetters,
		Replayer:       dlqProcessor,
		PaymentBreaker: paymentClient.Breaker(),
	}, l)

	server.OnShutdown(func(ctx context.Context) {
		if consumer != nil {
			if err := consumer.Stop(); err != nil {
				l.Error("Failed to stop kafka consumer", "error", err)
			}
		}
		processor.Stop()
		dlqProcessor.Stop()
		cancel()
	})

	// Start the server in a goroutine
	serverErr := make(chan error, 1)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Graceful shutdown via interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		l.Error("Failed to start server", "error", err)
	}

	l.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Error("Server forced to shutdown", "error", err)
		return err
	}

	l.Info("Server exiting")
	return nil
}
