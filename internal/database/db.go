package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/vaidashi/storefront-api/internal/config"
	"github.com/vaidashi/storefront-api/pkg/logger"
	"github.com/vaidashi/storefront-api/pkg/retry"
)

type Database struct {
	DB     *sqlx.DB
	logger logger.Logger
}

// New opens the postgres pool and waits for the server to answer. Connection
// failures are retried with exponential backoff up to DB.ConnectAttempts.
func New(cfg *config.Config, logger logger.Logger) (*Database, error) {
	db, err := sqlx.Open("postgres", cfg.GetDBConnString())

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	err = retry.Retry(ctx, func(ctx context.Context) error {
		return db.PingContext(ctx)
	}, &retry.RetryConfig{
		MaxAttempts: cfg.DB.ConnectAttempts,
		BackoffStrategy: &retry.ExponentialBackoff{
			InitialInterval: time.Second,
			MaxInterval:     10 * time.Second,
			Multiplier:      2,
		},
		Logger:      logger,
		ShouldRetry: func(error) bool { return true },
	})

	if err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable at %s:%d: %w", cfg.DB.Host, cfg.DB.Port, err)
	}

	logger.Info("Connected to database",
		"host", cfg.DB.Host,
		"database", cfg.DB.Name,
		"maxOpenConns", cfg.DB.MaxOpenConns)

	return Wrap(db, logger), nil
}

// Wrap builds a Database around an existing handle, used with sqlmock in tests
func Wrap(db *sqlx.DB, logger logger.Logger) *Database {
	return &Database{DB: db, logger: logger}
}

func (d *Database) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

func (d *Database) Close() error {
	return d.DB.Close()
}

// WithTx runs fn inside a read-committed transaction. The transaction is
// committed when fn returns nil and rolled back otherwise.
func (d *Database) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.DB.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})

	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Error("Failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
