package postgres

import (
	"context"
	"time"

	"github.com/flowbill/flowbill/internal/config"
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/logger"
	"github.com/jmoiron/sqlx"

	// Registers the postgres driver.
	_ "github.com/lib/pq"
)

// Client wraps the sqlx connection pool and provides transactional helpers
// to the repository layer.
type Client struct {
	db     *sqlx.DB
	logger *logger.Logger
}

func NewClient(cfg *config.Configuration, log *logger.Logger) (*Client, error) {
	db, err := sqlx.Connect("postgres", cfg.Postgres.GetDSN())
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("failed to connect to postgres").
			Mark(ierr.ErrDatabase)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Client{db: db, logger: log}, nil
}

// NewClientFromDB wraps an existing pool, used by tests running against a
// disposable database.
func NewClientFromDB(db *sqlx.DB, log *logger.Logger) *Client {
	return &Client{db: db, logger: log}
}

func (c *Client) DB() *sqlx.DB {
	return c.db
}

func (c *Client) Close() error {
	return c.db.Close()
}

// WithTx runs fn inside a transaction, rolling back on error or panic.
func (c *Client) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return ierr.WithError(err).
			WithHint("failed to begin transaction").
			Mark(ierr.ErrDatabase)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.logger.Errorw("transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return ierr.WithError(err).
			WithHint("failed to commit transaction").
			Mark(ierr.ErrDatabase)
	}
	return nil
}
