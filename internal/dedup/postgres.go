package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ObiAU/slotwatch/internal/models"
)

// DBPool abstracts pgxpool.Pool so the backend can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlCreateTable = `
        CREATE TABLE IF NOT EXISTS notified_slots (
            slot_key    TEXT PRIMARY KEY,
            notified_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );
    `
	sqlSelectKeys = `SELECT slot_key FROM notified_slots ORDER BY slot_key;`
	sqlInsertKey  = `
        INSERT INTO notified_slots (slot_key)
        VALUES ($1)
        ON CONFLICT (slot_key) DO NOTHING;
    `
	sqlDeleteAll = `DELETE FROM notified_slots;`
)

// PostgresBackend keeps the notified set in a table. A commit is one
// transaction, so either every key of a pass is stored or none is.
type PostgresBackend struct {
	pool DBPool
	log  *zap.Logger
}

func NewPostgresBackend(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresBackend, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlCreateTable); err != nil {
		return nil, fmt.Errorf("failed to create notified_slots table: %w", err)
	}
	return &PostgresBackend{pool: pool, log: logger.Named("dedup_pg")}, nil
}

// Connect opens a pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	return pool, nil
}

func (b *PostgresBackend) Name() string { return "postgres" }

func (b *PostgresBackend) Load(ctx context.Context) ([]models.SlotKey, error) {
	rows, err := b.pool.Query(ctx, sqlSelectKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to query notified slots: %w", err)
	}
	defer rows.Close()

	var keys []models.SlotKey
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan slot key: %w", err)
		}
		keys = append(keys, models.SlotKey(k))
	}
	return keys, rows.Err()
}

func (b *PostgresBackend) Commit(ctx context.Context, added, _ []models.SlotKey) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			b.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	for _, k := range added {
		if _, err := tx.Exec(ctx, sqlInsertKey, string(k)); err != nil {
			return fmt.Errorf("failed to insert slot key %s: %w", k, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Clear(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, sqlDeleteAll); err != nil {
		return fmt.Errorf("failed to clear notified slots: %w", err)
	}
	return nil
}
