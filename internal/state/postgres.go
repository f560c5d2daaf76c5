// Package state provides bookmark store implementations for helpdesk-sync.
package state

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/datapipe-labs/helpdesk-sync/internal/migrations"
	"github.com/datapipe-labs/helpdesk-sync/internal/replicate"
)

// PgxIface is common interface for every pgx class
type PgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore persists sync state in a sync_state table, one row per
// stream, each checkpoint upserting the full state.
type PostgresStore struct {
	pool  PgxIface
	close func()
}

// NewPostgresStore wraps an existing pool. Used by tests with a mock pool.
func NewPostgresStore(pool PgxIface) *PostgresStore {
	return &PostgresStore{pool: pool, close: func() {}}
}

// OpenPostgres connects to PostgreSQL, applies pending migrations and
// returns the store.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	connConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	logger := logrus.WithField("component", "postgresql")
	connConfig.ConnConfig.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		logger.WithField("severity", n.Severity).WithField("notice", n.Message).Info("Notice received")
	}

	pool, err := pgxpool.NewWithConfig(ctx, connConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, close: pool.Close}, nil
}

// applyMigrations checks and applies schema migrations if needed
func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migrations: %w", err)
	}
	defer conn.Release()

	needsMigration, err := migrations.NeedsUpgrade(ctx, conn.Conn())
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}

	if needsMigration {
		logrus.Info("Applying database migrations...")
		if err := migrations.Apply(ctx, conn.Conn()); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		logrus.Info("Database migrations completed successfully")
	} else {
		logrus.Info("Database schema is up to date")
	}

	return nil
}

// Load reads the persisted sync state, one row per stream.
func (s *PostgresStore) Load(ctx context.Context) (replicate.SyncState, error) {
	query := `SELECT stream, replication_key, bookmark FROM sync_state`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync state: %w", err)
	}
	defer rows.Close()

	state := make(replicate.SyncState)
	for rows.Next() {
		var stream, key, bookmark string
		if err := rows.Scan(&stream, &key, &bookmark); err != nil {
			return nil, fmt.Errorf("error scanning sync state row: %w", err)
		}
		state[stream] = map[string]string{key: bookmark}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync state rows: %w", err)
	}

	return state, nil
}

// Save upserts the full sync state in one batch.
func (s *PostgresStore) Save(ctx context.Context, state replicate.SyncState) error {
	if len(state) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO sync_state (stream, replication_key, bookmark, updated_at)
			  VALUES ($1, $2, $3, now())
			  ON CONFLICT (stream) DO UPDATE SET
			  replication_key = EXCLUDED.replication_key, bookmark = EXCLUDED.bookmark, updated_at = now()`

	for stream, bm := range state {
		for key, bookmark := range bm {
			batch.Queue(query, stream, key, bookmark)
		}
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to execute sync state batch upsert: %w", err)
	}

	logrus.WithField("streams", len(state)).Debug("Checkpointed sync state to PostgreSQL")
	return nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() error {
	s.close()
	return nil
}

var _ replicate.Store = (*PostgresStore)(nil)
