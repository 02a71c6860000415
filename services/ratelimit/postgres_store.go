package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// PostgresStore keeps the window log in the rate_limit_events table.
// A transaction-scoped advisory lock on the bucket key serializes concurrent hits
// from every instance, which makes evict-count-insert atomic.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore creates a new PostgresStore instance
func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// Hit implements CounterStore
func (s *PostgresStore) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (res HitResult, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return HitResult{}, fmt.Errorf("failed to begin rate limit transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return HitResult{}, fmt.Errorf("failed to lock bucket: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		DELETE FROM rate_limit_events
		WHERE scope_key = $1
		  AND timestamp <= $2
	`, key, now.Add(-window)); err != nil {
		return HitResult{}, fmt.Errorf("failed to evict expired events: %w", err)
	}

	var (
		count  int
		oldest sql.NullTime
	)
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(timestamp)
		FROM rate_limit_events
		WHERE scope_key = $1
	`, key).Scan(&count, &oldest)
	if err != nil {
		return HitResult{}, fmt.Errorf("failed to count rate limit events: %w", err)
	}

	res = HitResult{Count: count, Now: now}
	if count < limit {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO rate_limit_events (scope_key, timestamp)
			VALUES ($1, $2)
		`, key, now); err != nil {
			return HitResult{}, fmt.Errorf("failed to insert rate limit event: %w", err)
		}
		res.Admitted = true
		res.Count++
		if !oldest.Valid {
			oldest = sql.NullTime{Time: now, Valid: true}
		}
	}
	if oldest.Valid {
		res.Oldest = oldest.Time
	}

	if err = tx.Commit(); err != nil {
		return HitResult{}, fmt.Errorf("failed to commit rate limit transaction: %w", err)
	}
	return res, nil
}

// CleanupOldEvents removes events of idle buckets that Hit never revisits
func (s *PostgresStore) CleanupOldEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoffTime := time.Now().Add(-olderThan)

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM rate_limit_events
		WHERE timestamp < $1
	`, cutoffTime)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Info("cleaned up old rate limit events",
		zap.Int64("rows_deleted", rowsAffected),
		zap.Time("cutoff_time", cutoffTime))

	return rowsAffected, nil
}

// StartCleanupWorker periodically runs CleanupOldEvents until ctx is cancelled
func (s *PostgresStore) StartCleanupWorker(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started rate limit cleanup worker",
		zap.Duration("interval", interval),
		zap.Duration("retention", retention))

	for {
		select {
		case <-ticker.C:
			if _, err := s.CleanupOldEvents(ctx, retention); err != nil {
				s.logger.Error("failed to cleanup old events", zap.Error(err))
			}
		case <-ctx.Done():
			s.logger.Info("stopping rate limit cleanup worker")
			return
		}
	}
}
