package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the PostgreSQL session ledger.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.SessionLedger = (*Store)(nil)

const sqlCreateSessions = `
        CREATE TABLE IF NOT EXISTS agent_sessions (
            id           TEXT PRIMARY KEY,
            query        TEXT NOT NULL,
            answer       TEXT NOT NULL,
            root         TEXT NOT NULL,
            terminated   BOOLEAN NOT NULL,
            delegations  INTEGER NOT NULL,
            failed       BOOLEAN NOT NULL,
            started_at   TIMESTAMPTZ NOT NULL,
            finished_at  TIMESTAMPTZ NOT NULL
        );
    `

const sqlInsertSession = `
        INSERT INTO agent_sessions (id, query, answer, root, terminated, delegations, failed, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id) DO UPDATE SET
            answer = EXCLUDED.answer,
            terminated = EXCLUDED.terminated,
            delegations = EXCLUDED.delegations,
            failed = EXCLUDED.failed,
            finished_at = EXCLUDED.finished_at;
    `

const sqlRecentSessions = `
        SELECT id, query, answer, root, terminated, delegations, failed, started_at, finished_at
        FROM agent_sessions
        ORDER BY started_at DESC
        LIMIT $1;
    `

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the ledger table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateSessions); err != nil {
		return fmt.Errorf("failed to create agent_sessions table: %w", err)
	}
	return nil
}

// RecordSession upserts one session summary.
func (s *Store) RecordSession(ctx context.Context, rec schemas.SessionRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	tag, err := tx.Exec(ctx, sqlInsertSession,
		rec.ID, rec.Query, rec.Answer, rec.Root,
		rec.Terminated, rec.Delegations, rec.Failed,
		time.UnixMilli(rec.StartedAt).UTC(), time.UnixMilli(rec.FinishedAt).UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("unexpected rows affected recording session %s: %d", rec.ID, tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Recorded session", zap.String("session_id", rec.ID))
	return nil
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]schemas.SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, sqlRecentSessions, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []schemas.SessionRecord
	for rows.Next() {
		var (
			rec               schemas.SessionRecord
			started, finished time.Time
		)
		if err := rows.Scan(
			&rec.ID, &rec.Query, &rec.Answer, &rec.Root,
			&rec.Terminated, &rec.Delegations, &rec.Failed,
			&started, &finished,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		rec.StartedAt = started.UnixMilli()
		rec.FinishedAt = finished.UnixMilli()
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
