package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/agent"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store journals agent runs into PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ agent.RunJournal = (*Store)(nil)

// RunSummary is one row of the runs table.
type RunSummary struct {
	SessionID  string
	Task       string
	Success    bool
	Reason     string
	Message    string
	Iterations int
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewPool opens a pgx connection pool for the given URL.
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return pool, nil
}

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

// EnsureSchema creates the journal tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// RecordAction writes one action record. Re-recording the same id is a no-op.
func (s *Store) RecordAction(ctx context.Context, sessionID string, rec agent.ActionRecord) error {
	if err := insertAction(ctx, s.pool, sessionID, rec); err != nil {
		return err
	}
	return nil
}

func insertAction(ctx context.Context, db execer, sessionID string, rec agent.ActionRecord) error {
	params, err := marshalJSON(rec.Params)
	if err != nil {
		return fmt.Errorf("failed to encode params of %s: %w", rec.ID, err)
	}
	result, err := marshalJSON(rec.Result)
	if err != nil {
		return fmt.Errorf("failed to encode result of %s: %w", rec.ID, err)
	}
	var strategy string
	if rec.Advice != nil {
		strategy = string(rec.Advice.Strategy)
	}

	_, err = db.Exec(ctx, sqlInsertAction,
		rec.ID, sessionID, rec.Iteration, string(rec.Action),
		params, rec.Thought, rec.Result.Success, result,
		rec.PageChanged, rec.Valid, rec.Validation, strategy, rec.Cached,
		rec.Duration.Milliseconds(), rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert action %s: %w", rec.ID, err)
	}
	return nil
}

// RecordRun stores the run outcome and backfills any action records the
// per-step journal missed, in one transaction.
func (s *Store) RecordRun(ctx context.Context, result agent.RunResult) error {
	var loop []byte
	if result.Loop != nil {
		b, err := marshalJSON(result.Loop)
		if err != nil {
			return fmt.Errorf("failed to encode loop verdict: %w", err)
		}
		loop = b
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, sqlUpsertRun,
		result.SessionID, result.Task, result.Success, string(result.Reason),
		result.Message, result.Iterations, loop,
		result.StartedAt.UTC(), result.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert run %s: %w", result.SessionID, err)
	}

	for _, rec := range result.Records {
		if err := insertAction(ctx, tx, result.SessionID, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run recorded",
		zap.String("session_id", result.SessionID),
		zap.Int("records", len(result.Records)))
	return nil
}

// RecentRuns lists the newest runs first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, sqlRecentRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(
			&r.SessionID, &r.Task, &r.Success, &r.Reason,
			&r.Message, &r.Iterations, &r.StartedAt, &r.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

// marshalJSON never yields null, so jsonb columns stay objects.
func marshalJSON(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 || string(b) == "null" {
		return []byte("{}"), nil
	}
	return b, nil
}
