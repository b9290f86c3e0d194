// Package postgres persists insights to Postgres via pgx. Schema management
// goes through embedded goose migrations so a fresh database is ready on
// startup.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/recallio/insight-engine/pkg/core/types"
	"github.com/recallio/insight-engine/pkg/engine/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store writes insights to Postgres.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects, verifies the connection, and applies pending migrations.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := migrate(pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, logger: logger}, nil
}

func migrate(pool *pgxpool.Pool) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("postgres: set dialect: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

const upsertInsight = `
INSERT INTO insights (id, session_id, type, priority, content, source_segment_ref, confidence, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	priority = EXCLUDED.priority,
	content = EXCLUDED.content,
	confidence = EXCLUDED.confidence`

// SaveInsights upserts a segment's insights in one batch. Evolved insights
// reuse their prior's ID, so the conflict arm applies the escalation or
// expanded content in place.
func (s *Store) SaveInsights(ctx context.Context, sessionID string, insights []types.Insight) error {
	if len(insights) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ins := range insights {
		batch.Queue(upsertInsight,
			ins.ID, sessionID, string(ins.Type), string(ins.Priority),
			ins.Content, ins.SourceSegmentRef, ins.Confidence, ins.CreatedAt,
		)
	}
	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()
	for range insights {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert insight: %w", err)
		}
	}
	return nil
}

// SessionInsights returns a session's insights in creation order.
func (s *Store) SessionInsights(ctx context.Context, sessionID string) ([]types.Insight, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, priority, content, source_segment_ref, confidence, created_at
		FROM insights WHERE session_id = $1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query insights: %w", err)
	}
	defer rows.Close()

	var out []types.Insight
	for rows.Next() {
		var ins types.Insight
		if err := rows.Scan(&ins.ID, &ins.Type, &ins.Priority, &ins.Content,
			&ins.SourceSegmentRef, &ins.Confidence, &ins.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan insight: %w", err)
		}
		out = append(out, ins)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

var _ store.Store = (*Store)(nil)
