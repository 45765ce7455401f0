package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend stores usage in PostgreSQL through a pgx pool.
type PostgresBackend struct {
	*queue
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS usage_requests (
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT NOT NULL DEFAULT '',
	client_model TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	stream BOOLEAN NOT NULL DEFAULT FALSE,
	stop_reason TEXT NOT NULL DEFAULT '',
	calls INTEGER NOT NULL DEFAULT 0,
	input_tokens BIGINT NOT NULL DEFAULT 0,
	output_tokens BIGINT NOT NULL DEFAULT 0,
	total_tokens BIGINT NOT NULL DEFAULT 0,
	estimated BOOLEAN NOT NULL DEFAULT FALSE,
	failed BOOLEAN NOT NULL DEFAULT FALSE,
	latency_ms BIGINT NOT NULL DEFAULT 0,
	requested_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_requests_requested_at ON usage_requests(requested_at);
CREATE INDEX IF NOT EXISTS idx_usage_requests_model ON usage_requests(client_model, provider, model);
`

var usageColumns = []string{
	"request_id", "client_model", "provider", "model", "stream", "stop_reason", "calls",
	"input_tokens", "output_tokens", "total_tokens", "estimated", "failed", "latency_ms", "requested_at",
}

// NewPostgresBackend connects, verifies the connection and creates the
// schema. Call Start to run the background writer.
func NewPostgresBackend(dsn string, cfg BackendConfig) (*PostgresBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init usage schema: %w", err)
	}

	b := &PostgresBackend{pool: pool}
	b.queue = newQueue("postgres", b, cfg)
	return b, nil
}

func (b *PostgresBackend) Start() error {
	b.queue.start()
	return nil
}

func (b *PostgresBackend) Stop() error {
	b.queue.shutdown()
	b.pool.Close()
	return nil
}

func (b *PostgresBackend) writeBatch(ctx context.Context, records []Record) error {
	_, err := b.pool.CopyFrom(ctx, pgx.Identifier{"usage_requests"}, usageColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			r := records[i]
			return []any{
				r.RequestID, r.ClientModel, r.Provider, r.Model, r.Stream, r.StopReason, int32(r.Calls),
				r.InputTokens, r.OutputTokens, r.TotalTokens, r.Estimated, r.Failed, r.LatencyMs, r.RequestedAt,
			}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy usage records: %w", err)
	}
	return nil
}

func (b *PostgresBackend) QueryGlobalStats(ctx context.Context, since time.Time) (*AggregatedStats, error) {
	row := b.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE NOT failed),
			COUNT(*) FILTER (WHERE failed),
			COALESCE(SUM(input_tokens), 0)::BIGINT,
			COALESCE(SUM(output_tokens), 0)::BIGINT,
			COALESCE(SUM(total_tokens), 0)::BIGINT
		FROM usage_requests
		WHERE requested_at >= $1`, since)

	var s AggregatedStats
	if err := row.Scan(&s.TotalRequests, &s.SuccessCount, &s.FailureCount, &s.InputTokens, &s.OutputTokens, &s.TotalTokens); err != nil {
		return nil, fmt.Errorf("query usage totals: %w", err)
	}
	return &s, nil
}

func (b *PostgresBackend) QueryDailyStats(ctx context.Context, since time.Time) ([]DailyStats, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT
			to_char(requested_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
			COUNT(*),
			COALESCE(SUM(total_tokens), 0)::BIGINT
		FROM usage_requests
		WHERE requested_at >= $1
		GROUP BY day
		ORDER BY day`, since)
	if err != nil {
		return nil, fmt.Errorf("query daily usage: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (DailyStats, error) {
		var d DailyStats
		err := row.Scan(&d.Day, &d.Requests, &d.Tokens)
		return d, err
	})
}

func (b *PostgresBackend) QueryModelStats(ctx context.Context, since time.Time) ([]ModelStats, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT
			client_model, provider, model,
			COUNT(*),
			COUNT(*) FILTER (WHERE failed),
			COALESCE(SUM(input_tokens), 0)::BIGINT,
			COALESCE(SUM(output_tokens), 0)::BIGINT,
			COALESCE(AVG(latency_ms), 0)::DOUBLE PRECISION
		FROM usage_requests
		WHERE requested_at >= $1
		GROUP BY client_model, provider, model
		ORDER BY COUNT(*) DESC, client_model`, since)
	if err != nil {
		return nil, fmt.Errorf("query model usage: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ModelStats, error) {
		var m ModelStats
		err := row.Scan(&m.ClientModel, &m.Provider, &m.Model, &m.Requests, &m.FailureCount,
			&m.InputTokens, &m.OutputTokens, &m.AvgLatencyMs)
		return m, err
	})
}

func (b *PostgresBackend) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	tag, err := b.pool.Exec(ctx, `DELETE FROM usage_requests WHERE requested_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete old usage: %w", err)
	}
	return tag.RowsAffected(), nil
}
