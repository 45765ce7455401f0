package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nghyane/claude-relay/internal/util"
)

// SQLiteBackend stores usage in a local SQLite file. Timestamps are kept as
// unix milliseconds.
type SQLiteBackend struct {
	*queue
	db     *sql.DB
	dbPath string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS usage_requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL DEFAULT '',
	client_model TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	stream INTEGER NOT NULL DEFAULT 0,
	stop_reason TEXT NOT NULL DEFAULT '',
	calls INTEGER NOT NULL DEFAULT 0,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	estimated INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	requested_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_requests_requested_at ON usage_requests(requested_at);
CREATE INDEX IF NOT EXISTS idx_usage_requests_model ON usage_requests(client_model, provider, model);
`

// NewSQLiteBackend opens (and creates) the database at dbPath. Call Start
// to run the background writer.
func NewSQLiteBackend(dbPath string, cfg BackendConfig) (*SQLiteBackend, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dbPath, err := util.ExpandPath(dbPath)
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create usage directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init usage schema: %w", err)
	}

	b := &SQLiteBackend{db: db, dbPath: dbPath}
	b.queue = newQueue("sqlite", b, cfg)
	return b, nil
}

func (b *SQLiteBackend) Start() error {
	b.queue.start()
	return nil
}

func (b *SQLiteBackend) Stop() error {
	b.queue.shutdown()
	return b.db.Close()
}

// DBPath returns the database file path.
func (b *SQLiteBackend) DBPath() string { return b.dbPath }

func (b *SQLiteBackend) writeBatch(ctx context.Context, records []Record) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_requests (
			request_id, client_model, provider, model, stream, stop_reason, calls,
			input_tokens, output_tokens, total_tokens, estimated, failed, latency_ms, requested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare usage insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.RequestID, r.ClientModel, r.Provider, r.Model, r.Stream, r.StopReason, r.Calls,
			r.InputTokens, r.OutputTokens, r.TotalTokens, r.Estimated, r.Failed, r.LatencyMs,
			r.RequestedAt.UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert usage record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit usage batch: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) QueryGlobalStats(ctx context.Context, since time.Time) (*AggregatedStats, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN failed = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN failed = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(total_tokens), 0)
		FROM usage_requests
		WHERE requested_at >= ?`, since.UnixMilli())

	var s AggregatedStats
	if err := row.Scan(&s.TotalRequests, &s.SuccessCount, &s.FailureCount, &s.InputTokens, &s.OutputTokens, &s.TotalTokens); err != nil {
		return nil, fmt.Errorf("query usage totals: %w", err)
	}
	return &s, nil
}

func (b *SQLiteBackend) QueryDailyStats(ctx context.Context, since time.Time) ([]DailyStats, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT
			strftime('%Y-%m-%d', requested_at / 1000, 'unixepoch') AS day,
			COUNT(*),
			COALESCE(SUM(total_tokens), 0)
		FROM usage_requests
		WHERE requested_at >= ?
		GROUP BY day
		ORDER BY day`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query daily usage: %w", err)
	}
	defer rows.Close()

	var out []DailyStats
	for rows.Next() {
		var d DailyStats
		if err := rows.Scan(&d.Day, &d.Requests, &d.Tokens); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) QueryModelStats(ctx context.Context, since time.Time) ([]ModelStats, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT
			client_model, provider, model,
			COUNT(*),
			COALESCE(SUM(CASE WHEN failed = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(AVG(latency_ms), 0)
		FROM usage_requests
		WHERE requested_at >= ?
		GROUP BY client_model, provider, model
		ORDER BY COUNT(*) DESC, client_model`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query model usage: %w", err)
	}
	defer rows.Close()

	var out []ModelStats
	for rows.Next() {
		var m ModelStats
		if err := rows.Scan(&m.ClientModel, &m.Provider, &m.Model, &m.Requests, &m.FailureCount,
			&m.InputTokens, &m.OutputTokens, &m.AvgLatencyMs); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM usage_requests WHERE requested_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete old usage: %w", err)
	}
	return res.RowsAffected()
}
