// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/jeranaias/usagepulse/internal/model"
)

// MaxHistoryRows caps the events returned by one history query.
const MaxHistoryRows = 5000

// History persists generated events in SQLite for range queries.
type History struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenHistory opens (or creates) the SQLite file at path and applies the
// schema. An empty path opens a private in-memory database.
func OpenHistory(path string, log *zap.Logger) (*History, error) {
	if log == nil {
		log = zap.NewNop()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	if path == "" {
		dsn = "file::memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection: SQLite serialises writers anyway, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	h := &History{db: db, log: log}
	if err := h.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migration: %w", err)
	}
	return h, nil
}

func (h *History) migrate() error {
	const stmt = `
CREATE TABLE IF NOT EXISTS events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ts          INTEGER NOT NULL,
    tenant_id   TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    calls       INTEGER NOT NULL,
    tokens      INTEGER NOT NULL,
    cost        REAL NOT NULL,
    latency_ms  REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
`
	if _, err := h.db.Exec(stmt); err != nil {
		return fmt.Errorf("create events table: %w", err)
	}
	h.log.Debug("history migration applied")
	return nil
}

// Insert stores a batch in a single transaction.
func (h *History) Insert(ctx context.Context, events []model.MetricEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (ts, tenant_id, customer_id, calls, tokens, cost, latency_ms) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		m := ev.Metrics
		if _, err := stmt.ExecContext(ctx, ev.Timestamp.UnixMilli(), ev.TenantID, ev.CustomerID,
			m.TotalCalls, m.TotalTokens, m.TotalCost, m.AvgLatencyMs); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Range returns events with from <= ts <= to, oldest first, capped at
// MaxHistoryRows newest rows, together with aggregations over the whole
// range.
func (h *History) Range(ctx context.Context, from, to time.Time) ([]model.MetricEvent, model.HistoryAggregations, error) {
	var agg model.HistoryAggregations
	lo, hi := from.UnixMilli(), to.UnixMilli()

	row := h.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(calls), 0), COALESCE(SUM(tokens), 0),
       COALESCE(SUM(cost), 0), COALESCE(AVG(latency_ms), 0)
FROM events WHERE ts >= ? AND ts <= ?`, lo, hi)
	if err := row.Scan(&agg.Events, &agg.TotalCalls, &agg.TotalTokens, &agg.TotalCost, &agg.AvgLatencyMs); err != nil {
		return nil, agg, fmt.Errorf("aggregate history: %w", err)
	}

	rows, err := h.db.QueryContext(ctx, `
SELECT ts, tenant_id, customer_id, calls, tokens, cost, latency_ms FROM (
    SELECT * FROM events WHERE ts >= ? AND ts <= ? ORDER BY ts DESC, id DESC LIMIT ?
) ORDER BY ts ASC, id ASC`, lo, hi, MaxHistoryRows)
	if err != nil {
		return nil, agg, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	events := make([]model.MetricEvent, 0)
	for rows.Next() {
		var ev model.MetricEvent
		var ts int64
		if err := rows.Scan(&ts, &ev.TenantID, &ev.CustomerID, &ev.Metrics.TotalCalls,
			&ev.Metrics.TotalTokens, &ev.Metrics.TotalCost, &ev.Metrics.AvgLatencyMs); err != nil {
			return nil, agg, fmt.Errorf("scan history row: %w", err)
		}
		ev.Timestamp = time.UnixMilli(ts).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, agg, fmt.Errorf("iterate history: %w", err)
	}
	return events, agg, nil
}

// Prune deletes events older than before and returns how many were removed.
func (h *History) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := h.db.ExecContext(ctx, `DELETE FROM events WHERE ts < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		h.log.Debug("history pruned", zap.Int64("rows", n))
	}
	return n, nil
}

// Close shuts down the database connection.
func (h *History) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}
