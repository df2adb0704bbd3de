// Package journal implements core.JournalWriter: an append-only SQLite
// trade log. Grounded on original_source/trade_logger.py's table shape
// (one row per placement/fill/hedge event) and on the teacher's
// internal/engine/simple/store_sqlite.go for the mattn/go-sqlite3 wiring
// idiom (WAL mode, context-scoped queries).
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"arbmaker/internal/core"

	"github.com/shopspring/decimal"
	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed core.JournalWriter. One row is appended per
// JournalRecord; rows are never updated or deleted, matching the original's
// "insert one row per event" pattern rather than upserting live state.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the SQLite file at path and ensures its schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("journal: ping %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("journal: enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id         TEXT    PRIMARY KEY,
	ts_unix    INTEGER NOT NULL,
	order_id   TEXT    NOT NULL,
	level_idx  INTEGER NOT NULL,
	side       TEXT    NOT NULL,
	price      TEXT,
	qty        TEXT    NOT NULL,
	venue      TEXT    NOT NULL
)`

// RecordFill implements core.JournalWriter, inserting one immutable row.
func (s *Store) RecordFill(ctx context.Context, rec core.JournalRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (id, ts_unix, order_id, level_idx, side, price, qty, venue)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.Unix(), rec.OrderID, rec.LevelIdx, rec.Side.String(),
		rec.Price.String(), rec.Qty.String(), rec.Venue,
	)
	if err != nil {
		return fmt.Errorf("journal: insert fill: %w", err)
	}
	return nil
}

// PnLSummary is the aggregate spec.md's operator "status" surfaces, grounded
// on trade_logger.py's get_pnl_summary (bought/hedged quantities and cost,
// derived here from the immutable "side" column: buy rows count as bought
// base, sell rows count as hedged base).
type PnLSummary struct {
	TotalBoughtBaseStr string
	TotalHedgedBaseStr string
	FillCount          int
	HedgeCount         int
}

// PnLSummary aggregates the journal the way trade_logger.py's
// get_pnl_summary does, grouping by OrderSide rather than the original's
// string status column (this journal never marks a row "failed"). The
// Hedger does not write to the journal; the reconciler and the
// synchronizer record spot fills, so hedged totals count only SELL rows
// some other caller has written.
func (s *Store) PnLSummary(ctx context.Context) (PnLSummary, error) {
	var out PnLSummary
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN side = 'BUY' THEN CAST(qty AS REAL) ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN side = 'SELL' THEN CAST(qty AS REAL) ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN side = 'BUY' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN side = 'SELL' THEN 1 ELSE 0 END), 0)
		FROM trades`)
	var bought, hedged float64
	if err := row.Scan(&bought, &hedged, &out.FillCount, &out.HedgeCount); err != nil {
		return PnLSummary{}, fmt.Errorf("journal: pnl summary: %w", err)
	}
	out.TotalBoughtBaseStr = fmt.Sprintf("%g", bought)
	out.TotalHedgedBaseStr = fmt.Sprintf("%g", hedged)
	return out, nil
}

// RecentTrades returns up to limit most-recent journal rows, newest first,
// mirroring trade_logger.py's get_recent_trades.
func (s *Store) RecentTrades(ctx context.Context, limit int) ([]core.JournalRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, level_idx, side, price, qty, venue, ts_unix
		 FROM trades ORDER BY ts_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: recent trades: %w", err)
	}
	defer rows.Close()

	var out []core.JournalRecord
	for rows.Next() {
		var (
			rec                        core.JournalRecord
			sideStr, priceStr, qtyStr  string
			tsUnix                     int64
		)
		if err := rows.Scan(&rec.ID, &rec.OrderID, &rec.LevelIdx, &sideStr, &priceStr, &qtyStr, &rec.Venue, &tsUnix); err != nil {
			return nil, fmt.Errorf("journal: scan row: %w", err)
		}
		if sideStr == "SELL" {
			rec.Side = core.SideSell
		} else {
			rec.Side = core.SideBuy
		}
		rec.Price = parseDecimalOrZero(priceStr)
		rec.Qty = parseDecimalOrZero(qtyStr)
		rec.Timestamp = time.Unix(tsUnix, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func parseDecimalOrZero(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
