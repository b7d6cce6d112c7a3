package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"PriceSheet/internal/domain/models"
	drepo "PriceSheet/internal/domain/repository"
	"PriceSheet/pkg/logger"
)

// sqlDB is the part of *sql.DB the history store needs.
type sqlDB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PingContext(ctx context.Context) error
}

const historyChunkSize = 2000

// PriceHistory appends resolved prices to a ClickHouse MergeTree table.
type PriceHistory struct {
	db    sqlDB
	table string
	log   *logger.Logger
}

// NewPriceHistory returns a PriceStorage writing to table.
func NewPriceHistory(db sqlDB, table string, log *logger.Logger) drepo.PriceStorage {
	if log == nil {
		log = logger.Nop()
	}
	return &PriceHistory{db: db, table: table, log: log}
}

// HistorySchema returns the DDL for the history table.
func HistorySchema(table string) []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    ts         DateTime64(3, 'UTC'),
    ticker     LowCardinality(String),
    price      Float64,
    source     LowCardinality(String)
) ENGINE = MergeTree
PARTITION BY toYYYYMM(ts)
ORDER BY (ticker, ts)`, table)}
}

// StoreBatch inserts snapshots with multi-row VALUES, chunked.
func (s *PriceHistory) StoreBatch(ctx context.Context, snapshots []*models.PriceSnapshot) error {
	for start := 0; start < len(snapshots); start += historyChunkSize {
		end := start + historyChunkSize
		if end > len(snapshots) {
			end = len(snapshots)
		}

		values := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*4)
		for _, p := range snapshots[start:end] {
			if p == nil || !p.Ticker.IsValid() || p.Price <= 0 {
				continue
			}
			values = append(values, "(?, ?, ?, ?)")
			args = append(args, p.FetchedAt.UTC(), p.Ticker.String(), p.Price, p.Source)
		}
		if len(values) == 0 {
			continue
		}

		q := fmt.Sprintf("INSERT INTO %s (ts, ticker, price, source) VALUES %s", s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.log.Error("price history insert failed",
				logger.String("table", s.table),
				logger.Int("rows", len(values)),
				logger.Error(err),
			)
			return fmt.Errorf("store price history: %w", err)
		}
	}
	return nil
}

// Query returns up to limit snapshots for ticker in [from, to], newest first.
func (s *PriceHistory) Query(ctx context.Context, ticker models.Ticker, from, to time.Time, limit int) ([]*models.PriceSnapshot, error) {
	q := fmt.Sprintf("SELECT ticker, price, source, ts FROM %s WHERE ticker = ? AND ts >= ? AND ts <= ? ORDER BY ts DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, ticker.String(), from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()

	var out []*models.PriceSnapshot
	for rows.Next() {
		var (
			p      models.PriceSnapshot
			ticker string
		)
		if err := rows.Scan(&ticker, &p.Price, &p.Source, &p.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan price history: %w", err)
		}
		p.Ticker = models.Ticker(ticker)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *PriceHistory) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to pkg/clickhouse.
func (s *PriceHistory) Close() error {
	return nil
}
