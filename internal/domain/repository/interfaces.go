package repository

import (
	"context"
	"time"

	"PriceSheet/internal/domain/models"
)

// QuoteProvider looks up a raw quote record for one ticker.
// Implementations may be slow, fail transiently, or return partial records.
type QuoteProvider interface {
	Lookup(ctx context.Context, ticker models.Ticker) (models.QuoteRecord, error)
	Name() string
}

// Sheet is the spreadsheet the updater reads tickers from and writes prices to.
// Rows and columns are 1-based.
type Sheet interface {
	ReadRow(ctx context.Context, row int) ([]string, error)
	BatchWrite(ctx context.Context, updates []models.CellUpdate) error
	WriteCell(ctx context.Context, row, col int, value any) error
	Info(ctx context.Context) (*models.SheetInfo, error)
}

type PriceStorage interface {
	StoreBatch(ctx context.Context, snapshots []*models.PriceSnapshot) error
	Query(ctx context.Context, ticker models.Ticker, from, to time.Time, limit int) ([]*models.PriceSnapshot, error)
	Health(ctx context.Context) error
	Close() error
}

type PricePublisher interface {
	PublishCycle(ctx context.Context, report *models.CycleReport) error
	Close() error
}

type Metrics interface {
	RecordCycle(result string, seconds, successRatio float64)
	RecordPrice(ticker string, price float64)
	RecordPriceFailure(ticker string)
	RecordFetchAttempt(result string)
}
