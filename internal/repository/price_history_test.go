package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceSheet/internal/domain/models"
	pkgkafka "PriceSheet/pkg/kafka"
)

type execCall struct {
	query string
	args  []any
}

type fakeDB struct {
	execs []execCall
	err   error
}

func (f *fakeDB) ExecContext(_ context.Context, q string, args ...any) (sql.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.execs = append(f.execs, execCall{query: q, args: args})
	return driver.RowsAffected(len(args) / 4), nil
}

func (f *fakeDB) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) PingContext(context.Context) error { return f.err }

func TestPriceHistoryStoreBatch(t *testing.T) {
	db := &fakeDB{}
	h := NewPriceHistory(db, "price_history", nil)
	at := time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)

	err := h.StoreBatch(context.Background(), []*models.PriceSnapshot{
		{Ticker: "AAPL", Price: 190.5, Source: "yahoo", FetchedAt: at},
		nil,
		{Ticker: "", Price: 1, Source: "yahoo", FetchedAt: at},
		{Ticker: "MSFT", Price: 410.1, Source: "yahoo", FetchedAt: at},
	})
	require.NoError(t, err)

	require.Len(t, db.execs, 1)
	assert.True(t, strings.HasPrefix(db.execs[0].query, "INSERT INTO price_history (ts, ticker, price, source) VALUES (?, ?, ?, ?),(?, ?, ?, ?)"))
	assert.Equal(t, []any{at, "AAPL", 190.5, "yahoo", at, "MSFT", 410.1, "yahoo"}, db.execs[0].args)
}

func TestPriceHistoryChunks(t *testing.T) {
	db := &fakeDB{}
	h := NewPriceHistory(db, "t", nil)

	snaps := make([]*models.PriceSnapshot, historyChunkSize+1)
	for i := range snaps {
		snaps[i] = &models.PriceSnapshot{Ticker: "X", Price: 1, Source: "s"}
	}
	require.NoError(t, h.StoreBatch(context.Background(), snaps))
	assert.Len(t, db.execs, 2)
	assert.Len(t, db.execs[1].args, 4)
}

func TestPriceHistoryStoreError(t *testing.T) {
	h := NewPriceHistory(&fakeDB{err: errors.New("connection refused")}, "t", nil)
	err := h.StoreBatch(context.Background(), []*models.PriceSnapshot{{Ticker: "A", Price: 1}})
	assert.ErrorContains(t, err, "connection refused")
	assert.Error(t, h.Health(context.Background()))
}

func TestHistorySchemaNamesTable(t *testing.T) {
	stmts := HistorySchema("ph")
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS ph")
}

type fakeBatchPublisher struct {
	topic string
	msgs  []pkgkafka.Message
}

func (f *fakeBatchPublisher) PublishBatch(_ context.Context, topic string, msgs []pkgkafka.Message) error {
	f.topic = topic
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeBatchPublisher) Close() error { return nil }

func TestKafkaPricePublisherKeysByTicker(t *testing.T) {
	fp := &fakeBatchPublisher{}
	p := NewKafkaPricePublisher(fp, "pricesheet.cycles", "yahoo")
	at := time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)

	err := p.PublishCycle(context.Background(), &models.CycleReport{
		StartedAt: at,
		Forced:    true,
		Prices:    map[models.Ticker]float64{"MSFT": 410.1, "AAPL": 190.5},
	})
	require.NoError(t, err)

	assert.Equal(t, "pricesheet.cycles", fp.topic)
	require.Len(t, fp.msgs, 2)
	assert.Equal(t, []byte("AAPL"), fp.msgs[0].Key)
	assert.Equal(t, PriceEvent{Ticker: "AAPL", Price: 190.5, Source: "yahoo", Forced: true, FetchedAt: at}, fp.msgs[0].Value)
}

func TestKafkaPricePublisherSkipsEmptyCycle(t *testing.T) {
	fp := &fakeBatchPublisher{}
	p := NewKafkaPricePublisher(fp, "t", "yahoo")
	require.NoError(t, p.PublishCycle(context.Background(), &models.CycleReport{}))
	assert.Empty(t, fp.msgs)
}
