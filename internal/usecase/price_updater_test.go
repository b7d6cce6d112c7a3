package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceSheet/internal/domain/models"
	drepo "PriceSheet/internal/domain/repository"
	"PriceSheet/internal/repository"
	"PriceSheet/internal/service/pricing"
)

type fakeFetcher struct {
	prices    map[string]float64
	rate      float64
	requested []string
}

func (f *fakeFetcher) FetchMultiple(_ context.Context, tickers []string) map[models.Ticker]pricing.Resolution {
	f.requested = append(f.requested, tickers...)
	out := make(map[models.Ticker]pricing.Resolution, len(tickers))
	for _, raw := range tickers {
		t := models.NormalizeTicker(raw)
		p, ok := f.prices[t.String()]
		out[t] = pricing.Resolution{Price: p, Resolved: ok, Attempts: 1}
	}
	return out
}

func (f *fakeFetcher) FetchExchangeRate(context.Context, string) (float64, bool) {
	return f.rate, f.rate > 0
}

func (f *fakeFetcher) Source() string { return "fake" }

type fakeMetrics struct {
	mu     sync.Mutex
	cycles []string
	ratio  float64
}

func (m *fakeMetrics) RecordCycle(result string, _ float64, ratio float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, result)
	m.ratio = ratio
}
func (m *fakeMetrics) RecordPrice(string, float64) {}
func (m *fakeMetrics) RecordPriceFailure(string)   {}
func (m *fakeMetrics) RecordFetchAttempt(string)   {}

type fakeHistory struct {
	stored []*models.PriceSnapshot
}

func (h *fakeHistory) StoreBatch(_ context.Context, s []*models.PriceSnapshot) error {
	h.stored = append(h.stored, s...)
	return nil
}
func (h *fakeHistory) Query(context.Context, models.Ticker, time.Time, time.Time, int) ([]*models.PriceSnapshot, error) {
	return nil, nil
}
func (h *fakeHistory) Health(context.Context) error { return nil }
func (h *fakeHistory) Close() error                 { return nil }

type fakePublisher struct {
	reports []*models.CycleReport
	err     error
}

func (p *fakePublisher) PublishCycle(_ context.Context, r *models.CycleReport) error {
	p.reports = append(p.reports, r)
	return p.err
}
func (p *fakePublisher) Close() error { return nil }

type fakeLocker struct {
	held     bool
	unlocked int
}

func (l *fakeLocker) TryLock(context.Context, string, time.Duration) (bool, error) {
	return !l.held, nil
}
func (l *fakeLocker) Unlock(context.Context, string) error {
	l.unlocked++
	return nil
}

var cycleTime = time.Date(2024, 3, 12, 14, 5, 0, 0, time.UTC)

func newUpdater(t *testing.T, sheet *repository.MemorySheet, f *fakeFetcher, m *fakeMetrics, opts ...UpdaterOption) *PriceUpdater {
	t.Helper()
	base := []UpdaterOption{
		WithClock(func() time.Time { return cycleTime }),
		WithLocation(time.UTC),
		WithSkipTickers(map[string]struct{}{"CASH": {}}),
	}
	var metrics drepo.Metrics
	if m != nil {
		metrics = m
	}
	u, err := NewPriceUpdater(sheet, f, metrics, nil, append(base, opts...)...)
	require.NoError(t, err)
	return u
}

func cell(t *testing.T, s *repository.MemorySheet, addr string) any {
	t.Helper()
	v, ok := s.Cell(addr)
	require.True(t, ok, "cell %s not written", addr)
	return v
}

func TestRunCycleWritesPricesRateAndTimestamp(t *testing.T) {
	sheet := repository.NewMemorySheet("Prices")
	sheet.SetRow(1, "Last updated", " aapl ", "", "MSFT", "CASH", "a@b", "BAD", "AAPL")
	f := &fakeFetcher{prices: map[string]float64{"AAPL": 190.456, "MSFT": 410.1}, rate: 1.3601}
	m := &fakeMetrics{}

	report, err := newUpdater(t, sheet, f, m).RunCycle(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"LAST UPDATED", "AAPL", "MSFT", "BAD"}, f.requested)
	assert.Equal(t, 190.46, cell(t, sheet, "B3"))
	assert.Equal(t, 410.1, cell(t, sheet, "D3"))
	assert.Equal(t, 190.46, cell(t, sheet, "H3"), "duplicate column gets the same price")
	_, wrote := sheet.Cell("E3")
	assert.False(t, wrote, "skipped ticker must not be written")
	_, wrote = sheet.Cell("G3")
	assert.False(t, wrote, "unresolved ticker must not be written")

	assert.Equal(t, 1.3601, cell(t, sheet, "A100"))
	assert.Equal(t, "02:05PM @ 2024-03-12", cell(t, sheet, "A1"))

	assert.True(t, report.Success)
	assert.Equal(t, 4, report.Requested)
	assert.Equal(t, []models.Ticker{"BAD", "LAST UPDATED"}, report.Failed)
	assert.Equal(t, map[models.Ticker]float64{"AAPL": 190.46, "MSFT": 410.1}, report.Prices)
	require.NotNil(t, report.ExchangeRate)
	assert.Equal(t, 50.0, report.SuccessRate())
	assert.Equal(t, []string{"success"}, m.cycles)
	assert.Equal(t, 0.5, m.ratio)
}

func TestRunCycleSentinelErrors(t *testing.T) {
	cases := []struct {
		name string
		row  []any
		want error
	}{
		{"empty row", nil, ErrNoTickers},
		{"blank cells", []any{"", "  "}, ErrNoTickers},
		{"all filtered", []any{"CASH", "x@y"}, ErrNoValidTickers},
		{"nothing resolves", []any{"NOPE"}, ErrNoPrices},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sheet := repository.NewMemorySheet("Prices")
			sheet.SetRow(1, tc.row...)
			m := &fakeMetrics{}

			report, err := newUpdater(t, sheet, &fakeFetcher{}, m).RunCycle(context.Background(), false)
			assert.ErrorIs(t, err, tc.want)
			require.NotNil(t, report)
			assert.False(t, report.Success)
			assert.Equal(t, tc.want.Error(), report.Error)
			assert.Equal(t, []string{"failed"}, m.cycles)
			v, _ := sheet.Cell("A1")
			assert.NotEqual(t, "02:05PM @ 2024-03-12", v, "timestamp only follows a successful price write")
		})
	}
}

func TestRunCycleMissingRateOnlyWarns(t *testing.T) {
	sheet := repository.NewMemorySheet("Prices")
	sheet.SetRow(1, "AAPL")
	f := &fakeFetcher{prices: map[string]float64{"AAPL": 1}}

	report, err := newUpdater(t, sheet, f, nil).RunCycle(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, report.ExchangeRate)
	_, wrote := sheet.Cell("A100")
	assert.False(t, wrote)
}

func TestRunCycleFansOutToSinks(t *testing.T) {
	sheet := repository.NewMemorySheet("Prices")
	sheet.SetRow(1, "AAPL", "MSFT")
	f := &fakeFetcher{prices: map[string]float64{"AAPL": 1.5, "MSFT": 2.5}}
	h := &fakeHistory{}
	p := &fakePublisher{err: errors.New("broker down")}

	report, err := newUpdater(t, sheet, f, nil, WithHistory(h), WithPublisher(p)).RunCycle(context.Background(), true)
	require.NoError(t, err, "sink failures must not fail the cycle")

	require.Len(t, h.stored, 2)
	assert.Equal(t, models.Ticker("AAPL"), h.stored[0].Ticker)
	assert.Equal(t, "fake", h.stored[0].Source)
	assert.Equal(t, cycleTime, h.stored[0].FetchedAt)
	require.Len(t, p.reports, 1)
	assert.True(t, p.reports[0].Forced)
	assert.Same(t, report, p.reports[0])
}

func TestRunCycleRespectsLock(t *testing.T) {
	sheet := repository.NewMemorySheet("Prices")
	sheet.SetRow(1, "AAPL")
	f := &fakeFetcher{prices: map[string]float64{"AAPL": 1}}
	m := &fakeMetrics{}

	held := &fakeLocker{held: true}
	_, err := newUpdater(t, sheet, f, m, WithLock(held, "k", time.Minute)).RunCycle(context.Background(), false)
	assert.ErrorIs(t, err, ErrCycleLocked)
	assert.Empty(t, f.requested)
	assert.Equal(t, []string{"skipped"}, m.cycles)

	free := &fakeLocker{}
	_, err = newUpdater(t, sheet, f, m, WithLock(free, "k", time.Minute)).RunCycle(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, free.unlocked)
}

func TestNewPriceUpdaterValidatesLayout(t *testing.T) {
	sheet := repository.NewMemorySheet("x")
	_, err := NewPriceUpdater(sheet, &fakeFetcher{}, nil, nil, WithLayout(1, 1, "A1", "A100"))
	assert.Error(t, err)
	_, err = NewPriceUpdater(sheet, &fakeFetcher{}, nil, nil, WithLayout(1, 3, "1A", "A100"))
	assert.Error(t, err)
	_, err = NewPriceUpdater(sheet, &fakeFetcher{}, nil, nil, WithLayout(1, 3, "A1", ""))
	assert.NoError(t, err)
}
