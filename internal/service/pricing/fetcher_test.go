package pricing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceSheet/internal/domain/models"
)

type lookupResult struct {
	record models.QuoteRecord
	err    error
}

// scriptedProvider replays results per ticker; the last result repeats.
type scriptedProvider struct {
	mu     sync.Mutex
	script map[models.Ticker][]lookupResult
	calls  map[models.Ticker]int
}

func newScriptedProvider(script map[models.Ticker][]lookupResult) *scriptedProvider {
	return &scriptedProvider{script: script, calls: make(map[models.Ticker]int)}
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Lookup(_ context.Context, t models.Ticker) (models.QuoteRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.calls[t]
	p.calls[t] = n + 1
	steps := p.script[t]
	if len(steps) == 0 {
		return nil, errors.New("unknown ticker")
	}
	if n >= len(steps) {
		n = len(steps) - 1
	}
	return steps[n].record, steps[n].err
}

func (p *scriptedProvider) callCount(t models.Ticker) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[t]
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	prices   map[string]float64
	failures []string
	attempts map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{prices: map[string]float64{}, attempts: map[string]int{}}
}

func (m *fakeMetrics) RecordCycle(string, float64, float64) {}

func (m *fakeMetrics) RecordPrice(t string, p float64) {
	m.mu.Lock()
	m.prices[t] = p
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordPriceFailure(t string) {
	m.mu.Lock()
	m.failures = append(m.failures, t)
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordFetchAttempt(result string) {
	m.mu.Lock()
	m.attempts[result]++
	m.mu.Unlock()
}

var errTransient = errors.New("transient")

func TestFetchPriceSucceedsOnThirdAttempt(t *testing.T) {
	p := newScriptedProvider(map[models.Ticker][]lookupResult{
		"AAPL": {
			{err: errTransient},
			{err: errTransient},
			{record: models.QuoteRecord{"currentPrice": 190.25}},
		},
	})
	s := &sleepRecorder{}
	f := NewFetcher(p, nil, nil, WithRetry(3, 2*time.Second), WithSleeper(s.sleep))

	price, ok := f.FetchPrice(context.Background(), "AAPL")

	require.True(t, ok)
	assert.Equal(t, 190.25, price)
	assert.Equal(t, 3, p.callCount("AAPL"))
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, s.delays)
}

func TestFetchPriceExhaustsRetries(t *testing.T) {
	p := newScriptedProvider(map[models.Ticker][]lookupResult{
		"BAD": {{err: errTransient}},
	})
	s := &sleepRecorder{}
	m := newFakeMetrics()
	f := NewFetcher(p, m, nil, WithRetry(3, time.Second), WithSleeper(s.sleep))

	_, ok := f.FetchPrice(context.Background(), "bad")

	assert.False(t, ok)
	assert.Equal(t, 3, p.callCount("BAD"))
	assert.Len(t, s.delays, 2)
	assert.Equal(t, 3, m.attempts["failed"])
}

func TestFetchPriceTreatsEmptyAndUnresolvableAsFailures(t *testing.T) {
	p := newScriptedProvider(map[models.Ticker][]lookupResult{
		"XYZ": {
			{record: models.QuoteRecord{}},
			{record: models.QuoteRecord{"currentPrice": 0, "bid": 10}},
			{record: models.QuoteRecord{"bid": 10, "ask": 12}},
		},
	})
	s := &sleepRecorder{}
	f := NewFetcher(p, nil, nil, WithRetry(3, time.Millisecond), WithSleeper(s.sleep))

	price, ok := f.FetchPrice(context.Background(), "XYZ")

	require.True(t, ok)
	assert.Equal(t, 11.0, price)
	assert.Len(t, s.delays, 2)
}

func TestFetchPriceShortCircuitsOnFirstSuccess(t *testing.T) {
	p := newScriptedProvider(map[models.Ticker][]lookupResult{
		"MSFT": {{record: models.QuoteRecord{"regularMarketPrice": 410.0}}},
	})
	s := &sleepRecorder{}
	f := NewFetcher(p, nil, nil, WithRetry(5, time.Second), WithSleeper(s.sleep))

	price, ok := f.FetchPrice(context.Background(), "MSFT")

	require.True(t, ok)
	assert.Equal(t, 410.0, price)
	assert.Equal(t, 1, p.callCount("MSFT"))
	assert.Empty(t, s.delays)
}

func TestFetchPriceBlankTickerSkipsLookup(t *testing.T) {
	p := newScriptedProvider(nil)
	s := &sleepRecorder{}
	m := newFakeMetrics()
	f := NewFetcher(p, m, nil, WithRetry(3, time.Second), WithSleeper(s.sleep))

	_, ok := f.FetchPrice(context.Background(), "   ")

	assert.False(t, ok)
	assert.Empty(t, p.calls)
	assert.Empty(t, s.delays)
	assert.Empty(t, m.attempts)
}

func TestFetchPriceNormalizesTicker(t *testing.T) {
	p := newScriptedProvider(map[models.Ticker][]lookupResult{
		"AAPL": {{record: models.QuoteRecord{"currentPrice": 1.0}}},
	})
	f := NewFetcher(p, nil, nil, WithSleeper((&sleepRecorder{}).sleep))

	_, ok1 := f.FetchPrice(context.Background(), "  aapl  ")
	_, ok2 := f.FetchPrice(context.Background(), "AAPL")

	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.Equal(t, 2, p.callCount("AAPL"))
}

func TestFetchPriceStopsWhenContextCancelled(t *testing.T) {
	p := newScriptedProvider(map[models.Ticker][]lookupResult{
		"AAPL": {{err: errTransient}},
	})
	ctx, cancel := context.WithCancel(context.Background())
	sleeps := 0
	sleeper := func(ctx context.Context, _ time.Duration) error {
		sleeps++
		cancel()
		return ctx.Err()
	}
	f := NewFetcher(p, nil, nil, WithRetry(5, time.Hour), WithSleeper(sleeper))

	_, ok := f.FetchPrice(ctx, "AAPL")

	assert.False(t, ok)
	assert.Equal(t, 1, p.callCount("AAPL"))
	assert.Equal(t, 1, sleeps)
}

func TestFetchMultipleIsolatesFailuresAndCollapsesDuplicates(t *testing.T) {
	for _, workers := range []int{1, 4} {
		p := newScriptedProvider(map[models.Ticker][]lookupResult{
			"AAPL": {{record: models.QuoteRecord{"currentPrice": 190.0}}},
			"DEAD": {{err: errTransient}},
			"SHOP": {{record: models.QuoteRecord{"bid": 99.0, "ask": 101.0}}},
		})
		m := newFakeMetrics()
		f := NewFetcher(p, m, nil, WithRetry(2, time.Second), WithConcurrency(workers), WithSleeper((&sleepRecorder{}).sleep))

		got := f.FetchMultiple(context.Background(), []string{"aapl", "DEAD", " AAPL ", "shop"})

		require.Len(t, got, 3, "workers=%d", workers)
		assert.True(t, got["AAPL"].Resolved)
		assert.Equal(t, 190.0, got["AAPL"].Price)
		assert.False(t, got["DEAD"].Resolved)
		assert.Equal(t, 2, got["DEAD"].Attempts)
		assert.Equal(t, 100.0, got["SHOP"].Price)
		assert.Equal(t, 1, p.callCount("AAPL"), "duplicates are fetched once")
		assert.Equal(t, []string{"DEAD"}, m.failures)
		assert.Equal(t, 190.0, m.prices["AAPL"])
	}
}

func TestFetchPriceSkipsLookupOnCancelledContext(t *testing.T) {
	p := newScriptedProvider(map[models.Ticker][]lookupResult{
		"AAPL": {{record: models.QuoteRecord{"currentPrice": 190.0}}},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := NewFetcher(p, nil, nil)

	_, ok := f.FetchPrice(ctx, "AAPL")

	assert.False(t, ok)
	assert.Zero(t, p.callCount("AAPL"))
}

// cancellingProvider cancels the cycle on its first lookup and holds the
// worker until the cancellation lands.
type cancellingProvider struct {
	cancel context.CancelFunc
	mu     sync.Mutex
	calls  int
}

func (p *cancellingProvider) Name() string { return "cancelling" }

func (p *cancellingProvider) Lookup(ctx context.Context, _ models.Ticker) (models.QuoteRecord, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	p.cancel()
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFetchMultipleConcurrentStopsLookupsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &cancellingProvider{cancel: cancel}
	f := NewFetcher(p, nil, nil, WithRetry(3, time.Second), WithConcurrency(2), WithSleeper((&sleepRecorder{}).sleep))

	got := f.FetchMultiple(ctx, []string{"AAPL", "MSFT", "SHOP", "TD", "RY"})

	require.Len(t, got, 5)
	for ticker, r := range got {
		assert.False(t, r.Resolved, ticker.String())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	assert.LessOrEqual(t, p.calls, 2, "only tickers already holding a worker slot may look up")
}

func TestFetchExchangeRateUsesPreviousClose(t *testing.T) {
	p := newScriptedProvider(map[models.Ticker][]lookupResult{
		"CAD=X": {{record: models.QuoteRecord{"previousClose": 1.3625, "regularMarketPrice": 1.37}}},
		"EUR=X": {{record: models.QuoteRecord{"regularMarketPrice": 0.92}}},
	})
	f := NewFetcher(p, nil, nil)

	rate, ok := f.FetchExchangeRate(context.Background(), "cad=x")
	require.True(t, ok)
	assert.Equal(t, 1.3625, rate)

	_, ok = f.FetchExchangeRate(context.Background(), "EUR=X")
	assert.False(t, ok)
	assert.Equal(t, 1, p.callCount("EUR=X"), "exchange rate is a single attempt")
}
