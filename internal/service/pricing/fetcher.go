package pricing

import (
	"context"
	"sync"
	"time"

	"PriceSheet/internal/domain/models"
	drepo "PriceSheet/internal/domain/repository"
	"PriceSheet/pkg/logger"
	"PriceSheet/pkg/util"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// FetcherOption configures Fetcher.
type FetcherOption func(*FetcherConfig)

// FetcherConfig holds retry settings.
type FetcherConfig struct {
	MaxRetries  int
	RetryDelay  time.Duration
	Concurrency int
	Sleep       Sleeper
}

// WithRetry sets the attempt budget per ticker and the pause between attempts.
func WithRetry(maxRetries int, delay time.Duration) FetcherOption {
	return func(c *FetcherConfig) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithConcurrency resolves up to n tickers in parallel in FetchMultiple.
func WithConcurrency(n int) FetcherOption {
	return func(c *FetcherConfig) {
		c.Concurrency = n
	}
}

// WithSleeper replaces the inter-attempt wait.
func WithSleeper(s Sleeper) FetcherOption {
	return func(c *FetcherConfig) {
		c.Sleep = s
	}
}

// Resolution is the outcome of resolving one ticker.
type Resolution struct {
	Price    float64
	Resolved bool
	Attempts int
}

// Fetcher looks up quotes with bounded retries and resolves them to prices.
type Fetcher struct {
	provider drepo.QuoteProvider
	metrics  drepo.Metrics
	log      *logger.Logger
	cfg      FetcherConfig
}

// NewFetcher creates a Fetcher over provider.
func NewFetcher(provider drepo.QuoteProvider, metrics drepo.Metrics, log *logger.Logger, opts ...FetcherOption) *Fetcher {
	cfg := FetcherConfig{
		MaxRetries:  3,
		RetryDelay:  5 * time.Second,
		Concurrency: 1,
		Sleep:       util.SleepContext,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Sleep == nil {
		cfg.Sleep = util.SleepContext
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Fetcher{provider: provider, metrics: metrics, log: log, cfg: cfg}
}

// Source names the underlying quote provider.
func (f *Fetcher) Source() string { return f.provider.Name() }

// FetchPrice resolves a single ticker. Blank tickers return immediately.
func (f *Fetcher) FetchPrice(ctx context.Context, ticker string) (float64, bool) {
	r := f.fetch(ctx, models.NormalizeTicker(ticker))
	return r.Price, r.Resolved
}

func (f *Fetcher) fetch(ctx context.Context, t models.Ticker) Resolution {
	if !t.IsValid() {
		f.log.Warn("empty ticker symbol provided")
		return Resolution{}
	}
	f.log.Debug("fetching price", logger.String("ticker", t.String()))

	var res Resolution
	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			f.log.Warn("lookup abandoned", logger.String("ticker", t.String()), logger.Error(err))
			return res
		}
		res.Attempts = attempt
		if price, ok := f.attempt(ctx, t, attempt); ok {
			f.recordAttempt("ok")
			res.Price, res.Resolved = price, true
			f.log.Debug("price resolved",
				logger.String("ticker", t.String()),
				logger.Float64("price", price),
				logger.Int("attempt", attempt),
			)
			return res
		}
		f.recordAttempt("failed")

		if attempt == f.cfg.MaxRetries {
			break
		}
		f.log.Debug("retrying lookup",
			logger.String("ticker", t.String()),
			logger.Duration("delay_ms", f.cfg.RetryDelay),
		)
		if err := f.cfg.Sleep(ctx, f.cfg.RetryDelay); err != nil {
			f.log.Warn("retry wait interrupted", logger.String("ticker", t.String()), logger.Error(err))
			return res
		}
	}

	f.log.Error("failed to fetch price",
		logger.String("ticker", t.String()),
		logger.Int("attempts", res.Attempts),
	)
	return res
}

func (f *Fetcher) attempt(ctx context.Context, t models.Ticker, attempt int) (float64, bool) {
	record, err := f.provider.Lookup(ctx, t)
	if err != nil {
		f.log.Error("quote lookup failed",
			logger.String("ticker", t.String()),
			logger.Int("attempt", attempt),
			logger.Error(err),
		)
		return 0, false
	}
	if record.IsEmpty() {
		f.log.Warn("no quote data returned", logger.String("ticker", t.String()), logger.Int("attempt", attempt))
		return 0, false
	}
	price, ok := Resolve(record)
	if !ok {
		f.log.Warn("no valid price in quote", logger.String("ticker", t.String()), logger.Int("attempt", attempt))
		return 0, false
	}
	return price, true
}

// FetchMultiple resolves every distinct normalized ticker once.
// The result has one entry per distinct ticker, resolved or not.
func (f *Fetcher) FetchMultiple(ctx context.Context, tickers []string) map[models.Ticker]Resolution {
	f.log.Info("fetching prices", logger.Int("tickers", len(tickers)))

	unique := make([]models.Ticker, 0, len(tickers))
	seen := make(map[models.Ticker]struct{}, len(tickers))
	for _, raw := range tickers {
		t := models.NormalizeTicker(raw)
		if _, dup := seen[t]; dup {
			f.log.Debug("duplicate ticker collapsed", logger.String("ticker", t.String()))
			continue
		}
		seen[t] = struct{}{}
		unique = append(unique, t)
	}

	results := make(map[models.Ticker]Resolution, len(unique))
	if f.cfg.Concurrency == 1 || len(unique) < 2 {
		for _, t := range unique {
			if ctx.Err() != nil {
				results[t] = Resolution{}
				continue
			}
			results[t] = f.fetch(ctx, t)
		}
	} else {
		var (
			mu  sync.Mutex
			wg  sync.WaitGroup
			sem = make(chan struct{}, f.cfg.Concurrency)
		)
		for _, t := range unique {
			acquired := false
			select {
			case sem <- struct{}{}:
				acquired = true
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				if acquired {
					<-sem
				}
				mu.Lock()
				results[t] = Resolution{}
				mu.Unlock()
				continue
			}
			wg.Add(1)
			go func(t models.Ticker) {
				defer wg.Done()
				defer func() { <-sem }()
				r := f.fetch(ctx, t)
				mu.Lock()
				results[t] = r
				mu.Unlock()
			}(t)
		}
		wg.Wait()
	}

	resolved := 0
	for t, r := range results {
		if r.Resolved {
			resolved++
			if f.metrics != nil {
				f.metrics.RecordPrice(t.String(), r.Price)
			}
		} else if f.metrics != nil && t.IsValid() {
			f.metrics.RecordPriceFailure(t.String())
		}
	}
	f.log.Info("fetched prices",
		logger.Int("resolved", resolved),
		logger.Int("requested", len(results)),
	)
	return results
}

// FetchExchangeRate reads the previous close of a currency pair such as "CAD=X".
// It makes a single attempt.
func (f *Fetcher) FetchExchangeRate(ctx context.Context, pair string) (float64, bool) {
	t := models.NormalizeTicker(pair)
	if !t.IsValid() {
		return 0, false
	}
	record, err := f.provider.Lookup(ctx, t)
	if err != nil {
		f.log.Error("exchange rate lookup failed", logger.String("pair", t.String()), logger.Error(err))
		return 0, false
	}
	rate, ok := Field(record, models.FieldPreviousClose)
	if !ok {
		f.log.Warn("could not fetch exchange rate", logger.String("pair", t.String()))
		return 0, false
	}
	f.log.Debug("exchange rate", logger.String("pair", t.String()), logger.Float64("rate", rate))
	return rate, true
}

func (f *Fetcher) recordAttempt(result string) {
	if f.metrics != nil {
		f.metrics.RecordFetchAttempt(result)
	}
}
