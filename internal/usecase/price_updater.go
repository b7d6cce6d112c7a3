package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"PriceSheet/internal/domain/models"
	drepo "PriceSheet/internal/domain/repository"
	"PriceSheet/internal/service/pricing"
	"PriceSheet/pkg/logger"
	"PriceSheet/pkg/util"
)

var (
	ErrNoTickers      = errors.New("no tickers found in sheet")
	ErrNoValidTickers = errors.New("no valid tickers to process")
	ErrNoPrices       = errors.New("no prices were resolved")
	ErrCycleLocked    = errors.New("update lock held by another instance")
)

// PriceFetcher is what the updater needs from pricing.Fetcher.
type PriceFetcher interface {
	FetchMultiple(ctx context.Context, tickers []string) map[models.Ticker]pricing.Resolution
	FetchExchangeRate(ctx context.Context, pair string) (float64, bool)
	Source() string
}

// Locker serializes cycles across instances sharing one sheet.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// UpdaterOption configures PriceUpdater.
type UpdaterOption func(*UpdaterConfig)

// UpdaterConfig describes the sheet layout and the optional sinks.
type UpdaterConfig struct {
	TickerRow      int
	PriceRow       int
	TimestampCell  string
	ExchangeCell   string
	ExchangePair   string
	SkipTickers    map[string]struct{}
	PricePrecision int32
	Location       *time.Location
	Now            func() time.Time

	Locker  Locker
	LockKey string
	LockTTL time.Duration

	History   drepo.PriceStorage
	Publisher drepo.PricePublisher
}

// WithLayout sets the ticker and price rows and the timestamp and exchange
// rate cells. An empty exchange cell disables the exchange rate update.
func WithLayout(tickerRow, priceRow int, timestampCell, exchangeCell string) UpdaterOption {
	return func(c *UpdaterConfig) {
		c.TickerRow = tickerRow
		c.PriceRow = priceRow
		c.TimestampCell = timestampCell
		c.ExchangeCell = exchangeCell
	}
}

// WithSkipTickers excludes upper-cased symbols from every cycle.
func WithSkipTickers(skip map[string]struct{}) UpdaterOption {
	return func(c *UpdaterConfig) {
		c.SkipTickers = skip
	}
}

// WithExchangePair sets the currency pair written to the exchange cell.
func WithExchangePair(pair string) UpdaterOption {
	return func(c *UpdaterConfig) {
		c.ExchangePair = pair
	}
}

// WithPricePrecision rounds written prices to n decimal places.
func WithPricePrecision(n int32) UpdaterOption {
	return func(c *UpdaterConfig) {
		c.PricePrecision = n
	}
}

// WithLocation sets the zone used for the timestamp cell.
func WithLocation(loc *time.Location) UpdaterOption {
	return func(c *UpdaterConfig) {
		c.Location = loc
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) UpdaterOption {
	return func(c *UpdaterConfig) {
		c.Now = now
	}
}

// WithLock makes each cycle take key for ttl before touching the sheet.
func WithLock(l Locker, key string, ttl time.Duration) UpdaterOption {
	return func(c *UpdaterConfig) {
		c.Locker = l
		c.LockKey = key
		c.LockTTL = ttl
	}
}

// WithHistory appends resolved prices to s after each successful cycle.
func WithHistory(s drepo.PriceStorage) UpdaterOption {
	return func(c *UpdaterConfig) {
		c.History = s
	}
}

// WithPublisher emits resolved prices to p after each successful cycle.
func WithPublisher(p drepo.PricePublisher) UpdaterOption {
	return func(c *UpdaterConfig) {
		c.Publisher = p
	}
}

// PriceUpdater runs one read-fetch-write cycle against the sheet.
type PriceUpdater struct {
	sheet   drepo.Sheet
	fetcher PriceFetcher
	metrics drepo.Metrics
	log     *logger.Logger
	cfg     UpdaterConfig

	tsRow, tsCol int
	exRow, exCol int
}

// NewPriceUpdater validates the layout and returns an updater.
func NewPriceUpdater(sheet drepo.Sheet, fetcher PriceFetcher, metrics drepo.Metrics, log *logger.Logger, opts ...UpdaterOption) (*PriceUpdater, error) {
	cfg := UpdaterConfig{
		TickerRow:      1,
		PriceRow:       3,
		TimestampCell:  "A1",
		ExchangeCell:   "A100",
		ExchangePair:   "CAD=X",
		PricePrecision: 2,
		Location:       time.Local,
		Now:            time.Now,
		LockKey:        "pricesheet:cycle",
		LockTTL:        5 * time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TickerRow < 1 || cfg.PriceRow < 1 || cfg.TickerRow == cfg.PriceRow {
		return nil, fmt.Errorf("invalid layout: ticker row %d, price row %d", cfg.TickerRow, cfg.PriceRow)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}

	u := &PriceUpdater{sheet: sheet, fetcher: fetcher, metrics: metrics, log: log, cfg: cfg}
	var err error
	if u.tsRow, u.tsCol, err = util.ParseCellAddress(cfg.TimestampCell); err != nil {
		return nil, fmt.Errorf("timestamp cell: %w", err)
	}
	if cfg.ExchangeCell != "" {
		if u.exRow, u.exCol, err = util.ParseCellAddress(cfg.ExchangeCell); err != nil {
			return nil, fmt.Errorf("exchange cell: %w", err)
		}
	}
	return u, nil
}

// RunCycle performs one update. The returned report is never nil; it is
// filled as far as the cycle got. Partial price failures still succeed.
func (u *PriceUpdater) RunCycle(ctx context.Context, forced bool) (*models.CycleReport, error) {
	report := &models.CycleReport{
		StartedAt: u.cfg.Now(),
		Forced:    forced,
		Prices:    map[models.Ticker]float64{},
	}
	u.log.Info("starting update cycle", logger.Bool("forced", forced))

	err := u.runLocked(ctx, report)

	report.FinishedAt = u.cfg.Now()
	report.Success = err == nil
	if err != nil {
		report.Error = err.Error()
	}
	u.recordCycle(report, err)
	return report, err
}

func (u *PriceUpdater) runLocked(ctx context.Context, report *models.CycleReport) error {
	if u.cfg.Locker == nil {
		return u.cycle(ctx, report)
	}
	ok, err := u.cfg.Locker.TryLock(ctx, u.cfg.LockKey, u.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire update lock: %w", err)
	}
	if !ok {
		return ErrCycleLocked
	}
	defer func() {
		// release even if ctx was cancelled mid-cycle
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := u.cfg.Locker.Unlock(unlockCtx, u.cfg.LockKey); err != nil {
			u.log.Warn("release update lock failed", logger.Error(err))
		}
	}()
	return u.cycle(ctx, report)
}

func (u *PriceUpdater) cycle(ctx context.Context, report *models.CycleReport) error {
	row, err := u.sheet.ReadRow(ctx, u.cfg.TickerRow)
	if err != nil {
		return fmt.Errorf("read tickers: %w", err)
	}

	order, columns, total := u.tickerColumns(row)
	if total == 0 {
		u.log.Warn("no tickers found in spreadsheet", logger.Int("row", u.cfg.TickerRow))
		return ErrNoTickers
	}
	if len(columns) == 0 {
		u.log.Warn("no valid tickers to process", logger.Int("found", total))
		return ErrNoValidTickers
	}

	tickers := make([]string, len(order))
	for i, t := range order {
		tickers[i] = t.String()
	}
	report.Requested = len(tickers)
	u.log.Info("processing tickers", logger.Int("valid", len(tickers)), logger.Int("found", total))

	results := u.fetcher.FetchMultiple(ctx, tickers)
	if err := ctx.Err(); err != nil {
		return err
	}

	var updates []models.CellUpdate
	for t, r := range results {
		if !r.Resolved {
			report.Failed = append(report.Failed, t)
			continue
		}
		price := u.round(r.Price)
		report.Prices[t] = price
		for _, col := range columns[t] {
			updates = append(updates, models.CellUpdate{Row: u.cfg.PriceRow, Col: col, Value: price})
		}
	}
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i] < report.Failed[j] })
	if len(report.Failed) > 0 {
		u.log.Warn("failed to fetch prices", logger.Any("tickers", report.Failed))
	}
	if len(report.Prices) == 0 {
		u.log.Error("no prices were successfully fetched", logger.Int("requested", report.Requested))
		return ErrNoPrices
	}

	if err := u.sheet.BatchWrite(ctx, updates); err != nil {
		return fmt.Errorf("write prices: %w", err)
	}
	u.log.Info("updated prices", logger.Int("cells", len(updates)))

	u.writeExchangeRate(ctx, report)
	u.writeTimestamp(ctx)
	u.fanOut(ctx, report)

	u.log.Info("update cycle completed",
		logger.Int("resolved", len(report.Prices)),
		logger.Int("requested", report.Requested),
		logger.String("success_rate", fmt.Sprintf("%.1f%%", report.SuccessRate())),
	)
	return nil
}

// tickerColumns maps each usable ticker to the 1-based columns it occupies.
// order lists distinct tickers left to right; total counts non-blank cells
// before filtering.
func (u *PriceUpdater) tickerColumns(row []string) (order []models.Ticker, out map[models.Ticker][]int, total int) {
	out = make(map[models.Ticker][]int)
	for i, raw := range row {
		t := models.NormalizeTicker(raw)
		if !t.IsValid() {
			continue
		}
		total++
		if strings.Contains(t.String(), "@") {
			continue
		}
		if _, skip := u.cfg.SkipTickers[t.String()]; skip {
			u.log.Debug("skipping ticker", logger.String("ticker", t.String()))
			continue
		}
		if _, seen := out[t]; !seen {
			order = append(order, t)
		}
		out[t] = append(out[t], i+1)
	}
	return order, out, total
}

func (u *PriceUpdater) writeExchangeRate(ctx context.Context, report *models.CycleReport) {
	if u.cfg.ExchangeCell == "" || u.cfg.ExchangePair == "" {
		return
	}
	rate, ok := u.fetcher.FetchExchangeRate(ctx, u.cfg.ExchangePair)
	if !ok {
		u.log.Warn("failed to fetch exchange rate", logger.String("pair", u.cfg.ExchangePair))
		return
	}
	if err := u.sheet.WriteCell(ctx, u.exRow, u.exCol, rate); err != nil {
		u.log.Warn("failed to write exchange rate", logger.String("cell", u.cfg.ExchangeCell), logger.Error(err))
		return
	}
	report.ExchangeRate = &rate
	u.log.Info("updated exchange rate", logger.String("pair", u.cfg.ExchangePair), logger.Float64("rate", rate))
}

func (u *PriceUpdater) writeTimestamp(ctx context.Context) {
	stamp := util.FormatSheetTimestamp(u.cfg.Now().In(u.cfg.Location))
	if err := u.sheet.WriteCell(ctx, u.tsRow, u.tsCol, stamp); err != nil {
		u.log.Warn("failed to update timestamp", logger.String("cell", u.cfg.TimestampCell), logger.Error(err))
		return
	}
	u.log.Debug("updated timestamp", logger.String("value", stamp))
}

// fanOut hands the cycle to the optional sinks. Their failures never fail
// the cycle.
func (u *PriceUpdater) fanOut(ctx context.Context, report *models.CycleReport) {
	if u.cfg.History != nil {
		if err := u.cfg.History.StoreBatch(ctx, report.Snapshots(u.fetcher.Source())); err != nil {
			u.log.Warn("store price history failed", logger.Error(err))
		}
	}
	if u.cfg.Publisher != nil {
		if err := u.cfg.Publisher.PublishCycle(ctx, report); err != nil {
			u.log.Warn("publish prices failed", logger.Error(err))
		}
	}
}

func (u *PriceUpdater) round(p float64) float64 {
	return decimal.NewFromFloat(p).Round(u.cfg.PricePrecision).InexactFloat64()
}

func (u *PriceUpdater) recordCycle(report *models.CycleReport, err error) {
	if u.metrics == nil {
		return
	}
	result := "success"
	switch {
	case errors.Is(err, ErrCycleLocked):
		result = "skipped"
	case err != nil:
		result = "failed"
	}
	u.metrics.RecordCycle(result, report.Duration().Seconds(), report.SuccessRate()/100)
}
