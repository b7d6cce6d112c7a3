package di

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"

	drepo "PriceSheet/internal/domain/repository"
	"PriceSheet/internal/handler/api"
	internalrepo "PriceSheet/internal/repository"
	icache "PriceSheet/internal/service/cache"
	"PriceSheet/internal/service/finnhub"
	"PriceSheet/internal/service/pricing"
	"PriceSheet/internal/service/ratelimit"
	"PriceSheet/internal/service/scheduler"
	"PriceSheet/internal/service/yahoo"
	"PriceSheet/internal/usecase"
	pkgcache "PriceSheet/pkg/cache"
	pkgch "PriceSheet/pkg/clickhouse"
	"PriceSheet/pkg/config"
	xhttp "PriceSheet/pkg/http"
	"PriceSheet/pkg/http/middleware"
	pkgkafka "PriceSheet/pkg/kafka"
	"PriceSheet/pkg/logger"
	"PriceSheet/pkg/metrics"
	"PriceSheet/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    cfg.Log.Output,
		Component: "pricesheet",
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() drepo.Metrics {
	return metrics.New(nil)
}

// ProvideCache creates the quote cache and lock store. It is nil for the
// "none" backend.
func ProvideCache(cfg *config.Config) (pkgcache.Service, func(), error) {
	newRedis := func() (*pkgcache.RedisCache, error) {
		return pkgcache.NewRedisCache(
			pkgcache.WithRedisAddr(cfg.Cache.RedisAddr),
			pkgcache.WithRedisPassword(cfg.Cache.RedisPassword),
			pkgcache.WithRedisDB(cfg.Cache.RedisDB),
			pkgcache.WithRedisPrefix(cfg.Cache.KeyPrefix),
		)
	}

	var store pkgcache.Service
	switch cfg.Cache.Backend {
	case "none":
		return nil, func() {}, nil
	case "redis":
		rc, err := newRedis()
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		store = rc
	case "layered":
		rc, err := newRedis()
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		store = pkgcache.NewLayeredCache(rc,
			pkgcache.WithLayeredMemorySize(cfg.Cache.MaxEntries),
			pkgcache.WithLayeredMemoryTTL(cfg.Cache.TTL),
		)
	default:
		store = pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(cfg.Cache.MaxEntries))
	}
	return store, func() { _ = store.Close() }, nil
}

// ProvideQuoteProvider builds the provider chain: cache, then rate limit,
// then the HTTP client.
func ProvideQuoteProvider(cfg *config.Config, store pkgcache.Service, log *logger.Logger) drepo.QuoteProvider {
	hc := xhttp.NewClient(
		xhttp.WithTimeout(cfg.Provider.Timeout),
		xhttp.WithHeader("User-Agent", cfg.Provider.UserAgent),
	)

	var p drepo.QuoteProvider
	switch cfg.Provider.Type {
	case "finnhub":
		p = finnhub.New(cfg.Provider.APIKey, cfg.Provider.FinnhubURL, hc)
	default:
		p = yahoo.New(cfg.Provider.YahooURL, hc)
	}
	if cfg.Provider.RatePerMinute > 0 {
		p = ratelimit.WrapProvider(p, ratelimit.New(cfg.Provider.RatePerMinute, cfg.Provider.Burst))
	}
	return icache.NewQuoteCache(p, store, cfg.Cache.TTL, log)
}

// ProvideFetcher creates the retrying price fetcher.
func ProvideFetcher(cfg *config.Config, provider drepo.QuoteProvider, m drepo.Metrics, log *logger.Logger) *pricing.Fetcher {
	return pricing.NewFetcher(provider, m, log,
		pricing.WithRetry(cfg.Fetch.MaxRetries, cfg.Fetch.RetryDelay),
		pricing.WithConcurrency(cfg.Fetch.Concurrency),
	)
}

// ProvideSheet opens the configured spreadsheet backend.
func ProvideSheet(cfg *config.Config, log *logger.Logger) (drepo.Sheet, error) {
	if cfg.Sheet.Backend == "memory" {
		return internalrepo.NewMemorySheet(cfg.Sheet.Worksheet), nil
	}
	sheet, err := internalrepo.NewGoogleSheet(context.Background(),
		cfg.Sheet.SpreadsheetID,
		cfg.Sheet.Worksheet,
		cfg.Sheet.CredentialsFile,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("google sheet: %w", err)
	}
	return sheet, nil
}

// ProvideHistory connects to ClickHouse and prepares the history table. It
// is nil when history is disabled.
func ProvideHistory(cfg *config.Config, log *logger.Logger) (drepo.PriceStorage, func(), error) {
	if !cfg.History.Enabled {
		return nil, func() {}, nil
	}
	hc := cfg.History

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddress(hc.Host, hc.Port),
		pkgch.WithDatabase(hc.Database),
		pkgch.WithCredentials(hc.User, hc.Password),
		pkgch.WithHTTP(hc.UseHTTP),
		pkgch.WithAsyncInsert(hc.AsyncInsert, true),
		pkgch.WithTimeouts(hc.DialTimeout, hc.ReadTimeout),
		pkgch.WithMaxExecutionTime(hc.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, internalrepo.HistorySchema(hc.Table)...); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	log.Info("price history ready", logger.String("database", client.Database()), logger.String("table", hc.Table))

	return internalrepo.NewPriceHistory(client.DB(), hc.Table, log), func() { _ = client.Close() }, nil
}

// ProvideKafkaProducer creates the producer shared by the cycle publisher
// and the error log collector. It is nil when neither is enabled.
func ProvideKafkaProducer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Publish.Enabled && !cfg.Log.CollectErrors {
		return nil, func() {}, nil
	}
	pc := cfg.Publish
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(pc.Brokers),
		pkgkafka.WithCompression(pc.Compression),
		pkgkafka.WithRequiredAcks(pc.RequiredAcks),
		pkgkafka.WithMaxAttempts(pc.MaxAttempts),
		pkgkafka.WithTimeouts(pc.WriteTimeout, pc.WriteTimeout),
		pkgkafka.WithAsync(pc.Async),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}

	if cfg.Log.CollectErrors {
		log.AddCollector(&logger.CollectionConfig{
			TimeInterval: cfg.Log.FlushInterval,
			Topic:        cfg.Log.CollectTopic,
			Publisher:    producer,
		})
	}
	return producer, func() {
		log.RemoveCollector()
		_ = producer.Close()
	}, nil
}

// ProvidePublisher creates the cycle publisher, or nil when disabled.
func ProvidePublisher(cfg *config.Config, producer *pkgkafka.Producer, fetcher *pricing.Fetcher) drepo.PricePublisher {
	if !cfg.Publish.Enabled || producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPricePublisher(producer, cfg.Publish.Topic, fetcher.Source())
}

// ProvideScheduler creates the market-hours scheduler.
func ProvideScheduler(cfg *config.Config, log *logger.Logger) (*scheduler.UpdateScheduler, error) {
	loc, err := cfg.Market.Location()
	if err != nil {
		return nil, err
	}
	return scheduler.New(scheduler.MarketWindow{
		OpenHour:        cfg.Market.OpenHour,
		CloseHour:       cfg.Market.CloseHour,
		IntervalMinutes: cfg.Market.IntervalMinutes,
		Location:        loc,
	}, log)
}

// ProvideUpdater creates the sheet update use case.
func ProvideUpdater(
	cfg *config.Config,
	sheet drepo.Sheet,
	fetcher *pricing.Fetcher,
	m drepo.Metrics,
	store pkgcache.Service,
	history drepo.PriceStorage,
	publisher drepo.PricePublisher,
	log *logger.Logger,
) (*usecase.PriceUpdater, error) {
	loc, err := cfg.Market.Location()
	if err != nil {
		return nil, err
	}
	sc := cfg.Sheet
	opts := []usecase.UpdaterOption{
		usecase.WithLayout(sc.TickerRow, sc.PriceRow, sc.TimestampCell, sc.ExchangeCell),
		usecase.WithSkipTickers(cfg.Fetch.SkipSet()),
		usecase.WithExchangePair(cfg.Fetch.ExchangePair),
		usecase.WithPricePrecision(sc.PricePrecision),
		usecase.WithLocation(loc),
	}
	if cfg.Lock.Enabled && store != nil {
		opts = append(opts, usecase.WithLock(store, "cycle:"+sc.SpreadsheetID, cfg.Lock.TTL))
	}
	if history != nil {
		opts = append(opts, usecase.WithHistory(history))
	}
	if publisher != nil {
		opts = append(opts, usecase.WithPublisher(publisher))
	}
	return usecase.NewPriceUpdater(sheet, fetcher, m, log, opts...)
}

// ProvideRunner creates the loop driver.
func ProvideRunner(cfg *config.Config, sched *scheduler.UpdateScheduler, updater *usecase.PriceUpdater, log *logger.Logger) *usecase.Runner {
	return usecase.NewRunner(sched, updater, log, usecase.WithErrorBackoff(cfg.Fetch.ErrorBackoff))
}

// ProvideCommandConsumer creates the refresh command consumer, or nil when
// commands are disabled.
func ProvideCommandConsumer(cfg *config.Config, runner *usecase.Runner, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Commands.Enabled {
		return nil, nil
	}
	handler := usecase.NewRefreshCommandHandler(cfg.Commands.Topic, runner, log)
	consumer, err := pkgkafka.NewConsumer(handler, log,
		pkgkafka.WithConsumerBrokers(cfg.Publish.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Commands.GroupID),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideHTTPServer creates the status API server, or nil when disabled.
func ProvideHTTPServer(cfg *config.Config, runner *usecase.Runner, history drepo.PriceStorage, log *logger.Logger) *xhttp.Server {
	if !cfg.Server.Enabled {
		return nil
	}
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	handlers := []xhttp.Handler{
		api.NewStatusEchoHandler(log, runner, history),
		api.NewFeedHandler(log, runner),
	}
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithServerTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
	}
	if cors := cfg.Server.CORS; cors.Enabled {
		opts = append(opts, xhttp.WithCORS(middleware.CORSConfig{
			AllowOrigins: cors.AllowOrigins,
			AllowMethods: cors.AllowMethods,
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
			MaxAge:       cors.MaxAge,
		}))
	}
	return xhttp.NewServer(log, handlers, opts...)
}

// ProvideApp creates the application.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	sheet drepo.Sheet,
	runner *usecase.Runner,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
) *server.App {
	return server.New(cfg, log, sheet, runner, httpServer, consumer)
}
