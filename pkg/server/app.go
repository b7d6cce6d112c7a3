package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"PriceSheet/internal/domain/models"
	drepo "PriceSheet/internal/domain/repository"
	"PriceSheet/internal/usecase"
	"PriceSheet/pkg/config"
	xhttp "PriceSheet/pkg/http"
	pkgkafka "PriceSheet/pkg/kafka"
	applogger "PriceSheet/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	sheet      drepo.Sheet
	runner     *usecase.Runner
	httpServer *xhttp.Server
	consumer   *pkgkafka.Consumer
}

// New creates a new App instance with all dependencies. httpServer and
// consumer may be nil when disabled.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	sheet drepo.Sheet,
	runner *usecase.Runner,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
) *App {
	return &App{
		cfg:        cfg,
		log:        log,
		sheet:      sheet,
		runner:     runner,
		httpServer: httpServer,
		consumer:   consumer,
	}
}

// Runner exposes the cycle runner.
func (a *App) Runner() *usecase.Runner { return a.runner }

// CheckSheet reads the spreadsheet metadata and logs it. A failure here
// means credentials or the spreadsheet id are wrong.
func (a *App) CheckSheet(ctx context.Context) (*models.SheetInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	info, err := a.sheet.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheet connection test: %w", err)
	}
	a.log.Info("connected to spreadsheet",
		applogger.String("title", info.Title),
		applogger.String("worksheet", info.CurrentSheet),
		applogger.Int("sheets", info.SheetCount),
		applogger.Int("rows", info.RowCount),
		applogger.Int("cols", info.ColCount),
	)
	return info, nil
}

// RunOnce runs a single forced cycle.
func (a *App) RunOnce(ctx context.Context) (*models.CycleReport, error) {
	if _, err := a.CheckSheet(ctx); err != nil {
		return nil, err
	}
	return a.runner.RunOnce(ctx)
}

// Run starts the HTTP server and the command consumer, then drives the
// update loop until ctx is cancelled.
func (a *App) Run(ctx context.Context, force bool) error {
	if _, err := a.CheckSheet(ctx); err != nil {
		return err
	}

	status := a.runner.Status(time.Now())
	a.log.Info("market status",
		applogger.Bool("market_open", status.IsMarketOpen),
		applogger.Int("open_hour", status.MarketOpenHour),
		applogger.Int("close_hour", status.MarketCloseHour),
		applogger.Int("interval_minutes", status.IntervalMinutes),
		applogger.Time("next_update", status.NextUpdate),
	)

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	var wg sync.WaitGroup
	if a.consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("command consumer stopped", applogger.Error(err))
			}
		}()
		a.log.Info("command consumer started", applogger.String("topic", a.cfg.Commands.Topic))
	}

	err := a.runner.Run(ctx, force)

	a.log.Info("shutting down")
	a.shutdown(&wg)
	a.log.Info("shutdown complete")
	return err
}

// shutdown stops the outer surfaces. Infrastructure clients are closed by
// the DI cleanup.
func (a *App) shutdown(consumers *sync.WaitGroup) {
	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}
	consumers.Wait()
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.log.Warn("kafka consumer close error", applogger.Error(err))
		}
	}
}
