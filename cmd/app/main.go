package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"PriceSheet/internal/di"
	"PriceSheet/pkg/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	once := flag.Bool("once", false, "run a single update cycle and exit")
	force := flag.Bool("force", false, "run the first cycle even outside market hours")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Printf("config load failed: %v", err)
		return 1
	}
	if *debug {
		cfg.Log.Level = "debug"
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Printf("app initialization failed: %v", err)
		return 1
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		report, err := app.RunOnce(ctx)
		if err != nil {
			log.Printf("update failed: %v", err)
			return 1
		}
		log.Printf("updated %d/%d tickers (%.1f%%)", len(report.Prices), report.Requested, report.SuccessRate())
		return 0
	}

	if err := app.Run(ctx, *force); err != nil {
		log.Printf("app error: %v", err)
		return 1
	}
	return 0
}
