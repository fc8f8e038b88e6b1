package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"BidMailer/internal/app"
	"BidMailer/internal/config"
	"BidMailer/internal/logging"
)

func main() {
	configPath := flag.String("config", config.Path(), "path to the YAML configuration")
	dryRun := flag.Bool("dry-run", envBool("BIDMAILER_DRY_RUN"), "classify and rank but skip sending and recording deliveries")
	daemon := flag.Bool("daemon", envBool("BIDMAILER_DAEMON"), "keep running and execute the pipeline daily")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Config validation is fatal pre-run; nothing touched the ledger.
		logging.New("info").Error("configuration rejected", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level)

	application, err := app.New(ctx, cfg, app.Options{DryRun: *dryRun, Daemon: *daemon}, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func envBool(key string) bool {
	switch os.Getenv(key) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
