package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"BidMailer/internal/config"
	"BidMailer/internal/infrastructure/feed"
	"BidMailer/internal/infrastructure/mailer"
	"BidMailer/internal/infrastructure/scheduler"
	"BidMailer/internal/infrastructure/storage"
	"BidMailer/internal/logging"
	"BidMailer/internal/ports"
	"BidMailer/internal/scanner"
	"BidMailer/internal/usecase"
)

// Options tune a single Application instance beyond the config file.
type Options struct {
	DryRun bool
	Daemon bool
}

// Application wires config to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	opts     Options
	logger   *slog.Logger
	ledger   *storage.SQLiteLedger
	pipeline *usecase.Pipeline
	mail     ports.DigestMailer
}

// New builds a runnable application instance; the ledger is opened (and
// its schema applied) eagerly so a broken database fails before any fetch.
func New(ctx context.Context, cfg config.Config, opts Options, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	ledger, err := storage.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	registry := scanner.NewRegistry()
	registry.Register(feed.NewRSSScanner(nil))
	registry.Register(feed.NewHTMLScanner(nil))

	source := feed.NewStrategySource(registry, cfg.Sources, baseLogger.With("component", "source"))

	var mail ports.DigestMailer
	if cfg.Mail.SMTP.Configured() {
		mail = mailer.NewSMTPMailer(cfg.Mail.SMTP)
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source: source,
		Ledger: ledger,
		Mailer: mail,
		Logger: baseLogger.With("component", "pipeline"),
	})

	return &Application{
		cfg:      cfg,
		opts:     opts,
		logger:   baseLogger,
		ledger:   ledger,
		pipeline: pipeline,
		mail:     mail,
	}, nil
}

// Run performs a single pipeline execution, or keeps running daily in
// daemon mode. The returned error is non-nil only when the run could not
// be attempted or every enabled keyword set failed.
func (a *Application) Run(ctx context.Context) error {
	if a.opts.Daemon {
		return a.runDaemon(ctx)
	}
	return a.runOnce(ctx)
}

// Close releases the ledger handle.
func (a *Application) Close() error {
	if a.ledger == nil {
		return nil
	}
	return a.ledger.Close()
}

func (a *Application) runOnce(ctx context.Context) error {
	summary, err := a.pipeline.Run(ctx, a.cfg, a.opts.DryRun)
	if err != nil {
		a.notifyFailure(ctx, err)
		return err
	}

	for _, failure := range summary.SourceFailures {
		a.logger.Warn("source failed", "source", failure.SourceID, "url", failure.SourceURL, "error", failure.Err)
	}
	for _, failure := range summary.SetFailures {
		a.logger.Warn("keyword set failed", "set", failure.SetID, "error", failure.Err)
	}

	enabledIDs := make([]string, 0, len(a.cfg.KeywordSets))
	for _, set := range a.cfg.EnabledKeywordSets() {
		enabledIDs = append(enabledIDs, set.ID)
	}
	if summary.AllSetsFailed(enabledIDs) {
		err := fmt.Errorf("run %s: every keyword set failed", summary.RunID)
		a.notifyFailure(ctx, err)
		return err
	}
	return nil
}

func (a *Application) runDaemon(ctx context.Context) error {
	driver := scheduler.NewDailyScheduler(24 * time.Hour)
	runs := usecase.NewScheduler(driver, a.pipeline, a.cfg, a.opts.DryRun, a.logger.With("component", "scheduler"))
	if err := runs.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return runs.Stop(context.Background())
}

// notifyFailure mails the admin about a run that could not complete; a
// dead relay only gets logged.
func (a *Application) notifyFailure(ctx context.Context, runErr error) {
	if a.mail == nil || a.opts.DryRun {
		return
	}
	nowJST := time.Now().In(mailer.JST)
	subject := mailer.BuildFailureSubject(nowJST)
	body := mailer.BuildFailureBody(nowJST, runErr.Error())
	if err := a.mail.Send(ctx, a.cfg.Mail.AdminEmail, subject, body); err != nil {
		a.logger.Error("failure notification could not be sent", "error", err)
	}
}
