package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/jan-enricher/internal/browser"
	"github.com/maltedev/jan-enricher/internal/config"
	"github.com/maltedev/jan-enricher/internal/database"
	"github.com/maltedev/jan-enricher/internal/events"
	"github.com/maltedev/jan-enricher/internal/pipeline"
	"github.com/maltedev/jan-enricher/internal/ratelimit"
	"github.com/maltedev/jan-enricher/internal/resolver"
	"github.com/maltedev/jan-enricher/internal/scraper"
	"github.com/maltedev/jan-enricher/internal/sheets"
	"github.com/maltedev/jan-enricher/internal/storage"
	"github.com/maltedev/jan-enricher/pkg/logger"
	"github.com/robfig/cron/v3"
)

func main() {
	configPath := flag.String("config", ".env", "path to the KEY=VALUE config file")
	once := flag.Bool("once", false, "run once even when SCHEDULE is set")
	flag.Parse()

	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		*configPath = ""
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once, log); err != nil {
		log.Error("jan-enricher failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, once bool, log *slog.Logger) error {
	sheet, err := openSheet(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer sheet.Close()

	recorder, journal, closeRecorder, err := openRecorder(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRecorder()

	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.Locale = cfg.Browser.Locale
	opts.UserDataDir = cfg.Browser.UserDataDir
	if cfg.Run.Strategy == config.StrategyOverlay {
		opts.ExtensionPath = cfg.Browser.ExtensionPath
	}

	driver, err := browser.New(cfg.Browser.Engine, opts, log)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer driver.Close()

	images := scraper.NewImageResolver(cfg.Fetch.Timeout, cfg.Fetch.UserAgent, log)
	finder := scraper.NewVisualSearch(driver, scraper.DefaultVisualSearchOptions(), log)
	codes := newResolver(cfg, driver, log)

	p := pipeline.New(sheet, images, finder, codes, pipeline.Options{
		Sheet:        cfg.Sheets.SheetName,
		SourceColumn: cfg.Columns.SourceLink,
		OutputColumn: cfg.Columns.JAN,
		StartRow:     cfg.Run.StartRow,
		EndRow:       cfg.Run.EndRow,
		Strategy:     string(cfg.Run.Strategy),
	}, log).WithRecorder(recorder)

	if cfg.Run.RowDelayMax > 0 {
		pacer := ratelimit.NewRowPacer(cfg.Run.RowDelayMin, cfg.Run.RowDelayMax)
		min, max := pacer.Bounds()
		log.Info("row pacing enabled", "min", min, "max", max)
		p = p.WithPacer(pacer)
	}

	runOnce := func() error {
		r, err := p.Run(ctx)
		if journal != nil && r != nil {
			if stats, serr := journal.Stats(context.WithoutCancel(ctx), r.ID); serr == nil {
				log.Info("journal stats", "run_id", r.ID, "stages", stats)
			}
		}
		return err
	}

	if cfg.Run.Schedule == "" || once {
		return runOnce()
	}
	return schedule(ctx, cfg.Run.Schedule, runOnce, log)
}

// schedule runs fn on spec until ctx is cancelled. A tick that arrives while
// a run is still in progress is skipped.
func schedule(ctx context.Context, spec string, fn func() error, log *slog.Logger) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(spec, func() {
		if err := fn(); err != nil && ctx.Err() == nil {
			log.Error("scheduled run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid SCHEDULE %q: %w", spec, err)
	}

	c.Start()
	log.Info("scheduler started", "schedule", spec)

	<-ctx.Done()
	log.Info("shutting down, waiting for the current run")
	<-c.Stop().Done()
	return nil
}

func openSheet(ctx context.Context, cfg *config.Config, log *slog.Logger) (sheets.Spreadsheet, error) {
	switch cfg.Sheets.Backend {
	case config.BackendXLSX:
		return sheets.OpenWorkbook(cfg.Sheets.XLSXPath, log)
	default:
		return sheets.NewGoogle(ctx, cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID, log)
	}
}

// openRecorder picks the run journal: Postgres with outbox events when
// DATABASE_URL is set, else SQLite when SQLITE_PATH is set, else none.
func openRecorder(ctx context.Context, cfg *config.Config, log *slog.Logger) (pipeline.Recorder, *storage.Journal, func(), error) {
	if cfg.Database.URL != "" {
		db, err := database.New(ctx, database.Config{URL: cfg.Database.URL, MaxConns: cfg.Database.MaxConns})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		log.Info("journaling runs to postgres")
		return events.NewPublisher(db, log), nil, db.Close, nil
	}

	if cfg.Database.SQLitePath != "" {
		j, err := storage.OpenJournal(cfg.Database.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info("journaling runs to sqlite", "path", cfg.Database.SQLitePath)
		return j, j, func() { j.Close() }, nil
	}

	return pipeline.NopRecorder{}, nil, func() {}, nil
}

func newResolver(cfg *config.Config, driver browser.Driver, log *slog.Logger) resolver.Resolver {
	creds := resolver.Credentials{Username: cfg.Eresa.Username, Password: cfg.Eresa.Password}
	if !creds.Valid() {
		log.Warn("ERESA credentials not set, login is skipped")
	}

	if cfg.Run.Strategy == config.StrategyLookup {
		return resolver.NewLookup(driver, creds, cfg.Eresa.BaseURL, resolver.DefaultOptions(), log)
	}
	return resolver.NewOverlay(driver, creds, resolver.DefaultOptions(), log)
}
