// Package serve implements the serve command: the full crawl engine
// plus its HTTP API in one process.
package serve

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/bookcrawl/internal/api"
	"github.com/jonesrussell/bookcrawl/internal/browser"
	"github.com/jonesrussell/bookcrawl/internal/config"
	"github.com/jonesrussell/bookcrawl/internal/database"
	"github.com/jonesrussell/bookcrawl/internal/executor"
	"github.com/jonesrussell/bookcrawl/internal/logger"
	"github.com/jonesrussell/bookcrawl/internal/metrics"
	"github.com/jonesrussell/bookcrawl/internal/ratelimit"
	"github.com/jonesrussell/bookcrawl/internal/recurring"
	"github.com/jonesrussell/bookcrawl/internal/scheduler"
	"github.com/jonesrussell/bookcrawl/internal/session"
	"github.com/jonesrussell/bookcrawl/internal/sites"
)

// Command returns the serve command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the crawl engine and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
}

func run(parent context.Context) error {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: cfg.Logging.OutputPaths,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage.
	db, err := database.NewPostgresConnection(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err = database.EnsureSchema(ctx, db); err != nil {
		return err
	}

	taskRepo := database.NewTaskRepository(db)
	priceRepo := database.NewPriceRepository(db)
	salesRepo := database.NewSalesRepository(db)
	listingRepo := database.NewListingRepository(db)
	results := database.NewResults(salesRepo, listingRepo, priceRepo)

	// Browser sessions.
	driver, err := browser.NewRodDriver(browser.Config{
		ControlURL: cfg.Browser.ControlURL,
		StartURL:   cfg.Browser.StartURL,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	pool := session.NewPool(session.Config{
		Size:           cfg.Pool.Size,
		AcquireTimeout: cfg.Pool.AcquireTimeout,
		Governor: ratelimit.Config{
			Capacity:             cfg.Governor.Capacity,
			RefillWindow:         cfg.Governor.RefillWindow,
			PenaltyBase:          cfg.Governor.PenaltyBase,
			PenaltyMaxMultiplier: cfg.Governor.PenaltyMaxMultiplier,
		},
	}, driver, log)
	if err = pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session pool: %w", err)
	}
	defer pool.Close()

	// Engine.
	m := metrics.NewMetrics(nil)
	registry := sites.NewRegistry(sites.NewKongfuzi(log), sites.NewDuozhuayu(log))
	runner := executor.NewRunner(pool, registry, taskRepo, results, m, log)

	sched := scheduler.NewScheduler(log, taskRepo, pool, runner, m,
		scheduler.WithTickInterval(cfg.Scheduler.TickInterval),
		scheduler.WithTaskTimeout(cfg.Scheduler.TaskTimeout),
		scheduler.WithFetchLimit(cfg.Scheduler.FetchLimit),
	)
	sched.Start()
	defer sched.Stop()

	if cfg.Recurring.Enabled {
		refresher := recurring.NewRefresher(recurring.Config{
			PriceRefreshSchedule: cfg.Recurring.PriceRefreshSchedule,
			StaleAfter:           cfg.Recurring.StaleAfter,
			BatchLimit:           cfg.Recurring.BatchLimit,
		}, taskRepo, priceRepo, log)
		if err = refresher.Start(); err != nil {
			return err
		}
		defer refresher.Stop()
	}

	// API.
	router := api.SetupRouter(log,
		api.NewTasksHandler(taskRepo, registry, log),
		api.NewPoolHandler(pool, log),
		api.NewPricesHandler(priceRepo, log),
		api.NewSalesHandler(salesRepo, listingRepo, log),
		cfg.Server.Debug,
	)
	srv := api.NewServer(cfg.Server, log, router)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err = <-errCh:
		if err != nil {
			return err
		}
	}

	return srv.Stop()
}
