// Package recurring enqueues periodic maintenance tasks on a cron
// schedule: price refreshes for books whose quotes have gone stale,
// and cleanup of old terminal tasks.
package recurring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/bookcrawl/internal/database"
	"github.com/jonesrussell/bookcrawl/internal/domain"
	"github.com/jonesrussell/bookcrawl/internal/logger"
	"github.com/jonesrussell/bookcrawl/internal/sites"
)

const (
	refreshPriority = -1 // below any operator-submitted task
	enqueueTimeout  = 30 * time.Second

	cleanupSchedule = "30 4 * * *"
	cleanupAfter    = 30 * 24 * time.Hour
)

// Config holds the refresher's schedule parameters.
type Config struct {
	// PriceRefreshSchedule is a cron expression.
	PriceRefreshSchedule string
	// StaleAfter is how old a quote may get before refresh.
	StaleAfter time.Duration
	// BatchLimit caps how many refresh tasks one run enqueues.
	BatchLimit int
}

// Refresher runs the cron jobs.
type Refresher struct {
	cfg    Config
	store  database.TaskStore
	prices *database.PriceRepository
	log    logger.Logger
	cron   *cron.Cron
	now    func() time.Time
}

func NewRefresher(cfg Config, store database.TaskStore, prices *database.PriceRepository, log logger.Logger) *Refresher {
	return &Refresher{
		cfg:    cfg,
		store:  store,
		prices: prices,
		log:    log,
		cron:   cron.New(),
		now:    time.Now,
	}
}

// Start registers the cron entries and starts the scheduler.
func (r *Refresher) Start() error {
	if _, err := r.cron.AddFunc(r.cfg.PriceRefreshSchedule, r.refreshStalePrices); err != nil {
		return fmt.Errorf("invalid price refresh schedule %q: %w", r.cfg.PriceRefreshSchedule, err)
	}
	if _, err := r.cron.AddFunc(cleanupSchedule, r.cleanupOldTasks); err != nil {
		return fmt.Errorf("invalid cleanup schedule: %w", err)
	}

	r.cron.Start()
	r.log.Info("recurring jobs started",
		logger.String("price_refresh", r.cfg.PriceRefreshSchedule),
		logger.Duration("stale_after", r.cfg.StaleAfter))
	return nil
}

// Stop stops the cron scheduler and waits for running entries.
func (r *Refresher) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.log.Info("recurring jobs stopped")
}

// refreshStalePrices enqueues a low-priority price lookup for every
// book whose newest quote is older than the cutoff.
func (r *Refresher) refreshStalePrices() {
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()

	cutoff := r.now().Add(-r.cfg.StaleAfter)
	isbns, err := r.prices.StaleISBNs(ctx, sites.SiteDuozhuayu, cutoff, r.cfg.BatchLimit)
	if err != nil {
		r.log.Error("failed to find stale price quotes", logger.Error(err))
		return
	}
	if len(isbns) == 0 {
		return
	}

	enqueued := 0
	for _, isbn := range isbns {
		task := &domain.Task{
			ID:         uuid.NewString(),
			Type:       domain.TaskTypePriceLookup,
			TargetSite: sites.SiteDuozhuayu,
			Params:     domain.JSONBMap{"isbn": isbn},
			Priority:   refreshPriority,
			Status:     domain.TaskStatusPending,
		}
		if err := r.store.Create(ctx, task); err != nil {
			r.log.Error("failed to enqueue price refresh",
				logger.String("isbn", isbn),
				logger.Error(err))
			continue
		}
		enqueued++
	}

	r.log.Info("enqueued stale price refreshes",
		logger.Int("stale", len(isbns)),
		logger.Int("enqueued", enqueued))
}

// cleanupOldTasks deletes terminal tasks past the retention window.
func (r *Refresher) cleanupOldTasks() {
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()

	n, err := r.store.CleanupOld(ctx, r.now().Add(-cleanupAfter))
	if err != nil {
		r.log.Error("failed to clean up old tasks", logger.Error(err))
		return
	}
	if n > 0 {
		r.log.Info("cleaned up old tasks", logger.Int64("deleted", n))
	}
}
