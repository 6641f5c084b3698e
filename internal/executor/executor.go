// Package executor runs one dispatched task against its borrowed
// session: it invokes the site executor, classifies the outcome,
// updates session availability, persists results, and releases the
// session. Release is guaranteed even when the task body panics.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/bookcrawl/internal/database"
	"github.com/jonesrussell/bookcrawl/internal/domain"
	"github.com/jonesrussell/bookcrawl/internal/logger"
	"github.com/jonesrussell/bookcrawl/internal/metrics"
	"github.com/jonesrussell/bookcrawl/internal/session"
	"github.com/jonesrussell/bookcrawl/internal/sites"
)

const storeTimeout = 10 * time.Second

// Ticket decides who finishes a task: the task body or the timeout
// watchdog. Exactly one caller wins Claim; the loser must not touch
// the task row or the session.
type Ticket struct {
	claimed atomic.Bool
}

func NewTicket() *Ticket { return &Ticket{} }

// Claim returns true for the first caller only.
func (t *Ticket) Claim() bool {
	return t.claimed.CompareAndSwap(false, true)
}

// Runner executes dispatched tasks.
type Runner struct {
	pool     *session.Pool
	registry *sites.Registry
	store    database.TaskStore
	results  database.ResultStore
	metrics  *metrics.Metrics
	log      logger.Logger
	now      func() time.Time
}

func NewRunner(
	pool *session.Pool,
	registry *sites.Registry,
	store database.TaskStore,
	results database.ResultStore,
	m *metrics.Metrics,
	log logger.Logger,
) *Runner {
	return &Runner{
		pool:     pool,
		registry: registry,
		store:    store,
		results:  results,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Run executes one task on an already-acquired session. ctx bounds the
// task body; status and result writes use a detached context so a
// timed-out body can still be recorded.
func (r *Runner) Run(ctx context.Context, task *domain.Task, sess *session.Session, ticket *Ticket) {
	start := r.now()
	site := task.TargetSite
	log := r.log.With(
		logger.String("task_id", task.ID),
		logger.String("type", string(task.Type)),
		logger.String("site", site),
		logger.String("session_id", sess.ID()))

	result, execErr := r.execute(ctx, task, sess)

	if !ticket.Claim() {
		// The watchdog already failed the task and released the
		// session. Whatever the body produced is discarded.
		log.Warn("task body finished after watchdog takeover",
			logger.Duration("elapsed", r.now().Sub(start)))
		return
	}

	status, message := r.settle(task, sess, result, execErr, log)

	r.pool.Release(sess, false)

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	applied, err := r.store.Finish(storeCtx, task.ID, status, message, r.now())
	if err != nil {
		log.Error("failed to record task outcome", logger.Error(err))
	} else if !applied {
		log.Warn("task was already finalized elsewhere")
	}

	elapsed := r.now().Sub(start)
	if r.metrics != nil {
		r.metrics.TasksFinishedTotal.WithLabelValues(site, string(task.Type), string(status)).Inc()
		r.metrics.TaskDurationSeconds.WithLabelValues(site, string(task.Type)).Observe(elapsed.Seconds())
	}
	log.Info("task finished",
		logger.String("status", string(status)),
		logger.Duration("elapsed", elapsed))
}

// execute invokes the site executor, converting panics into errors.
func (r *Runner) execute(ctx context.Context, task *domain.Task, sess *session.Session) (result *sites.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = fmt.Errorf("task body panicked: %v", p)
		}
	}()

	exec, lookupErr := r.registry.Lookup(task)
	if lookupErr != nil {
		return nil, fmt.Errorf("%w: %w", errNoExecutor, lookupErr)
	}
	return exec.Execute(ctx, sess.Handle(), task)
}

var errNoExecutor = errors.New("no executor")

// settle marks session availability from the outcome and decides the
// terminal status.
func (r *Runner) settle(task *domain.Task, sess *session.Session, result *sites.Result, execErr error, log logger.Logger) (domain.TaskStatus, string) {
	site := task.TargetSite

	switch {
	case execErr == nil:
		r.pool.MarkSuccess(sess, site)
		if err := r.persist(task, result); err != nil {
			log.Error("failed to persist crawl results", logger.Error(err))
			return domain.TaskStatusFailed, fmt.Sprintf("store results: %v", err)
		}
		return domain.TaskStatusCompleted, ""

	case errors.Is(execErr, errNoExecutor):
		return domain.TaskStatusSkipped, execErr.Error()

	case errors.Is(execErr, sites.ErrRateLimited):
		until := r.pool.MarkRateLimited(sess, site)
		if r.metrics != nil {
			r.metrics.RateLimitPenaltiesTotal.WithLabelValues(site).Inc()
		}
		log.Warn("session rate limited",
			logger.Time("blocked_until", until),
			logger.Error(execErr))
		return domain.TaskStatusFailed, execErr.Error()

	case errors.Is(execErr, sites.ErrLoginRequired):
		allBlocked := r.pool.MarkLoginRequired(sess, site)
		if r.metrics != nil {
			r.metrics.LoginRequiredTotal.WithLabelValues(site).Inc()
		}
		if allBlocked {
			if r.metrics != nil {
				r.metrics.AllSessionsBlockedTotal.WithLabelValues(site).Inc()
			}
			log.Error("every session needs a fresh login, crawling this site is stalled until an operator signs in",
				logger.String("site", site))
		}
		return domain.TaskStatusFailed, execErr.Error()

	default:
		r.pool.MarkErrored(sess, site, execErr.Error())
		return domain.TaskStatusFailed, execErr.Error()
	}
}

func (r *Runner) persist(task *domain.Task, result *sites.Result) error {
	if r.results == nil || result == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if len(result.Sales) > 0 {
		if err := r.results.SaveSales(ctx, result.Sales); err != nil {
			return err
		}
	}
	if len(result.Books) > 0 {
		if err := r.results.SaveListings(ctx, result.Books); err != nil {
			return err
		}
	}
	if result.Price != nil {
		if err := r.results.SaveQuote(ctx, result.Price); err != nil {
			return err
		}
	}
	return nil
}
