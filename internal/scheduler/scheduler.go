// Package scheduler drives the crawl engine: a fixed-interval loop
// that pulls pending tasks in priority order, borrows sessions from
// the pool, and hands matched pairs to the executor. A watchdog in the
// same loop force-fails tasks that outlive their deadline.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonesrussell/bookcrawl/internal/database"
	"github.com/jonesrussell/bookcrawl/internal/domain"
	"github.com/jonesrussell/bookcrawl/internal/executor"
	"github.com/jonesrussell/bookcrawl/internal/logger"
	"github.com/jonesrussell/bookcrawl/internal/metrics"
	"github.com/jonesrussell/bookcrawl/internal/ratelimit"
	"github.com/jonesrussell/bookcrawl/internal/session"
)

const (
	defaultTickInterval = 1 * time.Second
	defaultTaskTimeout  = 5 * time.Minute
	defaultFetchLimit   = 50
)

// inflightTask is one dispatched task awaiting completion.
type inflightTask struct {
	task      *domain.Task
	sess      *session.Session
	ticket    *executor.Ticket
	cancel    context.CancelFunc
	startedAt time.Time
}

// Scheduler owns the dispatch loop.
type Scheduler struct {
	log     logger.Logger
	store   database.TaskStore
	pool    *session.Pool
	runner  *executor.Runner
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	tickInterval time.Duration
	taskTimeout  time.Duration
	fetchLimit   int
	now          ratelimit.Clock

	mu       sync.Mutex
	inflight map[string]*inflightTask
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval overrides how often the loop runs.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithTaskTimeout overrides the per-task deadline.
func WithTaskTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.taskTimeout = d }
}

// WithFetchLimit overrides how many pending tasks one tick considers.
func WithFetchLimit(n int) Option {
	return func(s *Scheduler) { s.fetchLimit = n }
}

// WithClock injects a clock, for tests.
func WithClock(now ratelimit.Clock) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a scheduler. Call Start to begin dispatching.
func NewScheduler(
	log logger.Logger,
	store database.TaskStore,
	pool *session.Pool,
	runner *executor.Runner,
	m *metrics.Metrics,
	opts ...Option,
) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		log:          log,
		store:        store,
		pool:         pool,
		runner:       runner,
		metrics:      m,
		ctx:          ctx,
		cancel:       cancel,
		tickInterval: defaultTickInterval,
		taskTimeout:  defaultTaskTimeout,
		fetchLimit:   defaultFetchLimit,
		now:          time.Now,
		inflight:     make(map[string]*inflightTask),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start launches the dispatch loop.
func (s *Scheduler) Start() {
	s.log.Info("starting scheduler",
		logger.Duration("tick_interval", s.tickInterval),
		logger.Duration("task_timeout", s.taskTimeout))

	s.wg.Add(1)
	go s.run()
}

// Stop cancels in-flight task bodies and waits for them to unwind.
func (s *Scheduler) Stop() {
	s.log.Info("stopping scheduler")
	s.cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// InFlightCount returns how many tasks are currently executing.
func (s *Scheduler) InFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick runs one scheduling pass: reap timed-out tasks, then dispatch
// pending ones.
func (s *Scheduler) tick() {
	s.reapTimedOut()
	s.dispatchPending()

	if s.metrics != nil {
		status := s.pool.Status()
		s.metrics.ObservePool(status.SizeTotal, status.SizeBusy)
	}
}

// reapTimedOut force-fails tasks past their deadline. Claiming the
// ticket transfers session ownership to the watchdog; a body that
// returns later sees the claimed ticket and discards its own outcome.
func (s *Scheduler) reapTimedOut() {
	now := s.now()

	s.mu.Lock()
	var expired []*inflightTask
	for _, in := range s.inflight {
		if now.Sub(in.startedAt) >= s.taskTimeout {
			expired = append(expired, in)
		}
	}
	s.mu.Unlock()

	for _, in := range expired {
		if !in.ticket.Claim() {
			continue
		}

		in.cancel()
		s.pool.MarkErrored(in.sess, in.task.TargetSite, "task timed out")
		s.pool.Release(in.sess, false)
		s.removeInflight(in.task.ID)

		msg := fmt.Sprintf("timed out after %s", s.taskTimeout)
		applied, err := s.store.Finish(s.storeCtx(), in.task.ID, domain.TaskStatusFailed, msg, now)
		if err != nil {
			s.log.Error("failed to record task timeout",
				logger.String("task_id", in.task.ID),
				logger.Error(err))
		} else if !applied {
			s.log.Warn("timed-out task was already finalized",
				logger.String("task_id", in.task.ID))
		}

		if s.metrics != nil {
			s.metrics.TasksTimedOutTotal.WithLabelValues(in.task.TargetSite).Inc()
			s.metrics.TasksFinishedTotal.
				WithLabelValues(in.task.TargetSite, string(in.task.Type), string(domain.TaskStatusFailed)).Inc()
		}
		s.log.Warn("task timed out, session reclaimed",
			logger.String("task_id", in.task.ID),
			logger.String("session_id", in.sess.ID()),
			logger.Duration("timeout", s.taskTimeout))
	}
}

// dispatchPending matches pending tasks to eligible sessions. Tasks
// arrive highest priority first; once a site fails to yield a session
// this tick, later tasks for that site are passed over so other sites
// keep flowing.
func (s *Scheduler) dispatchPending() {
	pending, err := s.store.FetchPending(s.ctx, s.fetchLimit)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Error("failed to fetch pending tasks", logger.Error(err))
		}
		return
	}

	blockedSites := make(map[string]bool)

	for _, task := range pending {
		if s.isInflight(task.ID) {
			continue
		}
		site := task.TargetSite
		if blockedSites[site] {
			continue
		}

		sess, ok := s.pool.TryAcquireForSite(s.ctx, site)
		if !ok {
			blockedSites[site] = true
			continue
		}

		s.dispatch(task, sess)
	}
}

// dispatch transitions the task to running and starts its body.
func (s *Scheduler) dispatch(task *domain.Task, sess *session.Session) {
	startedAt := s.now()

	if err := s.store.MarkRunning(s.storeCtx(), task.ID, startedAt); err != nil {
		s.pool.Release(sess, false)
		if errors.Is(err, database.ErrTaskNotPending) {
			// Cancelled between fetch and dispatch.
			s.log.Debug("task left pending before dispatch", logger.String("task_id", task.ID))
		} else {
			s.log.Error("failed to mark task running",
				logger.String("task_id", task.ID),
				logger.Error(err))
		}
		return
	}

	// The watchdog cancels the body when it claims the task at the
	// deadline; the context deadline trails it by one tick as a backstop.
	bodyCtx, cancel := context.WithTimeout(s.ctx, s.taskTimeout+s.tickInterval)
	in := &inflightTask{
		task:      task,
		sess:      sess,
		ticket:    executor.NewTicket(),
		cancel:    cancel,
		startedAt: startedAt,
	}

	s.mu.Lock()
	s.inflight[task.ID] = in
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.TasksDispatchedTotal.WithLabelValues(task.TargetSite, string(task.Type)).Inc()
	}
	s.log.Info("task dispatched",
		logger.String("task_id", task.ID),
		logger.String("site", task.TargetSite),
		logger.String("session_id", sess.ID()),
		logger.Int("priority", task.Priority))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runner.Run(bodyCtx, task, sess, in.ticket)
		s.removeInflight(task.ID)
	}()
}

func (s *Scheduler) isInflight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[id]
	return ok
}

func (s *Scheduler) removeInflight(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// storeCtx bounds bookkeeping writes independently of the loop context
// so shutdown does not lose status updates.
func (s *Scheduler) storeCtx() context.Context {
	return context.WithoutCancel(s.ctx)
}
