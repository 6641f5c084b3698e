package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/bookcrawl/internal/browser"
	"github.com/jonesrussell/bookcrawl/internal/database"
	"github.com/jonesrussell/bookcrawl/internal/domain"
	"github.com/jonesrussell/bookcrawl/internal/logger"
	"github.com/jonesrussell/bookcrawl/internal/metrics"
	"github.com/jonesrussell/bookcrawl/internal/session"
	"github.com/jonesrussell/bookcrawl/internal/sites"
)

type fakeHandle struct{ id string }

func (h *fakeHandle) ID() string                                 { return h.id }
func (h *fakeHandle) Navigate(_ context.Context, _ string) error { return nil }
func (h *fakeHandle) HTML(_ context.Context) (string, error)     { return "<html></html>", nil }
func (h *fakeHandle) CurrentURL() string                         { return "" }

type fakeDriver struct {
	mu      sync.Mutex
	created int
}

func (d *fakeDriver) CreateSession(_ context.Context) (browser.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created++
	return &fakeHandle{id: fmt.Sprintf("h%d", d.created)}, nil
}

func (d *fakeDriver) Probe(_ context.Context, _ browser.Handle) error   { return nil }
func (d *fakeDriver) Dispose(_ context.Context, _ browser.Handle) error { return nil }

type stubExecutor struct {
	site string
	fn   func(ctx context.Context, task *domain.Task) (*sites.Result, error)
}

func (s *stubExecutor) Site() string                    { return s.site }
func (s *stubExecutor) Supports(_ domain.TaskType) bool { return true }
func (s *stubExecutor) Execute(ctx context.Context, _ browser.Handle, task *domain.Task) (*sites.Result, error) {
	return s.fn(ctx, task)
}

type finishCall struct {
	id      string
	status  domain.TaskStatus
	message string
}

type fakeStore struct {
	mu       sync.Mutex
	finishes []finishCall
}

func (s *fakeStore) Finish(_ context.Context, id string, status domain.TaskStatus, message string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishes = append(s.finishes, finishCall{id: id, status: status, message: message})
	return true, nil
}

func (s *fakeStore) last(t *testing.T) finishCall {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.finishes)
	return s.finishes[len(s.finishes)-1]
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.finishes)
}

func (s *fakeStore) Create(context.Context, *domain.Task) error { return nil }
func (s *fakeStore) GetByID(context.Context, string) (*domain.Task, error) {
	return nil, errors.New("not implemented")
}
func (s *fakeStore) FetchPending(context.Context, int) ([]*domain.Task, error) { return nil, nil }
func (s *fakeStore) MarkRunning(context.Context, string, time.Time) error      { return nil }
func (s *fakeStore) Cancel(context.Context, string, time.Time) error           { return nil }
func (s *fakeStore) RetryFailed(context.Context) (int64, error)                { return 0, nil }
func (s *fakeStore) List(context.Context, string, int, int) ([]*domain.Task, error) {
	return nil, nil
}
func (s *fakeStore) StatsBySite(context.Context) ([]database.TaskStat, error) { return nil, nil }
func (s *fakeStore) CleanupOld(context.Context, time.Time) (int64, error)     { return 0, nil }

type fakeResults struct {
	mu     sync.Mutex
	sales  int
	books  int
	quotes int
}

func (r *fakeResults) SaveSales(_ context.Context, records []domain.SaleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sales += len(records)
	return nil
}

func (r *fakeResults) SaveListings(_ context.Context, listings []domain.BookListing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books += len(listings)
	return nil
}

func (r *fakeResults) SaveQuote(_ context.Context, _ *domain.PriceQuote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotes++
	return nil
}

type fixture struct {
	pool    *session.Pool
	runner  *Runner
	store   *fakeStore
	results *fakeResults
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, poolSize int, exec sites.Executor) *fixture {
	t.Helper()

	log := logger.NewNop()
	pool := session.NewPool(session.Config{Size: poolSize, AcquireTimeout: 100 * time.Millisecond}, &fakeDriver{}, log)
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(pool.Close)

	store := &fakeStore{}
	results := &fakeResults{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	registry := sites.NewRegistry()
	if exec != nil {
		registry.Register(exec)
	}

	return &fixture{
		pool:    pool,
		runner:  NewRunner(pool, registry, store, results, m, log),
		store:   store,
		results: results,
		metrics: m,
	}
}

func task(site string) *domain.Task {
	return &domain.Task{
		ID:         "task-1",
		Type:       domain.TaskTypeBookSales,
		TargetSite: site,
		Params:     domain.JSONBMap{"isbn": "123"},
		Status:     domain.TaskStatusRunning,
	}
}

func acquire(t *testing.T, pool *session.Pool, site string) *session.Session {
	t.Helper()
	sess, ok := pool.TryAcquireForSite(context.Background(), site)
	require.True(t, ok)
	return sess
}

func TestRunner_Success(t *testing.T) {
	exec := &stubExecutor{site: "kongfuzi", fn: func(_ context.Context, _ *domain.Task) (*sites.Result, error) {
		return &sites.Result{
			ItemsCrawled: 2,
			Sales: []domain.SaleRecord{
				{ISBN: "123", Price: 10},
				{ISBN: "123", Price: 12},
			},
		}, nil
	}}
	f := newFixture(t, 1, exec)

	sess := acquire(t, f.pool, "kongfuzi")
	f.runner.Run(context.Background(), task("kongfuzi"), sess, NewTicket())

	call := f.store.last(t)
	assert.Equal(t, domain.TaskStatusCompleted, call.status)
	assert.Empty(t, call.message)
	assert.Equal(t, 2, f.results.sales)

	// Session went back to idle.
	status := f.pool.Status()
	assert.Equal(t, 1, status.SizeIdle)
}

func TestRunner_RateLimited(t *testing.T) {
	exec := &stubExecutor{site: "kongfuzi", fn: func(_ context.Context, _ *domain.Task) (*sites.Result, error) {
		return nil, fmt.Errorf("kongfuzi: page shows throttle: %w", sites.ErrRateLimited)
	}}
	f := newFixture(t, 1, exec)

	sess := acquire(t, f.pool, "kongfuzi")
	f.runner.Run(context.Background(), task("kongfuzi"), sess, NewTicket())

	call := f.store.last(t)
	assert.Equal(t, domain.TaskStatusFailed, call.status)
	assert.Contains(t, call.message, "rate limited")

	// The session is back but blocked for this site.
	_, ok := f.pool.TryAcquireForSite(context.Background(), "kongfuzi")
	assert.False(t, ok)

	assert.Equal(t, 1.0,
		testutil.ToFloat64(f.metrics.RateLimitPenaltiesTotal.WithLabelValues("kongfuzi")))
}

func TestRunner_LoginRequiredOnLastSession(t *testing.T) {
	exec := &stubExecutor{site: "kongfuzi", fn: func(_ context.Context, _ *domain.Task) (*sites.Result, error) {
		return nil, fmt.Errorf("kongfuzi: redirected to login: %w", sites.ErrLoginRequired)
	}}
	f := newFixture(t, 1, exec)

	sess := acquire(t, f.pool, "kongfuzi")
	f.runner.Run(context.Background(), task("kongfuzi"), sess, NewTicket())

	call := f.store.last(t)
	assert.Equal(t, domain.TaskStatusFailed, call.status)

	// Pool size 1, so the one failure blocks every session.
	assert.Equal(t, 1.0,
		testutil.ToFloat64(f.metrics.AllSessionsBlockedTotal.WithLabelValues("kongfuzi")))
}

func TestRunner_PanicInBody(t *testing.T) {
	exec := &stubExecutor{site: "kongfuzi", fn: func(_ context.Context, _ *domain.Task) (*sites.Result, error) {
		panic("selector exploded")
	}}
	f := newFixture(t, 1, exec)

	sess := acquire(t, f.pool, "kongfuzi")
	require.NotPanics(t, func() {
		f.runner.Run(context.Background(), task("kongfuzi"), sess, NewTicket())
	})

	call := f.store.last(t)
	assert.Equal(t, domain.TaskStatusFailed, call.status)
	assert.Contains(t, call.message, "panicked")

	// Session must still come back.
	status := f.pool.Status()
	assert.Equal(t, 1, status.SizeIdle)
}

func TestRunner_UnknownSiteIsSkipped(t *testing.T) {
	f := newFixture(t, 1, nil)

	sess := acquire(t, f.pool, "kongfuzi")
	f.runner.Run(context.Background(), task("kongfuzi"), sess, NewTicket())

	call := f.store.last(t)
	assert.Equal(t, domain.TaskStatusSkipped, call.status)
	assert.Contains(t, call.message, "no executor")
}

func TestRunner_WatchdogClaimedFirst(t *testing.T) {
	exec := &stubExecutor{site: "kongfuzi", fn: func(_ context.Context, _ *domain.Task) (*sites.Result, error) {
		return &sites.Result{}, nil
	}}
	f := newFixture(t, 1, exec)

	sess := acquire(t, f.pool, "kongfuzi")
	ticket := NewTicket()
	require.True(t, ticket.Claim())

	f.runner.Run(context.Background(), task("kongfuzi"), sess, ticket)

	// The late body must not write anything; the claimed ticket says the
	// watchdog already finalized the task and owns the session.
	assert.Zero(t, f.store.count())
	status := f.pool.Status()
	assert.Equal(t, 1, status.SizeBusy)
}
