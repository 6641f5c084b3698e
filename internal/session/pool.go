// Package session implements the concurrent browser-session pool: a bounded
// set of authenticated sessions with per-site availability tracking, rate
// governing, liveness probing, and dead-session replacement.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonesrussell/bookcrawl/internal/browser"
	"github.com/jonesrussell/bookcrawl/internal/domain"
	"github.com/jonesrussell/bookcrawl/internal/logger"
	"github.com/jonesrussell/bookcrawl/internal/ratelimit"
)

// Default pool parameters. Real browser sessions are expensive and each
// represents one logged-in identity, so the pool stays small.
const (
	DefaultSize           = 2
	DefaultAcquireTimeout = 30 * time.Second

	// createRetryDelay throttles acquire retries when the automation driver
	// keeps failing to produce sessions.
	createRetryDelay = 500 * time.Millisecond
)

// Sentinel errors.
var (
	// ErrAcquireTimeout means no session became free within the timeout.
	ErrAcquireTimeout = errors.New("session: acquire timed out")
	// ErrPoolClosed means the pool has been shut down.
	ErrPoolClosed = errors.New("session: pool is closed")
	// ErrUnknownSession means the referenced session is not in the pool.
	ErrUnknownSession = errors.New("session: unknown session")
	// ErrNotLoginRequired means a login clearance targeted a site that is
	// not in the LOGIN_REQUIRED state.
	ErrNotLoginRequired = errors.New("session: site is not login_required")
)

// Config holds pool parameters.
type Config struct {
	// Size is the target number of sessions.
	Size int `yaml:"size"`
	// AcquireTimeout bounds how long Acquire blocks for a free session.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	// Governor configures the per-session rate governor.
	Governor ratelimit.Config `yaml:"governor"`
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	if c.Size <= 0 {
		c.Size = DefaultSize
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	c.Governor.SetDefaults()
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock injects a clock, for tests.
func WithClock(now ratelimit.Clock) Option {
	return func(p *Pool) { p.now = now }
}

// Pool owns a bounded set of browser sessions. One coarse lock protects the
// idle/busy partition, every session's site states, and the rate governors:
// the three are read and mutated together on every scheduling decision, and
// splitting the lock would invite lost-update races between "check
// availability" and "mark busy".
type Pool struct {
	cfg    Config
	driver browser.Driver
	log    logger.Logger
	now    ratelimit.Clock

	mu       sync.Mutex
	sessions []*Session
	creating int // in-flight CreateSession calls, counted toward capacity
	target   int
	closed   bool
	waitCh   chan struct{} // closed and replaced whenever capacity may appear
}

// NewPool creates a pool. Sessions are created lazily on demand; call Start
// to pre-warm.
func NewPool(cfg Config, driver browser.Driver, log logger.Logger, opts ...Option) *Pool {
	cfg.SetDefaults()

	p := &Pool{
		cfg:    cfg,
		driver: driver,
		log:    log,
		now:    time.Now,
		target: cfg.Size,
		waitCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start pre-creates sessions up to the target size. Individual creation
// failures are logged and retried lazily by later acquires; Start fails only
// when no session could be created at all.
func (p *Pool) Start(ctx context.Context) error {
	created := 0
	var lastErr error
	for i, n := 0, p.targetSize(); i < n; i++ {
		h, err := p.driver.CreateSession(ctx)
		if err != nil {
			lastErr = err
			p.log.Warn("session pre-create failed", logger.Error(err))
			continue
		}
		p.mu.Lock()
		p.sessions = append(p.sessions, p.newSession(h, false))
		p.mu.Unlock()
		created++
	}

	if created == 0 && lastErr != nil {
		return lastErr
	}

	p.log.Info("session pool started",
		logger.Int("size", created),
		logger.Int("target", p.targetSize()),
	)
	return nil
}

// newSession wraps a fresh handle. Caller decides the initial busy flag.
func (p *Pool) newSession(h browser.Handle, busy bool) *Session {
	return &Session{
		id:        h.ID(),
		handle:    h,
		busy:      busy,
		createdAt: p.now(),
		sites:     make(map[string]*SiteState),
		governor:  ratelimit.New(p.cfg.Governor, p.now),
	}
}

// Acquire blocks until any session is free, the configured timeout elapses,
// or ctx is cancelled. The blocking is cooperative: waiters sleep on a
// broadcast channel, there is no spinning.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	timeout := time.NewTimer(p.cfg.AcquireTimeout)
	defer timeout.Stop()

	for {
		s, wait, err := p.acquireOnce(ctx, "")
		if err != nil {
			return nil, err
		}
		if s != nil {
			return s, nil
		}
		var retry <-chan time.Time
		if wait == nil {
			// Creation or probe failed; back off briefly before retrying.
			retry = time.After(createRetryDelay)
		}

		select {
		case <-wait:
		case <-retry:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout.C:
			return nil, ErrAcquireTimeout
		}
	}
}

// TryAcquireForSite hands out a session that is idle, AVAILABLE for the site,
// and within its request budget, consuming one token on success. It never
// blocks on pool capacity; a (nil, false) return means the caller should try
// another session elsewhere or defer the task.
func (p *Pool) TryAcquireForSite(ctx context.Context, site string) (*Session, bool) {
	s, _, err := p.acquireOnce(ctx, site)
	if err != nil || s == nil {
		return nil, false
	}
	return s, true
}

// acquireOnce makes one pass: grab an eligible idle session, or create one if
// below target. Returns the session, or a channel to wait on when the pool is
// simply full, or (nil, nil, nil) after a transient failure worth retrying.
func (p *Pool) acquireOnce(ctx context.Context, site string) (*Session, <-chan struct{}, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil, ErrPoolClosed
	}

	if s := p.grabLocked(site); s != nil {
		p.mu.Unlock()
		if !p.validate(ctx, s) {
			return nil, nil, nil
		}
		return s, nil, nil
	}

	if len(p.sessions)+p.creating < p.target {
		return p.createAcquired(ctx, site)
	}

	ch := p.waitCh
	p.mu.Unlock()
	return nil, ch, nil
}

// grabLocked scans idle sessions for one eligible for the site ("" matches
// anything idle) and marks it busy. Consumes a governor token when a site is
// named.
func (p *Pool) grabLocked(site string) *Session {
	now := p.now()
	for _, s := range p.sessions {
		if site == "" {
			if s.busy {
				continue
			}
		} else if !s.eligible(site, now) {
			continue
		}

		if site != "" && !s.governor.Allow() {
			continue
		}
		s.busy = true
		return s
	}
	return nil
}

// createAcquired creates a session on demand, already marked busy for the
// caller. The lock is dropped around the driver call; the creating counter
// keeps concurrent acquires from overshooting the target.
func (p *Pool) createAcquired(ctx context.Context, site string) (*Session, <-chan struct{}, error) {
	p.creating++
	p.mu.Unlock()

	h, err := p.driver.CreateSession(ctx)

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.mu.Unlock()
		p.log.Warn("session create failed", logger.Error(err))
		return nil, nil, nil
	}
	if p.closed {
		p.mu.Unlock()
		p.disposeHandle(h)
		return nil, nil, ErrPoolClosed
	}

	s := p.newSession(h, true)
	if site != "" {
		s.governor.Allow()
	}
	p.sessions = append(p.sessions, s)
	p.mu.Unlock()

	p.log.Info("created session on demand", logger.String("session_id", s.id))
	return s, nil, nil
}

// validate probes a just-acquired session. A dead session is discarded; the
// next acquire pass recreates capacity transparently.
func (p *Pool) validate(ctx context.Context, s *Session) bool {
	if err := p.driver.Probe(ctx, s.handle); err != nil {
		p.log.Warn("session failed liveness probe, replacing",
			logger.String("session_id", s.id),
			logger.Error(err),
		)
		p.discard(s)
		return false
	}

	p.mu.Lock()
	s.usedCount++
	p.mu.Unlock()
	return true
}

// discard removes a session from the pool and disposes its handle.
func (p *Pool) discard(s *Session) {
	p.mu.Lock()
	p.removeLocked(s)
	p.notifyLocked()
	p.mu.Unlock()
	p.disposeHandle(s.handle)
}

// Release returns a session to the idle set. With dispose set (or when the
// pool shrank or closed) the handle is torn down instead and capacity is
// recreated lazily. Releasing a session that is not busy is a programming
// error and panics.
func (p *Pool) Release(s *Session, dispose bool) {
	p.mu.Lock()

	if !p.containsLocked(s) {
		// Session was already removed (pool closed underneath the holder).
		p.mu.Unlock()
		p.log.Warn("release of a session no longer in the pool",
			logger.String("session_id", s.id),
		)
		return
	}
	if !s.busy {
		p.mu.Unlock()
		panic("session: release of a session that is not busy")
	}

	s.busy = false
	remove := dispose || p.closed || len(p.sessions) > p.target
	if remove {
		p.removeLocked(s)
	}
	p.notifyLocked()
	p.mu.Unlock()

	if remove {
		p.disposeHandle(s.handle)
	}
}

// MarkSuccess records a classified success: the site returns to AVAILABLE
// and penalty escalation resets.
func (p *Pool) MarkSuccess(s *Session, site string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.governor.MarkSuccess()
	s.siteState(site).markSuccess(p.now())
}

// MarkRateLimited records an externally observed throttle. The governor
// computes the (escalating) penalty window and the tracker blocks the site
// until it ends. Returns the deadline.
func (p *Pool) MarkRateLimited(s *Session, site string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	until := s.governor.ApplyPenalty()
	s.siteState(site).markRateLimited(until)
	return until
}

// MarkLoginRequired records a lapsed login and reports whether every session
// in the pool is now LOGIN_REQUIRED for the site, which needs operator
// attention.
func (p *Pool) MarkLoginRequired(s *Session, site string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.siteState(site).markLoginRequired()
	return p.allLoginRequiredLocked(site)
}

// MarkErrored records a generic failure; the state auto-clears on the next
// success.
func (p *Pool) MarkErrored(s *Session, site, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.siteState(site).markErrored(msg)
}

func (p *Pool) allLoginRequiredLocked(site string) bool {
	if len(p.sessions) == 0 {
		return false
	}
	for _, s := range p.sessions {
		st, ok := s.sites[site]
		if !ok || st.Status != domain.SiteLoginRequired {
			return false
		}
	}
	return true
}

// ClearLoginRequired is the manual recovery hook: after the operator
// re-authenticates a session, the LOGIN_REQUIRED state is lifted.
func (p *Pool) ClearLoginRequired(sessionID, site string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.sessions {
		if s.id != sessionID {
			continue
		}
		st, ok := s.sites[site]
		if !ok || !st.clearLogin() {
			return ErrNotLoginRequired
		}
		p.notifyLocked()
		return nil
	}
	return ErrUnknownSession
}

// Resize changes the target size. Growth takes effect on the next acquires;
// shrinking closes idle sessions immediately and converges opportunistically
// as busy sessions are released. It never kills a busy session.
func (p *Pool) Resize(newSize int) error {
	if newSize <= 0 {
		return errors.New("session: pool size must be positive")
	}

	p.mu.Lock()
	old := p.target
	p.target = newSize

	var toDispose []*Session
	for len(p.sessions) > p.target {
		idle := p.firstIdleLocked()
		if idle == nil {
			break
		}
		p.removeLocked(idle)
		toDispose = append(toDispose, idle)
	}
	if newSize > old {
		p.notifyLocked()
	}
	p.mu.Unlock()

	for _, s := range toDispose {
		p.disposeHandle(s.handle)
	}

	p.log.Info("pool resized",
		logger.Int("old_target", old),
		logger.Int("new_target", newSize),
		logger.Int("closed_now", len(toDispose)),
	)
	return nil
}

// EarliestUnblock returns the soonest rate-limit expiry for the site across
// all sessions, for operator-facing ETA reporting. ok is false when no
// session is rate-limited for the site.
func (p *Pool) EarliestUnblock(site string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.earliestUnblockLocked(site)
}

func (p *Pool) earliestUnblockLocked(site string) (time.Time, bool) {
	var earliest time.Time
	now := p.now()
	for _, s := range p.sessions {
		st, ok := s.sites[site]
		if !ok || st.Status != domain.SiteRateLimited || !now.Before(st.BlockedUntil) {
			continue
		}
		if earliest.IsZero() || st.BlockedUntil.Before(earliest) {
			earliest = st.BlockedUntil
		}
	}
	return earliest, !earliest.IsZero()
}

// Status reports the pool snapshot: sizes, per-session detail, per-site idle
// availability, and unblock ETAs for fully-blocked sites.
func (p *Pool) Status() domain.PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	st := domain.PoolStatus{
		SizeTotal:           len(p.sessions),
		Sessions:            make([]domain.SessionStatus, 0, len(p.sessions)),
		PerSiteAvailability: make(map[string]int),
	}

	siteNames := make(map[string]struct{})
	for _, s := range p.sessions {
		if s.busy {
			st.SizeBusy++
		} else {
			st.SizeIdle++
		}
		st.Sessions = append(st.Sessions, s.status())
		for name := range s.sites {
			siteNames[name] = struct{}{}
		}
	}

	for name := range siteNames {
		count := 0
		for _, s := range p.sessions {
			if s.eligible(name, now) {
				count++
			}
		}
		st.PerSiteAvailability[name] = count
		if count == 0 {
			if until, ok := p.earliestUnblockLocked(name); ok {
				if st.EarliestUnblock == nil {
					st.EarliestUnblock = make(map[string]time.Time)
				}
				st.EarliestUnblock[name] = until
			}
		}
	}

	return st
}

// Size returns the current number of sessions.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func (p *Pool) targetSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// Close shuts the pool down. Idle sessions are disposed immediately; busy
// ones are disposed as they are released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	var idle []*Session
	for _, s := range p.sessions {
		if !s.busy {
			idle = append(idle, s)
		}
	}
	for _, s := range idle {
		p.removeLocked(s)
	}
	p.notifyLocked()
	p.mu.Unlock()

	for _, s := range idle {
		p.disposeHandle(s.handle)
	}
	p.log.Info("session pool closed", logger.Int("disposed_idle", len(idle)))
}

// notifyLocked wakes all blocked acquirers.
func (p *Pool) notifyLocked() {
	close(p.waitCh)
	p.waitCh = make(chan struct{})
}

func (p *Pool) containsLocked(s *Session) bool {
	for _, cur := range p.sessions {
		if cur == s {
			return true
		}
	}
	return false
}

func (p *Pool) removeLocked(s *Session) {
	for i, cur := range p.sessions {
		if cur == s {
			p.sessions = append(p.sessions[:i], p.sessions[i+1:]...)
			return
		}
	}
}

func (p *Pool) firstIdleLocked() *Session {
	for _, s := range p.sessions {
		if !s.busy {
			return s
		}
	}
	return nil
}

func (p *Pool) disposeHandle(h browser.Handle) {
	if err := p.driver.Dispose(context.Background(), h); err != nil {
		p.log.Warn("session dispose failed",
			logger.String("session_id", h.ID()),
			logger.Error(err),
		)
	}
}
