// Package ratelimit implements the per-session rate governor: a self-imposed
// token bucket plus an independent penalty window driven by externally
// observed throttling. The two layers are deliberately separate: a full
// bucket does not clear an active penalty and vice versa.
package ratelimit

import (
	"time"
)

// Clock returns the current time. Injectable for tests.
type Clock func() time.Time

// Default governor parameters.
const (
	// DefaultCapacity is the number of requests allowed per refill window.
	DefaultCapacity = 10
	// DefaultRefillWindow is the window over which the bucket fully refills.
	DefaultRefillWindow = 60 * time.Second
	// DefaultPenaltyBase is the base penalty applied on an observed throttle.
	DefaultPenaltyBase = 6 * time.Minute
	// DefaultPenaltyMaxMultiplier caps penalty escalation.
	DefaultPenaltyMaxMultiplier = 3
)

// Config holds governor parameters.
type Config struct {
	Capacity             int           `yaml:"capacity"`
	RefillWindow         time.Duration `yaml:"refill_window"`
	PenaltyBase          time.Duration `yaml:"penalty_base"`
	PenaltyMaxMultiplier int           `yaml:"penalty_max_multiplier"`
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.RefillWindow <= 0 {
		c.RefillWindow = DefaultRefillWindow
	}
	if c.PenaltyBase <= 0 {
		c.PenaltyBase = DefaultPenaltyBase
	}
	if c.PenaltyMaxMultiplier <= 0 {
		c.PenaltyMaxMultiplier = DefaultPenaltyMaxMultiplier
	}
}

// Governor tracks request budget and penalty state for one session.
// It is not safe for concurrent use on its own; the session pool serializes
// all access under its lock.
type Governor struct {
	capacity  float64
	refillPer float64 // tokens per second
	tokens    float64
	lastFill  time.Time

	penaltyBase   time.Duration
	penaltyMaxMul int
	blockedUntil  time.Time
	consecutive   int

	now Clock
}

// New creates a governor with a full bucket and no penalty.
func New(cfg Config, now Clock) *Governor {
	cfg.SetDefaults()
	if now == nil {
		now = time.Now
	}
	return &Governor{
		capacity:      float64(cfg.Capacity),
		refillPer:     float64(cfg.Capacity) / cfg.RefillWindow.Seconds(),
		tokens:        float64(cfg.Capacity),
		lastFill:      now(),
		penaltyBase:   cfg.PenaltyBase,
		penaltyMaxMul: cfg.PenaltyMaxMultiplier,
		now:           now,
	}
}

// refill credits tokens accrued since the last fill.
func (g *Governor) refill() {
	now := g.now()
	elapsed := now.Sub(g.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	g.tokens += elapsed * g.refillPer
	if g.tokens > g.capacity {
		g.tokens = g.capacity
	}
	g.lastFill = now
}

// Allow consumes one token if available. A false return means the session
// has hit its self-imposed ceiling and the caller should defer the request.
func (g *Governor) Allow() bool {
	g.refill()
	if g.tokens < 1 {
		return false
	}
	g.tokens--
	return true
}

// HasCapacity reports whether a token is available without consuming one.
func (g *Governor) HasCapacity() bool {
	g.refill()
	return g.tokens >= 1
}

// ApplyPenalty records an externally observed throttle and returns the new
// block deadline. Consecutive penalties escalate the window up to the
// configured multiplier cap.
func (g *Governor) ApplyPenalty() time.Time {
	g.consecutive++
	mul := g.consecutive
	if mul > g.penaltyMaxMul {
		mul = g.penaltyMaxMul
	}
	g.blockedUntil = g.now().Add(time.Duration(mul) * g.penaltyBase)
	return g.blockedUntil
}

// MarkSuccess resets penalty escalation after a classified success.
func (g *Governor) MarkSuccess() {
	g.consecutive = 0
	g.blockedUntil = time.Time{}
}

// Penalized reports whether an externally imposed penalty window is active.
func (g *Governor) Penalized() bool {
	return g.now().Before(g.blockedUntil)
}

// BlockedUntil returns the penalty deadline; zero when no penalty is active.
func (g *Governor) BlockedUntil() time.Time {
	if !g.Penalized() {
		return time.Time{}
	}
	return g.blockedUntil
}

// ConsecutivePenalties returns the current escalation count.
func (g *Governor) ConsecutivePenalties() int {
	return g.consecutive
}
