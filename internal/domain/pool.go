package domain

import (
	"time"
)

// SiteStatus represents the availability of one site on one session.
type SiteStatus string

const (
	// SiteAvailable means the session may run tasks against the site.
	SiteAvailable SiteStatus = "available"
	// SiteRateLimited means the site throttled this session; expires at BlockedUntil.
	SiteRateLimited SiteStatus = "rate_limited"
	// SiteLoginRequired means the session's login on this site has lapsed.
	// Never expires by time; cleared only by operator action.
	SiteLoginRequired SiteStatus = "login_required"
	// SiteErrored means the last task against the site failed generically.
	SiteErrored SiteStatus = "errored"
)

// SiteStatusDetail reports the tracker state for one (session, site) pair.
type SiteStatusDetail struct {
	Status           SiteStatus `json:"status"`
	BlockedUntil     *time.Time `json:"blocked_until,omitempty"`
	ErrorCount       int        `json:"error_count"`
	LastSuccessAt    *time.Time `json:"last_success_at,omitempty"`
	LastErrorMessage string     `json:"last_error_message,omitempty"`
}

// SessionStatus reports one session's pool state.
type SessionStatus struct {
	ID        string                      `json:"id"`
	Busy      bool                        `json:"busy"`
	CreatedAt time.Time                   `json:"created_at"`
	UsedCount int                         `json:"used_count"`
	Sites     map[string]SiteStatusDetail `json:"sites"`
}

// PoolStatus is the operator-facing snapshot of the session pool.
type PoolStatus struct {
	SizeTotal int             `json:"size_total"`
	SizeIdle  int             `json:"size_idle"`
	SizeBusy  int             `json:"size_busy"`
	Sessions  []SessionStatus `json:"sessions"`

	// PerSiteAvailability counts idle sessions currently eligible per site.
	PerSiteAvailability map[string]int `json:"per_site_availability"`

	// EarliestUnblock is, per fully-blocked site, the soonest time a session
	// becomes eligible again. Absent for sites with capacity or for sites
	// blocked only by login (no ETA exists).
	EarliestUnblock map[string]time.Time `json:"earliest_unblock,omitempty"`
}
