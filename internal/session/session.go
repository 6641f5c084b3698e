package session

import (
	"time"

	"github.com/jonesrussell/bookcrawl/internal/browser"
	"github.com/jonesrussell/bookcrawl/internal/domain"
	"github.com/jonesrussell/bookcrawl/internal/ratelimit"
)

// Session is one pooled browser session: an authenticated handle plus the
// per-site availability states and the rate governor for that identity.
// All fields are owned by the pool and mutated under its lock; the handle is
// lent out exclusively while the session is busy.
type Session struct {
	id        string
	handle    browser.Handle
	busy      bool
	createdAt time.Time
	usedCount int
	sites     map[string]*SiteState
	governor  *ratelimit.Governor
}

// ID returns the session's stable identity (the handle's identity).
func (s *Session) ID() string {
	return s.id
}

// Handle returns the borrowed browser handle. Valid only while the caller
// holds the session between Acquire and Release.
func (s *Session) Handle() browser.Handle {
	return s.handle
}

// siteState returns the tracker record for a site, creating it on first use.
func (s *Session) siteState(site string) *SiteState {
	st, ok := s.sites[site]
	if !ok {
		st = newSiteState()
		s.sites[site] = st
	}
	return st
}

// eligible reports whether the session can take a task for the site right
// now: idle, site AVAILABLE per tracker (lazy-expiring), and token budget
// left. Tracker and bucket are checked independently.
func (s *Session) eligible(site string, now time.Time) bool {
	if s.busy {
		return false
	}
	if !s.siteState(site).available(now) {
		return false
	}
	return s.governor.HasCapacity()
}

// status converts the session to its report form.
func (s *Session) status() domain.SessionStatus {
	sites := make(map[string]domain.SiteStatusDetail, len(s.sites))
	for name, st := range s.sites {
		sites[name] = st.detail()
	}
	return domain.SessionStatus{
		ID:        s.id,
		Busy:      s.busy,
		CreatedAt: s.createdAt,
		UsedCount: s.usedCount,
		Sites:     sites,
	}
}
