package session

import (
	"time"

	"github.com/jonesrussell/bookcrawl/internal/domain"
)

// SiteState is the availability record for one (session, site) pair.
// It is mutated only under the pool's lock; a session is held exclusively
// while busy, so no finer-grained protection is needed.
type SiteState struct {
	Status           domain.SiteStatus
	BlockedUntil     time.Time
	ErrorCount       int
	LastSuccessAt    time.Time
	LastErrorMessage string
}

func newSiteState() *SiteState {
	return &SiteState{Status: domain.SiteAvailable}
}

// available reports whether the site may be used, expiring a lapsed
// rate-limit window as a side effect. Expiry is lazy: there is no background
// sweeper, the state flips on the first read at or past the deadline.
// LOGIN_REQUIRED never expires by time.
func (s *SiteState) available(now time.Time) bool {
	switch s.Status {
	case domain.SiteAvailable, domain.SiteErrored:
		// ERRORED is soft: the session stays usable and the state clears on
		// the next success.
		return true
	case domain.SiteRateLimited:
		if !now.Before(s.BlockedUntil) {
			s.Status = domain.SiteAvailable
			s.BlockedUntil = time.Time{}
			return true
		}
		return false
	case domain.SiteLoginRequired:
		return false
	default:
		return false
	}
}

// markRateLimited records an externally observed throttle until the deadline.
func (s *SiteState) markRateLimited(until time.Time) {
	s.Status = domain.SiteRateLimited
	s.BlockedUntil = until
	s.ErrorCount++
}

// markLoginRequired records a lapsed login. Only clearLogin reverts this.
func (s *SiteState) markLoginRequired() {
	s.Status = domain.SiteLoginRequired
	s.BlockedUntil = time.Time{}
	s.ErrorCount++
}

// markErrored records a generic failure.
func (s *SiteState) markErrored(msg string) {
	s.Status = domain.SiteErrored
	s.ErrorCount++
	s.LastErrorMessage = msg
}

// markSuccess unconditionally returns the site to AVAILABLE and resets all
// failure bookkeeping.
func (s *SiteState) markSuccess(now time.Time) {
	s.Status = domain.SiteAvailable
	s.BlockedUntil = time.Time{}
	s.ErrorCount = 0
	s.LastSuccessAt = now
	s.LastErrorMessage = ""
}

// clearLogin reverts LOGIN_REQUIRED after the operator re-authenticated the
// session. No-op in any other state.
func (s *SiteState) clearLogin() bool {
	if s.Status != domain.SiteLoginRequired {
		return false
	}
	s.Status = domain.SiteAvailable
	return true
}

// detail converts the state to its report form.
func (s *SiteState) detail() domain.SiteStatusDetail {
	d := domain.SiteStatusDetail{
		Status:           s.Status,
		ErrorCount:       s.ErrorCount,
		LastErrorMessage: s.LastErrorMessage,
	}
	if !s.BlockedUntil.IsZero() {
		t := s.BlockedUntil
		d.BlockedUntil = &t
	}
	if !s.LastSuccessAt.IsZero() {
		t := s.LastSuccessAt
		d.LastSuccessAt = &t
	}
	return d
}
