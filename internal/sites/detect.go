package sites

import (
	"fmt"
	"strings"
)

// Marker phrases the marketplaces render on throttle and login
// interstitials. Checked against the page body after navigation.
var (
	rateLimitMarkers = []string{
		"访问过于频繁",
		"安全验证",
		"请完成验证",
		"captcha",
	}
	loginMarkers = []string{
		"请先登录",
		"登录后继续",
		"账号登录",
	}
	loginURLFragments = []string{
		"login.kongfz.com",
		"/login",
		"/signin",
	}
)

// classifyPage inspects the landed URL and body for throttle or login
// interstitials. Returns a wrapped sentinel error when one matched,
// nil when the page looks like real content.
func classifyPage(site, currentURL, body string) error {
	for _, frag := range loginURLFragments {
		if strings.Contains(currentURL, frag) {
			return fmt.Errorf("%s: redirected to %s: %w", site, currentURL, ErrLoginRequired)
		}
	}
	for _, marker := range rateLimitMarkers {
		if strings.Contains(body, marker) {
			return fmt.Errorf("%s: page shows %q: %w", site, marker, ErrRateLimited)
		}
	}
	for _, marker := range loginMarkers {
		if strings.Contains(body, marker) {
			return fmt.Errorf("%s: page shows %q: %w", site, marker, ErrLoginRequired)
		}
	}
	return nil
}
