package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"github.com/jonesrussell/bookcrawl/internal/logger"
)

// Default CDP connection settings.
const (
	// DefaultControlURL is the remote-debugging endpoint of the operator's
	// already-running, logged-in Chrome instance.
	DefaultControlURL = "http://localhost:9222"
	// DefaultNavigateTimeout bounds initial navigation of a new session.
	DefaultNavigateTimeout = 10 * time.Second
	// probeTimeout bounds the liveness probe round-trip.
	probeTimeout = 3 * time.Second
)

// Config holds CDP driver settings.
type Config struct {
	// ControlURL is the Chrome remote-debugging endpoint.
	ControlURL string `yaml:"control_url"`
	// StartURL is where fresh sessions navigate first, so the operator can
	// log in and the session picks up cookies for the target site.
	StartURL string `yaml:"start_url"`
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	if c.ControlURL == "" {
		c.ControlURL = DefaultControlURL
	}
}

// RodDriver drives sessions over CDP using go-rod, attached to an existing
// browser rather than launching one. Each session is an incognito-free page
// in the operator's browser so login state persists across tasks.
type RodDriver struct {
	browser *rod.Browser
	cfg     Config
	log     logger.Logger
}

// NewRodDriver connects to the remote-debugging endpoint and returns a driver.
func NewRodDriver(cfg Config, log logger.Logger) (*RodDriver, error) {
	cfg.SetDefaults()

	u, err := launcher.ResolveURL(cfg.ControlURL)
	if err != nil {
		return nil, fmt.Errorf("resolve control url %q: %w", cfg.ControlURL, err)
	}

	b := rod.New().ControlURL(u)
	if connectErr := b.Connect(); connectErr != nil {
		return nil, fmt.Errorf("connect to browser: %w", connectErr)
	}

	log.Info("connected to browser", logger.String("control_url", cfg.ControlURL))

	return &RodDriver{browser: b, cfg: cfg, log: log}, nil
}

// CreateSession opens a new page. If a start URL is configured the page
// navigates there so the operator can authenticate it.
func (d *RodDriver) CreateSession(ctx context.Context) (Handle, error) {
	page, err := d.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	h := &rodHandle{id: uuid.NewString(), page: page}

	if d.cfg.StartURL != "" {
		navCtx, cancel := context.WithTimeout(ctx, DefaultNavigateTimeout)
		defer cancel()
		if navErr := h.Navigate(navCtx, d.cfg.StartURL); navErr != nil {
			// A slow first load is not fatal; the session is still usable.
			d.log.Warn("initial navigation failed",
				logger.String("session_id", h.id),
				logger.Error(navErr),
			)
		}
	}

	d.log.Info("created browser session", logger.String("session_id", h.id))
	return h, nil
}

// Probe evaluates a trivial script on the page to confirm it is alive.
func (d *RodDriver) Probe(ctx context.Context, h Handle) error {
	rh, ok := h.(*rodHandle)
	if !ok {
		return fmt.Errorf("probe: foreign handle type %T", h)
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if _, err := rh.page.Context(probeCtx).Eval(`() => true`); err != nil {
		return fmt.Errorf("probe session %s: %w", rh.id, err)
	}
	return nil
}

// Dispose closes the page.
func (d *RodDriver) Dispose(ctx context.Context, h Handle) error {
	rh, ok := h.(*rodHandle)
	if !ok {
		return fmt.Errorf("dispose: foreign handle type %T", h)
	}

	if err := rh.page.Close(); err != nil {
		return fmt.Errorf("close session %s: %w", rh.id, err)
	}
	return nil
}

// Close disconnects from the browser without closing the operator's windows.
func (d *RodDriver) Close() error {
	return d.browser.Close()
}

// rodHandle wraps one rod page.
type rodHandle struct {
	id   string
	page *rod.Page
}

// ID returns the handle's stable identity.
func (h *rodHandle) ID() string {
	return h.id
}

// Navigate loads the URL and waits for the load event.
func (h *rodHandle) Navigate(ctx context.Context, url string) error {
	page := h.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for load of %s: %w", url, err)
	}
	return nil
}

// HTML returns the rendered document HTML.
func (h *rodHandle) HTML(ctx context.Context) (string, error) {
	html, err := h.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}

// CurrentURL returns the page's current location, or "" if unreachable.
func (h *rodHandle) CurrentURL() string {
	info, err := h.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}
