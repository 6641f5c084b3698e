// Package browser abstracts the browser-automation driver. The engine only
// ever sees opaque session handles; launching, transport, and page internals
// stay behind the Driver interface.
package browser

import (
	"context"
)

// Handle is one authenticated browser page/context. The session pool owns
// handles exclusively; a task borrows one for the duration of its execution.
type Handle interface {
	// ID returns the handle's stable identity.
	ID() string
	// Navigate loads the given URL and waits for the document to load.
	Navigate(ctx context.Context, url string) error
	// HTML returns the current page's rendered HTML.
	HTML(ctx context.Context) (string, error)
	// CurrentURL returns the page's current location.
	CurrentURL() string
}

// Driver creates, probes, and tears down session handles. All three are
// fallible I/O calls against the automation endpoint; no internal retry is
// assumed.
type Driver interface {
	// CreateSession opens a fresh browser page/context.
	CreateSession(ctx context.Context) (Handle, error)
	// Probe cheaply checks that a handle is still alive. A non-nil error
	// means the handle is dead and must be replaced.
	Probe(ctx context.Context, h Handle) error
	// Dispose closes a handle and frees its resources.
	Dispose(ctx context.Context, h Handle) error
}
