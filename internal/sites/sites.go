// Package sites contains the per-marketplace crawl executors. An
// executor drives a browser handle through one task and parses what it
// finds; it reports throttling and expired logins through sentinel
// errors so the caller can update session state.
package sites

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jonesrussell/bookcrawl/internal/browser"
	"github.com/jonesrussell/bookcrawl/internal/domain"
)

// Site names as stored on tasks and tracked by the session pool.
const (
	SiteKongfuzi  = "kongfuzi"
	SiteDuozhuayu = "duozhuayu"
)

// Sentinel errors an executor wraps when the page indicates the
// session is throttled or logged out rather than the task failing on
// its own terms.
var (
	ErrRateLimited   = errors.New("rate limited by site")
	ErrLoginRequired = errors.New("login required")
)

// Result is what a successful execution produced. Only the fields
// relevant to the task type are populated.
type Result struct {
	ItemsCrawled int
	Sales        []domain.SaleRecord
	Books        []domain.BookListing
	Price        *domain.PriceQuote
}

// Executor runs one crawl task against a live browser handle.
type Executor interface {
	Site() string
	Supports(taskType domain.TaskType) bool
	Execute(ctx context.Context, h browser.Handle, task *domain.Task) (*Result, error)
}

// Registry maps site names to their executors.
type Registry struct {
	executors map[string]Executor
}

func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{executors: make(map[string]Executor, len(executors))}
	for _, e := range executors {
		r.executors[e.Site()] = e
	}
	return r
}

func (r *Registry) Register(e Executor) {
	r.executors[e.Site()] = e
}

// Lookup returns the executor for a task, validating that the site is
// known and the executor handles the task's type.
func (r *Registry) Lookup(task *domain.Task) (Executor, error) {
	e, ok := r.executors[task.TargetSite]
	if !ok {
		return nil, fmt.Errorf("no executor registered for site %q", task.TargetSite)
	}
	if !e.Supports(task.Type) {
		return nil, fmt.Errorf("site %q does not support task type %q", task.TargetSite, task.Type)
	}
	return e, nil
}

// Sites returns the registered site names in stable order.
func (r *Registry) Sites() []string {
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
