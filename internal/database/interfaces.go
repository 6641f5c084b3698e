package database

import (
	"context"
	"time"

	"github.com/jonesrussell/bookcrawl/internal/domain"
)

// TaskStore is the task persistence surface the scheduler and API
// depend on. *TaskRepository is the Postgres implementation; tests
// substitute in-memory fakes.
type TaskStore interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, id string) (*domain.Task, error)
	FetchPending(ctx context.Context, limit int) ([]*domain.Task, error)
	MarkRunning(ctx context.Context, id string, startedAt time.Time) error
	Finish(ctx context.Context, id string, status domain.TaskStatus, errorMessage string, endedAt time.Time) (bool, error)
	Cancel(ctx context.Context, id string, endedAt time.Time) error
	RetryFailed(ctx context.Context) (int64, error)
	List(ctx context.Context, status string, limit, offset int) ([]*domain.Task, error)
	StatsBySite(ctx context.Context) ([]TaskStat, error)
	CleanupOld(ctx context.Context, before time.Time) (int64, error)
}

// ResultStore persists what executors produce.
type ResultStore interface {
	SaveSales(ctx context.Context, records []domain.SaleRecord) error
	SaveListings(ctx context.Context, listings []domain.BookListing) error
	SaveQuote(ctx context.Context, quote *domain.PriceQuote) error
}

var _ TaskStore = (*TaskRepository)(nil)

// Results bundles the three result repositories behind ResultStore.
type Results struct {
	Sales    *SalesRepository
	Listings *ListingRepository
	Prices   *PriceRepository
}

func NewResults(sales *SalesRepository, listings *ListingRepository, prices *PriceRepository) *Results {
	return &Results{Sales: sales, Listings: listings, Prices: prices}
}

func (r *Results) SaveSales(ctx context.Context, records []domain.SaleRecord) error {
	return r.Sales.InsertBatch(ctx, records)
}

func (r *Results) SaveListings(ctx context.Context, listings []domain.BookListing) error {
	return r.Listings.UpsertBatch(ctx, listings)
}

func (r *Results) SaveQuote(ctx context.Context, quote *domain.PriceQuote) error {
	return r.Prices.Insert(ctx, quote)
}

var _ ResultStore = (*Results)(nil)
