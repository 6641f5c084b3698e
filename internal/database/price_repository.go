package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/bookcrawl/internal/domain"
)

// ErrNoQuote means no price quote exists for the requested book/site.
var ErrNoQuote = errors.New("no price quote")

// PriceRepository handles database operations for price quotes.
type PriceRepository struct {
	db *sqlx.DB
}

// NewPriceRepository creates a new price repository.
func NewPriceRepository(db *sqlx.DB) *PriceRepository {
	return &PriceRepository{db: db}
}

// Insert stores one price quote.
func (r *PriceRepository) Insert(ctx context.Context, quote *domain.PriceQuote) error {
	query := `
		INSERT INTO price_quotes (isbn, site, price, fetched_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query, quote.ISBN, quote.Site, quote.Price, quote.FetchedAt).
		Scan(&quote.ID)
	if err != nil {
		return fmt.Errorf("failed to insert price quote: %w", err)
	}
	return nil
}

// Latest returns the most recent quote for a book on a site.
func (r *PriceRepository) Latest(ctx context.Context, isbn, site string) (*domain.PriceQuote, error) {
	var quote domain.PriceQuote
	query := `
		SELECT id, isbn, site, price, fetched_at
		FROM price_quotes
		WHERE isbn = $1 AND site = $2
		ORDER BY fetched_at DESC
		LIMIT 1
	`

	err := r.db.GetContext(ctx, &quote, query, isbn, site)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s on %s", ErrNoQuote, isbn, site)
		}
		return nil, fmt.Errorf("failed to get price quote: %w", err)
	}

	return &quote, nil
}

// History returns the most recent quotes for a book on a site, newest
// first. Two rows are enough to report the latest price change.
func (r *PriceRepository) History(ctx context.Context, isbn, site string, limit int) ([]domain.PriceQuote, error) {
	var quotes []domain.PriceQuote
	query := `
		SELECT id, isbn, site, price, fetched_at
		FROM price_quotes
		WHERE isbn = $1 AND site = $2
		ORDER BY fetched_at DESC
		LIMIT $3
	`

	err := r.db.SelectContext(ctx, &quotes, query, isbn, site, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get price history: %w", err)
	}

	return quotes, nil
}

// StaleISBNs returns books whose newest quote on a site is older than
// the cutoff. Used to enqueue refresh tasks.
func (r *PriceRepository) StaleISBNs(ctx context.Context, site string, before time.Time, limit int) ([]string, error) {
	var isbns []string
	query := `
		SELECT isbn
		FROM price_quotes
		WHERE site = $1
		GROUP BY isbn
		HAVING max(fetched_at) < $2
		ORDER BY max(fetched_at) ASC
		LIMIT $3
	`

	err := r.db.SelectContext(ctx, &isbns, query, site, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale quotes: %w", err)
	}

	return isbns, nil
}
