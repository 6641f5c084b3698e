package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/bookcrawl/internal/domain"
)

// ListingRepository handles database operations for shop inventory
// listings.
type ListingRepository struct {
	db *sqlx.DB
}

// NewListingRepository creates a new listing repository.
func NewListingRepository(db *sqlx.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

// UpsertBatch stores the listings found on a shop crawl, replacing the
// previous snapshot of any listing seen again.
func (r *ListingRepository) UpsertBatch(ctx context.Context, listings []domain.BookListing) error {
	if len(listings) == 0 {
		return nil
	}

	query := `
		INSERT INTO book_listings (isbn, item_id, shop_id, title, author, publisher, quality, price, url, seen_at)
		VALUES (:isbn, :item_id, :shop_id, :title, :author, :publisher, :quality, :price, :url, :seen_at)
		ON CONFLICT (shop_id, item_id) DO UPDATE
		SET isbn = EXCLUDED.isbn, title = EXCLUDED.title, author = EXCLUDED.author,
		    publisher = EXCLUDED.publisher, quality = EXCLUDED.quality,
		    price = EXCLUDED.price, url = EXCLUDED.url, seen_at = EXCLUDED.seen_at
	`

	if _, err := r.db.NamedExecContext(ctx, query, listings); err != nil {
		return fmt.Errorf("failed to upsert book listings: %w", err)
	}
	return nil
}

// ListByShop returns a shop's current listing snapshot.
func (r *ListingRepository) ListByShop(ctx context.Context, shopID string, limit, offset int) ([]domain.BookListing, error) {
	var listings []domain.BookListing
	query := `
		SELECT id, isbn, item_id, shop_id, title, author, publisher, quality, price, url, seen_at
		FROM book_listings
		WHERE shop_id = $1
		ORDER BY seen_at DESC, id
		LIMIT $2 OFFSET $3
	`

	err := r.db.SelectContext(ctx, &listings, query, shopID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list shop books: %w", err)
	}

	if listings == nil {
		listings = []domain.BookListing{}
	}

	return listings, nil
}
