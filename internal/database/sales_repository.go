package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/bookcrawl/internal/domain"
)

// SalesRepository handles database operations for observed sale records.
type SalesRepository struct {
	db *sqlx.DB
}

// NewSalesRepository creates a new sales repository.
func NewSalesRepository(db *sqlx.DB) *SalesRepository {
	return &SalesRepository{db: db}
}

// InsertBatch stores a batch of sale records from one crawl.
func (r *SalesRepository) InsertBatch(ctx context.Context, records []domain.SaleRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := `
		INSERT INTO sale_records (isbn, site, shop_id, title, price, quality, sold_at, seen_at)
		VALUES (:isbn, :site, :shop_id, :title, :price, :quality, :sold_at, :seen_at)
	`

	if _, err := r.db.NamedExecContext(ctx, query, records); err != nil {
		return fmt.Errorf("failed to insert sale records: %w", err)
	}
	return nil
}

// ListByISBN returns the most recent sale records for a book.
func (r *SalesRepository) ListByISBN(ctx context.Context, isbn string, limit int) ([]domain.SaleRecord, error) {
	var records []domain.SaleRecord
	query := `
		SELECT id, isbn, site, shop_id, title, price, quality, sold_at, seen_at
		FROM sale_records
		WHERE isbn = $1
		ORDER BY sold_at DESC
		LIMIT $2
	`

	err := r.db.SelectContext(ctx, &records, query, isbn, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sale records: %w", err)
	}

	if records == nil {
		records = []domain.SaleRecord{}
	}

	return records, nil
}
