package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/bookcrawl/internal/database"
	"github.com/jonesrussell/bookcrawl/internal/domain"
)

func newMockPriceRepo(t *testing.T) (*database.PriceRepository, sqlmock.Sqlmock, func()) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	db := sqlx.NewDb(mockDB, "postgres")
	return database.NewPriceRepository(db), mock, func() { mockDB.Close() }
}

func TestPriceRepository_Insert(t *testing.T) {
	repo, mock, done := newMockPriceRepo(t)
	defer done()

	quote := &domain.PriceQuote{
		ISBN:      "9787020002207",
		Site:      "duozhuayu",
		Price:     18.5,
		FetchedAt: time.Now(),
	}

	mock.ExpectQuery("INSERT INTO price_quotes").
		WithArgs(quote.ISBN, quote.Site, quote.Price, quote.FetchedAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	if err := repo.Insert(context.Background(), quote); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if quote.ID != 42 {
		t.Errorf("expected quote.ID=42, got %d", quote.ID)
	}
}

func TestPriceRepository_Latest_NoQuote(t *testing.T) {
	repo, mock, done := newMockPriceRepo(t)
	defer done()

	mock.ExpectQuery("SELECT (.+) FROM price_quotes").
		WithArgs("9787020002207", "duozhuayu").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Latest(context.Background(), "9787020002207", "duozhuayu")
	if !errors.Is(err, database.ErrNoQuote) {
		t.Fatalf("expected ErrNoQuote, got %v", err)
	}
}

func TestPriceRepository_StaleISBNs(t *testing.T) {
	repo, mock, done := newMockPriceRepo(t)
	defer done()

	before := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery("SELECT isbn FROM price_quotes").
		WithArgs("duozhuayu", before, 100).
		WillReturnRows(sqlmock.NewRows([]string{"isbn"}).AddRow("111").AddRow("222"))

	isbns, err := repo.StaleISBNs(context.Background(), "duozhuayu", before, 100)
	if err != nil {
		t.Fatalf("StaleISBNs() error = %v", err)
	}
	if len(isbns) != 2 || isbns[0] != "111" {
		t.Errorf("unexpected isbns: %v", isbns)
	}
}

func TestPriceRepository_History(t *testing.T) {
	repo, mock, done := newMockPriceRepo(t)
	defer done()

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM price_quotes").
		WithArgs("9787020002207", "duozhuayu", 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "isbn", "site", "price", "fetched_at"}).
			AddRow(int64(2), "9787020002207", "duozhuayu", 18.5, now).
			AddRow(int64(1), "9787020002207", "duozhuayu", 21.0, now.Add(-24*time.Hour)))

	quotes, err := repo.History(context.Background(), "9787020002207", "duozhuayu", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(quotes))
	}
	if quotes[0].Price != 18.5 || quotes[1].Price != 21.0 {
		t.Errorf("unexpected prices: %v, %v", quotes[0].Price, quotes[1].Price)
	}
}
