package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/bookcrawl/internal/domain"
	"github.com/jonesrussell/bookcrawl/internal/logger"
	"github.com/jonesrussell/bookcrawl/internal/sites"
)

const defaultSalesLimit = 200

// SalesReader is the sale-record lookup surface the handler depends on.
type SalesReader interface {
	ListByISBN(ctx context.Context, isbn string, limit int) ([]domain.SaleRecord, error)
}

// ListingsReader is the shop-inventory lookup surface.
type ListingsReader interface {
	ListByShop(ctx context.Context, shopID string, limit, offset int) ([]domain.BookListing, error)
}

// SalesHandler serves crawled sale records with derived statistics,
// and shop inventory snapshots.
type SalesHandler struct {
	sales    SalesReader
	listings ListingsReader
	log      logger.Logger
	now      func() time.Time
}

// NewSalesHandler creates a new sales handler.
func NewSalesHandler(sales SalesReader, listings ListingsReader, log logger.Logger) *SalesHandler {
	return &SalesHandler{sales: sales, listings: listings, log: log, now: time.Now}
}

// GetSales handles GET /api/v1/sales/:isbn
func (h *SalesHandler) GetSales(c *gin.Context) {
	isbn := c.Param("isbn")
	limit := queryInt(c, "limit", defaultSalesLimit)

	records, err := h.sales.ListByISBN(c.Request.Context(), isbn, limit)
	if err != nil {
		h.log.Error("failed to list sale records",
			logger.String("isbn", isbn),
			logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve sale records",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"stats":   sites.ComputeSalesStats(records, isbn, h.now()),
	})
}

// GetShopBooks handles GET /api/v1/shops/:id/books
func (h *SalesHandler) GetShopBooks(c *gin.Context) {
	shopID := c.Param("id")
	limit := queryInt(c, "limit", defaultLimit)
	offset := queryInt(c, "offset", defaultOffset)

	books, err := h.listings.ListByShop(c.Request.Context(), shopID, limit, offset)
	if err != nil {
		h.log.Error("failed to list shop books",
			logger.String("shop_id", shopID),
			logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve shop books",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"shop_id": shopID,
		"books":   books,
		"count":   len(books),
	})
}

// queryInt parses a non-negative integer query parameter, falling back
// to the default on absence or garbage.
func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(fallback)))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
