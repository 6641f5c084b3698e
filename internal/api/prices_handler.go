package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/bookcrawl/internal/domain"
	"github.com/jonesrussell/bookcrawl/internal/logger"
	"github.com/jonesrussell/bookcrawl/internal/sites"
)

// PriceReader is the price-quote lookup surface the handler depends on.
type PriceReader interface {
	History(ctx context.Context, isbn, site string, limit int) ([]domain.PriceQuote, error)
}

// PricesHandler serves stored price quotes and their latest movement.
type PricesHandler struct {
	prices PriceReader
	log    logger.Logger
}

// NewPricesHandler creates a new prices handler.
func NewPricesHandler(prices PriceReader, log logger.Logger) *PricesHandler {
	return &PricesHandler{prices: prices, log: log}
}

// GetPrice handles GET /api/v1/prices/:isbn
func (h *PricesHandler) GetPrice(c *gin.Context) {
	isbn := c.Param("isbn")
	site := c.DefaultQuery("site", sites.SiteDuozhuayu)

	quotes, err := h.prices.History(c.Request.Context(), isbn, site, 2)
	if err != nil {
		h.log.Error("failed to get price history",
			logger.String("isbn", isbn),
			logger.String("site", site),
			logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve price",
		})
		return
	}
	if len(quotes) == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No price quote for this book",
		})
		return
	}

	resp := gin.H{
		"latest": quotes[0],
	}
	if len(quotes) > 1 {
		resp["previous"] = quotes[1]
		resp["change"] = quotes[0].Price - quotes[1].Price
	}
	c.JSON(http.StatusOK, resp)
}
