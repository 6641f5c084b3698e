package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/bookcrawl/internal/domain"
	"github.com/jonesrussell/bookcrawl/internal/logger"
	"github.com/jonesrussell/bookcrawl/internal/session"
)

// PoolControl is the slice of the session pool the API needs.
type PoolControl interface {
	Status() domain.PoolStatus
	Resize(newSize int) error
	ClearLoginRequired(sessionID, site string) error
}

// ResizeRequest is the body of POST /api/v1/pool/resize.
type ResizeRequest struct {
	Size int `json:"size" binding:"required"`
}

// ClearLoginRequest is the body of POST /api/v1/pool/sessions/:id/clear-login.
type ClearLoginRequest struct {
	Site string `json:"site" binding:"required"`
}

// PoolHandler handles session-pool HTTP requests.
type PoolHandler struct {
	pool PoolControl
	log  logger.Logger
}

// NewPoolHandler creates a new pool handler.
func NewPoolHandler(pool PoolControl, log logger.Logger) *PoolHandler {
	return &PoolHandler{pool: pool, log: log}
}

// Status handles GET /api/v1/pool/status
func (h *PoolHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.pool.Status())
}

// Resize handles POST /api/v1/pool/resize
func (h *PoolHandler) Resize(c *gin.Context) {
	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	if err := h.pool.Resize(req.Size); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	h.log.Info("pool resize requested", logger.Int("size", req.Size))
	c.JSON(http.StatusOK, h.pool.Status())
}

// ClearLogin handles POST /api/v1/pool/sessions/:id/clear-login.
// Operators call this after signing the session back in through the
// attached browser.
func (h *PoolHandler) ClearLogin(c *gin.Context) {
	id := c.Param("id")

	var req ClearLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	err := h.pool.ClearLoginRequired(id, req.Site)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrUnknownSession):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Session not found",
			})
		case errors.Is(err, session.ErrNotLoginRequired):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Session is not login-blocked for this site",
			})
		default:
			h.log.Error("failed to clear login state",
				logger.String("session_id", id),
				logger.String("site", req.Site),
				logger.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to clear login state",
			})
		}
		return
	}

	h.log.Info("login state cleared",
		logger.String("session_id", id),
		logger.String("site", req.Site))
	c.JSON(http.StatusOK, gin.H{
		"status": "cleared",
	})
}
