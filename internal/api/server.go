// Package api implements the HTTP API for the crawl engine: task
// submission and inspection, pool status and control, and recovery
// hooks for operator intervention.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/bookcrawl/internal/config"
	"github.com/jonesrussell/bookcrawl/internal/logger"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and its router.
type Server struct {
	cfg  config.ServerConfig
	log  logger.Logger
	http *http.Server
}

// NewServer creates the API server around a configured router.
func NewServer(cfg config.ServerConfig, log logger.Logger, router *gin.Engine) *Server {
	return &Server{
		cfg: cfg,
		log: log,
		http: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.log.Info("starting API server", logger.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.log.Info("stopping API server")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

// SetupRouter creates and configures the Gin router with all routes.
func SetupRouter(
	log logger.Logger,
	tasks *TasksHandler,
	pool *PoolHandler,
	prices *PricesHandler,
	sales *SalesHandler,
	debug bool,
) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(log))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/tasks", tasks.CreateTask)
		v1.GET("/tasks", tasks.ListTasks)
		v1.GET("/tasks/stats", tasks.Stats)
		v1.GET("/tasks/:id", tasks.GetTask)
		v1.POST("/tasks/:id/cancel", tasks.CancelTask)
		v1.POST("/tasks/retry-failed", tasks.RetryFailed)

		v1.GET("/prices/:isbn", prices.GetPrice)
		v1.GET("/sales/:isbn", sales.GetSales)
		v1.GET("/shops/:id/books", sales.GetShopBooks)

		v1.GET("/pool/status", pool.Status)
		v1.POST("/pool/resize", pool.Resize)
		v1.POST("/pool/sessions/:id/clear-login", pool.ClearLogin)
	}

	return router
}

// loggingMiddleware logs each request with latency and status.
func loggingMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug("http request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)))
	}
}
