// Package config provides configuration management for the crawl engine.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Default configuration values.
const (
	defaultServerPort      = 8070
	defaultReadTimeoutSec  = 30
	defaultWriteTimeoutSec = 30
	defaultIdleTimeoutSec  = 60

	defaultPoolSize           = 2
	defaultAcquireTimeoutSec  = 30
	defaultGovernorCapacity   = 10
	defaultRefillWindowSec    = 60
	defaultPenaltyBaseMin     = 6
	defaultPenaltyMaxMultiple = 3

	defaultTickIntervalSec = 1
	defaultTaskTimeoutMin  = 5
	defaultFetchLimit      = 50

	defaultControlURL = "http://localhost:9222"

	defaultDBHost    = "localhost"
	defaultDBPort    = "5432"
	defaultDBUser    = "postgres"
	defaultDBName    = "bookcrawl"
	defaultDBSSLMode = "disable"

	defaultPriceRefreshSchedule = "0 3 * * *"
	defaultStaleAfterHours      = 24
	defaultRefreshBatchLimit    = 200

	defaultLogLevel = "info"

	maxPoolSize = 16
)

// Config is the root configuration for the engine.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Pool      PoolConfig
	Governor  GovernorConfig
	Scheduler SchedulerConfig
	Browser   BrowserConfig
	Recurring RecurringConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Address      string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Debug        bool
}

// DatabaseConfig holds Postgres configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// PoolConfig holds session pool configuration.
type PoolConfig struct {
	Size           int
	AcquireTimeout time.Duration
}

// GovernorConfig holds per-session rate governor configuration.
type GovernorConfig struct {
	Capacity             int
	RefillWindow         time.Duration
	PenaltyBase          time.Duration
	PenaltyMaxMultiplier int
}

// SchedulerConfig holds dispatch loop configuration.
type SchedulerConfig struct {
	TickInterval time.Duration
	TaskTimeout  time.Duration
	FetchLimit   int
}

// BrowserConfig holds automation endpoint configuration.
type BrowserConfig struct {
	ControlURL string
	StartURL   string
}

// RecurringConfig holds the cron-driven price refresh configuration.
type RecurringConfig struct {
	Enabled              bool
	PriceRefreshSchedule string
	StaleAfter           time.Duration
	BatchLimit           int
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level       string
	Development bool
	OutputPaths []string
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Pool.Size < 1 || c.Pool.Size > maxPoolSize {
		return fmt.Errorf("pool size must be between 1 and %d, got %d", maxPoolSize, c.Pool.Size)
	}
	if c.Pool.AcquireTimeout <= 0 {
		return errors.New("pool acquire timeout must be positive")
	}
	if c.Governor.Capacity < 1 {
		return errors.New("governor capacity must be at least 1")
	}
	if c.Governor.RefillWindow <= 0 || c.Governor.PenaltyBase <= 0 {
		return errors.New("governor windows must be positive")
	}
	if c.Governor.PenaltyMaxMultiplier < 1 {
		return errors.New("governor penalty multiplier cap must be at least 1")
	}
	if c.Scheduler.TickInterval <= 0 || c.Scheduler.TaskTimeout <= 0 {
		return errors.New("scheduler intervals must be positive")
	}
	if c.Scheduler.FetchLimit < 1 {
		return errors.New("scheduler fetch limit must be at least 1")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Browser.ControlURL == "" {
		return errors.New("browser control URL is required")
	}
	return nil
}
