package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// InitializeViper configures Viper for environment variables and config
// files. Must be called before LoadConfig.
func InitializeViper(cfgFile string) {
	loadEnvFile()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	setDefaults()
	readConfigFile()
}

// loadEnvFile loads .env file (ignores error if file doesn't exist).
func loadEnvFile() {
	_ = godotenv.Load()
}

// readConfigFile reads config file (ignores error if file doesn't exist).
func readConfigFile() {
	_ = viper.ReadInConfig()
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("server", map[string]any{
		"address":       "",
		"port":          defaultServerPort,
		"read_timeout":  defaultReadTimeoutSec,
		"write_timeout": defaultWriteTimeoutSec,
		"idle_timeout":  defaultIdleTimeoutSec,
		"debug":         false,
	})

	viper.SetDefault("database", map[string]any{
		"host":     defaultDBHost,
		"port":     defaultDBPort,
		"user":     defaultDBUser,
		"password": "",
		"name":     defaultDBName,
		"sslmode":  defaultDBSSLMode,
	})

	viper.SetDefault("pool", map[string]any{
		"size":            defaultPoolSize,
		"acquire_timeout": defaultAcquireTimeoutSec,
	})

	viper.SetDefault("governor", map[string]any{
		"capacity":               defaultGovernorCapacity,
		"refill_window":          defaultRefillWindowSec,
		"penalty_base":           defaultPenaltyBaseMin,
		"penalty_max_multiplier": defaultPenaltyMaxMultiple,
	})

	viper.SetDefault("scheduler", map[string]any{
		"tick_interval": defaultTickIntervalSec,
		"task_timeout":  defaultTaskTimeoutMin,
		"fetch_limit":   defaultFetchLimit,
	})

	viper.SetDefault("browser", map[string]any{
		"control_url": defaultControlURL,
		"start_url":   "",
	})

	viper.SetDefault("recurring", map[string]any{
		"enabled":                false,
		"price_refresh_schedule": defaultPriceRefreshSchedule,
		"stale_after":            defaultStaleAfterHours,
		"batch_limit":            defaultRefreshBatchLimit,
	})

	viper.SetDefault("logging", map[string]any{
		"level":        defaultLogLevel,
		"development":  false,
		"output_paths": []string{"stdout"},
	})
}

// LoadConfig builds a Config from Viper's merged view of defaults,
// config file, and environment.
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      viper.GetString("server.address"),
			Port:         viper.GetInt("server.port"),
			ReadTimeout:  secondsDuration("server.read_timeout"),
			WriteTimeout: secondsDuration("server.write_timeout"),
			IdleTimeout:  secondsDuration("server.idle_timeout"),
			Debug:        viper.GetBool("server.debug"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("database.host"),
			Port:     viper.GetString("database.port"),
			User:     viper.GetString("database.user"),
			Password: viper.GetString("database.password"),
			DBName:   viper.GetString("database.name"),
			SSLMode:  viper.GetString("database.sslmode"),
		},
		Pool: PoolConfig{
			Size:           viper.GetInt("pool.size"),
			AcquireTimeout: secondsDuration("pool.acquire_timeout"),
		},
		Governor: GovernorConfig{
			Capacity:             viper.GetInt("governor.capacity"),
			RefillWindow:         secondsDuration("governor.refill_window"),
			PenaltyBase:          minutesDuration("governor.penalty_base"),
			PenaltyMaxMultiplier: viper.GetInt("governor.penalty_max_multiplier"),
		},
		Scheduler: SchedulerConfig{
			TickInterval: secondsDuration("scheduler.tick_interval"),
			TaskTimeout:  minutesDuration("scheduler.task_timeout"),
			FetchLimit:   viper.GetInt("scheduler.fetch_limit"),
		},
		Browser: BrowserConfig{
			ControlURL: viper.GetString("browser.control_url"),
			StartURL:   viper.GetString("browser.start_url"),
		},
		Recurring: RecurringConfig{
			Enabled:              viper.GetBool("recurring.enabled"),
			PriceRefreshSchedule: viper.GetString("recurring.price_refresh_schedule"),
			StaleAfter:           hoursDuration("recurring.stale_after"),
			BatchLimit:           viper.GetInt("recurring.batch_limit"),
		},
		Logging: LoggingConfig{
			Level:       viper.GetString("logging.level"),
			Development: viper.GetBool("logging.development"),
			OutputPaths: viper.GetStringSlice("logging.output_paths"),
		},
	}
}

func secondsDuration(key string) time.Duration {
	return time.Duration(viper.GetInt(key)) * time.Second
}

func minutesDuration(key string) time.Duration {
	return time.Duration(viper.GetInt(key)) * time.Minute
}

func hoursDuration(key string) time.Duration {
	return time.Duration(viper.GetInt(key)) * time.Hour
}
