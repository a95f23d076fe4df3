package config

import "time"

// Default configuration values.
const (
	// Server defaults.
	DefaultHost         = "localhost"
	DefaultPort         = 8080
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 120 * time.Second
	DefaultMaxBodySize  = 1024 * 1024 // 1MB

	// Database defaults.
	DefaultDBPath       = "vine.db"
	DefaultCacheSize    = -16000 // 16MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Scheduler defaults.
	DefaultIntervalMinutes    = 30
	DefaultMaxIntervalMinutes = 1440
	DefaultInitialLookback    = 30 * 24 * time.Hour
	DefaultStaleThreshold     = 2 * time.Hour
	DefaultSweepInterval      = 15 * time.Minute
	DefaultWorkerCount        = 10

	// Processor defaults.
	DefaultSourceTable = "bookings"
	DefaultBucket      = "bookings"
	DefaultStoragePath = "exports"

	// Auth defaults.
	DefaultIssuer   = "vine"
	DefaultTokenTTL = 24 * time.Hour

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	// Client defaults.
	DefaultClientURL     = "http://localhost:8080"
	DefaultClientTimeout = 30 * time.Second
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
			CORS: CORSConfig{
				Enabled:          true,
				AllowedOrigins:   []string{"*"},
				AllowCredentials: false,
				MaxAge:           12 * time.Hour,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 2,
				Burst:             10,
			},
		},
		Database: DatabaseConfig{
			Path:         DefaultDBPath,
			WALMode:      true,
			CacheSize:    DefaultCacheSize,
			BusyTimeout:  DefaultBusyTimeout,
			ForeignKeys:  true,
			MaxOpenConns: DefaultMaxOpenConns,
			MaxIdleConns: DefaultMaxIdleConns,
		},
		Scheduler: SchedulerConfig{
			DefaultIntervalMinutes: DefaultIntervalMinutes,
			MaxIntervalMinutes:     DefaultMaxIntervalMinutes,
			InitialLookback:        DefaultInitialLookback,
			StaleThreshold:         DefaultStaleThreshold,
			SweepInterval:          DefaultSweepInterval,
			ResumeOnStartup:        false,
			WorkerCount:            DefaultWorkerCount,
		},
		Processor: ProcessorConfig{
			SourceTable: DefaultSourceTable,
			Bucket:      DefaultBucket,
			Compression: "zstd",
			Storage: StorageConfig{
				Type: "filesystem",
				Path: DefaultStoragePath,
			},
		},
		Auth: AuthConfig{
			Issuer:   DefaultIssuer,
			TokenTTL: DefaultTokenTTL,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Client: ClientConfig{
			BaseURL: DefaultClientURL,
			Timeout: DefaultClientTimeout,
		},
	}
}
