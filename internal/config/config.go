// Package config provides configuration management for Vine.
package config

import (
	"strconv"
	"time"
)

// Config is the root configuration structure for Vine.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Client    ClientConfig    `mapstructure:"client"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind the server to
	Host string `mapstructure:"host"`

	// Port to listen on
	Port int `mapstructure:"port"`

	// Request timeouts
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// Maximum request body size in bytes
	MaxBodySize int64 `mapstructure:"max_body_size"`

	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// CORSConfig holds CORS settings for the admin frontend.
type CORSConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

// AllowedMethods returns the methods used by the admin API.
func (c CORSConfig) AllowedMethods() []string {
	return []string{"GET", "POST", "PUT", "OPTIONS"}
}

// AllowedHeaders returns the request headers accepted by the admin API.
func (c CORSConfig) AllowedHeaders() []string {
	return []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"}
}

// RateLimitConfig limits mutating admin requests per client address.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Sustained requests per second
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	// Burst size
	Burst int `mapstructure:"burst"`

	// Key clients on X-Real-IP / X-Forwarded-For instead of the connection
	// address. Enable only behind a proxy that sets these headers.
	TrustProxy bool `mapstructure:"trust_proxy"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Cache size in KB (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size"`

	// Busy timeout
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable foreign keys
	ForeignKeys bool `mapstructure:"foreign_keys"`

	// Maximum open connections
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// Maximum idle connections
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// Connection max lifetime
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig holds settings for the booking processor schedule.
type SchedulerConfig struct {
	// Interval used when the configuration row is first created
	DefaultIntervalMinutes int `mapstructure:"default_interval_minutes"`

	// Upper bound accepted for the repeat interval
	MaxIntervalMinutes int `mapstructure:"max_interval_minutes"`

	// How far back the first processing window starts
	InitialLookback time.Duration `mapstructure:"initial_lookback"`

	// Runs left in STARTED longer than this are marked failed by the sweep
	StaleThreshold time.Duration `mapstructure:"stale_threshold"`

	// How often the stale-run sweep runs (0 disables the background sweep)
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// Re-arm a previously enabled schedule after a restart
	ResumeOnStartup bool `mapstructure:"resume_on_startup"`

	// Engine worker pool size
	WorkerCount int `mapstructure:"worker_count"`
}

// ProcessorConfig holds settings for the booking export processor.
type ProcessorConfig struct {
	// Table bookings are read from
	SourceTable string `mapstructure:"source_table"`

	// Bucket exports are written to
	Bucket string `mapstructure:"bucket"`

	// Compression applied to exports (none, gzip, zstd)
	Compression string `mapstructure:"compression"`

	Storage StorageConfig `mapstructure:"storage"`
}

// StorageConfig selects the export backend.
type StorageConfig struct {
	// Backend type (filesystem or s3)
	Type string `mapstructure:"type"`

	// Base directory for the filesystem backend
	Path string `mapstructure:"path"`

	S3 *S3Config `mapstructure:"s3"`
}

// S3Config holds S3-compatible backend settings.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketPrefix    string `mapstructure:"bucket_prefix"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// AuthConfig holds admin API authentication settings.
type AuthConfig struct {
	// Secret for signing admin tokens (empty disables authentication)
	JWTSecret string `mapstructure:"jwt_secret"`

	// JWT issuer claim
	Issuer string `mapstructure:"issuer"`

	// Lifetime of tokens minted by `vine token`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`

	// Include caller info
	Caller bool `mapstructure:"caller"`

	// Output file (empty for stderr)
	Output string `mapstructure:"output"`
}

// ClientConfig is used by the admin CLI commands.
type ClientConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// AuthEnabled reports whether admin routes require a bearer token.
func (a *AuthConfig) AuthEnabled() bool {
	return a.JWTSecret != ""
}
