package config

import (
	"fmt"
	"strings"
	"time"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateProcessor(&cfg.Processor)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateServer(cfg *ServerConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: "must be between 1 and 65535",
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.read_timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.WriteTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.write_timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.MaxBodySize < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.max_body_size",
			Message: "must be non-negative",
		})
	}

	if cfg.CORS.Enabled && cfg.CORS.AllowCredentials {
		for _, origin := range cfg.CORS.AllowedOrigins {
			if origin == "*" {
				errs = append(errs, ValidationError{
					Field:   "server.cors",
					Message: "security: allow_credentials=true with allowed_origins=[\"*\"] is insecure",
				})
				break
			}
		}
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RequestsPerSecond <= 0 {
			errs = append(errs, ValidationError{
				Field:   "server.rate_limit.requests_per_second",
				Message: "must be positive",
			})
		}
		if cfg.RateLimit.Burst < 1 {
			errs = append(errs, ValidationError{
				Field:   "server.rate_limit.burst",
				Message: "must be at least 1",
			})
		}
	}

	return errs
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "database.path",
			Message: "required",
		})
	}

	if cfg.MaxOpenConns < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.max_open_conns",
			Message: "must be non-negative",
		})
	}

	if cfg.BusyTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.busy_timeout",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateScheduler(cfg *SchedulerConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.MaxIntervalMinutes < 1 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.max_interval_minutes",
			Message: "must be at least 1",
		})
	}

	if cfg.DefaultIntervalMinutes < 1 || (cfg.MaxIntervalMinutes >= 1 && cfg.DefaultIntervalMinutes > cfg.MaxIntervalMinutes) {
		errs = append(errs, ValidationError{
			Field:   "scheduler.default_interval_minutes",
			Message: "must be between 1 and max_interval_minutes",
		})
	}

	if cfg.InitialLookback < 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.initial_lookback",
			Message: "must be non-negative",
		})
	}

	if cfg.StaleThreshold < time.Minute {
		errs = append(errs, ValidationError{
			Field:   "scheduler.stale_threshold",
			Message: "must be at least 1 minute",
		})
	}

	if cfg.SweepInterval < 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.sweep_interval",
			Message: "must be non-negative",
		})
	}

	if cfg.WorkerCount < 1 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.worker_count",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateProcessor(cfg *ProcessorConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.SourceTable == "" {
		errs = append(errs, ValidationError{
			Field:   "processor.source_table",
			Message: "required",
		})
	}

	if cfg.Bucket == "" || strings.Contains(cfg.Bucket, "..") || strings.Contains(cfg.Bucket, "/") {
		errs = append(errs, ValidationError{
			Field:   "processor.bucket",
			Message: "required and must not contain path separators or traversal (..)",
		})
	}

	validCompression := map[string]bool{"": true, "none": true, "gzip": true, "zstd": true}
	if !validCompression[cfg.Compression] {
		errs = append(errs, ValidationError{
			Field:   "processor.compression",
			Message: "must be one of: none, gzip, zstd",
		})
	}

	switch cfg.Storage.Type {
	case "filesystem":
		if cfg.Storage.Path == "" {
			errs = append(errs, ValidationError{
				Field:   "processor.storage.path",
				Message: "required when type is 'filesystem'",
			})
		}
		if strings.Contains(cfg.Storage.Path, "..") {
			errs = append(errs, ValidationError{
				Field:   "processor.storage.path",
				Message: "path traversal (..) not allowed",
			})
		}

	case "s3":
		if cfg.Storage.S3 == nil {
			errs = append(errs, ValidationError{
				Field:   "processor.storage.s3",
				Message: "required when type is 's3'",
			})
			break
		}
		if cfg.Storage.S3.Region == "" {
			errs = append(errs, ValidationError{
				Field:   "processor.storage.s3.region",
				Message: "required",
			})
		}
		if strings.Contains(cfg.Storage.S3.BucketPrefix, "/") {
			errs = append(errs, ValidationError{
				Field:   "processor.storage.s3.bucket_prefix",
				Message: "must not contain path separators",
			})
		}

	default:
		errs = append(errs, ValidationError{
			Field:   "processor.storage.type",
			Message: "must be 'filesystem' or 's3'",
		})
	}

	return errs
}

func validateAuth(cfg *AuthConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < 32 {
		errs = append(errs, ValidationError{
			Field:   "auth.jwt_secret",
			Message: "must be at least 32 characters",
		})
	}

	if cfg.TokenTTL < time.Second {
		errs = append(errs, ValidationError{
			Field:   "auth.token_ttl",
			Message: "must be at least 1 second",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[cfg.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: trace, debug, info, warn, error, fatal, panic",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'console'",
		})
	}

	return errs
}
