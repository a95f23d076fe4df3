package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func hasFieldError(err error, field string) bool {
	errs, ok := err.(ValidationErrors)
	if !ok {
		return false
	}
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, cfg.Server.Port)
	}

	if cfg.Database.Path != DefaultDBPath {
		t.Errorf("expected db path %s, got %s", DefaultDBPath, cfg.Database.Path)
	}

	if cfg.Scheduler.DefaultIntervalMinutes != 30 {
		t.Errorf("expected default interval 30, got %d", cfg.Scheduler.DefaultIntervalMinutes)
	}

	if cfg.Scheduler.WorkerCount != 10 {
		t.Errorf("expected 10 workers, got %d", cfg.Scheduler.WorkerCount)
	}

	if cfg.Scheduler.ResumeOnStartup {
		t.Error("expected resume_on_startup to be disabled by default")
	}

	if cfg.Auth.AuthEnabled() {
		t.Error("expected auth to be disabled without a secret")
	}

	if cfg.Server.RateLimit.TrustProxy {
		t.Error("expected rate limiter to ignore proxy headers by default")
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error for invalid port")
	}

	if _, ok := err.(ValidationErrors); !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if !hasFieldError(err, "server.port") {
		t.Error("expected error for server.port field")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "invalid"

	err := Validate(cfg)
	if !hasFieldError(err, "logging.level") {
		t.Errorf("expected logging.level error, got %v", err)
	}
}

func TestValidate_SchedulerBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SchedulerConfig)
		field  string
	}{
		{"zero default interval", func(c *SchedulerConfig) { c.DefaultIntervalMinutes = 0 }, "scheduler.default_interval_minutes"},
		{"default above max", func(c *SchedulerConfig) { c.DefaultIntervalMinutes = 2000 }, "scheduler.default_interval_minutes"},
		{"zero max", func(c *SchedulerConfig) { c.MaxIntervalMinutes = 0 }, "scheduler.max_interval_minutes"},
		{"short stale threshold", func(c *SchedulerConfig) { c.StaleThreshold = time.Second }, "scheduler.stale_threshold"},
		{"no workers", func(c *SchedulerConfig) { c.WorkerCount = 0 }, "scheduler.worker_count"},
		{"negative sweep", func(c *SchedulerConfig) { c.SweepInterval = -time.Minute }, "scheduler.sweep_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg.Scheduler)
			if err := Validate(cfg); !hasFieldError(err, tt.field) {
				t.Errorf("expected error for %s, got %v", tt.field, err)
			}
		})
	}
}

func TestValidate_Processor(t *testing.T) {
	cfg := Default()
	cfg.Processor.Compression = "brotli"
	if err := Validate(cfg); !hasFieldError(err, "processor.compression") {
		t.Errorf("expected compression error, got %v", err)
	}

	cfg = Default()
	cfg.Processor.Bucket = "../escape"
	if err := Validate(cfg); !hasFieldError(err, "processor.bucket") {
		t.Errorf("expected bucket error, got %v", err)
	}

	cfg = Default()
	cfg.Processor.Storage.Type = "s3"
	if err := Validate(cfg); !hasFieldError(err, "processor.storage.s3") {
		t.Errorf("expected s3 section error, got %v", err)
	}

	cfg.Processor.Storage.S3 = &S3Config{Region: "us-east-1"}
	if err := Validate(cfg); err != nil {
		t.Errorf("expected valid s3 config, got %v", err)
	}
}

func TestValidate_JWTSecret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		wantErr bool
	}{
		{"empty disables auth", "", false},
		{"too short", "short", true},
		{"valid", "this-is-a-very-long-secret-key-for-testing", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.JWTSecret = tt.secret
			err := Validate(cfg)
			if hasFieldError(err, "auth.jwt_secret") != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "vine.yaml")

	content := `
server:
  port: 9000
  host: "0.0.0.0"
database:
  path: "test.db"
scheduler:
  default_interval_minutes: 15
  stale_threshold: 45m
logging:
  level: "debug"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Server.Host)
	}

	if cfg.Database.Path != "test.db" {
		t.Errorf("expected db path test.db, got %s", cfg.Database.Path)
	}

	if cfg.Scheduler.DefaultIntervalMinutes != 15 {
		t.Errorf("expected interval 15, got %d", cfg.Scheduler.DefaultIntervalMinutes)
	}

	if cfg.Scheduler.StaleThreshold != 45*time.Minute {
		t.Errorf("expected stale threshold 45m, got %v", cfg.Scheduler.StaleThreshold)
	}

	if cfg.Scheduler.WorkerCount != DefaultWorkerCount {
		t.Errorf("expected default worker count, got %d", cfg.Scheduler.WorkerCount)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
}

func TestLoadFromFile_Invalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "vine.yaml")
	content := `
scheduler:
  worker_count: 0
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := LoadFromFile(configPath); !hasFieldError(err, "scheduler.worker_count") {
		t.Errorf("expected worker_count error, got %v", err)
	}
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("VINE_SERVER_PORT", "7777")
	t.Setenv("VINE_DATABASE_PATH", "env-test.db")
	t.Setenv("VINE_SCHEDULER_RESUME_ON_STARTUP", "true")
	t.Setenv("VINE_SERVER_RATE_LIMIT_TRUST_PROXY", "true")

	cfg, err := LoadWithDefaults()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("expected port 7777 from env, got %d", cfg.Server.Port)
	}

	if cfg.Database.Path != "env-test.db" {
		t.Errorf("expected db path env-test.db from env, got %s", cfg.Database.Path)
	}

	if !cfg.Scheduler.ResumeOnStartup {
		t.Error("expected resume_on_startup from env")
	}

	if !cfg.Server.RateLimit.TrustProxy {
		t.Error("expected rate_limit.trust_proxy from env")
	}
}

func TestLoadExpandsEnvReferences(t *testing.T) {
	t.Setenv("TEST_VINE_SECRET", "0123456789abcdef0123456789abcdef")

	configPath := filepath.Join(t.TempDir(), "vine.yaml")
	content := `
auth:
  jwt_secret: "${TEST_VINE_SECRET}"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Auth.JWTSecret != "0123456789abcdef0123456789abcdef" {
		t.Errorf("expected expanded secret, got %q", cfg.Auth.JWTSecret)
	}
}

func TestServerAddress(t *testing.T) {
	cfg := &ServerConfig{Host: "localhost", Port: 8090}
	if addr := cfg.Address(); addr != "localhost:8090" {
		t.Errorf("expected localhost:8090, got %s", addr)
	}
}

func TestConfigFilePath_Missing(t *testing.T) {
	if _, err := ConfigFilePath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
