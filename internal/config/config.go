package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

type AuditLogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Format  string `mapstructure:"format"`
}

// RetryConfig carries optional overrides; nil fields keep the defaults of
// the component that consumes them.
type RetryConfig struct {
	Enabled         *bool          `mapstructure:"enabled"`
	MaxRetries      *int           `mapstructure:"max_retries"`
	InitialInterval *time.Duration `mapstructure:"initial_interval"`
	MaxInterval     *time.Duration `mapstructure:"max_interval"`
	Multiplier      *float64       `mapstructure:"multiplier"`
	Randomization   *float64       `mapstructure:"randomization"`
}

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Holiday  HolidayConfig  `mapstructure:"holiday"`
	Content  ContentConfig  `mapstructure:"content"`
	Images   ImagesConfig   `mapstructure:"images"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	AuditLog AuditLogConfig `mapstructure:"audit_log"`
}

type AppConfig struct {
	Env            string        `mapstructure:"env"`
	Timezone       string        `mapstructure:"timezone"`
	AccountsDir    string        `mapstructure:"accounts_dir"`
	DryRun         bool          `mapstructure:"dry_run"`
	Concurrency    int           `mapstructure:"concurrency"`
	RandomSeed     int64         `mapstructure:"random_seed"`
	JitterMeters   float64       `mapstructure:"jitter_meters"`
	AccountTimeout time.Duration `mapstructure:"account_timeout"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ScheduleConfig struct {
	Specs      []string `mapstructure:"specs"`
	RunOnStart bool     `mapstructure:"run_on_start"`
}

// MinRecordTTL is the shortest record lifetime that still covers the
// longest period, a 31-day month, plus a day of slack.
const MinRecordTTL = 32 * 24 * time.Hour

type StoreConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	RecordTTL       time.Duration `mapstructure:"record_ttl"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	Retry           RetryConfig   `mapstructure:"retry"`
}

type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	MaxRetries   int    `mapstructure:"max_retries"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

type GatewayConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	UploadURL  string        `mapstructure:"upload_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	SignSalt   string        `mapstructure:"sign_salt"`
	UserAgent  string        `mapstructure:"user_agent"`
	AppVersion string        `mapstructure:"app_version"`
	Retry      RetryConfig   `mapstructure:"retry"`
}

type HolidayConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ContentConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MinWords   int           `mapstructure:"min_words"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type ImagesConfig struct {
	Dir      string `mapstructure:"dir"`
	MaxBytes int    `mapstructure:"max_bytes"`
	MaxEdge  int    `mapstructure:"max_edge"`
}

type NotifyConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Breaker CBConfig      `mapstructure:"breaker"`
}

type CBConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	MaxFailures      uint32        `mapstructure:"max_failures"`
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	PushGatewayURL string `mapstructure:"push_gateway_url"`
	JobName        string `mapstructure:"job_name"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	cfg := &Config{
		App: AppConfig{
			Env:            getEnv("ENV", "development"),
			Timezone:       getEnv("TIMEZONE", "Asia/Shanghai"),
			AccountsDir:    getEnv("ACCOUNTS_DIR", "./user"),
			DryRun:         getEnvAsBool("DRY_RUN", false),
			Concurrency:    getEnvAsInt("CONCURRENCY", 4),
			RandomSeed:     getEnvAsInt64("RANDOM_SEED", 0),
			JitterMeters:   getEnvAsFloat("JITTER_METERS", 30),
			AccountTimeout: getEnvAsDuration("ACCOUNT_TIMEOUT", 5*time.Minute),
		},
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Schedule: ScheduleConfig{
			// Cron specs may contain commas, so entries are separated by ";".
			Specs:      getEnvAsSplit("RUN_SCHEDULES", ";", []string{"30 8 * * *", "30 18 * * *"}),
			RunOnStart: getEnvAsBool("RUN_ON_START", false),
		},
		Store: StoreConfig{
			Driver:          getEnv("STORE_DRIVER", "sqlite3"),
			DSN:             getEnv("STORE_DSN", "file:autopunch.db?_busy_timeout=5000&_journal_mode=WAL"),
			MaxOpenConns:    getEnvAsInt("STORE_MAX_OPEN_CONNS", 4),
			MaxIdleConns:    getEnvAsInt("STORE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getEnvAsDuration("STORE_CONN_MAX_LIFETIME", 5*time.Minute),
			RecordTTL:       getEnvAsDuration("STORE_RECORD_TTL", 0),
			AutoMigrate:     getEnvAsBool("STORE_AUTO_MIGRATE", true),
			Retry: RetryConfig{
				Enabled:         getEnvAsBoolPtr("STORE_RETRY_ENABLED", true),
				MaxRetries:      getEnvAsIntPtr("STORE_RETRY_MAX_RETRIES", 3),
				InitialInterval: getEnvAsDurationPtr("STORE_RETRY_INITIAL_INTERVAL", 100*time.Millisecond),
				MaxInterval:     getEnvAsDurationPtr("STORE_RETRY_MAX_INTERVAL", 2*time.Second),
				Multiplier:      getEnvAsFloatPtr("STORE_RETRY_MULTIPLIER", 2.0),
				Randomization:   getEnvAsFloatPtr("STORE_RETRY_RANDOMIZATION", 0.2),
			},
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnv("REDIS_PORT", "6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			MaxRetries:   getEnvAsInt("REDIS_MAX_RETRIES", 3),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 2),
			KeyPrefix:    getEnv("REDIS_KEY_PREFIX", "autopunch"),
		},
		Gateway: GatewayConfig{
			BaseURL:    getEnv("GATEWAY_BASE_URL", "https://api.moguding.net:9000/"),
			UploadURL:  getEnv("GATEWAY_UPLOAD_URL", "https://up.qiniup.com/"),
			Timeout:    getEnvAsDuration("GATEWAY_TIMEOUT", 10*time.Second),
			SignSalt:   getEnv("GATEWAY_SIGN_SALT", ""),
			UserAgent:  getEnv("GATEWAY_USER_AGENT", "Dart/2.17 (dart:io)"),
			AppVersion: getEnv("GATEWAY_APP_VERSION", "5.15.0"),
			Retry: RetryConfig{
				Enabled:         getEnvAsBoolPtr("EXTERNAL_RETRY_ENABLED", true),
				MaxRetries:      getEnvAsIntPtr("EXTERNAL_MAX_RETRIES", 3),
				InitialInterval: getEnvAsDurationPtr("EXTERNAL_RETRY_INITIAL_INTERVAL", time.Second),
				MaxInterval:     getEnvAsDurationPtr("EXTERNAL_RETRY_MAX_INTERVAL", 8*time.Second),
				Multiplier:      getEnvAsFloatPtr("EXTERNAL_RETRY_MULTIPLIER", 2.0),
				Randomization:   getEnvAsFloatPtr("EXTERNAL_RETRY_RANDOMIZATION", 0.2),
			},
		},
		Holiday: HolidayConfig{
			Enabled: getEnvAsBool("HOLIDAY_LOOKUP_ENABLED", true),
			BaseURL: getEnv("HOLIDAY_BASE_URL", "https://raw.githubusercontent.com/NateScarlet/holiday-cn/master/"),
			Timeout: getEnvAsDuration("HOLIDAY_TIMEOUT", 10*time.Second),
		},
		Content: ContentConfig{
			Timeout:    getEnvAsDuration("CONTENT_TIMEOUT", 30*time.Second),
			MinWords:   getEnvAsInt("CONTENT_MIN_WORDS", 500),
			MaxRetries: getEnvAsInt("CONTENT_MAX_RETRIES", 3),
		},
		Images: ImagesConfig{
			Dir:      getEnv("IMAGES_DIR", "./images"),
			MaxBytes: getEnvAsInt("IMAGES_MAX_BYTES", 1_000_000),
			MaxEdge:  getEnvAsInt("IMAGES_MAX_EDGE", 1920),
		},
		Notify: NotifyConfig{
			Timeout: getEnvAsDuration("NOTIFY_TIMEOUT", 10*time.Second),
			Breaker: CBConfig{
				Enabled:          getEnvAsBool("NOTIFY_BREAKER_ENABLED", true),
				MaxFailures:      uint32(getEnvAsInt("NOTIFY_BREAKER_MAX_FAILURES", 3)),
				FailureThreshold: getEnvAsFloat("NOTIFY_BREAKER_FAILURE_THRESHOLD", 0.6),
				ResetTimeout:     getEnvAsDuration("NOTIFY_BREAKER_RESET_TIMEOUT", time.Minute),
			},
		},
		Logging: LoggingConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", "json"),
		},
		Metrics: MetricsConfig{
			Enabled:        getEnvAsBool("ENABLE_METRICS", true),
			PushGatewayURL: getEnv("METRICS_PUSH_GATEWAY_URL", ""),
			JobName:        getEnv("METRICS_JOB_NAME", "autopunch"),
		},
		AuditLog: AuditLogConfig{
			Enabled: getEnvAsBool("AUDIT_LOG_ENABLED", true),
			Path:    getEnv("AUDIT_LOG_PATH", ""),
			Format:  getEnv("AUDIT_LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// Location resolves the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) Validate() error {
	if err := c.validateDependencies(); err != nil {
		return err
	}

	if c.App.Env == "production" {
		if err := c.validateProduction(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateDependencies() error {
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q is not a valid IANA zone: %w", c.App.Timezone, err)
	}
	if c.App.AccountsDir == "" {
		return fmt.Errorf("ACCOUNTS_DIR is required")
	}
	if c.App.Concurrency < 1 {
		return fmt.Errorf("CONCURRENCY must be at least 1")
	}
	if c.App.JitterMeters < 0 {
		return fmt.Errorf("JITTER_METERS cannot be negative")
	}
	if c.App.AccountTimeout <= 0 {
		return fmt.Errorf("ACCOUNT_TIMEOUT must be greater than 0")
	}

	switch c.Store.Driver {
	case "sqlite3", "mysql", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("STORE_DSN is required for driver %s", c.Store.Driver)
		}
		if c.Store.MaxIdleConns > c.Store.MaxOpenConns {
			return fmt.Errorf("STORE_MAX_IDLE_CONNS cannot exceed STORE_MAX_OPEN_CONNS")
		}
	case "redis":
		if c.Redis.Host == "" {
			return fmt.Errorf("redis host required when STORE_DRIVER=redis")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be one of sqlite3, mysql, postgres, redis, memory")
	}
	if c.Store.RecordTTL != 0 && c.Store.RecordTTL < MinRecordTTL {
		return fmt.Errorf("STORE_RECORD_TTL must be 0 (keep forever) or at least %s so monthly records outlive their period", MinRecordTTL)
	}

	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("GATEWAY_BASE_URL is required")
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be greater than 0")
	}
	if c.Gateway.Retry.MaxRetries != nil && *c.Gateway.Retry.MaxRetries < 1 {
		return fmt.Errorf("EXTERNAL_MAX_RETRIES must be at least 1")
	}
	if c.Content.Timeout <= 0 {
		return fmt.Errorf("CONTENT_TIMEOUT must be greater than 0")
	}

	if c.Notify.Breaker.Enabled {
		if c.Notify.Breaker.MaxFailures < 1 {
			return fmt.Errorf("NOTIFY_BREAKER_MAX_FAILURES must be at least 1 when the breaker is enabled")
		}
		if c.Notify.Breaker.FailureThreshold <= 0 || c.Notify.Breaker.FailureThreshold > 1.0 {
			return fmt.Errorf("NOTIFY_BREAKER_FAILURE_THRESHOLD must be between 0 and 1.0")
		}
		if c.Notify.Breaker.ResetTimeout <= 0 {
			return fmt.Errorf("NOTIFY_BREAKER_RESET_TIMEOUT must be greater than 0")
		}
	}

	for _, spec := range c.Schedule.Specs {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid RUN_SCHEDULES entry %q: %w", spec, err)
		}
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}

	return nil
}

func (c *Config) validateProduction() error {
	if c.App.DryRun {
		return fmt.Errorf("DRY_RUN cannot be enabled in production")
	}
	if c.Store.Driver == "memory" {
		return fmt.Errorf("STORE_DRIVER=memory loses submission records between runs and is not allowed in production")
	}
	if c.Logging.Encoding != "json" {
		return fmt.Errorf("production logging should use JSON format for log aggregation")
	}
	return nil
}

func getEnvAsFloatPtr(key string, defaultValue float64) *float64 {
	v := getEnvAsFloat(key, defaultValue)
	return &v
}

func getEnvAsBoolPtr(key string, defaultValue bool) *bool {
	v := getEnvAsBool(key, defaultValue)
	return &v
}

func getEnvAsIntPtr(key string, defaultValue int) *int {
	v := getEnvAsInt(key, defaultValue)
	return &v
}

func getEnvAsDurationPtr(key string, defaultValue time.Duration) *time.Duration {
	v := getEnvAsDuration(key, defaultValue)
	return &v
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if durationValue, err := time.ParseDuration(value); err == nil {
			return durationValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	return getEnvAsSplit(key, ",", defaultValue)
}

func getEnvAsSplit(key, sep string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, sep)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmedPart := strings.TrimSpace(part)
		if trimmedPart != "" {
			result = append(result, trimmedPart)
		}
	}
	return result
}
