package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "Asia/Shanghai", cfg.App.Timezone)
	assert.Equal(t, 4, cfg.App.Concurrency)
	assert.Equal(t, 30.0, cfg.App.JitterMeters)
	assert.Equal(t, "sqlite3", cfg.Store.Driver)
	assert.Equal(t, 3, *cfg.Gateway.Retry.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, []string{"30 8 * * *", "30 18 * * *"}, cfg.Schedule.Specs)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	os.Setenv("CONCURRENCY", "8")
	os.Setenv("STORE_DRIVER", "redis")
	os.Setenv("DRY_RUN", "true")
	os.Setenv("RANDOM_SEED", "1234")
	os.Setenv("RUN_SCHEDULES", "0,30 8 * * 1-5; 0 18 * * *")
	os.Setenv("EXTERNAL_RETRY_INITIAL_INTERVAL", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.App.Concurrency)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.True(t, cfg.App.DryRun)
	assert.Equal(t, int64(1234), cfg.App.RandomSeed)
	assert.Equal(t, []string{"0,30 8 * * 1-5", "0 18 * * *"}, cfg.Schedule.Specs)
	assert.Equal(t, 250*time.Millisecond, *cfg.Gateway.Retry.InitialInterval)
	assert.NoError(t, cfg.Validate())
}

func TestValidate_Failures(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad timezone", func(c *Config) { c.App.Timezone = "Mars/Olympus" }, "TIMEZONE"},
		{"zero concurrency", func(c *Config) { c.App.Concurrency = 0 }, "CONCURRENCY"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "STORE_DRIVER"},
		{"missing dsn", func(c *Config) { c.Store.Driver = "mysql"; c.Store.DSN = "" }, "STORE_DSN"},
		{"record ttl shorter than a month", func(c *Config) { c.Store.RecordTTL = 7 * 24 * time.Hour }, "STORE_RECORD_TTL"},
		{"negative record ttl", func(c *Config) { c.Store.RecordTTL = -time.Hour }, "STORE_RECORD_TTL"},
		{"bad schedule", func(c *Config) { c.Schedule.Specs = []string{"every day"} }, "RUN_SCHEDULES"},
		{"bad breaker threshold", func(c *Config) { c.Notify.Breaker.FailureThreshold = 2 }, "FAILURE_THRESHOLD"},
		{"production dry run", func(c *Config) { c.App.Env = "production"; c.App.DryRun = true }, "DRY_RUN"},
		{"production memory store", func(c *Config) { c.App.Env = "production"; c.Store.Driver = "memory" }, "memory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_RecordTTL(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	for _, ttl := range []time.Duration{0, MinRecordTTL, 90 * 24 * time.Hour} {
		cfg, err := Load()
		require.NoError(t, err)
		cfg.Store.RecordTTL = ttl
		assert.NoError(t, cfg.Validate(), ttl.String())
	}
}

func TestLocation(t *testing.T) {
	cfg := &Config{App: AppConfig{Timezone: "Asia/Shanghai"}}
	assert.Equal(t, "Asia/Shanghai", cfg.Location().String())

	cfg.App.Timezone = "nowhere"
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestGetEnvHelpers(t *testing.T) {
	os.Setenv("TEST_INT", "abc")
	os.Setenv("TEST_BOOL", "not_bool")
	os.Setenv("TEST_DUR", "invalid_dur")
	defer os.Clearenv()

	assert.Equal(t, 10, getEnvAsInt("TEST_INT", 10))
	assert.Equal(t, true, getEnvAsBool("TEST_BOOL", true))
	assert.Equal(t, time.Second, getEnvAsDuration("TEST_DUR", time.Second))

	os.Setenv("TEST_SLICE", "")
	assert.Equal(t, []string{"default"}, getEnvAsSlice("TEST_SLICE", []string{"default"}))
}
