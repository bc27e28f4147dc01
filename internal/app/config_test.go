package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("REPORT_CACHE_TTL", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 10*time.Minute, cfg.ReportCacheTTL)
	require.Equal(t, 120, cfg.RateLimitPerMinute)
	require.False(t, cfg.MigrateOnStart)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("REPORT_CACHE_TTL", "90s")
	t.Setenv("MIGRATE_ON_START", "true")
	t.Setenv("LOW_STOCK_SCAN_CRON", "0 * * * *")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, 90*time.Second, cfg.ReportCacheTTL)
	require.True(t, cfg.MigrateOnStart)
	require.Equal(t, "0 * * * *", cfg.LowStockScanCron)
}

func TestLoadConfigRejectsBadRateLimit(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestNilConfigIsNotProduction(t *testing.T) {
	var cfg *Config
	require.False(t, cfg.IsProduction())
}
