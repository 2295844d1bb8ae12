package config_test

import (
	"testing"

	"github.com/riskgateway/platform/internal/config"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg := config.Load()

	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, "development", cfg.Env)
	require.True(t, cfg.IsDevelopment())
	require.False(t, cfg.IsProduction())
	require.Equal(t, 500.0, cfg.DefaultDailyCap)
	require.Equal(t, 10, cfg.SuspiciousMaxHourlyTx)
	require.Len(t, cfg.ServiceURLs, 9)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("DEFAULT_DAILY_CAP", "750.5")
	t.Setenv("TRADING_SERVICE_URL", "http://trading.internal:9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg := config.Load()

	require.True(t, cfg.IsProduction())
	require.Equal(t, 750.5, cfg.DefaultDailyCap)
	url, ok := cfg.ServiceURL("trading")
	require.True(t, ok)
	require.Equal(t, "http://trading.internal:9000", url)
	require.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
}

func TestServiceURLUnknownName(t *testing.T) {
	cfg := config.Load()
	_, ok := cfg.ServiceURL("not-a-service")
	require.False(t, ok)
}
