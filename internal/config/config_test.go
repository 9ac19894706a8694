package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOLD_TTL", "")
	t.Setenv("SWEEP_INTERVAL", "")
	t.Setenv("AVAILABILITY_CACHE_TTL", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 2*time.Minute, cfg.HoldTTL)
	require.Equal(t, time.Minute, cfg.SweepInterval)
	require.Equal(t, 5*time.Second, cfg.AvailabilityCacheTTL)
	require.Equal(t, "payments.webhooks", cfg.PaymentsQueue)
	require.False(t, cfg.TrustProxyHeaders)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HOLD_TTL", "30s")
	t.Setenv("SWEEP_BATCH_SIZE", "10")
	t.Setenv("AUTO_MIGRATE", "true")
	t.Setenv("TRUST_PROXY_HEADERS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.HoldTTL)
	require.Equal(t, 10, cfg.SweepBatchSize)
	require.True(t, cfg.AutoMigrate)
	require.True(t, cfg.TrustProxyHeaders)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"HOLD_TTL":          "soon",
		"SWEEP_INTERVAL":    "-1m",
		"TX_MAX_RETRIES":    "zero",
		"OUTBOX_BATCH_SIZE": "0",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load()
			require.Error(t, err)
		})
	}
}
