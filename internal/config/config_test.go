package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "", cfg.DB.URL)
	require.Equal(t, 25, cfg.DB.MaxOpenConns)
	require.Equal(t, "migrations", cfg.DB.MigrationsDir)
	require.Equal(t, int64(1_000_000), cfg.Fraud.AmountCeiling)
	require.Equal(t, 1, cfg.Fraud.MinHistory)
	require.Equal(t, 10.0, cfg.Fraud.AnomalyMultiplier)
	require.Equal(t, 1, cfg.Fraud.RapidThreshold)
	require.Equal(t, 120, cfg.Fraud.TamperResidualLen)
	require.Equal(t, 0.80, cfg.Resolver.FuzzyThreshold)
	require.Equal(t, 48*time.Hour, cfg.Resolver.CandidateWindow)
	require.Equal(t, 256, cfg.Verify.CacheSize)
	require.Equal(t, 5*time.Minute, cfg.Alert.Cooldown)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_URL", "postgres://localhost:5432/momoguard?sslmode=disable")
	t.Setenv("FRAUD_RAPID_THRESHOLD", "5")
	t.Setenv("RESOLVER_FUZZY_THRESHOLD", "0.9")
	t.Setenv("VERIFY_CODE", "1043577")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "postgres://localhost:5432/momoguard?sslmode=disable", cfg.DB.URL)
	require.Equal(t, 5, cfg.Fraud.RapidThreshold)
	require.Equal(t, 0.9, cfg.Resolver.FuzzyThreshold)
	require.Equal(t, "1043577", cfg.Verify.Code)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadInvalidIntFallsBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "port out of range", key: "SERVER_PORT", value: "70000"},
		{name: "zero rapid threshold", key: "FRAUD_RAPID_THRESHOLD", value: "0"},
		{name: "anomaly multiplier at one", key: "FRAUD_ANOMALY_MULTIPLIER", value: "1"},
		{name: "fuzzy threshold above one", key: "RESOLVER_FUZZY_THRESHOLD", value: "1.5"},
		{name: "negative cache size", key: "VERIFY_CACHE_SIZE", value: "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}
