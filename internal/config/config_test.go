package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_NAME", "APP_ENV", "PORT", "LOG_LEVEL", "DATABASE_URL", "REDIS_URL",
		shutdownSecondsEnvVar, shutdownDurationEnvVar, idemTTLSecondsEnvVar, idemTTLDurEnvVar,
		lockTimeoutEnvVar, autoMigrateEnvVar, rateLimitEnvVar, "METRICS_NAMESPACE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultsInDevelopment(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaultAppName, cfg.AppName)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, defaultShutdownDelay, cfg.ShutdownPeriod)
	assert.Equal(t, defaultIdempotencyTTL, cfg.IdempotencyTTL)
	assert.Equal(t, defaultLockTimeout, cfg.LockTimeout)
	assert.Equal(t, defaultMetricsNamespace, cfg.MetricsNamespace)
	assert.Equal(t, defaultRateLimit, cfg.RateLimitPerMinute)
	assert.False(t, cfg.AutoMigrate)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadRequiresBackingServicesInProduction(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")

	_, err := Load()
	require.EqualError(t, err, "DATABASE_URL must be set")

	t.Setenv("DATABASE_URL", "postgres://localhost/funds")
	_, err = Load()
	require.EqualError(t, err, "REDIS_URL must be set")

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoadDurations(t *testing.T) {
	clearEnv(t)
	t.Setenv(shutdownSecondsEnvVar, "3")
	t.Setenv(shutdownDurationEnvVar, "1m")
	t.Setenv(idemTTLDurEnvVar, "90m")
	t.Setenv(lockTimeoutEnvVar, "250ms")
	t.Setenv(autoMigrateEnvVar, "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.ShutdownPeriod)
	assert.Equal(t, 90*time.Minute, cfg.IdempotencyTTL)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.True(t, cfg.AutoMigrate)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	cases := map[string]string{
		shutdownSecondsEnvVar: "soon",
		idemTTLDurEnvVar:      "forever",
		lockTimeoutEnvVar:     "-1s",
		autoMigrateEnvVar:     "maybe",
		rateLimitEnvVar:       "-5",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := Load()
			assert.ErrorContains(t, err, key)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("APP_NAME=from-file\nPORT=9090\n"), 0o600))
	t.Setenv("PORT", "7070")
	t.Cleanup(func() { os.Unsetenv("APP_NAME") })
	os.Unsetenv("APP_NAME")

	require.NoError(t, LoadEnvFile(path))
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.AppName)
	assert.Equal(t, ":7070", cfg.Address())

	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}
