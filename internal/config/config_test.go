package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercocamp/agenda-bfa-go/internal/config"
)

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "https://schedule-mercocamp-back-end.up.railway.app/api", cfg.APIBaseURL)
	assert.Equal(t, 15*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 15*time.Minute, cfg.TokenRenewalInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.WizardCloseDelay)
	assert.Equal(t, 10, cfg.SchedulesPageSize)
	assert.Equal(t, "/login", cfg.LoginPath)
	assert.Equal(t, config.DefaultDataDir(), cfg.DataDir)
	assert.Empty(t, cfg.OTLPEndpoint)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_RETRIES", "2")
	t.Setenv("TOKEN_RENEWAL_INTERVAL", "30s")
	t.Setenv("DATA_DIR", "/tmp/agenda-test")

	cfg, err := config.Load(missingEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.TokenRenewalInterval)
	assert.Equal(t, "/tmp/agenda-test", cfg.DataDir)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SCHEDULES_PAGE_SIZE=25\nLOG_LEVEL=\"debug\"\n"), 0o600))
	t.Setenv("LOG_LEVEL", "warn")
	// Registered so t.Setenv restores the variable godotenv sets.
	t.Setenv("SCHEDULES_PAGE_SIZE", "")
	require.NoError(t, os.Unsetenv("SCHEDULES_PAGE_SIZE"))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.SchedulesPageSize)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("HTTP_TIMEOUT", "quinze")
	_, err := config.Load(missingEnvFile(t))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &config.Config{APIBaseURL: "http://api", TokenRenewalInterval: time.Minute, SchedulesPageSize: 10}
	assert.NoError(t, cfg.Validate())

	bad := *cfg
	bad.APIBaseURL = ""
	bad.TokenRenewalInterval = 0
	bad.SchedulesPageSize = -1
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_BASE_URL")
	assert.Contains(t, err.Error(), "TOKEN_RENEWAL_INTERVAL")
	assert.Contains(t, err.Error(), "SCHEDULES_PAGE_SIZE")
}
