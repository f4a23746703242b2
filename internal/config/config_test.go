package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PORT", "")
	setEnv(t, "TRADE_LOCK_WINDOW", "")
	setEnv(t, "SWEEP_INTERVAL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultTradeLockWindow, cfg.TradeLockWindow)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitRPS)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "TRADE_LOCK_WINDOW", "5m")
	setEnv(t, "SWEEP_INTERVAL", "10s")
	setEnv(t, "RATE_LIMIT_RPS", "250")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.TradeLockWindow)
	assert.Equal(t, 10*time.Second, cfg.SweepInterval)
	assert.Equal(t, 250, cfg.RateLimitRPS)
}

func TestLoad_BadDurationFallsBack(t *testing.T) {
	setEnv(t, "TRADE_LOCK_WINDOW", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultTradeLockWindow, cfg.TradeLockWindow)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid",
			config: Config{
				TradeLockWindow: 10 * time.Minute,
				SweepInterval:   30 * time.Second,
			},
		},
		{
			name: "zero lock window",
			config: Config{
				SweepInterval: 30 * time.Second,
			},
			wantErr: "TRADE_LOCK_WINDOW",
		},
		{
			name: "negative sweep interval",
			config: Config{
				TradeLockWindow: 10 * time.Minute,
				SweepInterval:   -time.Second,
			},
			wantErr: "SWEEP_INTERVAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_EnvHelpers(t *testing.T) {
	dev := Config{Env: "development"}
	prod := Config{Env: "production"}

	assert.True(t, dev.IsDevelopment())
	assert.False(t, dev.IsProduction())
	assert.True(t, prod.IsProduction())
	assert.False(t, prod.IsDevelopment())
}
