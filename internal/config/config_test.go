package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/credits_test")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, float64(10), cfg.Capacity)
	assert.Equal(t, float64(360), cfg.SecondsPerCredit)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.False(t, cfg.Bypass)

	// The default initial balance starts wallets full.
	assert.Equal(t, cfg.Capacity, cfg.InitialBalance)
}

func TestLoadMissingRequired(t *testing.T) {
	// t.Setenv records the original values for restore; unsetting afterwards
	// makes the required-variable check actually fire.
	for _, key := range []string{"DATABASE_URL", "JWT_SECRET"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	_, err := Load()
	assert.Error(t, err)
}

func TestClamps(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want func(t *testing.T, cfg *Config)
	}{
		{
			name: "capacity below minimum",
			env:  map[string]string{"CREDIT_CAPACITY": "0"},
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, float64(1), cfg.Capacity)
			},
		},
		{
			name: "capacity above maximum",
			env:  map[string]string{"CREDIT_CAPACITY": "5000"},
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, float64(1000), cfg.Capacity)
			},
		},
		{
			name: "seconds per credit above maximum",
			env:  map[string]string{"CREDIT_SECONDS_PER_CREDIT": "172800"},
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, float64(86400), cfg.SecondsPerCredit)
			},
		},
		{
			name: "initial balance capped at capacity",
			env: map[string]string{
				"CREDIT_CAPACITY":        "10",
				"CREDIT_INITIAL_BALANCE": "25",
			},
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, float64(10), cfg.InitialBalance)
			},
		},
		{
			name: "explicit zero initial balance is kept",
			env:  map[string]string{"CREDIT_INITIAL_BALANCE": "0"},
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, float64(0), cfg.InitialBalance)
			},
		},
		{
			name: "max attempts clamped into range",
			env:  map[string]string{"CREDIT_MAX_ATTEMPTS": "50"},
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 10, cfg.MaxAttempts)
			},
		},
		{
			name: "max attempts floor",
			env:  map[string]string{"CREDIT_MAX_ATTEMPTS": "0"},
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 1, cfg.MaxAttempts)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.NoError(t, err)
			tc.want(t, cfg)
		})
	}
}

func TestRefillRatePerSec(t *testing.T) {
	setRequired(t)
	t.Setenv("CREDIT_SECONDS_PER_CREDIT", "360")

	cfg, err := Load()
	require.NoError(t, err)

	rate := cfg.RefillRatePerSec()
	// 1/360 truncated by shopspring's default division precision.
	assert.Equal(t, "0.0027777778", rate.Round(10).String())
}
