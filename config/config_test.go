package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GAME_TICK_INTERVAL_MS", "")
	t.Setenv("GAME_DEFAULT_DURATION_SEC", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 300, cfg.Game.DefaultDurationSec)
	assert.Equal(t, "medium", cfg.Game.DefaultDifficulty)
	assert.Equal(t, time.Second, cfg.Game.TickInterval)
	assert.Equal(t, 10*time.Minute, cfg.Game.IdleEviction)
	assert.Equal(t, "gemini-2.0-flash", cfg.AI.Model)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GAME_TICK_INTERVAL_MS", "250")
	t.Setenv("GAME_DEFAULT_CAPACITY", "2")
	t.Setenv("GEMINI_BASE_URL", "http://localhost:9999/models/")
	t.Setenv("WORKER_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Game.TickInterval)
	assert.Equal(t, 2, cfg.Game.DefaultCapacity)
	assert.Equal(t, "http://localhost:9999/models", cfg.AI.BaseURL)
	assert.False(t, cfg.Worker.Enabled)
}

func TestLoadRejectsBadDurations(t *testing.T) {
	t.Setenv("GAME_DEFAULT_DURATION_SEC", "600")
	t.Setenv("GAME_MAX_DURATION_SEC", "60")

	_, err := Load()
	require.Error(t, err)
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{"url wins", DatabaseConfig{URL: "postgres://x/y", Host: "h"}, "postgres://x/y"},
		{"components", DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "5432", DBName: "d", SSLMode: "disable"}, "postgres://u:p@h:5432/d?sslmode=disable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}
