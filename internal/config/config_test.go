package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.False(t, cfg.GinDebug)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, "http://localhost:5173", cfg.CORSAllowOrigin)
	assert.Equal(t, "automesh", cfg.Topology)
	assert.Equal(t, 100*time.Millisecond, cfg.DetectionDelay)
	assert.Equal(t, 400*time.Millisecond, cfg.RerouteDelay)
	assert.Equal(t, 150*time.Millisecond, cfg.StepDelay)
	assert.Equal(t, 0.5, cfg.MaxBlastRadius)
	assert.Empty(t, cfg.ProtectedNodePattern)
	assert.Equal(t, 10*time.Second, cfg.MonitorInterval)
	assert.Equal(t, 3, cfg.MonitorFailureThreshold)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("GIN_DEBUG", "true")
	t.Setenv("DATABASE_URL", "postgres://mesh@db/mesh")
	t.Setenv("TOPOLOGY", "campus")
	t.Setenv("DETECTION_DELAY_MS", "0")
	t.Setenv("MAX_BLAST_RADIUS", "0.25")
	t.Setenv("PROTECTED_NODE_PATTERN", "R-*")

	cfg := Load()

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.True(t, cfg.GinDebug)
	assert.Equal(t, "postgres://mesh@db/mesh", cfg.DatabaseURL)
	assert.Equal(t, "campus", cfg.Topology)
	assert.Zero(t, cfg.DetectionDelay)
	assert.Equal(t, 0.25, cfg.MaxBlastRadius)
	assert.Equal(t, "R-*", cfg.ProtectedNodePattern)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"blast radius zero", func(c *Config) { c.MaxBlastRadius = 0 }},
		{"blast radius above one", func(c *Config) { c.MaxBlastRadius = 1.5 }},
		{"non numeric port", func(c *Config) { c.ServerPort = "http" }},
		{"negative delay", func(c *Config) { c.RerouteDelay = -time.Second }},
		{"zero threshold", func(c *Config) { c.MonitorFailureThreshold = 0 }},
		{"bad pattern", func(c *Config) { c.ProtectedNodePattern = "[" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvInt(t *testing.T) {
	assert.Equal(t, 42, EnvInt("NONEXISTENT_VAR", 42))

	t.Setenv("TEST_INT", "100")
	assert.Equal(t, 100, EnvInt("TEST_INT", 42))

	t.Setenv("TEST_BAD_INT", "notanumber")
	assert.Equal(t, 42, EnvInt("TEST_BAD_INT", 42))
}

func TestEnvFloatAndBool(t *testing.T) {
	assert.Equal(t, 1.5, EnvFloat("NONEXISTENT_VAR", 1.5))
	t.Setenv("TEST_FLOAT", "0.75")
	assert.Equal(t, 0.75, EnvFloat("TEST_FLOAT", 1.5))
	t.Setenv("TEST_BAD_FLOAT", "x")
	assert.Equal(t, 1.5, EnvFloat("TEST_BAD_FLOAT", 1.5))

	assert.True(t, EnvBool("NONEXISTENT_VAR", true))
	t.Setenv("TEST_BOOL", "false")
	assert.False(t, EnvBool("TEST_BOOL", true))
	t.Setenv("TEST_BAD_BOOL", "maybe")
	assert.True(t, EnvBool("TEST_BAD_BOOL", true))
}

func TestEnvMillis(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, EnvMillis("NONEXISTENT_VAR", 250))
}
