package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration
type Config struct {
	// Server
	ServerPort string `validate:"required,numeric"`
	GinDebug   bool

	// Database; empty disables run persistence
	DatabaseURL string

	// CORS
	CORSAllowOrigin string

	// Topology preset name or YAML path
	Topology string `validate:"required"`

	// Healing timeline
	DetectionDelay time.Duration `validate:"gte=0"`
	RerouteDelay   time.Duration `validate:"gte=0"`
	StepDelay      time.Duration `validate:"gte=0"`

	// Guardrails
	MaxBlastRadius       float64 `validate:"gt=0,lte=1"`
	ProtectedNodePattern string

	// Connectivity monitor
	MonitorInterval         time.Duration `validate:"gt=0"`
	MonitorFailureThreshold int           `validate:"gte=1"`
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	return &Config{
		ServerPort:              envOrDefault("SERVER_PORT", "8080"),
		GinDebug:                EnvBool("GIN_DEBUG", false),
		DatabaseURL:             envOrDefault("DATABASE_URL", ""),
		CORSAllowOrigin:         envOrDefault("CORS_ALLOW_ORIGIN", "http://localhost:5173"),
		Topology:                envOrDefault("TOPOLOGY", "automesh"),
		DetectionDelay:          EnvMillis("DETECTION_DELAY_MS", 100),
		RerouteDelay:            EnvMillis("REROUTE_DELAY_MS", 400),
		StepDelay:               EnvMillis("STEP_DELAY_MS", 150),
		MaxBlastRadius:          EnvFloat("MAX_BLAST_RADIUS", 0.5),
		ProtectedNodePattern:    envOrDefault("PROTECTED_NODE_PATTERN", ""),
		MonitorInterval:         time.Duration(EnvInt("MONITOR_INTERVAL_SEC", 10)) * time.Second,
		MonitorFailureThreshold: EnvInt("MONITOR_FAILURE_THRESHOLD", 3),
	}
}

// Validate rejects values the server cannot run with
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.ProtectedNodePattern != "" {
		if _, err := filepath.Match(c.ProtectedNodePattern, ""); err != nil {
			return fmt.Errorf("invalid config: PROTECTED_NODE_PATTERN: %w", err)
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// EnvInt reads an integer environment variable with a fallback
func EnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// EnvFloat reads a float environment variable with a fallback
func EnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// EnvBool reads a boolean environment variable with a fallback
func EnvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// EnvMillis reads a millisecond count as a duration
func EnvMillis(key string, fallback int) time.Duration {
	return time.Duration(EnvInt(key, fallback)) * time.Millisecond
}
