// Package config provides application configuration management.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxMaxPages     = 100
	maxMaxDepth     = 5
	maxRateLimitRPM = 10000
	minSessionTTL   = 1 * time.Minute
	maxSessionTTL   = 24 * time.Hour
)

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Server settings
	AppName    string
	AppVersion string
	Debug      bool
	Host       string
	Port       int

	// CORS
	CORSOrigins []string

	// Session settings
	SessionTTL             time.Duration
	SessionCleanupInterval time.Duration

	// Browser settings. The PLAYWRIGHT_* env names are kept so existing
	// deployments keep working unchanged.
	HeadlessOverride  bool // Explicit headless request (PLAYWRIGHT_HEADLESS)
	Timeout           time.Duration
	NavigationTimeout time.Duration

	// Audit settings
	MaxPagesPerAudit int
	MaxDepth         int
	PageLoadWait     time.Duration

	// Artifacts
	ArtifactsDir string

	// Security
	AllowPrivateIPs    bool
	RateLimitPerMinute int

	// Detection patterns
	PatternsPath      string // Optional external audit-patterns.yaml override
	PatternsHotReload bool

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	return &Config{
		AppName:    getEnvString("APP_NAME", "ProdReady Audit"),
		AppVersion: getEnvString("APP_VERSION", "1.0.0"),
		Debug:      getEnvBool("DEBUG", false),

		// Default to localhost for security (prevents accidental exposure).
		// Set HOST=0.0.0.0 explicitly to bind to all interfaces.
		Host: getEnvString("HOST", "127.0.0.1"),
		Port: getEnvInt("PORT", 8000),

		CORSOrigins: getEnvStringSlice("CORS_ORIGINS", nil),

		SessionTTL:             time.Duration(getEnvInt("SESSION_TTL_MINUTES", 30)) * time.Minute,
		SessionCleanupInterval: getEnvDuration("SESSION_CLEANUP_INTERVAL", 1*time.Minute),

		HeadlessOverride:  getEnvBool("PLAYWRIGHT_HEADLESS", false),
		Timeout:           time.Duration(getEnvInt("PLAYWRIGHT_TIMEOUT_MS", 30000)) * time.Millisecond,
		NavigationTimeout: time.Duration(getEnvInt("PLAYWRIGHT_NAVIGATION_TIMEOUT_MS", 60000)) * time.Millisecond,

		MaxPagesPerAudit: getEnvInt("MAX_PAGES_PER_AUDIT", 20),
		MaxDepth:         getEnvInt("MAX_DEPTH", 2),
		PageLoadWait:     time.Duration(getEnvInt("PAGE_LOAD_WAIT_MS", 3000)) * time.Millisecond,

		ArtifactsDir: getEnvString("ARTIFACTS_DIR", "./artifacts"),

		AllowPrivateIPs:    getEnvBool("ALLOW_PRIVATE_IPS", false),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		PatternsPath:      getEnvString("PATTERNS_PATH", ""),
		PatternsHotReload: getEnvBool("PATTERNS_HOT_RELOAD", false),

		LogLevel: getEnvString("LOG_LEVEL", "info"),
	}
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults.
func (c *Config) Validate() {
	// Port validation - allow 0 for system-assigned ports
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 8000")
		c.Port = 8000
	}

	// Session TTL bounds
	if c.SessionTTL < minSessionTTL {
		log.Warn().
			Dur("ttl", c.SessionTTL).
			Dur("min", minSessionTTL).
			Msg("Session TTL too short, using minimum")
		c.SessionTTL = minSessionTTL
	} else if c.SessionTTL > maxSessionTTL {
		log.Warn().
			Dur("ttl", c.SessionTTL).
			Dur("max", maxSessionTTL).
			Msg("Session TTL too long, using maximum")
		c.SessionTTL = maxSessionTTL
	}

	if c.SessionCleanupInterval < 10*time.Second {
		log.Warn().
			Dur("interval", c.SessionCleanupInterval).
			Msg("Session cleanup interval too short, using 10s")
		c.SessionCleanupInterval = 10 * time.Second
	}
	if c.SessionCleanupInterval >= c.SessionTTL {
		log.Warn().
			Dur("cleanup_interval", c.SessionCleanupInterval).
			Dur("ttl", c.SessionTTL).
			Msg("SESSION_CLEANUP_INTERVAL should be less than session TTL for timely cleanup")
	}

	// Timeout validation
	if c.Timeout < time.Second {
		log.Warn().Dur("timeout", c.Timeout).Msg("Timeout too short, using 30s")
		c.Timeout = 30 * time.Second
	}
	if c.NavigationTimeout < time.Second {
		log.Warn().Dur("timeout", c.NavigationTimeout).Msg("Navigation timeout too short, using 60s")
		c.NavigationTimeout = 60 * time.Second
	}

	// Audit bounds
	if c.MaxPagesPerAudit < 1 {
		log.Warn().Int("max_pages", c.MaxPagesPerAudit).Msg("Invalid max pages, using 20")
		c.MaxPagesPerAudit = 20
	} else if c.MaxPagesPerAudit > maxMaxPages {
		log.Warn().
			Int("max_pages", c.MaxPagesPerAudit).
			Int("max", maxMaxPages).
			Msg("Max pages too large, capping to maximum")
		c.MaxPagesPerAudit = maxMaxPages
	}
	if c.MaxDepth < 1 {
		log.Warn().Int("max_depth", c.MaxDepth).Msg("Invalid max depth, using 2")
		c.MaxDepth = 2
	} else if c.MaxDepth > maxMaxDepth {
		log.Warn().
			Int("max_depth", c.MaxDepth).
			Int("max", maxMaxDepth).
			Msg("Max depth too large, capping to maximum")
		c.MaxDepth = maxMaxDepth
	}
	if c.PageLoadWait < 0 {
		log.Warn().Dur("wait", c.PageLoadWait).Msg("Negative page load wait, using 3s")
		c.PageLoadWait = 3 * time.Second
	}

	// Rate limit validation with upper bound
	if c.RateLimitPerMinute < 1 {
		log.Warn().Int("rpm", c.RateLimitPerMinute).Msg("Invalid rate limit, using 30 RPM")
		c.RateLimitPerMinute = 30
	} else if c.RateLimitPerMinute > maxRateLimitRPM {
		log.Warn().
			Int("rpm", c.RateLimitPerMinute).
			Int("max", maxRateLimitRPM).
			Msg("Rate limit too high, capping to maximum")
		c.RateLimitPerMinute = maxRateLimitRPM
	}

	// ArtifactsDir validation - prevent path traversal
	if strings.Contains(c.ArtifactsDir, "..") {
		log.Error().
			Str("path", c.ArtifactsDir).
			Msg("ARTIFACTS_DIR contains path traversal sequence (..), using ./artifacts")
		c.ArtifactsDir = "./artifacts"
	}

	// PatternsPath validation
	if c.PatternsPath != "" && strings.Contains(c.PatternsPath, "..") {
		log.Error().
			Str("path", c.PatternsPath).
			Msg("PATTERNS_PATH contains path traversal sequence (..), ignoring")
		c.PatternsPath = ""
	}
	if c.PatternsHotReload && c.PatternsPath == "" {
		log.Warn().Msg("PATTERNS_HOT_RELOAD enabled but PATTERNS_PATH not set - hot-reload disabled")
		c.PatternsHotReload = false
	}

	// Log level validation
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	// CORS warning
	if len(c.CORSOrigins) == 0 {
		log.Warn().Msg("CORS_ORIGINS not set - all cross-origin requests will be rejected (secure default)")
	}

	if c.AllowPrivateIPs {
		log.Warn().Msg("ALLOW_PRIVATE_IPS enabled - audits may target internal hosts")
	}
}

// SessionTTLMinutes returns the session TTL in whole minutes for API responses.
func (c *Config) SessionTTLMinutes() int {
	return int(c.SessionTTL / time.Minute)
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
