// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing, the process exits.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all runtime configuration for the discovery service.
type Config struct {
	Port             string
	DatabaseURL      string
	RedisURL         string
	FeedBaseURL      string // e.g. "https://www.reddit.com/r"
	FeedFormat       string // feed document extension, e.g. "rss"
	ReconcileMinutes int    // how often the scheduler re-syncs monitors from the store
}

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	feedBase := os.Getenv("FEED_BASE_URL")
	if feedBase == "" {
		feedBase = "https://www.reddit.com/r"
	}

	feedFormat := os.Getenv("FEED_FORMAT")
	if feedFormat == "" {
		feedFormat = "rss"
	}

	reconcile := 10
	if s := os.Getenv("RECONCILE_INTERVAL_MINUTES"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("RECONCILE_INTERVAL_MINUTES must be a positive integer, got %q", s)
		}
		reconcile = v
	}

	port := os.Getenv("DISCOVERY_PORT")
	if port == "" {
		port = "8081"
	}

	return &Config{
		Port:             port,
		DatabaseURL:      dbURL,
		RedisURL:         redisURL,
		FeedBaseURL:      feedBase,
		FeedFormat:       feedFormat,
		ReconcileMinutes: reconcile,
	}, nil
}
