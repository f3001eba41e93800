// Package config reads the small set of environment variables that tune
// the graph cache service: typed accessors with defaults, no config
// file, no third-party config library.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every environment-tunable knob the service reads at
// startup.
type Config struct {
	// LogCapacity is C in 2^C slots. GRAPHCACHE_LOG_CAPACITY, default 16
	// (65536 slots).
	LogCapacity uint
	// RedisAddr is the backing store's address. GRAPHCACHE_REDIS_ADDR,
	// default "localhost:6379".
	RedisAddr string
	// RedisDB selects the backing store's logical database.
	// GRAPHCACHE_REDIS_DB, default 0.
	RedisDB int
	// HTTPAddr is the address the HTTP API listens on.
	// GRAPHCACHE_HTTP_ADDR, default ":8080".
	HTTPAddr string
	// LoadTimeout bounds a single loader round trip to the backing
	// store. GRAPHCACHE_LOAD_TIMEOUT, default 2s.
	LoadTimeout time.Duration
	// Dev enables the dev-only CORS policy, mirroring the teacher's
	// ENV=dev switch in cmd/zmux-server/main.go.
	Dev bool
}

// FromEnv reads Config from the process environment, falling back to
// defaults for anything unset or unparsable.
func FromEnv() Config {
	return Config{
		LogCapacity: envUint("GRAPHCACHE_LOG_CAPACITY", 16),
		RedisAddr:   envString("GRAPHCACHE_REDIS_ADDR", "localhost:6379"),
		RedisDB:     envInt("GRAPHCACHE_REDIS_DB", 0),
		HTTPAddr:    envString("GRAPHCACHE_HTTP_ADDR", ":8080"),
		LoadTimeout: envDuration("GRAPHCACHE_LOAD_TIMEOUT", 2*time.Second),
		Dev:         os.Getenv("ENV") == "dev",
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envUint(key string, def uint) uint {
	v, err := strconv.ParseUint(os.Getenv(key), 10, 32)
	if err != nil {
		return def
	}
	return uint(v)
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
