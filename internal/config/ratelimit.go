package config

import (
	"os"
	"strconv"
	"time"
)

// RateLimitConfig tunes the token bucket applied to claim-adjacent
// routes.  Claims are cheap but contended; the bucket keeps a single
// misbehaving session from hammering a popular seat map.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	Prefix         string
}

// LoadRateLimitConfig reads the rate-limit tuning from the environment,
// applying safe defaults and floors so a misconfigured deployment still
// gets a working limiter.
func LoadRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       envIntDef("RATE_LIMIT_CAPACITY", 60),
		RefillTokens:   envIntDef("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "rl"),
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.RefillTokens < 1 {
		cfg.RefillTokens = 1
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}
	if minTTL := 5 * cfg.RefillInterval; cfg.TTL < minTTL {
		cfg.TTL = minTTL
	}
	return cfg
}

// SnapshotCacheConfig tunes the Redis response cache in front of the
// seat snapshot endpoint.  The TTL is deliberately short: the cache only
// absorbs hydration bursts when many viewers open the same map, while
// the websocket stream keeps already-open viewers current.
type SnapshotCacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

// LoadSnapshotCacheConfig reads the snapshot cache tuning from the
// environment.
func LoadSnapshotCacheConfig() SnapshotCacheConfig {
	cfg := SnapshotCacheConfig{
		Enabled: envBool("SNAPSHOT_CACHE_ENABLED", true),
		TTL:     envDur("SNAPSHOT_CACHE_TTL", 2*time.Second),
		Prefix:  envStr("SNAPSHOT_CACHE_PREFIX", "snap"),
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Second
	}
	return cfg
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "True", "yes", "on":
		return true
	case "0", "false", "FALSE", "False", "no", "off":
		return false
	}
	return d
}

func envIntDef(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil && dur > 0 {
		return dur
	}
	return d
}
