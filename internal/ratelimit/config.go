package ratelimit

import (
	"fmt"
	"time"
)

// GlobalScope is the scope key for the service-wide window shared by all
// tenants.
const GlobalScope = "global"

// Limiter backends.
const (
	// BackendLocal keeps windows in process memory.
	BackendLocal = "local"
	// BackendRedis shares windows across replicas via Redis sorted sets.
	BackendRedis = "redis"
)

const (
	defaultMaxScopes = 10000
	defaultKeyPrefix = "ratelimit:"
)

// Config describes one sliding window.
type Config struct {
	// MaxRequests is the sustained request budget per window
	MaxRequests int
	// Window is the sliding interval over which requests are counted
	Window time.Duration
	// BurstAllowance is extra headroom above MaxRequests for short spikes
	BurstAllowance int
	// MaxScopes caps how many scopes a local window tracks before idle
	// ones are swept inline
	MaxScopes int
	// Backend selects where window state lives; empty means BackendLocal
	Backend string
	// KeyPrefix namespaces scope keys on the redis backend
	KeyPrefix string
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		MaxRequests:    60,
		Window:         time.Minute,
		BurstAllowance: 10,
	}
}

// Validate checks the configuration and fills in defaults for the
// optional fields.
func (c *Config) Validate() error {
	if c.MaxRequests <= 0 {
		return fmt.Errorf("MaxRequests must be positive, got %d", c.MaxRequests)
	}
	if c.Window <= 0 {
		return fmt.Errorf("Window must be positive, got %v", c.Window)
	}
	if c.BurstAllowance < 0 {
		return fmt.Errorf("BurstAllowance must not be negative, got %d", c.BurstAllowance)
	}
	if c.MaxScopes < 0 {
		return fmt.Errorf("MaxScopes must not be negative, got %d", c.MaxScopes)
	}

	if c.Backend == "" {
		c.Backend = BackendLocal
	}
	if c.Backend != BackendLocal && c.Backend != BackendRedis {
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.MaxScopes == 0 {
		c.MaxScopes = defaultMaxScopes
	}
	if c.Backend == BackendRedis && c.KeyPrefix == "" {
		c.KeyPrefix = defaultKeyPrefix
	}
	return nil
}

// capacity is the effective window size: the sustained budget plus the
// burst headroom.
func (c Config) capacity() int {
	return c.MaxRequests + c.BurstAllowance
}
