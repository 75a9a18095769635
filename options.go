package fulfill

import "time"

// Config holds the configuration for the fulfillment engine.
type Config struct {
	// Retry configuration for the conditional commit. Validation failures
	// are never retried; conflicts and transient store failures are.
	MaxRetries       int           // Maximum commit retry count, default 3
	RetryInterval    time.Duration // Base retry interval, default 50ms
	RetryMaxInterval time.Duration // Maximum retry interval for exponential backoff, default 2s
	RetryMultiplier  float64       // Multiplier for exponential backoff, default 2.0
	RetryJitter      float64       // Jitter factor (0-1) to add randomness, default 0.1

	// Lock configuration, used only when a Locker is configured
	LockTTL time.Duration // Per-order lock TTL, default 10s

	// NotifyTimeout bounds the detached conversion notification, default 5s
	NotifyTimeout time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		RetryInterval:    50 * time.Millisecond,
		RetryMaxInterval: 2 * time.Second,
		RetryMultiplier:  2.0,
		RetryJitter:      0.1,
		LockTTL:          10 * time.Second,
		NotifyTimeout:    5 * time.Second,
	}
}

// Option is a function that modifies the Config.
type Option func(*Config)

// WithMaxRetries sets the maximum commit retry count.
func WithMaxRetries(maxRetries int) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
	}
}

// WithRetryInterval sets the base retry interval.
func WithRetryInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.RetryInterval = interval
	}
}

// WithRetryMaxInterval sets the maximum retry interval for exponential backoff.
func WithRetryMaxInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.RetryMaxInterval = interval
	}
}

// WithRetryMultiplier sets the multiplier for exponential backoff.
func WithRetryMultiplier(multiplier float64) Option {
	return func(c *Config) {
		c.RetryMultiplier = multiplier
	}
}

// WithRetryJitter sets the jitter factor for retry intervals.
func WithRetryJitter(jitter float64) Option {
	return func(c *Config) {
		c.RetryJitter = jitter
	}
}

// WithLockTTL sets the per-order lock TTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.LockTTL = ttl
	}
}

// WithNotifyTimeout sets the bound on detached conversion notifications.
func WithNotifyTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.NotifyTimeout = timeout
	}
}

// ApplyOptions applies the given options to a default config and returns the result.
func ApplyOptions(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.MaxRetries < 0 {
		return ErrInvalidConfig
	}
	if c.RetryInterval < 0 {
		return ErrInvalidConfig
	}
	if c.RetryMaxInterval < 0 {
		return ErrInvalidConfig
	}
	if c.RetryMultiplier < 1.0 {
		return ErrInvalidConfig
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1.0 {
		return ErrInvalidConfig
	}
	if c.LockTTL <= 0 {
		return ErrInvalidConfig
	}
	if c.NotifyTimeout <= 0 {
		return ErrInvalidConfig
	}
	return nil
}
