package fulfill

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxRetries != 3 {
		t.Errorf("expected MaxRetries 3, got %d", cfg.MaxRetries)
	}
	if cfg.RetryInterval != 50*time.Millisecond {
		t.Errorf("expected RetryInterval 50ms, got %v", cfg.RetryInterval)
	}
	if cfg.RetryMaxInterval != 2*time.Second {
		t.Errorf("expected RetryMaxInterval 2s, got %v", cfg.RetryMaxInterval)
	}
	if cfg.RetryMultiplier != 2.0 {
		t.Errorf("expected RetryMultiplier 2.0, got %f", cfg.RetryMultiplier)
	}
	if cfg.LockTTL != 10*time.Second {
		t.Errorf("expected LockTTL 10s, got %v", cfg.LockTTL)
	}
	if cfg.NotifyTimeout != 5*time.Second {
		t.Errorf("expected NotifyTimeout 5s, got %v", cfg.NotifyTimeout)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestApplyOptions(t *testing.T) {
	cfg := ApplyOptions(
		WithMaxRetries(7),
		WithRetryInterval(10*time.Millisecond),
		WithRetryMaxInterval(time.Second),
		WithRetryMultiplier(1.5),
		WithRetryJitter(0.3),
		WithLockTTL(time.Minute),
		WithNotifyTimeout(time.Second),
	)

	if cfg.MaxRetries != 7 {
		t.Errorf("expected MaxRetries 7, got %d", cfg.MaxRetries)
	}
	if cfg.RetryInterval != 10*time.Millisecond {
		t.Errorf("expected RetryInterval 10ms, got %v", cfg.RetryInterval)
	}
	if cfg.RetryMaxInterval != time.Second {
		t.Errorf("expected RetryMaxInterval 1s, got %v", cfg.RetryMaxInterval)
	}
	if cfg.RetryMultiplier != 1.5 {
		t.Errorf("expected RetryMultiplier 1.5, got %f", cfg.RetryMultiplier)
	}
	if cfg.RetryJitter != 0.3 {
		t.Errorf("expected RetryJitter 0.3, got %f", cfg.RetryJitter)
	}
	if cfg.LockTTL != time.Minute {
		t.Errorf("expected LockTTL 1m, got %v", cfg.LockTTL)
	}
	if cfg.NotifyTimeout != time.Second {
		t.Errorf("expected NotifyTimeout 1s, got %v", cfg.NotifyTimeout)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"negative interval", func(c *Config) { c.RetryInterval = -time.Second }},
		{"negative max interval", func(c *Config) { c.RetryMaxInterval = -time.Second }},
		{"multiplier below one", func(c *Config) { c.RetryMultiplier = 0.5 }},
		{"jitter above one", func(c *Config) { c.RetryJitter = 1.5 }},
		{"negative jitter", func(c *Config) { c.RetryJitter = -0.1 }},
		{"zero lock ttl", func(c *Config) { c.LockTTL = 0 }},
		{"zero notify timeout", func(c *Config) { c.NotifyTimeout = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
