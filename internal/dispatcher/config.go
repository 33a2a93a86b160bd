package dispatcher

import (
	"time"

	"rombuilder/internal/config"
)

const (
	// deliveryTimeout bounds one delivery including its retries.
	deliveryTimeout        = 30 * time.Second
	defaultMinRequeueDelay = time.Second
)

// MemoryConfig holds configuration for the in-memory dispatcher.
type MemoryConfig struct {
	BufferSize  int           // pending notifications (default: 1000)
	Workers     int           // concurrent deliveries (default: 4)
	HTTPTimeout time.Duration // per-request timeout for HTTP channels (default: 10s)
	MaxRetries  int           // extra attempts after a failed delivery (default: 0)

	BreakerThreshold int           // consecutive failures before a destination is paused (default: 5)
	BreakerCooldown  time.Duration // pause before probing a failing destination (default: 30s)
	MaxRequeues      int           // times a notification may wait behind an open circuit (default: 10)
}

// LoadConfigFromEnv reads DISPATCHER_* variables.
func LoadConfigFromEnv() MemoryConfig {
	return MemoryConfig{
		BufferSize:       config.GetIntEnv("DISPATCHER_BUFFER_SIZE", 1000),
		Workers:          config.GetIntEnv("DISPATCHER_WORKERS", 4),
		HTTPTimeout:      config.GetDurationEnv("DISPATCHER_HTTP_TIMEOUT", 10*time.Second),
		MaxRetries:       config.GetIntEnv("DISPATCHER_MAX_RETRIES", 0),
		BreakerThreshold: config.GetIntEnv("DISPATCHER_BREAKER_THRESHOLD", 5),
		BreakerCooldown:  config.GetDurationEnv("DISPATCHER_BREAKER_COOLDOWN", 30*time.Second),
		MaxRequeues:      config.GetIntEnv("DISPATCHER_MAX_REQUEUES", 10),
	}.withDefaults()
}

func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	c.MaxRetries = max(c.MaxRetries, 0)
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	if c.MaxRequeues <= 0 {
		c.MaxRequeues = 10
	}
	return c
}
