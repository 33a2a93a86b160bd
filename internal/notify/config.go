package notify

import (
	"time"

	"rombuilder/internal/config"
)

const defaultTelegramAPI = "https://api.telegram.org"

// Config selects which channel kinds can be delivered.
// A kind without credentials falls back to the log.
type Config struct {
	RedisURL       string        // enables redis:<channel> (REDIS_URL)
	TelegramToken  string        // enables telegram:<chat id>
	TelegramAPIURL string        // bot API base (default: https://api.telegram.org)
	TelegramRate   float64       // messages per second across all chats (default: 25)
	WebhookSecret  string        // HMAC key for X-Signature-256, optional
	HTTPTimeout    time.Duration // per-request timeout (default: 10s)
}

// LoadConfigFromEnv loads notifier configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		RedisURL:       config.GetEnv("REDIS_URL", ""),
		TelegramToken:  config.GetSecret("TELEGRAM_BOT_TOKEN"),
		TelegramAPIURL: config.GetEnv("TELEGRAM_API_URL", defaultTelegramAPI),
		TelegramRate:   config.GetFloatEnv("TELEGRAM_RATE_LIMIT", 25),
		WebhookSecret:  config.GetSecret("NOTIFY_WEBHOOK_SECRET"),
		HTTPTimeout:    config.GetDurationEnv("DISPATCHER_HTTP_TIMEOUT", 10*time.Second),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.TelegramAPIURL == "" {
		c.TelegramAPIURL = defaultTelegramAPI
	}
	if c.TelegramRate <= 0 {
		c.TelegramRate = 25
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	return c
}
