package ingest

import (
	"os"
	"strconv"
)

// WebhookConfig holds configuration for the webhook endpoint.
type WebhookConfig struct {
	// Secret is the shared HMAC-SHA256 key. Empty runs the endpoint in open
	// mode with no signature verification.
	Secret string
	// MaxBodyBytes caps the accepted request body.
	MaxBodyBytes int64
}

// DefaultWebhookConfig returns the default webhook configuration.
func DefaultWebhookConfig() *WebhookConfig {
	return &WebhookConfig{
		MaxBodyBytes: 10 << 20,
	}
}

// WebhookConfigFromEnv loads config from environment variables.
// FORMSYNC_WEBHOOK_SECRET, FORMSYNC_WEBHOOK_MAX_BODY_BYTES
func WebhookConfigFromEnv() *WebhookConfig {
	cfg := DefaultWebhookConfig()

	cfg.Secret = os.Getenv("FORMSYNC_WEBHOOK_SECRET")
	if v := os.Getenv("FORMSYNC_WEBHOOK_MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxBodyBytes = n
		}
	}

	return cfg
}

// OpenMode reports whether signatures are skipped.
func (c *WebhookConfig) OpenMode() bool {
	return c.Secret == ""
}
