package syncer

import (
	"os"
	"strconv"
)

// Config holds configuration for the sync orchestrator.
type Config struct {
	// WebhookURL is the public submissions endpoint registered on each
	// deployed form. Empty skips registration.
	WebhookURL string
	// UploadDatasets pushes the reference lookup CSVs after deploy.
	UploadDatasets bool
	// RegisterWebhook registers WebhookURL after deploy.
	RegisterWebhook bool
}

// DefaultConfig returns the default sync configuration.
func DefaultConfig() *Config {
	return &Config{
		UploadDatasets:  true,
		RegisterWebhook: true,
	}
}

// ConfigFromEnv loads config from environment variables.
// FORMSYNC_WEBHOOK_PUBLIC_URL, FORMSYNC_SYNC_UPLOAD_DATASETS, FORMSYNC_SYNC_REGISTER_WEBHOOK
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	cfg.WebhookURL = os.Getenv("FORMSYNC_WEBHOOK_PUBLIC_URL")
	if v := os.Getenv("FORMSYNC_SYNC_UPLOAD_DATASETS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.UploadDatasets = b
		}
	}
	if v := os.Getenv("FORMSYNC_SYNC_REGISTER_WEBHOOK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RegisterWebhook = b
		}
	}

	return cfg
}
