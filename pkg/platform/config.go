package platform

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ClientConfig controls the platform HTTP client.
type ClientConfig struct {
	BaseURL string        // Platform root, e.g. https://kf.kobotoolbox.org.
	Token   string        // API token sent as "Authorization: Token <token>".
	Timeout time.Duration // Per-request timeout. Default 30s.
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL: "https://kf.kobotoolbox.org",
		Timeout: 30 * time.Second,
	}
}

// ClientConfigFromEnv loads config from environment variables.
// FORMSYNC_PLATFORM_URL, FORMSYNC_PLATFORM_TOKEN, FORMSYNC_PLATFORM_TIMEOUT_SECONDS
func ClientConfigFromEnv() *ClientConfig {
	cfg := DefaultClientConfig()

	if v := os.Getenv("FORMSYNC_PLATFORM_URL"); v != "" {
		cfg.BaseURL = strings.TrimRight(v, "/")
	}

	cfg.Token = os.Getenv("FORMSYNC_PLATFORM_TOKEN")

	if v := os.Getenv("FORMSYNC_PLATFORM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}

	return cfg
}
