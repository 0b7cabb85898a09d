package reconcile

import (
	"os"
	"strconv"
)

// Config controls reconciliation behavior.
type Config struct {
	// AllowCreation permits new_registration submissions to create
	// beneficiaries. Default false.
	AllowCreation bool
	// Source is stamped on beneficiaries created from submissions.
	Source string
}

// DefaultConfig returns the default reconciliation configuration.
func DefaultConfig() *Config {
	return &Config{
		AllowCreation: false,
		Source:        "kobo",
	}
}

// ConfigFromEnv loads config from environment variables.
// FORMSYNC_ALLOW_BENEFICIARY_CREATION
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("FORMSYNC_ALLOW_BENEFICIARY_CREATION"); v != "" {
		cfg.AllowCreation, _ = strconv.ParseBool(v)
	}

	return cfg
}
