package authz

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// AuthMode selects how callers are identified.
type AuthMode string

const (
	// AuthModeNone treats every caller as an operator (development only).
	AuthModeNone AuthMode = "none"
	// AuthModeHeader trusts X-Remote-User and X-User-Role from a proxy.
	AuthModeHeader AuthMode = "header"
	// AuthModeJWT reads the caller from a Bearer token.
	AuthModeJWT AuthMode = "jwt"
)

// Config holds authentication settings.
type Config struct {
	Mode AuthMode
	JWT  JWTConfig
}

// DefaultConfig returns a Config using trusted proxy headers.
func DefaultConfig() *Config {
	return &Config{Mode: AuthModeHeader}
}

// ConfigFromEnv reads authentication settings from environment variables:
//   - FORMSYNC_AUTH_MODE: none, header or jwt (default: header)
//   - FORMSYNC_JWT_PUBLIC_KEY: path to a PEM RSA public key
//   - FORMSYNC_JWT_ROLE_CLAIM: claim path holding the role (default: role)
//   - FORMSYNC_JWT_OPERATOR_VALUE: claim value granting operator (default: operator)
//   - FORMSYNC_JWT_ISSUER, FORMSYNC_JWT_AUDIENCE: optional token checks
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("FORMSYNC_AUTH_MODE"))); v != "" {
		cfg.Mode = AuthMode(v)
	}
	cfg.JWT = JWTConfig{
		PublicKeyPath:     os.Getenv("FORMSYNC_JWT_PUBLIC_KEY"),
		RoleClaim:         os.Getenv("FORMSYNC_JWT_ROLE_CLAIM"),
		OperatorRoleValue: os.Getenv("FORMSYNC_JWT_OPERATOR_VALUE"),
		Issuer:            os.Getenv("FORMSYNC_JWT_ISSUER"),
		Audience:          os.Getenv("FORMSYNC_JWT_AUDIENCE"),
	}
	return cfg
}

// NewExtractor builds the Extractor for the configured mode.
func NewExtractor(cfg *Config, logger *slog.Logger) (Extractor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Mode {
	case AuthModeNone:
		logger.Warn("authentication disabled, every caller is an operator")
		return OpenExtractor, nil
	case AuthModeHeader, "":
		return HeaderExtractor, nil
	case AuthModeJWT:
		jwtCfg := cfg.JWT
		jwtCfg.Logger = logger
		return NewJWTExtractor(jwtCfg)
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}
