package authz

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures the Bearer token extractor.
type JWTConfig struct {
	// RoleClaim is the claim path holding the caller's role. Dot-notation
	// reaches nested claims (e.g. "realm_access.roles"). Default: "role".
	RoleClaim string

	// OperatorRoleValue is the claim value that maps to RoleOperator.
	// Default: "operator".
	OperatorRoleValue string

	// PublicKeyPath is a PEM-encoded RSA public key for RS256 verification.
	// When empty, tokens are parsed without verification (trusted proxy mode).
	PublicKeyPath string

	Issuer   string
	Audience string

	Logger *slog.Logger
}

// NewJWTExtractor creates an Extractor reading "Authorization: Bearer <token>".
// The user is taken from preferred_username, then sub. Missing or invalid
// tokens yield an anonymous viewer.
func NewJWTExtractor(cfg JWTConfig) (Extractor, error) {
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = "role"
	}
	if cfg.OperatorRoleValue == "" {
		cfg.OperatorRoleValue = string(RoleOperator)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var publicKey *rsa.PublicKey
	if cfg.PublicKeyPath != "" {
		key, err := loadPublicKey(cfg.PublicKeyPath)
		if err != nil {
			return nil, err
		}
		publicKey = key
		cfg.Logger.Info("JWT extractor: using RS256 verification", "keyPath", cfg.PublicKeyPath)
	} else {
		cfg.Logger.Warn("JWT extractor: no public key configured, tokens parsed without verification")
	}

	return func(r *http.Request) Identity {
		anonymous := Identity{User: Anonymous, Role: RoleViewer}
		token := bearerToken(r)
		if token == "" {
			return anonymous
		}
		claims, err := parseClaims(token, publicKey, cfg)
		if err != nil {
			cfg.Logger.Debug("JWT parse failed, defaulting to viewer", "error", err)
			return anonymous
		}
		return Identity{
			User: userFromClaims(claims),
			Role: roleFromClaims(claims, cfg.RoleClaim, cfg.OperatorRoleValue),
		}
	}, nil
}

func loadPublicKey(path string) (*rsa.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWT public key from %s: %w", path, err)
	}
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block from %s", path)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA (got %T)", parsed)
	}
	return rsaKey, nil
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseClaims(tokenString string, publicKey *rsa.PublicKey, cfg JWTConfig) (jwt.MapClaims, error) {
	var opts []jwt.ParserOption
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	var (
		token *jwt.Token
		err   error
	)
	if publicKey != nil {
		token, err = jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return publicKey, nil
		}, opts...)
	} else {
		token, _, err = jwt.NewParser(opts...).ParseUnverified(tokenString, jwt.MapClaims{})
	}
	if err != nil {
		return nil, fmt.Errorf("JWT parse error: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	return claims, nil
}

func userFromClaims(claims jwt.MapClaims) string {
	for _, key := range []string{"preferred_username", "sub"} {
		if s, ok := claims[key].(string); ok && s != "" {
			return s
		}
	}
	return Anonymous
}

// roleFromClaims walks claimPath. A string claim must equal operatorValue;
// an array claim must contain it.
func roleFromClaims(claims jwt.MapClaims, claimPath, operatorValue string) Role {
	var current any = map[string]any(claims)
	for _, part := range strings.Split(claimPath, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return RoleViewer
		}
		if current, ok = m[part]; !ok {
			return RoleViewer
		}
	}

	switch v := current.(type) {
	case string:
		if strings.EqualFold(v, operatorValue) {
			return RoleOperator
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.EqualFold(s, operatorValue) {
				return RoleOperator
			}
		}
	}
	return RoleViewer
}
