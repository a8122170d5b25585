package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/FocuswithJustin/onexrd/internal/logging"
)

// MinAPIKeyLength is the shortest accepted API key.
const MinAPIKeyLength = 16

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled bool
	APIKey  string
}

// authMiddleware requires a matching X-API-Key header when auth is enabled.
// The root and health endpoints stay public.
func authMiddleware(cfg AuthConfig, next http.Handler) http.Handler {
	if !cfg.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			logging.SecurityEvent("unauthorized_request", "auth", "path", r.URL.Path, "reason", "missing API key")
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing X-API-Key header")
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(cfg.APIKey)) != 1 {
			logging.SecurityEvent("unauthorized_request", "auth", "path", r.URL.Path, "reason", "invalid API key")
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isPublicEndpoint(path string) bool {
	return path == "/" || path == "/health"
}

// ValidateAuthConfig rejects an enabled configuration without a usable key.
func ValidateAuthConfig(cfg AuthConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("API key is required when authentication is enabled")
	}
	if len(cfg.APIKey) < MinAPIKeyLength {
		return fmt.Errorf("API key must be at least %d characters (got %d)", MinAPIKeyLength, len(cfg.APIKey))
	}
	return nil
}
