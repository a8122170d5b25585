package api

import "github.com/FocuswithJustin/onexrd/internal/config"

// Config holds server configuration.
type Config struct {
	Addr    string
	Version string
	// DataRoot confines every path named in a request. Empty allows any path.
	DataRoot          string
	Analysis          config.Config
	RateLimitRequests int        // Requests per minute (0 = disabled)
	RateLimitBurst    int        // Burst size
	Auth              AuthConfig // Authentication configuration
	TLS               TLSConfig
	AllowedOrigins    []string   // CORS and WebSocket origins (empty = allow all)
	BatchWorkers      int        // Workers per batch job (0 = one per CPU)
}

// TLSConfig enables HTTPS when both files are set.
type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

// DefaultConfig listens on :8080 with the stock analysis settings.
func DefaultConfig() Config {
	return Config{
		Addr:     ":8080",
		Version:  "dev",
		Analysis: config.Default(),
	}
}

func (c Config) version() string {
	if c.Version == "" {
		return "dev"
	}
	return c.Version
}
