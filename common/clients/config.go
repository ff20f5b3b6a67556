package clients

import (
	"os"
	"strconv"
	"time"
)

// ClientConfig holds client configuration loaded from environment
type ClientConfig struct {
	BaseURL string
	Secret  string // sent as X-Internal-Service
	Caller  string // sent as X-Caller
	Timeout time.Duration
}

// LoadClientConfig loads client configuration from environment variables
func LoadClientConfig() *ClientConfig {
	timeout := 35 * time.Minute
	if v, err := strconv.Atoi(os.Getenv("SEEDCTL_TIMEOUT_SECONDS")); err == nil && v > 0 {
		timeout = time.Duration(v) * time.Second
	}

	return &ClientConfig{
		BaseURL: getEnvOrDefault("SEEDCTL_URL", "http://localhost:8080"),
		Secret:  os.Getenv("INTERNAL_SERVICE_SECRET"),
		Caller:  getEnvOrDefault("SEEDCTL_CALLER", "seedctl"),
		Timeout: timeout,
	}
}

// Helper to get env with default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
