package clients

import (
	"context"
	"io"
	"net/http"
)

// Logger interface for HTTP client logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// HTTPClient wraps http.Client with context-aware helpers
// It adds the internal service headers to every request
type HTTPClient struct {
	client *http.Client
	logger Logger
	secret string
	caller string
}

// NewHTTPClient creates a new HTTP client wrapper
func NewHTTPClient(client *http.Client, secret, caller string, logger Logger) *HTTPClient {
	return &HTTPClient{
		client: client,
		logger: logger,
		secret: secret,
		caller: caller,
	}
}

// DoRequest creates and executes an HTTP request
func (c *HTTPClient) DoRequest(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		req.Header.Set("X-Internal-Service", c.secret)
	}

	caller := c.caller
	if fromCtx, ok := GetCaller(ctx); ok {
		caller = fromCtx
	}
	if caller != "" {
		req.Header.Set("X-Caller", caller)
	}

	c.logger.Debug("http request", "method", method, "url", url, "caller", caller)
	return c.client.Do(req)
}
