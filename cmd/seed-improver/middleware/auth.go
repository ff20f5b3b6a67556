package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// CallerKey is the context key for the calling service name
	CallerKey ContextKey = "caller"

	// InternalServiceHeader carries the shared secret of internal callers
	InternalServiceHeader = "X-Internal-Service"

	// CallerHeader names the calling service (trading engine, scheduler, seedctl)
	CallerHeader = "X-Caller"
)

// InternalServiceAuth protects the /internal surface.
// With an empty secret every request passes (local development).
//
// Usage:
//
//	internal := e.Group("/internal", middleware.InternalServiceAuth(cfg.Improver.InternalSecret))
func InternalServiceAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if caller := c.Request().Header.Get(CallerHeader); caller != "" {
				c.Set(string(CallerKey), caller)
			}

			if secret == "" {
				return next(c)
			}

			token := c.Request().Header.Get(InternalServiceHeader)
			if token == "" {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "X-Internal-Service header is required",
				})
			}

			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				return c.JSON(http.StatusForbidden, map[string]interface{}{
					"error": "invalid internal service token",
				})
			}

			return next(c)
		}
	}
}

// GetCaller retrieves the caller name from the request context.
// Returns "unknown" if not set.
func GetCaller(c echo.Context) string {
	caller, ok := c.Get(string(CallerKey)).(string)
	if !ok || caller == "" {
		return "unknown"
	}
	return caller
}
