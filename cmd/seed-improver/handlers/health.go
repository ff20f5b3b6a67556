package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/seed-improver/common/bootstrap"
)

// HealthHandler reports dependency health
type HealthHandler struct {
	components *bootstrap.Components
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(components *bootstrap.Components) *HealthHandler {
	return &HealthHandler{
		components: components,
	}
}

// Health checks the database and redis
// GET /health
func (h *HealthHandler) Health(c echo.Context) error {
	status := h.components.Health(c.Request().Context())

	code, overall := http.StatusOK, "ok"
	if !bootstrap.Healthy(status) {
		code, overall = http.StatusServiceUnavailable, "degraded"
	}

	return c.JSON(code, map[string]interface{}{
		"status":       overall,
		"service":      h.components.Config.Service.Name,
		"dependencies": status,
	})
}

// ErrorHandler renders every error as {"error": "..."}
func ErrorHandler(log interface {
	Error(msg string, args ...any)
}) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, msg := http.StatusInternalServerError, "internal server error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprint(he.Message)
		} else {
			log.Error("unhandled request error", "path", c.Path(), "error", err)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, map[string]string{"error": msg})
		}
		if err != nil {
			log.Error("failed to write error response", "error", err)
		}
	}
}
