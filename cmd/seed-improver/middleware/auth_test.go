package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func serve(secret string, header map[string]string) (*httptest.ResponseRecorder, string) {
	e := echo.New()
	var caller string
	e.GET("/internal/ping", func(c echo.Context) error {
		caller = GetCaller(c)
		return c.NoContent(http.StatusNoContent)
	}, InternalServiceAuth(secret))

	req := httptest.NewRequest(http.MethodGet, "/internal/ping", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, caller
}

func TestInternalServiceAuth(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header map[string]string
		code   int
	}{
		{"no secret configured", "", nil, http.StatusNoContent},
		{"missing header", "s3cret", nil, http.StatusUnauthorized},
		{"wrong token", "s3cret", map[string]string{InternalServiceHeader: "nope"}, http.StatusForbidden},
		{"valid token", "s3cret", map[string]string{InternalServiceHeader: "s3cret"}, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := serve(tt.secret, tt.header)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestGetCaller(t *testing.T) {
	_, caller := serve("", map[string]string{CallerHeader: "trading-engine"})
	assert.Equal(t, "trading-engine", caller)

	_, caller = serve("", nil)
	assert.Equal(t, "unknown", caller)
}
