package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/seed-improver/common/ratelimit"
	"github.com/stretchr/testify/assert"
)

func TestLossRateLimitPerPair(t *testing.T) {
	e := echo.New()
	limiter := ratelimit.NewMemoryLimiter()
	cfg := ratelimit.TriggerConfig{Limit: 1, WindowSeconds: 60}

	var bodies []string
	e.POST("/loss", func(c echo.Context) error {
		data, _ := io.ReadAll(c.Request().Body)
		bodies = append(bodies, string(data))
		return c.NoContent(http.StatusAccepted)
	}, LossRateLimitMiddleware(limiter, cfg))

	post := func(body string) int {
		req := httptest.NewRequest(http.MethodPost, "/loss", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusAccepted, post(`{"pair":"BTC-USD"}`))
	assert.Equal(t, http.StatusTooManyRequests, post(`{"pair":"BTC-USD"}`))
	assert.Equal(t, http.StatusAccepted, post(`{"pair":"ETH-USD"}`))

	// handler still sees the full body
	assert.Equal(t, []string{`{"pair":"BTC-USD"}`, `{"pair":"ETH-USD"}`}, bodies)
}

func TestLossRateLimitKeepsLargeBody(t *testing.T) {
	e := echo.New()
	limiter := ratelimit.NewMemoryLimiter()
	cfg := ratelimit.TriggerConfig{Limit: 5, WindowSeconds: 60}

	var got string
	e.POST("/loss", func(c echo.Context) error {
		data, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		got = string(data)
		return c.NoContent(http.StatusAccepted)
	}, LossRateLimitMiddleware(limiter, cfg))

	body := `{"pair":"BTC-USD","note":"` + strings.Repeat("x", 2*maxPeekBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/loss", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, got, len(body))
	assert.Equal(t, body, got)
}

func TestManualRateLimit(t *testing.T) {
	e := echo.New()
	limiter := ratelimit.NewMemoryLimiter()
	e.POST("/run", func(c echo.Context) error {
		return c.NoContent(http.StatusAccepted)
	}, ManualRateLimitMiddleware(limiter, ratelimit.TriggerConfig{Limit: 2, WindowSeconds: 60}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", nil))
		codes = append(codes, rec.Code)
		if i == 2 {
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}, codes)
}
