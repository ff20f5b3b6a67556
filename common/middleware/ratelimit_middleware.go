package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/seed-improver/common/ratelimit"
)

const maxPeekBytes = 64 << 10

// peekPair reads the "pair" field of a JSON body and restores the body for the handler
func peekPair(c echo.Context) string {
	req := c.Request()
	if req.Body == nil {
		return ""
	}

	// only a prefix is read; the handler gets it back followed by the unread rest
	data, err := io.ReadAll(io.LimitReader(req.Body, maxPeekBytes))
	req.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(data), req.Body), req.Body}
	if err != nil || len(data) == 0 {
		return ""
	}

	var body struct {
		Pair string `json:"pair"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return body.Pair
}

func tooMany(c echo.Context, code string, res *ratelimit.RateLimitResult, cfg ratelimit.TriggerConfig, extra map[string]interface{}) error {
	details := map[string]interface{}{
		"limit":               res.Limit,
		"window":              strconv.Itoa(cfg.WindowSeconds) + " seconds",
		"current_count":       res.CurrentCount,
		"retry_after_seconds": res.RetryAfterSeconds,
	}
	for k, v := range extra {
		details[k] = v
	}

	c.Response().Header().Set("Retry-After", strconv.FormatInt(res.RetryAfterSeconds, 10))
	return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
		"error":   code,
		"message": "Too many improvement runs requested. Please try again later.",
		"details": details,
	})
}

// LossRateLimitMiddleware bounds loss-triggered runs per trading pair.
// Requests without a pair share one "all" bucket.
func LossRateLimitMiddleware(limiter ratelimit.Limiter, cfg ratelimit.TriggerConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			pair := peekPair(c)
			if pair == "" {
				pair = "all"
			}

			res, err := limiter.Check(c.Request().Context(), ratelimit.PairKey(pair), cfg)
			if err != nil {
				// fail open
				return next(c)
			}

			if !res.Allowed {
				return tooMany(c, "loss_rate_limit_exceeded", res, cfg, map[string]interface{}{"pair": pair})
			}

			return next(c)
		}
	}
}

// ManualRateLimitMiddleware bounds manual runs service-wide
func ManualRateLimitMiddleware(limiter ratelimit.Limiter, cfg ratelimit.TriggerConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			res, err := limiter.Check(c.Request().Context(), ratelimit.ManualKey, cfg)
			if err != nil {
				return next(c)
			}

			if !res.Allowed {
				return tooMany(c, "manual_rate_limit_exceeded", res, cfg, nil)
			}

			return next(c)
		}
	}
}
