package gateway

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimit allows n requests per period across all callers, with bursts of
// up to n. Excess requests get 429.
func RateLimit(n int, period time.Duration) echo.MiddlewareFunc {
	if n < 1 {
		n = 1
	}
	if period <= 0 {
		period = time.Minute
	}
	limiter := rate.NewLimiter(rate.Limit(float64(n)/period.Seconds()), n)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiter.Allow() {
				return c.JSON(http.StatusTooManyRequests, APIResponse{
					Status:  http.StatusTooManyRequests,
					Message: "Rate limit exceeded. Please try again later.",
				})
			}
			return next(c)
		}
	}
}
