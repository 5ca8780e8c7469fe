package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
)

// RequestRecorder receives one observation per handled request
type RequestRecorder interface {
	RecordServerRequest(method, path string, status int, d time.Duration)
}

// NewMetrics records request counts and latency by route pattern. Unmatched
// routes are recorded under "unmatched" to keep label cardinality bounded.
func NewMetrics(rec RequestRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if rec == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			rec.RecordServerRequest(c.Request().Method, path, status, time.Since(start))
			return err
		}
	}
}
