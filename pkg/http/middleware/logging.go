package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	applogger "StockSense/pkg/logger"
)

// RequestLogging logs one line per request: warn for server errors and
// requests slower than slow, debug otherwise. A nil logger disables it.
func RequestLogging(l *applogger.Logger, slow time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if l == nil {
			return next
		}
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let echo write the error so the logged status is final
				c.Error(err)
			}

			elapsed := time.Since(start)
			req, res := c.Request(), c.Response()
			fields := []applogger.Field{
				applogger.String("method", req.Method),
				applogger.String("route", c.Path()),
				applogger.String("uri", req.RequestURI),
				applogger.String("remote", c.RealIP()),
				applogger.Int("status", res.Status),
				applogger.Duration("latency_ms", elapsed),
			}
			if res.Status >= 500 || (slow > 0 && elapsed >= slow) {
				l.Warn("http request", fields...)
			} else {
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}
