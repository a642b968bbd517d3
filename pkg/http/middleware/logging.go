package middleware

import (
	"time"

	"AgentFlow/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs 5xx responses as errors, requests slower than
// slowThreshold as warnings and everything else at debug.
func RequestLogging(l *logger.Logger, slowThreshold time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req, res := c.Request(), c.Response()
			dur := time.Since(start)
			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("route", routeLabel(c)),
				logger.Int("status", res.Status),
				logger.Int64("bytes", res.Size),
				logger.Duration("duration_ms", dur),
				logger.String("remote", c.RealIP()),
			}
			switch {
			case res.Status >= 500:
				l.Error("http request failed", fields...)
			case slowThreshold > 0 && dur >= slowThreshold:
				l.Warn("http request slow", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}
