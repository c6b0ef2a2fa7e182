// Package middleware holds the Echo middleware FinScan installs on every
// route: structured access logs, panic recovery and Prometheus metrics.
package middleware

import (
	"fmt"
	"time"

	applogger "FinScan/pkg/logger"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestLogging writes one line per request. 5xx responses log at error,
// requests slower than slow at warn, everything else at debug.
func RequestLogging(l *applogger.Logger, slow time.Duration) echo.MiddlewareFunc {
	if l == nil {
		l = applogger.NewNop()
	}
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogRoutePath: true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v echomw.RequestLoggerValues) error {
			fields := []applogger.Field{
				applogger.String("method", v.Method),
				applogger.String("route", v.RoutePath),
				applogger.String("path", v.URIPath),
				applogger.Int("status", v.Status),
				applogger.Duration("latency_ms", v.Latency),
				applogger.String("remote", v.RemoteIP),
			}
			if v.RequestID != "" {
				fields = append(fields, applogger.String("request_id", v.RequestID))
			}
			switch {
			case v.Status >= 500:
				if v.Error != nil {
					fields = append(fields, applogger.Error(v.Error))
				}
				l.Error("http request failed", fields...)
			case slow > 0 && v.Latency >= slow:
				l.Warn("http request slow", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		},
	})
}

// Recover turns a handler panic into a 500 and logs the stack.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	if l == nil {
		l = applogger.NewNop()
	}
	return echomw.RecoverWithConfig(echomw.RecoverConfig{
		StackSize: 8 << 10,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			l.Error("http handler panic",
				applogger.String("path", c.Request().URL.Path),
				applogger.String("stack", string(stack)),
				applogger.Error(err))
			return fmt.Errorf("panic: %w", err)
		},
	})
}
