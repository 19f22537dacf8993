package pubdesk

import (
	"io"
	"net/url"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// NewLogger builds the application logger: a console writer in development
// and JSON lines otherwise.
func NewLogger(cfg SiteConfig) zerolog.Logger {
	var out io.Writer = os.Stderr
	if cfg.Development() {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "pubdesk").Logger()
}

// requestContextLogger stores a request-scoped logger in the request
// context so handlers and packages can read it with zerolog.Ctx.
func (a *App) requestContextLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		id := req.Header.Get(echo.HeaderXRequestID)
		if id == "" {
			id = c.Response().Header().Get(echo.HeaderXRequestID)
		}
		log := a.Log.With().Str("request_id", id).Logger()
		c.SetRequest(req.WithContext(log.WithContext(req.Context())))
		return next(c)
	}
}

func (a *App) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := a.Log.Info()
			if v.Error != nil {
				ev = a.Log.Warn().Err(v.Error)
			}
			if v.Status >= 500 {
				ev = a.Log.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", redactURI(v.URI)).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}

// redactURI hides one-time tokens carried in query strings.
func redactURI(uri string) string {
	u, err := url.ParseRequestURI(uri)
	if err != nil || !u.Query().Has("claim") {
		return uri
	}
	q := u.Query()
	q.Set("claim", "redacted")
	u.RawQuery = q.Encode()
	return u.RequestURI()
}
