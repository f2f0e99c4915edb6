package controllers

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RequestLoggerMiddleware attaches a request scoped zerolog logger to the
// request context and logs one line per request.
func RequestLoggerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := c.Request().Header.Get(echo.HeaderXRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Response().Header().Set(echo.HeaderXRequestID, requestID)

		logger := log.With().
			Str("request_id", requestID).
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Logger()
		c.SetRequest(c.Request().WithContext(logger.WithContext(c.Request().Context())))

		started := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		event := logger.Info()
		if c.Response().Status >= 500 {
			event = logger.Error()
		}
		event.
			Int("status", c.Response().Status).
			Int64("bytes_out", c.Response().Size).
			Dur("latency", time.Since(started)).
			Msg("request handled")
		return nil
	}
}

func requestLogger(c echo.Context) *zerolog.Logger {
	return zerolog.Ctx(c.Request().Context())
}
