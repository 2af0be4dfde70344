package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"guild-access/internal/infrastructure/auth"
	"guild-access/internal/ports"
)

func RequestLogger(logger ports.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			started := time.Now()
			err := next(c)
			if err != nil {
				// resolve the final status before logging
				c.Error(err)
				err = nil
			}
			duration := time.Since(started)
			ctx := c.Request().Context()
			args := []any{
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"route_pattern", c.Path(),
				"status", c.Response().Status,
				"duration", duration.String(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			}
			if userID := auth.UserID(c); userID != "" {
				args = append(args, "user_id", userID)
			}
			if c.Response().Status >= 500 {
				logger.Error(ctx, "http request", args...)
			} else {
				logger.Info(ctx, "http request", args...)
			}
			return err
		}
	}
}
