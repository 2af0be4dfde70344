package http

import (
	"errors"
	stdhttp "net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"guild-access/internal/domain"
	"guild-access/internal/ports"
)

func handleError(c echo.Context, err error) error {
	status := statusOf(err)
	body := map[string]any{"error": messageOf(err, status)}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		fields := make(map[string]string, len(validationErrs))
		for _, fe := range validationErrs {
			fields[fe.Field()] = fe.Tag()
		}
		body["fields"] = fields
	}
	if c.Request().Method == stdhttp.MethodHead {
		return c.NoContent(status)
	}
	return c.JSON(status, body)
}

func statusOf(err error) int {
	var httpErr *echo.HTTPError
	var authzErr *domain.AuthorizationError
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code
	case errors.As(err, &authzErr), errors.Is(err, domain.ErrStore):
		return stdhttp.StatusInternalServerError
	case errors.As(err, &validationErrs):
		return stdhttp.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidInput):
		return stdhttp.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return stdhttp.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return stdhttp.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return stdhttp.StatusNotFound
	case errors.Is(err, domain.ErrLastGuildAdmin), errors.Is(err, domain.ErrConflict):
		return stdhttp.StatusConflict
	default:
		return stdhttp.StatusInternalServerError
	}
}

// messageOf never exposes the cause of a 5xx.
func messageOf(err error, status int) any {
	var httpErr *echo.HTTPError
	switch {
	case status >= stdhttp.StatusInternalServerError:
		return "internal error"
	case errors.As(err, &httpErr):
		return httpErr.Message
	case status == stdhttp.StatusUnprocessableEntity:
		return "validation failed"
	case status == stdhttp.StatusUnauthorized:
		return "unauthorized"
	case status == stdhttp.StatusForbidden:
		return "forbidden"
	case errors.Is(err, domain.ErrConflict):
		return "assignment was modified concurrently, retry"
	default:
		return err.Error()
	}
}

// errorHandler is echo's HTTPErrorHandler, so errors returned by gates and
// handlers share one mapping. Faults are logged with their cause.
func errorHandler(logger ports.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var authzErr *domain.AuthorizationError
		switch {
		case errors.As(err, &authzErr):
			logger.Error(c.Request().Context(), "authorization fault",
				"user_id", authzErr.UserID,
				"guild_id", authzErr.GuildID,
				"error", authzErr.Err,
			)
		case statusOf(err) >= stdhttp.StatusInternalServerError:
			logger.Error(c.Request().Context(), "request failed", "route_pattern", c.Path(), "error", err)
		}
		if err := handleError(c, err); err != nil {
			logger.Error(c.Request().Context(), "failed to write error response", "error", err)
		}
	}
}
