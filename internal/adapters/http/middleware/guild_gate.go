package middleware

import (
	"context"

	"github.com/labstack/echo/v4"

	"guild-access/internal/domain"
	"guild-access/internal/infrastructure/auth"
)

// GuildRoleKey is the echo context key holding the role the gate resolved.
const GuildRoleKey = "guild_role"

type Authorizer interface {
	Authorize(ctx context.Context, userID, guildID string, allowed domain.RoleSet) (domain.Role, error)
}

// RequireGuildRole admits the request only when the caller's effective role
// in the :guild_id guild is in allowed. Errors are returned for the HTTP error
// handler to map.
func RequireGuildRole(authz Authorizer, allowed domain.RoleSet) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, err := authz.Authorize(c.Request().Context(), auth.UserID(c), c.Param("guild_id"), allowed)
			if err != nil {
				return err
			}
			c.Set(GuildRoleKey, role)
			return next(c)
		}
	}
}

// RequireUser rejects anonymous requests.
func RequireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if auth.UserID(c) == "" {
			return domain.ErrUnauthorized
		}
		return next(c)
	}
}

func GuildRole(c echo.Context) domain.Role {
	r, _ := c.Get(GuildRoleKey).(domain.Role)
	return r
}
