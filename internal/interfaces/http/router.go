package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	adaptermiddleware "guild-access/internal/adapters/http/middleware"
	"guild-access/internal/domain"
	"guild-access/internal/ports"
)

type Middleware struct {
	Auth          echo.MiddlewareFunc
	XRay          echo.MiddlewareFunc
	RequestLogger echo.MiddlewareFunc
}

func newEcho(m Middleware, logger ports.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()
	e.HTTPErrorHandler = errorHandler(logger)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if m.XRay != nil {
		e.Use(m.XRay)
	}
	if m.RequestLogger != nil {
		e.Use(m.RequestLogger)
	}
	return e
}

// NewRouter wires the guild access routes. Every /guilds route runs the
// guild role gate with the allow-list of the capability it exercises.
func NewRouter(h *AccessHandler, authz adaptermiddleware.Authorizer, m Middleware, logger ports.Logger) *echo.Echo {
	e := newEcho(m, logger)
	e.GET("/healthz", h.Health)

	authed := []echo.MiddlewareFunc{adaptermiddleware.RequireUser}
	if m.Auth != nil {
		authed = append([]echo.MiddlewareFunc{m.Auth}, authed...)
	}
	gate := func(allowed domain.RoleSet) echo.MiddlewareFunc {
		return adaptermiddleware.RequireGuildRole(authz, allowed)
	}

	g := e.Group("/guilds/:guild_id", append(authed, requireGuildID)...)
	g.GET("/permissions", h.Permissions)
	g.GET("/access", h.List, gate(domain.AllowManageMembers))
	g.POST("/access", h.Assign, gate(domain.AllowManageRoles))
	g.PATCH("/access/:user_id", h.ChangeRole, gate(domain.AllowManageRoles))
	g.DELETE("/access/:user_id", h.Revoke, gate(domain.AllowManageRoles))
	g.GET("/audit-logs", h.GuildAuditLogs, gate(domain.AllowViewAudit))

	e.GET("/audit-logs", h.GlobalAuditLogs, authed...)
	return e
}
