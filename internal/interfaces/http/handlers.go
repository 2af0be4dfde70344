package http

import (
	"fmt"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"guild-access/internal/adapters/http/middleware"
	"guild-access/internal/application"
	"guild-access/internal/domain"
	"guild-access/internal/infrastructure/auth"
)

type assignRequest struct {
	UserID string `json:"user_id" validate:"required_without=Email,omitempty,uuid"`
	Email  string `json:"email" validate:"required_without=UserID,omitempty,email"`
	Role   string `json:"role" validate:"required,oneof=guild_admin officer raider member viewer"`
	Source string `json:"source" validate:"omitempty,oneof=invite manual seed system"`
}

type changeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=guild_admin officer raider member viewer"`
}

type auditQuery struct {
	Actions []string `query:"action" validate:"dive,oneof=ROLE_ASSIGNED ROLE_REVOKED"`
	Limit   int      `query:"limit" validate:"gte=0"`
	Before  string   `query:"before" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type AccessHandler struct {
	service *application.AccessService
}

func NewAccessHandler(service *application.AccessService) *AccessHandler {
	return &AccessHandler{service: service}
}

func (h *AccessHandler) Health(c echo.Context) error {
	return c.JSON(stdhttp.StatusOK, map[string]string{"status": "ok"})
}

func (h *AccessHandler) Permissions(c echo.Context) error {
	perms, err := h.service.Permissions(c.Request().Context(), auth.UserID(c), c.Param("guild_id"))
	if err != nil {
		return err
	}
	return c.JSON(stdhttp.StatusOK, perms)
}

func (h *AccessHandler) List(c echo.Context) error {
	assignments, err := h.service.ListAccess(c.Request().Context(), c.Param("guild_id"))
	if err != nil {
		return err
	}
	return c.JSON(stdhttp.StatusOK, map[string]any{
		"assignments": assignments,
		"viewer_role": middleware.GuildRole(c),
	})
}

func (h *AccessHandler) Assign(c echo.Context) error {
	var req assignRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	role, err := domain.ParseGuildRole(req.Role)
	if err != nil {
		return err
	}
	if req.UserID != "" {
		id, err := uuid.Parse(req.UserID)
		if err != nil {
			return fmt.Errorf("%w: user_id must be a uuid", domain.ErrInvalidInput)
		}
		req.UserID = id.String()
	}
	res, err := h.service.Assign(c.Request().Context(), auth.UserID(c), c.Param("guild_id"), application.AssignInput{
		UserID: req.UserID,
		Email:  req.Email,
		Role:   role,
		Source: domain.AssignmentSource(req.Source),
	})
	if err != nil {
		return err
	}
	status := stdhttp.StatusOK
	if res.Created {
		status = stdhttp.StatusCreated
	}
	return c.JSON(status, res.Assignment)
}

func (h *AccessHandler) ChangeRole(c echo.Context) error {
	userID, err := pathUUID(c, "user_id")
	if err != nil {
		return err
	}
	var req changeRoleRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	role, err := domain.ParseGuildRole(req.Role)
	if err != nil {
		return err
	}
	a, err := h.service.ChangeRole(c.Request().Context(), auth.UserID(c), c.Param("guild_id"), userID, role)
	if err != nil {
		return err
	}
	return c.JSON(stdhttp.StatusOK, a)
}

func (h *AccessHandler) Revoke(c echo.Context) error {
	userID, err := pathUUID(c, "user_id")
	if err != nil {
		return err
	}
	if err := h.service.Revoke(c.Request().Context(), auth.UserID(c), c.Param("guild_id"), userID); err != nil {
		return err
	}
	return c.NoContent(stdhttp.StatusNoContent)
}

func (h *AccessHandler) GuildAuditLogs(c echo.Context) error {
	filter, err := auditFilter(c)
	if err != nil {
		return err
	}
	entries, err := h.service.GuildAuditLogs(c.Request().Context(), c.Param("guild_id"), filter)
	if err != nil {
		return err
	}
	return c.JSON(stdhttp.StatusOK, map[string]any{"entries": entries})
}

func (h *AccessHandler) GlobalAuditLogs(c echo.Context) error {
	filter, err := auditFilter(c)
	if err != nil {
		return err
	}
	entries, err := h.service.GlobalAuditLogs(c.Request().Context(), auth.UserID(c), filter)
	if err != nil {
		return err
	}
	return c.JSON(stdhttp.StatusOK, map[string]any{"entries": entries})
}

func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return fmt.Errorf("%w: invalid payload", domain.ErrInvalidInput)
	}
	return c.Validate(req)
}

// auditFilter accepts repeated and comma-separated action params.
func auditFilter(c echo.Context) (domain.AuditFilter, error) {
	var q auditQuery
	if err := c.Bind(&q); err != nil {
		return domain.AuditFilter{}, fmt.Errorf("%w: invalid query", domain.ErrInvalidInput)
	}
	var actions []string
	for _, raw := range q.Actions {
		for _, a := range strings.Split(raw, ",") {
			if a = strings.TrimSpace(a); a != "" {
				actions = append(actions, a)
			}
		}
	}
	q.Actions = actions
	if err := c.Validate(&q); err != nil {
		return domain.AuditFilter{}, err
	}
	filter := domain.AuditFilter{Limit: q.Limit}
	for _, a := range q.Actions {
		filter.Actions = append(filter.Actions, domain.AuditAction(a))
	}
	if q.Before != "" {
		before, err := time.Parse(time.RFC3339, q.Before)
		if err != nil {
			return domain.AuditFilter{}, fmt.Errorf("%w: before must be RFC 3339", domain.ErrInvalidInput)
		}
		filter.Before = before.UTC()
	}
	return filter, nil
}

func pathUUID(c echo.Context, name string) (string, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return "", fmt.Errorf("%w: %s must be a uuid", domain.ErrInvalidInput, name)
	}
	return id.String(), nil
}

// requireGuildID rejects a malformed :guild_id before any store lookup and
// rewrites it in canonical lower-case form for the gate and handlers.
func requireGuildID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathUUID(c, "guild_id")
		if err != nil {
			return err
		}
		values := append([]string(nil), c.ParamValues()...)
		for i, name := range c.ParamNames() {
			if name == "guild_id" && i < len(values) {
				values[i] = id
			}
		}
		c.SetParamValues(values...)
		return next(c)
	}
}
