// Package auth verifies access tokens and stores the caller's user id on the
// echo context.
package auth

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// UserIDKey is the echo context key holding the authenticated user id.
const UserIDKey = "user_id"

// DefaultCookieName is read when no Authorization header is present.
const DefaultCookieName = "access_token"

// UserID returns the authenticated user id, or "" when the request is
// anonymous.
func UserID(c echo.Context) string {
	id, _ := c.Get(UserIDKey).(string)
	return id
}

// tokenFromRequest prefers the bearer header and falls back to cookieName.
func tokenFromRequest(r *http.Request, cookieName string) string {
	if h := r.Header.Get(echo.HeaderAuthorization); h != "" {
		scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookieName == "" {
		return ""
	}
	if ck, err := r.Cookie(cookieName); err == nil {
		return strings.TrimSpace(ck.Value)
	}
	return ""
}

// subjectID returns the canonical form of a uuid subject claim.
func subjectID(sub string) (string, bool) {
	id, err := uuid.Parse(sub)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

func unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": msg})
}
