package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// JWTMiddleware verifies HS256 tokens signed with a shared secret, read from
// the bearer header or the session cookie.
type JWTMiddleware struct {
	secret     []byte
	cookieName string
}

func NewJWTMiddleware(secret, cookieName string) *JWTMiddleware {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &JWTMiddleware{secret: []byte(secret), cookieName: cookieName}
}

func (m *JWTMiddleware) Handler(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tokenString := tokenFromRequest(c.Request(), m.cookieName)
		if tokenString == "" {
			return unauthorized(c, "missing authorization token")
		}
		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return m.secret, nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		)
		if err != nil || !token.Valid {
			return unauthorized(c, "invalid token")
		}
		userID, ok := subjectID(claims.Subject)
		if !ok {
			return unauthorized(c, "invalid token")
		}
		c.Set(UserIDKey, userID)
		return next(c)
	}
}
