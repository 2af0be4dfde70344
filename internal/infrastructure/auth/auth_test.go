package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSubject = "11111111-1111-1111-1111-111111111111"
	cognitoSub  = "7d3f0c2a-9b41-4c5e-8a6f-2e1d0b9c8a77"
)

func serve(t *testing.T, mw echo.MiddlewareFunc, req *http.Request) (*httptest.ResponseRecorder, string) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	var seen string
	err := mw(func(c echo.Context) error {
		seen = UserID(c)
		return c.NoContent(http.StatusNoContent)
	})(c)
	require.NoError(t, err)
	return rec, seen
}

func signHS256(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTMiddleware_BearerAndCookie(t *testing.T) {
	mw := NewJWTMiddleware("top-secret", "")
	token := signHS256(t, "top-secret", jwt.RegisteredClaims{
		Subject:   testSubject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec, user := serve(t, mw.Handler, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, testSubject, user)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: token})
	rec, user = serve(t, mw.Handler, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, user)
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	mw := NewJWTMiddleware("top-secret", "session")
	cases := map[string]string{
		"wrong secret": signHS256(t, "other", jwt.RegisteredClaims{
			Subject: testSubject, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}),
		"expired": signHS256(t, "top-secret", jwt.RegisteredClaims{
			Subject: testSubject, ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}),
		"no expiry":  signHS256(t, "top-secret", jwt.RegisteredClaims{Subject: testSubject}),
		"no subject": signHS256(t, "top-secret", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}),
		"garbage":    "not-a-token",
		"subject not a uuid": signHS256(t, "top-secret", jwt.RegisteredClaims{
			Subject: "u1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
			rec, user := serve(t, mw.Handler, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Empty(t, user)
		})
	}

	rec, _ := serve(t, mw.Handler, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing authorization token")
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Basic abc")
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "cookie"})
	assert.Empty(t, tokenFromRequest(req, "access_token"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "bearer  abc ")
	assert.Equal(t, "abc", tokenFromRequest(req, ""))
}

func TestCognitoMiddleware_VerifiesAgainstJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(jwksResponse{Keys: []jwk{{
			Kty: "RSA",
			Kid: "kid-1",
			Use: "sig",
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer jwks.Close()

	issuer := "https://cognito-idp.us-east-1.amazonaws.com/pool"
	mw := newCognitoMiddleware(issuer, jwks.URL, DefaultCookieName)

	sign := func(claims jwt.MapClaims) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		tok.Header["kid"] = "kid-1"
		s, err := tok.SignedString(key)
		require.NoError(t, err)
		return s
	}
	exp := time.Now().Add(time.Hour).Unix()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+sign(jwt.MapClaims{
		"sub": cognitoSub, "iss": issuer, "exp": exp, "token_use": "access",
	}))
	rec, user := serve(t, mw.Handler, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, cognitoSub, user)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+sign(jwt.MapClaims{
		"sub": cognitoSub, "iss": "https://evil.example.com", "exp": exp, "token_use": "access",
	}))
	rec, _ = serve(t, mw.Handler, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+sign(jwt.MapClaims{
		"sub": cognitoSub, "iss": issuer, "exp": exp, "token_use": "refresh",
	}))
	rec, _ = serve(t, mw.Handler, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRSAFromJWK_RejectsZeroExponent(t *testing.T) {
	_, err := rsaFromJWK(base64.RawURLEncoding.EncodeToString([]byte{1, 2}), base64.RawURLEncoding.EncodeToString([]byte{0}))
	assert.Error(t, err)
}

func TestJWTMiddleware_CanonicalizesSubject(t *testing.T) {
	mw := NewJWTMiddleware("top-secret", "")
	token := signHS256(t, "top-secret", jwt.RegisteredClaims{
		Subject:   "AAAAAAAA-1111-1111-1111-111111111111",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec, user := serve(t, mw.Handler, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "aaaaaaaa-1111-1111-1111-111111111111", user)
}
