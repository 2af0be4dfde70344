package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapterlogger "guild-access/internal/adapters/logger"
	"guild-access/internal/config"
	"guild-access/internal/domain"
)

const (
	rootID  = "99999999-9999-4999-8999-999999999999"
	guildID = "9b2f7a4e-3c1d-4e5f-8a9b-0c1d2e3f4a5b"
	userID  = "44444444-4444-4444-8444-444444444444"
)

func memoryEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	t.Setenv("STORE_BACKEND", config.BackendMemory)
	t.Setenv("AUTH_MODE", "none")
	t.Setenv("IDENTITY_PROVIDER", config.IdentityNone)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("XRAY_ENABLED", "false")
	t.Setenv("AWS_XRAY_SDK_DISABLED", "true")
	t.Setenv("BOOTSTRAP_SUPER_ADMIN_ID", rootID)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestGrantAsSuperAdmin(t *testing.T) {
	memoryEnv(t)
	out, err := execute(t, "grant", "--as", rootID, "--guild", guildID, "--user", userID, "--role", "officer", "--source", "seed")
	require.NoError(t, err)

	var res struct {
		Created    bool                       `json:"created"`
		Assignment domain.GuildRoleAssignment `json:"assignment"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Created)
	assert.Equal(t, domain.RoleOfficer, res.Assignment.Role)
	assert.Equal(t, domain.SourceSeed, res.Assignment.Source)
	assert.Equal(t, rootID, res.Assignment.AssignedByUserID)
}

func TestGrantCanonicalizesIDs(t *testing.T) {
	memoryEnv(t)
	out, err := execute(t, "grant", "--as", rootID, "--guild", strings.ToUpper(guildID), "--user", strings.ToUpper(userID), "--role", "member")
	require.NoError(t, err)
	assert.Contains(t, out, `"guild_id": "`+guildID+`"`)
	assert.Contains(t, out, `"user_id": "`+userID+`"`)

	_, err = execute(t, "grant", "--as", rootID, "--guild", "guild-1", "--user", userID, "--role", "member")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, 2, exitCode(err))
}

func TestGrantAndRevokeErrors(t *testing.T) {
	memoryEnv(t)

	_, err := execute(t, "grant", "--as", userID, "--guild", guildID, "--user", userID, "--role", "officer")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = execute(t, "grant", "--as", rootID, "--guild", guildID, "--user", userID, "--role", "super_admin")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = execute(t, "grant", "--guild", guildID, "--user", userID, "--role", "officer")
	assert.ErrorContains(t, err, `"as"`)

	_, err = execute(t, "revoke", "--as", rootID, "--guild", guildID, "--user", userID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 2, exitCode(err))
	assert.Equal(t, 1, exitCode(&domain.StoreError{Op: "get", Err: io.ErrUnexpectedEOF}))
}

func TestSyncRole(t *testing.T) {
	memoryEnv(t)

	out, err := execute(t, "sync-role", rootID)
	require.NoError(t, err)
	assert.Contains(t, out, `"app_role": "super_admin"`)

	out, err = execute(t, "sync-role", userID)
	require.NoError(t, err)
	assert.Contains(t, out, `"app_role": null`)

	_, err = execute(t, "sync-role")
	assert.Error(t, err)
}

func TestProfileCommand(t *testing.T) {
	memoryEnv(t)
	out, err := execute(t, "profile", "--id", userID, "--email", "raider@example.com", "--super-admin")
	require.NoError(t, err)
	assert.Contains(t, out, `"app_role": "super_admin"`)
}

func TestMigrateRequiresPostgres(t *testing.T) {
	memoryEnv(t)
	_, err := execute(t, "migrate")
	assert.ErrorContains(t, err, "migrate requires STORE_BACKEND=postgres")
}

func TestRouterWithJWTAuth(t *testing.T) {
	cfg := &config.Config{
		AppEnv:           "test",
		Port:             8080,
		StoreBackend:     config.BackendMemory,
		IdentityProvider: config.IdentityNone,
		AuthMode:         "jwt",
		JWTSecret:        "secret",
		JWTCookieName:    "access_token",
	}
	require.NoError(t, cfg.Validate())
	a, err := newApp(context.Background(), cfg, adapterlogger.NewWithWriter(io.Discard, slog.LevelError))
	require.NoError(t, err)
	defer a.Close()

	e, err := a.router(false)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guilds/"+guildID+"/permissions", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterRejectsUnknownAuthMode(t *testing.T) {
	cfg := &config.Config{StoreBackend: config.BackendMemory, IdentityProvider: config.IdentityNone, AuthMode: "basic"}
	a, err := newApp(context.Background(), cfg, adapterlogger.NewWithWriter(io.Discard, slog.LevelError))
	require.NoError(t, err)
	_, err = a.router(false)
	assert.Error(t, err)
}
