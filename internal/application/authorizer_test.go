package application

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"guild-access/internal/domain"
)

func TestAuthorizer_NoRoleIsForbidden(t *testing.T) {
	f := newFixture()
	f.profiles.On("GetAppRole", mock.Anything, "u1").Return(domain.RoleNone, nil)
	f.roles.On("GetActive", mock.Anything, "g1", "u1").Return(domain.GuildRoleAssignment{}, domain.ErrNotFound)

	role, err := f.authz.Authorize(context.Background(), "u1", "g1", domain.RolesOf(domain.RoleViewer))
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, domain.RoleNone, role)
}

func TestAuthorizer_SuperAdminIsGuildAdminEverywhere(t *testing.T) {
	f := newFixture()
	f.profiles.On("GetAppRole", mock.Anything, "root").Return(domain.RoleSuperAdmin, nil)

	for _, guild := range []string{"g1", "g2", "never-seen"} {
		role, err := f.authz.Authorize(context.Background(), "root", guild, domain.RolesOf(domain.RoleGuildAdmin))
		require.NoError(t, err)
		assert.Equal(t, domain.RoleGuildAdmin, role)
	}
	f.roles.AssertNotCalled(t, "GetActive", mock.Anything, mock.Anything, mock.Anything)
}

func TestAuthorizer_AllowListMembership(t *testing.T) {
	f := newFixture()
	f.profiles.On("GetAppRole", mock.Anything, "u1").Return(domain.RoleNone, domain.ErrNotFound)
	f.roles.On("GetActive", mock.Anything, "g1", "u1").Return(domain.GuildRoleAssignment{
		ID: "a1", GuildID: "g1", UserID: "u1", Role: domain.RoleOfficer,
	}, nil)

	role, err := f.authz.Authorize(context.Background(), "u1", "g1", domain.RolesOf(domain.RoleGuildAdmin, domain.RoleOfficer))
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOfficer, role)

	_, err = f.authz.Authorize(context.Background(), "u1", "g1", domain.RolesOf(domain.RoleGuildAdmin))
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAuthorizer_AllowListIsNotAThreshold(t *testing.T) {
	f := newFixture()
	f.profiles.On("GetAppRole", mock.Anything, "u1").Return(domain.RoleNone, nil)
	f.roles.On("GetActive", mock.Anything, "g1", "u1").Return(domain.GuildRoleAssignment{Role: domain.RoleGuildAdmin}, nil)

	_, err := f.authz.Authorize(context.Background(), "u1", "g1", domain.RolesOf(domain.RoleViewer))
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAuthorizer_LookupFaultIsNotForbidden(t *testing.T) {
	f := newFixture()
	f.profiles.On("GetAppRole", mock.Anything, "u1").Return(domain.RoleNone, nil)
	f.roles.On("GetActive", mock.Anything, "g1", "u1").Return(domain.GuildRoleAssignment{}, errors.New("connection refused"))

	_, err := f.authz.Authorize(context.Background(), "u1", "g1", domain.AllowAnyGuildRole)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrForbidden)
	assert.ErrorIs(t, err, domain.ErrStore)

	var authErr *domain.AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "u1", authErr.UserID)
	assert.Equal(t, "g1", authErr.GuildID)
	assert.True(t, f.logger.has("error", "guild role lookup failed during authorization"))
}

func TestAuthorizer_SuperAdminFaultFallsBackToAssignment(t *testing.T) {
	f := newFixture()
	f.profiles.On("GetAppRole", mock.Anything, "u1").Return(domain.RoleNone, errors.New("timeout"))
	f.roles.On("GetActive", mock.Anything, "g1", "u1").Return(domain.GuildRoleAssignment{}, domain.ErrNotFound)

	_, err := f.authz.Authorize(context.Background(), "u1", "g1", domain.RolesOf(domain.RoleGuildAdmin))
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAuthorizer_MissingUserIsUnauthorized(t *testing.T) {
	f := newFixture()
	_, err := f.authz.Authorize(context.Background(), "", "g1", domain.AllowAnyGuildRole)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestAuthorizer_EffectiveRole(t *testing.T) {
	f := newFixture()
	f.profiles.On("GetAppRole", mock.Anything, "root").Return(domain.RoleSuperAdmin, nil)
	f.profiles.On("GetAppRole", mock.Anything, "u1").Return(domain.RoleNone, nil)
	f.roles.On("GetActive", mock.Anything, "g1", "u1").Return(domain.GuildRoleAssignment{Role: domain.RoleRaider}, nil)
	f.roles.On("GetActive", mock.Anything, "g2", "u1").Return(domain.GuildRoleAssignment{}, domain.ErrNotFound)

	ctx := context.Background()
	role, err := f.authz.EffectiveRole(ctx, "root", "g1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSuperAdmin, role)

	role, err = f.authz.EffectiveRole(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleRaider, role)

	role, err = f.authz.EffectiveRole(ctx, "u1", "g2")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleNone, role)
}

func TestAuthorizer_RequireSuperAdmin(t *testing.T) {
	f := newFixture()
	f.profiles.On("GetAppRole", mock.Anything, "root").Return(domain.RoleSuperAdmin, nil)
	f.profiles.On("GetAppRole", mock.Anything, "u1").Return(domain.RoleNone, nil)

	assert.NoError(t, f.authz.RequireSuperAdmin(context.Background(), "root"))
	assert.ErrorIs(t, f.authz.RequireSuperAdmin(context.Background(), "u1"), domain.ErrForbidden)
	assert.ErrorIs(t, f.authz.RequireSuperAdmin(context.Background(), ""), domain.ErrUnauthorized)
}
