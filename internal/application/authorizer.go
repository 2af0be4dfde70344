package application

import (
	"context"

	"guild-access/internal/domain"
	"guild-access/internal/ports"
)

// Authorizer is the guild role gate used by every protected route.
type Authorizer struct {
	store  *RoleStore
	logger ports.Logger
}

func NewAuthorizer(store *RoleStore, logger ports.Logger) *Authorizer {
	return &Authorizer{store: store, logger: logger}
}

// Authorize resolves the user's effective role in the guild and checks it
// against allowed. A global super admin resolves to guild_admin for every
// guild without consulting assignments. Lookup faults return
// *domain.AuthorizationError, never ErrForbidden.
func (a *Authorizer) Authorize(ctx context.Context, userID, guildID string, allowed domain.RoleSet) (domain.Role, error) {
	if userID == "" {
		return domain.RoleNone, domain.ErrUnauthorized
	}
	if a.store.IsGlobalSuperAdmin(ctx, userID) {
		return domain.RoleGuildAdmin, nil
	}
	assignment, found, err := a.store.GetActiveAssignment(ctx, guildID, userID)
	if err != nil {
		a.logger.Error(ctx, "guild role lookup failed during authorization",
			"user_id", userID,
			"guild_id", guildID,
			"allowed", allowed.String(),
			"error", err,
		)
		return domain.RoleNone, &domain.AuthorizationError{UserID: userID, GuildID: guildID, Err: err}
	}
	if !found || !allowed.Contains(assignment.Role) {
		return domain.RoleNone, domain.ErrForbidden
	}
	return assignment.Role, nil
}

// EffectiveRole is the role the UI renders against: super_admin for a global
// admin, the active assignment's role, or RoleNone.
func (a *Authorizer) EffectiveRole(ctx context.Context, userID, guildID string) (domain.Role, error) {
	if a.store.IsGlobalSuperAdmin(ctx, userID) {
		return domain.RoleSuperAdmin, nil
	}
	assignment, found, err := a.store.GetActiveAssignment(ctx, guildID, userID)
	if err != nil {
		a.logger.Error(ctx, "guild role lookup failed", "user_id", userID, "guild_id", guildID, "error", err)
		return domain.RoleNone, &domain.AuthorizationError{UserID: userID, GuildID: guildID, Err: err}
	}
	if !found {
		return domain.RoleNone, nil
	}
	return assignment.Role, nil
}

// RequireSuperAdmin admits only global super admins; faults deny.
func (a *Authorizer) RequireSuperAdmin(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.ErrUnauthorized
	}
	if !a.store.IsGlobalSuperAdmin(ctx, userID) {
		return domain.ErrForbidden
	}
	return nil
}
