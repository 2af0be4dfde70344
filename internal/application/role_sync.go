package application

import (
	"context"
	"errors"

	"guild-access/internal/domain"
	"guild-access/internal/ports"
)

// RoleSynchronizer projects a user's highest guild role onto their identity
// record. The hint is for display and coarse client gating only.
type RoleSynchronizer struct {
	store      *RoleStore
	profiles   ports.ProfileRepository
	identity   ports.IdentityProvider
	priorities domain.PriorityTable
	logger     ports.Logger
}

func NewRoleSynchronizer(store *RoleStore, profiles ports.ProfileRepository, identity ports.IdentityProvider, priorities domain.PriorityTable, logger ports.Logger) *RoleSynchronizer {
	return &RoleSynchronizer{
		store:      store,
		profiles:   profiles,
		identity:   identity,
		priorities: priorities,
		logger:     logger,
	}
}

// Project computes and writes the hint, returning the written role. A super
// admin profile always projects super_admin.
func (s *RoleSynchronizer) Project(ctx context.Context, userID string) (domain.Role, error) {
	appRole, err := s.profiles.GetAppRole(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn(ctx, "profile lookup failed during role sync", "user_id", userID, "error", err)
		appRole = domain.RoleNone
	}

	next := domain.RoleSuperAdmin
	if appRole != domain.RoleSuperAdmin {
		assignments, err := s.store.ListActiveForUser(ctx, userID)
		if err != nil {
			return domain.RoleNone, err
		}
		roles := make([]domain.Role, 0, len(assignments))
		for _, a := range assignments {
			if a.Active() {
				roles = append(roles, a.Role)
			}
		}
		next = s.priorities.Highest(roles)
	}

	return next, s.identity.SetAppRoleHint(ctx, userID, next)
}

// Sync is Project with failures logged and swallowed, for use after a
// mutation that already succeeded.
func (s *RoleSynchronizer) Sync(ctx context.Context, userID string) {
	role, err := s.Project(ctx, userID)
	if err != nil {
		s.logger.Warn(ctx, "role sync failed", "user_id", userID, "role", role.String(), "error", err)
		return
	}
	s.logger.Debug(ctx, "role sync complete", "user_id", userID, "role", role.String())
}
