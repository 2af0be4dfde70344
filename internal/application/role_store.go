package application

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"guild-access/internal/domain"
	"guild-access/internal/ports"
)

// RoleStore is the only path to persisted role state. It performs no
// authorization; callers must authorize before SetRole and Revoke.
type RoleStore struct {
	profiles ports.ProfileRepository
	roles    ports.GuildRoleRepository
	logger   ports.Logger
	now      func() time.Time
	newID    func() string
}

func NewRoleStore(profiles ports.ProfileRepository, roles ports.GuildRoleRepository, logger ports.Logger) *RoleStore {
	return &RoleStore{
		profiles: profiles,
		roles:    roles,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.NewString() },
	}
}

// IsGlobalSuperAdmin fails closed: any lookup fault reports false.
func (s *RoleStore) IsGlobalSuperAdmin(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}
	role, err := s.profiles.GetAppRole(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error(ctx, "super admin lookup failed, denying elevation", "user_id", userID, "error", err)
		}
		return false
	}
	return role == domain.RoleSuperAdmin
}

// GetActiveAssignment returns the non-revoked assignment for the pair. found
// is false only when the store answered that no row exists; faults come back
// as a *domain.StoreError.
func (s *RoleStore) GetActiveAssignment(ctx context.Context, guildID, userID string) (domain.GuildRoleAssignment, bool, error) {
	a, err := s.roles.GetActive(ctx, guildID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.GuildRoleAssignment{}, false, nil
		}
		return domain.GuildRoleAssignment{}, false, &domain.StoreError{Op: "get active assignment", Err: err}
	}
	return a, true, nil
}

// ListAssignments returns the guild's active assignments, oldest first.
func (s *RoleStore) ListAssignments(ctx context.Context, guildID string) ([]domain.GuildRoleAssignment, error) {
	out, err := s.roles.ListActiveByGuild(ctx, guildID)
	if err != nil {
		return nil, &domain.StoreError{Op: "list assignments", Err: err}
	}
	sortByCreation(out)
	return out, nil
}

func (s *RoleStore) ListActiveForUser(ctx context.Context, userID string) ([]domain.GuildRoleAssignment, error) {
	out, err := s.roles.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, &domain.StoreError{Op: "list user assignments", Err: err}
	}
	return out, nil
}

// SetRole creates the active assignment, changes its role, or refreshes its
// assignment metadata when the role is unchanged.
func (s *RoleStore) SetRole(ctx context.Context, guildID, userID string, role domain.Role, actorID string, source domain.AssignmentSource) (domain.GuildRoleAssignment, error) {
	if !role.IsGuildRole() {
		return domain.GuildRoleAssignment{}, domain.ErrInvalidInput
	}
	if source == "" {
		source = domain.SourceManual
	}
	now := s.now()
	existing, found, err := s.GetActiveAssignment(ctx, guildID, userID)
	if err != nil {
		return domain.GuildRoleAssignment{}, err
	}
	if found {
		// demoting a guild admin must leave another one behind
		keepAdmin := existing.Role == domain.RoleGuildAdmin && role != domain.RoleGuildAdmin
		existing.Role = role
		existing.AssignedAt = now
		existing.AssignedByUserID = actorID
		existing.Source = source
		if err := s.roles.UpdateRole(ctx, existing, keepAdmin); err != nil {
			return domain.GuildRoleAssignment{}, storeErr("update assignment", err)
		}
		return existing, nil
	}
	a := domain.GuildRoleAssignment{
		ID:               s.newID(),
		GuildID:          guildID,
		UserID:           userID,
		Role:             role,
		AssignedAt:       now,
		AssignedByUserID: actorID,
		Source:           source,
		CreatedAt:        now,
	}
	if err := s.roles.Insert(ctx, a); err != nil {
		return domain.GuildRoleAssignment{}, storeErr("insert assignment", err)
	}
	return a, nil
}

// Revoke soft-deletes the active assignment for the pair. Revoking the last
// guild admin fails with domain.ErrLastGuildAdmin.
func (s *RoleStore) Revoke(ctx context.Context, a domain.GuildRoleAssignment) (domain.GuildRoleAssignment, error) {
	at := s.now()
	if err := s.roles.Revoke(ctx, a, at, a.Role == domain.RoleGuildAdmin); err != nil {
		return domain.GuildRoleAssignment{}, storeErr("revoke assignment", err)
	}
	a.RevokedAt = &at
	return a, nil
}

// storeErr keeps domain outcomes (not found, conflict, last admin) visible and
// wraps everything else as a store fault.
func storeErr(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrLastGuildAdmin) {
		return err
	}
	return &domain.StoreError{Op: op, Err: err}
}

func sortByCreation(in []domain.GuildRoleAssignment) {
	sort.SliceStable(in, func(i, j int) bool {
		if in[i].CreatedAt.Equal(in[j].CreatedAt) {
			return in[i].ID < in[j].ID
		}
		return in[i].CreatedAt.Before(in[j].CreatedAt)
	})
}
