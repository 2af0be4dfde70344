package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"guild-access/internal/domain"
	"guild-access/internal/ports"
)

type AssignInput struct {
	UserID string
	Email  string
	Role   domain.Role
	Source domain.AssignmentSource
}

type AssignResult struct {
	Assignment domain.GuildRoleAssignment
	Created    bool
}

// AccessService manages guild access. Every mutation authorizes the actor
// against the guild_admin allow-list before touching the store.
type AccessService struct {
	authz    *Authorizer
	store    *RoleStore
	profiles ports.ProfileRepository
	audit    ports.AuditRepository
	sync     *RoleSynchronizer
	logger   ports.Logger
	now      func() time.Time
}

func NewAccessService(authz *Authorizer, store *RoleStore, profiles ports.ProfileRepository, audit ports.AuditRepository, sync *RoleSynchronizer, logger ports.Logger) *AccessService {
	return &AccessService{
		authz:    authz,
		store:    store,
		profiles: profiles,
		audit:    audit,
		sync:     sync,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *AccessService) ListAccess(ctx context.Context, guildID string) ([]domain.GuildRoleAssignment, error) {
	if guildID == "" {
		return nil, domain.ErrInvalidInput
	}
	return s.store.ListAssignments(ctx, guildID)
}

// Assign grants role to the target user, identified by id or by email.
func (s *AccessService) Assign(ctx context.Context, actorID, guildID string, in AssignInput) (AssignResult, error) {
	if guildID == "" || !in.Role.IsGuildRole() || (in.UserID == "" && in.Email == "") {
		return AssignResult{}, domain.ErrInvalidInput
	}
	if in.Source != "" && !in.Source.Valid() {
		return AssignResult{}, domain.ErrInvalidInput
	}
	if _, err := s.authz.Authorize(ctx, actorID, guildID, domain.AllowManageRoles); err != nil {
		return AssignResult{}, err
	}
	targetID := in.UserID
	if targetID == "" {
		id, err := s.profiles.FindIDByEmail(ctx, strings.ToLower(strings.TrimSpace(in.Email)))
		if err != nil {
			return AssignResult{}, storeErr("find profile by email", err)
		}
		targetID = id
	}
	existing, found, err := s.store.GetActiveAssignment(ctx, guildID, targetID)
	if err != nil {
		return AssignResult{}, err
	}
	a, err := s.setRole(ctx, actorID, existing, found, guildID, targetID, in.Role, in.Source)
	if err != nil {
		return AssignResult{}, err
	}
	return AssignResult{Assignment: a, Created: !found}, nil
}

// ChangeRole updates an existing active assignment.
func (s *AccessService) ChangeRole(ctx context.Context, actorID, guildID, userID string, role domain.Role) (domain.GuildRoleAssignment, error) {
	if guildID == "" || userID == "" || !role.IsGuildRole() {
		return domain.GuildRoleAssignment{}, domain.ErrInvalidInput
	}
	if _, err := s.authz.Authorize(ctx, actorID, guildID, domain.AllowManageRoles); err != nil {
		return domain.GuildRoleAssignment{}, err
	}
	existing, found, err := s.store.GetActiveAssignment(ctx, guildID, userID)
	if err != nil {
		return domain.GuildRoleAssignment{}, err
	}
	if !found {
		return domain.GuildRoleAssignment{}, domain.ErrNotFound
	}
	return s.setRole(ctx, actorID, existing, true, guildID, userID, role, domain.SourceManual)
}

// Revoke soft-revokes the user's active assignment.
func (s *AccessService) Revoke(ctx context.Context, actorID, guildID, userID string) error {
	if guildID == "" || userID == "" {
		return domain.ErrInvalidInput
	}
	if _, err := s.authz.Authorize(ctx, actorID, guildID, domain.AllowManageRoles); err != nil {
		return err
	}
	existing, found, err := s.store.GetActiveAssignment(ctx, guildID, userID)
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrNotFound
	}
	revoked, err := s.store.Revoke(ctx, existing)
	if err != nil {
		return err
	}
	s.record(ctx, domain.AuditEntry{
		Action:       domain.AuditRoleRevoked,
		GuildID:      guildID,
		ActorUserID:  actorID,
		TargetUserID: userID,
		Metadata: map[string]any{
			"previous_role": existing.Role.String(),
			"revoked_at":    revoked.RevokedAt.Format(time.RFC3339),
			"source":        string(existing.Source),
		},
	})
	s.sync.Sync(ctx, userID)
	return nil
}

// Permissions resolves the capability set the UI should render for userID.
func (s *AccessService) Permissions(ctx context.Context, userID, guildID string) (domain.PermissionSet, error) {
	role, err := s.authz.EffectiveRole(ctx, userID, guildID)
	if err != nil {
		return domain.PermissionSet{}, err
	}
	return domain.DerivePermissions(role), nil
}

func (s *AccessService) GuildAuditLogs(ctx context.Context, guildID string, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	entries, err := s.audit.ListByGuild(ctx, guildID, filter.Normalize())
	if err != nil {
		return nil, &domain.StoreError{Op: "list guild audit logs", Err: err}
	}
	return entries, nil
}

func (s *AccessService) GlobalAuditLogs(ctx context.Context, actorID string, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	if err := s.authz.RequireSuperAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	entries, err := s.audit.List(ctx, filter.Normalize())
	if err != nil {
		return nil, &domain.StoreError{Op: "list audit logs", Err: err}
	}
	return entries, nil
}

func (s *AccessService) setRole(ctx context.Context, actorID string, existing domain.GuildRoleAssignment, found bool, guildID, userID string, role domain.Role, source domain.AssignmentSource) (domain.GuildRoleAssignment, error) {
	if source == "" {
		source = domain.SourceManual
	}
	a, err := s.store.SetRole(ctx, guildID, userID, role, actorID, source)
	if err != nil {
		return domain.GuildRoleAssignment{}, err
	}
	meta := map[string]any{
		"role":        role.String(),
		"source":      string(source),
		"assigned_at": a.AssignedAt.Format(time.RFC3339),
	}
	if found {
		meta["previous_role"] = existing.Role.String()
	}
	// a role change is logged as the old role's revocation followed by the
	// new role's assignment
	if found && existing.Role != role {
		s.record(ctx, domain.AuditEntry{
			Action:       domain.AuditRoleRevoked,
			GuildID:      guildID,
			ActorUserID:  actorID,
			TargetUserID: userID,
			Metadata: map[string]any{
				"previous_role": existing.Role.String(),
				"revoked_at":    a.AssignedAt.Format(time.RFC3339),
				"source":        string(existing.Source),
			},
		})
	}
	if !found || existing.Role != role {
		s.record(ctx, domain.AuditEntry{
			Action:       domain.AuditRoleAssigned,
			GuildID:      guildID,
			ActorUserID:  actorID,
			TargetUserID: userID,
			Metadata:     meta,
		})
	}
	s.sync.Sync(ctx, userID)
	return a, nil
}

// record writes an audit entry; failures are logged and dropped.
func (s *AccessService) record(ctx context.Context, entry domain.AuditEntry) {
	entry.ID = uuid.NewString()
	entry.CreatedAt = s.now()
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Error(ctx, "failed to record audit log", "action", string(entry.Action), "guild_id", entry.GuildID, "error", err)
	}
}

// IsClientError reports whether err is a caller-visible outcome rather than
// a fault.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrForbidden) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrLastGuildAdmin) ||
		errors.Is(err, domain.ErrUnauthorized)
}
