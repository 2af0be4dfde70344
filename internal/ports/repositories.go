package ports

import (
	"context"
	"time"

	"guild-access/internal/domain"
)

// ProfileRepository reads the profiles table. GetAppRole returns RoleNone for
// a profile without a global role and domain.ErrNotFound for a missing profile.
type ProfileRepository interface {
	GetAppRole(ctx context.Context, userID string) (domain.Role, error)
	FindIDByEmail(ctx context.Context, email string) (string, error)
}

// GuildRoleRepository persists guild_user_roles rows. Implementations must
// reject a second active row for the same (guild, user) with domain.ErrConflict.
//
// With keepAdmin set, UpdateRole and Revoke fail with domain.ErrLastGuildAdmin
// unless another active guild_admin remains in the guild. The check and the
// write are atomic.
type GuildRoleRepository interface {
	GetActive(ctx context.Context, guildID, userID string) (domain.GuildRoleAssignment, error)
	ListActiveByGuild(ctx context.Context, guildID string) ([]domain.GuildRoleAssignment, error)
	ListActiveByUser(ctx context.Context, userID string) ([]domain.GuildRoleAssignment, error)
	Insert(ctx context.Context, assignment domain.GuildRoleAssignment) error
	UpdateRole(ctx context.Context, assignment domain.GuildRoleAssignment, keepAdmin bool) error
	Revoke(ctx context.Context, assignment domain.GuildRoleAssignment, at time.Time, keepAdmin bool) error
}

type AuditRepository interface {
	Record(ctx context.Context, entry domain.AuditEntry) error
	ListByGuild(ctx context.Context, guildID string, filter domain.AuditFilter) ([]domain.AuditEntry, error)
	List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error)
}

// IdentityProvider stores the cross-guild role hint on the user's identity
// record. RoleNone clears it.
type IdentityProvider interface {
	SetAppRoleHint(ctx context.Context, userID string, role domain.Role) error
}

type Logger interface {
	Info(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Debug(ctx context.Context, msg string, args ...any)
}
