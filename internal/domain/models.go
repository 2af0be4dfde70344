package domain

import "time"

type AssignmentSource string

const (
	SourceInvite AssignmentSource = "invite"
	SourceManual AssignmentSource = "manual"
	SourceSeed   AssignmentSource = "seed"
	SourceSystem AssignmentSource = "system"
)

func (s AssignmentSource) Valid() bool {
	switch s {
	case SourceInvite, SourceManual, SourceSeed, SourceSystem:
		return true
	}
	return false
}

type UserProfile struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AppRole     Role   `json:"app_role"`
}

// GuildRoleAssignment is one user's role in one guild. A non-nil RevokedAt
// marks the row inactive; rows are never deleted.
type GuildRoleAssignment struct {
	ID               string           `json:"id"`
	GuildID          string           `json:"guild_id"`
	UserID           string           `json:"user_id"`
	Role             Role             `json:"role"`
	AssignedAt       time.Time        `json:"assigned_at"`
	AssignedByUserID string           `json:"assigned_by_user_id,omitempty"`
	Source           AssignmentSource `json:"source"`
	CreatedAt        time.Time        `json:"created_at"`
	RevokedAt        *time.Time       `json:"revoked_at"`
}

func (a GuildRoleAssignment) Active() bool { return a.RevokedAt == nil }

type AuditAction string

const (
	AuditRoleAssigned AuditAction = "ROLE_ASSIGNED"
	AuditRoleRevoked  AuditAction = "ROLE_REVOKED"
)

type AuditEntry struct {
	ID           string         `json:"id"`
	Action       AuditAction    `json:"action"`
	GuildID      string         `json:"guild_id,omitempty"`
	ActorUserID  string         `json:"actor_user_id,omitempty"`
	TargetUserID string         `json:"target_user_id,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

// AuditFilter narrows an audit listing. Before is an exclusive upper bound on
// CreatedAt used as a page cursor.
type AuditFilter struct {
	Actions []AuditAction
	Before  time.Time
	Limit   int
}

const (
	DefaultAuditLimit = 50
	MaxAuditLimit     = 200
)

// Normalize clamps Limit into [1, MaxAuditLimit].
func (f AuditFilter) Normalize() AuditFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultAuditLimit
	}
	if f.Limit > MaxAuditLimit {
		f.Limit = MaxAuditLimit
	}
	return f
}

func (f AuditFilter) Matches(e AuditEntry) bool {
	if !f.Before.IsZero() && !e.CreatedAt.Before(f.Before) {
		return false
	}
	if len(f.Actions) == 0 {
		return true
	}
	for _, a := range f.Actions {
		if a == e.Action {
			return true
		}
	}
	return false
}
