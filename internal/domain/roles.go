package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the closed set of roles a user can hold. The zero value RoleNone
// stands for "no role" and serializes as JSON null.
type Role uint8

const (
	RoleNone Role = iota
	RoleViewer
	RoleMember
	RoleRaider
	RoleOfficer
	RoleGuildAdmin
	RoleSuperAdmin

	roleCount
)

var roleNames = [roleCount]string{
	RoleNone:       "",
	RoleViewer:     "viewer",
	RoleMember:     "member",
	RoleRaider:     "raider",
	RoleOfficer:    "officer",
	RoleGuildAdmin: "guild_admin",
	RoleSuperAdmin: "super_admin",
}

func (r Role) String() string {
	if r >= roleCount {
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
	return roleNames[r]
}

// IsGuildRole reports whether r can be stored on a guild assignment.
func (r Role) IsGuildRole() bool {
	return r >= RoleViewer && r <= RoleGuildAdmin
}

// ParseRole maps a stored or submitted role name to a Role. The empty string
// parses to RoleNone.
func ParseRole(s string) (Role, error) {
	s = strings.TrimSpace(s)
	for r := RoleNone; r < roleCount; r++ {
		if roleNames[r] == s {
			return r, nil
		}
	}
	return RoleNone, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
}

// ParseGuildRole is ParseRole restricted to the five guild-scoped roles.
func ParseGuildRole(s string) (Role, error) {
	r, err := ParseRole(s)
	if err != nil {
		return RoleNone, err
	}
	if !r.IsGuildRole() {
		return RoleNone, fmt.Errorf("%w: %q is not a guild role", ErrInvalidInput, s)
	}
	return r, nil
}

func (r Role) MarshalJSON() ([]byte, error) {
	if r == RoleNone {
		return []byte("null"), nil
	}
	if r >= roleCount {
		return nil, fmt.Errorf("marshal %s", r)
	}
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = RoleNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// RoleSet is an unordered set of roles backed by a bitmask. Endpoints gate on
// membership, never on the privilege order.
type RoleSet uint16

// RolesOf builds a set from the given roles.
func RolesOf(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		if r < roleCount {
			s |= 1 << r
		}
	}
	return s
}

func (s RoleSet) Contains(r Role) bool {
	return r < roleCount && r != RoleNone && s&(1<<r) != 0
}

// Roles lists the members in ascending privilege order.
func (s RoleSet) Roles() []Role {
	out := make([]Role, 0, roleCount)
	for r := RoleViewer; r < roleCount; r++ {
		if s.Contains(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s RoleSet) String() string {
	names := make([]string, 0, roleCount)
	for _, r := range s.Roles() {
		names = append(names, r.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Allow-lists for each capability. DerivePermissions must agree with these
// for every guild role.
const (
	AllowManageMembers      = RoleSet(1<<RoleGuildAdmin | 1<<RoleOfficer)
	AllowManageRoles        = RoleSet(1 << RoleGuildAdmin)
	AllowManageTransactions = RoleSet(1<<RoleGuildAdmin | 1<<RoleOfficer)
	AllowManageLoot         = RoleSet(1<<RoleGuildAdmin | 1<<RoleOfficer)
	AllowExportReports      = RoleSet(1<<RoleGuildAdmin | 1<<RoleOfficer)
	AllowManageInvites      = RoleSet(1 << RoleGuildAdmin)
	AllowViewAudit          = RoleSet(1<<RoleGuildAdmin | 1<<RoleOfficer | 1<<RoleRaider)
	AllowAnyGuildRole       = RoleSet(1<<RoleGuildAdmin | 1<<RoleOfficer | 1<<RoleRaider | 1<<RoleMember | 1<<RoleViewer)
)

// PriorityTable ranks roles for the cross-guild projection. It is a value
// type so callers can't mutate a shared instance.
type PriorityTable [roleCount]int

// StandardPriorities returns the fixed role ranking.
func StandardPriorities() PriorityTable {
	return PriorityTable{
		RoleViewer:     100,
		RoleMember:     200,
		RoleRaider:     300,
		RoleOfficer:    400,
		RoleGuildAdmin: 500,
		RoleSuperAdmin: 900,
	}
}

func (p PriorityTable) Of(r Role) int {
	if r >= roleCount {
		return 0
	}
	return p[r]
}

// Highest reduces roles to the one with the greatest priority, RoleNone when
// roles is empty. Equal priorities keep the first seen.
func (p PriorityTable) Highest(roles []Role) Role {
	best := RoleNone
	for _, r := range roles {
		if best == RoleNone || p.Of(r) > p.Of(best) {
			best = r
		}
	}
	return best
}
