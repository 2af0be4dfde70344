package domain

// PermissionSet is the capability vector the UI renders against. It is
// derived per request and never stored.
type PermissionSet struct {
	Role               Role `json:"role"`
	ManageMembers      bool `json:"manage_members"`
	ManageRoles        bool `json:"manage_roles"`
	ManageTransactions bool `json:"manage_transactions"`
	ManageLoot         bool `json:"manage_loot"`
	ExportReports      bool `json:"export_reports"`
	ManageInvites      bool `json:"manage_invites"`
	ViewAudit          bool `json:"view_audit"`
	ViewGlobalAudit    bool `json:"view_global_audit"`
}

// DerivePermissions expands a resolved role into capability flags. RoleNone
// and any unknown value yield the all-false set.
func DerivePermissions(role Role) PermissionSet {
	switch role {
	case RoleSuperAdmin:
		return PermissionSet{
			Role:               role,
			ManageMembers:      true,
			ManageRoles:        true,
			ManageTransactions: true,
			ManageLoot:         true,
			ExportReports:      true,
			ManageInvites:      true,
			ViewAudit:          true,
			ViewGlobalAudit:    true,
		}
	case RoleGuildAdmin:
		return PermissionSet{
			Role:               role,
			ManageMembers:      true,
			ManageRoles:        true,
			ManageTransactions: true,
			ManageLoot:         true,
			ExportReports:      true,
			ManageInvites:      true,
			ViewAudit:          true,
		}
	case RoleOfficer:
		return PermissionSet{
			Role:               role,
			ManageMembers:      true,
			ManageTransactions: true,
			ManageLoot:         true,
			ExportReports:      true,
			ViewAudit:          true,
		}
	case RoleRaider:
		return PermissionSet{Role: role, ViewAudit: true}
	case RoleMember, RoleViewer:
		return PermissionSet{Role: role}
	default:
		return PermissionSet{}
	}
}
