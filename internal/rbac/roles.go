package rbac

// Role names. Keep these stable; they are part of the token contract.
const (
	RoleOwner      = "owner"
	RoleAdmin      = "admin"
	RoleAgent      = "agent"
	RoleAnalyst    = "analyst"
	RoleSuperAdmin = "super_admin"
	// RolePlatformSupport is a hidden operator role; it is never granted
	// write access.
	RolePlatformSupport = "platform_support"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// ConfigWriters may change routing configuration.
var ConfigWriters = []string{RoleOwner, RoleAdmin}

// ConfigReaders may read routing configuration.
var ConfigReaders = []string{RoleOwner, RoleAdmin, RoleAnalyst, RolePlatformSupport}

// CallHandlers may change presence and park or retrieve calls.
var CallHandlers = []string{RoleOwner, RoleAdmin, RoleAgent}

// PresenceViewers may see who is available. Agents need this to transfer.
var PresenceViewers = []string{RoleOwner, RoleAdmin, RoleAgent, RoleAnalyst, RolePlatformSupport}
