package domain

// Role is an authenticated user's role.
type Role string

// Roles.
const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
	RoleDriver Role = "driver"
)

// roleRank orders roles by privilege for RBAC checks.
var roleRank = map[Role]int{
	RoleClient: 1,
	RoleDriver: 1,
	RoleAdmin:  10,
}

// HasPermission reports whether the role satisfies the minimum role.
func (r Role) HasPermission(min Role) bool {
	return roleRank[r] >= roleRank[min]
}
