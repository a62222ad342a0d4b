package types

import "time"

// Role is the closed set of CRM roles recognized server-side. Roles are only
// ever read from verified identity-provider custom claims.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleManager   Role = "manager"
	RoleVolunteer Role = "volunteer"
	RoleMember    Role = "member"
)

// roleRank orders roles for RoleHasAtLeast. Higher is more privileged.
var roleRank = map[Role]int{
	RoleMember:    0,
	RoleVolunteer: 1,
	RoleManager:   2,
	RoleAdmin:     3,
}

// ParseRole maps a raw claim value onto the closed enumeration. Unknown or
// empty values resolve to RoleMember with ok=false so callers can log them.
func ParseRole(raw string) (Role, bool) {
	r := Role(raw)
	if _, known := roleRank[r]; known {
		return r, true
	}
	return RoleMember, false
}

// IdentityClaim is the verified caller identity attached to a request.
type IdentityClaim struct {
	SubjectID string
	Email     string
	Role      Role
	TenantID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RoleHasAtLeast reports whether the claim's role is at or above min.
func (c IdentityClaim) RoleHasAtLeast(min Role) bool {
	return roleRank[c.Role] >= roleRank[min]
}
