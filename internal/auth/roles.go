package auth

import "strings"

// Role is an operator role. Roles are ordered viewer < operator < admin and a
// higher role carries every permission of the lower ones.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleOrder = [...]Role{RoleViewer, RoleOperator, RoleAdmin}

// NormalizeRole maps a claim value to a known role, ignoring case and
// surrounding space.
func NormalizeRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if role.rank() == 0 {
		return "", false
	}
	return role, true
}

// RoleAtLeast reports whether role satisfies required. Unknown roles satisfy nothing.
func RoleAtLeast(role Role, required Role) bool {
	rank := role.rank()
	return rank > 0 && rank >= required.rank()
}

func (r Role) rank() int {
	for i, known := range roleOrder {
		if r == known {
			return i + 1
		}
	}
	return 0
}
