package enums

import "fmt"

// ClientRole represents the permissions role carried in access tokens.
type ClientRole string

const (
	ClientRoleInvestor ClientRole = "investor"
	ClientRoleAdvisor  ClientRole = "advisor"
	ClientRoleOps      ClientRole = "ops"
)

var validClientRoles = []ClientRole{
	ClientRoleInvestor,
	ClientRoleAdvisor,
	ClientRoleOps,
}

// String implements fmt.Stringer.
func (r ClientRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ClientRole.
func (r ClientRole) IsValid() bool {
	for _, candidate := range validClientRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseClientRole converts a raw string into a ClientRole.
func ParseClientRole(value string) (ClientRole, error) {
	for _, candidate := range validClientRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid client role %q", value)
}
