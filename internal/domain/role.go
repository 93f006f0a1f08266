package domain

import (
	"fmt"
	"strings"
)

// Role is an ordered privilege level.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleManager    Role = "MANAGER"
	RoleMember     Role = "MEMBER"
)

var roleRank = map[Role]int{
	RoleMember:     1,
	RoleManager:    2,
	RoleAdmin:      3,
	RoleSuperAdmin: 4,
}

// ParseRole accepts any casing and rejects unknown values.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := roleRank[r]; !ok {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
	return r, nil
}

func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r grants every privilege of min.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min] && roleRank[min] > 0
}

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusPending     Status = "PENDING"
	StatusDeactivated Status = "DEACTIVATED"
	StatusSuspended   Status = "SUSPENDED"
)
