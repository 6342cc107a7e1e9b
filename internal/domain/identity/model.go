package identity

import (
	"fmt"
	"strings"
)

// Role is the clinic role carried by an authenticated user.
type Role string

const (
	RoleDoctor       Role = "doctor"
	RoleReceptionist Role = "receptionist"
)

// Role homes are the default landing screens per role.
const (
	DoctorHome       = "/doctor/patients"
	ReceptionistHome = "/receptionist/patients"
)

// Roles lists every role the front-end knows about.
func Roles() []Role {
	return []Role{RoleDoctor, RoleReceptionist}
}

// ParseRole accepts a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleDoctor:
		return RoleDoctor, nil
	case RoleReceptionist:
		return RoleReceptionist, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) Valid() bool {
	return r == RoleDoctor || r == RoleReceptionist
}

func (r Role) String() string { return string(r) }

// RoleHome returns the landing route for a role. Unknown roles land on the
// login screen.
func RoleHome(r Role) string {
	switch r {
	case RoleDoctor:
		return DoctorHome
	case RoleReceptionist:
		return ReceptionistHome
	}
	return "/login"
}

// Identity is the authenticated user as returned by the login and validate
// endpoints. It is immutable for the lifetime of a session.
type Identity struct {
	ID    uint   `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
	Name  string `json:"name"`
}

// Valid reports whether the identity is usable for a session.
func (i Identity) Valid() bool {
	return i.Role.Valid() && i.Email != ""
}

// Home is the role home of this identity.
func (i Identity) Home() string {
	return RoleHome(i.Role)
}

// HasRole reports whether the identity's role is one of roles. An empty list
// places no restriction.
func (i Identity) HasRole(roles ...Role) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if r == i.Role {
			return true
		}
	}
	return false
}
