package identity

import (
	"fmt"
	"strings"
)

// Role is the closed set of roles the directory assigns to accounts.
type Role string

const (
	// RoleAdmin grants portal-wide administrative access.
	RoleAdmin Role = "ADMIN"
	// RoleFaculty identifies teaching staff.
	RoleFaculty Role = "FACULTY"
	// RoleStudent identifies enrolled students.
	RoleStudent Role = "STUDENT"
)

// ParseRole converts a directory-supplied string into a Role. Unknown values
// are rejected rather than passed through, so a new upstream role cannot
// silently satisfy a gate built for the current set.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleFaculty:
		return RoleFaculty, nil
	case RoleStudent:
		return RoleStudent, nil
	default:
		return "", fmt.Errorf("identity: unknown role %q", raw)
	}
}

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleFaculty, RoleStudent:
		return true
	default:
		return false
	}
}

// Label returns the human-readable form used in templates.
func (r Role) Label() string {
	switch r {
	case RoleAdmin:
		return "Administrator"
	case RoleFaculty:
		return "Faculty"
	case RoleStudent:
		return "Student"
	default:
		return string(r)
	}
}

// Profile is the directory's view of the signed-in account. It is replaced
// wholesale on login, logout and refresh; nothing in the portal mutates it.
type Profile struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name"`
	Email       string   `json:"email"`
	Role        Role     `json:"role"`
	Advisor     bool     `json:"class_advisor"`
	Sections    []string `json:"sections"`
}

// IsClassAdvisor reports whether the account holds the class-advisor
// capability. The flag only has meaning on faculty accounts.
func (p *Profile) IsClassAdvisor() bool {
	return p != nil && p.Role == RoleFaculty && p.Advisor
}

// CanAccessSection reports whether the account may open the given section.
// Administrators see every section; everyone else needs an assignment.
func (p *Profile) CanAccessSection(code string) bool {
	if p == nil || code == "" {
		return false
	}
	if p.Role == RoleAdmin {
		return true
	}
	for _, assigned := range p.Sections {
		if strings.EqualFold(assigned, code) {
			return true
		}
	}
	return false
}
