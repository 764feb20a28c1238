// Package models defines client-side data models of classdesk.
package models

import (
	"slices"

	"github.com/dmitrijs2005/classdesk/internal/common"
)

// User is the authenticated account as the client knows it.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role"`
	Gender   string `json:"gender,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// Valid reports whether the record carries a stable identity.
func (u *User) Valid() bool {
	return u != nil && u.ID != 0
}

// HasRole reports whether the user's role is one of roles.
func (u *User) HasRole(roles ...string) bool {
	if u == nil {
		return false
	}
	return slices.Contains(roles, u.Role)
}

// SignInResult is the normalized outcome of a sign-in call.
// Token is empty when the backend did not issue one.
type SignInResult struct {
	Token string
	User  User
}

// SignUpRequest is the payload for account creation.
type SignUpRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Gender   string `json:"gender,omitempty"`
	Role     string `json:"role,omitempty"`
}

// Capabilities are per-role permission flags resolved once when a session is
// created, so screens do not repeat inline role comparisons.
type Capabilities struct {
	ReadOnly      bool
	ManageUsers   bool
	ManageClasses bool
}

// CapabilitiesFor resolves the capability set of a role.
func CapabilitiesFor(role string) Capabilities {
	switch role {
	case common.RoleAdmin:
		return Capabilities{ManageUsers: true, ManageClasses: true}
	case common.RoleHeadTeacher:
		return Capabilities{ManageClasses: true}
	case common.RoleTeacher:
		return Capabilities{ReadOnly: true}
	default:
		return Capabilities{ReadOnly: true}
	}
}
