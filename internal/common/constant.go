// Package common contains shared constants and sentinel errors used across
// classdesk components.
package common

// AuthorizationHeaderName carries the bearer credential on outbound requests.
const AuthorizationHeaderName = "Authorization"

// BearerPrefix precedes the token inside the Authorization header value.
const BearerPrefix = "Bearer "

// RequestIDHeaderName is the correlation header attached to every request.
const RequestIDHeaderName = "X-Request-ID"

// Role identifiers understood by the backend.
const (
	RoleAdmin       = "ROLE_ADMIN"
	RoleHeadTeacher = "ROLE_HEADTEACHER"
	RoleTeacher     = "ROLE_TEACHER"
	RoleUser        = "ROLE_USER"
)

// DefaultRole is assigned when the backend returns an empty role list.
const DefaultRole = RoleUser

// Navigation paths of the client views.
const (
	LoginPath          = "/login"
	RegisterPath       = "/register"
	ForgotPasswordPath = "/forgot-password"
	LandingPath        = "/dashboard"
	RedirectParam      = "redirect"
)

// IsSentinel reports whether v is a serialization artifact that stands for
// "no value" ("undefined" or "null" written as literal strings).
func IsSentinel(v string) bool {
	return v == "undefined" || v == "null"
}

// Present reports whether v carries a real value.
func Present(v string) bool {
	return v != "" && !IsSentinel(v)
}
