package common

import "errors"

var (
	// Storage-level errors.
	ErrorNotFound = errors.New("not found")

	// ErrStateCorruption marks locally persisted session data that cannot be
	// used (unparseable user record, user without id, sentinel token).
	// It is absorbed by the session bootstrap and never shown to the user.
	ErrStateCorruption = errors.New("corrupt session state")

	// ErrInvalidToken is returned when the server answers a sign-in without a
	// usable bearer token.
	ErrInvalidToken = errors.New("invalid token returned by server")
)
