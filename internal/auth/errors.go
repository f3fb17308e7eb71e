package auth

import "errors"

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrZoneNotAllowed indicates the caller may not observe the requested zone.
	ErrZoneNotAllowed = errors.New("auth: zone not allowed")
)
