package authz

import "errors"

var (
	ErrUnauthorized = errors.New("authz: unauthorized")
	ErrForbidden    = errors.New("authz: forbidden")
	ErrInvalidToken = errors.New("authz: invalid token")
	// ErrPolicyLookup indicates the permission bundle could not be resolved.
	// Requests failing with it must be rejected, never defaulted to allow.
	ErrPolicyLookup = errors.New("authz: policy lookup failed")

	ErrNotFound = errors.New("authz: not found")
	ErrConflict = errors.New("authz: conflict")
)
