package auth

import "errors"

var (
	// ErrInvalidCredential covers unknown identity, missing PIN and PIN
	// mismatch alike, so callers cannot enumerate accounts.
	ErrInvalidCredential = errors.New("auth: invalid credential")

	// ErrInvalidSession covers absent, unknown, revoked and expired tokens
	// without distinguishing between them.
	ErrInvalidSession = errors.New("auth: invalid session")

	ErrInvalidInput = errors.New("auth: invalid input")
)
