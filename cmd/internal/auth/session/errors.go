package session

import "errors"

var (
	// ErrNoCredentials is returned when a request carries neither an access
	// nor a refresh token.
	ErrNoCredentials = errors.New("no credentials")

	// ErrInvalidCredentials is returned for a failed login. It is deliberately
	// undifferentiated: unknown email, missing password credential and wrong
	// password all map here.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned when a token fails signature or claim
	// verification for a reason other than expiry.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSessionExpired is returned when the refresh credential has aged out
	// and the caller must log in again.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionRevoked is returned when a refresh token no longer matches a
	// live session row (logged out, or lost a concurrent rotation).
	ErrSessionRevoked = errors.New("session revoked")

	// ErrSessionInvalidated is returned when a token's version no longer
	// matches the user's current token version (logout-all or password reset).
	ErrSessionInvalidated = errors.New("session invalidated")

	// ErrUserNotFound is returned when a verified token references a user
	// that no longer exists.
	ErrUserNotFound = errors.New("user not found")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
