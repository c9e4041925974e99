package identity

import (
	"context"
	"time"
)

// User is the persisted identity row. Pointer fields are nullable in storage.
//
// TokenVersion participates in access/refresh token validation: every issued
// token embeds the version current at issue time, and a mismatch on
// authentication invalidates the token. Bumping the version is the global
// kill switch for a user's outstanding credentials.
type User struct {
	ID             string
	Email          string
	Name           string
	PasswordHash   *string
	GoogleID       *string
	ProfilePicture *string
	TokenVersion   int

	// Password-reset challenge, persisted on the user row so that the
	// challenge survives process restarts.
	ResetOTPHash      *string
	ResetOTPExpiresAt *time.Time
	ResetOTPSentAt    *time.Time

	CreatedAt time.Time
}

// CreateUserInput creates a password-credentialed user. Email must already be
// normalized. PasswordHash is the bcrypt output, never a plaintext.
type CreateUserInput struct {
	Email          string
	Name           string
	PasswordHash   string
	ProfilePicture string
}

// CreateGoogleUserInput provisions a user from a verified Google identity.
// Such users have no password hash until they set one via the reset flow.
type CreateGoogleUserInput struct {
	GoogleID       string
	Email          string
	Name           string
	ProfilePicture string
}

// ResetChallenge is the persisted password-reset OTP state.
type ResetChallenge struct {
	OTPHash   string
	ExpiresAt time.Time
	SentAt    time.Time
}

// Store is the persistence boundary for users.
//
// Error contract: lookups return ErrNotFound (wrapped) when no row matches;
// creates return ConflictError on uniqueness violations; malformed input
// returns ErrInvalidInput. Implementations never leak driver errors for
// these cases.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	CreateGoogleUser(ctx context.Context, in CreateGoogleUserInput) (User, error)

	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByGoogleID(ctx context.Context, googleID string) (User, error)

	// BumpTokenVersion increments the user's token version and returns the
	// new value. Tokens minted before the bump fail authentication.
	BumpTokenVersion(ctx context.Context, id string) (int, error)

	// SetPassword replaces the password hash and clears any pending reset
	// challenge in the same statement.
	SetPassword(ctx context.Context, id string, passwordHash string) error

	// SetResetChallenge stores a new reset OTP, replacing any pending one.
	SetResetChallenge(ctx context.Context, id string, ch ResetChallenge) error

	// ClearResetChallenge removes the pending reset OTP, if any.
	ClearResetChallenge(ctx context.Context, id string) error
}
