package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"deepguard/cmd/identity"
	"deepguard/cmd/security/token"
)

// Service implements the high-level session operations for Deep Guard.
//
// It logs users in, authenticates requests from an access/refresh token
// pair (rotating the pair when only the refresh token is still good), and
// revokes sessions one at a time or all at once.
type Service struct {
	codec    *TokenCodec
	sessions Store
	users    identity.Store
	hasher   identity.Hasher
}

// Issued is the result of issuing or rotating a session.
type Issued struct {
	SessionID    string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// Auth is the outcome of a successful Authenticate call. When Rotated is
// true the transport must hand the new token pair in Issued back to the
// client; the old refresh token is dead.
type Auth struct {
	User    identity.User
	Rotated bool
	Issued  Issued
}

// NewService constructs a Service.
func NewService(codec *TokenCodec, sessions Store, users identity.Store, hasher identity.Hasher) *Service {
	return &Service{codec: codec, sessions: sessions, users: users, hasher: hasher}
}

// Login verifies an email/password pair and opens a new session.
//
// All failure modes (unknown email, account without a password credential,
// wrong password) collapse into ErrInvalidCredentials so responses do not
// reveal which accounts exist.
func (s *Service) Login(ctx context.Context, now time.Time, email, password string, dev DeviceContext) (identity.User, Issued, error) {
	email = identity.NormalizeEmail(email)
	if email == "" || password == "" {
		return identity.User{}, Issued{}, ErrInvalidCredentials
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			return identity.User{}, Issued{}, ErrInvalidCredentials
		}
		return identity.User{}, Issued{}, err
	}

	// Google-provisioned accounts have no password hash.
	if user.PasswordHash == nil {
		return identity.User{}, Issued{}, ErrInvalidCredentials
	}

	ok, err := s.hasher.VerifyPassword(*user.PasswordHash, password)
	if err != nil {
		return identity.User{}, Issued{}, err
	}
	if !ok {
		return identity.User{}, Issued{}, ErrInvalidCredentials
	}

	issued, err := s.IssueSession(ctx, now, user, dev)
	if err != nil {
		return identity.User{}, Issued{}, err
	}
	return user, issued, nil
}

// IssueSession mints a fresh token pair for a user and anchors the refresh
// token to a new session row. The plaintext refresh token is never stored.
func (s *Service) IssueSession(ctx context.Context, now time.Time, user identity.User, dev DeviceContext) (Issued, error) {
	refreshTok, refreshExp, err := s.codec.IssueRefresh(user.ID, user.Email, user.TokenVersion, now)
	if err != nil {
		return Issued{}, err
	}
	accessTok, accessExp, err := s.codec.IssueAccess(user.ID, user.Email, user.TokenVersion, now)
	if err != nil {
		return Issued{}, err
	}

	refreshHash := token.HashRefreshTokenHex(refreshTok)
	sessionID, err := s.sessions.Create(ctx, now, user.ID, dev, refreshHash, user.TokenVersion, refreshExp)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		SessionID:    sessionID,
		AccessToken:  accessTok,
		AccessExp:    accessExp,
		RefreshToken: refreshTok,
		RefreshExp:   refreshExp,
	}, nil
}

// Authenticate resolves a request's identity from its token pair.
//
// A valid access token wins outright. An expired or invalid access token
// falls through to the refresh token: when the refresh token verifies and
// still matches a live session row, the pair rotates in place and the new
// pair is returned alongside the user. The distinct failures are:
//
//   - ErrNoCredentials: neither token was presented.
//   - ErrInvalidCredentials: the access token is malformed or has a bad
//     signature. A tampered token is not recoverable by refreshing, so this
//     does not fall through.
//   - ErrSessionExpired: the refresh credential aged out or failed to
//     verify; log in again.
//   - ErrSessionRevoked: the refresh token no longer matches a live row,
//     either logged out or beaten by a concurrent rotation.
//   - ErrSessionInvalidated: the token's version predates a logout-all or
//     password reset.
//   - ErrUserNotFound: the token references a deleted user.
func (s *Service) Authenticate(ctx context.Context, now time.Time, accessToken, refreshToken string, dev DeviceContext) (Auth, error) {
	accessToken = strings.TrimSpace(accessToken)
	refreshToken = strings.TrimSpace(refreshToken)

	if accessToken == "" && refreshToken == "" {
		return Auth{}, ErrNoCredentials
	}

	if accessToken != "" {
		claims, err := s.codec.VerifyAccess(accessToken, now)
		switch {
		case err == nil:
			user, uerr := s.loadUser(ctx, claims.UserID)
			if uerr != nil {
				return Auth{}, uerr
			}
			if claims.TokenVersion != user.TokenVersion {
				return Auth{}, ErrSessionInvalidated
			}
			return Auth{User: user}, nil
		case errors.Is(err, ErrSessionExpired):
			// Expired access falls through to the refresh credential.
		default:
			return Auth{}, ErrInvalidCredentials
		}
	}

	if refreshToken == "" {
		return Auth{}, ErrSessionExpired
	}
	return s.rotate(ctx, now, refreshToken, dev)
}

func (s *Service) rotate(ctx context.Context, now time.Time, refreshToken string, dev DeviceContext) (Auth, error) {
	claims, err := s.codec.VerifyRefresh(refreshToken, now)
	if err != nil {
		// Whatever the verification failure, the caller re-logs-in.
		return Auth{}, ErrSessionExpired
	}

	oldHash := token.HashRefreshTokenHex(refreshToken)
	row, err := s.sessions.GetByRefreshHash(ctx, oldHash, claims.UserID)
	if err != nil {
		return Auth{}, err
	}

	if !row.ExpiresAt.After(now) {
		// Unusable either way; drop the row while we are here.
		_ = s.sessions.DeleteByRefreshHash(ctx, oldHash)
		return Auth{}, ErrSessionExpired
	}

	user, err := s.loadUser(ctx, claims.UserID)
	if err != nil {
		return Auth{}, err
	}
	if claims.TokenVersion != user.TokenVersion {
		_ = s.sessions.DeleteByRefreshHash(ctx, oldHash)
		return Auth{}, ErrSessionInvalidated
	}

	newRefresh, refreshExp, err := s.codec.IssueRefresh(user.ID, user.Email, user.TokenVersion, now)
	if err != nil {
		return Auth{}, err
	}
	newAccess, accessExp, err := s.codec.IssueAccess(user.ID, user.Email, user.TokenVersion, now)
	if err != nil {
		return Auth{}, err
	}

	newHash := token.HashRefreshTokenHex(newRefresh)
	if err := s.sessions.Rotate(ctx, now, row.ID, oldHash, newHash, dev, refreshExp); err != nil {
		// Zero rows matched: a concurrent rotation won, or logout raced us.
		return Auth{}, err
	}

	return Auth{
		User:    user,
		Rotated: true,
		Issued: Issued{
			SessionID:    row.ID,
			AccessToken:  newAccess,
			AccessExp:    accessExp,
			RefreshToken: newRefresh,
			RefreshExp:   refreshExp,
		},
	}, nil
}

func (s *Service) loadUser(ctx context.Context, userID string) (identity.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.User{}, ErrUserNotFound
		}
		return identity.User{}, err
	}
	return user, nil
}

// LogoutOne ends the session holding the given refresh token. Unknown or
// blank tokens are a no-op: logout is idempotent.
func (s *Service) LogoutOne(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	return s.sessions.DeleteByRefreshHash(ctx, token.HashRefreshTokenHex(refreshToken))
}

// LogoutAll bumps the user's token version and deletes every session row.
// Outstanding access tokens die at the version check; refresh tokens die
// with their rows. Returns the number of sessions removed.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int64, error) {
	if _, err := s.users.BumpTokenVersion(ctx, userID); err != nil {
		if identity.IsNotFound(err) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return s.sessions.DeleteAllForUser(ctx, userID)
}

// PurgeExpired removes sessions that have aged out. Intended for a
// periodic background job.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.sessions.DeleteExpired(ctx, now)
}
