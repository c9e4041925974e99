package session

import (
	"context"
	"net"
	"time"
)

// DeviceContext describes the client device that owns a session. Rotation
// refreshes it so the row always reflects the device last seen.
type DeviceContext struct {
	UserAgent string
	IP        net.IP
}

// Row mirrors the deepguard.sessions row.
//
// A present row is a live session; logout and invalidation delete rows
// instead of flagging them. Rotation rewrites RefreshTokenHash and ExpiresAt
// on the same row, keeping the session's identity stable across refreshes.
// TokenVersionSnapshot records the user's token version at session creation
// for auditing; the authoritative version check reads the user row.
type Row struct {
	ID                   string
	UserID               string
	RefreshTokenHash     string
	TokenVersionSnapshot int
	UserAgent            *string
	IP                   *string
	CreatedAt            time.Time
	LastUsedAt           *time.Time
	ExpiresAt            time.Time
}

// Store abstracts persistence for session state.
//
// Error contract: GetByRefreshHash returns ErrSessionRevoked when no live
// row matches, and Rotate returns ErrSessionRevoked when the conditional
// update matched nothing (the row was deleted or already rotated).
type Store interface {
	// Create inserts a new session row and returns its ID.
	Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, refreshHash string, tokenVersion int, expiresAt time.Time) (string, error)

	// GetByRefreshHash loads the session matching a refresh hash, scoped to
	// the user the token claims to belong to.
	GetByRefreshHash(ctx context.Context, refreshHash, userID string) (Row, error)

	// Rotate atomically replaces the refresh hash, expiry, and device
	// metadata of a session, conditioned on the old hash still being
	// current. Exactly one of two concurrent rotations with the same old
	// hash succeeds.
	Rotate(ctx context.Context, now time.Time, sessionID, oldHash, newHash string, dev DeviceContext, expiresAt time.Time) error

	// DeleteByRefreshHash removes the session holding a refresh hash.
	// Deleting an absent session is not an error.
	DeleteByRefreshHash(ctx context.Context, refreshHash string) error

	// DeleteAllForUser removes every session of a user and reports how many
	// rows went away.
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)

	// DeleteExpired removes sessions whose expiry is in the past. Run
	// periodically; expired rows are already unusable, this is hygiene.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
