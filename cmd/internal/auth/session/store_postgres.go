package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"deepguard/cmd/identity/ids"
)

// PostgresStore implements Store using PostgreSQL.
//
// The pool is owned by the caller. Rotation relies on a single conditional
// UPDATE, so no explicit transaction or row lock is needed: the database
// serializes concurrent rotations on the row and the losing update matches
// zero rows.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a Postgres-backed session store over the given
// schema (default "deepguard").
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "deepguard"
	}
	return &PostgresStore{pool: pool, schema: schema}, nil
}

func (s *PostgresStore) sessions() string {
	return pgx.Identifier{s.schema, "sessions"}.Sanitize()
}

// Create inserts a new session row and returns its ULID.
func (s *PostgresStore) Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, refreshHash string, tokenVersion int, expiresAt time.Time) (string, error) {
	id, err := ids.New(now)
	if err != nil {
		return "", err
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (
			id, user_id, refresh_token_hash, token_version_snapshot,
			user_agent, ip, created_at, last_used_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8)
	`, s.sessions())

	_, err = s.pool.Exec(ctx, q,
		id, userID, refreshHash, tokenVersion,
		nullIfEmpty(dev.UserAgent), ipValue(dev.IP), now, expiresAt,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetByRefreshHash loads the session matching a refresh hash for a user.
func (s *PostgresStore) GetByRefreshHash(ctx context.Context, refreshHash, userID string) (Row, error) {
	q := fmt.Sprintf(`
		SELECT id, user_id, refresh_token_hash, token_version_snapshot,
		       user_agent, ip::text, created_at, last_used_at, expires_at
		FROM %s
		WHERE refresh_token_hash = $1 AND user_id = $2
	`, s.sessions())

	var row Row
	err := s.pool.QueryRow(ctx, q, refreshHash, userID).Scan(
		&row.ID,
		&row.UserID,
		&row.RefreshTokenHash,
		&row.TokenVersionSnapshot,
		&row.UserAgent,
		&row.IP,
		&row.CreatedAt,
		&row.LastUsedAt,
		&row.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionRevoked
	}
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

// Rotate replaces the refresh hash, expiry, and device metadata in place.
// The WHERE clause pins both the session ID and the old hash; a concurrent
// rotation that already moved the hash forward makes this match zero rows.
func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, sessionID, oldHash, newHash string, dev DeviceContext, expiresAt time.Time) error {
	q := fmt.Sprintf(`
		UPDATE %s
		SET refresh_token_hash = $3,
		    expires_at = $4,
		    last_used_at = $5,
		    user_agent = COALESCE($6, user_agent),
		    ip = COALESCE($7, ip)
		WHERE id = $1 AND refresh_token_hash = $2
	`, s.sessions())

	tag, err := s.pool.Exec(ctx, q,
		sessionID, oldHash, newHash, expiresAt, now,
		nullIfEmpty(dev.UserAgent), ipValue(dev.IP),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionRevoked
	}
	return nil
}

// DeleteByRefreshHash removes the session holding a refresh hash (idempotent).
func (s *PostgresStore) DeleteByRefreshHash(ctx context.Context, refreshHash string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE refresh_token_hash = $1`, s.sessions())
	_, err := s.pool.Exec(ctx, q, refreshHash)
	return err
}

// DeleteAllForUser removes every session of a user.
func (s *PostgresStore) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, s.sessions())
	tag, err := s.pool.Exec(ctx, q, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes sessions whose expiry has passed.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, s.sessions())
	tag, err := s.pool.Exec(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func ipValue(ip net.IP) any {
	if ip == nil {
		return nil
	}
	return ip
}
