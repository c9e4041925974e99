package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"deepguard/cmd/identity/ids"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema/table identifiers are quoted via pgx.Identifier to keep dynamic
// schema configuration safe. Driver errors for uniqueness and missing rows
// are mapped to the identity sentinel kinds.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var _ Store = (*PostgresStore)(nil)

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "deepguard").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "deepguard",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const userColumns = `id, email, name, password_hash, google_id, profile_picture,
	token_version, reset_otp_hash, reset_otp_expires_at, reset_otp_sent_at, created_at`

// CreateUser inserts a password-credentialed user.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	email := NormalizeEmail(in.Email)
	if email == "" {
		return User{}, pgInvalid(op, "email is required")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return User{}, pgInvalid(op, "password hash is required")
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = EmailLocalPart(email)
	}
	picture := strings.TrimSpace(in.ProfilePicture)
	if picture == "" {
		picture = DefaultAvatarURL(email)
	}

	now := time.Now().UTC()
	id, err := ids.New(now)
	if err != nil {
		return User{}, fmt.Errorf("%s: generate id: %w", op, err)
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (id, email, name, password_hash, profile_picture, token_version, created_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6)
		RETURNING `+userColumns,
		pgIdent(s.schema, "users"),
	)

	row := s.pool.QueryRow(ctx, q, id, email, name, in.PasswordHash, picture, now)
	u, err := scanUser(row)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// CreateGoogleUser provisions a user from a verified Google identity.
// No password hash is stored; the user sets one via the reset flow if needed.
func (s *PostgresStore) CreateGoogleUser(ctx context.Context, in CreateGoogleUserInput) (User, error) {
	const op = "identity.CreateGoogleUser"

	googleID := strings.TrimSpace(in.GoogleID)
	if googleID == "" {
		return User{}, pgInvalid(op, "google id is required")
	}
	email := NormalizeEmail(in.Email)
	if email == "" {
		return User{}, pgInvalid(op, "email is required")
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = EmailLocalPart(email)
	}
	picture := strings.TrimSpace(in.ProfilePicture)
	if picture == "" {
		picture = DefaultAvatarURL(email)
	}

	now := time.Now().UTC()
	id, err := ids.New(now)
	if err != nil {
		return User{}, fmt.Errorf("%s: generate id: %w", op, err)
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (id, email, name, google_id, profile_picture, token_version, created_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6)
		RETURNING `+userColumns,
		pgIdent(s.schema, "users"),
	)

	row := s.pool.QueryRow(ctx, q, id, email, name, googleID, picture, now)
	u, err := scanUser(row)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUserByID fetches a user by ULID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"
	if strings.TrimSpace(id) == "" {
		return User{}, pgInvalid(op, "missing id")
	}
	return s.getUserWhere(ctx, op, "id = $1", id)
}

// GetUserByEmail fetches a user by normalized email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetUserByEmail"
	email = NormalizeEmail(email)
	if email == "" {
		return User{}, pgInvalid(op, "missing email")
	}
	return s.getUserWhere(ctx, op, "email = $1", email)
}

// GetUserByGoogleID fetches a user by Google subject identifier.
func (s *PostgresStore) GetUserByGoogleID(ctx context.Context, googleID string) (User, error) {
	const op = "identity.GetUserByGoogleID"
	if strings.TrimSpace(googleID) == "" {
		return User{}, pgInvalid(op, "missing google id")
	}
	return s.getUserWhere(ctx, op, "google_id = $1", googleID)
}

func (s *PostgresStore) getUserWhere(ctx context.Context, op, where string, arg any) (User, error) {
	q := fmt.Sprintf(`SELECT `+userColumns+` FROM %s WHERE `+where,
		pgIdent(s.schema, "users"),
	)
	u, err := scanUser(s.pool.QueryRow(ctx, q, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, OpError{Op: op, Kind: ErrNotFound}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// BumpTokenVersion increments the user's token version, invalidating every
// token minted before the bump.
func (s *PostgresStore) BumpTokenVersion(ctx context.Context, id string) (int, error) {
	const op = "identity.BumpTokenVersion"
	if strings.TrimSpace(id) == "" {
		return 0, pgInvalid(op, "missing id")
	}

	q := fmt.Sprintf(`
		UPDATE %s SET token_version = token_version + 1
		WHERE id = $1
		RETURNING token_version`,
		pgIdent(s.schema, "users"),
	)
	var v int
	if err := s.pool.QueryRow(ctx, q, id).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, OpError{Op: op, Kind: ErrNotFound}
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

// SetPassword replaces the password hash and clears any pending reset
// challenge in one statement so a consumed OTP cannot be replayed.
func (s *PostgresStore) SetPassword(ctx context.Context, id string, passwordHash string) error {
	const op = "identity.SetPassword"
	if strings.TrimSpace(id) == "" {
		return pgInvalid(op, "missing id")
	}
	if strings.TrimSpace(passwordHash) == "" {
		return pgInvalid(op, "missing password hash")
	}

	q := fmt.Sprintf(`
		UPDATE %s SET
			password_hash = $2,
			reset_otp_hash = NULL,
			reset_otp_expires_at = NULL,
			reset_otp_sent_at = NULL
		WHERE id = $1`,
		pgIdent(s.schema, "users"),
	)
	tag, err := s.pool.Exec(ctx, q, id, passwordHash)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return OpError{Op: op, Kind: ErrNotFound}
	}
	return nil
}

// SetResetChallenge stores a new reset OTP, replacing any pending one.
func (s *PostgresStore) SetResetChallenge(ctx context.Context, id string, ch ResetChallenge) error {
	const op = "identity.SetResetChallenge"
	if strings.TrimSpace(id) == "" {
		return pgInvalid(op, "missing id")
	}
	if strings.TrimSpace(ch.OTPHash) == "" {
		return pgInvalid(op, "missing otp hash")
	}
	if ch.ExpiresAt.IsZero() {
		return pgInvalid(op, "missing expiry")
	}
	sentAt := ch.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	q := fmt.Sprintf(`
		UPDATE %s SET
			reset_otp_hash = $2,
			reset_otp_expires_at = $3,
			reset_otp_sent_at = $4
		WHERE id = $1`,
		pgIdent(s.schema, "users"),
	)
	tag, err := s.pool.Exec(ctx, q, id, ch.OTPHash, ch.ExpiresAt.UTC(), sentAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return OpError{Op: op, Kind: ErrNotFound}
	}
	return nil
}

// ClearResetChallenge removes the pending reset OTP. Clearing when none is
// pending is not an error.
func (s *PostgresStore) ClearResetChallenge(ctx context.Context, id string) error {
	const op = "identity.ClearResetChallenge"
	if strings.TrimSpace(id) == "" {
		return pgInvalid(op, "missing id")
	}

	q := fmt.Sprintf(`
		UPDATE %s SET
			reset_otp_hash = NULL,
			reset_otp_expires_at = NULL,
			reset_otp_sent_at = NULL
		WHERE id = $1`,
		pgIdent(s.schema, "users"),
	)
	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return OpError{Op: op, Kind: ErrNotFound}
	}
	return nil
}

// ---- helpers ----

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.PasswordHash,
		&u.GoogleID,
		&u.ProfilePicture,
		&u.TokenVersion,
		&u.ResetOTPHash,
		&u.ResetOTPExpiresAt,
		&u.ResetOTPSentAt,
		&u.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// pgInvalid standardizes invalid input errors.
func pgInvalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable constraint names, fall back to substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch c {
	case "uq_users_email":
		return "email", true
	case "uq_users_google_id":
		return "google_id", true
	case "uq_sessions_refresh_token_hash":
		return "refresh_token", true
	default:
		switch {
		case strings.Contains(c, "email"):
			return "email", true
		case strings.Contains(c, "google"):
			return "google_id", true
		case strings.Contains(c, "refresh") && strings.Contains(c, "token"):
			return "refresh_token", true
		default:
			return "unique", true
		}
	}
}
