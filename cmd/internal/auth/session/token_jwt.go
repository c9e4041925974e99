package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the identity envelope carried by both access and refresh tokens.
//
// TokenVersion pins the token to the user's credential generation: bumping
// the user's version invalidates every outstanding token at once.
type Claims struct {
	UserID       string `json:"uid"`
	Email        string `json:"email"`
	TokenVersion int    `json:"tv"`

	jwt.RegisteredClaims
}

// TokenCodec issues and verifies the HS256 token pair. The two signing
// secrets are independent, so a refresh token can never be replayed as an
// access token or vice versa.
type TokenCodec struct {
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	clockSkew     time.Duration
	accessSecret  []byte
	refreshSecret []byte
}

// NewTokenCodec builds a TokenCodec from a validated Config.
func NewTokenCodec(cfg Config) (*TokenCodec, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &TokenCodec{
		issuer:        cfg.Issuer,
		accessTTL:     cfg.AccessTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
		clockSkew:     cfg.ClockSkew,
		accessSecret:  cfg.AccessSecret,
		refreshSecret: cfg.RefreshSecret,
	}, nil
}

// AccessTTL reports the configured access-token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL reports the configured refresh-token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccess mints an access token for the given identity.
func (c *TokenCodec) IssueAccess(userID, email string, tokenVersion int, now time.Time) (string, time.Time, error) {
	return c.issue(userID, email, tokenVersion, now, c.accessTTL, c.accessSecret)
}

// IssueRefresh mints a refresh token for the given identity.
func (c *TokenCodec) IssueRefresh(userID, email string, tokenVersion int, now time.Time) (string, time.Time, error) {
	return c.issue(userID, email, tokenVersion, now, c.refreshTTL, c.refreshSecret)
}

func (c *TokenCodec) issue(userID, email string, tv int, now time.Time, ttl time.Duration, secret []byte) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	exp := now.Add(ttl)

	claims := Claims{
		UserID:       userID,
		Email:        email,
		TokenVersion: tv,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// VerifyAccess verifies an access token.
// Returns ErrSessionExpired for an expired token and ErrInvalidToken for any
// other verification failure, so callers can branch on the two outcomes.
func (c *TokenCodec) VerifyAccess(token string, now time.Time) (Claims, error) {
	return c.verify(token, now, c.accessSecret)
}

// VerifyRefresh verifies a refresh token with the same error contract as
// VerifyAccess.
func (c *TokenCodec) VerifyRefresh(token string, now time.Time) (Claims, error) {
	return c.verify(token, now, c.refreshSecret)
}

func (c *TokenCodec) verify(token string, now time.Time, secret []byte) (Claims, error) {
	token = strings.TrimSpace(token)
	// Sanity bounds to avoid pathological inputs.
	if token == "" || len(token) > 4096 {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrSessionExpired
		}
		return Claims{}, ErrInvalidToken
	}

	if strings.TrimSpace(claims.UserID) == "" || claims.TokenVersion < 1 {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
