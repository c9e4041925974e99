// Package google verifies Google ID-token assertions and resolves them to
// local users, provisioning an account on first login.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/api/idtoken"

	"deepguard/cmd/identity"
)

// ErrInvalidAssertion is returned when a provider token fails verification
// or lacks the claims needed to identify an account.
var ErrInvalidAssertion = errors.New("invalid assertion")

// IdentityClaims is the verified identity extracted from a provider token.
// Subject is the durable key; email can change between logins.
type IdentityClaims struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// Validator checks a raw ID token against an audience and returns its
// payload. The default is idtoken.Validate; tests inject their own.
type Validator func(ctx context.Context, rawToken, audience string) (*idtoken.Payload, error)

// Verifier validates Google ID tokens for a single OAuth client ID.
type Verifier struct {
	audience string
	validate Validator
}

// NewVerifier builds a Verifier for the given OAuth client ID.
func NewVerifier(clientID string) (*Verifier, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, fmt.Errorf("google: empty client id")
	}
	return &Verifier{audience: clientID, validate: idtoken.Validate}, nil
}

// NewVerifierFromEnv reads DEEPGUARD_GOOGLE_CLIENT_ID.
func NewVerifierFromEnv() (*Verifier, error) {
	return NewVerifier(os.Getenv("DEEPGUARD_GOOGLE_CLIENT_ID"))
}

// WithValidator replaces the validation function. Tests use this to avoid
// network calls.
func (v *Verifier) WithValidator(fn Validator) *Verifier {
	v.validate = fn
	return v
}

// VerifyAssertion validates a raw provider token and extracts identity
// claims. Every verification failure collapses into ErrInvalidAssertion;
// the transport maps it to one generic client error.
func (v *Verifier) VerifyAssertion(ctx context.Context, rawToken string) (IdentityClaims, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return IdentityClaims{}, ErrInvalidAssertion
	}

	payload, err := v.validate(ctx, rawToken, v.audience)
	if err != nil {
		return IdentityClaims{}, fmt.Errorf("%w: %v", ErrInvalidAssertion, err)
	}

	claims := IdentityClaims{
		Subject: payload.Subject,
		Email:   identity.NormalizeEmail(stringClaim(payload, "email")),
		Name:    stringClaim(payload, "name"),
		Picture: stringClaim(payload, "picture"),
	}
	if claims.Subject == "" || claims.Email == "" {
		return IdentityClaims{}, ErrInvalidAssertion
	}
	return claims, nil
}

func stringClaim(p *idtoken.Payload, key string) string {
	if p.Claims == nil {
		return ""
	}
	s, _ := p.Claims[key].(string)
	return s
}

// ResolveUser maps verified claims to a local user, creating one on first
// login. Lookup is by provider subject id only: an account whose email
// later changed at the provider still resolves to the same user.
func ResolveUser(ctx context.Context, users identity.Store, claims IdentityClaims) (identity.User, error) {
	user, err := users.GetUserByGoogleID(ctx, claims.Subject)
	if err == nil {
		return user, nil
	}
	if !identity.IsNotFound(err) {
		return identity.User{}, err
	}

	return users.CreateGoogleUser(ctx, identity.CreateGoogleUserInput{
		GoogleID:       claims.Subject,
		Email:          claims.Email,
		Name:           claims.Name,
		ProfilePicture: claims.Picture,
	})
}
