package google

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"google.golang.org/api/idtoken"

	"deepguard/cmd/identity"
)

func staticValidator(payload *idtoken.Payload, err error) Validator {
	return func(ctx context.Context, rawToken, audience string) (*idtoken.Payload, error) {
		return payload, err
	}
}

func testVerifier(t *testing.T, payload *idtoken.Payload, verr error) *Verifier {
	t.Helper()
	v, err := NewVerifier("client-id-123.apps.googleusercontent.com")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v.WithValidator(staticValidator(payload, verr))
}

func TestVerifyAssertion_ExtractsClaims(t *testing.T) {
	t.Parallel()

	v := testVerifier(t, &idtoken.Payload{
		Subject: "sub-12345",
		Claims: map[string]any{
			"email":   "GUser@Example.com",
			"name":    "G User",
			"picture": "https://lh3.example/p.jpg",
		},
	}, nil)

	claims, err := v.VerifyAssertion(context.Background(), "raw-token")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "sub-12345" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if claims.Email != "guser@example.com" {
		t.Fatalf("email not normalized: %q", claims.Email)
	}
	if claims.Name != "G User" || claims.Picture != "https://lh3.example/p.jpg" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestVerifyAssertion_Failures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload *idtoken.Payload
		verr    error
		token   string
	}{
		{"validator error", nil, fmt.Errorf("token expired"), "raw"},
		{"missing subject", &idtoken.Payload{Claims: map[string]any{"email": "a@b.c"}}, nil, "raw"},
		{"missing email", &idtoken.Payload{Subject: "sub-1"}, nil, "raw"},
		{"blank token", &idtoken.Payload{Subject: "sub-1"}, nil, "  "},
	}
	for _, c := range cases {
		v := testVerifier(t, c.payload, c.verr)
		if _, err := v.VerifyAssertion(context.Background(), c.token); !errors.Is(err, ErrInvalidAssertion) {
			t.Errorf("%s: got %v, want ErrInvalidAssertion", c.name, err)
		}
	}
}

// minimal identity.Store fake for provisioning tests

type fakeUsers struct {
	mu       sync.Mutex
	byGoogle map[string]identity.User
	created  int
}

func newFakeUsers() *fakeUsers { return &fakeUsers{byGoogle: map[string]identity.User{}} }

func (f *fakeUsers) CreateUser(ctx context.Context, in identity.CreateUserInput) (identity.User, error) {
	return identity.User{}, errors.New("unused")
}

func (f *fakeUsers) CreateGoogleUser(ctx context.Context, in identity.CreateGoogleUserInput) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byGoogle[in.GoogleID]; ok {
		return identity.User{}, identity.ConflictError{Op: "fake.CreateGoogleUser", Field: "google_id"}
	}
	f.created++
	gid := in.GoogleID
	u := identity.User{
		ID:           fmt.Sprintf("01HGUSER%018d", f.created),
		Email:        identity.NormalizeEmail(in.Email),
		Name:         in.Name,
		GoogleID:     &gid,
		TokenVersion: 1,
	}
	f.byGoogle[in.GoogleID] = u
	return u, nil
}

func (f *fakeUsers) GetUserByID(ctx context.Context, id string) (identity.User, error) {
	return identity.User{}, identity.OpError{Op: "fake", Kind: identity.ErrNotFound}
}

func (f *fakeUsers) GetUserByEmail(ctx context.Context, email string) (identity.User, error) {
	return identity.User{}, identity.OpError{Op: "fake", Kind: identity.ErrNotFound}
}

func (f *fakeUsers) GetUserByGoogleID(ctx context.Context, googleID string) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byGoogle[googleID]; ok {
		return u, nil
	}
	return identity.User{}, identity.OpError{Op: "fake", Kind: identity.ErrNotFound}
}

func (f *fakeUsers) BumpTokenVersion(ctx context.Context, id string) (int, error) {
	return 0, errors.New("unused")
}

func (f *fakeUsers) SetPassword(ctx context.Context, id string, passwordHash string) error {
	return errors.New("unused")
}

func (f *fakeUsers) SetResetChallenge(ctx context.Context, id string, ch identity.ResetChallenge) error {
	return errors.New("unused")
}

func (f *fakeUsers) ClearResetChallenge(ctx context.Context, id string) error {
	return errors.New("unused")
}

func TestResolveUser_ProvisionsOnce(t *testing.T) {
	t.Parallel()

	users := newFakeUsers()
	claims := IdentityClaims{
		Subject: "sub-12345",
		Email:   "guser@example.com",
		Name:    "G User",
		Picture: "https://lh3.example/p.jpg",
	}

	first, err := ResolveUser(context.Background(), users, claims)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if first.PasswordHash != nil {
		t.Fatalf("provisioned user must not have a password hash")
	}
	if first.TokenVersion != 1 {
		t.Fatalf("token version = %d, want 1", first.TokenVersion)
	}

	// Second login with a changed email still resolves by subject.
	claims.Email = "renamed@example.com"
	second, err := ResolveUser(context.Background(), users, claims)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("resolve created a duplicate user")
	}
	if users.created != 1 {
		t.Fatalf("created %d users, want 1", users.created)
	}
}
