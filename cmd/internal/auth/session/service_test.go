package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"deepguard/cmd/identity"
	"deepguard/cmd/security/password"
	"deepguard/cmd/security/token"
)

// ---- in-memory fakes ----

type fakeUsers struct {
	mu    sync.Mutex
	byID  map[string]identity.User
	seq   int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[string]identity.User{}}
}

func (f *fakeUsers) add(u identity.User) identity.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.TokenVersion == 0 {
		u.TokenVersion = 1
	}
	f.byID[u.ID] = u
	return u
}

func (f *fakeUsers) CreateUser(ctx context.Context, in identity.CreateUserInput) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	u := identity.User{
		ID:           string(rune('A'+f.seq)) + "0000000000000000000000000",
		Email:        identity.NormalizeEmail(in.Email),
		Name:         in.Name,
		PasswordHash: &in.PasswordHash,
		TokenVersion: 1,
	}
	f.byID[u.ID] = u
	return u, nil
}

func (f *fakeUsers) CreateGoogleUser(ctx context.Context, in identity.CreateGoogleUserInput) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	gid := in.GoogleID
	u := identity.User{
		ID:           string(rune('A'+f.seq)) + "0000000000000000000000000",
		Email:        identity.NormalizeEmail(in.Email),
		Name:         in.Name,
		GoogleID:     &gid,
		TokenVersion: 1,
	}
	f.byID[u.ID] = u
	return u, nil
}

func (f *fakeUsers) GetUserByID(ctx context.Context, id string) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return identity.User{}, identity.OpError{Op: "fake.GetUserByID", Kind: identity.ErrNotFound}
	}
	return u, nil
}

func (f *fakeUsers) GetUserByEmail(ctx context.Context, email string) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return identity.User{}, identity.OpError{Op: "fake.GetUserByEmail", Kind: identity.ErrNotFound}
}

func (f *fakeUsers) GetUserByGoogleID(ctx context.Context, googleID string) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.GoogleID != nil && *u.GoogleID == googleID {
			return u, nil
		}
	}
	return identity.User{}, identity.OpError{Op: "fake.GetUserByGoogleID", Kind: identity.ErrNotFound}
}

func (f *fakeUsers) BumpTokenVersion(ctx context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return 0, identity.OpError{Op: "fake.BumpTokenVersion", Kind: identity.ErrNotFound}
	}
	u.TokenVersion++
	f.byID[id] = u
	return u.TokenVersion, nil
}

func (f *fakeUsers) SetPassword(ctx context.Context, id string, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return identity.OpError{Op: "fake.SetPassword", Kind: identity.ErrNotFound}
	}
	u.PasswordHash = &passwordHash
	u.ResetOTPHash, u.ResetOTPExpiresAt, u.ResetOTPSentAt = nil, nil, nil
	f.byID[id] = u
	return nil
}

func (f *fakeUsers) SetResetChallenge(ctx context.Context, id string, ch identity.ResetChallenge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return identity.OpError{Op: "fake.SetResetChallenge", Kind: identity.ErrNotFound}
	}
	u.ResetOTPHash = &ch.OTPHash
	exp, sent := ch.ExpiresAt, ch.SentAt
	u.ResetOTPExpiresAt, u.ResetOTPSentAt = &exp, &sent
	f.byID[id] = u
	return nil
}

func (f *fakeUsers) ClearResetChallenge(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return identity.OpError{Op: "fake.ClearResetChallenge", Kind: identity.ErrNotFound}
	}
	u.ResetOTPHash, u.ResetOTPExpiresAt, u.ResetOTPSentAt = nil, nil, nil
	f.byID[id] = u
	return nil
}

type fakeSessions struct {
	mu     sync.Mutex
	byHash map[string]Row
	seq    int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byHash: map[string]Row{}}
}

func (f *fakeSessions) Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, refreshHash string, tokenVersion int, expiresAt time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := string(rune('a'+f.seq)) + "0000000000000000000000000"
	f.byHash[refreshHash] = Row{
		ID:                   id,
		UserID:               userID,
		RefreshTokenHash:     refreshHash,
		TokenVersionSnapshot: tokenVersion,
		CreatedAt:            now,
		ExpiresAt:            expiresAt,
	}
	return id, nil
}

func (f *fakeSessions) GetByRefreshHash(ctx context.Context, refreshHash, userID string) (Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.byHash[refreshHash]
	if !ok || row.UserID != userID {
		return Row{}, ErrSessionRevoked
	}
	return row, nil
}

func (f *fakeSessions) Rotate(ctx context.Context, now time.Time, sessionID, oldHash, newHash string, dev DeviceContext, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.byHash[oldHash]
	if !ok || row.ID != sessionID {
		return ErrSessionRevoked
	}
	delete(f.byHash, oldHash)
	row.RefreshTokenHash = newHash
	row.ExpiresAt = expiresAt
	row.LastUsedAt = &now
	f.byHash[newHash] = row
	return nil
}

func (f *fakeSessions) DeleteByRefreshHash(ctx context.Context, refreshHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byHash, refreshHash)
	return nil
}

func (f *fakeSessions) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for h, row := range f.byHash {
		if row.UserID == userID {
			delete(f.byHash, h)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for h, row := range f.byHash {
		if !row.ExpiresAt.After(now) {
			delete(f.byHash, h)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byHash)
}

// ---- harness ----

type harness struct {
	svc      *Service
	users    *fakeUsers
	sessions *fakeSessions
	hasher   identity.Hasher
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	codec, err := NewTokenCodec(testConfig())
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	pw := password.DefaultConfig()
	pw.Cost = bcrypt.MinCost
	hasher := identity.NewHasherWithConfig(pw)

	users := newFakeUsers()
	sessions := newFakeSessions()

	return &harness{
		svc:      NewService(codec, sessions, users, hasher),
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (h *harness) addPasswordUser(t *testing.T, email, pw string) identity.User {
	t.Helper()
	hash, err := h.hasher.HashPassword(pw)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return h.users.add(identity.User{
		ID:           "01HUSER" + email[:1] + "XXXXXXXXXXXXXXXXXX",
		Email:        identity.NormalizeEmail(email),
		Name:         "Test User",
		PasswordHash: &hash,
		TokenVersion: 1,
	})
}

// ---- tests ----

func TestLogin_HappyPath(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	u := h.addPasswordUser(t, "alice@example.com", "correct horse battery")

	user, issued, err := h.svc.Login(ctx, h.now, "Alice@Example.com", "correct horse battery", DeviceContext{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.ID != u.ID {
		t.Fatalf("user = %q, want %q", user.ID, u.ID)
	}
	if issued.AccessToken == "" || issued.RefreshToken == "" {
		t.Fatalf("missing tokens: %+v", issued)
	}
	if h.sessions.count() != 1 {
		t.Fatalf("sessions = %d, want 1", h.sessions.count())
	}
}

func TestLogin_FailuresAreUndifferentiated(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.addPasswordUser(t, "alice@example.com", "correct horse battery")
	gid := "google-sub-1"
	h.users.add(identity.User{
		ID:           "01HGOOGLEUSERXXXXXXXXXXXXX",
		Email:        "google-only@example.com",
		GoogleID:     &gid,
		TokenVersion: 1,
	})

	cases := []struct {
		name      string
		email, pw string
	}{
		{"unknown email", "nobody@example.com", "whatever passwords"},
		{"wrong password", "alice@example.com", "not the password!"},
		{"google-only account", "google-only@example.com", "any password here"},
		{"blank password", "alice@example.com", ""},
	}
	for _, c := range cases {
		_, _, err := h.svc.Login(ctx, h.now, c.email, c.pw, DeviceContext{})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("%s: got %v, want ErrInvalidCredentials", c.name, err)
		}
	}
}

func TestAuthenticate_ValidAccessToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.addPasswordUser(t, "alice@example.com", "correct horse battery")

	_, issued, err := h.svc.Login(ctx, h.now, "alice@example.com", "correct horse battery", DeviceContext{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	auth, err := h.svc.Authenticate(ctx, h.now.Add(time.Minute), issued.AccessToken, issued.RefreshToken, DeviceContext{})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if auth.Rotated {
		t.Fatalf("valid access token must not rotate")
	}
	if auth.User.Email != "alice@example.com" {
		t.Fatalf("user = %q", auth.User.Email)
	}
}

func TestAuthenticate_NoCredentials(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.svc.Authenticate(context.Background(), h.now, "", "", DeviceContext{})
	if !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("got %v, want ErrNoCredentials", err)
	}
}

func TestAuthenticate_ExpiredAccessRotates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.addPasswordUser(t, "alice@example.com", "correct horse battery")

	_, issued, err := h.svc.Login(ctx, h.now, "alice@example.com", "correct horse battery", DeviceContext{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	later := h.now.Add(time.Hour) // access long dead, refresh alive
	auth, err := h.svc.Authenticate(ctx, later, issued.AccessToken, issued.RefreshToken, DeviceContext{})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !auth.Rotated {
		t.Fatalf("expected rotation")
	}
	if auth.Issued.RefreshToken == issued.RefreshToken {
		t.Fatalf("refresh token did not rotate")
	}
	if auth.Issued.SessionID != issued.SessionID {
		t.Fatalf("rotation must keep the session id (in-place)")
	}
	if h.sessions.count() != 1 {
		t.Fatalf("sessions = %d, want 1 after in-place rotation", h.sessions.count())
	}

	// The superseded refresh token is dead.
	_, err = h.svc.Authenticate(ctx, later.Add(time.Minute), "", issued.RefreshToken, DeviceContext{})
	if !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("old refresh after rotation: got %v, want ErrSessionRevoked", err)
	}

	// The new pair works.
	if _, err := h.svc.Authenticate(ctx, later.Add(time.Minute), auth.Issued.AccessToken, auth.Issued.RefreshToken, DeviceContext{}); err != nil {
		t.Fatalf("new pair: %v", err)
	}
}

func TestAuthenticate_ExpiredRefresh(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.addPasswordUser(t, "alice@example.com", "correct horse battery")

	_, issued, err := h.svc.Login(ctx, h.now, "alice@example.com", "correct horse battery", DeviceContext{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	after := h.now.Add(31 * 24 * time.Hour)
	_, err = h.svc.Authenticate(ctx, after, issued.AccessToken, issued.RefreshToken, DeviceContext{})
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("got %v, want ErrSessionExpired", err)
	}
}

func TestAuthenticate_ExpiredAccessWithoutRefresh(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.addPasswordUser(t, "alice@example.com", "correct horse battery")

	_, issued, err := h.svc.Login(ctx, h.now, "alice@example.com", "correct horse battery", DeviceContext{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	_, err = h.svc.Authenticate(ctx, h.now.Add(time.Hour), issued.AccessToken, "", DeviceContext{})
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("got %v, want ErrSessionExpired", err)
	}
}

func TestAuthenticate_LogoutAllInvalidatesTokens(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	u := h.addPasswordUser(t, "alice@example.com", "correct horse battery")

	_, issued, err := h.svc.Login(ctx, h.now, "alice@example.com", "correct horse battery", DeviceContext{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	n, err := h.svc.LogoutAll(ctx, u.ID)
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d sessions, want 1", n)
	}

	// Still-valid access token dies at the version check.
	_, err = h.svc.Authenticate(ctx, h.now.Add(time.Minute), issued.AccessToken, issued.RefreshToken, DeviceContext{})
	if !errors.Is(err, ErrSessionInvalidated) {
		t.Fatalf("access after logout-all: got %v, want ErrSessionInvalidated", err)
	}

	// Refresh path: the session row is gone.
	_, err = h.svc.Authenticate(ctx, h.now.Add(time.Hour), "", issued.RefreshToken, DeviceContext{})
	if !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("refresh after logout-all: got %v, want ErrSessionRevoked", err)
	}
}

func TestAuthenticate_ConcurrentRotationHasOneWinner(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.addPasswordUser(t, "alice@example.com", "correct horse battery")

	_, issued, err := h.svc.Login(ctx, h.now, "alice@example.com", "correct horse battery", DeviceContext{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	later := h.now.Add(20 * time.Minute)
	if _, err := h.svc.Authenticate(ctx, later, "", issued.RefreshToken, DeviceContext{}); err != nil {
		t.Fatalf("first rotation: %v", err)
	}

	// Replaying the same refresh token loses the race.
	_, err = h.svc.Authenticate(ctx, later, "", issued.RefreshToken, DeviceContext{})
	if !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("replay: got %v, want ErrSessionRevoked", err)
	}
}

func TestLogoutOne_Idempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.addPasswordUser(t, "alice@example.com", "correct horse battery")

	_, issued, err := h.svc.Login(ctx, h.now, "alice@example.com", "correct horse battery", DeviceContext{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := h.svc.LogoutOne(ctx, issued.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if h.sessions.count() != 0 {
		t.Fatalf("session not deleted")
	}

	// Repeat and unknown-token logouts succeed quietly.
	if err := h.svc.LogoutOne(ctx, issued.RefreshToken); err != nil {
		t.Fatalf("repeat logout: %v", err)
	}
	if err := h.svc.LogoutOne(ctx, "never-issued-token"); err != nil {
		t.Fatalf("unknown logout: %v", err)
	}
	if err := h.svc.LogoutOne(ctx, ""); err != nil {
		t.Fatalf("blank logout: %v", err)
	}
}

func TestAuthenticate_DeletedUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	u := h.addPasswordUser(t, "alice@example.com", "correct horse battery")

	_, issued, err := h.svc.Login(ctx, h.now, "alice@example.com", "correct horse battery", DeviceContext{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	h.users.mu.Lock()
	delete(h.users.byID, u.ID)
	h.users.mu.Unlock()

	_, err = h.svc.Authenticate(ctx, h.now.Add(time.Minute), issued.AccessToken, "", DeviceContext{})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("got %v, want ErrUserNotFound", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.addPasswordUser(t, "alice@example.com", "correct horse battery")
	h.addPasswordUser(t, "bob@example.com", "correct horse battery")

	if _, _, err := h.svc.Login(ctx, h.now, "alice@example.com", "correct horse battery", DeviceContext{}); err != nil {
		t.Fatalf("login alice: %v", err)
	}
	if _, _, err := h.svc.Login(ctx, h.now.Add(time.Hour), "bob@example.com", "correct horse battery", DeviceContext{}); err != nil {
		t.Fatalf("login bob: %v", err)
	}

	// Only alice's session has aged out at this point.
	n, err := h.svc.PurgeExpired(ctx, h.now.Add(30*24*time.Hour+time.Minute))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	if h.sessions.count() != 1 {
		t.Fatalf("sessions = %d, want 1", h.sessions.count())
	}
}

// Guard against accidental divergence between service hashing and store keys.
func TestRefreshHashMatchesStoreKey(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	u := h.addPasswordUser(t, "alice@example.com", "correct horse battery")

	_, issued, err := h.svc.Login(ctx, h.now, "alice@example.com", "correct horse battery", DeviceContext{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	hash := token.HashRefreshTokenHex(issued.RefreshToken)
	row, err := h.sessions.GetByRefreshHash(ctx, hash, u.ID)
	if err != nil {
		t.Fatalf("stored hash does not match issued token: %v", err)
	}
	if row.ID != issued.SessionID {
		t.Fatalf("row id = %q, want %q", row.ID, issued.SessionID)
	}

	// The lookup is user-scoped.
	if _, err := h.sessions.GetByRefreshHash(ctx, hash, "01HSOMEOTHERUSERXXXXXXXXXX"); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("cross-user lookup: got %v, want ErrSessionRevoked", err)
	}
}

func TestAuthenticate_TamperedAccessDoesNotFallThrough(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.addPasswordUser(t, "alice@example.com", "correct horse battery")

	_, issued, err := h.svc.Login(ctx, h.now, "alice@example.com", "correct horse battery", DeviceContext{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	// A garbled access token fails outright even though the refresh token
	// alone would have authenticated.
	tampered := issued.AccessToken[:len(issued.AccessToken)-2] + "xx"
	_, err = h.svc.Authenticate(ctx, h.now.Add(time.Minute), tampered, issued.RefreshToken, DeviceContext{})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("got %v, want ErrInvalidCredentials", err)
	}
}
