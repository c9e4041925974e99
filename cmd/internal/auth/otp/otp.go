// Package otp implements one-time-code challenges for signup and password
// reset. The signup store lives in-process; reset challenges persist on the
// user row but share the same contract: one pending challenge per subject,
// superseded on re-request once the resend cooldown elapses, consumed on
// successful verification.
package otp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"deepguard/cmd/identity"
)

const (
	// DefaultSignupTTL bounds how long a signup code stays verifiable.
	DefaultSignupTTL = 5 * time.Minute

	// DefaultResetTTL bounds how long a password-reset code stays verifiable.
	DefaultResetTTL = 2 * time.Minute

	// DefaultCooldown is the minimum gap between two code sends for the
	// same email.
	DefaultCooldown = 60 * time.Second

	codeDigits = 6
)

var (
	// ErrNotRequested is returned when no challenge is pending for the email.
	ErrNotRequested = errors.New("otp not requested")

	// ErrExpired is returned when the pending challenge has aged out. The
	// challenge is cleared; the client must request a new code.
	ErrExpired = errors.New("otp expired")

	// ErrInvalidCode is returned when the code does not match.
	ErrInvalidCode = errors.New("otp invalid")

	// ErrCooldownActive is returned when a resend comes too soon.
	ErrCooldownActive = errors.New("otp cooldown active")
)

// CooldownError carries the remaining wait for the client.
type CooldownError struct {
	Retry time.Duration
}

func (e CooldownError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrCooldownActive.Error(), e.Retry)
}

func (e CooldownError) Unwrap() error { return ErrCooldownActive }

// RetrySeconds rounds the remaining wait up to whole seconds for headers
// and response bodies.
func (e CooldownError) RetrySeconds() int {
	s := int((e.Retry + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// GenerateCode returns a random 6-digit numeric code, zero-padded.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Remaining reports how much of the cooldown is left since lastSent. Zero
// or negative means the cooldown has elapsed.
func Remaining(now, lastSent time.Time, cooldown time.Duration) time.Duration {
	return lastSent.Add(cooldown).Sub(now)
}

type entry struct {
	codeHash   string
	stagedName string
	expiresAt  time.Time
	lastSentAt time.Time
}

// SignupStore holds pending signup challenges in process memory, keyed by
// normalized email. Entries are lazily expired on access; Sweep exists for
// periodic cleanup so abandoned signups do not pin memory.
type SignupStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	cooldown time.Duration
	hasher   identity.Hasher
	entries  map[string]entry
}

// NewSignupStore builds a SignupStore. Non-positive durations fall back to
// the defaults.
func NewSignupStore(hasher identity.Hasher, ttl, cooldown time.Duration) *SignupStore {
	if ttl <= 0 {
		ttl = DefaultSignupTTL
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &SignupStore{
		ttl:      ttl,
		cooldown: cooldown,
		hasher:   hasher,
		entries:  map[string]entry{},
	}
}

// Request creates or supersedes the pending challenge for an email and
// returns the plaintext code for delivery. A request inside the cooldown
// window fails with CooldownError and leaves the pending challenge intact.
func (s *SignupStore) Request(now time.Time, email, name string) (string, error) {
	email = identity.NormalizeEmail(email)
	if email == "" {
		return "", ErrInvalidCode
	}

	code, err := GenerateCode()
	if err != nil {
		return "", err
	}
	codeHash, err := s.hasher.HashOTP(code)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[email]; ok {
		if wait := Remaining(now, e.lastSentAt, s.cooldown); wait > 0 {
			return "", CooldownError{Retry: wait}
		}
	}

	// Last write wins for concurrent requests on the same email.
	s.entries[email] = entry{
		codeHash:   codeHash,
		stagedName: name,
		expiresAt:  now.Add(s.ttl),
		lastSentAt: now,
	}
	return code, nil
}

// Verify checks a code against the pending challenge. On success the
// challenge is consumed and the staged display name is returned. An expired
// challenge is cleared as a side effect.
func (s *SignupStore) Verify(now time.Time, email, code string) (string, error) {
	email = identity.NormalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[email]
	if !ok {
		return "", ErrNotRequested
	}
	if !e.expiresAt.After(now) {
		delete(s.entries, email)
		return "", ErrExpired
	}

	match, err := s.hasher.VerifyOTP(e.codeHash, code)
	if err != nil {
		return "", err
	}
	if !match {
		return "", ErrInvalidCode
	}

	delete(s.entries, email)
	return e.stagedName, nil
}

// Sweep drops expired entries and reports how many were removed.
func (s *SignupStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for email, e := range s.entries {
		if !e.expiresAt.After(now) {
			delete(s.entries, email)
			n++
		}
	}
	return n
}

// Pending reports whether a live challenge exists for the email.
func (s *SignupStore) Pending(now time.Time, email string) bool {
	email = identity.NormalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[email]
	return ok && e.expiresAt.After(now)
}
