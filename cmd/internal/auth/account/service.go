// Package account implements the OTP-gated signup and password-reset flows.
//
// Both flows follow the same challenge contract: one pending challenge per
// email, superseded on re-request once the 60-second cooldown elapses,
// consumed on successful verification. Signup challenges live in process
// memory; reset challenges persist on the user row so they survive
// restarts.
package account

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"deepguard/cmd/identity"
	"deepguard/cmd/internal/auth/mail"
	"deepguard/cmd/internal/auth/otp"
)

// Service owns signup and reset challenge lifecycles.
type Service struct {
	users     identity.Store
	hasher    identity.Hasher
	signupOTP *otp.SignupStore
	sender    mail.Sender
	log       *slog.Logger

	resetTTL time.Duration
	cooldown time.Duration
}

// Config tunes the challenge windows. Zero values fall back to defaults.
type Config struct {
	SignupTTL time.Duration
	ResetTTL  time.Duration
	Cooldown  time.Duration
}

// NewService constructs the account service.
func NewService(users identity.Store, hasher identity.Hasher, sender mail.Sender, log *slog.Logger, cfg Config) *Service {
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = otp.DefaultResetTTL
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = otp.DefaultCooldown
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		users:     users,
		hasher:    hasher,
		signupOTP: otp.NewSignupStore(hasher, cfg.SignupTTL, cfg.Cooldown),
		sender:    sender,
		log:       log,
		resetTTL:  cfg.ResetTTL,
		cooldown:  cfg.Cooldown,
	}
}

// RequestSignupOTP stages a signup challenge and emails the code.
//
// An already-registered email fails with a conflict before any code is
// generated: signup is the one flow where revealing existence is the
// correct behavior, since completing it would fail on the unique email
// anyway.
func (s *Service) RequestSignupOTP(ctx context.Context, now time.Time, email, name string) error {
	email = identity.NormalizeEmail(email)
	if email == "" {
		return identity.OpError{Op: "account.RequestSignupOTP", Kind: identity.ErrInvalidInput, Msg: "email is required"}
	}

	_, err := s.users.GetUserByEmail(ctx, email)
	if err == nil {
		return identity.ConflictError{Op: "account.RequestSignupOTP", Field: "email"}
	}
	if !identity.IsNotFound(err) {
		return err
	}

	code, err := s.signupOTP.Request(now, email, name)
	if err != nil {
		return err
	}

	if err := s.sender.Send(ctx, mail.OTPMessage(email, "signup", code, otp.DefaultSignupTTL)); err != nil {
		return fmt.Errorf("send signup otp: %w", err)
	}
	return nil
}

// CompleteSignup verifies the signup code and creates the user.
//
// The display name preference order: the name supplied with the final
// signup request, then the name staged at OTP request time, then the email
// local part (applied by the store).
func (s *Service) CompleteSignup(ctx context.Context, now time.Time, email, name, password, code string) (identity.User, error) {
	email = identity.NormalizeEmail(email)

	stagedName, err := s.signupOTP.Verify(now, email, code)
	if err != nil {
		return identity.User{}, err
	}
	if name == "" {
		name = stagedName
	}

	passwordHash, err := s.hasher.HashPassword(password)
	if err != nil {
		return identity.User{}, err
	}

	return s.users.CreateUser(ctx, identity.CreateUserInput{
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
	})
}

// RequestResetOTP stages a password-reset challenge on the user row and
// emails the code.
//
// Unknown emails and provider-only accounts succeed silently: the response
// never reveals whether an account exists. Only the cooldown is surfaced,
// since it requires a prior legitimate request for the same email.
func (s *Service) RequestResetOTP(ctx context.Context, now time.Time, email string) error {
	email = identity.NormalizeEmail(email)
	if email == "" {
		return identity.OpError{Op: "account.RequestResetOTP", Kind: identity.ErrInvalidInput, Msg: "email is required"}
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) {
			s.log.InfoContext(ctx, "reset otp requested for unknown email")
			return nil
		}
		return err
	}
	if user.PasswordHash == nil {
		s.log.InfoContext(ctx, "reset otp requested for provider-only account", "user_id", user.ID)
		return nil
	}

	if user.ResetOTPSentAt != nil {
		if wait := otp.Remaining(now, *user.ResetOTPSentAt, s.cooldown); wait > 0 {
			return otp.CooldownError{Retry: wait}
		}
	}

	code, err := otp.GenerateCode()
	if err != nil {
		return err
	}
	codeHash, err := s.hasher.HashOTP(code)
	if err != nil {
		return err
	}

	err = s.users.SetResetChallenge(ctx, user.ID, identity.ResetChallenge{
		OTPHash:   codeHash,
		ExpiresAt: now.Add(s.resetTTL),
		SentAt:    now,
	})
	if err != nil {
		return err
	}

	if err := s.sender.Send(ctx, mail.OTPMessage(email, "password reset", code, s.resetTTL)); err != nil {
		return fmt.Errorf("send reset otp: %w", err)
	}
	return nil
}

// CompleteReset verifies the reset code and replaces the password. The
// challenge is cleared on success (atomically with the password write) and
// on expiry.
func (s *Service) CompleteReset(ctx context.Context, now time.Time, email, code, newPassword string) error {
	email = identity.NormalizeEmail(email)

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) {
			return otp.ErrNotRequested
		}
		return err
	}
	if user.ResetOTPHash == nil || user.ResetOTPExpiresAt == nil {
		return otp.ErrNotRequested
	}

	if !user.ResetOTPExpiresAt.After(now) {
		_ = s.users.ClearResetChallenge(ctx, user.ID)
		return otp.ErrExpired
	}

	match, err := s.hasher.VerifyOTP(*user.ResetOTPHash, code)
	if err != nil {
		return err
	}
	if !match {
		return otp.ErrInvalidCode
	}

	passwordHash, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.users.SetPassword(ctx, user.ID, passwordHash)
}

// SweepSignupChallenges drops expired signup challenges. Run periodically.
func (s *Service) SweepSignupChallenges(now time.Time) int {
	return s.signupOTP.Sweep(now)
}
