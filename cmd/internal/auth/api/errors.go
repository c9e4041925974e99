package authapi

import (
	"context"
	"errors"
	"net/http"

	"deepguard/cmd/identity"
	"deepguard/cmd/internal/auth/google"
	"deepguard/cmd/internal/auth/otp"
	"deepguard/cmd/internal/auth/session"
)

// writeMappedError translates domain errors into the wire taxonomy.
// Messages stay generic for credential and code checks; the precise cause
// goes to the server log only.
func (h *Handler) writeMappedError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var cd otp.CooldownError
	if errors.As(err, &cd) {
		writeCooldown(w, cd.RetrySeconds())
		return
	}

	switch {
	case errors.Is(err, session.ErrNoCredentials):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Authentication required")
	case errors.Is(err, session.ErrInvalidCredentials),
		errors.Is(err, google.ErrInvalidAssertion):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials")
	case errors.Is(err, session.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, "SESSION_EXPIRED", "Session expired, please log in again")
	case errors.Is(err, session.ErrSessionRevoked):
		h.clearSessionCookies(w)
		writeError(w, http.StatusUnauthorized, "SESSION_REVOKED", "Session is no longer active")
	case errors.Is(err, session.ErrSessionInvalidated):
		h.clearSessionCookies(w)
		writeError(w, http.StatusUnauthorized, "SESSION_INVALIDATED", "Session is no longer active")
	case errors.Is(err, session.ErrUserNotFound):
		h.clearSessionCookies(w)
		writeError(w, http.StatusUnauthorized, "SESSION_REVOKED", "Session is no longer active")
	case errors.Is(err, otp.ErrNotRequested):
		writeError(w, http.StatusBadRequest, "NOT_REQUESTED", "No verification code was requested")
	case errors.Is(err, otp.ErrExpired):
		writeError(w, http.StatusBadRequest, "EXPIRED", "Verification code expired")
	case errors.Is(err, otp.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, "INVALID_CODE", "Invalid verification code")
	case identity.IsConflict(err):
		writeError(w, http.StatusBadRequest, "CONFLICT", "An account with this email already exists")
	case identity.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "VALIDATION", userFacingValidation(err))
	case errors.Is(err, context.DeadlineExceeded):
		h.log.Error("auth.upstream.timeout", "op", op, "err", err)
		writeError(w, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Service temporarily unavailable, please retry")
	default:
		h.log.Error("auth.internal", "op", op, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal error")
	}
}

// userFacingValidation surfaces input-policy detail (password length and
// the like) without leaking internals.
func userFacingValidation(err error) string {
	var op identity.OpError
	if errors.As(err, &op) && op.Msg != "" {
		return op.Msg
	}
	return "Invalid input"
}
