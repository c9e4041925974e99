// Package authapi exposes the authentication HTTP surface: signup, login,
// Google sign-in, session introspection, logout, and the OTP-gated
// challenge routes. Tokens travel as HttpOnly SameSite=Strict cookies with
// a bearer-header fallback for cookie-less clients.
package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"deepguard/cmd/identity"
	"deepguard/cmd/internal/auth/account"
	"deepguard/cmd/internal/auth/google"
	"deepguard/cmd/internal/auth/session"
)

// Handler wires the HTTP auth endpoints to the identity, session, and
// account services.
type Handler struct {
	log *slog.Logger
	cfg Config

	users    identity.Store
	sessions *session.Service
	accounts *account.Service
	google   *google.Verifier
	metrics  *Metrics

	// pool and schema are only used for best-effort audit inserts; a nil
	// pool disables auditing.
	pool   *pgxpool.Pool
	schema string
}

// HandlerOption configures optional Handler dependencies.
type HandlerOption func(*Handler)

// WithAuditPool enables audit-log inserts through the given pool.
func WithAuditPool(pool *pgxpool.Pool, schema string) HandlerOption {
	return func(h *Handler) {
		h.pool = pool
		if strings.TrimSpace(schema) != "" {
			h.schema = schema
		}
	}
}

// WithGoogleVerifier enables the POST /google route.
func WithGoogleVerifier(v *google.Verifier) HandlerOption {
	return func(h *Handler) {
		h.google = v
	}
}

// WithMetrics enables auth outcome counters.
func WithMetrics(m *Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler constructs the auth Handler.
func NewHandler(log *slog.Logger, cfg Config, users identity.Store, sessions *session.Service, accounts *account.Service, opts ...HandlerOption) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		log:      log,
		cfg:      cfg,
		users:    users,
		sessions: sessions,
		accounts: accounts,
		schema:   "deepguard",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /signup", h.handleSignup)
	mux.HandleFunc("POST /signup/send-otp", h.handleSignupSendOTP)
	mux.HandleFunc("POST /login", h.handleLogin)
	mux.HandleFunc("POST /google", h.handleGoogle)
	mux.HandleFunc("GET /me", h.handleMe)
	mux.HandleFunc("POST /logout", h.handleLogout)
	mux.HandleFunc("POST /logout-all", h.handleLogoutAll)
	mux.HandleFunc("POST /send-reset-otp", h.handleSendResetOTP)
	mux.HandleFunc("POST /reset-password", h.handleResetPassword)
}

// opCtx bounds every downstream call made on behalf of a request.
func (h *Handler) opCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.cfg.UpstreamTimeout)
}

// ---- handlers ----

func (h *Handler) handleSignupSendOTP(w http.ResponseWriter, r *http.Request) {
	var req signupSendOTPRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "Email is required")
		return
	}

	ctx, cancel := h.opCtx(r)
	defer cancel()
	now := time.Now().UTC()

	if err := h.accounts.RequestSignupOTP(ctx, now, req.Email, req.Name); err != nil {
		h.writeMappedError(w, r, "signup.send_otp", err)
		return
	}

	h.metrics.otpSent("signup")
	h.auditOTPSent(ctx, "signup", clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	writeJSON(w, http.StatusOK, okResponse{Message: "Verification code sent"})
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" || strings.TrimSpace(req.OTP) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "Email, password, and code are required")
		return
	}

	ctx, cancel := h.opCtx(r)
	defer cancel()
	now := time.Now().UTC()

	user, err := h.accounts.CompleteSignup(ctx, now, req.Email, req.Name, req.Password, req.OTP)
	if err != nil {
		h.writeMappedError(w, r, "signup", err)
		return
	}

	issued, err := h.sessions.IssueSession(ctx, now, user, h.deviceContext(r))
	if err != nil {
		h.writeMappedError(w, r, "signup.session", err)
		return
	}

	h.auditSignup(ctx, user.ID, issued.SessionID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	h.setSessionCookies(w, now, issued)
	writeJSON(w, http.StatusCreated, userEnvelope{User: toUserResponse(user)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "Email and password are required")
		return
	}

	ctx, cancel := h.opCtx(r)
	defer cancel()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := r.UserAgent()

	user, issued, err := h.sessions.Login(ctx, now, req.Email, req.Password, h.deviceContext(r))
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			h.metrics.login("password", "failure")
			h.auditLoginFailed(ctx, nil, ip, ua, identity.NormalizeEmail(req.Email))
		}
		h.writeMappedError(w, r, "login", err)
		return
	}

	h.metrics.login("password", "success")
	h.auditLoginSuccess(ctx, user.ID, issued.SessionID, ip, ua)
	h.setSessionCookies(w, now, issued)
	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(user)})
}

func (h *Handler) handleGoogle(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeError(w, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Google sign-in is not configured")
		return
	}

	var req googleRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Credential) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "Credential is required")
		return
	}

	ctx, cancel := h.opCtx(r)
	defer cancel()
	now := time.Now().UTC()

	claims, err := h.google.VerifyAssertion(ctx, req.Credential)
	if err != nil {
		h.metrics.login("google", "failure")
		h.writeMappedError(w, r, "google.verify", err)
		return
	}
	user, err := google.ResolveUser(ctx, h.users, claims)
	if err != nil {
		h.writeMappedError(w, r, "google.resolve", err)
		return
	}

	issued, err := h.sessions.IssueSession(ctx, now, user, h.deviceContext(r))
	if err != nil {
		h.writeMappedError(w, r, "google.session", err)
		return
	}

	h.metrics.login("google", "success")
	h.auditGoogleLogin(ctx, user.ID, issued.SessionID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	h.setSessionCookies(w, now, issued)
	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(user)})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.opCtx(r)
	defer cancel()

	auth, ok := h.authenticate(ctx, w, r, "")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(auth.User)})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "Invalid request body")
			return
		}
	}

	ctx, cancel := h.opCtx(r)
	defer cancel()

	// Idempotent: an absent or unknown refresh token still logs out.
	refreshToken := refreshTokenFromRequest(r, body.RefreshToken)
	if err := h.sessions.LogoutOne(ctx, refreshToken); err != nil {
		h.writeMappedError(w, r, "logout", err)
		return
	}

	h.auditLogout(ctx, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	h.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, okResponse{Message: "Logged out"})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "Invalid request body")
			return
		}
	}

	ctx, cancel := h.opCtx(r)
	defer cancel()

	auth, ok := h.authenticate(ctx, w, r, body.RefreshToken)
	if !ok {
		return
	}

	revoked, err := h.sessions.LogoutAll(ctx, auth.User.ID)
	if err != nil {
		h.writeMappedError(w, r, "logout_all", err)
		return
	}

	h.auditLogoutAll(ctx, auth.User.ID, revoked, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	h.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, okResponse{Message: "Logged out everywhere"})
}

func (h *Handler) handleSendResetOTP(w http.ResponseWriter, r *http.Request) {
	var req sendResetOTPRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "Email is required")
		return
	}

	ctx, cancel := h.opCtx(r)
	defer cancel()
	now := time.Now().UTC()

	if err := h.accounts.RequestResetOTP(ctx, now, req.Email); err != nil {
		h.writeMappedError(w, r, "reset.send_otp", err)
		return
	}

	h.metrics.otpSent("reset")
	h.auditOTPSent(ctx, "reset", clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	// The same response whether or not the account exists.
	writeJSON(w, http.StatusOK, okResponse{Message: "If the account exists, a code has been sent"})
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.OTP) == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "Email, code, and new password are required")
		return
	}

	ctx, cancel := h.opCtx(r)
	defer cancel()
	now := time.Now().UTC()

	if err := h.accounts.CompleteReset(ctx, now, req.Email, req.OTP, req.NewPassword); err != nil {
		h.writeMappedError(w, r, "reset", err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse{Message: "Password updated"})
}

// ---- authentication plumbing ----

// authenticate resolves the caller from the request's token pair. When the
// session rotated, the fresh cookies are installed on the response before
// the handler body runs. On dead-session failures the cookies are cleared.
func (h *Handler) authenticate(ctx context.Context, w http.ResponseWriter, r *http.Request, bodyRefresh string) (session.Auth, bool) {
	now := time.Now().UTC()
	access := accessTokenFromRequest(r)
	refresh := refreshTokenFromRequest(r, bodyRefresh)

	auth, err := h.sessions.Authenticate(ctx, now, access, refresh, h.deviceContext(r))
	if err != nil {
		if errors.Is(err, session.ErrSessionRevoked) {
			h.metrics.rotation("conflict")
			h.auditRotationConflict(ctx, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
		}
		h.writeMappedError(w, r, "authenticate", err)
		return session.Auth{}, false
	}

	if auth.Rotated {
		h.metrics.rotation("rotated")
		h.auditRotation(ctx, auth.User.ID, auth.Issued.SessionID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
		h.setSessionCookies(w, now, auth.Issued)
	}
	return auth, true
}

func (h *Handler) deviceContext(r *http.Request) session.DeviceContext {
	return session.DeviceContext{
		UserAgent: strings.TrimSpace(r.UserAgent()),
		IP:        clientIP(r, h.cfg.TrustProxy),
	}
}
