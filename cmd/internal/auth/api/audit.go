package authapi

import (
	"context"
	"encoding/json"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
)

func (h *Handler) auditLoginFailed(ctx context.Context, userID *string, ip net.IP, ua string, email string) {
	h.insertAudit(ctx, "auth.login.failed", userID, nil, ip, ua, map[string]any{
		"email": email,
	})
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID string, sessionID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.login.success", &userID, &sessionID, ip, ua, nil)
}

func (h *Handler) auditGoogleLogin(ctx context.Context, userID string, sessionID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.google.success", &userID, &sessionID, ip, ua, nil)
}

func (h *Handler) auditSignup(ctx context.Context, userID string, sessionID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.signup", &userID, &sessionID, ip, ua, nil)
}

func (h *Handler) auditRotation(ctx context.Context, userID string, sessionID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.refresh.rotated", &userID, &sessionID, ip, ua, nil)
}

func (h *Handler) auditRotationConflict(ctx context.Context, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.refresh.conflict", nil, nil, ip, ua, nil)
}

func (h *Handler) auditLogout(ctx context.Context, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.logout", nil, nil, ip, ua, nil)
}

func (h *Handler) auditLogoutAll(ctx context.Context, userID string, revoked int64, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.logout_all", &userID, nil, ip, ua, map[string]any{
		"sessions_revoked": revoked,
	})
}

func (h *Handler) auditOTPSent(ctx context.Context, purpose string, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.otp.sent", nil, nil, ip, ua, map[string]any{
		"purpose": purpose,
	})
}

// insertAudit is best-effort: a failed insert is logged and never blocks
// the request path.
func (h *Handler) insertAudit(ctx context.Context, action string, userID *string, sessionID *string, ip net.IP, ua string, meta map[string]any) {
	if h == nil || h.pool == nil {
		return
	}

	action = strings.TrimSpace(action)
	if action == "" {
		return
	}

	var ipVal any
	if ip != nil {
		ipVal = ip.String()
	}

	var metaVal *string
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	table := pgx.Identifier{h.schema, "audit_log"}.Sanitize()
	_, err := h.pool.Exec(ctx, `
		INSERT INTO `+table+` (
			user_id, session_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, now(), $4, $5, $6::jsonb)
	`, userID, sessionID, action, ipVal, trimOrNil(ua), metaVal)
	if err != nil {
		h.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
