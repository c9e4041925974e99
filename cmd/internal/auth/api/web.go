package authapi

import (
	"net/http"
	"strings"
	"time"

	"deepguard/cmd/internal/auth/session"
)

// setSessionCookies installs both token cookies. SameSite=Strict on an
// HttpOnly cookie is the CSRF posture for this API; there is no separate
// CSRF token.
func (h *Handler) setSessionCookies(w http.ResponseWriter, now time.Time, issued session.Issued) {
	h.setCookie(w, accessCookieName, issued.AccessToken, now, issued.AccessExp)
	h.setCookie(w, refreshCookieName, issued.RefreshToken, now, issued.RefreshExp)
}

// clearSessionCookies expires both token cookies. Called on logout and
// whenever the server tells the client its session is dead, so clients do
// not retry with a credential that can never succeed again.
func (h *Handler) clearSessionCookies(w http.ResponseWriter) {
	h.expireCookie(w, accessCookieName)
	h.expireCookie(w, refreshCookieName)
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, now, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		MaxAge:   int(exp.Sub(now) / time.Second),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) expireCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// accessTokenFromRequest prefers the cookie and falls back to a bearer
// header for cookie-less deployments.
func accessTokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(accessCookieName); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v
		}
	}
	return bearerToken(r)
}

// refreshTokenFromRequest prefers the cookie and falls back to a token the
// handler already decoded from the body.
func refreshTokenFromRequest(r *http.Request, bodyToken string) string {
	if c, err := r.Cookie(refreshCookieName); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v
		}
	}
	return strings.TrimSpace(bodyToken)
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
