package authapi

import (
	"net"
	"net/http"
	"strings"

	"deepguard/cmd/identity"
)

func toUserResponse(u identity.User) userResponse {
	resp := userResponse{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
	}
	if u.ProfilePicture != nil {
		resp.ProfilePicture = *u.ProfilePicture
	}
	return resp
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
