// Package main provides a CI-friendly HTTP smoke test for the deepguard
// auth service.
//
// It validates:
//   - /healthz and /readyz
//   - login -> session cookies set
//   - /me with the access cookie
//   - silent rotation when only the refresh cookie is presented
//   - single-use refresh: the superseded token is rejected
//   - logout -> cookies cleared, /me returns 401
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	accessCookie  = "accessToken"
	refreshCookie = "refreshToken"
	maxBodyBytes  = 1 << 20 // 1MiB
)

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "Service base URL")
		email    = flag.String("email", "", "Account email (required)")
		password = flag.String("password", "", "Account password (required)")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if strings.TrimSpace(*email) == "" || strings.TrimSpace(*password) == "" {
		fatalf("-email and -password are required")
	}

	root := context.Background()
	base := strings.TrimRight(*baseURL, "/")

	mustGetOK(root, base+"/healthz", *timeout)
	mustGetOK(root, base+"/readyz", *timeout)
	if *verbose {
		fmt.Println("health: ok")
	}

	access, refresh, userID := mustLogin(root, base, *email, *password, *timeout)
	if *verbose {
		fmt.Printf("login: user_id=%s\n", userID)
	}

	mustMe(root, base, []*http.Cookie{access, refresh}, userID, false, *timeout)

	// Refresh-only request: the access cookie is withheld, so the server
	// must verify the refresh token and install a rotated pair.
	access2, refresh2 := mustMeRotates(root, base, refresh, userID, *timeout)
	if refresh2.Value == refresh.Value {
		fatalf("rotation returned the same refresh token")
	}

	// The superseded refresh token is single-use.
	mustMeRejected(root, base, []*http.Cookie{refresh}, http.StatusUnauthorized, *timeout)
	if *verbose {
		fmt.Println("rotation: superseded token rejected")
	}

	mustMe(root, base, []*http.Cookie{access2, refresh2}, userID, false, *timeout)

	mustLogout(root, base, []*http.Cookie{access2, refresh2}, *timeout)
	mustMeRejected(root, base, []*http.Cookie{access2, refresh2}, http.StatusUnauthorized, *timeout)

	fmt.Printf("OK: user_id=%s url=%s\n", userID, base)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustGetOK(parent context.Context, rawURL string, stepTimeout time.Duration) {
	resp, body := mustDo(parent, http.MethodGet, rawURL, nil, nil, stepTimeout)
	if resp.StatusCode != http.StatusOK {
		fatalf("GET %s: status=%d body=%q", rawURL, resp.StatusCode, body)
	}
}

func mustLogin(parent context.Context, base, email, password string, stepTimeout time.Duration) (access, refresh *http.Cookie, userID string) {
	payload := map[string]string{"email": email, "password": password}
	resp, body := mustDo(parent, http.MethodPost, base+"/login", payload, nil, stepTimeout)
	if resp.StatusCode != http.StatusOK {
		fatalf("login: status=%d body=%q", resp.StatusCode, body)
	}

	var envelope struct {
		User struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		fatalf("login: unmarshal body: %v", err)
	}
	if strings.TrimSpace(envelope.User.ID) == "" {
		fatalf("login: response missing user.id")
	}
	if !strings.EqualFold(envelope.User.Email, strings.TrimSpace(email)) {
		fatalf("login: email mismatch: got=%q want=%q", envelope.User.Email, email)
	}

	access = cookieByName(resp, accessCookie)
	refresh = cookieByName(resp, refreshCookie)
	if access == nil || refresh == nil {
		fatalf("login: session cookies not set")
	}
	assertCookieHardened(access)
	assertCookieHardened(refresh)

	return access, refresh, envelope.User.ID
}

func mustMe(parent context.Context, base string, cookies []*http.Cookie, wantUserID string, wantRotation bool, stepTimeout time.Duration) {
	resp, body := mustDo(parent, http.MethodGet, base+"/me", nil, cookies, stepTimeout)
	if resp.StatusCode != http.StatusOK {
		fatalf("me: status=%d body=%q", resp.StatusCode, body)
	}

	var envelope struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		fatalf("me: unmarshal body: %v", err)
	}
	if envelope.User.ID != wantUserID {
		fatalf("me: user_id mismatch: got=%q want=%q", envelope.User.ID, wantUserID)
	}

	rotated := cookieByName(resp, refreshCookie) != nil
	if rotated != wantRotation {
		fatalf("me: rotation=%v want=%v", rotated, wantRotation)
	}
}

func mustMeRotates(parent context.Context, base string, refresh *http.Cookie, wantUserID string, stepTimeout time.Duration) (newAccess, newRefresh *http.Cookie) {
	resp, body := mustDo(parent, http.MethodGet, base+"/me", nil, []*http.Cookie{refresh}, stepTimeout)
	if resp.StatusCode != http.StatusOK {
		fatalf("me (refresh-only): status=%d body=%q", resp.StatusCode, body)
	}

	var envelope struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		fatalf("me (refresh-only): unmarshal body: %v", err)
	}
	if envelope.User.ID != wantUserID {
		fatalf("me (refresh-only): user_id mismatch: got=%q want=%q", envelope.User.ID, wantUserID)
	}

	newAccess = cookieByName(resp, accessCookie)
	newRefresh = cookieByName(resp, refreshCookie)
	if newAccess == nil || newRefresh == nil {
		fatalf("me (refresh-only): rotated cookies not set")
	}
	return newAccess, newRefresh
}

func mustMeRejected(parent context.Context, base string, cookies []*http.Cookie, wantStatus int, stepTimeout time.Duration) {
	resp, body := mustDo(parent, http.MethodGet, base+"/me", nil, cookies, stepTimeout)
	if resp.StatusCode != wantStatus {
		fatalf("me (expect %d): status=%d body=%q", wantStatus, resp.StatusCode, body)
	}
}

func mustLogout(parent context.Context, base string, cookies []*http.Cookie, stepTimeout time.Duration) {
	resp, body := mustDo(parent, http.MethodPost, base+"/logout", nil, cookies, stepTimeout)
	if resp.StatusCode != http.StatusOK {
		fatalf("logout: status=%d body=%q", resp.StatusCode, body)
	}

	for _, name := range []string{accessCookie, refreshCookie} {
		c := cookieByName(resp, name)
		if c == nil {
			fatalf("logout: %s not cleared", name)
		}
		if c.MaxAge >= 0 && c.Value != "" {
			fatalf("logout: %s still carries a value", name)
		}
	}
}

func mustDo(parent context.Context, method, rawURL string, payload any, cookies []*http.Cookie, stepTimeout time.Duration) (*http.Response, []byte) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			fatalf("marshal request body: %v", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		fatalf("build request %s %s: %v", method, rawURL, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		fatalf("read body %s %s: %v", method, rawURL, err)
	}
	return resp, data
}

func cookieByName(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func assertCookieHardened(c *http.Cookie) {
	if !c.HttpOnly {
		fatalf("cookie %s is not HttpOnly", c.Name)
	}
	if c.SameSite != http.SameSiteStrictMode {
		fatalf("cookie %s is not SameSite=Strict", c.Name)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
