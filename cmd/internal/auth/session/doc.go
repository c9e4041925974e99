// Package session implements Deep Guard's session architecture.
//
// A session is one refresh credential per device. Access and refresh tokens
// are both HS256 JWTs signed with independent secrets; the refresh token is
// additionally anchored to a server-side session row, stored hashed
// (HMAC-SHA256 when DEEPGUARD_TOKEN_HMAC_KEY is set; otherwise SHA-256).
//
// Refresh rotation happens in place: the session row keeps its identity and
// only its hash and expiry move forward, atomically, so a concurrent rotation
// with the same token has exactly one winner.
//
// Transport (HTTP cookies, headers) integration is intentionally out of
// scope here.
package session
