package token

import (
	"strings"
	"testing"
)

func TestHashRefreshTokenHex_SHA256Fallback(t *testing.T) {
	t.Setenv(HMACEnvKey, "")

	got := HashRefreshTokenHex("refresh-token-abc")
	if len(got) != HexDigestLen {
		t.Fatalf("digest length = %d, want %d", len(got), HexDigestLen)
	}
	if got != HashSHA256Hex("refresh-token-abc") {
		t.Fatalf("expected SHA-256 fallback without HMAC key")
	}
}

func TestHashRefreshTokenHex_HMACMode(t *testing.T) {
	t.Setenv(HMACEnvKey, strings.Repeat("k", 32))

	got := HashRefreshTokenHex("refresh-token-abc")
	if got == HashSHA256Hex("refresh-token-abc") {
		t.Fatalf("expected HMAC digest, got plain SHA-256")
	}
	if len(got) != HexDigestLen {
		t.Fatalf("digest length = %d, want %d", len(got), HexDigestLen)
	}
}

func TestHMACKeyFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := HMACKeyFromEnv(32); err != ErrHMACKeyMissing {
		t.Fatalf("err = %v, want ErrHMACKeyMissing", err)
	}

	t.Setenv(HMACEnvKey, "short")
	if _, err := HMACKeyFromEnv(32); err != ErrHMACKeyTooShort {
		t.Fatalf("err = %v, want ErrHMACKeyTooShort", err)
	}

	t.Setenv(HMACEnvKey, strings.Repeat("k", 32))
	key, err := HMACKeyFromEnv(32)
	if err != nil || len(key) != 32 {
		t.Fatalf("key=%q err=%v", key, err)
	}
}

func TestEqualHex(t *testing.T) {
	a := HashSHA256Hex("a")
	b := HashSHA256Hex("b")

	if !EqualHex(a, a) {
		t.Fatalf("expected equal digests to match")
	}
	if EqualHex(a, b) {
		t.Fatalf("expected different digests to mismatch")
	}
	if EqualHex("deadbeef", "deadbeef") {
		t.Fatalf("expected short inputs to be rejected")
	}
}
