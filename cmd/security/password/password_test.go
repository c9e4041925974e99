package password

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func testConfig() Config {
	cfg := DefaultConfig()
	// MinCost keeps tests fast; correctness does not depend on cost.
	cfg.Cost = bcrypt.MinCost
	return cfg
}

func TestHashAndVerify(t *testing.T) {
	cfg := testConfig()

	enc, err := cfg.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	ok, err := cfg.Verify(enc, "correct horse battery")
	if err != nil || !ok {
		t.Fatalf("Verify(match) = (%v, %v), want (true, nil)", ok, err)
	}

	ok, err = cfg.Verify(enc, "wrong password")
	if err != nil || ok {
		t.Fatalf("Verify(mismatch) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestHashPolicyBounds(t *testing.T) {
	cfg := testConfig()

	if _, err := cfg.Hash("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("err = %v, want ErrPasswordTooShort", err)
	}

	long := make([]byte, 80)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := cfg.Hash(string(long)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("err = %v, want ErrPasswordTooLong", err)
	}
}

func TestVerifyRejectsGarbageHash(t *testing.T) {
	cfg := testConfig()

	if _, err := cfg.Verify("not-a-bcrypt-hash", "whatever"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("err = %v, want ErrInvalidHash", err)
	}
}

func TestHashCode(t *testing.T) {
	cfg := testConfig()

	enc, err := cfg.HashCode("482913")
	if err != nil {
		t.Fatalf("HashCode: %v", err)
	}

	ok, err := cfg.Verify(enc, "482913")
	if err != nil || !ok {
		t.Fatalf("Verify(code) = (%v, %v), want (true, nil)", ok, err)
	}
	ok, _ = cfg.Verify(enc, "000000")
	if ok {
		t.Fatalf("expected wrong code to mismatch")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("DEEPGUARD_PASSWORD_MIN_LEN", "10")
	t.Setenv("DEEPGUARD_BCRYPT_COST", "4")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Policy.MinLength != 10 || cfg.Cost != 4 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	t.Setenv("DEEPGUARD_BCRYPT_COST", "99")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for out-of-range cost")
	}
}
