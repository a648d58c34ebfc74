package password

import (
	"strings"
	"testing"
)

// testConfig keeps argon2 cheap so the suite stays fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func mustHasher(t testing.TB, pepper string) *Hasher {
	t.Helper()
	h, err := NewHasher(testConfig(), []byte(pepper))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func TestHashAndVerify_OK(t *testing.T) {
	h := mustHasher(t, "pepper-1")

	enc, err := h.Hash("this is a strong password 123!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(enc, "$argon2id$v=19$") {
		t.Fatalf("unexpected encoding: %q", enc)
	}
	if !h.Verify("this is a strong password 123!", enc) {
		t.Fatalf("expected match")
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	h := mustHasher(t, "pepper-1")

	enc, err := h.Hash("this is a strong password 123!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if h.Verify("wrong password", enc) {
		t.Fatalf("expected mismatch")
	}
}

func TestVerify_PepperMatters(t *testing.T) {
	a := mustHasher(t, "pepper-a")
	b := mustHasher(t, "pepper-b")

	enc, err := a.Hash("this is a strong password 123!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if b.Verify("this is a strong password 123!", enc) {
		t.Fatalf("hash must not verify under a different pepper")
	}
}

func TestVerify_MalformedHashIsFalse(t *testing.T) {
	h := mustHasher(t, "pepper-1")

	cases := []string{
		"",
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaGhhc2hoYXNoaGFzaA",
		// Memory far above configured bounds.
		"$argon2id$v=19$m=1048576,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2hoYXNoaGFzaA",
	}
	for _, enc := range cases {
		if h.Verify("whatever", enc) {
			t.Fatalf("malformed hash %q must verify false", enc)
		}
	}
}

func TestNewHasher_RequiresPepper(t *testing.T) {
	if _, err := NewHasher(testConfig(), nil); err != ErrPepperMissing {
		t.Fatalf("expected ErrPepperMissing, got %v", err)
	}
}

func TestValidate_MinMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 12
	cfg.Policy.MaxLength = 16

	if err := cfg.Validate("short"); err != ErrPasswordTooShort {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := cfg.Validate("this password is definitely too long"); err != ErrPasswordTooLong {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	if err := cfg.Validate("goodpassw0rd!"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestPolicy_RejectVeryWeak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.RejectVeryWeak = true
	cfg.Policy.MinLength = 8

	for _, pw := range []string{"password", "11111111", "aaaaaaaaaa", "1234567890", "QWERTY123"} {
		if err := cfg.Validate(pw); err != ErrWeakPassword {
			t.Fatalf("Validate(%q): expected ErrWeakPassword, got %v", pw, err)
		}
	}
	if err := cfg.Validate("a-very-ok-pass"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if !IsPolicyViolation(cfg.Validate("password")) {
		t.Fatalf("expected policy violation")
	}
}
