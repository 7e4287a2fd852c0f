package password

import (
	"strings"
	"testing"
)

// fastParams keeps tests quick while staying above the hasher minimums.
func fastParams() Params {
	return Params{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
}

func TestHashVerifyRoundTrip(t *testing.T) {
	h, err := NewHasher(fastParams())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}

	encoded, err := h.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("unexpected PHC prefix: %q", encoded)
	}

	ok, err := h.Verify("correct-horse", encoded)
	if err != nil || !ok {
		t.Fatalf("Verify: ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("wrong-horse", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Fatal("expected the wrong password rejected")
	}
}

func TestHashesAreSalted(t *testing.T) {
	h, err := NewHasher(fastParams())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}

	first, err := h.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	second, err := h.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct salts to produce distinct hashes")
	}
}

func TestHashRejectsShortPassword(t *testing.T) {
	h, err := NewHasher(fastParams())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	if _, err := h.Hash("short"); err == nil {
		t.Fatal("expected an error for a short password")
	}
}

func TestNewHasherEnforcesMinimums(t *testing.T) {
	cases := []Params{
		{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16},
		{Memory: 8 * 1024, Time: 0, Parallelism: 1, SaltLength: 16, KeyLength: 16},
		{Memory: 8 * 1024, Time: 1, Parallelism: 0, SaltLength: 16, KeyLength: 16},
		{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16},
		{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 8},
	}
	for i, params := range cases {
		if _, err := NewHasher(params); err == nil {
			t.Errorf("case %d: expected an error for %+v", i, params)
		}
	}
}

func TestVerifyRejectsMalformedHashes(t *testing.T) {
	h, err := NewHasher(fastParams())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	for _, encoded := range []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaGhhc2hoYXNoaGFzaA",
	} {
		if _, err := h.Verify("correct-horse", encoded); err == nil {
			t.Errorf("expected an error for %q", encoded)
		}
	}
}

func TestNeedsUpgrade(t *testing.T) {
	weak, err := NewHasher(fastParams())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	encoded, err := weak.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	same, err := weak.NeedsUpgrade(encoded)
	if err != nil || same {
		t.Fatalf("expected no upgrade under the same params: needs=%v err=%v", same, err)
	}

	strongParams := fastParams()
	strongParams.Memory = 64 * 1024
	strong, err := NewHasher(strongParams)
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	needs, err := strong.NeedsUpgrade(encoded)
	if err != nil || !needs {
		t.Fatalf("expected an upgrade under stronger params: needs=%v err=%v", needs, err)
	}

	// Old weak hashes still verify before the re-hash happens.
	ok, err := strong.Verify("correct-horse", encoded)
	if err != nil || !ok {
		t.Fatalf("Verify with new params: ok=%v err=%v", ok, err)
	}
}
