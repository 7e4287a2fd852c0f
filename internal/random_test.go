package internal

import "testing"

func TestNewTokenUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		token, err := NewToken()
		if err != nil {
			t.Fatalf("NewToken failed: %v", err)
		}
		if token == "" || seen[token] {
			t.Fatalf("token %q repeated or empty", token)
		}
		seen[token] = true
	}
}

func TestNewOTPDigits(t *testing.T) {
	for _, digits := range []int{6, 8, 10} {
		code, err := NewOTP(digits)
		if err != nil {
			t.Fatalf("NewOTP(%d) failed: %v", digits, err)
		}
		if len(code) != digits {
			t.Fatalf("NewOTP(%d) returned %q", digits, code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("NewOTP(%d) returned non-digit %q", digits, code)
			}
		}
	}

	for _, digits := range []int{0, 5, 11} {
		if _, err := NewOTP(digits); err == nil {
			t.Fatalf("NewOTP(%d) should fail", digits)
		}
	}
}

func TestHashCodeDeterministic(t *testing.T) {
	if HashCode("123456") != HashCode("123456") {
		t.Fatal("expected stable hashes")
	}
	if HashCode("123456") == HashCode("654321") {
		t.Fatal("expected distinct hashes for distinct codes")
	}
}

func TestDeviceFingerprintInputs(t *testing.T) {
	a := DeviceFingerprint("user-1", "agent-a")
	if a != DeviceFingerprint("user-1", "agent-a") {
		t.Fatal("expected a stable fingerprint")
	}
	if a == DeviceFingerprint("user-2", "agent-a") {
		t.Fatal("expected the user id to contribute")
	}
	if a == DeviceFingerprint("user-1", "agent-b") {
		t.Fatal("expected the user agent to contribute")
	}
}
