package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nocturnesec/gatekit/internal"
)

func newTestOTPStore(t *testing.T) *OTPStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewOTPStore(rdb, "test:otp")
}

func saveOTP(t *testing.T, store *OTPStore, purpose, token, code string) {
	t.Helper()
	record := &OTPRecord{
		UserID:      "user-1",
		Destination: "alice@example.com",
		CodeHash:    internal.HashCode(code),
		ExpiresAt:   time.Now().Add(10 * time.Minute).Unix(),
	}
	if err := store.Save(context.Background(), purpose, token, record, 10*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

func TestOTPVerifySingleUse(t *testing.T) {
	store := newTestOTPStore(t)
	saveOTP(t, store, "device_verify", "tok-1", "123456")

	userID, err := store.Verify(context.Background(), "device_verify", "tok-1", internal.HashCode("123456"), 5)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("expected the bound user, got %q", userID)
	}

	// The match consumed the record.
	if _, err := store.Verify(context.Background(), "device_verify", "tok-1", internal.HashCode("123456"), 5); !errors.Is(err, ErrOTPNotFound) {
		t.Fatalf("expected ErrOTPNotFound on reuse, got %v", err)
	}
}

func TestOTPVerifyPurposeBound(t *testing.T) {
	store := newTestOTPStore(t)
	saveOTP(t, store, "device_verify", "tok-1", "123456")

	if _, err := store.Verify(context.Background(), "reset_mfa", "tok-1", internal.HashCode("123456"), 5); !errors.Is(err, ErrOTPNotFound) {
		t.Fatalf("expected ErrOTPNotFound under another purpose, got %v", err)
	}
}

func TestOTPVerifyWrongCodeBurnsAttempt(t *testing.T) {
	store := newTestOTPStore(t)
	saveOTP(t, store, "device_verify", "tok-1", "123456")

	if _, err := store.Verify(context.Background(), "device_verify", "tok-1", internal.HashCode("000000"), 3); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("expected ErrOTPInvalid, got %v", err)
	}

	// The right code still works inside the budget.
	if _, err := store.Verify(context.Background(), "device_verify", "tok-1", internal.HashCode("123456"), 3); err != nil {
		t.Fatalf("Verify failed after one miss: %v", err)
	}
}

func TestOTPVerifyExceededDeletes(t *testing.T) {
	store := newTestOTPStore(t)
	saveOTP(t, store, "device_verify", "tok-1", "123456")

	if _, err := store.Verify(context.Background(), "device_verify", "tok-1", internal.HashCode("000000"), 2); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("expected ErrOTPInvalid, got %v", err)
	}
	if _, err := store.Verify(context.Background(), "device_verify", "tok-1", internal.HashCode("000000"), 2); !errors.Is(err, ErrOTPExceeded) {
		t.Fatalf("expected ErrOTPExceeded, got %v", err)
	}
	// Exceeding deletes the record, so even the right code is gone.
	if _, err := store.Verify(context.Background(), "device_verify", "tok-1", internal.HashCode("123456"), 2); !errors.Is(err, ErrOTPNotFound) {
		t.Fatalf("expected ErrOTPNotFound after exceeding, got %v", err)
	}
}

func TestOTPVerifyExpired(t *testing.T) {
	store := newTestOTPStore(t)
	record := &OTPRecord{
		UserID:    "user-1",
		CodeHash:  internal.HashCode("123456"),
		ExpiresAt: time.Now().Add(-time.Second).Unix(),
	}
	if err := store.Save(context.Background(), "device_verify", "tok-1", record, time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Verify(context.Background(), "device_verify", "tok-1", internal.HashCode("123456"), 5); !errors.Is(err, ErrOTPExpired) {
		t.Fatalf("expected ErrOTPExpired, got %v", err)
	}
}

func TestOTPDelete(t *testing.T) {
	store := newTestOTPStore(t)
	saveOTP(t, store, "device_verify", "tok-1", "123456")

	deleted, err := store.Delete(context.Background(), "device_verify", "tok-1")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !deleted {
		t.Fatal("expected the delete to report the key")
	}
	if _, err := store.Verify(context.Background(), "device_verify", "tok-1", internal.HashCode("123456"), 5); !errors.Is(err, ErrOTPNotFound) {
		t.Fatalf("expected ErrOTPNotFound after delete, got %v", err)
	}
}
