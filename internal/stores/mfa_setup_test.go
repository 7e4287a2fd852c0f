package stores

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestMFASetupStore(t *testing.T) *MFASetupStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewMFASetupStore(rdb, "test:mst")
}

func TestMFASetupRoundTrip(t *testing.T) {
	store := newTestMFASetupStore(t)
	record := &MFASetup{
		UserID:     "user-1",
		TenantID:   "tenant-1",
		SessionID:  "session-1",
		TOTPSecret: []byte("JBSWY3DPEHPK3PXP"),
		ExpiresAt:  time.Now().Add(10 * time.Minute).Unix(),
	}

	if err := store.Save(context.Background(), "setup-1", record, 10*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(context.Background(), "setup-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UserID != record.UserID || got.SessionID != record.SessionID {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !bytes.Equal(got.TOTPSecret, record.TOTPSecret) {
		t.Fatalf("secret mismatch: %q", got.TOTPSecret)
	}
}

func TestMFASetupGetMissing(t *testing.T) {
	store := newTestMFASetupStore(t)

	if _, err := store.Get(context.Background(), "absent"); !errors.Is(err, ErrMFASetupNotFound) {
		t.Fatalf("expected ErrMFASetupNotFound, got %v", err)
	}
}

func TestMFASetupExpired(t *testing.T) {
	store := newTestMFASetupStore(t)
	record := &MFASetup{
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(-time.Second).Unix(),
	}
	if err := store.Save(context.Background(), "setup-1", record, time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Get(context.Background(), "setup-1"); !errors.Is(err, ErrMFASetupExpired) {
		t.Fatalf("expected ErrMFASetupExpired, got %v", err)
	}
}

func TestMFASetupConsumeFirstWins(t *testing.T) {
	store := newTestMFASetupStore(t)
	record := &MFASetup{
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(10 * time.Minute).Unix(),
	}
	if err := store.Save(context.Background(), "setup-1", record, 10*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	consumed, err := store.Consume(context.Background(), "setup-1")
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if !consumed {
		t.Fatal("expected the first consume to win")
	}

	consumed, err = store.Consume(context.Background(), "setup-1")
	if err != nil {
		t.Fatalf("second Consume failed: %v", err)
	}
	if consumed {
		t.Fatal("expected the second consume to report no record")
	}
}
