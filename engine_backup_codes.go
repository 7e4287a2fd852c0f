package gatekit

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strconv"

	"github.com/nocturnesec/gatekit/internal"
)

const (
	backupCodeCount   = 10
	backupCodeRawSize = 5
)

var backupCodeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateBackupCodes mints a fresh set of single-use recovery codes for a
// user with MFA enabled, replacing any previous set. The clear codes are
// returned exactly once; only their hashes are handed to the provider.
func (e *Engine) GenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	if e == nil || e.userProvider == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.userProvider.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	if user == nil {
		return nil, ErrPermissionDenied
	}
	if !user.MFATOTPEnabled {
		return nil, ErrMFANotEnabled
	}

	codes := make([]string, backupCodeCount)
	hashes := make([]string, backupCodeCount)
	for i := range codes {
		code, err := newBackupCode()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
		codes[i] = code
		hashes[i] = internal.HashCode(code)
	}

	if err := e.userProvider.StoreBackupCodes(ctx, userID, hashes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}

	e.Push(ctx, AuditEntry{
		Type:   "backup_codes_generated",
		UserID: userID,
		Payload: map[string]string{
			"count": strconv.Itoa(backupCodeCount),
		},
	})
	return codes, nil
}

// newBackupCode returns an 8-character base32 code, 40 bits of entropy.
func newBackupCode() (string, error) {
	var raw [backupCodeRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return backupCodeEncoding.EncodeToString(raw[:]), nil
}
