package gatekit

import (
	"context"
	"errors"
	"fmt"

	"github.com/nocturnesec/gatekit/internal"
	"github.com/nocturnesec/gatekit/internal/stores"
)

// CompleteChallenge verifies the second factor of a pending login. The
// submitted method must match the transaction's current state; submitting a
// different method costs no attempt and fails with
// [ErrChallengeMethodMismatch]. Wrong codes burn one attempt each; spending
// the budget invalidates the transaction. A verified code consumes the
// transaction and mints the session.
func (e *Engine) CompleteChallenge(ctx context.Context, authTxID string, method ChallengeMethod, code string) (*LoginResult, error) {
	if e == nil || e.authTxStore == nil {
		return nil, ErrEngineNotReady
	}
	if authTxID == "" || code == "" {
		return nil, ErrInvalidCode
	}

	tx, err := e.loadTx(ctx, authTxID)
	if err != nil {
		return nil, err
	}

	if methodForState(tx.State) != method {
		return nil, ErrChallengeMethodMismatch
	}

	var verified bool
	switch method {
	case MethodTOTP:
		secret, err := e.userProvider.GetTOTPSecret(ctx, tx.UserID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
		}
		if len(secret) == 0 {
			return nil, ErrMFAUnavailable
		}
		verified = e.totp.Verify(secret, code)

	case MethodDeviceOTP:
		userID, err := e.otpStore.Verify(ctx, string(PurposeDeviceVerify), tx.DeviceOTPToken, internal.HashCode(code), e.config.OTP.MaxAttempts)
		switch {
		case err == nil:
			if userID != tx.UserID {
				return nil, ErrSessionExpired
			}
			verified = true
		case errors.Is(err, stores.ErrOTPInvalid):
		case errors.Is(err, stores.ErrOTPExceeded),
			errors.Is(err, stores.ErrOTPNotFound),
			errors.Is(err, stores.ErrOTPExpired):
			// The delivered code is gone; the transaction cannot
			// succeed anymore.
			if _, delErr := e.authTxStore.Delete(ctx, authTxID); delErr != nil {
				e.warn("stale login transaction %s not removed: %v", authTxID, delErr)
			}
			e.metricInc(MetricChallengeExceeded)
			return nil, ErrChallengeAttemptsExceeded
		default:
			return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}

	case MethodBackupCode:
		err := e.userProvider.ConsumeBackupCode(ctx, tx.UserID, code)
		switch {
		case err == nil:
			verified = true
		case errors.Is(err, ErrBackupCodeInvalid):
		case errors.Is(err, ErrBackupCodesNotConfigured):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
		}

	default:
		return nil, ErrChallengeMethodMismatch
	}

	if !verified {
		return nil, e.failChallengeAttempt(ctx, authTxID, tx, method)
	}

	deleted, err := e.authTxStore.Delete(ctx, authTxID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if !deleted {
		// A concurrent submission already consumed the transaction.
		return nil, ErrSessionExpired
	}

	user, err := e.userProvider.GetUserByID(ctx, tx.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	switch user.Status {
	case AccountActive:
	case AccountLocked:
		return nil, ErrAccountLocked
	default:
		return nil, ErrAccountDisabled
	}

	switch method {
	case MethodTOTP:
		e.event(ctx, user.UserID, EventMFAVerified, nil)
	case MethodDeviceOTP:
		e.event(ctx, user.UserID, EventDeviceVerified, nil)
	case MethodBackupCode:
		e.event(ctx, user.UserID, EventBackupCodeUsed, nil)
		e.metricInc(MetricBackupCodeUsed)
	}
	e.metricInc(MetricChallengeSuccess)

	fingerprint := internal.DeviceFingerprint(user.UserID, userAgentFromContext(ctx))
	return e.completeLogin(ctx, user, completionOptions{
		RememberDevice: tx.RememberDevice,
		// A device-verify code proves the device; it joins the known
		// set regardless of the remember flag.
		TrustDevice: tx.RememberDevice || method == MethodDeviceOTP,
		Fingerprint: fingerprint,
	})
}

// SwitchChallengeMethod moves a pending transaction to another of its
// available methods. The attempt budget and the expiry carry over; switching
// is never a way to buy more tries or more time.
func (e *Engine) SwitchChallengeMethod(ctx context.Context, authTxID string, method ChallengeMethod) (*Challenge, error) {
	if e == nil || e.authTxStore == nil {
		return nil, ErrEngineNotReady
	}

	tx, err := e.loadTx(ctx, authTxID)
	if err != nil {
		return nil, err
	}

	bit, ok := methodBit(method)
	if !ok || tx.Methods&bit == 0 {
		return nil, ErrChallengeUnavailable
	}

	target := stateForMethod(method)
	if tx.State != target {
		if err := e.authTxStore.SetState(ctx, authTxID, target); err != nil {
			switch {
			case errors.Is(err, stores.ErrAuthTxNotFound), errors.Is(err, stores.ErrAuthTxExpired):
				return nil, ErrSessionExpired
			default:
				return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
			}
		}
		e.Push(ctx, AuditEntry{
			Type:   "login_challenge_switched",
			UserID: tx.UserID,
			Payload: map[string]string{
				"method": string(method),
			},
		})
	}

	return &Challenge{
		Type:             method,
		AvailableMethods: availableMethods(tx.Methods),
	}, nil
}

// loadTx fetches the pending transaction, mapping the absence and expiry
// cases to the one error the caller may see.
func (e *Engine) loadTx(ctx context.Context, authTxID string) (*stores.AuthTx, error) {
	tx, err := e.authTxStore.Get(ctx, authTxID)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrAuthTxNotFound), errors.Is(err, stores.ErrAuthTxExpired):
			return nil, ErrSessionExpired
		default:
			return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
	}
	return tx, nil
}

// failChallengeAttempt burns one attempt and reports the outcome. The store
// invalidates the transaction when the budget is spent, so a following
// submission sees an expired session rather than a fresh budget.
func (e *Engine) failChallengeAttempt(ctx context.Context, authTxID string, tx *stores.AuthTx, method ChallengeMethod) error {
	exceeded, err := e.authTxStore.RecordFailure(ctx, authTxID, e.config.Login.MaxChallengeAttempts)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrAuthTxNotFound), errors.Is(err, stores.ErrAuthTxExpired):
			return ErrSessionExpired
		default:
			return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
	}

	switch method {
	case MethodDeviceOTP:
		e.event(ctx, tx.UserID, EventOTPInvalid, nil)
	default:
		e.event(ctx, tx.UserID, EventMFAFailed, map[string]string{"method": string(method)})
	}

	if exceeded {
		e.metricInc(MetricChallengeExceeded)
		e.Push(ctx, AuditEntry{
			Type:   "login_challenge_exceeded",
			Level:  SeverityHigh,
			UserID: tx.UserID,
		})
		return ErrChallengeAttemptsExceeded
	}

	e.metricInc(MetricChallengeFailure)
	if method == MethodDeviceOTP {
		return ErrInvalidOTP
	}
	return ErrInvalidCode
}

func methodForState(state stores.State) ChallengeMethod {
	switch state {
	case stores.StateMFARequired:
		return MethodTOTP
	case stores.StateDeviceVerify:
		return MethodDeviceOTP
	case stores.StateBackupCode:
		return MethodBackupCode
	default:
		return ""
	}
}

func stateForMethod(method ChallengeMethod) stores.State {
	switch method {
	case MethodTOTP:
		return stores.StateMFARequired
	case MethodDeviceOTP:
		return stores.StateDeviceVerify
	default:
		return stores.StateBackupCode
	}
}

func methodBit(method ChallengeMethod) (stores.Method, bool) {
	switch method {
	case MethodTOTP:
		return stores.MethodTOTP, true
	case MethodDeviceOTP:
		return stores.MethodDeviceOTP, true
	case MethodBackupCode:
		return stores.MethodBackupCode, true
	default:
		return 0, false
	}
}

func availableMethods(methods stores.Method) []ChallengeMethod {
	out := make([]ChallengeMethod, 0, 3)
	if methods&stores.MethodTOTP != 0 {
		out = append(out, MethodTOTP)
	}
	if methods&stores.MethodDeviceOTP != 0 {
		out = append(out, MethodDeviceOTP)
	}
	if methods&stores.MethodBackupCode != 0 {
		out = append(out, MethodBackupCode)
	}
	return out
}
