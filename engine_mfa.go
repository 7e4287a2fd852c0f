package gatekit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nocturnesec/gatekit/internal"
	"github.com/nocturnesec/gatekit/internal/stores"
)

// RouteOTP is the route name out-of-band code issuance counts against.
const RouteOTP = "auth:otp"

// SetupMFARequest starts authenticator enrollment for a signed-in user. The
// generated secret is held server-side under a short TTL and only committed
// to the account once [Engine.SetupMFA] proves the authenticator.
func (e *Engine) SetupMFARequest(ctx context.Context, userID string) (*TOTPSetup, error) {
	if e == nil || e.mfaSetupStore == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.MFA.Enabled {
		return nil, ErrMFAUnavailable
	}

	user, err := e.userProvider.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	if user == nil {
		return nil, ErrPermissionDenied
	}
	if user.MFATOTPEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	key, err := e.totp.GenerateSecret(user.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	}

	setupToken, err := internal.NewToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	record := &stores.MFASetup{
		UserID:     user.UserID,
		TenantID:   user.TenantID,
		SessionID:  sessionIDFromContext(ctx),
		TOTPSecret: []byte(key.Secret()),
		ExpiresAt:  time.Now().Add(e.config.MFA.SetupTTL).Unix(),
	}
	if err := e.mfaSetupStore.Save(ctx, setupToken, record, e.config.MFA.SetupTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	e.metricInc(MetricMFASetupStarted)
	e.Push(ctx, AuditEntry{
		Type:   "mfa_setup_started",
		UserID: user.UserID,
	})

	return &TOTPSetup{
		SetupToken:   setupToken,
		SecretBase32: key.Secret(),
		URL:          key.URL(),
	}, nil
}

// SetupMFA commits a pending enrollment after the user proves possession of
// the authenticator with a current code. The pending secret is single-use;
// the first successful commit wins. The session that started the enrollment
// is revoked, forcing a fresh login through the new factor.
func (e *Engine) SetupMFA(ctx context.Context, userID, setupToken, code string) error {
	if e == nil || e.mfaSetupStore == nil {
		return ErrEngineNotReady
	}

	record, err := e.mfaSetupStore.Get(ctx, setupToken)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrMFASetupNotFound), errors.Is(err, stores.ErrMFASetupExpired):
			return ErrMFASetupExpired
		default:
			return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
	}
	if record.UserID != userID {
		return ErrPermissionDenied
	}

	if !e.totp.Verify(record.TOTPSecret, code) {
		return ErrInvalidCode
	}

	consumed, err := e.mfaSetupStore.Consume(ctx, setupToken)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if !consumed {
		return ErrMFASetupExpired
	}

	if err := e.userProvider.SetTOTP(ctx, userID, record.TOTPSecret, true); err != nil {
		return fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}

	// The enrolling session predates the new factor; end it so the next
	// login proves the authenticator.
	if record.SessionID != "" {
		if err := e.sessionService.Revoke(ctx, userID, record.SessionID); err != nil {
			e.warn("session %s for user %s not revoked after mfa setup: %v", record.SessionID, userID, err)
		}
	}

	e.event(ctx, userID, EventMFAEnabled, nil)
	e.metricInc(MetricMFASetupCompleted)
	e.Push(ctx, AuditEntry{
		Type:   "mfa_enabled",
		UserID: userID,
	})
	return nil
}

// ResetMFA disables the authenticator after the user proves account control
// through an out-of-band code issued with [Engine.SendOTP] for the reset
// purpose. Every session is revoked so a hijacked session cannot keep an
// account MFA-less quietly.
func (e *Engine) ResetMFA(ctx context.Context, userID, otpToken, code string) error {
	if e == nil || e.otpStore == nil {
		return ErrEngineNotReady
	}

	verifiedUser, err := e.otpStore.Verify(ctx, string(PurposeResetMFA), otpToken, internal.HashCode(code), e.config.OTP.MaxAttempts)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrOTPInvalid),
			errors.Is(err, stores.ErrOTPNotFound),
			errors.Is(err, stores.ErrOTPExpired):
			e.event(ctx, userID, EventOTPInvalid, map[string]string{"purpose": string(PurposeResetMFA)})
			return ErrInvalidOTP
		case errors.Is(err, stores.ErrOTPExceeded):
			return ErrChallengeAttemptsExceeded
		default:
			return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
	}
	if verifiedUser != userID {
		return ErrPermissionDenied
	}

	user, err := e.userProvider.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	if user == nil {
		return ErrPermissionDenied
	}
	if !user.MFATOTPEnabled {
		return ErrMFANotEnabled
	}

	if err := e.userProvider.SetTOTP(ctx, userID, nil, false); err != nil {
		return fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}

	if err := e.sessionService.Revoke(ctx, userID); err != nil {
		e.warn("sessions for user %s not revoked after mfa reset: %v", userID, err)
	}

	e.event(ctx, userID, EventMFADisabled, nil)
	e.metricInc(MetricMFADisabled)
	e.Push(ctx, AuditEntry{
		Type:   "mfa_disabled",
		Level:  SeverityMedium,
		UserID: userID,
	})
	return nil
}

// SendOTP issues a purpose-bound one-time code to the destination and
// returns the opaque handle the verifying flow must present alongside the
// code. Issuance is rate limited per user.
func (e *Engine) SendOTP(ctx context.Context, userID, destination string, purpose OTPPurpose) (string, error) {
	if e == nil || e.otpStore == nil {
		return "", ErrEngineNotReady
	}
	if e.otpSender == nil {
		return "", ErrOTPDeliveryFailed
	}

	result, err := e.CheckAndIncrement(ctx, "otp:"+userID, RouteOTP)
	if err != nil {
		return "", err
	}
	if result.Blocked {
		return "", ErrBlocked
	}
	if !result.Allowed {
		return "", ErrRateLimited
	}

	otpToken, err := internal.NewToken()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	code, err := internal.NewOTP(e.config.OTP.Digits)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	record := &stores.OTPRecord{
		UserID:      userID,
		Destination: destination,
		CodeHash:    internal.HashCode(code),
		ExpiresAt:   time.Now().Add(e.config.OTP.TTL).Unix(),
	}
	if err := e.otpStore.Save(ctx, string(purpose), otpToken, record, e.config.OTP.TTL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	if err := e.otpSender.Send(ctx, destination, purpose, code); err != nil {
		if _, delErr := e.otpStore.Delete(ctx, string(purpose), otpToken); delErr != nil {
			e.warn("stale %s code %s not removed: %v", purpose, otpToken, delErr)
		}
		return "", fmt.Errorf("%w: %v", ErrOTPDeliveryFailed, err)
	}

	e.Push(ctx, AuditEntry{
		Type:   "otp_sent",
		UserID: userID,
		Payload: map[string]string{
			"purpose":     string(purpose),
			"destination": maskEmail(destination),
		},
	})
	return otpToken, nil
}
