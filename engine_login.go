package gatekit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nocturnesec/gatekit/internal"
	"github.com/nocturnesec/gatekit/internal/security"
	"github.com/nocturnesec/gatekit/internal/stores"
)

// LoginOptions carries the caller-controlled knobs of one login attempt.
type LoginOptions struct {
	// RememberDevice asks the engine to whitelist the device once the
	// attempt fully succeeds, skipping device verification next time.
	RememberDevice bool
}

// StartLogin describes the startlogin operation and its observable behavior.
//
// StartLogin may return an error when input validation, dependency calls, or security checks fail.
// StartLogin does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) StartLogin(ctx context.Context, email, password string) (*LoginResult, error) {
	return e.StartLoginWithOptions(ctx, email, password, LoginOptions{})
}

// StartLoginWithOptions verifies the password and either completes the login
// or opens a challenge transaction. Unknown accounts, wrong passwords, and
// risk denials all surface as [ErrInvalidCredentials]; the caller learns
// nothing about which it was.
func (e *Engine) StartLoginWithOptions(ctx context.Context, email, password string, opts LoginOptions) (*LoginResult, error) {
	if e == nil || e.userProvider == nil {
		return nil, ErrEngineNotReady
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	tenantID := tenantIDFromContext(ctx)
	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)

	if err := e.checkLoginRate(ctx, "email:"+tenantID+":"+email, ipIdentifier(ip)); err != nil {
		return nil, err
	}

	if e.captchaRequired(ctx, tenantID, RouteLogin) && !captchaVerifiedFromContext(ctx) {
		return nil, ErrCaptchaRequired
	}

	user, err := e.userProvider.FindUserForLogin(ctx, tenantID, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	if user == nil {
		e.event(ctx, "", EventLoginFailed, map[string]string{"email": maskEmail(email), "reason": "unknown_account"})
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	switch user.Status {
	case AccountActive:
	case AccountLocked:
		return nil, ErrAccountLocked
	default:
		return nil, ErrAccountDisabled
	}

	ok, err := e.userProvider.VerifyAndTrack(ctx, user.UserID, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	if !ok {
		return nil, e.recordFailedLogin(ctx, user, tenantID, email)
	}
	e.clearFailedLogins(ctx, user.UserID)

	fingerprint := internal.DeviceFingerprint(user.UserID, userAgent)
	assessment, err := e.monitor.Evaluate(ctx, user.UserID, fingerprint, ip)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	if assessment.Action == security.Deny {
		e.event(ctx, user.UserID, EventLoginDenied, map[string]string{
			"risk":     strconv.Itoa(assessment.Risk),
			"location": assessment.Location,
		})
		e.metricInc(MetricLoginDenied)
		e.Push(ctx, AuditEntry{
			Type:   "login_denied",
			Level:  SeverityHigh,
			UserID: user.UserID,
			Payload: map[string]string{
				"risk": strconv.Itoa(assessment.Risk),
			},
		})
		return nil, ErrInvalidCredentials
	}

	if assessment.IsNewDevice {
		e.event(ctx, user.UserID, EventNewDeviceLogin, map[string]string{
			"location": assessment.Location,
		})
	}

	deviceVerify := e.deviceVerifyEnabled(ctx, tenantID) && e.otpSender != nil
	mfaChallenge := user.MFATOTPEnabled && e.config.MFA.Enabled

	switch {
	case assessment.IsNewDevice && deviceVerify:
		return e.openDeviceVerify(ctx, user, tenantID, email, opts, assessment)
	case mfaChallenge:
		return e.openMFAChallenge(ctx, user, tenantID, email, opts, assessment)
	case deviceVerify && (e.mfaRequired(ctx, tenantID) || assessment.Action == security.Challenge):
		return e.openDeviceVerify(ctx, user, tenantID, email, opts, assessment)
	}

	// Without a verified second factor a device is only whitelisted when
	// the caller asked for it.
	return e.completeLogin(ctx, user, completionOptions{
		RememberDevice: opts.RememberDevice,
		TrustDevice:    opts.RememberDevice,
		Fingerprint:    fingerprint,
	})
}

// openMFAChallenge persists a pending transaction waiting on an
// authenticator code. Backup codes are always an alternate method here.
func (e *Engine) openMFAChallenge(ctx context.Context, user *User, tenantID, email string, opts LoginOptions, assessment security.Assessment) (*LoginResult, error) {
	txID, err := internal.NewToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	tx := &stores.AuthTx{
		UserID:         user.UserID,
		TenantID:       tenantID,
		Email:          email,
		State:          stores.StateMFARequired,
		Methods:        stores.MethodTOTP | stores.MethodBackupCode,
		ExpiresAt:      time.Now().Add(e.config.Login.ChallengeTTL).Unix(),
		RememberDevice: opts.RememberDevice,
		IsNewDevice:    assessment.IsNewDevice,
		Risk:           clampRisk(assessment.Risk),
	}
	if err := e.authTxStore.Save(ctx, txID, tx, e.config.Login.ChallengeTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	e.metricInc(MetricChallengeIssued)
	e.Push(ctx, AuditEntry{
		Type:   "login_challenge_issued",
		UserID: user.UserID,
		Payload: map[string]string{
			"method": string(MethodTOTP),
		},
	})

	return &LoginResult{
		Status:   LoginChallenge,
		AuthTxID: txID,
		Challenge: &Challenge{
			Type:             MethodTOTP,
			AvailableMethods: []ChallengeMethod{MethodTOTP, MethodBackupCode},
		},
	}, nil
}

// openDeviceVerify issues a one-time code to the account's email and
// persists a pending transaction waiting on it.
func (e *Engine) openDeviceVerify(ctx context.Context, user *User, tenantID, email string, opts LoginOptions, assessment security.Assessment) (*LoginResult, error) {
	txID, err := internal.NewToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	otpToken, err := internal.NewToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	code, err := internal.NewOTP(e.config.OTP.Digits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	record := &stores.OTPRecord{
		UserID:      user.UserID,
		Destination: user.Email,
		CodeHash:    internal.HashCode(code),
		ExpiresAt:   time.Now().Add(e.config.OTP.TTL).Unix(),
	}
	if err := e.otpStore.Save(ctx, string(PurposeDeviceVerify), otpToken, record, e.config.OTP.TTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	if err := e.otpSender.Send(ctx, user.Email, PurposeDeviceVerify, code); err != nil {
		// Undo the stored code so a later redelivery starts clean.
		if _, delErr := e.otpStore.Delete(ctx, string(PurposeDeviceVerify), otpToken); delErr != nil {
			e.warn("stale device-verify code %s not removed: %v", otpToken, delErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrOTPDeliveryFailed, err)
	}

	tx := &stores.AuthTx{
		UserID:         user.UserID,
		TenantID:       tenantID,
		Email:          email,
		State:          stores.StateDeviceVerify,
		Methods:        stores.MethodDeviceOTP,
		ExpiresAt:      time.Now().Add(e.config.Login.ChallengeTTL).Unix(),
		RememberDevice: opts.RememberDevice,
		IsNewDevice:    assessment.IsNewDevice,
		Risk:           clampRisk(assessment.Risk),
		DeviceOTPToken: otpToken,
	}
	if err := e.authTxStore.Save(ctx, txID, tx, e.config.Login.ChallengeTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	e.metricInc(MetricChallengeIssued)
	e.Push(ctx, AuditEntry{
		Type:   "login_challenge_issued",
		UserID: user.UserID,
		Payload: map[string]string{
			"method": string(MethodDeviceOTP),
		},
	})

	return &LoginResult{
		Status:   LoginChallenge,
		AuthTxID: txID,
		Challenge: &Challenge{
			Type:             MethodDeviceOTP,
			AvailableMethods: []ChallengeMethod{MethodDeviceOTP},
			Metadata: map[string]string{
				"destination": maskEmail(user.Email),
			},
		},
	}, nil
}

type completionOptions struct {
	// RememberDevice extends the session per the session service policy.
	RememberDevice bool
	// TrustDevice adds the fingerprint to the known-device set.
	TrustDevice bool
	Fingerprint string
}

// completeLogin mints the session and records the success. Shared by the
// no-challenge path and challenge completion.
func (e *Engine) completeLogin(ctx context.Context, user *User, opts completionOptions) (*LoginResult, error) {
	if e.sessionService == nil {
		return nil, ErrEngineNotReady
	}

	tenantID := tenantIDFromContext(ctx)
	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)

	if e.singleSessionEnforced(ctx, tenantID) {
		if err := e.sessionService.Revoke(ctx, user.UserID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionServiceFailed, err)
		}
	}

	sess, err := e.sessionService.CompleteLogin(ctx, user, SessionOptions{
		RememberDevice: opts.RememberDevice,
		IP:             ip,
		UserAgent:      userAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionServiceFailed, err)
	}

	if opts.TrustDevice && opts.Fingerprint != "" {
		if err := e.monitor.RememberDevice(ctx, user.UserID, opts.Fingerprint, ip); err != nil {
			e.warn("device for user %s not remembered: %v", user.UserID, err)
		}
	}

	e.event(ctx, user.UserID, EventLoginSuccess, nil)
	e.metricInc(MetricLoginSuccess)
	e.Push(ctx, AuditEntry{
		Type:      "login_success",
		UserID:    user.UserID,
		SessionID: sess.SessionID,
	})

	return &LoginResult{
		Status:  LoginCompleted,
		Session: sess,
	}, nil
}

// recordFailedLogin counts a wrong password against the rolling window and
// escalates to a temporary block when the budget is spent.
func (e *Engine) recordFailedLogin(ctx context.Context, user *User, tenantID, email string) error {
	e.event(ctx, user.UserID, EventLoginFailed, map[string]string{"reason": "wrong_password"})
	e.metricInc(MetricLoginFailure)

	max := e.config.Login.MaxFailedLogins
	if max <= 0 {
		return ErrInvalidCredentials
	}

	count, err := e.cache.Incr(ctx, failedLoginKey(user.UserID))
	if err != nil {
		e.warn("failed-login counter for user %s: %v", user.UserID, err)
		return ErrInvalidCredentials
	}
	if count == 1 {
		if err := e.cache.Expire(ctx, failedLoginKey(user.UserID), e.config.Login.FailedLoginWindow); err != nil {
			e.warn("failed-login counter for user %s: %v", user.UserID, err)
		}
	}
	if count < int64(max) {
		return ErrInvalidCredentials
	}

	until := time.Now().Add(e.config.Login.FailedLoginWindow)
	if err := e.rateLimiter.Block(ctx, "email:"+tenantID+":"+email, RouteLogin, until); err != nil {
		e.warn("lockout block for user %s: %v", user.UserID, err)
	}
	e.event(ctx, user.UserID, EventAccountLocked, map[string]string{
		"failed_attempts": strconv.FormatInt(count, 10),
	})
	e.metricInc(MetricBlockSet)
	e.Push(ctx, AuditEntry{
		Type:   "account_locked",
		Level:  SeverityCritical,
		UserID: user.UserID,
		Payload: map[string]string{
			"failed_attempts": strconv.FormatInt(count, 10),
		},
	})
	return ErrAccountLocked
}

func (e *Engine) clearFailedLogins(ctx context.Context, userID string) {
	if _, err := e.cache.Del(ctx, failedLoginKey(userID)); err != nil {
		e.warn("failed-login counter for user %s not cleared: %v", userID, err)
	}
}

func failedLoginKey(userID string) string {
	return "fail:" + userID
}

func ipIdentifier(ip string) string {
	if ip == "" {
		return ""
	}
	return "ip:" + ip
}

func clampRisk(risk int) uint16 {
	if risk < 0 {
		return 0
	}
	if risk > int(^uint16(0)) {
		return ^uint16(0)
	}
	return uint16(risk)
}

// maskEmail hides the local part except its first rune.
func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	local := []rune(email[:at])
	return string(local[0]) + "***" + email[at:]
}
