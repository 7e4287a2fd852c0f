package gatekit

import "errors"

var (
	// ErrEngineNotReady is an exported constant or variable used by the authentication engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrInvalidCredentials is an exported constant or variable used by the authentication engine.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionExpired is an exported constant or variable used by the authentication engine.
	ErrSessionExpired = errors.New("session expired")
	// ErrInvalidCode is an exported constant or variable used by the authentication engine.
	ErrInvalidCode = errors.New("invalid verification code")
	// ErrInvalidOTP is an exported constant or variable used by the authentication engine.
	ErrInvalidOTP = errors.New("invalid one-time code")
	// ErrChallengeAttemptsExceeded is an exported constant or variable used by the authentication engine.
	ErrChallengeAttemptsExceeded = errors.New("challenge attempts exceeded")
	// ErrChallengeMethodMismatch is an exported constant or variable used by the authentication engine.
	ErrChallengeMethodMismatch = errors.New("challenge method does not match transaction state")
	// ErrChallengeUnavailable is an exported constant or variable used by the authentication engine.
	ErrChallengeUnavailable = errors.New("challenge method not available for this transaction")
	// ErrMFAAlreadyEnabled is an exported constant or variable used by the authentication engine.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrMFANotEnabled is an exported constant or variable used by the authentication engine.
	ErrMFANotEnabled = errors.New("mfa not enabled")
	// ErrMFASetupExpired is an exported constant or variable used by the authentication engine.
	ErrMFASetupExpired = errors.New("mfa setup expired")
	// ErrMFAUnavailable is an exported constant or variable used by the authentication engine.
	ErrMFAUnavailable = errors.New("mfa backend unavailable")
	// ErrBackupCodeInvalid is an exported constant or variable used by the authentication engine.
	ErrBackupCodeInvalid = errors.New("invalid backup code")
	// ErrBackupCodesNotConfigured is an exported constant or variable used by the authentication engine.
	ErrBackupCodesNotConfigured = errors.New("backup codes not configured")
	// ErrPermissionDenied is an exported constant or variable used by the authentication engine.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrRateLimited is an exported constant or variable used by the authentication engine.
	ErrRateLimited = errors.New("rate limited")
	// ErrBlocked is an exported constant or variable used by the authentication engine.
	ErrBlocked = errors.New("identifier blocked")
	// ErrCaptchaRequired is an exported constant or variable used by the authentication engine.
	ErrCaptchaRequired = errors.New("captcha required")
	// ErrAccountDisabled is an exported constant or variable used by the authentication engine.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountLocked is an exported constant or variable used by the authentication engine.
	ErrAccountLocked = errors.New("account locked")
	// ErrSessionServiceFailed is an exported constant or variable used by the authentication engine.
	ErrSessionServiceFailed = errors.New("session service failed")
	// ErrOTPDeliveryFailed is an exported constant or variable used by the authentication engine.
	ErrOTPDeliveryFailed = errors.New("one-time code delivery failed")
	// ErrCacheUnavailable is an exported constant or variable used by the authentication engine.
	ErrCacheUnavailable = errors.New("cache backend unavailable")
	// ErrUserStoreUnavailable is an exported constant or variable used by the authentication engine.
	ErrUserStoreUnavailable = errors.New("user store unavailable")
	// ErrAuditUnavailable is an exported constant or variable used by the authentication engine.
	ErrAuditUnavailable = errors.New("audit backend unavailable")
	// ErrEventNotFound is an exported constant or variable used by the authentication engine.
	ErrEventNotFound = errors.New("security event not found")
)

// Kind tags an error family for the transport boundary. HTTP (or RPC) glue
// maps kinds to status codes without depending on individual sentinel errors.
type Kind int

const (
	// KindInternal is an exported constant or variable used by the authentication engine.
	KindInternal Kind = iota
	// KindInvalidCredentials is an exported constant or variable used by the authentication engine.
	KindInvalidCredentials
	// KindSessionExpired is an exported constant or variable used by the authentication engine.
	KindSessionExpired
	// KindInvalidCode is an exported constant or variable used by the authentication engine.
	KindInvalidCode
	// KindChallengeExceeded is an exported constant or variable used by the authentication engine.
	KindChallengeExceeded
	// KindPrecondition is an exported constant or variable used by the authentication engine.
	KindPrecondition
	// KindPermissionDenied is an exported constant or variable used by the authentication engine.
	KindPermissionDenied
	// KindRateLimited is an exported constant or variable used by the authentication engine.
	KindRateLimited
	// KindUnavailable is an exported constant or variable used by the authentication engine.
	KindUnavailable
)

// KindOf maps any error returned by this package to its [Kind]. Unrecognized
// errors map to [KindInternal] so transport layers fail closed.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrAccountDisabled),
		errors.Is(err, ErrAccountLocked):
		// Account-status detail is never exposed past the audit trail.
		return KindInvalidCredentials
	case errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrMFASetupExpired):
		return KindSessionExpired
	case errors.Is(err, ErrInvalidCode),
		errors.Is(err, ErrInvalidOTP),
		errors.Is(err, ErrBackupCodeInvalid),
		errors.Is(err, ErrChallengeMethodMismatch):
		return KindInvalidCode
	case errors.Is(err, ErrChallengeAttemptsExceeded):
		return KindChallengeExceeded
	case errors.Is(err, ErrMFAAlreadyEnabled),
		errors.Is(err, ErrMFANotEnabled),
		errors.Is(err, ErrBackupCodesNotConfigured),
		errors.Is(err, ErrChallengeUnavailable),
		errors.Is(err, ErrCaptchaRequired):
		return KindPrecondition
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrBlocked):
		return KindRateLimited
	case errors.Is(err, ErrMFAUnavailable),
		errors.Is(err, ErrCacheUnavailable),
		errors.Is(err, ErrUserStoreUnavailable),
		errors.Is(err, ErrAuditUnavailable),
		errors.Is(err, ErrSessionServiceFailed),
		errors.Is(err, ErrOTPDeliveryFailed),
		errors.Is(err, ErrEngineNotReady):
		return KindUnavailable
	default:
		return KindInternal
	}
}
