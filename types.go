package gatekit

import (
	"context"
	"time"
)

// AccountStatus defines a public type used by the authentication engine APIs.
type AccountStatus uint8

const (
	// AccountActive is an exported constant or variable used by the authentication engine.
	AccountActive AccountStatus = iota
	// AccountPendingVerification is an exported constant or variable used by the authentication engine.
	AccountPendingVerification
	// AccountDisabled is an exported constant or variable used by the authentication engine.
	AccountDisabled
	// AccountLocked is an exported constant or variable used by the authentication engine.
	AccountLocked
)

// ChallengeMethod identifies the second factor a pending login must present.
type ChallengeMethod string

const (
	// MethodTOTP is an exported constant or variable used by the authentication engine.
	MethodTOTP ChallengeMethod = "totp"
	// MethodDeviceOTP is an exported constant or variable used by the authentication engine.
	MethodDeviceOTP ChallengeMethod = "device_otp"
	// MethodBackupCode is an exported constant or variable used by the authentication engine.
	MethodBackupCode ChallengeMethod = "backup_code"
)

// LoginStatus defines a public type used by the authentication engine APIs.
type LoginStatus string

const (
	// LoginCompleted is an exported constant or variable used by the authentication engine.
	LoginCompleted LoginStatus = "completed"
	// LoginChallenge is an exported constant or variable used by the authentication engine.
	LoginChallenge LoginStatus = "challenge"
)

// Challenge describes the pending second step of a login transaction.
type Challenge struct {
	Type             ChallengeMethod
	AvailableMethods []ChallengeMethod
	Metadata         map[string]string
}

// Session is the session-service handle returned on a completed login.
type Session struct {
	SessionID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// LoginResult is returned by [Engine.StartLogin] and [Engine.CompleteChallenge].
// Exactly one of Challenge or Session is set depending on Status.
type LoginResult struct {
	Status    LoginStatus
	AuthTxID  string
	Challenge *Challenge
	Session   *Session
}

// RiskAction is the security monitor's verdict for a login attempt.
type RiskAction uint8

const (
	// ActionAllow is an exported constant or variable used by the authentication engine.
	ActionAllow RiskAction = iota
	// ActionChallenge is an exported constant or variable used by the authentication engine.
	ActionChallenge
	// ActionDeny is an exported constant or variable used by the authentication engine.
	ActionDeny
)

// SecurityResult is the risk evaluation snapshot stored on a transaction.
type SecurityResult struct {
	IsNewDevice bool
	Risk        int
	Action      RiskAction
}

// User is the credential-store view of an account consumed by login flows.
type User struct {
	UserID         string
	TenantID       string
	Email          string
	Status         AccountStatus
	PasswordHash   string
	MFATOTPEnabled bool
}

// OTPPurpose binds a one-time code to the flow that issued it. Codes issued
// for one purpose never verify under another.
type OTPPurpose string

const (
	// PurposeRegister is an exported constant or variable used by the authentication engine.
	PurposeRegister OTPPurpose = "register"
	// PurposeForgotPassword is an exported constant or variable used by the authentication engine.
	PurposeForgotPassword OTPPurpose = "forgot_password"
	// PurposeResetMFA is an exported constant or variable used by the authentication engine.
	PurposeResetMFA OTPPurpose = "reset_mfa"
	// PurposeDeviceVerify is an exported constant or variable used by the authentication engine.
	PurposeDeviceVerify OTPPurpose = "device_verify"
	// PurposeMFALogin is an exported constant or variable used by the authentication engine.
	PurposeMFALogin OTPPurpose = "mfa_login"
)

// UserProvider supplies account records and tracked credential state from the
// host application's user store.
type UserProvider interface {
	// FindUserForLogin resolves an account by email. A nil user with nil
	// error means the account does not exist; callers must surface a
	// generic invalid-credentials failure either way.
	FindUserForLogin(ctx context.Context, tenantID, email string) (*User, error)

	// GetUserByID resolves an account by id for flows that already hold
	// one (MFA setup, challenge completion).
	GetUserByID(ctx context.Context, userID string) (*User, error)

	// VerifyAndTrack checks the password and records the attempt against
	// the host's lockout policy.
	VerifyAndTrack(ctx context.Context, userID, password string) (bool, error)

	GetTOTPSecret(ctx context.Context, userID string) ([]byte, error)
	SetTOTP(ctx context.Context, userID string, secret []byte, enabled bool) error

	// ConsumeBackupCode marks a single backup code as used. Returns
	// [ErrBackupCodeInvalid] when the code does not match an unused entry
	// and [ErrBackupCodesNotConfigured] when the user has no codes.
	ConsumeBackupCode(ctx context.Context, userID, code string) error
	StoreBackupCodes(ctx context.Context, userID string, hashes []string) error
}

// SessionOptions carries per-login session parameters.
type SessionOptions struct {
	RememberDevice bool
	IP             string
	UserAgent      string
}

// SessionService mints and revokes sessions once a login transaction
// completes. The engine only depends on this contract; session/ ships a
// Redis-backed implementation.
type SessionService interface {
	CompleteLogin(ctx context.Context, user *User, opts SessionOptions) (*Session, error)
	Revoke(ctx context.Context, userID string, sessionIDs ...string) error
}

// OTPSender delivers a one-time code out of band (email, Telegram, ...).
type OTPSender interface {
	Send(ctx context.Context, destination string, purpose OTPPurpose, code string) error
}

// Settings exposes tenant policy flags consumed by the login flow. A nil
// Settings on the builder falls back to config defaults for every flag.
type Settings interface {
	MFARequired(ctx context.Context, tenantID string) bool
	DeviceVerificationEnabled(ctx context.Context, tenantID string) bool
	CaptchaRequired(ctx context.Context, tenantID, route string) bool
	SingleSessionEnforced(ctx context.Context, tenantID string) bool
}

// Severity classifies a security event.
type Severity string

const (
	// SeverityLow is an exported constant or variable used by the authentication engine.
	SeverityLow Severity = "low"
	// SeverityMedium is an exported constant or variable used by the authentication engine.
	SeverityMedium Severity = "medium"
	// SeverityHigh is an exported constant or variable used by the authentication engine.
	SeverityHigh Severity = "high"
	// SeverityCritical is an exported constant or variable used by the authentication engine.
	SeverityCritical Severity = "critical"
)

// EventType is the closed enum of security-relevant occurrences.
type EventType string

const (
	// EventLoginSuccess is an exported constant or variable used by the authentication engine.
	EventLoginSuccess EventType = "login_success"
	// EventLoginFailed is an exported constant or variable used by the authentication engine.
	EventLoginFailed EventType = "login_failed"
	// EventMFAVerified is an exported constant or variable used by the authentication engine.
	EventMFAVerified EventType = "mfa_verified"
	// EventMFAFailed is an exported constant or variable used by the authentication engine.
	EventMFAFailed EventType = "mfa_failed"
	// EventMFAEnabled is an exported constant or variable used by the authentication engine.
	EventMFAEnabled EventType = "mfa_enabled"
	// EventMFADisabled is an exported constant or variable used by the authentication engine.
	EventMFADisabled EventType = "mfa_disabled"
	// EventOTPInvalid is an exported constant or variable used by the authentication engine.
	EventOTPInvalid EventType = "otp_invalid"
	// EventBackupCodeUsed is an exported constant or variable used by the authentication engine.
	EventBackupCodeUsed EventType = "backup_code_used"
	// EventNewDeviceLogin is an exported constant or variable used by the authentication engine.
	EventNewDeviceLogin EventType = "new_device_login"
	// EventDeviceVerified is an exported constant or variable used by the authentication engine.
	EventDeviceVerified EventType = "device_verified"
	// EventPasswordChanged is an exported constant or variable used by the authentication engine.
	EventPasswordChanged EventType = "password_changed"
	// EventSuspiciousActivity is an exported constant or variable used by the authentication engine.
	EventSuspiciousActivity EventType = "suspicious_activity"
	// EventAccountLocked is an exported constant or variable used by the authentication engine.
	EventAccountLocked EventType = "account_locked"
	// EventLoginDenied is an exported constant or variable used by the authentication engine.
	EventLoginDenied EventType = "login_denied"
)

// SecurityEventFilter narrows [Engine.ListSecurityEvents]. Zero values mean
// "any".
type SecurityEventFilter struct {
	UserID     string
	Type       EventType
	Severity   Severity
	Unresolved bool
	Limit      int
}

// AuditStore persists drained audit batches. Implementations must be
// idempotent on LogID; the built-in PostgreSQL store uses
// ON CONFLICT (id) DO NOTHING.
type AuditStore interface {
	InsertAuditBatch(ctx context.Context, entries []AuditEntry) error
}

// SecurityEventStore persists security events.
type SecurityEventStore interface {
	InsertSecurityEvent(ctx context.Context, event *SecurityEvent) error
	ResolveSecurityEvent(ctx context.Context, eventID, resolvedBy string, resolvedAt time.Time) (bool, error)
	ListSecurityEvents(ctx context.Context, filter SecurityEventFilter) ([]SecurityEvent, error)
}

// SecurityEvent is a structured record of a security-relevant occurrence,
// distinct from the general audit trail.
type SecurityEvent struct {
	ID         string
	UserID     string
	Type       EventType
	Severity   Severity
	IP         string
	UserAgent  string
	Location   string
	Metadata   map[string]string
	Resolved   bool
	ResolvedAt *time.Time
	ResolvedBy string
	Created    time.Time
}

// AuditEntry is one append-only activity record. Entries are enriched by
// [Engine.Push] and persisted asynchronously; LogID is pre-assigned and
// sortable so persistence is idempotent.
type AuditEntry struct {
	LogID         string
	Type          string
	Level         Severity
	UserID        string
	SessionID     string
	EntityType    string
	EntityID      string
	Description   string
	Payload       map[string]string
	IP            string
	UserAgent     string
	RequestID     string
	TraceID       string
	CorrelationID string
	Timestamp     time.Time
}
