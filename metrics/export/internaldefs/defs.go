package internaldefs

import (
	gatekit "github.com/nocturnesec/gatekit"
)

// CounterDef defines a public type used by the authentication engine APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   gatekit.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the authentication engine.
var CounterDefs = []CounterDef{
	{ID: gatekit.MetricLoginSuccess, Name: "gatekit_login_success_total", Help: "Successful login completions."},
	{ID: gatekit.MetricLoginFailure, Name: "gatekit_login_failure_total", Help: "Failed login attempts."},
	{ID: gatekit.MetricLoginDenied, Name: "gatekit_login_denied_total", Help: "Login attempts denied by risk scoring."},
	{ID: gatekit.MetricLoginRateLimited, Name: "gatekit_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: gatekit.MetricChallengeIssued, Name: "gatekit_challenge_issued_total", Help: "Second-factor challenges opened."},
	{ID: gatekit.MetricChallengeSuccess, Name: "gatekit_challenge_success_total", Help: "Second-factor challenges completed."},
	{ID: gatekit.MetricChallengeFailure, Name: "gatekit_challenge_failure_total", Help: "Wrong second-factor codes submitted."},
	{ID: gatekit.MetricChallengeExceeded, Name: "gatekit_challenge_exceeded_total", Help: "Challenge transactions invalidated by the attempt cap."},
	{ID: gatekit.MetricMFASetupStarted, Name: "gatekit_mfa_setup_started_total", Help: "Authenticator enrollments started."},
	{ID: gatekit.MetricMFASetupCompleted, Name: "gatekit_mfa_setup_completed_total", Help: "Authenticator enrollments committed."},
	{ID: gatekit.MetricMFADisabled, Name: "gatekit_mfa_disabled_total", Help: "MFA reset operations."},
	{ID: gatekit.MetricBackupCodeUsed, Name: "gatekit_backup_code_used_total", Help: "Successful backup-code authentications."},
	{ID: gatekit.MetricRateLimitHit, Name: "gatekit_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
	{ID: gatekit.MetricBlockSet, Name: "gatekit_block_set_total", Help: "Explicit identifier blocks installed."},
	{ID: gatekit.MetricAuditPushed, Name: "gatekit_audit_pushed_total", Help: "Audit entries handed to the pipeline."},
	{ID: gatekit.MetricSecurityEventCreated, Name: "gatekit_security_event_created_total", Help: "Security events created."},
}
