package gatekit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestMFASetupFlow(t *testing.T) {
	env := newTestEnv(t, testConfig())

	setup, err := env.engine.SetupMFARequest(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("SetupMFARequest failed: %v", err)
	}
	if setup.SetupToken == "" || setup.SecretBase32 == "" {
		t.Fatalf("expected token and secret, got %+v", setup)
	}
	if !strings.Contains(setup.URL, "otpauth://") {
		t.Fatalf("expected a provisioning URL, got %q", setup.URL)
	}

	code, err := totp.GenerateCode(setup.SecretBase32, time.Now().UTC())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	if err := env.engine.SetupMFA(context.Background(), testUserID, setup.SetupToken, code); err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}

	user, _ := env.provider.GetUserByID(context.Background(), testUserID)
	if !user.MFATOTPEnabled {
		t.Fatal("expected MFA to be enabled")
	}

	// The pending secret is single-use.
	if err := env.engine.SetupMFA(context.Background(), testUserID, setup.SetupToken, code); !errors.Is(err, ErrMFASetupExpired) {
		t.Fatalf("expected ErrMFASetupExpired on reuse, got %v", err)
	}
	if _, err := env.engine.SetupMFARequest(context.Background(), testUserID); !errors.Is(err, ErrMFAAlreadyEnabled) {
		t.Fatalf("expected ErrMFAAlreadyEnabled, got %v", err)
	}

	waitFor(t, "mfa_enabled event", func() bool {
		return len(env.events.byType(EventMFAEnabled)) == 1
	})
}

func TestMFASetupRevokesOriginatingSession(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := WithSessionID(context.Background(), "sess-originating")

	setup, err := env.engine.SetupMFARequest(ctx, testUserID)
	if err != nil {
		t.Fatalf("SetupMFARequest failed: %v", err)
	}
	code, err := totp.GenerateCode(setup.SecretBase32, time.Now().UTC())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}

	// The commit may arrive on a different request; the session to end is
	// the one captured at enrollment start.
	if err := env.engine.SetupMFA(context.Background(), testUserID, setup.SetupToken, code); err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}

	if env.sessions.revokeCount() != 1 {
		t.Fatalf("expected the originating session to be revoked, got %d revokes", env.sessions.revokeCount())
	}
	revoked := env.sessions.lastRevoked()
	if len(revoked) != 1 || revoked[0] != "sess-originating" {
		t.Fatalf("expected only session sess-originating revoked, got %v", revoked)
	}
}

func TestMFASetupWithoutSessionRevokesNothing(t *testing.T) {
	env := newTestEnv(t, testConfig())

	setup, err := env.engine.SetupMFARequest(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("SetupMFARequest failed: %v", err)
	}
	code, _ := totp.GenerateCode(setup.SecretBase32, time.Now().UTC())
	if err := env.engine.SetupMFA(context.Background(), testUserID, setup.SetupToken, code); err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}

	if env.sessions.revokeCount() != 0 {
		t.Fatalf("expected no revokes without a session in context, got %d", env.sessions.revokeCount())
	}
}

func TestMFASetupWrongCodeAndWrongUser(t *testing.T) {
	env := newTestEnv(t, testConfig())

	setup, err := env.engine.SetupMFARequest(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("SetupMFARequest failed: %v", err)
	}

	if err := env.engine.SetupMFA(context.Background(), testUserID, setup.SetupToken, "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if err := env.engine.SetupMFA(context.Background(), "someone-else", setup.SetupToken, "000000"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	user, _ := env.provider.GetUserByID(context.Background(), testUserID)
	if user.MFATOTPEnabled {
		t.Fatal("expected MFA to stay disabled")
	}
}

func TestMFASetupExpires(t *testing.T) {
	env := newTestEnv(t, testConfig())

	setup, err := env.engine.SetupMFARequest(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("SetupMFARequest failed: %v", err)
	}

	env.redis.FastForward(env.engine.Config().MFA.SetupTTL + time.Second)

	code, _ := totp.GenerateCode(setup.SecretBase32, time.Now().UTC())
	if err := env.engine.SetupMFA(context.Background(), testUserID, setup.SetupToken, code); !errors.Is(err, ErrMFASetupExpired) {
		t.Fatalf("expected ErrMFASetupExpired, got %v", err)
	}
}

func TestResetMFAFlow(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.enableMFA(testUserID)

	otpToken, err := env.engine.SendOTP(context.Background(), testUserID, testEmail, PurposeResetMFA)
	if err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	sent := env.sender.lastSent(t)
	if sent.Purpose != PurposeResetMFA {
		t.Fatalf("expected reset_mfa delivery, got %q", sent.Purpose)
	}

	if err := env.engine.ResetMFA(context.Background(), testUserID, otpToken, sent.Code); err != nil {
		t.Fatalf("ResetMFA failed: %v", err)
	}

	user, _ := env.provider.GetUserByID(context.Background(), testUserID)
	if user.MFATOTPEnabled {
		t.Fatal("expected MFA to be disabled")
	}
	if env.sessions.revokeCount() != 1 {
		t.Fatalf("expected all sessions revoked, got %d revokes", env.sessions.revokeCount())
	}

	waitFor(t, "mfa_disabled event", func() bool {
		return len(env.events.byType(EventMFADisabled)) == 1
	})
}

func TestResetMFAWrongCode(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.enableMFA(testUserID)

	otpToken, err := env.engine.SendOTP(context.Background(), testUserID, testEmail, PurposeResetMFA)
	if err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}

	if err := env.engine.ResetMFA(context.Background(), testUserID, otpToken, "000000"); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP, got %v", err)
	}

	user, _ := env.provider.GetUserByID(context.Background(), testUserID)
	if !user.MFATOTPEnabled {
		t.Fatal("expected MFA to stay enabled after a wrong code")
	}
}

func TestResetMFAPurposeBinding(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.enableMFA(testUserID)

	// A code issued for another purpose never verifies for the reset.
	otpToken, err := env.engine.SendOTP(context.Background(), testUserID, testEmail, PurposeForgotPassword)
	if err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	sent := env.sender.lastSent(t)

	if err := env.engine.ResetMFA(context.Background(), testUserID, otpToken, sent.Code); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP across purposes, got %v", err)
	}
}

func TestSendOTPRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Routes = map[string]RouteLimit{
		RouteOTP: {Enabled: true, Limit: 1, Window: time.Hour},
	}
	env := newTestEnv(t, cfg)

	if _, err := env.engine.SendOTP(context.Background(), testUserID, testEmail, PurposeResetMFA); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	if _, err := env.engine.SendOTP(context.Background(), testUserID, testEmail, PurposeResetMFA); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestGenerateBackupCodesRequiresMFA(t *testing.T) {
	env := newTestEnv(t, testConfig())

	if _, err := env.engine.GenerateBackupCodes(context.Background(), testUserID); !errors.Is(err, ErrMFANotEnabled) {
		t.Fatalf("expected ErrMFANotEnabled, got %v", err)
	}
}
