package goMFA

import (
	"context"
	"errors"
	"testing"
)

func TestLoginWithoutSecondaryFactorIssuesTokens(t *testing.T) {
	cfg := engineTestConfig()
	engine, _, _ := newTestEngine(t, cfg)

	userID := registerTestUser(t, engine, "alice@example.com", "correct-horse-battery")

	result, err := engine.Login(context.Background(), "alice@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.MFARequired {
		t.Fatal("expected no MFA challenge without enrollments")
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatal("expected token pair")
	}
	if result.UserID != userID {
		t.Fatalf("expected user %s, got %s", userID, result.UserID)
	}
	if result.UsedMethod != MethodPassword {
		t.Fatalf("expected password method, got %s", result.UsedMethod)
	}

	auth, err := engine.Validate(context.Background(), result.AccessToken, ModeStrict)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(auth.AMR) != 1 || auth.AMR[0] != "pwd" {
		t.Fatalf("expected AMR [pwd], got %v", auth.AMR)
	}
}

func TestLoginUsernameIdentifierWorks(t *testing.T) {
	cfg := engineTestConfig()
	engine, _, _ := newTestEngine(t, cfg)

	registerTestUser(t, engine, "bob@example.com", "correct-horse-battery")

	if _, err := engine.Login(context.Background(), "bob", "correct-horse-battery"); err != nil {
		t.Fatalf("expected username login to succeed, got %v", err)
	}
}

func TestLoginWrongPasswordFails(t *testing.T) {
	cfg := engineTestConfig()
	engine, _, _ := newTestEngine(t, cfg)

	registerTestUser(t, engine, "carol@example.com", "correct-horse-battery")

	if _, err := engine.Login(context.Background(), "carol@example.com", "wrong-password-123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginUnknownIdentifierIndistinguishable(t *testing.T) {
	cfg := engineTestConfig()
	engine, _, _ := newTestEngine(t, cfg)

	// Unknown users answer with the same error as a password mismatch.
	if _, err := engine.Login(context.Background(), "nobody@example.com", "whatever-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginDisabledAccountRejected(t *testing.T) {
	cfg := engineTestConfig()
	engine, provider, _ := newTestEngine(t, cfg)

	userID := registerTestUser(t, engine, "dan@example.com", "correct-horse-battery")
	provider.setStatus(userID, AccountDisabled)

	if _, err := engine.Login(context.Background(), "dan@example.com", "correct-horse-battery"); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestLoginRateLimitedAfterRepeatedFailures(t *testing.T) {
	cfg := engineTestConfig()
	cfg.Security.MaxLoginAttempts = 2
	engine, _, _ := newTestEngine(t, cfg)

	registerTestUser(t, engine, "erin@example.com", "correct-horse-battery")

	for i := 0; i < 2; i++ {
		if _, err := engine.Login(context.Background(), "erin@example.com", "wrong-password-123"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}
	if _, err := engine.Login(context.Background(), "erin@example.com", "wrong-password-123"); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited, got %v", err)
	}
	// The cooldown also blocks the correct password.
	if _, err := engine.Login(context.Background(), "erin@example.com", "correct-horse-battery"); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited for correct password during cooldown, got %v", err)
	}
}

func TestLoginSessionLimitEnforced(t *testing.T) {
	cfg := engineTestConfig()
	cfg.Session.MaxSessionsPerUser = 1
	engine, _, _ := newTestEngine(t, cfg)

	registerTestUser(t, engine, "frank@example.com", "correct-horse-battery")

	if _, err := engine.Login(context.Background(), "frank@example.com", "correct-horse-battery"); err != nil {
		t.Fatalf("first login failed: %v", err)
	}
	if _, err := engine.Login(context.Background(), "frank@example.com", "correct-horse-battery"); !errors.Is(err, ErrSessionLimitExceeded) {
		t.Fatalf("expected ErrSessionLimitExceeded, got %v", err)
	}
}

func TestLoginWithEnrollmentOpensChallenge(t *testing.T) {
	cfg := engineTestConfig()
	engine, _, mr := newTestEngine(t, cfg)

	userID := registerTestUser(t, engine, "grace@example.com", "correct-horse-battery")
	enableTOTP(t, engine, userID, cfg)

	result, err := engine.Login(context.Background(), "grace@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.MFARequired || result.ChallengeID == "" {
		t.Fatalf("expected MFA challenge, got %+v", result)
	}
	if result.AccessToken != "" || result.RefreshToken != "" {
		t.Fatal("expected no tokens before MFA confirmation")
	}
	if len(result.Methods) != 1 || result.Methods[0] != MethodTOTP {
		t.Fatalf("expected methods [totp], got %v", result.Methods)
	}
	if !mr.Exists("amc:" + result.ChallengeID) {
		t.Fatal("expected challenge key in redis")
	}
}

func TestLoginHistoryRecordsOutcomes(t *testing.T) {
	cfg := engineTestConfig()
	engine, _, _ := newTestEngine(t, cfg)

	userID := registerTestUser(t, engine, "heidi@example.com", "correct-horse-battery")

	if _, err := engine.Login(context.Background(), "heidi@example.com", "wrong-password-123"); err == nil {
		t.Fatal("expected failed login")
	}
	if _, err := engine.Login(context.Background(), "heidi@example.com", "correct-horse-battery"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	attempts, err := engine.LoginHistory(context.Background(), userID, 10)
	if err != nil {
		t.Fatalf("LoginHistory failed: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	// Newest first.
	if !attempts[0].Success || attempts[1].Success {
		t.Fatalf("expected [success, failure], got %+v", attempts)
	}
}
