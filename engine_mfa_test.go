package goMFA

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openChallenge(t *testing.T, engine *Engine, email, pass string) *LoginResult {
	t.Helper()

	result, err := engine.Login(context.Background(), email, pass)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.MFARequired {
		t.Fatal("expected MFA challenge")
	}
	return result
}

func TestConfirmMFATOTPSuccess(t *testing.T) {
	cfg := engineTestConfig()
	engine, _, mr := newTestEngine(t, cfg)

	userID := registerTestUser(t, engine, "alice@example.com", "correct-horse-battery")
	secret := enableTOTP(t, engine, userID, cfg)

	challenge := openChallenge(t, engine, "alice@example.com", "correct-horse-battery")

	// Enrollment confirmation consumed the current step; move one forward.
	confirmed, err := engine.ConfirmMFA(context.Background(), challenge.ChallengeID, MFAProof{
		Method: MethodTOTP,
		Code:   codeForOffset(t, secret, cfg.TOTP, 1),
	})
	if err != nil {
		t.Fatalf("ConfirmMFA failed: %v", err)
	}
	if confirmed.AccessToken == "" || confirmed.RefreshToken == "" {
		t.Fatal("expected tokens after confirmation")
	}
	if confirmed.UsedMethod != MethodTOTP {
		t.Fatalf("expected used method totp, got %s", confirmed.UsedMethod)
	}
	if mr.Exists("amc:" + challenge.ChallengeID) {
		t.Fatal("expected challenge to be destroyed after success")
	}

	auth, err := engine.Validate(context.Background(), confirmed.AccessToken, ModeStrict)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(auth.AMR) != 2 || auth.AMR[0] != "pwd" || auth.AMR[1] != "otp" {
		t.Fatalf("expected AMR [pwd otp], got %v", auth.AMR)
	}
}

func TestConfirmMFAWrongCodeChargesAttempt(t *testing.T) {
	cfg := engineTestConfig()
	cfg.Challenge.MaxAttempts = 2
	engine, _, mr := newTestEngine(t, cfg)

	userID := registerTestUser(t, engine, "bob@example.com", "correct-horse-battery")
	secret := enableTOTP(t, engine, userID, cfg)

	challenge := openChallenge(t, engine, "bob@example.com", "correct-horse-battery")

	if _, err := engine.ConfirmMFA(context.Background(), challenge.ChallengeID, MFAProof{
		Method: MethodTOTP,
		Code:   "000000",
	}); !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("expected ErrTOTPInvalid, got %v", err)
	}
	if !mr.Exists("amc:" + challenge.ChallengeID) {
		t.Fatal("expected challenge to survive first failure")
	}

	if _, err := engine.ConfirmMFA(context.Background(), challenge.ChallengeID, MFAProof{
		Method: MethodTOTP,
		Code:   "000000",
	}); !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("expected ErrTOTPInvalid, got %v", err)
	}

	// Budget spent: the next attempt reports exhaustion and destroys the
	// challenge, even with a valid code.
	if _, err := engine.ConfirmMFA(context.Background(), challenge.ChallengeID, MFAProof{
		Method: MethodTOTP,
		Code:   codeForOffset(t, secret, cfg.TOTP, 1),
	}); !errors.Is(err, ErrChallengeExhausted) {
		t.Fatalf("expected ErrChallengeExhausted, got %v", err)
	}
	if mr.Exists("amc:" + challenge.ChallengeID) {
		t.Fatal("expected challenge to be destroyed on exhaustion")
	}
	if _, err := engine.ConfirmMFA(context.Background(), challenge.ChallengeID, MFAProof{
		Method: MethodTOTP,
		Code:   codeForOffset(t, secret, cfg.TOTP, 1),
	}); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound after destruction, got %v", err)
	}
}

func TestConfirmMFAFailureReportsRemainingAttempts(t *testing.T) {
	cfg := engineTestConfig()
	cfg.Challenge.MaxAttempts = 3
	engine, _, _ := newTestEngine(t, cfg)

	userID := registerTestUser(t, engine, "hank@example.com", "correct-horse-battery")
	enableTOTP(t, engine, userID, cfg)

	challenge := openChallenge(t, engine, "hank@example.com", "correct-horse-battery")

	_, err := engine.ConfirmMFA(context.Background(), challenge.ChallengeID, MFAProof{
		Method: MethodTOTP,
		Code:   "000000",
	})
	if !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("expected ErrTOTPInvalid, got %v", err)
	}

	var attempt *MFAAttemptError
	if !errors.As(err, &attempt) {
		t.Fatalf("expected MFAAttemptError, got %T", err)
	}
	if attempt.Remaining != 2 {
		t.Fatalf("expected 2 remaining attempts, got %d", attempt.Remaining)
	}

	_, err = engine.ConfirmMFA(context.Background(), challenge.ChallengeID, MFAProof{
		Method: MethodTOTP,
		Code:   "000000",
	})
	if !errors.As(err, &attempt) || attempt.Remaining != 1 {
		t.Fatalf("expected 1 remaining attempt, got %v", err)
	}
}

func TestConfirmMFAUnenrolledMethodDoesNotConsumeAttempt(t *testing.T) {
	cfg := engineTestConfig()
	cfg.Challenge.MaxAttempts = 1
	engine, _, _ := newTestEngine(t, cfg)

	userID := registerTestUser(t, engine, "carol@example.com", "correct-horse-battery")
	secret := enableTOTP(t, engine, userID, cfg)

	challenge := openChallenge(t, engine, "carol@example.com", "correct-horse-battery")

	// face is not part of the challenge mask; rejection must be free.
	for i := 0; i < 3; i++ {
		if _, err := engine.ConfirmMFA(context.Background(), challenge.ChallengeID, MFAProof{
			Method: MethodFace,
			Sample: []byte{1, 2, 3},
		}); !errors.Is(err, ErrMethodNotAllowed) {
			t.Fatalf("expected ErrMethodNotAllowed, got %v", err)
		}
	}

	// The single attempt is still available.
	if _, err := engine.ConfirmMFA(context.Background(), challenge.ChallengeID, MFAProof{
		Method: MethodTOTP,
		Code:   codeForOffset(t, secret, cfg.TOTP, 1),
	}); err != nil {
		t.Fatalf("ConfirmMFA failed: %v", err)
	}
}

func TestConfirmMFAExpiredChallenge(t *testing.T) {
	cfg := engineTestConfig()
	cfg.Challenge.TTL = time.Second
	engine, _, mr := newTestEngine(t, cfg)

	userID := registerTestUser(t, engine, "dan@example.com", "correct-horse-battery")
	secret := enableTOTP(t, engine, userID, cfg)

	challenge := openChallenge(t, engine, "dan@example.com", "correct-horse-battery")

	mr.FastForward(2 * time.Second)

	if _, err := engine.ConfirmMFA(context.Background(), challenge.ChallengeID, MFAProof{
		Method: MethodTOTP,
		Code:   codeForOffset(t, secret, cfg.TOTP, 1),
	}); !errors.Is(err, ErrChallengeNotFound) && !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected expiry rejection, got %v", err)
	}
}

func TestConfirmMFATOTPReplayBlocked(t *testing.T) {
	cfg := engineTestConfig()
	engine, _, _ := newTestEngine(t, cfg)

	userID := registerTestUser(t, engine, "erin@example.com", "correct-horse-battery")
	secret := enableTOTP(t, engine, userID, cfg)

	code := codeForOffset(t, secret, cfg.TOTP, 1)

	first := openChallenge(t, engine, "erin@example.com", "correct-horse-battery")
	if _, err := engine.ConfirmMFA(context.Background(), first.ChallengeID, MFAProof{Method: MethodTOTP, Code: code}); err != nil {
		t.Fatalf("first ConfirmMFA failed: %v", err)
	}

	// The same code in a fresh challenge hits the one-code-per-step floor.
	second := openChallenge(t, engine, "erin@example.com", "correct-horse-battery")
	if _, err := engine.ConfirmMFA(context.Background(), second.ChallengeID, MFAProof{Method: MethodTOTP, Code: code}); !errors.Is(err, ErrVerificationReplay) {
		t.Fatalf("expected ErrVerificationReplay, got %v", err)
	}
}

func TestConfirmMFAWithBiometricFactor(t *testing.T) {
	cfg := engineTestConfig()
	engine, _, _ := newTestEngine(t, cfg)

	userID := registerTestUser(t, engine, "frank@example.com", "correct-horse-battery")

	sample := []byte("frank-face-embedding")
	if err := engine.EnrollFace(context.Background(), userID, [][]byte{sample}); err != nil {
		t.Fatalf("EnrollFace failed: %v", err)
	}

	challenge := openChallenge(t, engine, "frank@example.com", "correct-horse-battery")
	if len(challenge.Methods) != 1 || challenge.Methods[0] != MethodFace {
		t.Fatalf("expected methods [face], got %v", challenge.Methods)
	}

	// A foreign sample scores zero and fails the threshold.
	if _, err := engine.ConfirmMFA(context.Background(), challenge.ChallengeID, MFAProof{
		Method: MethodFace,
		Sample: []byte("someone-else"),
	}); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}

	confirmed, err := engine.ConfirmMFA(context.Background(), challenge.ChallengeID, MFAProof{
		Method: MethodFace,
		Sample: sample,
	})
	if err != nil {
		t.Fatalf("ConfirmMFA failed: %v", err)
	}
	if confirmed.UsedMethod != MethodFace {
		t.Fatalf("expected used method face, got %s", confirmed.UsedMethod)
	}
}

func TestBackupCodeHashesSaltedPerUser(t *testing.T) {
	if hashBackupCode("user-a", "ABCD2345") == hashBackupCode("user-b", "ABCD2345") {
		t.Fatal("expected distinct hashes for the same code under different users")
	}
	if hashBackupCode("user-a", "ABCD2345") != hashBackupCode("user-a", "ABCD2345") {
		t.Fatal("expected hashing to be deterministic")
	}
}

func TestConfirmMFABackupCode(t *testing.T) {
	cfg := engineTestConfig()
	engine, _, _ := newTestEngine(t, cfg)

	userID := registerTestUser(t, engine, "grace@example.com", "correct-horse-battery")

	codes, err := engine.GenerateBackupCodes(context.Background(), userID)
	if err != nil {
		t.Fatalf("GenerateBackupCodes failed: %v", err)
	}
	if len(codes) != cfg.BackupCode.Count {
		t.Fatalf("expected %d codes, got %d", cfg.BackupCode.Count, len(codes))
	}

	challenge := openChallenge(t, engine, "grace@example.com", "correct-horse-battery")
	if len(challenge.Methods) != 1 || challenge.Methods[0] != MethodBackupCode {
		t.Fatalf("expected methods [backup_code], got %v", challenge.Methods)
	}

	// Codes survive copy-paste formatting.
	sloppy := " " + codes[0][:4] + "-" + codes[0][4:] + " "
	confirmed, err := engine.ConfirmMFA(context.Background(), challenge.ChallengeID, MFAProof{
		Method: MethodBackupCode,
		Code:   sloppy,
	})
	if err != nil {
		t.Fatalf("ConfirmMFA failed: %v", err)
	}
	if confirmed.UsedMethod != MethodBackupCode {
		t.Fatalf("expected used method backup_code, got %s", confirmed.UsedMethod)
	}

	remaining, err := engine.RemainingBackupCodes(context.Background(), userID)
	if err != nil {
		t.Fatalf("RemainingBackupCodes failed: %v", err)
	}
	if remaining != cfg.BackupCode.Count-1 {
		t.Fatalf("expected %d remaining, got %d", cfg.BackupCode.Count-1, remaining)
	}

	// A consumed code never works again.
	second := openChallenge(t, engine, "grace@example.com", "correct-horse-battery")
	if _, err := engine.ConfirmMFA(context.Background(), second.ChallengeID, MFAProof{
		Method: MethodBackupCode,
		Code:   codes[0],
	}); !errors.Is(err, ErrBackupCodeInvalid) {
		t.Fatalf("expected ErrBackupCodeInvalid, got %v", err)
	}
}
