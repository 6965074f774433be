package goMFA

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fingerprintCtx(fp string) context.Context {
	return WithDeviceFingerprint(context.Background(), fp)
}

func TestTrustDeviceRequiresFingerprint(t *testing.T) {
	cfg := engineTestConfig()
	engine, _, _ := newTestEngine(t, cfg)

	userID := registerTestUser(t, engine, "alice@example.com", "correct-horse-battery")

	if err := engine.TrustDevice(context.Background(), userID, "laptop"); !errors.Is(err, ErrFingerprintMissing) {
		t.Fatalf("expected ErrFingerprintMissing, got %v", err)
	}
	if err := engine.TrustDevice(fingerprintCtx("device-a"), userID, "laptop"); err != nil {
		t.Fatalf("TrustDevice failed: %v", err)
	}

	devices, err := engine.ListTrustedDevices(context.Background(), userID)
	if err != nil {
		t.Fatalf("ListTrustedDevices failed: %v", err)
	}
	if len(devices) != 1 || !devices[0].Trusted || devices[0].Label != "laptop" {
		t.Fatalf("expected one trusted device, got %+v", devices)
	}
}

func TestTrustDeviceDisabledByConfig(t *testing.T) {
	cfg := engineTestConfig()
	cfg.DeviceTrust.Enabled = false
	engine, _, _ := newTestEngine(t, cfg)

	userID := registerTestUser(t, engine, "bob@example.com", "correct-horse-battery")

	if err := engine.TrustDevice(fingerprintCtx("device-a"), userID, ""); !errors.Is(err, ErrDeviceTrustDisabled) {
		t.Fatalf("expected ErrDeviceTrustDisabled, got %v", err)
	}
}

func TestTrustedDeviceBypassesChallenge(t *testing.T) {
	cfg := engineTestConfig()
	engine, _, _ := newTestEngine(t, cfg)

	userID := registerTestUser(t, engine, "carol@example.com", "correct-horse-battery")
	enableTOTP(t, engine, userID, cfg)
	if err := engine.TrustDevice(fingerprintCtx("carol-laptop"), userID, "laptop"); err != nil {
		t.Fatalf("TrustDevice failed: %v", err)
	}

	// The trusted fingerprint skips the challenge entirely.
	result, err := engine.Login(fingerprintCtx("carol-laptop"), "carol@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.MFARequired {
		t.Fatal("expected trusted device to bypass MFA")
	}
	if !result.DeviceTrust {
		t.Fatal("expected device trust flag on bypassed login")
	}

	// Any other fingerprint still steps up.
	result, err = engine.Login(fingerprintCtx("unknown-device"), "carol@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.MFARequired {
		t.Fatal("expected challenge for unknown device")
	}
}

func TestRememberDeviceDuringConfirmGrantsTrust(t *testing.T) {
	cfg := engineTestConfig()
	engine, _, _ := newTestEngine(t, cfg)

	userID := registerTestUser(t, engine, "dan@example.com", "correct-horse-battery")
	secret := enableTOTP(t, engine, userID, cfg)

	ctx := fingerprintCtx("dan-phone")
	result, err := engine.Login(ctx, "dan@example.com", "correct-horse-battery")
	if err != nil || !result.MFARequired {
		t.Fatalf("expected challenge, got %+v err=%v", result, err)
	}

	confirmed, err := engine.ConfirmMFA(ctx, result.ChallengeID, MFAProof{
		Method:         MethodTOTP,
		Code:           codeForOffset(t, secret, cfg.TOTP, 1),
		RememberDevice: true,
		DeviceLabel:    "phone",
	})
	if err != nil {
		t.Fatalf("ConfirmMFA failed: %v", err)
	}
	if !confirmed.DeviceTrust {
		t.Fatal("expected device trust grant on confirmation")
	}

	next, err := engine.Login(ctx, "dan@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if next.MFARequired {
		t.Fatal("expected remembered device to bypass MFA")
	}
}

func TestRevokeDeviceRestoresChallenge(t *testing.T) {
	cfg := engineTestConfig()
	engine, _, _ := newTestEngine(t, cfg)

	userID := registerTestUser(t, engine, "erin@example.com", "correct-horse-battery")
	enableTOTP(t, engine, userID, cfg)
	if err := engine.TrustDevice(fingerprintCtx("erin-tablet"), userID, "tablet"); err != nil {
		t.Fatalf("TrustDevice failed: %v", err)
	}

	devices, err := engine.ListTrustedDevices(context.Background(), userID)
	if err != nil || len(devices) != 1 {
		t.Fatalf("expected one device, got %+v err=%v", devices, err)
	}

	if err := engine.RevokeDevice(context.Background(), userID, devices[0].FingerprintHash); err != nil {
		t.Fatalf("RevokeDevice failed: %v", err)
	}

	result, err := engine.Login(fingerprintCtx("erin-tablet"), "erin@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.MFARequired {
		t.Fatal("expected challenge after revocation")
	}

	// The revoked record survives for audit until forgotten.
	devices, err = engine.ListTrustedDevices(context.Background(), userID)
	if err != nil || len(devices) != 1 || devices[0].Trusted {
		t.Fatalf("expected one untrusted record, got %+v err=%v", devices, err)
	}
	if err := engine.ForgetDevice(context.Background(), userID, devices[0].FingerprintHash); err != nil {
		t.Fatalf("ForgetDevice failed: %v", err)
	}
	devices, err = engine.ListTrustedDevices(context.Background(), userID)
	if err != nil || len(devices) != 0 {
		t.Fatalf("expected no records after forget, got %+v err=%v", devices, err)
	}
}

func TestExpiredTrustGrantNoLongerBypasses(t *testing.T) {
	cfg := engineTestConfig()
	cfg.DeviceTrust.TrustTTL = 50 * time.Millisecond
	engine, _, _ := newTestEngine(t, cfg)

	userID := registerTestUser(t, engine, "frank@example.com", "correct-horse-battery")
	enableTOTP(t, engine, userID, cfg)
	if err := engine.TrustDevice(fingerprintCtx("frank-pc"), userID, "pc"); err != nil {
		t.Fatalf("TrustDevice failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	result, err := engine.Login(fingerprintCtx("frank-pc"), "frank@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.MFARequired {
		t.Fatal("expected challenge after trust expiry")
	}
}

func TestDeviceCapCountsNewDevicesOnly(t *testing.T) {
	cfg := engineTestConfig()
	cfg.DeviceTrust.MaxDevicesPerUser = 2
	engine, _, _ := newTestEngine(t, cfg)

	userID := registerTestUser(t, engine, "grace@example.com", "correct-horse-battery")

	for i := 0; i < 2; i++ {
		if err := engine.TrustDevice(fingerprintCtx(fmt.Sprintf("device-%d", i)), userID, ""); err != nil {
			t.Fatalf("TrustDevice %d failed: %v", i, err)
		}
	}
	if err := engine.TrustDevice(fingerprintCtx("device-2"), userID, ""); !errors.Is(err, ErrDeviceLimitExceeded) {
		t.Fatalf("expected ErrDeviceLimitExceeded, got %v", err)
	}
	// Refreshing a known device never counts against the cap.
	if err := engine.TrustDevice(fingerprintCtx("device-0"), userID, "renamed"); err != nil {
		t.Fatalf("expected refresh of known device to succeed, got %v", err)
	}
}
