package goMFA

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/MrEthical07/goMFA/internal"
)

// TrustDevice grants trust to the device identified by the fingerprint on the
// request context. A trusted device skips the secondary-factor challenge on
// later logins until the trust TTL lapses or the grant is revoked.
//
// TrustDevice may return an error when input validation, dependency calls, or security checks fail.
// TrustDevice does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) TrustDevice(ctx context.Context, userID, label string) error {
	if e == nil || e.deviceStore == nil {
		return ErrEngineNotReady
	}
	if err := e.checkAccountActive(ctx, userID); err != nil {
		return err
	}
	return e.grantDeviceTrust(ctx, userID, label)
}

// grantDeviceTrust is the shared grant path used by TrustDevice and the
// remember-device flow after a successful challenge.
func (e *Engine) grantDeviceTrust(ctx context.Context, userID, label string) error {
	if !e.config.DeviceTrust.Enabled {
		return ErrDeviceTrustDisabled
	}

	fingerprint := fingerprintFromContext(ctx)
	if fingerprint == "" {
		return ErrFingerprintMissing
	}
	hash := internal.HashBindingValue(fingerprint)

	if max := e.config.DeviceTrust.MaxDevicesPerUser; max > 0 {
		// A refreshed grant for a known device never counts against the cap.
		if _, err := e.deviceStore.Get(ctx, userID, hash); errors.Is(err, errDeviceNotFound) {
			count, countErr := e.deviceStore.Count(ctx, userID)
			if countErr != nil {
				return ErrDeviceUnavailable
			}
			if count >= max {
				return ErrDeviceLimitExceeded
			}
		} else if err != nil {
			return ErrDeviceUnavailable
		}
	}

	now := time.Now()
	rec := &deviceRecord{
		FingerprintHash: hash,
		Label:           label,
		Trusted:         true,
		GrantedAt:       now.Unix(),
		LastSeenAt:      now.Unix(),
		TrustedUntil:    now.Add(e.config.DeviceTrust.TrustTTL).Unix(),
	}
	if err := e.deviceStore.Grant(ctx, userID, rec, e.config.DeviceTrust.RetentionTTL); err != nil {
		return ErrDeviceUnavailable
	}

	e.metricInc(MetricDeviceTrusted)
	e.emitAudit(ctx, auditEventDeviceTrusted, true, userID, "", "", nil, func() map[string]string {
		return map[string]string{"device": encodeFingerprintHash(hash)}
	})
	return nil
}

// ListTrustedDevices returns every device the engine still tracks for the
// user, including revoked grants awaiting retention expiry.
//
// ListTrustedDevices may return an error when input validation, dependency calls, or security checks fail.
// ListTrustedDevices does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ListTrustedDevices(ctx context.Context, userID string) ([]DeviceRecord, error) {
	if e == nil || e.deviceStore == nil {
		return nil, ErrEngineNotReady
	}

	records, err := e.deviceStore.List(ctx, userID)
	if err != nil {
		return nil, ErrDeviceUnavailable
	}

	now := time.Now().Unix()
	out := make([]DeviceRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, DeviceRecord{
			FingerprintHash: encodeFingerprintHash(rec.FingerprintHash),
			Label:           rec.Label,
			Trusted:         rec.Trusted && now < rec.TrustedUntil,
			GrantedAt:       rec.GrantedAt,
			LastSeenAt:      rec.LastSeenAt,
			TrustedUntil:    rec.TrustedUntil,
		})
	}
	return out, nil
}

// RevokeDevice withdraws a trust grant but keeps the device visible in
// listings until its retention window lapses. The fingerprint hash is the
// encoded value returned by ListTrustedDevices.
//
// RevokeDevice may return an error when input validation, dependency calls, or security checks fail.
// RevokeDevice does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RevokeDevice(ctx context.Context, userID, fingerprintHash string) error {
	if e == nil || e.deviceStore == nil {
		return ErrEngineNotReady
	}

	hash, err := decodeFingerprintHash(fingerprintHash)
	if err != nil {
		return ErrDeviceNotFound
	}

	if err := e.deviceStore.Revoke(ctx, userID, hash); err != nil {
		if errors.Is(err, errDeviceNotFound) {
			return ErrDeviceNotFound
		}
		return ErrDeviceUnavailable
	}

	e.metricInc(MetricDeviceRevoked)
	e.emitAudit(ctx, auditEventDeviceRevoked, true, userID, "", "", nil, func() map[string]string {
		return map[string]string{"device": fingerprintHash}
	})
	return nil
}

// ForgetDevice removes a device record entirely.
//
// ForgetDevice may return an error when input validation, dependency calls, or security checks fail.
// ForgetDevice does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ForgetDevice(ctx context.Context, userID, fingerprintHash string) error {
	if e == nil || e.deviceStore == nil {
		return ErrEngineNotReady
	}

	hash, err := decodeFingerprintHash(fingerprintHash)
	if err != nil {
		return ErrDeviceNotFound
	}

	if _, err := e.deviceStore.Get(ctx, userID, hash); err != nil {
		if errors.Is(err, errDeviceNotFound) {
			return ErrDeviceNotFound
		}
		return ErrDeviceUnavailable
	}
	if _, err := e.deviceStore.Forget(ctx, userID, hash); err != nil {
		return ErrDeviceUnavailable
	}

	e.emitAudit(ctx, auditEventDeviceForgotten, true, userID, "", "", nil, func() map[string]string {
		return map[string]string{"device": fingerprintHash}
	})
	return nil
}

func decodeFingerprintHash(encoded string) ([32]byte, error) {
	var hash [32]byte
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(raw) != len(hash) {
		return hash, ErrDeviceNotFound
	}
	copy(hash[:], raw)
	return hash, nil
}
