package goMFA

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginRateLimited     = "login_rate_limited"
	auditEventRegisterSuccess      = "register_success"
	auditEventRegisterFailure      = "register_failure"
	auditEventMFARequired          = "mfa_required"
	auditEventMFASuccess           = "mfa_success"
	auditEventMFAFailure           = "mfa_failure"
	auditEventMFAAttemptsExceeded  = "mfa_attempts_exceeded"
	auditEventMFAReplayBlocked     = "mfa_replay_blocked"
	auditEventEnrollmentAdded      = "enrollment_added"
	auditEventEnrollmentRemoved    = "enrollment_removed"
	auditEventTOTPSetupRequested   = "totp_setup_requested"
	auditEventTOTPEnabled          = "totp_enabled"
	auditEventTOTPDisabled         = "totp_disabled"
	auditEventBackupCodesGenerated = "backup_codes_generated"
	auditEventBackupCodeUsed       = "backup_code_used"
	auditEventBackupCodeFailed     = "backup_code_failed"
	auditEventDeviceTrusted        = "device_trusted"
	auditEventDeviceTrustBypass    = "device_trust_bypass"
	auditEventDeviceRevoked        = "device_revoked"
	auditEventDeviceForgotten      = "device_forgotten"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshRateLimited   = "refresh_rate_limited"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventLogoutSession        = "logout_session"
	auditEventLogoutAll            = "logout_all"
	auditEventRateLimitTriggered   = "rate_limit_triggered"
	auditEventBindingAnomaly       = "session_binding_anomaly"
)

// AuditErrorCode defines a public type used by goMFA APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrUnauthorized          AuditErrorCode = "unauthorized"
	auditErrInvalidCredentials    AuditErrorCode = "invalid_credentials"
	auditErrRateLimited           AuditErrorCode = "rate_limited"
	auditErrRefreshReuse          AuditErrorCode = "refresh_reuse"
	auditErrInvalidToken          AuditErrorCode = "invalid_token"
	auditErrSessionNotFound       AuditErrorCode = "session_not_found"
	auditErrUserNotFound          AuditErrorCode = "user_not_found"
	auditErrAccountDisabled       AuditErrorCode = "account_disabled"
	auditErrAccountLocked         AuditErrorCode = "account_locked"
	auditErrAccountDeleted        AuditErrorCode = "account_deleted"
	auditErrPasswordPolicy        AuditErrorCode = "password_policy"
	auditErrChallengeNotFound     AuditErrorCode = "challenge_not_found"
	auditErrChallengeExpired      AuditErrorCode = "challenge_expired"
	auditErrChallengeExhausted    AuditErrorCode = "challenge_exhausted"
	auditErrMethodNotEnrolled     AuditErrorCode = "method_not_enrolled"
	auditErrMethodNotAllowed      AuditErrorCode = "method_not_allowed"
	auditErrVerificationFailed    AuditErrorCode = "verification_failed"
	auditErrVerificationReplay    AuditErrorCode = "verification_replay"
	auditErrMatcherMissing        AuditErrorCode = "matcher_missing"
	auditErrMatcherTimeout        AuditErrorCode = "matcher_timeout"
	auditErrSampleInvalid         AuditErrorCode = "sample_invalid"
	auditErrTOTPInvalid           AuditErrorCode = "totp_invalid"
	auditErrBackupCodeInvalid     AuditErrorCode = "backup_code_invalid"
	auditErrSessionCreationFailed AuditErrorCode = "session_creation_failed"
	auditErrSessionInvalidation   AuditErrorCode = "session_invalidation_failed"
	auditErrDeviceNotFound        AuditErrorCode = "device_not_found"
	auditErrFingerprintMissing    AuditErrorCode = "fingerprint_missing"
	auditErrDuplicate             AuditErrorCode = "duplicate"
	auditErrUnavailable           AuditErrorCode = "backend_unavailable"
	auditErrInternal              AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	method Method,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		Method:    string(method),
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(
	ctx context.Context,
	scope string,
	metadataBuilder func() map[string]string,
) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", "", nil, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrRefreshRateLimited),
		errors.Is(err, ErrMFARateLimited),
		errors.Is(err, ErrEnrollRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrRefreshInvalid),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenClockSkew):
		return auditErrInvalidToken
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountDeleted):
		return auditErrAccountDeleted
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrChallengeNotFound):
		return auditErrChallengeNotFound
	case errors.Is(err, ErrChallengeExpired):
		return auditErrChallengeExpired
	case errors.Is(err, ErrChallengeExhausted):
		return auditErrChallengeExhausted
	case errors.Is(err, ErrMethodNotEnrolled):
		return auditErrMethodNotEnrolled
	case errors.Is(err, ErrMethodNotAllowed):
		return auditErrMethodNotAllowed
	case errors.Is(err, ErrVerificationReplay):
		return auditErrVerificationReplay
	case errors.Is(err, ErrMatcherMissing):
		return auditErrMatcherMissing
	case errors.Is(err, ErrMatcherTimeout):
		return auditErrMatcherTimeout
	case errors.Is(err, ErrSampleInvalid):
		return auditErrSampleInvalid
	case errors.Is(err, ErrTOTPInvalid),
		errors.Is(err, ErrTOTPNotConfigured),
		errors.Is(err, ErrTOTPPendingConfirm):
		return auditErrTOTPInvalid
	case errors.Is(err, ErrBackupCodeInvalid),
		errors.Is(err, ErrBackupCodesNotConfigured):
		return auditErrBackupCodeInvalid
	case errors.Is(err, ErrVerificationFailed):
		return auditErrVerificationFailed
	case errors.Is(err, ErrSessionCreationFailed):
		return auditErrSessionCreationFailed
	case errors.Is(err, ErrSessionInvalidationFailed):
		return auditErrSessionInvalidation
	case errors.Is(err, ErrDeviceNotFound):
		return auditErrDeviceNotFound
	case errors.Is(err, ErrFingerprintMissing):
		return auditErrFingerprintMissing
	case errors.Is(err, ErrAccountExists),
		errors.Is(err, ErrProviderDuplicateIdentifier):
		return auditErrDuplicate
	case errors.Is(err, ErrChallengeUnavailable),
		errors.Is(err, ErrBackupCodeUnavailable),
		errors.Is(err, ErrDeviceUnavailable),
		errors.Is(err, ErrHistoryUnavailable),
		errors.Is(err, ErrStrictBackendDown):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
