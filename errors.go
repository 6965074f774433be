package goMFA

import "errors"

var (
	// ErrEngineNotReady is an exported constant or variable used by the authentication engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrUnauthorized is an exported constant or variable used by the authentication engine.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is an exported constant or variable used by the authentication engine.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrUserNotFound is an exported constant or variable used by the authentication engine.
	ErrUserNotFound = errors.New("user not found")
	// ErrAccountExists is an exported constant or variable used by the authentication engine.
	ErrAccountExists = errors.New("account already exists")
	// ErrProviderDuplicateIdentifier is an exported constant or variable used by the authentication engine.
	ErrProviderDuplicateIdentifier = errors.New("provider: duplicate identifier")
	// ErrPasswordPolicy is an exported constant or variable used by the authentication engine.
	ErrPasswordPolicy = errors.New("password does not meet policy")
	// ErrAccountDisabled is an exported constant or variable used by the authentication engine.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountLocked is an exported constant or variable used by the authentication engine.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDeleted is an exported constant or variable used by the authentication engine.
	ErrAccountDeleted = errors.New("account deleted")

	// ErrLoginRateLimited is an exported constant or variable used by the authentication engine.
	ErrLoginRateLimited = errors.New("too many login attempts")
	// ErrRefreshRateLimited is an exported constant or variable used by the authentication engine.
	ErrRefreshRateLimited = errors.New("too many refresh attempts")
	// ErrMFARateLimited is an exported constant or variable used by the authentication engine.
	ErrMFARateLimited = errors.New("too many verification attempts")
	// ErrEnrollRateLimited is an exported constant or variable used by the authentication engine.
	ErrEnrollRateLimited = errors.New("too many enrollment attempts")

	// ErrChallengeNotFound is an exported constant or variable used by the authentication engine.
	ErrChallengeNotFound = errors.New("mfa challenge not found")
	// ErrChallengeExpired is an exported constant or variable used by the authentication engine.
	ErrChallengeExpired = errors.New("mfa challenge expired")
	// ErrChallengeExhausted is an exported constant or variable used by the authentication engine.
	ErrChallengeExhausted = errors.New("mfa challenge attempts exhausted")
	// ErrChallengeUnavailable is an exported constant or variable used by the authentication engine.
	ErrChallengeUnavailable = errors.New("mfa challenge backend unavailable")
	// ErrMethodNotEnrolled is an exported constant or variable used by the authentication engine.
	ErrMethodNotEnrolled = errors.New("method not enrolled for user")
	// ErrMethodNotAllowed is an exported constant or variable used by the authentication engine.
	ErrMethodNotAllowed = errors.New("method not allowed for challenge")
	// ErrVerificationFailed is an exported constant or variable used by the authentication engine.
	ErrVerificationFailed = errors.New("verification failed")
	// ErrVerificationReplay is an exported constant or variable used by the authentication engine.
	ErrVerificationReplay = errors.New("verification code already used")

	// ErrMatcherMissing is an exported constant or variable used by the authentication engine.
	ErrMatcherMissing = errors.New("no matcher registered for method")
	// ErrMatcherTimeout is an exported constant or variable used by the authentication engine.
	ErrMatcherTimeout = errors.New("matcher deadline exceeded")
	// ErrSampleInvalid is an exported constant or variable used by the authentication engine.
	ErrSampleInvalid = errors.New("biometric sample invalid or too small")

	// ErrTOTPNotConfigured is an exported constant or variable used by the authentication engine.
	ErrTOTPNotConfigured = errors.New("totp not configured")
	// ErrTOTPPendingConfirm is an exported constant or variable used by the authentication engine.
	ErrTOTPPendingConfirm = errors.New("totp enrollment pending confirmation")
	// ErrTOTPInvalid is an exported constant or variable used by the authentication engine.
	ErrTOTPInvalid = errors.New("totp code invalid")

	// ErrBackupCodesNotConfigured is an exported constant or variable used by the authentication engine.
	ErrBackupCodesNotConfigured = errors.New("backup codes not configured")
	// ErrBackupCodeInvalid is an exported constant or variable used by the authentication engine.
	ErrBackupCodeInvalid = errors.New("backup code invalid")
	// ErrBackupCodeUnavailable is an exported constant or variable used by the authentication engine.
	ErrBackupCodeUnavailable = errors.New("backup code backend unavailable")

	// ErrTokenInvalid is an exported constant or variable used by the authentication engine.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenClockSkew is an exported constant or variable used by the authentication engine.
	ErrTokenClockSkew = errors.New("token clock skew out of bounds")
	// ErrSessionNotFound is an exported constant or variable used by the authentication engine.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionCreationFailed is an exported constant or variable used by the authentication engine.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrSessionInvalidationFailed is an exported constant or variable used by the authentication engine.
	ErrSessionInvalidationFailed = errors.New("session invalidation failed")
	// ErrSessionLimitExceeded is an exported constant or variable used by the authentication engine.
	ErrSessionLimitExceeded = errors.New("session limit exceeded")
	// ErrInvalidRouteMode is an exported constant or variable used by the authentication engine.
	ErrInvalidRouteMode = errors.New("invalid route validation mode")
	// ErrRefreshInvalid is an exported constant or variable used by the authentication engine.
	ErrRefreshInvalid = errors.New("refresh token invalid")
	// ErrRefreshReuse is an exported constant or variable used by the authentication engine.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrStrictBackendDown is an exported constant or variable used by the authentication engine.
	ErrStrictBackendDown = errors.New("strict validation backend unavailable")

	// ErrDeviceTrustDisabled is an exported constant or variable used by the authentication engine.
	ErrDeviceTrustDisabled = errors.New("device trust disabled")
	// ErrDeviceNotFound is an exported constant or variable used by the authentication engine.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrDeviceUnavailable is an exported constant or variable used by the authentication engine.
	ErrDeviceUnavailable = errors.New("device trust backend unavailable")
	// ErrDeviceLimitExceeded is an exported constant or variable used by the authentication engine.
	ErrDeviceLimitExceeded = errors.New("device limit exceeded")
	// ErrFingerprintMissing is an exported constant or variable used by the authentication engine.
	ErrFingerprintMissing = errors.New("device fingerprint missing")

	// ErrHistoryUnavailable is an exported constant or variable used by the authentication engine.
	ErrHistoryUnavailable = errors.New("login history backend unavailable")
)

// MFAAttemptError wraps a failed proof verification together with the attempt
// budget still left on the challenge, so callers can tell the user how many
// tries remain. errors.Is sees through it to the underlying sentinel.
type MFAAttemptError struct {
	Err       error
	Remaining int
}

func (e *MFAAttemptError) Error() string { return e.Err.Error() }

// Unwrap describes the unwrap operation and its observable behavior.
func (e *MFAAttemptError) Unwrap() error { return e.Err }
