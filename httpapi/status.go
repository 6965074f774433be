package httpapi

import (
	"errors"
	"net/http"

	goMFA "github.com/MrEthical07/goMFA"
)

// statusForError maps engine sentinel errors onto HTTP status codes. Unknown
// errors become 500 without leaking detail.
func statusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, goMFA.ErrInvalidCredentials),
		errors.Is(err, goMFA.ErrUnauthorized),
		errors.Is(err, goMFA.ErrTokenInvalid),
		errors.Is(err, goMFA.ErrTokenClockSkew),
		errors.Is(err, goMFA.ErrRefreshInvalid),
		errors.Is(err, goMFA.ErrRefreshReuse),
		errors.Is(err, goMFA.ErrSessionNotFound):
		return http.StatusUnauthorized
	case isProofRejection(err):
		return http.StatusUnauthorized
	case errors.Is(err, goMFA.ErrAccountDisabled),
		errors.Is(err, goMFA.ErrAccountLocked),
		errors.Is(err, goMFA.ErrAccountDeleted):
		return http.StatusForbidden
	case errors.Is(err, goMFA.ErrLoginRateLimited),
		errors.Is(err, goMFA.ErrRefreshRateLimited),
		errors.Is(err, goMFA.ErrMFARateLimited),
		errors.Is(err, goMFA.ErrEnrollRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, goMFA.ErrChallengeNotFound),
		errors.Is(err, goMFA.ErrUserNotFound),
		errors.Is(err, goMFA.ErrDeviceNotFound),
		errors.Is(err, goMFA.ErrMethodNotEnrolled):
		return http.StatusNotFound
	case errors.Is(err, goMFA.ErrChallengeExpired),
		errors.Is(err, goMFA.ErrChallengeExhausted):
		return http.StatusGone
	case errors.Is(err, goMFA.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, goMFA.ErrPasswordPolicy),
		errors.Is(err, goMFA.ErrMethodNotAllowed),
		errors.Is(err, goMFA.ErrSampleInvalid),
		errors.Is(err, goMFA.ErrTOTPNotConfigured),
		errors.Is(err, goMFA.ErrTOTPPendingConfirm),
		errors.Is(err, goMFA.ErrBackupCodesNotConfigured),
		errors.Is(err, goMFA.ErrFingerprintMissing),
		errors.Is(err, goMFA.ErrDeviceTrustDisabled):
		return http.StatusBadRequest
	case errors.Is(err, goMFA.ErrSessionLimitExceeded),
		errors.Is(err, goMFA.ErrDeviceLimitExceeded):
		return http.StatusConflict
	case errors.Is(err, goMFA.ErrStrictBackendDown),
		errors.Is(err, goMFA.ErrChallengeUnavailable),
		errors.Is(err, goMFA.ErrDeviceUnavailable),
		errors.Is(err, goMFA.ErrBackupCodeUnavailable),
		errors.Is(err, goMFA.ErrHistoryUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// isProofRejection groups the verification-path failures that must stay
// indistinguishable to the client. Matcher timeouts fail closed and land
// here too; only the audit stream records the true reason.
func isProofRejection(err error) bool {
	return errors.Is(err, goMFA.ErrVerificationFailed) ||
		errors.Is(err, goMFA.ErrVerificationReplay) ||
		errors.Is(err, goMFA.ErrTOTPInvalid) ||
		errors.Is(err, goMFA.ErrBackupCodeInvalid) ||
		errors.Is(err, goMFA.ErrMatcherTimeout)
}
