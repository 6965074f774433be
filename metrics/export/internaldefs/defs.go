package internaldefs

import (
	goMFA "github.com/MrEthical07/goMFA"
)

// CounterDef defines a public type used by goMFA APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   goMFA.MetricID
	Name string
	Help string
}

// HistogramDef defines a public type used by goMFA APIs.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   goMFA.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the authentication engine.
var CounterDefs = []CounterDef{
	{ID: goMFA.MetricLoginSuccess, Name: "gomfa_login_success_total", Help: "Successful login attempts."},
	{ID: goMFA.MetricLoginFailure, Name: "gomfa_login_failure_total", Help: "Failed login attempts."},
	{ID: goMFA.MetricLoginRateLimited, Name: "gomfa_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: goMFA.MetricRegisterSuccess, Name: "gomfa_register_success_total", Help: "Successful account registrations."},
	{ID: goMFA.MetricRegisterDuplicate, Name: "gomfa_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: goMFA.MetricMFARequired, Name: "gomfa_mfa_required_total", Help: "Login flows requiring a secondary factor."},
	{ID: goMFA.MetricMFASuccess, Name: "gomfa_mfa_success_total", Help: "Successful challenge confirmations."},
	{ID: goMFA.MetricMFAFailure, Name: "gomfa_mfa_failure_total", Help: "Failed challenge confirmations."},
	{ID: goMFA.MetricMFAAttemptsExceeded, Name: "gomfa_mfa_attempts_exceeded_total", Help: "Challenges invalidated due to attempt cap."},
	{ID: goMFA.MetricMFAReplayAttempt, Name: "gomfa_mfa_replay_attempt_total", Help: "Detected challenge replay attempts."},
	{ID: goMFA.MetricChallengeExpired, Name: "gomfa_challenge_expired_total", Help: "Confirmations against expired challenges."},
	{ID: goMFA.MetricTOTPSuccess, Name: "gomfa_totp_success_total", Help: "Successful TOTP verifications."},
	{ID: goMFA.MetricTOTPFailure, Name: "gomfa_totp_failure_total", Help: "Failed TOTP verifications."},
	{ID: goMFA.MetricTOTPReplayBlocked, Name: "gomfa_totp_replay_blocked_total", Help: "TOTP codes rejected by the replay floor."},
	{ID: goMFA.MetricBackupCodeUsed, Name: "gomfa_backup_code_used_total", Help: "Successful backup-code authentications."},
	{ID: goMFA.MetricBackupCodeFailed, Name: "gomfa_backup_code_failed_total", Help: "Failed backup-code authentications."},
	{ID: goMFA.MetricBackupCodeRegenerated, Name: "gomfa_backup_code_regenerated_total", Help: "Backup-code batch replacements."},
	{ID: goMFA.MetricEnrollmentAdded, Name: "gomfa_enrollment_added_total", Help: "Secondary-factor enrollments."},
	{ID: goMFA.MetricEnrollmentRemoved, Name: "gomfa_enrollment_removed_total", Help: "Secondary-factor removals."},
	{ID: goMFA.MetricDeviceTrusted, Name: "gomfa_device_trusted_total", Help: "Device trust grants."},
	{ID: goMFA.MetricDeviceTrustBypass, Name: "gomfa_device_trust_bypass_total", Help: "Challenges skipped for trusted devices."},
	{ID: goMFA.MetricDeviceRevoked, Name: "gomfa_device_revoked_total", Help: "Device trust revocations."},
	{ID: goMFA.MetricRefreshSuccess, Name: "gomfa_refresh_success_total", Help: "Successful refresh operations."},
	{ID: goMFA.MetricRefreshFailure, Name: "gomfa_refresh_failure_total", Help: "Failed refresh operations."},
	{ID: goMFA.MetricRefreshReuseDetected, Name: "gomfa_refresh_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: goMFA.MetricRefreshRateLimited, Name: "gomfa_refresh_rate_limited_total", Help: "Rate-limited refresh attempts."},
	{ID: goMFA.MetricReplayDetected, Name: "gomfa_replay_detected_total", Help: "Detected replay attempts."},
	{ID: goMFA.MetricRateLimitHit, Name: "gomfa_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
	{ID: goMFA.MetricSessionCreated, Name: "gomfa_session_created_total", Help: "Created sessions."},
	{ID: goMFA.MetricSessionInvalidated, Name: "gomfa_session_invalidated_total", Help: "Invalidated sessions."},
	{ID: goMFA.MetricLogout, Name: "gomfa_logout_total", Help: "Single-session logout operations."},
	{ID: goMFA.MetricLogoutAll, Name: "gomfa_logout_all_total", Help: "Logout-all operations."},
}

// HistogramDefs is an exported constant or variable used by the authentication engine.
var HistogramDefs = []HistogramDef{
	{ID: goMFA.MetricValidateLatency, Name: "gomfa_validate_latency_seconds", Help: "Validate latency histogram."},
}

// HistogramBounds is an exported constant or variable used by the authentication engine.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is an exported constant or variable used by the authentication engine.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets describes the normalizebuckets operation and its observable behavior.
//
// NormalizeBuckets may return an error when input validation, dependency calls, or security checks fail.
// NormalizeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets may return an error when input validation, dependency calls, or security checks fail.
// CumulativeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
