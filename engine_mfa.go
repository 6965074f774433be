package goMFA

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"
)

// ConfirmMFA completes a pending login challenge with a secondary-factor
// proof. The attempt budget is charged before the proof is evaluated, so an
// abandoned or crashed verification still costs an attempt. On success the
// challenge is destroyed and a token pair is issued; a challenge that has
// spent its budget is destroyed and every later call reports exhaustion.
//
// ConfirmMFA may return an error when input validation, dependency calls, or security checks fail.
// ConfirmMFA does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ConfirmMFA(ctx context.Context, challengeID string, proof MFAProof) (*LoginResult, error) {
	if e == nil || e.challengeStore == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Now()

	challenge, err := e.challengeStore.Get(ctx, challengeID)
	if err != nil {
		mapped := mapChallengeStoreError(err)
		if errors.Is(mapped, ErrChallengeExpired) {
			e.metricInc(MetricChallengeExpired)
		}
		e.emitAudit(ctx, auditEventMFAFailure, false, "", "", proof.Method, mapped, nil)
		return nil, mapped
	}

	if methodBit(proof.Method) == 0 || challenge.Methods&methodBit(proof.Method) == 0 {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, challenge.UserID, "", proof.Method, ErrMethodNotAllowed, nil)
		return nil, ErrMethodNotAllowed
	}

	// Charge the attempt before touching the proof.
	remaining, err := e.challengeStore.ConsumeAttempt(ctx, challengeID)
	if err != nil {
		mapped := mapChallengeStoreError(err)
		if errors.Is(mapped, ErrChallengeExhausted) {
			e.metricInc(MetricMFAAttemptsExceeded)
			e.emitAudit(ctx, auditEventMFAAttemptsExceeded, false, challenge.UserID, "", proof.Method, mapped, nil)
		} else {
			e.emitAudit(ctx, auditEventMFAFailure, false, challenge.UserID, "", proof.Method, mapped, nil)
		}
		return nil, mapped
	}

	confidence, verifyErr := e.verifyProof(ctx, challenge.UserID, &proof)
	if verifyErr != nil {
		e.metricInc(MetricMFAFailure)
		e.recordHistory(ctx, challenge.UserID, proof.Method, false, confidence, verifyErr)
		e.emitAudit(ctx, auditEventMFAFailure, false, challenge.UserID, "", proof.Method, verifyErr, func() map[string]string {
			return map[string]string{"remaining": strconv.Itoa(remaining)}
		})
		e.padFailureLatency(start)
		return nil, &MFAAttemptError{Err: verifyErr, Remaining: remaining}
	}

	// Success-path replay guard: only the caller that deletes the challenge
	// may mint tokens.
	deleted, err := e.challengeStore.Delete(ctx, challengeID)
	if err != nil {
		return nil, mapChallengeStoreError(err)
	}
	if !deleted {
		e.metricInc(MetricMFAReplayAttempt)
		e.emitAudit(ctx, auditEventMFAReplayBlocked, false, challenge.UserID, "", proof.Method, ErrVerificationReplay, nil)
		return nil, ErrVerificationReplay
	}

	account, err := e.accounts.GetAccountByID(ctx, challenge.UserID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if statusErr := accountStatusToError(account.Status); statusErr != nil {
		e.emitAudit(ctx, auditEventMFAFailure, false, account.UserID, "", proof.Method, statusErr, nil)
		return nil, statusErr
	}

	result, err := e.completeLogin(ctx, account, methodBit(proof.Method), proof.Method, false, confidence)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, account.UserID, "", proof.Method, nil, nil)

	if proof.RememberDevice {
		if err := e.grantDeviceTrust(ctx, account.UserID, proof.DeviceLabel); err != nil {
			// Trust grant failure never rolls back a completed login.
			log.Print("goMFA: device trust grant failed")
		} else {
			result.DeviceTrust = true
		}
	}

	return result, nil
}

func (e *Engine) verifyProof(ctx context.Context, userID string, proof *MFAProof) (float64, error) {
	switch proof.Method {
	case MethodFace, MethodVoice, MethodGesture, MethodKeystroke:
		return e.verifyBiometric(ctx, userID, proof)
	case MethodTOTP:
		return 0, e.verifyChallengeTOTP(ctx, userID, proof.Code)
	case MethodBackupCode:
		return 0, e.verifyBackupCode(ctx, userID, proof.Code)
	default:
		return 0, ErrMethodNotAllowed
	}
}

func (e *Engine) verifyBiometric(ctx context.Context, userID string, proof *MFAProof) (float64, error) {
	enrollment, err := e.accounts.GetEnrollment(ctx, userID, proof.Method)
	if err != nil {
		return 0, ErrMethodNotEnrolled
	}
	if enrollment == nil || !enrollment.Verified {
		return 0, ErrMethodNotEnrolled
	}

	return e.verifier.Verify(ctx, enrollment, proof)
}

func (e *Engine) verifyChallengeTOTP(ctx context.Context, userID, code string) error {
	enrollment, err := e.accounts.GetEnrollment(ctx, userID, MethodTOTP)
	if err != nil || enrollment == nil || len(enrollment.Secret) == 0 {
		return ErrTOTPNotConfigured
	}
	if !enrollment.Verified {
		return ErrTOTPPendingConfirm
	}

	ok, step, err := e.totp.VerifyCode(enrollment.Secret, code, time.Now())
	if err != nil || !ok {
		e.metricInc(MetricTOTPFailure)
		return ErrTOTPInvalid
	}

	if e.config.TOTP.EnforceReplay {
		// One code per time step: the floor only moves forward.
		if step <= enrollment.LastUsedStep {
			e.metricInc(MetricTOTPReplayBlocked)
			return ErrVerificationReplay
		}
		if err := e.accounts.SetTOTPLastUsedStep(ctx, userID, step); err != nil {
			return errors.Join(ErrTOTPInvalid, err)
		}
	}

	e.metricInc(MetricTOTPSuccess)
	return nil
}

func (e *Engine) verifyBackupCode(ctx context.Context, userID, code string) error {
	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckBackupCode(ctx, userID); err != nil {
			e.emitRateLimit(ctx, "backup_code", func() map[string]string {
				return map[string]string{"user_id": userID}
			})
			return ErrMFARateLimited
		}
	}

	normalized := normalizeBackupCode(code)
	if normalized == "" {
		return ErrBackupCodeInvalid
	}

	used, err := e.accounts.ConsumeBackupCode(ctx, userID, hashBackupCode(userID, normalized))
	if err != nil {
		return errors.Join(ErrBackupCodeUnavailable, err)
	}
	if !used {
		e.metricInc(MetricBackupCodeFailed)
		e.emitAudit(ctx, auditEventBackupCodeFailed, false, userID, "", MethodBackupCode, ErrBackupCodeInvalid, nil)
		if e.rateLimiter != nil {
			if recErr := e.rateLimiter.RecordBackupCodeFailure(ctx, userID); recErr != nil {
				return ErrMFARateLimited
			}
		}
		return ErrBackupCodeInvalid
	}

	if e.rateLimiter != nil {
		if err := e.rateLimiter.ResetBackupCode(ctx, userID); err != nil {
			log.Print("goMFA: backup code limiter reset failed")
		}
	}

	e.metricInc(MetricBackupCodeUsed)
	e.emitAudit(ctx, auditEventBackupCodeUsed, true, userID, "", MethodBackupCode, nil, nil)
	return nil
}

// normalizeBackupCode strips whitespace and separators so codes survive
// copy-paste formatting.
func normalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return code
}

// padFailureLatency holds failed verifications to a uniform floor so timing
// does not reveal which stage rejected the proof.
func (e *Engine) padFailureLatency(start time.Time) {
	floor := e.config.Verify.UniformFailureLatency
	if floor <= 0 {
		return
	}
	if elapsed := time.Since(start); elapsed < floor {
		time.Sleep(floor - elapsed)
	}
}
