package goMFA

import (
	"context"
	"strings"
	"time"
)

// EnrollFace derives and stores a face template from the given raw samples.
// The enrollment is active immediately; the next login will require a
// secondary factor.
//
// EnrollFace may return an error when input validation, dependency calls, or security checks fail.
// EnrollFace does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) EnrollFace(ctx context.Context, userID string, samples [][]byte) error {
	return e.enrollSimilarity(ctx, userID, MethodFace, samples)
}

// EnrollVoice derives and stores a voice template from the given raw samples.
//
// EnrollVoice may return an error when input validation, dependency calls, or security checks fail.
// EnrollVoice does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) EnrollVoice(ctx context.Context, userID string, samples [][]byte) error {
	return e.enrollSimilarity(ctx, userID, MethodVoice, samples)
}

func (e *Engine) enrollSimilarity(ctx context.Context, userID string, method Method, samples [][]byte) error {
	if e == nil || e.verifier == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	if err := e.checkEnrollBudget(ctx, userID); err != nil {
		return err
	}
	if err := e.checkAccountActive(ctx, userID); err != nil {
		return err
	}

	template, err := e.verifier.EnrollSimilarity(ctx, method, samples)
	if err != nil {
		e.emitAudit(ctx, auditEventEnrollmentAdded, false, userID, "", method, err, nil)
		return err
	}

	return e.saveEnrollment(ctx, userID, EnrollmentRecord{
		Method:      method,
		Template:    template,
		Verified:    true,
		SampleCount: len(samples),
		CreatedAt:   time.Now().Unix(),
	})
}

// EnrollGesture derives and stores a gesture template from one or more
// recorded point traces.
//
// EnrollGesture may return an error when input validation, dependency calls, or security checks fail.
// EnrollGesture does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) EnrollGesture(ctx context.Context, userID string, samples [][]GesturePoint) error {
	if e == nil || e.verifier == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	if err := e.checkEnrollBudget(ctx, userID); err != nil {
		return err
	}
	if err := e.checkAccountActive(ctx, userID); err != nil {
		return err
	}

	template, err := e.verifier.EnrollGesture(ctx, samples)
	if err != nil {
		e.emitAudit(ctx, auditEventEnrollmentAdded, false, userID, "", MethodGesture, err, nil)
		return err
	}

	return e.saveEnrollment(ctx, userID, EnrollmentRecord{
		Method:      MethodGesture,
		Template:    template,
		Verified:    true,
		SampleCount: len(samples),
		CreatedAt:   time.Now().Unix(),
	})
}

// EnrollKeystroke derives and stores a keystroke timing template from
// repeated typings of the passphrase. The passphrase itself is stored
// alongside the template; verification requires both the exact text and a
// matching timing profile.
//
// EnrollKeystroke may return an error when input validation, dependency calls, or security checks fail.
// EnrollKeystroke does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) EnrollKeystroke(ctx context.Context, userID, passphrase string, samples []KeystrokeSample) error {
	if e == nil || e.verifier == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	if strings.TrimSpace(passphrase) == "" {
		return ErrSampleInvalid
	}
	if err := e.checkEnrollBudget(ctx, userID); err != nil {
		return err
	}
	if err := e.checkAccountActive(ctx, userID); err != nil {
		return err
	}

	template, err := e.verifier.EnrollKeystroke(ctx, samples)
	if err != nil {
		e.emitAudit(ctx, auditEventEnrollmentAdded, false, userID, "", MethodKeystroke, err, nil)
		return err
	}

	return e.saveEnrollment(ctx, userID, EnrollmentRecord{
		Method:      MethodKeystroke,
		Template:    template,
		Passphrase:  passphrase,
		Verified:    true,
		SampleCount: len(samples),
		CreatedAt:   time.Now().Unix(),
	})
}

// Unenroll removes a secondary factor. Removing the last factor returns the
// account to password-only login.
//
// Unenroll may return an error when input validation, dependency calls, or security checks fail.
// Unenroll does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Unenroll(ctx context.Context, userID string, method Method) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	if methodBit(method) == 0 {
		return ErrMethodNotAllowed
	}

	enrollment, err := e.accounts.GetEnrollment(ctx, userID, method)
	if err != nil || enrollment == nil {
		return ErrMethodNotEnrolled
	}

	if err := e.accounts.DeleteEnrollment(ctx, userID, method); err != nil {
		return err
	}

	e.metricInc(MetricEnrollmentRemoved)
	e.emitAudit(ctx, auditEventEnrollmentRemoved, true, userID, "", method, nil, nil)
	return nil
}

// ListEnrollments returns the secondary factors currently active for a user.
// Templates, secrets, and passphrases never leave the provider.
//
// ListEnrollments may return an error when input validation, dependency calls, or security checks fail.
// ListEnrollments does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ListEnrollments(ctx context.Context, userID string) ([]Method, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	mask, err := e.enrolledMethodMask(ctx, userID)
	if err != nil {
		return nil, err
	}
	return methodsFromMask(mask), nil
}

func (e *Engine) checkEnrollBudget(ctx context.Context, userID string) error {
	if e.rateLimiter == nil {
		return nil
	}
	if err := e.rateLimiter.CheckEnroll(ctx, userID); err != nil {
		e.emitRateLimit(ctx, "enroll", func() map[string]string {
			return map[string]string{"user_id": userID}
		})
		return ErrEnrollRateLimited
	}
	return nil
}

func (e *Engine) checkAccountActive(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUserNotFound
	}
	account, err := e.accounts.GetAccountByID(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}
	return accountStatusToError(account.Status)
}

func (e *Engine) saveEnrollment(ctx context.Context, userID string, record EnrollmentRecord) error {
	if err := e.accounts.SaveEnrollment(ctx, userID, record); err != nil {
		e.emitAudit(ctx, auditEventEnrollmentAdded, false, userID, "", record.Method, err, nil)
		return err
	}

	e.metricInc(MetricEnrollmentAdded)
	e.emitAudit(ctx, auditEventEnrollmentAdded, true, userID, "", record.Method, nil, nil)
	return nil
}
