package goMFA

import (
	"context"
	"time"
)

// TOTPSetup carries the provisioning material for a pending authenticator
// enrollment. The secret is returned exactly once; callers render the URI as
// a QR code and discard both values after confirmation.
type TOTPSetup struct {
	SecretBase32 string `json:"secret_base32"`
	ProvisionURI string `json:"provision_uri"`
}

// BeginTOTPEnrollment generates a fresh authenticator secret for the user and
// stores it unverified. The factor stays inactive until a valid code confirms
// the authenticator holds the secret; beginning again replaces any pending
// secret.
//
// BeginTOTPEnrollment may return an error when input validation, dependency calls, or security checks fail.
// BeginTOTPEnrollment does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) BeginTOTPEnrollment(ctx context.Context, userID string) (*TOTPSetup, error) {
	if e == nil || e.totp == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.checkEnrollBudget(ctx, userID); err != nil {
		return nil, err
	}
	if err := e.checkAccountActive(ctx, userID); err != nil {
		return nil, err
	}

	existing, err := e.accounts.GetEnrollment(ctx, userID, MethodTOTP)
	if err == nil && existing != nil && existing.Verified {
		return nil, ErrAccountExists
	}

	account, err := e.accounts.GetAccountByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	secret, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	record := EnrollmentRecord{
		Method:    MethodTOTP,
		Secret:    secret,
		Verified:  false,
		CreatedAt: time.Now().Unix(),
	}
	if err := e.accounts.SaveEnrollment(ctx, userID, record); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventTOTPSetupRequested, true, userID, "", MethodTOTP, nil, nil)

	return &TOTPSetup{
		SecretBase32: secretBase32,
		ProvisionURI: e.totp.ProvisionURI(secretBase32, account.Email),
	}, nil
}

// ConfirmTOTPEnrollment activates a pending authenticator enrollment by
// proving the authenticator generates valid codes. The confirming code also
// seeds the replay floor so it cannot be replayed at login.
//
// ConfirmTOTPEnrollment may return an error when input validation, dependency calls, or security checks fail.
// ConfirmTOTPEnrollment does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, userID, code string) error {
	if e == nil || e.totp == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	if code == "" {
		return ErrTOTPInvalid
	}

	enrollment, err := e.accounts.GetEnrollment(ctx, userID, MethodTOTP)
	if err != nil || enrollment == nil || len(enrollment.Secret) == 0 {
		return ErrTOTPNotConfigured
	}
	if enrollment.Verified {
		return ErrAccountExists
	}

	ok, step, err := e.totp.VerifyCode(enrollment.Secret, code, time.Now())
	if err != nil || !ok {
		e.metricInc(MetricTOTPFailure)
		e.emitAudit(ctx, auditEventTOTPEnabled, false, userID, "", MethodTOTP, ErrTOTPInvalid, nil)
		return ErrTOTPInvalid
	}

	enrollment.Verified = true
	enrollment.LastUsedStep = step
	if err := e.accounts.SaveEnrollment(ctx, userID, *enrollment); err != nil {
		return err
	}

	e.metricInc(MetricEnrollmentAdded)
	e.emitAudit(ctx, auditEventTOTPEnabled, true, userID, "", MethodTOTP, nil, nil)
	return nil
}

// DisableTOTP removes the authenticator factor. The caller must confirm the
// account password so a hijacked session cannot silently strip the factor.
//
// DisableTOTP may return an error when input validation, dependency calls, or security checks fail.
// DisableTOTP does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) DisableTOTP(ctx context.Context, userID, password string) error {
	if e == nil || e.accounts == nil || e.passwordHash == nil {
		return ErrEngineNotReady
	}

	account, err := e.accounts.GetAccountByID(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}
	if statusErr := accountStatusToError(account.Status); statusErr != nil {
		return statusErr
	}

	match, err := e.passwordHash.Verify(password, account.PasswordHash)
	if err != nil || !match {
		e.emitAudit(ctx, auditEventTOTPDisabled, false, userID, "", MethodTOTP, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	enrollment, err := e.accounts.GetEnrollment(ctx, userID, MethodTOTP)
	if err != nil || enrollment == nil {
		return ErrTOTPNotConfigured
	}

	if err := e.accounts.DeleteEnrollment(ctx, userID, MethodTOTP); err != nil {
		return err
	}

	e.metricInc(MetricEnrollmentRemoved)
	e.emitAudit(ctx, auditEventTOTPDisabled, true, userID, "", MethodTOTP, nil, nil)
	return nil
}
