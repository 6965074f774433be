package goMFA

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Codes use an alphabet without 0/O/1/I so spoken or transcribed codes
// survive. 32 symbols keeps the modulo unbiased.
const backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateBackupCodes mints a fresh batch of single-use recovery codes for
// the user. Any previous batch is invalidated atomically; the plaintext codes
// are returned exactly once and only their hashes are stored.
//
// GenerateBackupCodes may return an error when input validation, dependency calls, or security checks fail.
// GenerateBackupCodes does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) GenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.checkAccountActive(ctx, userID); err != nil {
		return nil, err
	}
	return e.replaceBackupCodes(ctx, userID)
}

// RegenerateBackupCodes replaces an existing batch after re-confirming the
// account password, so a hijacked session cannot rotate codes to lock the
// owner out of recovery.
//
// RegenerateBackupCodes may return an error when input validation, dependency calls, or security checks fail.
// RegenerateBackupCodes does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, password string) ([]string, error) {
	if e == nil || e.accounts == nil || e.passwordHash == nil {
		return nil, ErrEngineNotReady
	}

	account, err := e.accounts.GetAccountByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if statusErr := accountStatusToError(account.Status); statusErr != nil {
		return nil, statusErr
	}

	match, err := e.passwordHash.Verify(password, account.PasswordHash)
	if err != nil || !match {
		e.emitAudit(ctx, auditEventBackupCodesGenerated, false, userID, "", MethodBackupCode, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	return e.replaceBackupCodes(ctx, userID)
}

// RemainingBackupCodes reports how many unused codes the user still holds.
//
// RemainingBackupCodes may return an error when input validation, dependency calls, or security checks fail.
// RemainingBackupCodes does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RemainingBackupCodes(ctx context.Context, userID string) (int, error) {
	if e == nil || e.accounts == nil {
		return 0, ErrEngineNotReady
	}

	count, err := e.accounts.CountBackupCodes(ctx, userID)
	if err != nil {
		return 0, errors.Join(ErrBackupCodeUnavailable, err)
	}
	return count, nil
}

func (e *Engine) replaceBackupCodes(ctx context.Context, userID string) ([]string, error) {
	count := e.config.BackupCode.Count
	length := e.config.BackupCode.Length

	batchID := uuid.NewString()
	now := time.Now().Unix()

	codes := make([]string, 0, count)
	records := make([]BackupCodeRecord, 0, count)
	for i := 0; i < count; i++ {
		code, err := randomBackupCode(length)
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
		records = append(records, BackupCodeRecord{
			Hash:      hashBackupCode(userID, code),
			BatchID:   batchID,
			CreatedAt: now,
		})
	}

	if err := e.accounts.ReplaceBackupCodes(ctx, userID, batchID, records); err != nil {
		return nil, errors.Join(ErrBackupCodeUnavailable, err)
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, userID, "", MethodBackupCode, nil, func() map[string]string {
		return map[string]string{
			"batch_id": batchID,
			"count":    strconv.Itoa(count),
		}
	})

	return codes, nil
}

// hashBackupCode salts the code with the owning user so equal plaintexts
// never share a stored hash across accounts.
func hashBackupCode(userID, code string) [32]byte {
	return sha256.Sum256([]byte(userID + ":" + code))
}

func randomBackupCode(length int) (string, error) {
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	out := make([]byte, length)
	for i, b := range raw {
		out[i] = backupCodeAlphabet[int(b)%len(backupCodeAlphabet)]
	}
	return string(out), nil
}
