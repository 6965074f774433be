package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/google/uuid"
)

// Provider is an in-memory account store. The zero value is not usable; call
// [New].
//
// Provider instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Provider struct {
	mu sync.RWMutex

	accounts    map[string]goMFA.AccountRecord
	identifiers map[string]string
	enrollments map[string]map[goMFA.Method]goMFA.EnrollmentRecord
	backupCodes map[string][]backupCode
}

type backupCode struct {
	record goMFA.BackupCodeRecord
	used   bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Provider {
	return &Provider{
		accounts:    make(map[string]goMFA.AccountRecord),
		identifiers: make(map[string]string),
		enrollments: make(map[string]map[goMFA.Method]goMFA.EnrollmentRecord),
		backupCodes: make(map[string][]backupCode),
	}
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// GetAccountByIdentifier describes the getaccountbyidentifier operation and its observable behavior.
//
// GetAccountByIdentifier may return an error when input validation, dependency calls, or security checks fail.
// GetAccountByIdentifier does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) GetAccountByIdentifier(_ context.Context, identifier string) (goMFA.AccountRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	userID, ok := p.identifiers[normalizeIdentifier(identifier)]
	if !ok {
		return goMFA.AccountRecord{}, goMFA.ErrUserNotFound
	}
	return p.accounts[userID], nil
}

// GetAccountByID describes the getaccountbyid operation and its observable behavior.
//
// GetAccountByID may return an error when input validation, dependency calls, or security checks fail.
// GetAccountByID does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) GetAccountByID(_ context.Context, userID string) (goMFA.AccountRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	account, ok := p.accounts[userID]
	if !ok {
		return goMFA.AccountRecord{}, goMFA.ErrUserNotFound
	}
	return account, nil
}

// CreateAccount describes the createaccount operation and its observable behavior.
//
// CreateAccount may return an error when input validation, dependency calls, or security checks fail.
// CreateAccount does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) CreateAccount(_ context.Context, input goMFA.CreateAccountInput) (goMFA.AccountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	email := normalizeIdentifier(input.Email)
	username := normalizeIdentifier(input.Username)
	if _, exists := p.identifiers[email]; exists {
		return goMFA.AccountRecord{}, goMFA.ErrProviderDuplicateIdentifier
	}
	if username != "" {
		if _, exists := p.identifiers[username]; exists {
			return goMFA.AccountRecord{}, goMFA.ErrProviderDuplicateIdentifier
		}
	}

	account := goMFA.AccountRecord{
		UserID:       uuid.NewString(),
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		Status:       goMFA.AccountActive,
		CreatedAt:    time.Now().Unix(),
	}

	p.accounts[account.UserID] = account
	p.identifiers[email] = account.UserID
	if username != "" {
		p.identifiers[username] = account.UserID
	}
	return account, nil
}

// UpdatePasswordHash describes the updatepasswordhash operation and its observable behavior.
//
// UpdatePasswordHash may return an error when input validation, dependency calls, or security checks fail.
// UpdatePasswordHash does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	account, ok := p.accounts[userID]
	if !ok {
		return goMFA.ErrUserNotFound
	}
	account.PasswordHash = newHash
	p.accounts[userID] = account
	return nil
}

// TouchLastLogin describes the touchlastlogin operation and its observable behavior.
//
// TouchLastLogin may return an error when input validation, dependency calls, or security checks fail.
// TouchLastLogin does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) TouchLastLogin(_ context.Context, userID string, when int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	account, ok := p.accounts[userID]
	if !ok {
		return goMFA.ErrUserNotFound
	}
	account.LastLoginAt = when
	p.accounts[userID] = account
	return nil
}

// SetStatus flips the lifecycle status of an account. Not part of the
// [goMFA.AccountProvider] contract; tests use it to simulate disabled and
// locked accounts.
func (p *Provider) SetStatus(userID string, status goMFA.AccountStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if account, ok := p.accounts[userID]; ok {
		account.Status = status
		p.accounts[userID] = account
	}
}

// GetEnrollment describes the getenrollment operation and its observable behavior.
//
// GetEnrollment may return an error when input validation, dependency calls, or security checks fail.
// GetEnrollment does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) GetEnrollment(_ context.Context, userID string, method goMFA.Method) (*goMFA.EnrollmentRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	record, ok := p.enrollments[userID][method]
	if !ok {
		return nil, goMFA.ErrMethodNotEnrolled
	}
	out := record
	return &out, nil
}

// SaveEnrollment describes the saveenrollment operation and its observable behavior.
//
// SaveEnrollment may return an error when input validation, dependency calls, or security checks fail.
// SaveEnrollment does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) SaveEnrollment(_ context.Context, userID string, record goMFA.EnrollmentRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.accounts[userID]; !ok {
		return goMFA.ErrUserNotFound
	}
	if p.enrollments[userID] == nil {
		p.enrollments[userID] = make(map[goMFA.Method]goMFA.EnrollmentRecord)
	}
	p.enrollments[userID][record.Method] = record
	return nil
}

// DeleteEnrollment describes the deleteenrollment operation and its observable behavior.
//
// DeleteEnrollment may return an error when input validation, dependency calls, or security checks fail.
// DeleteEnrollment does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) DeleteEnrollment(_ context.Context, userID string, method goMFA.Method) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.enrollments[userID][method]; !ok {
		return goMFA.ErrMethodNotEnrolled
	}
	delete(p.enrollments[userID], method)
	return nil
}

// ListEnrollments describes the listenrollments operation and its observable behavior.
//
// ListEnrollments may return an error when input validation, dependency calls, or security checks fail.
// ListEnrollments does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) ListEnrollments(_ context.Context, userID string) ([]goMFA.EnrollmentRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]goMFA.EnrollmentRecord, 0, len(p.enrollments[userID]))
	for _, record := range p.enrollments[userID] {
		out = append(out, record)
	}
	return out, nil
}

// SetTOTPLastUsedStep describes the settotplastusedstep operation and its observable behavior.
//
// SetTOTPLastUsedStep may return an error when input validation, dependency calls, or security checks fail.
// SetTOTPLastUsedStep does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) SetTOTPLastUsedStep(_ context.Context, userID string, step int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	record, ok := p.enrollments[userID][goMFA.MethodTOTP]
	if !ok {
		return goMFA.ErrTOTPNotConfigured
	}
	if step > record.LastUsedStep {
		record.LastUsedStep = step
		p.enrollments[userID][goMFA.MethodTOTP] = record
	}
	return nil
}

// GetBackupCodes describes the getbackupcodes operation and its observable behavior.
//
// GetBackupCodes may return an error when input validation, dependency calls, or security checks fail.
// GetBackupCodes does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) GetBackupCodes(_ context.Context, userID string) ([]goMFA.BackupCodeRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	codes := p.backupCodes[userID]
	out := make([]goMFA.BackupCodeRecord, 0, len(codes))
	for _, code := range codes {
		if !code.used {
			out = append(out, code.record)
		}
	}
	return out, nil
}

// ReplaceBackupCodes describes the replacebackupcodes operation and its observable behavior.
//
// ReplaceBackupCodes may return an error when input validation, dependency calls, or security checks fail.
// ReplaceBackupCodes does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) ReplaceBackupCodes(_ context.Context, userID, batchID string, records []goMFA.BackupCodeRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.accounts[userID]; !ok {
		return goMFA.ErrUserNotFound
	}

	codes := make([]backupCode, 0, len(records))
	for _, record := range records {
		record.BatchID = batchID
		codes = append(codes, backupCode{record: record})
	}
	p.backupCodes[userID] = codes
	return nil
}

// ConsumeBackupCode describes the consumebackupcode operation and its observable behavior.
//
// ConsumeBackupCode may return an error when input validation, dependency calls, or security checks fail.
// ConsumeBackupCode does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) ConsumeBackupCode(_ context.Context, userID string, hash [32]byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	codes := p.backupCodes[userID]
	for i := range codes {
		if codes[i].used || codes[i].record.Hash != hash {
			continue
		}
		codes[i].used = true
		return true, nil
	}
	return false, nil
}

// CountBackupCodes describes the countbackupcodes operation and its observable behavior.
//
// CountBackupCodes may return an error when input validation, dependency calls, or security checks fail.
// CountBackupCodes does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) CountBackupCodes(_ context.Context, userID string) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var count int
	for _, code := range p.backupCodes[userID] {
		if !code.used {
			count++
		}
	}
	return count, nil
}

var _ goMFA.AccountProvider = (*Provider)(nil)
