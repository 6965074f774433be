package goMFA

import (
	"bytes"
	"context"
	"encoding/base32"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// engineTestConfig keeps argon2 at its floor so account creation stays cheap
// in tests.
func engineTestConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.HMACSecret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Argon2Memory = 8192
	cfg.Password.Argon2Time = 1
	cfg.Password.Argon2Threads = 1
	cfg.Verify.UniformFailureLatency = 0
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *mockAccountProvider, *miniredis.Miniredis) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	provider := newMockAccountProvider()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountProvider(provider).
		WithMatchers(Matchers{
			Face:      &stubSimilarityMatcher{},
			Voice:     &stubSimilarityMatcher{},
			Gesture:   &stubGestureMatcher{},
			Keystroke: &stubKeystrokeMatcher{},
		}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, provider, mr
}

func registerTestUser(t *testing.T, engine *Engine, email, pass string) string {
	t.Helper()

	username, _, _ := strings.Cut(email, "@")
	account, err := engine.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    email,
		Password: pass,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return account.UserID
}

func codeForNow(t *testing.T, secretBase32 string, cfg TOTPConfig) string {
	return codeForOffset(t, secretBase32, cfg, 0)
}

func codeForOffset(t *testing.T, secretBase32 string, cfg TOTPConfig, offset int64) string {
	t.Helper()

	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secretBase32))
	if err != nil {
		t.Fatalf("decode secret failed: %v", err)
	}
	counter := time.Now().Unix()/int64(cfg.Period) + offset
	code, err := hotpCode(key, counter, cfg.Digits, cfg.Algorithm)
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}
	return code
}

// enableTOTP walks the full enrollment handshake and returns the base32 secret.
func enableTOTP(t *testing.T, engine *Engine, userID string, cfg Config) string {
	t.Helper()

	setup, err := engine.BeginTOTPEnrollment(context.Background(), userID)
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment failed: %v", err)
	}
	if err := engine.ConfirmTOTPEnrollment(context.Background(), userID, codeForNow(t, setup.SecretBase32, cfg.TOTP)); err != nil {
		t.Fatalf("ConfirmTOTPEnrollment failed: %v", err)
	}
	return setup.SecretBase32
}

// ---------------------------------------------------------------------------
// Stub matchers. Templates are the first enrollment sample verbatim; Compare
// scores 1 on an exact byte match and 0 otherwise, so tests control outcomes
// by choosing samples.
// ---------------------------------------------------------------------------

type stubSimilarityMatcher struct{}

func (m *stubSimilarityMatcher) Enroll(_ context.Context, samples [][]byte) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples")
	}
	return append([]byte(nil), samples[0]...), nil
}

func (m *stubSimilarityMatcher) Compare(_ context.Context, template, sample []byte) (float64, error) {
	if bytes.Equal(template, sample) {
		return 1, nil
	}
	return 0, nil
}

type stubGestureMatcher struct{}

func (m *stubGestureMatcher) Enroll(_ context.Context, samples [][]GesturePoint) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples")
	}
	return encodeGesturePoints(samples[0]), nil
}

func (m *stubGestureMatcher) Compare(_ context.Context, template []byte, points []GesturePoint) (float64, error) {
	if bytes.Equal(template, encodeGesturePoints(points)) {
		return 1, nil
	}
	return 0, nil
}

func encodeGesturePoints(points []GesturePoint) []byte {
	var buf bytes.Buffer
	for _, p := range points {
		fmt.Fprintf(&buf, "%.3f,%.3f,%d;", p.X, p.Y, p.T)
	}
	return buf.Bytes()
}

type stubKeystrokeMatcher struct{}

func (m *stubKeystrokeMatcher) Enroll(_ context.Context, samples []KeystrokeSample) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples")
	}
	return encodeKeystrokeSample(samples[0]), nil
}

func (m *stubKeystrokeMatcher) Compare(_ context.Context, template []byte, sample KeystrokeSample) (float64, error) {
	if bytes.Equal(template, encodeKeystrokeSample(sample)) {
		return 1, nil
	}
	return 0, nil
}

func encodeKeystrokeSample(s KeystrokeSample) []byte {
	var buf bytes.Buffer
	for _, h := range s.Holds {
		fmt.Fprintf(&buf, "h%.3f;", h)
	}
	for _, f := range s.Flights {
		fmt.Fprintf(&buf, "f%.3f;", f)
	}
	return buf.Bytes()
}

// ---------------------------------------------------------------------------
// In-package account provider stub. The providers/memory package cannot be
// imported here without a cycle, so tests carry their own copy with the same
// semantics.
// ---------------------------------------------------------------------------

type mockBackupCode struct {
	record BackupCodeRecord
	used   bool
}

type mockAccountProvider struct {
	mu           sync.Mutex
	accounts     map[string]AccountRecord
	byIdentifier map[string]string
	enrollments  map[string]map[Method]EnrollmentRecord
	backupCodes  map[string][]mockBackupCode
}

func newMockAccountProvider() *mockAccountProvider {
	return &mockAccountProvider{
		accounts:     make(map[string]AccountRecord),
		byIdentifier: make(map[string]string),
		enrollments:  make(map[string]map[Method]EnrollmentRecord),
		backupCodes:  make(map[string][]mockBackupCode),
	}
}

func (p *mockAccountProvider) setStatus(userID string, status AccountStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if acc, ok := p.accounts[userID]; ok {
		acc.Status = status
		p.accounts[userID] = acc
	}
}

func (p *mockAccountProvider) GetAccountByIdentifier(_ context.Context, identifier string) (AccountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.byIdentifier[strings.ToLower(identifier)]
	if !ok {
		return AccountRecord{}, ErrUserNotFound
	}
	return p.accounts[id], nil
}

func (p *mockAccountProvider) GetAccountByID(_ context.Context, userID string) (AccountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.accounts[userID]
	if !ok {
		return AccountRecord{}, ErrUserNotFound
	}
	return acc, nil
}

func (p *mockAccountProvider) CreateAccount(_ context.Context, input CreateAccountInput) (AccountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	emailKey := strings.ToLower(input.Email)
	usernameKey := strings.ToLower(input.Username)
	if _, ok := p.byIdentifier[emailKey]; ok {
		return AccountRecord{}, ErrProviderDuplicateIdentifier
	}
	if _, ok := p.byIdentifier[usernameKey]; ok {
		return AccountRecord{}, ErrProviderDuplicateIdentifier
	}

	acc := AccountRecord{
		UserID:       uuid.NewString(),
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		Status:       AccountActive,
		CreatedAt:    time.Now().Unix(),
	}
	p.accounts[acc.UserID] = acc
	p.byIdentifier[emailKey] = acc.UserID
	p.byIdentifier[usernameKey] = acc.UserID
	return acc, nil
}

func (p *mockAccountProvider) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.accounts[userID]
	if !ok {
		return ErrUserNotFound
	}
	acc.PasswordHash = newHash
	p.accounts[userID] = acc
	return nil
}

func (p *mockAccountProvider) TouchLastLogin(_ context.Context, userID string, when int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.accounts[userID]
	if !ok {
		return ErrUserNotFound
	}
	acc.LastLoginAt = when
	p.accounts[userID] = acc
	return nil
}

func (p *mockAccountProvider) GetEnrollment(_ context.Context, userID string, method Method) (*EnrollmentRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.enrollments[userID][method]
	if !ok {
		return nil, ErrMethodNotEnrolled
	}
	out := rec
	return &out, nil
}

func (p *mockAccountProvider) SaveEnrollment(_ context.Context, userID string, record EnrollmentRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.enrollments[userID] == nil {
		p.enrollments[userID] = make(map[Method]EnrollmentRecord)
	}
	p.enrollments[userID][record.Method] = record
	return nil
}

func (p *mockAccountProvider) DeleteEnrollment(_ context.Context, userID string, method Method) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.enrollments[userID], method)
	return nil
}

func (p *mockAccountProvider) ListEnrollments(_ context.Context, userID string) ([]EnrollmentRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []EnrollmentRecord
	for _, rec := range p.enrollments[userID] {
		out = append(out, rec)
	}
	return out, nil
}

func (p *mockAccountProvider) SetTOTPLastUsedStep(_ context.Context, userID string, step int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.enrollments[userID][MethodTOTP]
	if !ok {
		return ErrMethodNotEnrolled
	}
	if step > rec.LastUsedStep {
		rec.LastUsedStep = step
		p.enrollments[userID][MethodTOTP] = rec
	}
	return nil
}

func (p *mockAccountProvider) GetBackupCodes(_ context.Context, userID string) ([]BackupCodeRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []BackupCodeRecord
	for _, code := range p.backupCodes[userID] {
		if !code.used {
			out = append(out, code.record)
		}
	}
	return out, nil
}

func (p *mockAccountProvider) ReplaceBackupCodes(_ context.Context, userID, batchID string, records []BackupCodeRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	codes := make([]mockBackupCode, 0, len(records))
	for _, rec := range records {
		rec.BatchID = batchID
		codes = append(codes, mockBackupCode{record: rec})
	}
	p.backupCodes[userID] = codes
	return nil
}

func (p *mockAccountProvider) ConsumeBackupCode(_ context.Context, userID string, hash [32]byte) (bool, error) {
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

func (p *mockAccountProvider) CountBackupCodes(_ context.Context, userID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, code := range p.backupCodes[userID] {
		if !code.used {
			n++
		}
	}
	return n, nil
}

var _ AccountProvider = (*mockAccountProvider)(nil)
