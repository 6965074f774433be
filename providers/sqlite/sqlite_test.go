package sqlite

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"testing"
	"time"

	goMFA "github.com/MrEthical07/goMFA"
)

func openTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func createTestAccount(t *testing.T, p *Provider, email string) goMFA.AccountRecord {
	t.Helper()
	account, err := p.CreateAccount(context.Background(), goMFA.CreateAccountInput{
		Username:     "",
		Email:        email,
		PasswordHash: "$argon2id$v=19$m=65536,t=3,p=2$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaGhhc2hoYXNoaGFzaGhhc2g",
	})
	if err != nil {
		t.Fatalf("create account failed: %v", err)
	}
	return account
}

func TestCreateAndLookupAccount(t *testing.T) {
	p := openTestProvider(t)
	ctx := context.Background()

	created := createTestAccount(t, p, "user@example.com")

	byID, err := p.GetAccountByID(ctx, created.UserID)
	if err != nil {
		t.Fatalf("lookup by id failed: %v", err)
	}
	if byID.Email != "user@example.com" {
		t.Fatalf("unexpected email %q", byID.Email)
	}

	byEmail, err := p.GetAccountByIdentifier(ctx, "USER@example.com")
	if err != nil {
		t.Fatalf("lookup by identifier failed: %v", err)
	}
	if byEmail.UserID != created.UserID {
		t.Fatalf("identifier lookup returned wrong account")
	}
}

func TestCreateAccountRejectsDuplicateEmail(t *testing.T) {
	p := openTestProvider(t)
	createTestAccount(t, p, "dup@example.com")

	_, err := p.CreateAccount(context.Background(), goMFA.CreateAccountInput{
		Email:        "DUP@example.com",
		PasswordHash: "hash",
	})
	if !errors.Is(err, goMFA.ErrProviderDuplicateIdentifier) {
		t.Fatalf("expected duplicate identifier error, got %v", err)
	}
}

func TestUnknownAccountReturnsNotFound(t *testing.T) {
	p := openTestProvider(t)

	if _, err := p.GetAccountByID(context.Background(), "missing"); !errors.Is(err, goMFA.ErrUserNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
	if err := p.UpdatePasswordHash(context.Background(), "missing", "new"); !errors.Is(err, goMFA.ErrUserNotFound) {
		t.Fatalf("expected not-found on update, got %v", err)
	}
}

func TestEnrollmentRoundTrip(t *testing.T) {
	p := openTestProvider(t)
	ctx := context.Background()
	account := createTestAccount(t, p, "enroll@example.com")

	record := goMFA.EnrollmentRecord{
		Method:      goMFA.MethodFace,
		Template:    []byte{1, 2, 3, 4},
		Verified:    true,
		SampleCount: 3,
		CreatedAt:   time.Now().Unix(),
	}
	if err := p.SaveEnrollment(ctx, account.UserID, record); err != nil {
		t.Fatalf("save enrollment failed: %v", err)
	}

	loaded, err := p.GetEnrollment(ctx, account.UserID, goMFA.MethodFace)
	if err != nil {
		t.Fatalf("get enrollment failed: %v", err)
	}
	if !loaded.Verified || loaded.SampleCount != 3 || len(loaded.Template) != 4 {
		t.Fatalf("enrollment changed across round trip: %+v", loaded)
	}

	list, err := p.ListEnrollments(ctx, account.UserID)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one enrollment, got %d err=%v", len(list), err)
	}

	if err := p.DeleteEnrollment(ctx, account.UserID, goMFA.MethodFace); err != nil {
		t.Fatalf("delete enrollment failed: %v", err)
	}
	if _, err := p.GetEnrollment(ctx, account.UserID, goMFA.MethodFace); !errors.Is(err, goMFA.ErrMethodNotEnrolled) {
		t.Fatalf("expected not-enrolled after delete, got %v", err)
	}
}

func TestSaveEnrollmentUpsertsInPlace(t *testing.T) {
	p := openTestProvider(t)
	ctx := context.Background()
	account := createTestAccount(t, p, "upsert@example.com")

	first := goMFA.EnrollmentRecord{Method: goMFA.MethodTOTP, Secret: []byte("old"), CreatedAt: 1}
	if err := p.SaveEnrollment(ctx, account.UserID, first); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	second := goMFA.EnrollmentRecord{Method: goMFA.MethodTOTP, Secret: []byte("new"), Verified: true, CreatedAt: 2}
	if err := p.SaveEnrollment(ctx, account.UserID, second); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	loaded, err := p.GetEnrollment(ctx, account.UserID, goMFA.MethodTOTP)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(loaded.Secret) != "new" || !loaded.Verified {
		t.Fatalf("upsert did not replace record: %+v", loaded)
	}
}

func TestTOTPStepFloorOnlyAdvances(t *testing.T) {
	p := openTestProvider(t)
	ctx := context.Background()
	account := createTestAccount(t, p, "totp@example.com")

	record := goMFA.EnrollmentRecord{Method: goMFA.MethodTOTP, Secret: []byte("s"), Verified: true, CreatedAt: 1}
	if err := p.SaveEnrollment(ctx, account.UserID, record); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if err := p.SetTOTPLastUsedStep(ctx, account.UserID, 100); err != nil {
		t.Fatalf("set step failed: %v", err)
	}
	if err := p.SetTOTPLastUsedStep(ctx, account.UserID, 50); err != nil {
		t.Fatalf("stale set step failed: %v", err)
	}

	loaded, err := p.GetEnrollment(ctx, account.UserID, goMFA.MethodTOTP)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded.LastUsedStep != 100 {
		t.Fatalf("expected step floor 100, got %d", loaded.LastUsedStep)
	}
}

func TestConsumeBackupCodeAtMostOnce(t *testing.T) {
	p := openTestProvider(t)
	ctx := context.Background()
	account := createTestAccount(t, p, "codes@example.com")

	hash := sha256.Sum256([]byte("CODE1234"))
	records := []goMFA.BackupCodeRecord{{Hash: hash, CreatedAt: time.Now().Unix()}}
	if err := p.ReplaceBackupCodes(ctx, account.UserID, "batch-1", records); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			used, err := p.ConsumeBackupCode(ctx, account.UserID, hash)
			if err != nil {
				t.Errorf("consume failed: %v", err)
				return
			}
			results[idx] = used
		}(i)
	}
	wg.Wait()

	var successes int
	for _, used := range results {
		if used {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one successful consumption, got %d", successes)
	}

	count, err := p.CountBackupCodes(ctx, account.UserID)
	if err != nil || count != 0 {
		t.Fatalf("expected zero remaining codes, got %d err=%v", count, err)
	}
}

func TestReplaceBackupCodesInvalidatesOldBatch(t *testing.T) {
	p := openTestProvider(t)
	ctx := context.Background()
	account := createTestAccount(t, p, "rotate@example.com")

	oldHash := sha256.Sum256([]byte("OLDCODE1"))
	if err := p.ReplaceBackupCodes(ctx, account.UserID, "batch-1", []goMFA.BackupCodeRecord{{Hash: oldHash}}); err != nil {
		t.Fatalf("first replace failed: %v", err)
	}

	newHash := sha256.Sum256([]byte("NEWCODE1"))
	if err := p.ReplaceBackupCodes(ctx, account.UserID, "batch-2", []goMFA.BackupCodeRecord{{Hash: newHash}}); err != nil {
		t.Fatalf("second replace failed: %v", err)
	}

	used, err := p.ConsumeBackupCode(ctx, account.UserID, oldHash)
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if used {
		t.Fatal("old batch code should be invalid after rotation")
	}

	used, err = p.ConsumeBackupCode(ctx, account.UserID, newHash)
	if err != nil || !used {
		t.Fatalf("new batch code should consume once: used=%v err=%v", used, err)
	}
}
