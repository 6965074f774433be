package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id       TEXT PRIMARY KEY,
	username      TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	status        INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL,
	last_login_at INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS accounts_email_idx ON accounts (lower(email));
CREATE UNIQUE INDEX IF NOT EXISTS accounts_username_idx ON accounts (lower(username)) WHERE username <> '';

CREATE TABLE IF NOT EXISTS enrollments (
	user_id        TEXT NOT NULL,
	method         TEXT NOT NULL,
	template       BLOB,
	passphrase     TEXT NOT NULL DEFAULT '',
	secret         BLOB,
	verified       INTEGER NOT NULL DEFAULT 0,
	last_used_step INTEGER NOT NULL DEFAULT 0,
	sample_count   INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL,
	PRIMARY KEY (user_id, method)
);

CREATE TABLE IF NOT EXISTS backup_codes (
	user_id    TEXT NOT NULL,
	hash       BLOB NOT NULL,
	batch_id   TEXT NOT NULL,
	used       INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, hash)
);
`

// Provider is a SQLite-backed account store.
//
// Provider instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Provider struct {
	db *sql.DB
}

// Open opens (and initializes) the database at dsn. Use ":memory:" for an
// ephemeral store.
//
// Open may return an error when input validation, dependency calls, or security checks fail.
// Open does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func Open(dsn string) (*Provider, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY on concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Provider{db: db}, nil
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) Close() error {
	return p.db.Close()
}

func scanAccount(row *sql.Row) (goMFA.AccountRecord, error) {
	var account goMFA.AccountRecord
	var status int
	err := row.Scan(
		&account.UserID,
		&account.Username,
		&account.Email,
		&account.PasswordHash,
		&status,
		&account.CreatedAt,
		&account.LastLoginAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return goMFA.AccountRecord{}, goMFA.ErrUserNotFound
		}
		return goMFA.AccountRecord{}, err
	}
	account.Status = goMFA.AccountStatus(status)
	return account, nil
}

const accountColumns = "user_id, username, email, password_hash, status, created_at, last_login_at"

// GetAccountByIdentifier describes the getaccountbyidentifier operation and its observable behavior.
//
// GetAccountByIdentifier may return an error when input validation, dependency calls, or security checks fail.
// GetAccountByIdentifier does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) GetAccountByIdentifier(ctx context.Context, identifier string) (goMFA.AccountRecord, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	row := p.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE lower(email) = ? OR (username <> '' AND lower(username) = ?)",
		identifier, identifier,
	)
	return scanAccount(row)
}

// GetAccountByID describes the getaccountbyid operation and its observable behavior.
//
// GetAccountByID may return an error when input validation, dependency calls, or security checks fail.
// GetAccountByID does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) GetAccountByID(ctx context.Context, userID string) (goMFA.AccountRecord, error) {
	row := p.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE user_id = ?", userID,
	)
	return scanAccount(row)
}

// CreateAccount describes the createaccount operation and its observable behavior.
//
// CreateAccount may return an error when input validation, dependency calls, or security checks fail.
// CreateAccount does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) CreateAccount(ctx context.Context, input goMFA.CreateAccountInput) (goMFA.AccountRecord, error) {
	account := goMFA.AccountRecord{
		UserID:       uuid.NewString(),
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		Status:       goMFA.AccountActive,
		CreatedAt:    time.Now().Unix(),
	}

	_, err := p.db.ExecContext(ctx,
		"INSERT INTO accounts (user_id, username, email, password_hash, status, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		account.UserID, account.Username, account.Email, account.PasswordHash, int(account.Status), account.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return goMFA.AccountRecord{}, goMFA.ErrProviderDuplicateIdentifier
		}
		return goMFA.AccountRecord{}, err
	}
	return account, nil
}

// The modernc driver reports constraint failures by message, not typed errors.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// UpdatePasswordHash describes the updatepasswordhash operation and its observable behavior.
//
// UpdatePasswordHash may return an error when input validation, dependency calls, or security checks fail.
// UpdatePasswordHash does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	res, err := p.db.ExecContext(ctx,
		"UPDATE accounts SET password_hash = ? WHERE user_id = ?", newHash, userID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// TouchLastLogin describes the touchlastlogin operation and its observable behavior.
//
// TouchLastLogin may return an error when input validation, dependency calls, or security checks fail.
// TouchLastLogin does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) TouchLastLogin(ctx context.Context, userID string, when int64) error {
	res, err := p.db.ExecContext(ctx,
		"UPDATE accounts SET last_login_at = ? WHERE user_id = ?", when, userID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetStatus flips the lifecycle status of an account. Not part of the
// [goMFA.AccountProvider] contract.
func (p *Provider) SetStatus(ctx context.Context, userID string, status goMFA.AccountStatus) error {
	res, err := p.db.ExecContext(ctx,
		"UPDATE accounts SET status = ? WHERE user_id = ?", int(status), userID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return goMFA.ErrUserNotFound
	}
	return nil
}

// GetEnrollment describes the getenrollment operation and its observable behavior.
//
// GetEnrollment may return an error when input validation, dependency calls, or security checks fail.
// GetEnrollment does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) GetEnrollment(ctx context.Context, userID string, method goMFA.Method) (*goMFA.EnrollmentRecord, error) {
	row := p.db.QueryRowContext(ctx,
		"SELECT method, template, passphrase, secret, verified, last_used_step, sample_count, created_at FROM enrollments WHERE user_id = ? AND method = ?",
		userID, string(method),
	)

	record, err := scanEnrollment(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goMFA.ErrMethodNotEnrolled
		}
		return nil, err
	}
	return record, nil
}

func scanEnrollment(scan func(dest ...any) error) (*goMFA.EnrollmentRecord, error) {
	var record goMFA.EnrollmentRecord
	var method string
	var verified int
	if err := scan(&method, &record.Template, &record.Passphrase, &record.Secret, &verified, &record.LastUsedStep, &record.SampleCount, &record.CreatedAt); err != nil {
		return nil, err
	}
	record.Method = goMFA.Method(method)
	record.Verified = verified != 0
	return &record, nil
}

// SaveEnrollment describes the saveenrollment operation and its observable behavior.
//
// SaveEnrollment may return an error when input validation, dependency calls, or security checks fail.
// SaveEnrollment does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) SaveEnrollment(ctx context.Context, userID string, record goMFA.EnrollmentRecord) error {
	verified := 0
	if record.Verified {
		verified = 1
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO enrollments (user_id, method, template, passphrase, secret, verified, last_used_step, sample_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, method) DO UPDATE SET
			template = excluded.template,
			passphrase = excluded.passphrase,
			secret = excluded.secret,
			verified = excluded.verified,
			last_used_step = excluded.last_used_step,
			sample_count = excluded.sample_count,
			created_at = excluded.created_at`,
		userID, string(record.Method), record.Template, record.Passphrase, record.Secret,
		verified, record.LastUsedStep, record.SampleCount, record.CreatedAt,
	)
	return err
}

// DeleteEnrollment describes the deleteenrollment operation and its observable behavior.
//
// DeleteEnrollment may return an error when input validation, dependency calls, or security checks fail.
// DeleteEnrollment does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) DeleteEnrollment(ctx context.Context, userID string, method goMFA.Method) error {
	res, err := p.db.ExecContext(ctx,
		"DELETE FROM enrollments WHERE user_id = ? AND method = ?", userID, string(method),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return goMFA.ErrMethodNotEnrolled
	}
	return nil
}

// ListEnrollments describes the listenrollments operation and its observable behavior.
//
// ListEnrollments may return an error when input validation, dependency calls, or security checks fail.
// ListEnrollments does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) ListEnrollments(ctx context.Context, userID string) ([]goMFA.EnrollmentRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT method, template, passphrase, secret, verified, last_used_step, sample_count, created_at FROM enrollments WHERE user_id = ?",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []goMFA.EnrollmentRecord
	for rows.Next() {
		record, err := scanEnrollment(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *record)
	}
	return out, rows.Err()
}

// SetTOTPLastUsedStep describes the settotplastusedstep operation and its observable behavior.
//
// SetTOTPLastUsedStep may return an error when input validation, dependency calls, or security checks fail.
// SetTOTPLastUsedStep does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) SetTOTPLastUsedStep(ctx context.Context, userID string, step int64) error {
	// The floor only advances; a stale writer loses silently.
	res, err := p.db.ExecContext(ctx,
		"UPDATE enrollments SET last_used_step = ? WHERE user_id = ? AND method = ? AND last_used_step < ?",
		step, userID, string(goMFA.MethodTOTP), step,
	)
	if err != nil {
		return err
	}
	_, err = res.RowsAffected()
	return err
}

// GetBackupCodes describes the getbackupcodes operation and its observable behavior.
//
// GetBackupCodes may return an error when input validation, dependency calls, or security checks fail.
// GetBackupCodes does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) GetBackupCodes(ctx context.Context, userID string) ([]goMFA.BackupCodeRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT hash, batch_id, created_at FROM backup_codes WHERE user_id = ? AND used = 0",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []goMFA.BackupCodeRecord
	for rows.Next() {
		var record goMFA.BackupCodeRecord
		var hash []byte
		if err := rows.Scan(&hash, &record.BatchID, &record.CreatedAt); err != nil {
			return nil, err
		}
		copy(record.Hash[:], hash)
		out = append(out, record)
	}
	return out, rows.Err()
}

// ReplaceBackupCodes describes the replacebackupcodes operation and its observable behavior.
//
// ReplaceBackupCodes may return an error when input validation, dependency calls, or security checks fail.
// ReplaceBackupCodes does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) ReplaceBackupCodes(ctx context.Context, userID, batchID string, records []goMFA.BackupCodeRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM backup_codes WHERE user_id = ?", userID); err != nil {
		return err
	}
	for _, record := range records {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO backup_codes (user_id, hash, batch_id, created_at) VALUES (?, ?, ?, ?)",
			userID, record.Hash[:], batchID, record.CreatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ConsumeBackupCode describes the consumebackupcode operation and its observable behavior.
//
// ConsumeBackupCode may return an error when input validation, dependency calls, or security checks fail.
// ConsumeBackupCode does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		"UPDATE backup_codes SET used = 1 WHERE user_id = ? AND hash = ? AND used = 0",
		userID, hash[:],
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// CountBackupCodes describes the countbackupcodes operation and its observable behavior.
//
// CountBackupCodes may return an error when input validation, dependency calls, or security checks fail.
// CountBackupCodes does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *Provider) CountBackupCodes(ctx context.Context, userID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM backup_codes WHERE user_id = ? AND used = 0", userID,
	).Scan(&count)
	return count, err
}

var _ goMFA.AccountProvider = (*Provider)(nil)
