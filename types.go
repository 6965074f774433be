package goMFA

import "context"

// Method defines a public type used by goMFA APIs.
//
// Method instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Method string

const (
	// MethodPassword is an exported constant or variable used by the authentication engine.
	MethodPassword Method = "password"
	// MethodFace is an exported constant or variable used by the authentication engine.
	MethodFace Method = "face"
	// MethodVoice is an exported constant or variable used by the authentication engine.
	MethodVoice Method = "voice"
	// MethodGesture is an exported constant or variable used by the authentication engine.
	MethodGesture Method = "gesture"
	// MethodKeystroke is an exported constant or variable used by the authentication engine.
	MethodKeystroke Method = "keystroke"
	// MethodTOTP is an exported constant or variable used by the authentication engine.
	MethodTOTP Method = "totp"
	// MethodBackupCode is an exported constant or variable used by the authentication engine.
	MethodBackupCode Method = "backup_code"
)

// Secondary-factor bit positions inside the challenge method mask.
const (
	methodBitFace uint8 = 1 << iota
	methodBitVoice
	methodBitGesture
	methodBitKeystroke
	methodBitTOTP
	methodBitBackupCode
)

func methodBit(m Method) uint8 {
	switch m {
	case MethodFace:
		return methodBitFace
	case MethodVoice:
		return methodBitVoice
	case MethodGesture:
		return methodBitGesture
	case MethodKeystroke:
		return methodBitKeystroke
	case MethodTOTP:
		return methodBitTOTP
	case MethodBackupCode:
		return methodBitBackupCode
	default:
		return 0
	}
}

var maskOrder = []Method{MethodFace, MethodVoice, MethodGesture, MethodKeystroke, MethodTOTP, MethodBackupCode}

func methodsFromMask(mask uint8) []Method {
	if mask == 0 {
		return nil
	}
	out := make([]Method, 0, len(maskOrder))
	for _, m := range maskOrder {
		if mask&methodBit(m) != 0 {
			out = append(out, m)
		}
	}
	return out
}

func maskFromMethods(methods []Method) uint8 {
	var mask uint8
	for _, m := range methods {
		mask |= methodBit(m)
	}
	return mask
}

// AccountStatus defines a public type used by goMFA APIs.
//
// AccountStatus instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AccountStatus uint8

const (
	// AccountActive is an exported constant or variable used by the authentication engine.
	AccountActive AccountStatus = iota
	// AccountDisabled is an exported constant or variable used by the authentication engine.
	AccountDisabled
	// AccountLocked is an exported constant or variable used by the authentication engine.
	AccountLocked
	// AccountDeleted is an exported constant or variable used by the authentication engine.
	AccountDeleted
)

func accountStatusToError(status AccountStatus) error {
	switch status {
	case AccountActive:
		return nil
	case AccountDisabled:
		return ErrAccountDisabled
	case AccountLocked:
		return ErrAccountLocked
	case AccountDeleted:
		return ErrAccountDeleted
	default:
		return ErrAccountDisabled
	}
}

// AccountRecord defines a public type used by goMFA APIs.
//
// AccountRecord instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AccountRecord struct {
	UserID       string
	Username     string
	Email        string
	PasswordHash string
	Status       AccountStatus
	CreatedAt    int64
	LastLoginAt  int64
}

// CreateAccountInput defines a public type used by goMFA APIs.
//
// CreateAccountInput instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CreateAccountInput struct {
	Username     string
	Email        string
	PasswordHash string
}

// EnrollmentRecord holds one secondary factor for one user. Template and
// Secret are opaque to the engine: templates are produced by the matcher
// registered for the method, the TOTP secret by the engine itself.
//
// EnrollmentRecord instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type EnrollmentRecord struct {
	Method       Method
	Template     []byte
	Passphrase   string
	Secret       []byte
	Verified     bool
	LastUsedStep int64
	SampleCount  int
	CreatedAt    int64
}

// BackupCodeRecord defines a public type used by goMFA APIs.
//
// BackupCodeRecord instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type BackupCodeRecord struct {
	Hash      [32]byte
	BatchID   string
	CreatedAt int64
}

// AccountProvider is the durable storage boundary of the engine. Implementations
// own accounts, factor enrollments, and backup codes; the engine owns all
// ephemeral authentication state (sessions, challenges, device trust) in Redis.
//
// ConsumeBackupCode must be atomic: when two callers race on the same unused
// code, at most one call may return true.
//
//	Docs: docs/providers.md
type AccountProvider interface {
	GetAccountByIdentifier(ctx context.Context, identifier string) (AccountRecord, error)
	GetAccountByID(ctx context.Context, userID string) (AccountRecord, error)
	CreateAccount(ctx context.Context, input CreateAccountInput) (AccountRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
	TouchLastLogin(ctx context.Context, userID string, when int64) error

	GetEnrollment(ctx context.Context, userID string, method Method) (*EnrollmentRecord, error)
	SaveEnrollment(ctx context.Context, userID string, record EnrollmentRecord) error
	DeleteEnrollment(ctx context.Context, userID string, method Method) error
	ListEnrollments(ctx context.Context, userID string) ([]EnrollmentRecord, error)
	SetTOTPLastUsedStep(ctx context.Context, userID string, step int64) error

	GetBackupCodes(ctx context.Context, userID string) ([]BackupCodeRecord, error)
	ReplaceBackupCodes(ctx context.Context, userID, batchID string, records []BackupCodeRecord) error
	ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error)
	CountBackupCodes(ctx context.Context, userID string) (int, error)
}

// GesturePoint defines a public type used by goMFA APIs.
//
// GesturePoint instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type GesturePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T int64   `json:"t"`
}

// KeystrokeSample carries per-key hold durations and inter-key flight times
// in milliseconds, captured while the user typed their passphrase.
type KeystrokeSample struct {
	Holds   []float64 `json:"holds"`
	Flights []float64 `json:"flights"`
}

// SimilarityMatcher scores a candidate biometric sample against a stored
// template. Compare returns a confidence in [0,1]; the engine applies the
// configured per-method threshold. Enroll derives the stored template from
// one or more raw samples.
//
// Implementations must be safe for concurrent use and must honor ctx
// cancellation; the engine bounds every call with Verify.MatcherTimeout.
type SimilarityMatcher interface {
	Enroll(ctx context.Context, samples [][]byte) ([]byte, error)
	Compare(ctx context.Context, template []byte, sample []byte) (float64, error)
}

// GestureMatcher defines a public type used by goMFA APIs.
//
// GestureMatcher instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type GestureMatcher interface {
	Enroll(ctx context.Context, samples [][]GesturePoint) ([]byte, error)
	Compare(ctx context.Context, template []byte, points []GesturePoint) (float64, error)
}

// KeystrokeMatcher defines a public type used by goMFA APIs.
//
// KeystrokeMatcher instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type KeystrokeMatcher interface {
	Enroll(ctx context.Context, samples []KeystrokeSample) ([]byte, error)
	Compare(ctx context.Context, template []byte, sample KeystrokeSample) (float64, error)
}

// Matchers bundles the biometric scoring implementations the engine dispatches
// to. A nil field disables the corresponding method: enrollment and
// verification for it fail with [ErrMatcherMissing].
type Matchers struct {
	Face      SimilarityMatcher
	Voice     SimilarityMatcher
	Gesture   GestureMatcher
	Keystroke KeystrokeMatcher
}

// KeystrokeProof defines a public type used by goMFA APIs.
//
// KeystrokeProof instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type KeystrokeProof struct {
	Text   string
	Sample KeystrokeSample
}

// MFAProof carries the secondary-factor evidence for one challenge attempt.
// Exactly one of Code, Sample, Points, or Keystroke is consulted, selected
// by Method.
type MFAProof struct {
	Method         Method
	Code           string
	Sample         []byte
	Points         []GesturePoint
	Keystroke      *KeystrokeProof
	RememberDevice bool
	DeviceLabel    string
}

// LoginResult defines a public type used by goMFA APIs.
//
// LoginResult instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type LoginResult struct {
	UserID       string
	MFARequired  bool
	ChallengeID  string
	Methods      []Method
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	UsedMethod   Method
	DeviceTrust  bool
}

// RegisterInput defines a public type used by goMFA APIs.
//
// RegisterInput instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// AuthResult is the outcome of validating an access token. AMR lists the
// authentication method references baked into the token at issuance.
//
// AuthResult instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuthResult struct {
	UserID    string
	SessionID string
	AMR       []string
	IssuedAt  int64
	ExpiresAt int64
}

// DeviceRecord defines a public type used by goMFA APIs.
//
// DeviceRecord instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type DeviceRecord struct {
	FingerprintHash string `json:"fingerprint_hash"`
	Label           string `json:"label"`
	Trusted         bool   `json:"trusted"`
	GrantedAt       int64  `json:"granted_at"`
	LastSeenAt      int64  `json:"last_seen_at"`
	TrustedUntil    int64  `json:"trusted_until"`
}

// LoginAttempt defines a public type used by goMFA APIs.
//
// LoginAttempt instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type LoginAttempt struct {
	Timestamp  int64   `json:"ts"`
	Method     Method  `json:"method"`
	Success    bool    `json:"success"`
	IP         string  `json:"ip,omitempty"`
	UserAgent  string  `json:"ua,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// ValidationMode defines a public type used by goMFA APIs.
//
// ValidationMode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ValidationMode int8

const (
	// ModeInherit is an exported constant or variable used by the authentication engine.
	ModeInherit ValidationMode = -1
	// ModeJWTOnly is an exported constant or variable used by the authentication engine.
	ModeJWTOnly ValidationMode = iota
	// ModeHybrid is an exported constant or variable used by the authentication engine.
	ModeHybrid
	// ModeStrict is an exported constant or variable used by the authentication engine.
	ModeStrict
)

// RouteMode defines a public type used by goMFA APIs.
//
// RouteMode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RouteMode = ValidationMode
