package goMFA

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"
)

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig defines a public type used by goMFA APIs.
//
// JWTConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string
	PrivateKey    []byte
	PublicKey     []byte
	HMACSecret    []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	MaxClockSkew  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig defines a public type used by goMFA APIs.
//
// SessionConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SessionConfig struct {
	RedisPrefix        string
	SlidingTTL         bool
	AbsoluteTTL        time.Duration
	TTLJitterEnabled   bool
	TTLJitterRange     time.Duration
	EnforceSingleIP    bool
	BindUserAgent      bool
	MaxSessionsPerUser int
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

// ChallengeConfig governs the short-lived MFA challenge issued after a
// successful password check. TTL bounds the whole challenge; MaxAttempts is
// the total verification budget across all secondary methods.
//
//	Docs: docs/mfa_challenge.md
type ChallengeConfig struct {
	RedisPrefix string
	TTL         time.Duration
	MaxAttempts int
}

/*
====================================
VERIFY CONFIG
====================================
*/

// VerifyConfig defines a public type used by goMFA APIs.
//
// VerifyConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type VerifyConfig struct {
	FaceThreshold         float64
	VoiceThreshold        float64
	GestureThreshold      float64
	KeystrokeThreshold    float64
	GestureMinPoints      int
	GestureSampleCount    int
	KeystrokeSampleCount  int
	MatcherTimeout        time.Duration
	FailClosedOnTimeout   bool
	UniformFailureLatency time.Duration
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig defines a public type used by goMFA APIs.
//
// TOTPConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TOTPConfig struct {
	Issuer        string
	Digits        int
	Period        int
	Skew          int
	Algorithm     string
	SecretLength  int
	EnforceReplay bool
}

/*
====================================
BACKUP CODE CONFIG
====================================
*/

// BackupCodeConfig defines a public type used by goMFA APIs.
//
// BackupCodeConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type BackupCodeConfig struct {
	Count       int
	Length      int
	MaxAttempts int
	Cooldown    time.Duration
}

/*
====================================
DEVICE TRUST CONFIG
====================================
*/

// DeviceTrustConfig defines a public type used by goMFA APIs.
//
// SkipChallengeWhenTrusted controls whether a valid trust grant bypasses the
// secondary factor entirely or merely annotates the login.
//
// DeviceTrustConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type DeviceTrustConfig struct {
	Enabled                  bool
	RedisPrefix              string
	TrustTTL                 time.Duration
	RetentionTTL             time.Duration
	SkipChallengeWhenTrusted bool
	MaxDevicesPerUser        int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig defines a public type used by goMFA APIs.
//
// PasswordConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordConfig struct {
	Argon2Memory   uint32
	Argon2Time     uint32
	Argon2Threads  uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	UpgradeOnLogin bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig defines a public type used by goMFA APIs.
//
// SecurityConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SecurityConfig struct {
	ProductionMode          bool
	EnableIPThrottle        bool
	EnableRefreshThrottle   bool
	MaxLoginAttempts        int
	LoginCooldownDuration   time.Duration
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
	MaxEnrollAttempts       int
	EnrollCooldownDuration  time.Duration
	RefreshRotation         bool
	ReuseRevokesSession     bool
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig defines a public type used by goMFA APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig defines a public type used by goMFA APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
HISTORY CONFIG
====================================
*/

// HistoryConfig defines a public type used by goMFA APIs.
//
// HistoryConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistoryConfig struct {
	Enabled     bool
	RedisPrefix string
	MaxEntries  int
	TTL         time.Duration
}

/*
====================================
ROOT CONFIG
====================================
*/

// Config defines a public type used by goMFA APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	JWT            JWTConfig
	Session        SessionConfig
	Challenge      ChallengeConfig
	Verify         VerifyConfig
	TOTP           TOTPConfig
	BackupCode     BackupCodeConfig
	DeviceTrust    DeviceTrustConfig
	Password       PasswordConfig
	Security       SecurityConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
	History        HistoryConfig
	ValidationMode ValidationMode
}

// DefaultConfig returns the baseline configuration the builder starts from.
// Callers adjust fields and pass the result to [Builder.WithConfig]; signing
// key material must always be supplied.
//
// DefaultConfig may return an error when input validation, dependency calls, or security checks fail.
// DefaultConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "goMFA",
			Leeway:        30 * time.Second,
			RequireIAT:    true,
			MaxFutureIAT:  10 * time.Minute,
			MaxClockSkew:  2 * time.Minute,
		},
		Session: SessionConfig{
			RedisPrefix:      "as",
			SlidingTTL:       true,
			AbsoluteTTL:      30 * 24 * time.Hour,
			TTLJitterEnabled: true,
			TTLJitterRange:   30 * time.Second,
		},
		Challenge: ChallengeConfig{
			RedisPrefix: "amc",
			TTL:         5 * time.Minute,
			MaxAttempts: 5,
		},
		Verify: VerifyConfig{
			FaceThreshold:        0.6,
			VoiceThreshold:       0.7,
			GestureThreshold:     0.75,
			KeystrokeThreshold:   0.65,
			GestureMinPoints:     15,
			GestureSampleCount:   1,
			KeystrokeSampleCount: 3,
			MatcherTimeout:       5 * time.Second,
			FailClosedOnTimeout:  true,
		},
		TOTP: TOTPConfig{
			Issuer:        "goMFA",
			Digits:        6,
			Period:        30,
			Skew:          1,
			Algorithm:     "SHA1",
			SecretLength:  20,
			EnforceReplay: true,
		},
		BackupCode: BackupCodeConfig{
			Count:       10,
			Length:      8,
			MaxAttempts: 5,
			Cooldown:    10 * time.Minute,
		},
		DeviceTrust: DeviceTrustConfig{
			Enabled:                  true,
			RedisPrefix:              "dtv",
			TrustTTL:                 30 * 24 * time.Hour,
			RetentionTTL:             90 * 24 * time.Hour,
			SkipChallengeWhenTrusted: true,
			MaxDevicesPerUser:        10,
		},
		Password: PasswordConfig{
			Argon2Memory:   65536,
			Argon2Time:     3,
			Argon2Threads:  2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      8,
			UpgradeOnLogin: true,
		},
		Security: SecurityConfig{
			EnableIPThrottle:        true,
			EnableRefreshThrottle:   true,
			MaxLoginAttempts:        5,
			LoginCooldownDuration:   15 * time.Minute,
			MaxRefreshAttempts:      10,
			RefreshCooldownDuration: time.Minute,
			MaxEnrollAttempts:       10,
			EnrollCooldownDuration:  10 * time.Minute,
			RefreshRotation:         true,
			ReuseRevokesSession:     true,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		History: HistoryConfig{
			Enabled:     true,
			RedisPrefix: "alh",
			MaxEntries:  100,
			TTL:         90 * 24 * time.Hour,
		},
		ValidationMode: ModeStrict,
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.JWT.HMACSecret = cloneBytes(cfg.JWT.HMACSecret)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("config: JWT.AccessTTL must be positive")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("config: JWT.RefreshTTL must be positive")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("config: JWT.RefreshTTL must exceed JWT.AccessTTL")
	}

	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("config: JWT.PrivateKey required for ed25519")
		}
		if len(c.JWT.PrivateKey) != ed25519.PrivateKeySize && !looksLikePEM(c.JWT.PrivateKey) {
			return fmt.Errorf("config: JWT.PrivateKey must be %d raw bytes or PEM", ed25519.PrivateKeySize)
		}
	case "hs256":
		if len(c.JWT.HMACSecret) < 32 {
			return errors.New("config: JWT.HMACSecret must be at least 32 bytes for hs256")
		}
	default:
		return fmt.Errorf("config: unsupported JWT.SigningMethod %q", c.JWT.SigningMethod)
	}

	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("config: JWT.Leeway must be within [0, 2m]")
	}

	if c.Session.RedisPrefix == "" {
		return errors.New("config: Session.RedisPrefix must not be empty")
	}
	if c.Session.TTLJitterEnabled && c.Session.TTLJitterRange <= 0 {
		return errors.New("config: Session.TTLJitterRange must be positive when jitter is enabled")
	}

	if c.Challenge.TTL <= 0 {
		return errors.New("config: Challenge.TTL must be positive")
	}
	if c.Challenge.MaxAttempts < 1 || c.Challenge.MaxAttempts > 100 {
		return errors.New("config: Challenge.MaxAttempts must be within [1, 100]")
	}
	if c.Challenge.RedisPrefix == "" {
		return errors.New("config: Challenge.RedisPrefix must not be empty")
	}

	for name, threshold := range map[string]float64{
		"FaceThreshold":      c.Verify.FaceThreshold,
		"VoiceThreshold":     c.Verify.VoiceThreshold,
		"GestureThreshold":   c.Verify.GestureThreshold,
		"KeystrokeThreshold": c.Verify.KeystrokeThreshold,
	} {
		if threshold <= 0 || threshold >= 1 {
			return fmt.Errorf("config: Verify.%s must be within (0, 1)", name)
		}
	}
	if c.Verify.GestureMinPoints < 2 {
		return errors.New("config: Verify.GestureMinPoints must be at least 2")
	}
	if c.Verify.GestureSampleCount < 1 {
		return errors.New("config: Verify.GestureSampleCount must be at least 1")
	}
	if c.Verify.KeystrokeSampleCount < 1 {
		return errors.New("config: Verify.KeystrokeSampleCount must be at least 1")
	}
	if c.Verify.MatcherTimeout <= 0 {
		return errors.New("config: Verify.MatcherTimeout must be positive")
	}

	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("config: TOTP.Digits must be within [6, 8]")
	}
	if c.TOTP.Period < 15 || c.TOTP.Period > 120 {
		return errors.New("config: TOTP.Period must be within [15, 120]")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 4 {
		return errors.New("config: TOTP.Skew must be within [0, 4]")
	}
	switch c.TOTP.Algorithm {
	case "SHA1", "SHA256", "SHA512":
	default:
		return fmt.Errorf("config: unsupported TOTP.Algorithm %q", c.TOTP.Algorithm)
	}
	if c.TOTP.SecretLength < 16 {
		return errors.New("config: TOTP.SecretLength must be at least 16")
	}

	if c.BackupCode.Count < 1 || c.BackupCode.Count > 64 {
		return errors.New("config: BackupCode.Count must be within [1, 64]")
	}
	if c.BackupCode.Length < 6 || c.BackupCode.Length > 32 {
		return errors.New("config: BackupCode.Length must be within [6, 32]")
	}

	if c.DeviceTrust.Enabled {
		if c.DeviceTrust.TrustTTL <= 0 {
			return errors.New("config: DeviceTrust.TrustTTL must be positive")
		}
		if c.DeviceTrust.RetentionTTL < c.DeviceTrust.TrustTTL {
			return errors.New("config: DeviceTrust.RetentionTTL must cover DeviceTrust.TrustTTL")
		}
		if c.DeviceTrust.RedisPrefix == "" {
			return errors.New("config: DeviceTrust.RedisPrefix must not be empty")
		}
	}

	if c.Password.Argon2Memory < 8*1024 {
		return errors.New("config: Password.Argon2Memory must be at least 8192 KiB")
	}
	if c.Password.Argon2Time < 1 {
		return errors.New("config: Password.Argon2Time must be at least 1")
	}
	if c.Password.Argon2Threads < 1 {
		return errors.New("config: Password.Argon2Threads must be at least 1")
	}
	if c.Password.MinLength < 8 {
		return errors.New("config: Password.MinLength must be at least 8")
	}

	if c.Security.MaxLoginAttempts < 1 {
		return errors.New("config: Security.MaxLoginAttempts must be at least 1")
	}
	if c.Security.LoginCooldownDuration <= 0 {
		return errors.New("config: Security.LoginCooldownDuration must be positive")
	}
	if c.Security.EnableRefreshThrottle && c.Security.MaxRefreshAttempts < 1 {
		return errors.New("config: Security.MaxRefreshAttempts must be at least 1")
	}

	if c.History.Enabled {
		if c.History.MaxEntries < 1 {
			return errors.New("config: History.MaxEntries must be at least 1")
		}
		if c.History.RedisPrefix == "" {
			return errors.New("config: History.RedisPrefix must not be empty")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize < 1 {
		return errors.New("config: Audit.BufferSize must be at least 1")
	}

	switch c.ValidationMode {
	case ModeJWTOnly, ModeHybrid, ModeStrict:
	default:
		return errors.New("config: ValidationMode must be JWTOnly, Hybrid, or Strict")
	}

	if c.Security.ProductionMode {
		if c.JWT.AccessTTL > 15*time.Minute {
			return errors.New("config: production mode caps JWT.AccessTTL at 15m")
		}
		if c.JWT.RefreshTTL > 30*24*time.Hour {
			return errors.New("config: production mode caps JWT.RefreshTTL at 30d")
		}
		if !c.Security.RefreshRotation {
			return errors.New("config: production mode requires Security.RefreshRotation")
		}
		if c.Challenge.MaxAttempts > 10 {
			return errors.New("config: production mode caps Challenge.MaxAttempts at 10")
		}
	}

	return nil
}

func looksLikePEM(b []byte) bool {
	return len(b) > 10 && b[0] == '-'
}
