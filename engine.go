package goMFA

import (
	"context"
	"errors"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/MrEthical07/goMFA/internal"
	"github.com/MrEthical07/goMFA/internal/rate"
	"github.com/MrEthical07/goMFA/jwt"
	"github.com/MrEthical07/goMFA/password"
	"github.com/MrEthical07/goMFA/session"
	"github.com/redis/go-redis/v9"
)

// Engine defines a public type used by goMFA APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config         Config
	sessionStore   *session.Store
	challengeStore *mfaChallengeStore
	deviceStore    *deviceStore
	historyStore   *historyStore
	rateLimiter    *rate.Limiter
	audit          *auditDispatcher
	metrics        *Metrics
	passwordHash   *password.Hasher
	totp           *totpManager
	verifier       *verifier
	jwtManager     *jwt.Manager
	accounts       AccountProvider
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedByMethod breaks the dropped-event counter down by the MFA
// method the discarded events carried, so operators can see which factor's
// audit trail is losing records under load.
//
// AuditDroppedByMethod does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDroppedByMethod() map[string]uint64 {
	if e == nil || e.audit == nil {
		return nil
	}
	return e.audit.DroppedByMethod()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// amrValue maps a factor to its RFC 8176 authentication method reference
// where one exists; non-standard factors keep their own names.
func amrValue(m Method) string {
	switch m {
	case MethodPassword:
		return "pwd"
	case MethodVoice:
		return "vbm"
	case MethodTOTP:
		return "otp"
	default:
		return string(m)
	}
}

func amrFromMask(mask uint8) []string {
	amr := []string{amrValue(MethodPassword)}
	for _, m := range methodsFromMask(mask) {
		amr = append(amr, amrValue(m))
	}
	return amr
}

// Register describes the register operation and its observable behavior.
//
// Register may return an error when input validation, dependency calls, or security checks fail.
// Register does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Register(ctx context.Context, input RegisterInput) (AccountRecord, error) {
	if e == nil || e.passwordHash == nil || e.accounts == nil {
		return AccountRecord{}, ErrEngineNotReady
	}

	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	if input.Username == "" || input.Email == "" {
		return AccountRecord{}, ErrInvalidCredentials
	}
	if _, err := mail.ParseAddress(input.Email); err != nil {
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "invalid_email"}
		})
		return AccountRecord{}, ErrInvalidCredentials
	}
	if len(input.Password) < e.config.Password.MinLength {
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", "", ErrPasswordPolicy, func() map[string]string {
			return map[string]string{"reason": "password_policy"}
		})
		return AccountRecord{}, ErrPasswordPolicy
	}

	hash, err := e.passwordHash.Hash(input.Password)
	if err != nil {
		return AccountRecord{}, ErrPasswordPolicy
	}
	input.Password = ""

	account, err := e.accounts.CreateAccount(ctx, CreateAccountInput{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, ErrProviderDuplicateIdentifier) || errors.Is(err, ErrAccountExists) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", "", ErrAccountExists, func() map[string]string {
				return map[string]string{"reason": "duplicate"}
			})
			return AccountRecord{}, ErrAccountExists
		}
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", "", err, nil)
		return AccountRecord{}, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, account.UserID, "", "", nil, func() map[string]string {
		return map[string]string{"identifier": input.Email}
	})

	account.PasswordHash = ""
	return account, nil
}

// Login verifies the password factor and either issues tokens directly (no
// secondary factor enrolled, or the device holds a live trust grant) or opens
// an MFA challenge that must be completed with [Engine.ConfirmMFA].
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// Login does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Login(ctx context.Context, identifier, pass string) (*LoginResult, error) {
	if e == nil || e.passwordHash == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	ip := clientIPFromContext(ctx)
	identifier = strings.TrimSpace(strings.ToLower(identifier))

	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckLogin(ctx, identifier, ip); err != nil {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", MethodPassword, ErrLoginRateLimited, func() map[string]string {
				return map[string]string{"identifier": identifier}
			})
			e.emitRateLimit(ctx, "login", func() map[string]string {
				return map[string]string{"identifier": identifier}
			})
			return nil, ErrLoginRateLimited
		}
	}

	if pass == "" {
		return nil, e.failLogin(ctx, identifier, "", "empty_password")
	}

	account, err := e.accounts.GetAccountByIdentifier(ctx, identifier)
	if err != nil {
		// Burn a hash to keep the miss path close to the hit path in latency.
		_, _ = e.passwordHash.Verify(pass, dummyPasswordHash)
		return nil, e.failLogin(ctx, identifier, "", "user_not_found")
	}

	ok, err := e.passwordHash.Verify(pass, account.PasswordHash)
	if err != nil || !ok {
		e.recordHistory(ctx, account.UserID, MethodPassword, false, 0, ErrInvalidCredentials)
		return nil, e.failLogin(ctx, identifier, account.UserID, "password_mismatch")
	}

	if statusErr := accountStatusToError(account.Status); statusErr != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.UserID, "", MethodPassword, statusErr, func() map[string]string {
			return map[string]string{"identifier": identifier, "reason": "account_status"}
		})
		return nil, statusErr
	}

	if e.config.Password.UpgradeOnLogin {
		if needs, err := e.passwordHash.NeedsRehash(account.PasswordHash); err == nil && needs {
			if upgraded, err := e.passwordHash.Hash(pass); err == nil {
				// Rehash update is best-effort and must not block successful login.
				if err := e.accounts.UpdatePasswordHash(ctx, account.UserID, upgraded); err != nil {
					log.Print("goMFA: password hash upgrade update failed")
				}
			} else {
				log.Print("goMFA: password hash upgrade generation failed")
			}
		}
	}
	pass = ""

	if e.rateLimiter != nil {
		if err := e.rateLimiter.ResetLogin(ctx, identifier, ip); err != nil {
			log.Print("goMFA: login limiter reset failed")
		}
	}

	mask, err := e.enrolledMethodMask(ctx, account.UserID)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.UserID, "", MethodPassword, err, func() map[string]string {
			return map[string]string{"reason": "enrollment_lookup"}
		})
		return nil, err
	}

	if mask == 0 {
		return e.completeLogin(ctx, account, 0, MethodPassword, false, 0)
	}

	if e.config.DeviceTrust.Enabled && e.config.DeviceTrust.SkipChallengeWhenTrusted {
		if fp := fingerprintFromContext(ctx); fp != "" {
			trusted, err := e.deviceStore.IsTrusted(ctx, account.UserID, internal.HashBindingValue(fp), time.Now())
			if err != nil {
				log.Print("goMFA: device trust lookup failed")
			} else if trusted {
				e.metricInc(MetricDeviceTrustBypass)
				e.emitAudit(ctx, auditEventDeviceTrustBypass, true, account.UserID, "", "", nil, nil)
				return e.completeLogin(ctx, account, 0, MethodPassword, true, 0)
			}
		}
	}

	challengeID, err := internal.NewChallengeID()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	challenge := &mfaChallenge{
		UserID:    account.UserID,
		Methods:   mask,
		Remaining: uint16(e.config.Challenge.MaxAttempts),
		ExpiresAt: now.Add(e.config.Challenge.TTL).Unix(),
	}
	if err := e.challengeStore.Save(ctx, challengeID, challenge, e.config.Challenge.TTL); err != nil {
		return nil, mapChallengeStoreError(err)
	}

	e.metricInc(MetricMFARequired)
	e.emitAudit(ctx, auditEventMFARequired, true, account.UserID, "", "", nil, func() map[string]string {
		return map[string]string{"challenge_id": challengeID}
	})

	return &LoginResult{
		UserID:      account.UserID,
		MFARequired: true,
		ChallengeID: challengeID,
		Methods:     methodsFromMask(mask),
	}, nil
}

// dummyPasswordHash is a throwaway argon2id hash verified on the
// unknown-identifier path so response timing does not reveal account existence.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=3,p=2$AAAAAAAAAAAAAAAAAAAAAA$7NURrjz9TLKo3MI5oYAGinLCYc1aOpzVldBnPqBHPdk"

func (e *Engine) failLogin(ctx context.Context, identifier, userID, reason string) error {
	ip := clientIPFromContext(ctx)
	if e.rateLimiter != nil {
		if err := e.rateLimiter.IncrementLogin(ctx, identifier, ip); err != nil {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, userID, "", MethodPassword, ErrLoginRateLimited, func() map[string]string {
				return map[string]string{"identifier": identifier}
			})
			e.emitRateLimit(ctx, "login", func() map[string]string {
				return map[string]string{"identifier": identifier}
			})
			return ErrLoginRateLimited
		}
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", MethodPassword, ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"identifier": identifier, "reason": reason}
	})
	return ErrInvalidCredentials
}

// enrolledMethodMask computes the secondary factors this user can satisfy:
// verified biometric and TOTP enrollments plus backup codes when any remain.
func (e *Engine) enrolledMethodMask(ctx context.Context, userID string) (uint8, error) {
	var mask uint8

	enrollments, err := e.accounts.ListEnrollments(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, enr := range enrollments {
		if !enr.Verified {
			continue
		}
		mask |= methodBit(enr.Method)
	}

	count, err := e.accounts.CountBackupCodes(ctx, userID)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		mask |= methodBit(MethodBackupCode)
	}

	return mask, nil
}

// completeLogin creates the session and mints the token pair. methodsMask
// records which secondary factor (if any) was satisfied; it flows into the
// session blob and the token AMR claim.
func (e *Engine) completeLogin(ctx context.Context, account AccountRecord, methodsMask uint8, usedMethod Method, deviceTrust bool, confidence float64) (*LoginResult, error) {
	if e.config.Session.MaxSessionsPerUser > 0 {
		active, err := e.sessionStore.ActiveSessionCount(ctx, account.UserID)
		if err != nil {
			return nil, err
		}
		if active >= e.config.Session.MaxSessionsPerUser {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, account.UserID, "", usedMethod, ErrSessionLimitExceeded, nil)
			return nil, ErrSessionLimitExceeded
		}
	}

	access, refresh, sessionID, err := e.issueSession(ctx, account.UserID, uint8(account.Status), methodsMask)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.UserID, "", usedMethod, err, nil)
		return nil, err
	}

	if err := e.accounts.TouchLastLogin(ctx, account.UserID, time.Now().Unix()); err != nil {
		log.Print("goMFA: last login update failed")
	}
	e.recordHistory(ctx, account.UserID, usedMethod, true, confidence, nil)

	e.metricInc(MetricSessionCreated)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, account.UserID, sessionID, usedMethod, nil, nil)

	return &LoginResult{
		UserID:       account.UserID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(e.config.JWT.AccessTTL.Seconds()),
		UsedMethod:   usedMethod,
		DeviceTrust:  deviceTrust,
	}, nil
}

func (e *Engine) issueSession(ctx context.Context, userID string, status uint8, methodsMask uint8) (access, refresh, sessionID string, err error) {
	sessionID, err = internal.NewSessionID()
	if err != nil {
		return "", "", "", err
	}
	refreshSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return "", "", "", err
	}

	now := time.Now()
	lifetime := e.sessionLifetime()

	var fpHash, ipHash, uaHash [32]byte
	if fp := fingerprintFromContext(ctx); fp != "" {
		fpHash = internal.HashBindingValue(fp)
	}
	if e.config.Session.EnforceSingleIP {
		if ip := clientIPFromContext(ctx); ip != "" {
			ipHash = internal.HashBindingValue(ip)
		}
	}
	if e.config.Session.BindUserAgent {
		if ua := userAgentFromContext(ctx); ua != "" {
			uaHash = internal.HashBindingValue(ua)
		}
	}

	sess := &session.Session{
		SessionID:       sessionID,
		UserID:          userID,
		Status:          status,
		Methods:         methodsMask,
		RefreshHash:     internal.HashRefreshSecret(refreshSecret),
		FingerprintHash: fpHash,
		IPHash:          ipHash,
		UserAgentHash:   uaHash,
		CreatedAt:       now.Unix(),
		ExpiresAt:       now.Add(lifetime).Unix(),
	}

	if err := e.sessionStore.Save(ctx, sess, lifetime); err != nil {
		return "", "", "", errors.Join(ErrSessionCreationFailed, err)
	}

	access, err = e.jwtManager.CreateAccess(userID, sessionID, amrFromMask(methodsMask))
	if err != nil {
		return "", "", "", err
	}

	refresh, err = internal.EncodeRefreshToken(sessionID, refreshSecret)
	if err != nil {
		return "", "", "", err
	}

	return access, refresh, sessionID, nil
}

// Refresh describes the refresh operation and its observable behavior.
//
// Refresh may return an error when input validation, dependency calls, or security checks fail.
// Refresh does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	if e == nil || e.sessionStore == nil {
		return "", "", ErrEngineNotReady
	}

	sessionID, providedSecret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{"reason": "decode_failed"}
		})
		return "", "", ErrRefreshInvalid
	}

	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckRefresh(ctx, sessionID); err != nil {
			e.metricInc(MetricRefreshRateLimited)
			e.emitAudit(ctx, auditEventRefreshRateLimited, false, "", sessionID, "", ErrRefreshRateLimited, nil)
			e.emitRateLimit(ctx, "refresh", func() map[string]string {
				return map[string]string{"session_id": sessionID}
			})
			return "", "", ErrRefreshRateLimited
		}
	}

	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return "", "", err
	}

	sess, err := e.sessionStore.RotateRefreshHash(
		ctx,
		sessionID,
		internal.HashRefreshSecret(providedSecret),
		internal.HashRefreshSecret(nextSecret),
	)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshHashMismatch):
			e.metricInc(MetricRefreshReuseDetected)
			e.metricInc(MetricReplayDetected)
			e.metricInc(MetricSessionInvalidated)
			if trackErr := e.sessionStore.TrackReplayAnomaly(ctx, sessionID, e.sessionLifetime()); trackErr != nil {
				log.Print("goMFA: replay anomaly tracking failed")
			}
			e.emitAudit(ctx, auditEventRefreshReuseDetected, false, "", sessionID, "", ErrRefreshReuse, nil)
			return "", "", ErrRefreshReuse
		case errors.Is(err, redis.Nil):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, "", ErrSessionNotFound, func() map[string]string {
				return map[string]string{"reason": "session_not_found"}
			})
			return "", "", ErrSessionNotFound
		default:
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, "", err, func() map[string]string {
				return map[string]string{"reason": "rotate_failed"}
			})
			return "", "", err
		}
	}

	if statusErr := accountStatusToError(AccountStatus(sess.Status)); statusErr != nil {
		_ = e.sessionStore.Delete(ctx, sess.SessionID)
		e.metricInc(MetricSessionInvalidated)
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, sess.UserID, sess.SessionID, "", statusErr, func() map[string]string {
			return map[string]string{"reason": "account_status"}
		})
		return "", "", statusErr
	}

	access, err := e.jwtManager.CreateAccess(sess.UserID, sess.SessionID, amrFromMask(sess.Methods))
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, sess.UserID, sess.SessionID, "", err, func() map[string]string {
			return map[string]string{"reason": "issue_access_failed"}
		})
		return "", "", err
	}

	refresh, err := internal.EncodeRefreshToken(sess.SessionID, nextSecret)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return "", "", err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, sess.UserID, sess.SessionID, "", nil, nil)

	return access, refresh, nil
}

// ValidateAccess describes the validateaccess operation and its observable behavior.
//
// ValidateAccess may return an error when input validation, dependency calls, or security checks fail.
// ValidateAccess does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ValidateAccess(ctx context.Context, tokenStr string) (*AuthResult, error) {
	return e.Validate(ctx, tokenStr, ModeInherit)
}

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Validate(ctx context.Context, tokenStr string, routeMode RouteMode) (*AuthResult, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	claims, err := e.jwtManager.ParseAccess(tokenStr)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if e.config.JWT.MaxClockSkew >= 0 && claims.IssuedAt != nil {
		if claims.IssuedAt.Time.After(time.Now().Add(e.config.JWT.MaxClockSkew)) {
			return nil, ErrTokenClockSkew
		}
	}

	effectiveMode, err := e.resolveRouteMode(routeMode)
	if err != nil {
		return nil, err
	}

	// JWT-only and hybrid-default validation paths: no Redis.
	if effectiveMode == ModeJWTOnly || effectiveMode == ModeHybrid {
		return buildResultFromClaims(claims), nil
	}

	// Strict validation path: Redis is mandatory and fail-closed.
	sess, err := e.sessionStore.Get(ctx, claims.SID, e.sessionLifetime())
	if err != nil {
		if errors.Is(err, session.ErrRedisUnavailable) {
			return nil, ErrStrictBackendDown
		}
		return nil, ErrSessionNotFound
	}

	if statusErr := accountStatusToError(AccountStatus(sess.Status)); statusErr != nil {
		_ = e.sessionStore.Delete(ctx, claims.SID)
		return nil, statusErr
	}
	if err := e.validateSessionBinding(ctx, sess); err != nil {
		return nil, err
	}

	result := buildResultFromClaims(claims)
	result.AMR = amrFromMask(sess.Methods)
	return result, nil
}

func buildResultFromClaims(claims *jwt.AccessClaims) *AuthResult {
	res := &AuthResult{
		UserID:    claims.UID,
		SessionID: claims.SID,
		AMR:       claims.AMR,
	}
	if claims.IssuedAt != nil {
		res.IssuedAt = claims.IssuedAt.Unix()
	}
	if claims.ExpiresAt != nil {
		res.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return res
}

// validateSessionBinding compares the request's binding hashes against the
// ones captured at session creation. Anomalies are rate-limited to one audit
// event per session, kind, and window.
func (e *Engine) validateSessionBinding(ctx context.Context, sess *session.Session) error {
	var zero [32]byte

	if sess.FingerprintHash != zero {
		if fp := fingerprintFromContext(ctx); fp != "" {
			if internal.HashBindingValue(fp) != sess.FingerprintHash {
				e.noteBindingAnomaly(ctx, sess, "fingerprint")
				return ErrUnauthorized
			}
		}
	}
	if e.config.Session.EnforceSingleIP && sess.IPHash != zero {
		if ip := clientIPFromContext(ctx); ip != "" {
			if internal.HashBindingValue(ip) != sess.IPHash {
				e.noteBindingAnomaly(ctx, sess, "ip")
				return ErrUnauthorized
			}
		}
	}
	if e.config.Session.BindUserAgent && sess.UserAgentHash != zero {
		if ua := userAgentFromContext(ctx); ua != "" {
			if internal.HashBindingValue(ua) != sess.UserAgentHash {
				e.noteBindingAnomaly(ctx, sess, "user_agent")
				return ErrUnauthorized
			}
		}
	}

	return nil
}

func (e *Engine) noteBindingAnomaly(ctx context.Context, sess *session.Session, kind string) {
	emit, err := e.sessionStore.ShouldEmitBindingAnomaly(ctx, sess.SessionID, kind, time.Minute)
	if err != nil {
		log.Print("goMFA: binding anomaly tracking failed")
		return
	}
	if emit {
		e.emitAudit(ctx, auditEventBindingAnomaly, false, sess.UserID, sess.SessionID, "", ErrUnauthorized, func() map[string]string {
			return map[string]string{"kind": kind}
		})
	}
}

// Logout describes the logout operation and its observable behavior.
//
// Logout may return an error when input validation, dependency calls, or security checks fail.
// Logout does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	err := e.sessionStore.Delete(ctx, sessionID)
	if err == nil {
		e.metricInc(MetricLogout)
		e.metricInc(MetricSessionInvalidated)
	}
	e.emitAudit(ctx, auditEventLogoutSession, err == nil, "", sessionID, "", err, nil)
	return err
}

// LogoutByAccessToken describes the logoutbyaccesstoken operation and its observable behavior.
//
// LogoutByAccessToken may return an error when input validation, dependency calls, or security checks fail.
// LogoutByAccessToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) LogoutByAccessToken(ctx context.Context, tokenStr string) error {
	claims, err := e.jwtManager.ParseAccess(tokenStr)
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutSession, false, "", "", "", ErrTokenInvalid, func() map[string]string {
			return map[string]string{"reason": "invalid_access_token"}
		})
		return ErrTokenInvalid
	}

	return e.Logout(ctx, claims.SID)
}

// LogoutAll describes the logoutall operation and its observable behavior.
//
// LogoutAll may return an error when input validation, dependency calls, or security checks fail.
// LogoutAll does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	err := e.sessionStore.DeleteAllForUser(ctx, userID)
	if err == nil {
		e.metricInc(MetricLogoutAll)
		e.metricInc(MetricSessionInvalidated)
	}
	e.emitAudit(ctx, auditEventLogoutAll, err == nil, userID, "", "", err, nil)
	return err
}

func (e *Engine) recordHistory(ctx context.Context, userID string, method Method, success bool, confidence float64, cause error) {
	if e.historyStore == nil {
		return
	}

	attempt := LoginAttempt{
		Timestamp:  time.Now().Unix(),
		Method:     method,
		Success:    success,
		IP:         clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
		Confidence: confidence,
	}
	if cause != nil {
		attempt.Error = string(auditErrorCode(cause))
	}

	if err := e.historyStore.Record(ctx, userID, attempt); err != nil {
		log.Print("goMFA: login history record failed")
	}
}

// LoginHistory returns the most recent login attempts for a user, newest first.
func (e *Engine) LoginHistory(ctx context.Context, userID string, limit int) ([]LoginAttempt, error) {
	if e == nil || e.historyStore == nil {
		return nil, ErrHistoryUnavailable
	}
	attempts, err := e.historyStore.List(ctx, userID, limit)
	if err != nil {
		return nil, errors.Join(ErrHistoryUnavailable, err)
	}
	return attempts, nil
}

func (e *Engine) sessionLifetime() time.Duration {
	lifetime := e.config.Session.AbsoluteTTL
	if e.config.JWT.RefreshTTL > 0 && e.config.JWT.RefreshTTL < lifetime {
		return e.config.JWT.RefreshTTL
	}
	return lifetime
}

func (e *Engine) resolveRouteMode(routeMode RouteMode) (ValidationMode, error) {
	switch routeMode {
	case ModeInherit:
		switch e.config.ValidationMode {
		case ModeJWTOnly, ModeHybrid, ModeStrict:
			return e.config.ValidationMode, nil
		default:
			return 0, ErrInvalidRouteMode
		}
	case ModeJWTOnly, ModeHybrid, ModeStrict:
		return routeMode, nil
	default:
		return 0, ErrInvalidRouteMode
	}
}
