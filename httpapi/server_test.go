package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/MrEthical07/goMFA/matchers"
	"github.com/MrEthical07/goMFA/providers/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.Provider) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := goMFA.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.HMACSecret = []byte("0123456789abcdef0123456789abcdef")

	provider := memory.New()

	engine, err := goMFA.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountProvider(provider).
		WithMatchers(goMFA.Matchers{
			Face:      matchers.NewCosineMatcher(),
			Voice:     matchers.NewCosineMatcher(),
			Gesture:   matchers.NewTraceMatcher(),
			Keystroke: matchers.NewTimingMatcher(),
		}).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	srv := NewServer(engine, zap.NewNop(), Options{
		AllowedOrigins:    []string{"*"},
		RequestsPerSecond: 1000,
		RequestBurst:      1000,
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, provider
}

func postJSON(t *testing.T, ts *httptest.Server, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	_ = resp.Body.Close()
	return resp, decoded
}

func getJSON(t *testing.T, ts *httptest.Server, path, token string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	_ = resp.Body.Close()
	return resp, decoded
}

func registerAndLogin(t *testing.T, ts *httptest.Server, email, password string) map[string]any {
	t.Helper()

	username, _, _ := strings.Cut(email, "@")
	resp, _ := postJSON(t, ts, "/auth/register", "", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, login := postJSON(t, ts, "/auth/login", "", map[string]string{
		"identifier": email,
		"password":   password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return login
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := getJSON(t, ts, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "healthy", body["status"])
}

func TestRegisterLoginAndProfile(t *testing.T) {
	ts, _ := newTestServer(t)

	login := registerAndLogin(t, ts, "alice@example.com", "correct-horse-battery")
	require.False(t, login["mfa_required"].(bool))
	access := login["access_token"].(string)
	require.NotEmpty(t, access)

	resp, profile := getJSON(t, ts, "/auth/profile", access)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, login["user_id"], profile["UserID"])
}

func TestRegisterDuplicateConflicts(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := postJSON(t, ts, "/auth/register", "", map[string]string{
		"username": "dup",
		"email":    "dup@example.com",
		"password": "correct-horse-battery",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = postJSON(t, ts, "/auth/register", "", map[string]string{
		"username": "dup2",
		"email":    "dup@example.com",
		"password": "another-password-1",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLoginWrongPasswordUnauthorized(t *testing.T) {
	ts, _ := newTestServer(t)

	registerAndLogin(t, ts, "bob@example.com", "correct-horse-battery")

	resp, _ := postJSON(t, ts, "/auth/login", "", map[string]string{
		"identifier": "bob@example.com",
		"password":   "wrong-password-123",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRefreshRotationAndReuseDetection(t *testing.T) {
	ts, _ := newTestServer(t)

	login := registerAndLogin(t, ts, "carol@example.com", "correct-horse-battery")
	refresh := login["refresh_token"].(string)

	resp, rotated := postJSON(t, ts, "/auth/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, rotated["refresh_token"])
	require.NotEqual(t, refresh, rotated["refresh_token"])

	// The superseded token must be dead, and its reuse must kill the session.
	resp, _ = postJSON(t, ts, "/auth/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func totpCode(t *testing.T, secretBase32 string, at time.Time) string {
	t.Helper()

	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secretBase32)
	require.NoError(t, err)

	counter := uint64(at.Unix() / 30)
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := (binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff) % 1000000
	return fmt.Sprintf("%06d", code)
}

func TestTOTPEnrollmentAndChallengeFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	login := registerAndLogin(t, ts, "dave@example.com", "correct-horse-battery")
	access := login["access_token"].(string)

	resp, setup := postJSON(t, ts, "/enroll/totp", access, map[string]string{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	secret := setup["secret_base32"].(string)
	require.NotEmpty(t, secret)
	require.Contains(t, setup["provision_uri"], "otpauth://totp/")

	resp, _ = postJSON(t, ts, "/enroll/totp/confirm", access, map[string]string{
		"code": totpCode(t, secret, time.Now()),
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Second login now steps up to a challenge.
	resp, challenge := postJSON(t, ts, "/auth/login", "", map[string]string{
		"identifier": "dave@example.com",
		"password":   "correct-horse-battery",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.True(t, challenge["mfa_required"].(bool))
	challengeID := challenge["challenge_id"].(string)
	require.NotEmpty(t, challengeID)

	// The confirmation code seeded the replay floor; use the next time step.
	resp, confirmed := postJSON(t, ts, "/auth/mfa/confirm", "", map[string]any{
		"challenge_id": challengeID,
		"method":       "totp",
		"code":         totpCode(t, secret, time.Now().Add(30*time.Second)),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, confirmed["access_token"])
	require.Equal(t, "totp", confirmed["used_method"])
}

func TestChallengeUnknownMethodRejected(t *testing.T) {
	ts, _ := newTestServer(t)

	login := registerAndLogin(t, ts, "erin@example.com", "correct-horse-battery")
	access := login["access_token"].(string)

	resp, setup := postJSON(t, ts, "/enroll/totp", access, map[string]string{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	secret := setup["secret_base32"].(string)
	resp, _ = postJSON(t, ts, "/enroll/totp/confirm", access, map[string]string{
		"code": totpCode(t, secret, time.Now()),
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, challenge := postJSON(t, ts, "/auth/login", "", map[string]string{
		"identifier": "erin@example.com",
		"password":   "correct-horse-battery",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// face was never enrolled, so it is not part of the challenge.
	resp, _ = postJSON(t, ts, "/auth/mfa/confirm", "", map[string]any{
		"challenge_id": challenge["challenge_id"],
		"method":       "face",
		"sample":       []byte{1, 2, 3},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProofRejectionsMapToUnauthorized(t *testing.T) {
	for _, err := range []error{
		goMFA.ErrVerificationFailed,
		goMFA.ErrVerificationReplay,
		goMFA.ErrTOTPInvalid,
		goMFA.ErrBackupCodeInvalid,
		goMFA.ErrMatcherTimeout,
	} {
		require.Equal(t, http.StatusUnauthorized, statusForError(err), "%v", err)
		require.True(t, isProofRejection(err), "%v", err)
	}
}

func TestChallengeWrongCodeReportsRemaining(t *testing.T) {
	ts, _ := newTestServer(t)

	login := registerAndLogin(t, ts, "hank@example.com", "correct-horse-battery")
	access := login["access_token"].(string)

	resp, setup := postJSON(t, ts, "/enroll/totp", access, map[string]string{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	secret := setup["secret_base32"].(string)
	resp, _ = postJSON(t, ts, "/enroll/totp/confirm", access, map[string]string{
		"code": totpCode(t, secret, time.Now()),
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, challenge := postJSON(t, ts, "/auth/login", "", map[string]string{
		"identifier": "hank@example.com",
		"password":   "correct-horse-battery",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// A failed proof keeps the message generic but reports the budget left.
	resp, body := postJSON(t, ts, "/auth/mfa/confirm", "", map[string]any{
		"challenge_id": challenge["challenge_id"],
		"method":       "totp",
		"code":         "000000",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "verification failed", body["error"])
	require.Equal(t, float64(4), body["remaining_attempts"])
}

func TestBackupCodesGenerateAndCount(t *testing.T) {
	ts, _ := newTestServer(t)

	login := registerAndLogin(t, ts, "frank@example.com", "correct-horse-battery")
	access := login["access_token"].(string)

	resp, generated := postJSON(t, ts, "/backup-codes/", access, map[string]string{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	codes := generated["codes"].([]any)
	require.Len(t, codes, 10)

	resp, remaining := getJSON(t, ts, "/backup-codes/", access)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(10), remaining["remaining"])
}

func TestGuardedRouteRequiresToken(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := getJSON(t, ts, "/auth/profile", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = getJSON(t, ts, "/devices/", "not-a-token")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogoutInvalidatesSession(t *testing.T) {
	ts, _ := newTestServer(t)

	login := registerAndLogin(t, ts, "grace@example.com", "correct-horse-battery")
	access := login["access_token"].(string)

	resp, _ := postJSON(t, ts, "/auth/logout", access, map[string]string{})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Strict-mode routes see the dead session immediately.
	resp, _ = getJSON(t, ts, "/devices/", access)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
