package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

const (
	sessionIDBytes     = 16
	refreshSecretBytes = 32
	refreshTokenBytes  = sessionIDBytes + refreshSecretBytes
)

// ErrTokenMalformed is returned when a refresh token fails structural decoding.
var ErrTokenMalformed = errors.New("token malformed")

// NewSessionID returns a 128-bit random identifier in unpadded base64url.
func NewSessionID() (string, error) {
	var buf [sessionIDBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

// NewChallengeID returns a random MFA challenge identifier. Challenge IDs use
// the same entropy as session IDs; the two namespaces never collide because
// their Redis prefixes differ.
func NewChallengeID() (string, error) {
	return NewSessionID()
}

// NewRefreshSecret returns 32 bytes of refresh-token entropy.
func NewRefreshSecret() ([]byte, error) {
	buf := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// HashRefreshSecret hashes the refresh secret for storage. Only the hash is
// persisted; the raw secret exists only inside the issued token.
func HashRefreshSecret(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// EncodeRefreshToken packs the session ID and the raw refresh secret into a
// single opaque client token.
func EncodeRefreshToken(sessionID string, secret []byte) (string, error) {
	sid, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil || len(sid) != sessionIDBytes {
		return "", ErrTokenMalformed
	}
	if len(secret) != refreshSecretBytes {
		return "", ErrTokenMalformed
	}

	raw := make([]byte, 0, refreshTokenBytes)
	raw = append(raw, sid...)
	raw = append(raw, secret...)
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeRefreshToken splits an opaque refresh token back into its session ID
// and raw secret.
func DecodeRefreshToken(token string) (sessionID string, secret []byte, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != refreshTokenBytes {
		return "", nil, ErrTokenMalformed
	}

	sessionID = base64.RawURLEncoding.EncodeToString(raw[:sessionIDBytes])
	secret = raw[sessionIDBytes:]
	return sessionID, secret, nil
}
