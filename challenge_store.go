package goMFA

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	errChallengeNotFound = errors.New("mfa challenge: not found")
	errChallengeExpired  = errors.New("mfa challenge: expired")
	errChallengeExceeded = errors.New("mfa challenge: attempts exceeded")
	errChallengeBackend  = errors.New("mfa challenge: backend error")
)

const challengeFormatVersion = 1

const challengeConsumeMaxRetries = 4

// mfaChallenge is the ephemeral record created after a successful password
// check and destroyed on success, exhaustion, or expiry. Remaining is the
// attempt budget left; it is decremented before any proof is evaluated.
type mfaChallenge struct {
	UserID    string
	Methods   uint8
	Remaining uint16
	ExpiresAt int64
}

type mfaChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newMFAChallengeStore(redisClient redis.UniversalClient, prefix string) *mfaChallengeStore {
	if prefix == "" {
		prefix = "amc"
	}
	return &mfaChallengeStore{redis: redisClient, prefix: prefix}
}

func (s *mfaChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

func encodeMFAChallenge(ch *mfaChallenge) ([]byte, error) {
	if len(ch.UserID) > 0xFFFF {
		return nil, errors.New("userID too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(challengeFormatVersion)
	buf.WriteByte(ch.Methods)
	if err := binary.Write(&buf, binary.BigEndian, ch.Remaining); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, ch.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(ch.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(ch.UserID)

	return buf.Bytes(), nil
}

func decodeMFAChallenge(data []byte) (*mfaChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeFormatVersion {
		return nil, errors.New("invalid challenge version")
	}

	ch := &mfaChallenge{}
	if ch.Methods, err = reader.ReadByte(); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &ch.Remaining); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &ch.ExpiresAt); err != nil {
		return nil, err
	}

	var userLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userLen); err != nil {
		return nil, err
	}
	userID := make([]byte, userLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, err
	}
	ch.UserID = string(userID)

	return ch, nil
}

// Save stores a fresh challenge under its ID with the configured TTL.
func (s *mfaChallengeStore) Save(ctx context.Context, challengeID string, ch *mfaChallenge, ttl time.Duration) error {
	data, err := encodeMFAChallenge(ch)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(challengeID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errChallengeBackend, err)
	}
	return nil
}

// Get loads a challenge. Expired records are deleted eagerly and reported as
// expired rather than missing, so callers can distinguish the two.
func (s *mfaChallengeStore) Get(ctx context.Context, challengeID string) (*mfaChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", errChallengeBackend, err)
	}

	ch, err := decodeMFAChallenge(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errChallengeBackend, err)
	}

	if time.Now().Unix() >= ch.ExpiresAt {
		_, _ = s.Delete(ctx, challengeID)
		return nil, errChallengeExpired
	}

	return ch, nil
}

// Delete removes a challenge and reports whether it existed. The boolean is
// the success-path replay guard: only the caller that observed the delete may
// mint tokens.
func (s *mfaChallengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	deleted, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errChallengeBackend, err)
	}
	return deleted > 0, nil
}

// ConsumeAttempt atomically decrements the remaining-attempt budget and
// returns the value after the decrement. The decrement happens BEFORE the
// proof is evaluated, so a crashed or abandoned verification still costs an
// attempt. A challenge whose budget is already zero is deleted and reported
// as exceeded; unknown and expired challenges never consume an attempt.
func (s *mfaChallengeStore) ConsumeAttempt(ctx context.Context, challengeID string) (int, error) {
	key := s.key(challengeID)

	var remaining int
	for attempt := 0; attempt < challengeConsumeMaxRetries; attempt++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			ch, err := decodeMFAChallenge(data)
			if err != nil {
				return fmt.Errorf("%w: %v", errChallengeBackend, err)
			}

			now := time.Now()
			if now.Unix() >= ch.ExpiresAt {
				if err := tx.Del(ctx, key).Err(); err != nil {
					return fmt.Errorf("%w: %v", errChallengeBackend, err)
				}
				return errChallengeExpired
			}

			if ch.Remaining == 0 {
				if err := tx.Del(ctx, key).Err(); err != nil {
					return fmt.Errorf("%w: %v", errChallengeBackend, err)
				}
				return errChallengeExceeded
			}

			ch.Remaining--
			remaining = int(ch.Remaining)

			updated, err := encodeMFAChallenge(ch)
			if err != nil {
				return fmt.Errorf("%w: %v", errChallengeBackend, err)
			}

			ttl := time.Until(time.Unix(ch.ExpiresAt, 0))
			if ttl <= 0 {
				ttl = time.Second
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return remaining, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return 0, errChallengeNotFound
		default:
			return 0, err
		}
	}

	return 0, fmt.Errorf("%w: consume attempt retries exhausted", errChallengeBackend)
}

func mapChallengeStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errChallengeNotFound):
		return ErrChallengeNotFound
	case errors.Is(err, errChallengeExpired):
		return ErrChallengeExpired
	case errors.Is(err, errChallengeExceeded):
		return ErrChallengeExhausted
	default:
		return fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}
}
