package goMFA

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	errDeviceNotFound = errors.New("device trust: not found")
	errDeviceBackend  = errors.New("device trust: backend error")
)

const deviceFormatVersion = 1

const deviceFlagTrusted = 1 << 0

// deviceRecord is the per-(user, fingerprint) trust grant. Revocation clears
// the trusted flag but keeps the record for listing until the retention TTL
// lapses; Forget removes it entirely.
type deviceRecord struct {
	FingerprintHash [32]byte
	Label           string
	Trusted         bool
	GrantedAt       int64
	LastSeenAt      int64
	TrustedUntil    int64
}

type deviceStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newDeviceStore(redisClient redis.UniversalClient, prefix string) *deviceStore {
	if prefix == "" {
		prefix = "dtv"
	}
	return &deviceStore{redis: redisClient, prefix: prefix}
}

func encodeFingerprintHash(hash [32]byte) string {
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

func (s *deviceStore) key(userID string, hash [32]byte) string {
	return s.prefix + ":" + userID + ":" + encodeFingerprintHash(hash)
}

func (s *deviceStore) indexKey(userID string) string {
	return s.prefix + "l:" + userID
}

func encodeDeviceRecord(rec *deviceRecord) ([]byte, error) {
	if len(rec.Label) > 255 {
		return nil, errors.New("label too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(deviceFormatVersion)

	var flags byte
	if rec.Trusted {
		flags |= deviceFlagTrusted
	}
	buf.WriteByte(flags)

	for _, ts := range []int64{rec.GrantedAt, rec.LastSeenAt, rec.TrustedUntil} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	buf.WriteByte(byte(len(rec.Label)))
	buf.WriteString(rec.Label)
	buf.Write(rec.FingerprintHash[:])

	return buf.Bytes(), nil
}

func decodeDeviceRecord(data []byte) (*deviceRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != deviceFormatVersion {
		return nil, errors.New("invalid device record version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	rec := &deviceRecord{Trusted: flags&deviceFlagTrusted != 0}
	for _, ts := range []*int64{&rec.GrantedAt, &rec.LastSeenAt, &rec.TrustedUntil} {
		if err := binary.Read(reader, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	labelLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	label := make([]byte, labelLen)
	if _, err := io.ReadFull(reader, label); err != nil {
		return nil, err
	}
	rec.Label = string(label)

	if _, err := io.ReadFull(reader, rec.FingerprintHash[:]); err != nil {
		return nil, err
	}

	return rec, nil
}

// Grant records (or refreshes) a trust grant for the device. The record key
// lives for the retention TTL; the trust itself expires at TrustedUntil.
func (s *deviceStore) Grant(ctx context.Context, userID string, rec *deviceRecord, retention time.Duration) error {
	data, err := encodeDeviceRecord(rec)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(userID, rec.FingerprintHash), data, retention)
		pipe.SAdd(ctx, s.indexKey(userID), encodeFingerprintHash(rec.FingerprintHash))
		pipe.Expire(ctx, s.indexKey(userID), retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errDeviceBackend, err)
	}
	return nil
}

// Get loads one device record.
func (s *deviceStore) Get(ctx context.Context, userID string, hash [32]byte) (*deviceRecord, error) {
	data, err := s.redis.Get(ctx, s.key(userID, hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errDeviceNotFound
		}
		return nil, fmt.Errorf("%w: %v", errDeviceBackend, err)
	}

	rec, err := decodeDeviceRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errDeviceBackend, err)
	}
	return rec, nil
}

// IsTrusted reports whether the device holds a live trust grant and bumps
// its last-seen timestamp when it does. The bump is best effort.
func (s *deviceStore) IsTrusted(ctx context.Context, userID string, hash [32]byte, now time.Time) (bool, error) {
	rec, err := s.Get(ctx, userID, hash)
	if err != nil {
		if errors.Is(err, errDeviceNotFound) {
			return false, nil
		}
		return false, err
	}

	if !rec.Trusted || now.Unix() >= rec.TrustedUntil {
		return false, nil
	}

	rec.LastSeenAt = now.Unix()
	if data, encErr := encodeDeviceRecord(rec); encErr == nil {
		_ = s.redis.Set(ctx, s.key(userID, hash), data, redis.KeepTTL).Err()
	}

	return true, nil
}

// Revoke clears the trust flag but keeps the record for device listings.
func (s *deviceStore) Revoke(ctx context.Context, userID string, hash [32]byte) error {
	rec, err := s.Get(ctx, userID, hash)
	if err != nil {
		return err
	}

	rec.Trusted = false
	rec.TrustedUntil = 0

	data, err := encodeDeviceRecord(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(userID, hash), data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", errDeviceBackend, err)
	}
	return nil
}

// Forget removes the device record and its index entry entirely.
func (s *deviceStore) Forget(ctx context.Context, userID string, hash [32]byte) (bool, error) {
	var removed bool
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, s.indexKey(userID), encodeFingerprintHash(hash))
		pipe.Del(ctx, s.key(userID, hash))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", errDeviceBackend, err)
	}

	// TxPipelined does not expose per-command results cleanly here; re-check.
	exists, err := s.redis.Exists(ctx, s.key(userID, hash)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errDeviceBackend, err)
	}
	removed = exists == 0
	return removed, nil
}

// List returns all tracked device records for a user, skipping index entries
// whose records already expired.
func (s *deviceStore) List(ctx context.Context, userID string) ([]*deviceRecord, error) {
	encoded, err := s.redis.SMembers(ctx, s.indexKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*deviceRecord{}, nil
		}
		return nil, fmt.Errorf("%w: %v", errDeviceBackend, err)
	}
	if len(encoded) == 0 {
		return []*deviceRecord{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(encoded))
	for i, enc := range encoded {
		cmds[i] = pipe.Get(ctx, s.prefix+":"+userID+":"+enc)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", errDeviceBackend, err)
	}

	records := make([]*deviceRecord, 0, len(encoded))
	stale := make([]interface{}, 0)
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, encoded[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", errDeviceBackend, cmdErr)
		}

		rec, decErr := decodeDeviceRecord(data)
		if decErr != nil {
			return nil, fmt.Errorf("%w: %v", errDeviceBackend, decErr)
		}
		records = append(records, rec)
	}

	if len(stale) > 0 {
		_ = s.redis.SRem(ctx, s.indexKey(userID), stale...).Err()
	}

	return records, nil
}

// Count returns the number of tracked devices for a user.
func (s *deviceStore) Count(ctx context.Context, userID string) (int, error) {
	count, err := s.redis.SCard(ctx, s.indexKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errDeviceBackend, err)
	}
	return int(count), nil
}
