package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSessionStoreTest(t *testing.T) (*Store, *redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb, "as", true, false, 0)
	return store, rdb, func() {
		rdb.Close()
		mr.Close()
	}
}

func testSession() *Session {
	now := time.Now()
	return &Session{
		SessionID:   "sid-1",
		UserID:      "u-1",
		Methods:     0x11,
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(time.Hour).Unix(),
		RefreshHash: [32]byte{1},
	}
}

func TestDeleteSessionIdempotentCounterAndIndex(t *testing.T) {
	store, rdb, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	sess := testSession()

	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := store.Delete(ctx, sess.SessionID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := store.Delete(ctx, sess.SessionID); err != nil {
		t.Fatalf("second delete: %v", err)
	}

	count, err := store.SessionCount(ctx)
	if err != nil {
		t.Fatalf("session count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected session count 0, got %d", count)
	}

	members, err := rdb.SMembers(ctx, store.userKey(sess.UserID)).Result()
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected no user index members, got %v", members)
	}
}

func TestRotateRefreshHashSentinelErrors(t *testing.T) {
	store, rdb, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	// Not found.
	_, err := store.RotateRefreshHash(ctx, "missing", [32]byte{1}, [32]byte{2})
	if !errors.Is(err, redis.Nil) || !errors.Is(err, ErrRefreshSessionNotFound) {
		t.Fatalf("expected not-found sentinel, got %v", err)
	}

	// Expired.
	expired := testSession()
	expired.SessionID = "sid-expired"
	expired.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	if err := store.Save(ctx, expired, time.Hour); err != nil {
		t.Fatalf("save expired session failed: %v", err)
	}
	_, err = store.RotateRefreshHash(ctx, expired.SessionID, expired.RefreshHash, [32]byte{9})
	if !errors.Is(err, redis.Nil) || !errors.Is(err, ErrRefreshSessionExpired) {
		t.Fatalf("expected expired sentinel, got %v", err)
	}

	// Corrupt blob.
	if err := rdb.Set(ctx, store.key("sid-corrupt"), []byte("bad"), time.Hour).Err(); err != nil {
		t.Fatalf("seed corrupt blob failed: %v", err)
	}
	_, err = store.RotateRefreshHash(ctx, "sid-corrupt", [32]byte{1}, [32]byte{2})
	if !errors.Is(err, ErrRefreshSessionCorrupt) {
		t.Fatalf("expected corrupt sentinel, got %v", err)
	}
}

func TestRotateRefreshHashMismatchRevokesSession(t *testing.T) {
	store, rdb, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	sess := testSession()
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save session: %v", err)
	}

	var wrong [32]byte
	wrong[0] = 0xFF
	_, err := store.RotateRefreshHash(ctx, sess.SessionID, wrong, [32]byte{2})
	if !errors.Is(err, ErrRefreshHashMismatch) {
		t.Fatalf("expected mismatch sentinel, got %v", err)
	}

	exists, err := rdb.Exists(ctx, store.key(sess.SessionID)).Result()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists != 0 {
		t.Fatal("expected session to be revoked after hash mismatch")
	}
}

func TestRotateRefreshHashUpdatesBlob(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	sess := testSession()
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save session: %v", err)
	}

	next := [32]byte{42}
	rotated, err := store.RotateRefreshHash(ctx, sess.SessionID, sess.RefreshHash, next)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated.RefreshHash != next {
		t.Fatal("expected rotated session to carry the next hash")
	}
	if rotated.UserID != sess.UserID || rotated.Methods != sess.Methods {
		t.Fatalf("rotation must not disturb other fields: %+v", rotated)
	}

	// Old hash is now stale: a second rotation with it must fail and revoke.
	if _, err := store.RotateRefreshHash(ctx, sess.SessionID, sess.RefreshHash, [32]byte{7}); !errors.Is(err, ErrRefreshHashMismatch) {
		t.Fatalf("expected stale hash to mismatch, got %v", err)
	}
}
