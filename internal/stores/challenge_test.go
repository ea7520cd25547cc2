package stores

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newChallengeStoreTest(t *testing.T, now func() time.Time) (*ChallengeStore, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewChallengeStore(rdb, "test", now), mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func testChallenge(now time.Time) *Challenge {
	return &Challenge{UserID: "user-1", ExpiresAt: now.Add(5 * time.Minute).Unix()}
}

func TestChallengeSaveGetConsume(t *testing.T) {
	store, _, done := newChallengeStoreTest(t, nil)
	defer done()
	ctx := context.Background()

	if err := store.Save(ctx, "k1", testChallenge(time.Now()), 5*time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != "user-1" || got.Attempts != 0 {
		t.Fatalf("unexpected record %+v", got)
	}

	ok, err := store.Consume(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v", ok, err)
	}
	ok, err = store.Consume(ctx, "k1")
	if err != nil || ok {
		t.Fatalf("second consume: ok=%v err=%v", ok, err)
	}
	if _, err := store.Get(ctx, "k1"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected not found after consume, got %v", err)
	}
}

func TestChallengeConsumeSingleWinner(t *testing.T) {
	store, _, done := newChallengeStoreTest(t, nil)
	defer done()
	ctx := context.Background()

	if err := store.Save(ctx, "race", testChallenge(time.Now()), 5*time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Consume(ctx, "race")
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestChallengeExpiresWithTTL(t *testing.T) {
	store, mr, done := newChallengeStoreTest(t, nil)
	defer done()
	ctx := context.Background()

	if err := store.Save(ctx, "ttl", testChallenge(time.Now()), 5*time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(5*time.Minute + time.Second)
	if _, err := store.Get(ctx, "ttl"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected not found after TTL, got %v", err)
	}
}

func TestChallengeGetHonorsRecordedExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	store, _, done := newChallengeStoreTest(t, clock)
	defer done()
	ctx := context.Background()

	if err := store.Save(ctx, "exp", testChallenge(now), time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	now = now.Add(5 * time.Minute)
	if _, err := store.Get(ctx, "exp"); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if _, err := store.Get(ctx, "exp"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected expired ticket deleted, got %v", err)
	}
}

func TestChallengeRecordFailureDeletesAtCap(t *testing.T) {
	store, _, done := newChallengeStoreTest(t, nil)
	defer done()
	ctx := context.Background()

	if err := store.Save(ctx, "cap", testChallenge(time.Now()), 5*time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	for i := 1; i < 3; i++ {
		exceeded, err := store.RecordFailure(ctx, "cap", 3)
		if err != nil || exceeded {
			t.Fatalf("attempt %d: exceeded=%v err=%v", i, exceeded, err)
		}
		got, err := store.Get(ctx, "cap")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if int(got.Attempts) != i {
			t.Fatalf("expected %d attempts, got %d", i, got.Attempts)
		}
	}

	exceeded, err := store.RecordFailure(ctx, "cap", 3)
	if err != nil || !exceeded {
		t.Fatalf("expected cap reached: exceeded=%v err=%v", exceeded, err)
	}
	if _, err := store.Get(ctx, "cap"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ticket deleted at cap, got %v", err)
	}
	if _, err := store.RecordFailure(ctx, "cap", 3); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestChallengeBackendUnavailable(t *testing.T) {
	store, mr, done := newChallengeStoreTest(t, nil)
	defer done()
	mr.Close()

	err := store.Save(context.Background(), "down", testChallenge(time.Now()), time.Minute)
	if !errors.Is(err, ErrChallengeBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestDecodeChallengeRejectsUnknownVersion(t *testing.T) {
	if _, err := decodeChallenge([]byte{9, 0, 0}); err == nil {
		t.Fatal("expected version error")
	}
}
