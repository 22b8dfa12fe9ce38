package redis

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/bandforge/ielts-backend/internal/pkg/apperr"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
)

func testRedis(t *testing.T) *goredis.Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis integration tests")
	}

	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func testRedisLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

func TestHandoffIssueAndRedeem(t *testing.T) {
	rdb := testRedis(t)
	store := NewHandoffTokenStore(rdb, testRedisLogger(t))
	ctx := context.Background()

	userID := uuid.New()
	token, ttl, err := store.Issue(ctx, userID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if token == "" || ttl <= 0 {
		t.Fatalf("expected token with positive ttl, got %q/%v", token, ttl)
	}

	got, err := store.Redeem(ctx, token)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if got != userID {
		t.Fatalf("expected user %s, got %s", userID, got)
	}
}

func TestHandoffSecondRedeemFails(t *testing.T) {
	rdb := testRedis(t)
	store := NewHandoffTokenStore(rdb, testRedisLogger(t))
	ctx := context.Background()

	token, _, err := store.Issue(ctx, uuid.New())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := store.Redeem(ctx, token); err != nil {
		t.Fatalf("first redeem: %v", err)
	}

	_, err = store.Redeem(ctx, token)
	if !errors.Is(err, apperr.ErrTokenAlreadyRedeemed) {
		t.Fatalf("expected already redeemed, got %v", err)
	}
}

func TestHandoffConcurrentRedeemSingleSuccess(t *testing.T) {
	rdb := testRedis(t)
	store := NewHandoffTokenStore(rdb, testRedisLogger(t))
	ctx := context.Background()

	token, _, err := store.Issue(ctx, uuid.New())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const redeemers = 8
	results := make([]error, redeemers)
	var g errgroup.Group
	for i := 0; i < redeemers; i++ {
		i := i
		g.Go(func() error {
			_, err := store.Redeem(ctx, token)
			results[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	var succeeded, alreadyRedeemed int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, apperr.ErrTokenAlreadyRedeemed):
			alreadyRedeemed++
		default:
			t.Fatalf("unexpected redeem error: %v", err)
		}
	}
	if succeeded != 1 || alreadyRedeemed != redeemers-1 {
		t.Fatalf("expected exactly one success, got %d successes and %d already-redeemed", succeeded, alreadyRedeemed)
	}
}

func TestHandoffUnknownTokenExpired(t *testing.T) {
	rdb := testRedis(t)
	store := NewHandoffTokenStore(rdb, testRedisLogger(t))

	_, err := store.Redeem(context.Background(), "deadbeefdeadbeefdeadbeefdeadbeef")
	if !errors.Is(err, apperr.ErrTokenExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	rdb := testRedis(t)
	store := NewSessionStore(rdb, testRedisLogger(t))
	ctx := context.Background()

	userID := uuid.New()
	sess, err := store.Create(ctx, userID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != userID {
		t.Fatalf("expected user %s, got %s", userID, got.UserID)
	}

	if err := store.Renew(ctx, sess.ID); err != nil {
		t.Fatalf("renew: %v", err)
	}

	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized after delete, got %v", err)
	}
}
