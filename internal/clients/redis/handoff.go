package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/bandforge/ielts-backend/internal/pkg/apperr"
	"github.com/bandforge/ielts-backend/internal/pkg/envutil"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
)

type HandoffTokenStore interface {
	Issue(ctx context.Context, userID uuid.UUID) (token string, ttl time.Duration, err error)
	Redeem(ctx context.Context, token string) (uuid.UUID, error)
}

type handoffTokenStore struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

// redeemScript flips the token to the redeemed state atomically. A
// missing key and an already-redeemed key must stay distinguishable, so
// redeemed tokens keep their original TTL instead of being deleted.
var redeemScript = goredis.NewScript(`
local user_id = redis.call('HGET', KEYS[1], 'user_id')
if not user_id then
  return {'expired', ''}
end
if redis.call('HGET', KEYS[1], 'redeemed') == '1' then
  return {'redeemed', ''}
end
redis.call('HSET', KEYS[1], 'redeemed', '1')
return {'ok', user_id}
`)

func NewHandoffTokenStore(rdb *goredis.Client, baseLog *logger.Logger) HandoffTokenStore {
	ttl := envutil.Seconds("HANDOFF_TOKEN_TTL_SECONDS", 10*time.Minute)
	return &handoffTokenStore{
		log: baseLog.With("service", "HandoffTokenStore"),
		rdb: rdb,
		ttl: ttl,
	}
}

func (hs *handoffTokenStore) Issue(ctx context.Context, userID uuid.UUID) (string, time.Duration, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", 0, fmt.Errorf("generate handoff token: %w", err)
	}
	token := hex.EncodeToString(buf)

	key := handoffKey(token)
	pipe := hs.rdb.TxPipeline()
	pipe.HSet(ctx, key, "user_id", userID.String(), "redeemed", "0")
	pipe.Expire(ctx, key, hs.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", 0, fmt.Errorf("store handoff token: %w", err)
	}

	hs.log.Info("Issued handoff token", "user_id", userID.String(), "ttl", hs.ttl.String())
	return token, hs.ttl, nil
}

func (hs *handoffTokenStore) Redeem(ctx context.Context, token string) (uuid.UUID, error) {
	res, err := redeemScript.Run(ctx, hs.rdb, []string{handoffKey(token)}).Slice()
	if err != nil {
		return uuid.Nil, fmt.Errorf("redeem handoff token: %w", err)
	}
	if len(res) != 2 {
		return uuid.Nil, fmt.Errorf("redeem handoff token: unexpected reply shape")
	}

	status, _ := res[0].(string)
	switch status {
	case "ok":
		raw, _ := res[1].(string)
		userID, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("redeem handoff token: bad user id: %w", err)
		}
		return userID, nil
	case "redeemed":
		return uuid.Nil, apperr.ErrTokenAlreadyRedeemed
	default:
		return uuid.Nil, apperr.ErrTokenExpired
	}
}

func handoffKey(token string) string {
	return "handoff:" + token
}
