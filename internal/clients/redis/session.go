package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/bandforge/ielts-backend/internal/pkg/apperr"
	"github.com/bandforge/ielts-backend/internal/pkg/envutil"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
)

type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CreatedAt time.Time
}

type SessionStore interface {
	Create(ctx context.Context, userID uuid.UUID) (*Session, error)
	Get(ctx context.Context, sessionID uuid.UUID) (*Session, error)
	Renew(ctx context.Context, sessionID uuid.UUID) error
	Delete(ctx context.Context, sessionID uuid.UUID) error
}

type sessionStore struct {
	log         *logger.Logger
	rdb         *goredis.Client
	slidingTTL  time.Duration
	absoluteTTL time.Duration
}

func NewSessionStore(rdb *goredis.Client, baseLog *logger.Logger) SessionStore {
	return &sessionStore{
		log:         baseLog.With("service", "SessionStore"),
		rdb:         rdb,
		slidingTTL:  envutil.Seconds("SESSION_SLIDING_TTL_SECONDS", time.Hour),
		absoluteTTL: envutil.Seconds("SESSION_ABSOLUTE_TTL_SECONDS", 12*time.Hour),
	}
}

func (ss *sessionStore) Create(ctx context.Context, userID uuid.UUID) (*Session, error) {
	sess := &Session{
		ID:        uuid.New(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}

	key := sessionKey(sess.ID)
	pipe := ss.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"user_id", sess.UserID.String(),
		"created_at", strconv.FormatInt(sess.CreatedAt.Unix(), 10),
	)
	pipe.Expire(ctx, key, ss.slidingTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return sess, nil
}

func (ss *sessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	vals, err := ss.rdb.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if len(vals) == 0 {
		return nil, apperr.ErrUnauthorized
	}

	userID, err := uuid.Parse(vals["user_id"])
	if err != nil {
		return nil, fmt.Errorf("load session: bad user id: %w", err)
	}
	createdUnix, err := strconv.ParseInt(vals["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("load session: bad created_at: %w", err)
	}

	sess := &Session{
		ID:        sessionID,
		UserID:    userID,
		CreatedAt: time.Unix(createdUnix, 0).UTC(),
	}
	if time.Since(sess.CreatedAt) > ss.absoluteTTL {
		_ = ss.rdb.Del(ctx, sessionKey(sessionID)).Err()
		return nil, apperr.ErrUnauthorized
	}
	return sess, nil
}

// Renew extends the sliding window but never past the absolute cap
// measured from session creation.
func (ss *sessionStore) Renew(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := ss.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	remaining := ss.absoluteTTL - time.Since(sess.CreatedAt)
	if remaining <= 0 {
		_ = ss.rdb.Del(ctx, sessionKey(sessionID)).Err()
		return apperr.ErrUnauthorized
	}
	ttl := ss.slidingTTL
	if remaining < ttl {
		ttl = remaining
	}

	ok, err := ss.rdb.Expire(ctx, sessionKey(sessionID), ttl).Result()
	if err != nil {
		return fmt.Errorf("renew session: %w", err)
	}
	if !ok {
		return apperr.ErrUnauthorized
	}
	return nil
}

func (ss *sessionStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	if err := ss.rdb.Del(ctx, sessionKey(sessionID)).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func sessionKey(id uuid.UUID) string {
	return "session:" + id.String()
}
