package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/creatorlink/internal/model"
)

const (
	sessionKeyPrefix     = "session:"
	userSessionKeyPrefix = "user_sessions:"
)

// SessionCacheClient はRedisSessionCacheが使用するRedisコマンドのサブセット。
// *redis.Client がこれを満たす。
type SessionCacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	ExpireNX(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	ExpireGT(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

type cachedSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisSessionCache はSessionRepositoryの前段に置くRedisキャッシュ。
// 正はPostgreSQL側で、Redisの障害時は警告ログを出してDBにフォールバックする。
type RedisSessionCache struct {
	inner  SessionRepository
	client SessionCacheClient
	nowFn  func() time.Time
}

// NewRedisSessionCache はRedisSessionCacheを生成する。
func NewRedisSessionCache(inner SessionRepository, client SessionCacheClient) *RedisSessionCache {
	return &RedisSessionCache{inner: inner, client: client, nowFn: time.Now}
}

// Create はセッションを作成し、キャッシュに書き込む。
func (c *RedisSessionCache) Create(ctx context.Context, session *model.Session) error {
	if err := c.inner.Create(ctx, session); err != nil {
		return err
	}
	c.store(ctx, session)
	return nil
}

// FindByID はキャッシュからセッションを取得し、未キャッシュならDBから取得して書き戻す。
func (c *RedisSessionCache) FindByID(ctx context.Context, id string) (*model.Session, error) {
	raw, err := c.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	switch {
	case err == nil:
		var cs cachedSession
		if jsonErr := json.Unmarshal(raw, &cs); jsonErr == nil {
			s := &model.Session{ID: cs.ID, UserID: cs.UserID, ExpiresAt: cs.ExpiresAt, CreatedAt: cs.CreatedAt}
			if !s.Expired(c.nowFn()) {
				return s, nil
			}
		}
	case errors.Is(err, redis.Nil):
	default:
		slog.Warn("session cache read failed", slog.String("error", err.Error()))
	}

	session, err := c.inner.FindByID(ctx, id)
	if err != nil || session == nil {
		return session, err
	}
	c.store(ctx, session)
	return session, nil
}

// Extend は有効期限を延長し、キャッシュを更新する。
func (c *RedisSessionCache) Extend(ctx context.Context, id string, expiresAt time.Time) error {
	if err := c.inner.Extend(ctx, id, expiresAt); err != nil {
		return err
	}
	c.invalidate(ctx, sessionKeyPrefix+id)
	return nil
}

// DeleteByID はセッションを削除し、キャッシュを破棄する。
func (c *RedisSessionCache) DeleteByID(ctx context.Context, id string) error {
	if err := c.inner.DeleteByID(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, sessionKeyPrefix+id)
	return nil
}

// DeleteByUserID はユーザーの全セッションを削除し、キャッシュを破棄する。
func (c *RedisSessionCache) DeleteByUserID(ctx context.Context, userID string) error {
	if err := c.inner.DeleteByUserID(ctx, userID); err != nil {
		return err
	}

	indexKey := userSessionKeyPrefix + userID
	ids, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		slog.Warn("session cache index read failed", slog.String("user_id", userID), slog.String("error", err.Error()))
		return nil
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKeyPrefix+id)
	}
	keys = append(keys, indexKey)
	c.invalidate(ctx, keys...)
	return nil
}

// DeleteExpired は期限切れセッションを削除する。キャッシュ側はTTLで失効する。
func (c *RedisSessionCache) DeleteExpired(ctx context.Context) (int64, error) {
	return c.inner.DeleteExpired(ctx)
}

func (c *RedisSessionCache) store(ctx context.Context, session *model.Session) {
	ttl := session.ExpiresAt.Sub(c.nowFn())
	if ttl <= 0 {
		return
	}

	raw, err := json.Marshal(cachedSession{
		ID:        session.ID,
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		slog.Warn("session cache encode failed", slog.String("error", err.Error()))
		return
	}

	// インデックスを先に書く。インデックスに載らないセッションはキャッシュしない
	indexKey := userSessionKeyPrefix + session.UserID
	if err := c.client.SAdd(ctx, indexKey, session.ID).Err(); err != nil {
		slog.Warn("session cache index write failed", slog.String("error", err.Error()))
		return
	}
	// インデックスのTTLは延長のみ。短いセッションで縮めない
	if err := c.client.ExpireNX(ctx, indexKey, ttl).Err(); err != nil {
		slog.Warn("session cache index expire failed", slog.String("error", err.Error()))
	}
	if err := c.client.ExpireGT(ctx, indexKey, ttl).Err(); err != nil {
		slog.Warn("session cache index expire failed", slog.String("error", err.Error()))
	}

	if err := c.client.Set(ctx, sessionKeyPrefix+session.ID, raw, ttl).Err(); err != nil {
		slog.Warn("session cache write failed", slog.String("error", err.Error()))
	}
}

func (c *RedisSessionCache) invalidate(ctx context.Context, keys ...string) {
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("session cache invalidation failed",
			slog.String("keys", fmt.Sprint(keys)),
			slog.String("error", err.Error()),
		)
	}
}

// compile-time interface check
var (
	_ SessionRepository  = (*RedisSessionCache)(nil)
	_ SessionCacheClient = (*redis.Client)(nil)
)
