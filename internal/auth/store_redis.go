package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"sealwire/internal/domain"
	"sealwire/internal/platform/redis"
	"sealwire/pkg/platform/sentinel"
)

const (
	sessionKeyPrefix   = "sealwire:session:"
	permalinkKeyPrefix = "sealwire:session:by-permalink:"
)

// RedisStore keeps sessions in Redis so any node can resolve the live
// session for a permalink. Sessions self-expire after ttl; a live session is
// refreshed on every state change, so only abandoned sessions age out.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) PutSession(ctx context.Context, session *domain.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+session.ClientID, raw, s.ttl)
	key := permalinkKeyPrefix + string(session.Permalink)
	if session.Live() {
		pipe.ZAdd(ctx, key, goredis.Z{Score: float64(time.Now().UnixMilli()), Member: session.ClientID})
	} else {
		pipe.ZRem(ctx, key, session.ClientID)
	}
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *RedisStore) GetSession(ctx context.Context, clientID string) (*domain.Session, error) {
	raw, err := s.client.Get(ctx, sessionKeyPrefix+clientID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func (s *RedisStore) GetLiveByPermalink(ctx context.Context, permalink domain.Permalink) (*domain.Session, error) {
	key := permalinkKeyPrefix + string(permalink)
	// Newest first; index entries can outlive their session key, so walk
	// until a session that is still present and still live.
	ids, err := s.client.ZRevRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	for _, id := range ids {
		session, err := s.GetSession(ctx, id)
		if errors.Is(err, sentinel.ErrNotFound) {
			s.client.ZRem(ctx, key, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if session.Live() {
			return session, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *RedisStore) DeleteSession(ctx context.Context, clientID string) error {
	session, err := s.GetSession(ctx, clientID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+clientID)
	pipe.ZRem(ctx, permalinkKeyPrefix+string(session.Permalink), clientID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
