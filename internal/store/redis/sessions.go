// Package redis keeps login sessions in Redis, each under its own key with
// a TTL matching the session lifetime.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"udstportal/portal-service/internal/models"
	"udstportal/portal-service/internal/store"

	goredis "github.com/redis/go-redis/v9"
)

const defaultPrefix = "portal:session"

type SessionStore struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewSessionStore(client goredis.UniversalClient, prefix string) *SessionStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &SessionStore{client: client, prefix: prefix, now: time.Now}
}

// NewClient parses a redis:// URL into a client.
func NewClient(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return goredis.NewClient(opts), nil
}

func (s *SessionStore) key(sessionKey string) string {
	return s.prefix + ":" + sessionKey
}

func (s *SessionStore) InsertSession(ctx context.Context, session models.Session) error {
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(session.Key), payload, ttl).Err(); err != nil {
		return store.Unavailable(err)
	}
	return nil
}

func (s *SessionStore) FindSessionByKey(ctx context.Context, key string) (models.Session, error) {
	payload, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return models.Session{}, store.ErrSessionNotFound
	}
	if err != nil {
		return models.Session{}, store.Unavailable(err)
	}
	var session models.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return models.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return session, nil
}

func (s *SessionStore) DeleteSessionByKey(ctx context.Context, key string) error {
	removed, err := s.client.Del(ctx, s.key(key)).Result()
	if err != nil {
		return store.Unavailable(err)
	}
	if removed == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

// DeleteExpiredSessions is a no-op; Redis expires the keys itself.
func (s *SessionStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (s *SessionStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return store.Unavailable(err)
	}
	return nil
}
