package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore implements the Store interface using Redis.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a new RedisStore.
func NewRedisStore(client *redis.Client, ttl time.Duration) Store {
	return &RedisStore{
		client: client,
		ttl:    ttl,
	}
}

func sessionKey(connectionID string) string {
	return fmt.Sprintf("session:%s", connectionID)
}

// Create stores a new session in Redis with a TTL.
func (s *RedisStore) Create(ctx context.Context, session *Session) error {
	return s.put(ctx, session)
}

func (s *RedisStore) put(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return s.client.Set(ctx, sessionKey(session.ConnectionID), data, s.ttl).Err()
}

// Get retrieves a session from Redis.
func (s *RedisStore) Get(ctx context.Context, connectionID string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionKey(connectionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // expired or never created
		}
		return nil, err
	}

	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// SetDocument rewrites the session with its new document and a fresh TTL.
// An expired session is left absent.
func (s *RedisStore) SetDocument(ctx context.Context, connectionID, documentID string) error {
	session, err := s.Get(ctx, connectionID)
	if err != nil || session == nil {
		return err
	}
	session.DocumentID = documentID
	return s.put(ctx, session)
}

// Delete removes a session from Redis.
func (s *RedisStore) Delete(ctx context.Context, connectionID string) error {
	return s.client.Del(ctx, sessionKey(connectionID)).Err()
}

// RefreshTTL updates the expiration time of a session key in Redis.
// If the key doesn't exist, it's a no-op.
func (s *RedisStore) RefreshTTL(ctx context.Context, connectionID string) error {
	return s.client.Expire(ctx, sessionKey(connectionID), s.ttl).Err()
}
