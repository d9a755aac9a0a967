package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lexintake.org/internal/auth"
)

const defaultKeyPrefix = "lexintake"

// record is the server-side state behind an access token.
type record struct {
	SessionID   string    `json:"sid"`
	ClientID    string    `json:"cid"`
	IdentityID  string    `json:"identity_id"`
	AccessToken string    `json:"access_token"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// RedisStore keeps session records, the client index and password reset
// tokens in Redis. Every key expires with its session.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps client. An empty prefix defaults to "lexintake".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) sessionKey(id string) string { return s.prefix + ":session:" + id }
func (s *RedisStore) clientKey(id string) string  { return s.prefix + ":client:" + id }
func (s *RedisStore) resetKey(tok string) string  { return s.prefix + ":reset:" + tok }
func (s *RedisStore) identityKey(id string) string { return s.prefix + ":identity:" + id }

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) save(ctx context.Context, rec record, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.sessionKey(rec.SessionID), raw, ttl)
		if rec.ClientID != "" {
			p.Set(ctx, s.clientKey(rec.ClientID), rec.SessionID, ttl)
			p.SAdd(ctx, s.identityKey(rec.IdentityID), rec.ClientID)
			p.Expire(ctx, s.identityKey(rec.IdentityID), ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, sessionID string) (record, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return record{}, ErrNoSession
	}
	if err != nil {
		return record{}, fmt.Errorf("load session: %w", err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return record{}, fmt.Errorf("decode session: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) forClient(ctx context.Context, clientID string) (record, error) {
	sid, err := s.client.Get(ctx, s.clientKey(clientID)).Result()
	if errors.Is(err, redis.Nil) {
		return record{}, ErrNoSession
	}
	if err != nil {
		return record{}, fmt.Errorf("load client index: %w", err)
	}
	rec, err := s.load(ctx, sid)
	if errors.Is(err, ErrNoSession) {
		_ = s.client.Del(ctx, s.clientKey(clientID)).Err()
	}
	return rec, err
}

func (s *RedisStore) remove(ctx context.Context, rec record) error {
	keys := []string{s.sessionKey(rec.SessionID)}
	if rec.ClientID != "" {
		keys = append(keys, s.clientKey(rec.ClientID))
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, keys...)
		if rec.ClientID != "" {
			p.SRem(ctx, s.identityKey(rec.IdentityID), rec.ClientID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// clientsOf lists the clients that held a session for identityID. Entries may
// be stale; callers confirm each against the client index.
func (s *RedisStore) clientsOf(ctx context.Context, identityID string) ([]string, error) {
	clients, err := s.client.SMembers(ctx, s.identityKey(identityID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load identity index: %w", err)
	}
	return clients, nil
}

func (s *RedisStore) forgetClient(ctx context.Context, identityID, clientID string) {
	_ = s.client.SRem(ctx, s.identityKey(identityID), clientID).Err()
}

func (s *RedisStore) putResetToken(ctx context.Context, token, identityID string, ttl time.Duration) error {
	return s.client.Set(ctx, s.resetKey(token), identityID, ttl).Err()
}

// takeResetToken consumes a reset token; a second use fails.
func (s *RedisStore) takeResetToken(ctx context.Context, token string) (string, error) {
	identityID, err := s.client.GetDel(ctx, s.resetKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", auth.ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("consume reset token: %w", err)
	}
	return identityID, nil
}
