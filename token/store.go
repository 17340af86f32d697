package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is an exported constant or variable used by the registry engine.
var ErrRedisUnavailable = errors.New("redis unavailable")

const minIndexTTL = time.Second

// Store is a Redis-backed revocation list. Every issued token is tracked
// in a per-name index so all outstanding tokens for a user can be revoked
// at once; individual revocations are keyed by token ID with a TTL bounded
// by the token's own remaining lifetime.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a revocation [Store] backed by the given Redis client.
// prefix sets the Redis key namespace.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	return &Store{
		redis:  client,
		prefix: prefix,
	}
}

func (s *Store) revokedKey(tokenID string) string {
	return s.prefix + ":rv:" + tokenID
}

func (s *Store) nameKey(name string) string {
	return s.prefix + ":tn:" + name
}

// TrackIssued records a freshly issued token in the per-name index.
// Anonymous tokens (empty name) are not indexed; they can still be revoked
// individually by token ID.
func (s *Store) TrackIssued(ctx context.Context, name, tokenID string, ttl time.Duration) error {
	if name == "" {
		return nil
	}
	if ttl < minIndexTTL {
		ttl = minIndexTTL
	}

	key := s.nameKey(name)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, tokenID)
		// The index outlives the longest-lived member; stale IDs age out
		// with it.
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Revoke marks one token ID as revoked for ttl (the token's remaining
// lifetime; after that the token is expired anyway).
func (s *Store) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, s.revokedKey(tokenID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether a token ID has been revoked.
func (s *Store) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.revokedKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// RevokeAllForName revokes every tracked token for a user and clears the
// index. ttl bounds the revocation marks; pass the token TTL.
func (s *Store) RevokeAllForName(ctx context.Context, name string, ttl time.Duration) (int, error) {
	if name == "" {
		return 0, nil
	}
	if ttl < minIndexTTL {
		ttl = minIndexTTL
	}

	key := s.nameKey(name)
	tokenIDs, err := s.redis.SMembers(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(tokenIDs) == 0 {
		return 0, nil
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range tokenIDs {
			pipe.Set(ctx, s.revokedKey(id), 1, ttl)
		}
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return len(tokenIDs), nil
}

// ActiveTokenIDs returns the tracked token IDs for a user name.
func (s *Store) ActiveTokenIDs(ctx context.Context, name string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.nameKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
