package repository

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"edu-platform/auth/internal/otp/domain"
)

const (
	codeKeyPrefix     = "otp:code:"
	cooldownKeyPrefix = "otp:cooldown:"
	attemptsKeyPrefix = "otp:attempts:"
)

// RedisStore keeps challenges in Redis with key TTLs doing the expiry.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore returns a Store backed by client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, c *domain.Challenge, ttl, cooldown time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, codeKeyPrefix+c.Target, raw, ttl)
		pipe.Set(ctx, attemptsKeyPrefix+c.Target, 0, ttl)
		if cooldown > 0 {
			pipe.Set(ctx, cooldownKeyPrefix+c.Target, 1, cooldown)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store otp challenge: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, target string) (*domain.Challenge, error) {
	raw, err := s.client.Get(ctx, codeKeyPrefix+target).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get otp challenge: %w", err)
	}
	var c domain.Challenge
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode otp challenge: %w", err)
	}
	return &c, nil
}

func (s *RedisStore) Delete(ctx context.Context, target string) error {
	return s.client.Del(ctx, codeKeyPrefix+target, attemptsKeyPrefix+target).Err()
}

// Consume watches the code key so that only one of several concurrent callers can
// delete a given challenge.
func (s *RedisStore) Consume(ctx context.Context, target, codeHash string) (bool, error) {
	key := codeKeyPrefix + target
	consumed := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var c domain.Challenge
		if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("decode otp challenge: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(c.CodeHash), []byte(codeHash)) != 1 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key, attemptsKeyPrefix+target)
			return nil
		})
		if err != nil {
			return err
		}
		consumed = true
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume otp challenge: %w", err)
	}
	return consumed, nil
}

func (s *RedisStore) InCooldown(ctx context.Context, target string) (bool, time.Duration, error) {
	ttl, err := s.client.TTL(ctx, cooldownKeyPrefix+target).Result()
	if err != nil {
		return false, 0, fmt.Errorf("check otp cooldown: %w", err)
	}
	// TTL <= 0: key missing or already expired.
	if ttl <= 0 {
		return false, 0, nil
	}
	return true, ttl, nil
}

func (s *RedisStore) IncrementAttempts(ctx context.Context, target string) (int, error) {
	key := attemptsKeyPrefix + target
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("increment otp attempts: %w", err)
	}
	// The counter normally inherits the challenge TTL from Save. If it expired in
	// between, INCR recreated it without one.
	if n == 1 {
		if ttl, err := s.client.TTL(ctx, key).Result(); err == nil && ttl < 0 {
			s.client.Expire(ctx, key, DefaultChallengeTTL)
		}
	}
	return int(n), nil
}
