package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wisbric/connectkit/internal/crypto"
)

const redisKeyPrefix = "connectkit:token:"

// RedisStore is the durable-kv TokenStore backend. Values are encrypted
// with the configured Encryptor before being written; the Redis key's own
// TTL enforces the expiry-buffer window so an access beyond the buffer
// simply misses rather than needing an explicit sweep.
type RedisStore struct {
	client             *redis.Client
	enc                *crypto.Encryptor
	expiredTokenBuffer time.Duration
	now                func() time.Time
}

// NewRedisStore creates a durable-kv token store backend.
func NewRedisStore(client *redis.Client, enc *crypto.Encryptor) *RedisStore {
	return &RedisStore{
		client:             client,
		enc:                enc,
		expiredTokenBuffer: DefaultExpiredTokenBuffer,
		now:                time.Now,
	}
}

// WithExpiredTokenBuffer overrides the expiry buffer window.
func (s *RedisStore) WithExpiredTokenBuffer(d time.Duration) *RedisStore {
	s.expiredTokenBuffer = d
	return s
}

type redisRecord struct {
	TokenSet  TokenSet          `json:"tokenSet"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func redisKey(userID, provider string) string {
	return redisKeyPrefix + userID + ":" + provider
}

func (s *RedisStore) load(ctx context.Context, userID, provider string) (*StoredToken, error) {
	aad := []byte(userID + "|" + provider)

	raw, err := s.client.Get(ctx, redisKey(userID, provider)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tokenstore(redis): reading %s/%s: %w", userID, provider, err)
	}

	plaintext, err := s.enc.Decrypt(raw, aad)
	if err != nil {
		return nil, fmt.Errorf("tokenstore(redis): decrypting %s/%s: %w", userID, provider, err)
	}

	var rec redisRecord
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("tokenstore(redis): decoding %s/%s: %w", userID, provider, err)
	}

	return &StoredToken{
		UserID:    userID,
		Provider:  provider,
		TokenSet:  rec.TokenSet,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Metadata:  rec.Metadata,
	}, nil
}

func (s *RedisStore) save(ctx context.Context, rec *StoredToken) error {
	aad := []byte(rec.UserID + "|" + rec.Provider)

	plaintext, err := json.Marshal(redisRecord{
		TokenSet:  rec.TokenSet,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Metadata:  rec.Metadata,
	})
	if err != nil {
		return fmt.Errorf("tokenstore(redis): encoding %s/%s: %w", rec.UserID, rec.Provider, err)
	}

	ciphertext, err := s.enc.Encrypt(plaintext, aad)
	if err != nil {
		return fmt.Errorf("tokenstore(redis): encrypting %s/%s: %w", rec.UserID, rec.Provider, err)
	}

	ttl := ttlFor(rec.TokenSet, s.now(), s.expiredTokenBuffer)
	if err := s.client.Set(ctx, redisKey(rec.UserID, rec.Provider), ciphertext, ttl).Err(); err != nil {
		return fmt.Errorf("tokenstore(redis): writing %s/%s: %w", rec.UserID, rec.Provider, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, userID, provider string, opts GetOptions) (*StoredToken, error) {
	rec, err := s.load(ctx, userID, provider)
	if err != nil || rec == nil {
		return rec, err
	}

	now := s.now()
	if !rec.TokenSet.IsExpired(now) {
		return rec, nil
	}
	if !opts.IncludeExpired {
		return nil, nil
	}
	// The key's TTL normally enforces the buffer window, but a token saved
	// when already past the buffer is written with no TTL (ttlFor returns
	// 0), so the buffer is checked here as well.
	if rec.TokenSet.ExpiresAt != nil && now.Sub(*rec.TokenSet.ExpiresAt) > s.expiredTokenBuffer {
		if err := s.Delete(ctx, userID, provider); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return rec, nil
}

func (s *RedisStore) Set(ctx context.Context, userID, provider string, ts TokenSet, metadata map[string]string) (*StoredToken, error) {
	now := s.now()
	rec := &StoredToken{
		UserID:    userID,
		Provider:  provider,
		TokenSet:  ts,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
	}
	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *RedisStore) Update(ctx context.Context, userID, provider string, ts TokenSet) (*StoredToken, error) {
	existing, err := s.load(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	now := s.now()
	createdAt := now
	var metadata map[string]string
	if existing != nil {
		createdAt = existing.CreatedAt
		metadata = existing.Metadata
	}
	rec := &StoredToken{
		UserID:    userID,
		Provider:  provider,
		TokenSet:  ts,
		CreatedAt: createdAt,
		UpdatedAt: now,
		Metadata:  metadata,
	}
	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, userID, provider string) error {
	if err := s.client.Del(ctx, redisKey(userID, provider)).Err(); err != nil {
		return fmt.Errorf("tokenstore(redis): deleting %s/%s: %w", userID, provider, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, userID string) ([]string, error) {
	pattern := redisKeyPrefix + userID + ":*"
	var providers []string

	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		providers = append(providers, k[len(redisKeyPrefix+userID+":"):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("tokenstore(redis): listing providers for %s: %w", userID, err)
	}
	return providers, nil
}
