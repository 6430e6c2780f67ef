package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/connectkit/internal/crypto"
)

// PostgresStore is the relational TokenStore backend. It stores one row
// per (user_id, provider) in the tokens table created by the migrations
// under pkg/tokenstore/migrations.
type PostgresStore struct {
	pool               *pgxpool.Pool
	enc                *crypto.Encryptor
	expiredTokenBuffer time.Duration
	now                func() time.Time
}

// NewPostgresStore creates a relational token store backend.
func NewPostgresStore(pool *pgxpool.Pool, enc *crypto.Encryptor) *PostgresStore {
	return &PostgresStore{
		pool:               pool,
		enc:                enc,
		expiredTokenBuffer: DefaultExpiredTokenBuffer,
		now:                time.Now,
	}
}

// WithExpiredTokenBuffer overrides the expiry buffer window.
func (s *PostgresStore) WithExpiredTokenBuffer(d time.Duration) *PostgresStore {
	s.expiredTokenBuffer = d
	return s
}

type postgresPayload struct {
	TokenSet TokenSet          `json:"tokenSet"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *PostgresStore) encode(userID, provider string, ts TokenSet, metadata map[string]string) ([]byte, error) {
	plaintext, err := json.Marshal(postgresPayload{TokenSet: ts, Metadata: metadata})
	if err != nil {
		return nil, fmt.Errorf("tokenstore(postgres): encoding %s/%s: %w", userID, provider, err)
	}
	ciphertext, err := s.enc.Encrypt(plaintext, []byte(userID+"|"+provider))
	if err != nil {
		return nil, fmt.Errorf("tokenstore(postgres): encrypting %s/%s: %w", userID, provider, err)
	}
	return ciphertext, nil
}

func (s *PostgresStore) decode(userID, provider string, ciphertext []byte) (postgresPayload, error) {
	var payload postgresPayload
	plaintext, err := s.enc.Decrypt(ciphertext, []byte(userID+"|"+provider))
	if err != nil {
		return payload, fmt.Errorf("tokenstore(postgres): decrypting %s/%s: %w", userID, provider, err)
	}
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return payload, fmt.Errorf("tokenstore(postgres): decoding %s/%s: %w", userID, provider, err)
	}
	return payload, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID, provider string, opts GetOptions) (*StoredToken, error) {
	var (
		payloadBytes []byte
		expiresAt    *time.Time
		createdAt    time.Time
		updatedAt    time.Time
	)

	err := s.pool.QueryRow(ctx,
		`SELECT payload, expires_at, created_at, updated_at FROM tokens WHERE user_id = $1 AND provider = $2`,
		userID, provider,
	).Scan(&payloadBytes, &expiresAt, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tokenstore(postgres): querying %s/%s: %w", userID, provider, err)
	}

	now := s.now()
	expired := expiresAt != nil && !expiresAt.After(now)
	if expired && !opts.IncludeExpired {
		return nil, nil
	}
	if expired && expiresAt != nil && now.Sub(*expiresAt) > s.expiredTokenBuffer {
		_ = s.Delete(ctx, userID, provider)
		return nil, nil
	}

	payload, err := s.decode(userID, provider, payloadBytes)
	if err != nil {
		return nil, err
	}

	return &StoredToken{
		UserID:    userID,
		Provider:  provider,
		TokenSet:  payload.TokenSet,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Metadata:  payload.Metadata,
	}, nil
}

func (s *PostgresStore) upsert(ctx context.Context, userID, provider string, ts TokenSet, metadata map[string]string, createdAt *time.Time) (*StoredToken, error) {
	payload, err := s.encode(userID, provider, ts, metadata)
	if err != nil {
		return nil, err
	}

	now := s.now()
	cAt := now
	if createdAt != nil {
		cAt = *createdAt
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO tokens (user_id, provider, payload, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, provider) DO UPDATE
		   SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		userID, provider, payload, ts.ExpiresAt, cAt, now,
	)
	if err != nil {
		return nil, fmt.Errorf("tokenstore(postgres): upserting %s/%s: %w", userID, provider, err)
	}

	return &StoredToken{
		UserID:    userID,
		Provider:  provider,
		TokenSet:  ts,
		CreatedAt: cAt,
		UpdatedAt: now,
		Metadata:  metadata,
	}, nil
}

func (s *PostgresStore) Set(ctx context.Context, userID, provider string, ts TokenSet, metadata map[string]string) (*StoredToken, error) {
	return s.upsert(ctx, userID, provider, ts, metadata, nil)
}

func (s *PostgresStore) Update(ctx context.Context, userID, provider string, ts TokenSet) (*StoredToken, error) {
	existing, err := s.Get(ctx, userID, provider, GetOptions{IncludeExpired: true})
	if err != nil {
		return nil, err
	}
	var createdAt *time.Time
	var metadata map[string]string
	if existing != nil {
		createdAt = &existing.CreatedAt
		metadata = existing.Metadata
	}
	return s.upsert(ctx, userID, provider, ts, metadata, createdAt)
}

func (s *PostgresStore) Delete(ctx context.Context, userID, provider string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM tokens WHERE user_id = $1 AND provider = $2`, userID, provider); err != nil {
		return fmt.Errorf("tokenstore(postgres): deleting %s/%s: %w", userID, provider, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT provider FROM tokens WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("tokenstore(postgres): listing providers for %s: %w", userID, err)
	}
	defer rows.Close()

	var providers []string
	for rows.Next() {
		var provider string
		if err := rows.Scan(&provider); err != nil {
			return nil, fmt.Errorf("tokenstore(postgres): scanning provider row: %w", err)
		}
		providers = append(providers, provider)
	}
	return providers, rows.Err()
}
