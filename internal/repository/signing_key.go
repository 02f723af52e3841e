package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SigningKeyRepository — долговременные ключи подписи запрашивающих.
type SigningKeyRepository interface {
	// Upsert регистрирует или заменяет ключ подписи субъекта.
	Upsert(ctx context.Context, identity string, publicKey []byte) error
	// Get возвращает ключ подписи субъекта.
	Get(ctx context.Context, identity string) ([]byte, error)
}

type signingKeyRepo struct {
	db DBTX
}

// NewSigningKeyRepository создаёт репозиторий ключей подписи.
func NewSigningKeyRepository(db DBTX) SigningKeyRepository {
	return &signingKeyRepo{db: db}
}

func (r *signingKeyRepo) Upsert(ctx context.Context, identity string, publicKey []byte) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO signing_keys (identity, public_key)
		VALUES ($1, $2)
		ON CONFLICT (identity) DO UPDATE SET public_key = EXCLUDED.public_key, updated_at = NOW()`,
		identity, publicKey)
	if err != nil {
		return fmt.Errorf("ошибка сохранения ключа подписи: %w", err)
	}
	return nil
}

func (r *signingKeyRepo) Get(ctx context.Context, identity string) ([]byte, error) {
	var key []byte
	err := r.db.QueryRow(ctx, `SELECT public_key FROM signing_keys WHERE identity = $1`, identity).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения ключа подписи: %w", err)
	}
	return key, nil
}
