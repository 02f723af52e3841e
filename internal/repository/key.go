package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/access-engine/internal/domain/classification"
	"github.com/bigkaa/goartstore/access-engine/internal/domain/model"
)

// KeyRepository — доступ к таблице encryption_keys.
// Уникальный частичный индекс гарантирует не более одного активного
// ключа на пару (scope, уровень).
type KeyRepository interface {
	// GetActive возвращает активный ключ пары (scope, level).
	GetActive(ctx context.Context, scope string, level classification.Level) (*model.EncryptionKey, error)
	// GetByID возвращает ключ (активный или ротированный) по ID.
	GetByID(ctx context.Context, id string) (*model.EncryptionKey, error)
	// Create сохраняет ключ. ErrConflict, если активный ключ пары уже есть.
	Create(ctx context.Context, k *model.EncryptionKey) error
	// Deactivate переводит ключ в неактивные.
	Deactivate(ctx context.Context, id string, at time.Time) error
}

type keyRepo struct {
	db DBTX
}

// NewKeyRepository создаёт репозиторий ключей.
func NewKeyRepository(db DBTX) KeyRepository {
	return &keyRepo{db: db}
}

const keyColumns = `id, scope, classification_level, wrapped_key, is_active, created_at, rotated_at`

func (r *keyRepo) GetActive(ctx context.Context, scope string, level classification.Level) (*model.EncryptionKey, error) {
	query := `SELECT ` + keyColumns + ` FROM encryption_keys
		WHERE scope = $1 AND classification_level = $2 AND is_active`
	return r.get(ctx, query, scope, int(level))
}

func (r *keyRepo) GetByID(ctx context.Context, id string) (*model.EncryptionKey, error) {
	return r.get(ctx, `SELECT `+keyColumns+` FROM encryption_keys WHERE id = $1`, id)
}

func (r *keyRepo) get(ctx context.Context, query string, args ...any) (*model.EncryptionKey, error) {
	var (
		k     model.EncryptionKey
		level int
	)
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&k.ID, &k.Scope, &level, &k.WrappedKey, &k.Active, &k.CreatedAt, &k.RotatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения ключа: %w", err)
	}
	k.Level = classification.Level(level)
	return &k, nil
}

func (r *keyRepo) Create(ctx context.Context, k *model.EncryptionKey) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO encryption_keys (`+keyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		k.ID, k.Scope, int(k.Level), k.WrappedKey, k.Active, k.CreatedAt, k.RotatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: активный ключ %s/%s уже существует", ErrConflict, k.Scope, k.Level)
		}
		return fmt.Errorf("ошибка создания ключа: %w", err)
	}
	return nil
}

func (r *keyRepo) Deactivate(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE encryption_keys SET is_active = FALSE, rotated_at = $2 WHERE id = $1 AND is_active`, id, at)
	if err != nil {
		return fmt.Errorf("ошибка деактивации ключа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
