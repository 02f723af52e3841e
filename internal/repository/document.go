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

// DocumentRepository — доступ к таблице documents.
type DocumentRepository interface {
	// Create сохраняет новый документ.
	Create(ctx context.Context, d *model.Document) error
	// GetByID возвращает документ по ID, включая помеченные удалёнными.
	GetByID(ctx context.Context, id string) (*model.Document, error)
	// ListActive возвращает неудалённые документы с id > afterID в порядке id.
	// Пустой afterID — с начала реестра.
	ListActive(ctx context.Context, afterID string, limit int) ([]*model.Document, error)
	// MarkDeleted помечает документ удалённым. ErrNotFound, если документа
	// нет или он уже удалён.
	MarkDeleted(ctx context.Context, id string, at time.Time) error
	// UpdateReleasability заменяет список издателей и фильтр Блума.
	UpdateReleasability(ctx context.Context, id string, issuers []string, bloom []byte) error
}

// documentRepo — реализация DocumentRepository на PostgreSQL.
type documentRepo struct {
	db DBTX
}

// NewDocumentRepository создаёт репозиторий документов.
func NewDocumentRepository(db DBTX) DocumentRepository {
	return &documentRepo{db: db}
}

const documentColumns = `id, classification_level, releasable_to_issuers, releasability_bloom,
	original_content_hash, encryption_key_ref, blob_ref, metadata_envelope,
	created_by_identity, created_by_issuer, created_at, expires_at, deleted_at`

func (r *documentRepo) Create(ctx context.Context, d *model.Document) error {
	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.Exec(ctx, query,
		d.ID, int(d.ClassificationLevel), d.ReleasableToIssuers, d.ReleasabilityBloom,
		d.OriginalContentHash, d.EncryptionKeyRef, d.BlobRef, d.MetadataEnvelope,
		d.CreatedByIdentity, d.CreatedByIssuer, d.CreatedAt, d.ExpiresAt, d.DeletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: документ %s уже существует", ErrConflict, d.ID)
		}
		return fmt.Errorf("ошибка создания документа: %w", err)
	}
	return nil
}

func (r *documentRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	d, err := scanDocument(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения документа: %w", err)
	}
	return d, nil
}

func (r *documentRepo) ListActive(ctx context.Context, afterID string, limit int) ([]*model.Document, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if afterID == "" {
		rows, err = r.db.Query(ctx, `
			SELECT `+documentColumns+` FROM documents
			WHERE deleted_at IS NULL
			ORDER BY id
			LIMIT $1`, limit)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT `+documentColumns+` FROM documents
			WHERE deleted_at IS NULL AND id > $1
			ORDER BY id
			LIMIT $2`, afterID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка документов: %w", err)
	}
	defer rows.Close()

	var result []*model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования документа: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (r *documentRepo) MarkDeleted(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE documents SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("ошибка удаления документа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *documentRepo) UpdateReleasability(ctx context.Context, id string, issuers []string, bloom []byte) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE documents SET releasable_to_issuers = $2, releasability_bloom = $3
		WHERE id = $1 AND deleted_at IS NULL`, id, issuers, bloom)
	if err != nil {
		return fmt.Errorf("ошибка обновления releasability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanDocument читает строку documents.
func scanDocument(row pgx.Row) (*model.Document, error) {
	var (
		d     model.Document
		level int
	)
	err := row.Scan(
		&d.ID, &level, &d.ReleasableToIssuers, &d.ReleasabilityBloom,
		&d.OriginalContentHash, &d.EncryptionKeyRef, &d.BlobRef, &d.MetadataEnvelope,
		&d.CreatedByIdentity, &d.CreatedByIssuer, &d.CreatedAt, &d.ExpiresAt, &d.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	d.ClassificationLevel = classification.Level(level)
	return &d, nil
}
