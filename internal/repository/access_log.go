package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/goartstore/access-engine/internal/domain/classification"
	"github.com/bigkaa/goartstore/access-engine/internal/domain/model"
)

// AccessLogRepository — append-only журнал попыток доступа.
// Изменение и удаление строк запрещены триггером в БД.
type AccessLogRepository interface {
	// Append добавляет запись и заполняет Seq и CreatedAt.
	Append(ctx context.Context, g *model.AccessGrant) error
	// ListByDocument возвращает записи документа в порядке Seq.
	ListByDocument(ctx context.Context, documentID string, limit, offset int) ([]*model.AccessGrant, error)
}

type accessLogRepo struct {
	db DBTX
}

// NewAccessLogRepository создаёт репозиторий журнала доступа.
func NewAccessLogRepository(db DBTX) AccessLogRepository {
	return &accessLogRepo{db: db}
}

func (r *accessLogRepo) Append(ctx context.Context, g *model.AccessGrant) error {
	query := `
		INSERT INTO access_log (grant_id, document_id, requestor_identity, requestor_issuer,
			requestor_clearance, ephemeral_public_key, request_signature, request_timestamp,
			nonce, granted, denial_reason, copy_id, copy_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING seq, created_at`

	err := r.db.QueryRow(ctx, query,
		g.GrantID, g.DocumentID, g.RequestorIdentity, g.RequestorIssuer,
		int(g.RequestorClearance), g.EphemeralPublicKey, g.RequestSignature, g.RequestTimestamp,
		g.Nonce, g.Granted, nullIfEmpty(string(g.DenialReason)), nullIfEmpty(g.CopyID), nullIfEmpty(g.CopyHash),
	).Scan(&g.Seq, &g.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: запись выдачи %s уже существует", ErrConflict, g.GrantID)
		}
		return fmt.Errorf("ошибка записи в журнал доступа: %w", err)
	}
	return nil
}

func (r *accessLogRepo) ListByDocument(ctx context.Context, documentID string, limit, offset int) ([]*model.AccessGrant, error) {
	rows, err := r.db.Query(ctx, `
		SELECT seq, grant_id, document_id, requestor_identity, requestor_issuer,
			requestor_clearance, ephemeral_public_key, request_signature, request_timestamp,
			nonce, granted, denial_reason, copy_id, copy_hash, created_at
		FROM access_log
		WHERE document_id = $1
		ORDER BY seq
		LIMIT $2 OFFSET $3`, documentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала доступа: %w", err)
	}
	defer rows.Close()

	var result []*model.AccessGrant
	for rows.Next() {
		var (
			g                        model.AccessGrant
			clearance                int
			reason, copyID, copyHash *string
		)
		if err := rows.Scan(
			&g.Seq, &g.GrantID, &g.DocumentID, &g.RequestorIdentity, &g.RequestorIssuer,
			&clearance, &g.EphemeralPublicKey, &g.RequestSignature, &g.RequestTimestamp,
			&g.Nonce, &g.Granted, &reason, &copyID, &copyHash, &g.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи журнала: %w", err)
		}
		g.RequestorClearance = classification.Level(clearance)
		g.DenialReason = model.DenialReason(derefString(reason))
		g.CopyID = derefString(copyID)
		g.CopyHash = derefString(copyHash)
		result = append(result, &g)
	}
	return result, rows.Err()
}
