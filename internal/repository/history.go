package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/goartstore/access-engine/internal/domain/model"
)

// HistoryRepository — журнал событий жизненного цикла документов.
type HistoryRepository interface {
	// Append добавляет событие и заполняет Seq и CreatedAt.
	Append(ctx context.Context, e *model.HistoryEvent) error
	// ListByDocument возвращает события документа в порядке Seq.
	ListByDocument(ctx context.Context, documentID string) ([]*model.HistoryEvent, error)
}

type historyRepo struct {
	db DBTX
}

// NewHistoryRepository создаёт репозиторий истории.
func NewHistoryRepository(db DBTX) HistoryRepository {
	return &historyRepo{db: db}
}

func (r *historyRepo) Append(ctx context.Context, e *model.HistoryEvent) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO document_history (document_id, event_type, actor_identity, details)
		VALUES ($1, $2, $3, $4)
		RETURNING seq, created_at`,
		e.DocumentID, string(e.EventType), e.ActorIdentity, e.Details,
	).Scan(&e.Seq, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи события истории: %w", err)
	}
	return nil
}

func (r *historyRepo) ListByDocument(ctx context.Context, documentID string) ([]*model.HistoryEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT seq, document_id, event_type, actor_identity, details, created_at
		FROM document_history
		WHERE document_id = $1
		ORDER BY seq`, documentID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения истории: %w", err)
	}
	defer rows.Close()

	var result []*model.HistoryEvent
	for rows.Next() {
		var (
			e         model.HistoryEvent
			eventType string
		)
		if err := rows.Scan(&e.Seq, &e.DocumentID, &eventType, &e.ActorIdentity, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования события: %w", err)
		}
		e.EventType = model.HistoryEventType(eventType)
		result = append(result, &e)
	}
	return result, rows.Err()
}
