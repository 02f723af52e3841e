package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgStore — реализация Store на PostgreSQL.
type pgStore struct {
	pool *pgxpool.Pool
	tx   *TxRunner
	db   DBTX
	// inTx — store привязан к открытой транзакции
	inTx bool
}

// NewPostgresStore создаёт Store поверх пула подключений.
// Close закрывает пул.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool, tx: NewTxRunner(pool), db: pool}
}

func (s *pgStore) Documents() DocumentRepository     { return NewDocumentRepository(s.db) }
func (s *pgStore) Keys() KeyRepository               { return NewKeyRepository(s.db) }
func (s *pgStore) AccessLog() AccessLogRepository    { return NewAccessLogRepository(s.db) }
func (s *pgStore) History() HistoryRepository        { return NewHistoryRepository(s.db) }
func (s *pgStore) SigningKeys() SigningKeyRepository { return NewSigningKeyRepository(s.db) }

func (s *pgStore) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgStore{pool: s.pool, tx: s.tx, db: tx, inTx: true})
	})
}

func (s *pgStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("PostgreSQL недоступен: %w", err)
	}
	return nil
}

func (s *pgStore) Close() {
	if !s.inTx {
		s.pool.Close()
	}
}
