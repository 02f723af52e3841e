// Пакет repository — абстракция хранилища движка и её реализация на PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
//
// Store объединяет репозитории документов, ключей, журнала доступа,
// истории и ключей подписи. Реализации: PostgreSQL (NewPostgresStore)
// и in-memory (пакет storage/memory).
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrClosed — хранилище закрыто.
	ErrClosed = errors.New("хранилище закрыто")
)

// Store — хранилище движка с явным жизненным циклом.
type Store interface {
	// Documents возвращает репозиторий документов.
	Documents() DocumentRepository
	// Keys возвращает репозиторий ключей шифрования.
	Keys() KeyRepository
	// AccessLog возвращает append-only журнал доступа.
	AccessLog() AccessLogRepository
	// History возвращает журнал событий документов.
	History() HistoryRepository
	// SigningKeys возвращает репозиторий ключей подписи запрашивающих.
	SigningKeys() SigningKeyRepository
	// RunInTx выполняет fn в транзакции. Store, переданный в fn,
	// работает внутри транзакции; вложенный RunInTx использует ту же транзакцию.
	RunInTx(ctx context.Context, fn func(tx Store) error) error
	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
	// Close освобождает ресурсы хранилища.
	Close()
}

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// nullIfEmpty превращает пустую строку в NULL.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// derefString возвращает значение или пустую строку для NULL.
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
