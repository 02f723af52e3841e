// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/goartstore/access-engine/internal/domain/model"
)

var (
	// ErrNotFound — документ не найден или помечен удалённым.
	ErrNotFound = errors.New("документ не найден")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrInsufficientClearance — уровень допуска ниже грифа документа.
	ErrInsufficientClearance = errors.New("недостаточный уровень допуска")
	// ErrStorageUnavailable — хранилище недоступно, вызывающий может повторить запрос.
	ErrStorageUnavailable = errors.New("хранилище недоступно")
	// ErrEncryptionKeyUnavailable — ключ шифрования недоступен.
	ErrEncryptionKeyUnavailable = errors.New("ключ шифрования недоступен")
	// ErrIntegrityMismatch — расшифрованное содержимое не совпало с хэшем оригинала.
	ErrIntegrityMismatch = errors.New("нарушение целостности документа")
	// ErrAuditLogFailure — не удалось записать журнал доступа, выдача прервана.
	ErrAuditLogFailure = errors.New("ошибка записи журнала доступа")
	// ErrAccessDenied — ожидаемый отказ в доступе (см. DenialError).
	ErrAccessDenied = errors.New("доступ запрещён")
)

// DenialError — типизированный отказ в доступе, записанный в журнал.
type DenialError struct {
	// Reason — причина отказа
	Reason model.DenialReason
	// GrantID — идентификатор записи журнала доступа
	GrantID string
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("доступ запрещён: %s (grant %s)", e.Reason, e.GrantID)
}

// Unwrap позволяет сопоставлять отказ через errors.Is(err, ErrAccessDenied).
func (e *DenialError) Unwrap() error {
	return ErrAccessDenied
}

// storageError оборачивает ошибку хранилища в ErrStorageUnavailable.
func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}
