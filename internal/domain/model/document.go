// Пакет model — доменные модели движка контроля доступа к документам.
package model

import (
	"time"

	"github.com/bigkaa/goartstore/access-engine/internal/domain/classification"
)

// Document — документ с грифом секретности.
// Хранится в таблице documents; содержимое — зашифрованный blob в Blob Store.
type Document struct {
	// ID — UUID документа (v7, упорядочен по времени создания)
	ID string
	// ClassificationLevel — гриф, задаётся один раз при создании
	ClassificationLevel classification.Level
	// ReleasableToIssuers — издатели, держателям удостоверений которых разрешён доступ
	ReleasableToIssuers []string
	// ReleasabilityBloom — Bloom-фильтр над ReleasableToIssuers (128 байт)
	ReleasabilityBloom []byte
	// OriginalContentHash — SHA-256 открытого текста (hex)
	OriginalContentHash string
	// EncryptionKeyRef — ID ключа шифрования (не сам ключ)
	EncryptionKeyRef string
	// BlobRef — ссылка на зашифрованное содержимое в Blob Store
	BlobRef string
	// MetadataEnvelope — зашифрованные метаданные (DocumentMetadata)
	MetadataEnvelope []byte
	// CreatedByIdentity — идентификатор создателя
	CreatedByIdentity string
	// CreatedByIssuer — издатель удостоверения создателя (область ключа)
	CreatedByIssuer string
	// CreatedAt — время создания
	CreatedAt time.Time
	// ExpiresAt — время истечения (опционально)
	ExpiresAt *time.Time
	// DeletedAt — время soft delete; nil для активных документов
	DeletedAt *time.Time
}

// IsDeleted возвращает true для документов, помеченных как удалённые.
func (d *Document) IsDeleted() bool {
	return d.DeletedAt != nil
}

// IsExpired возвращает true, если срок действия документа истёк к моменту now.
func (d *Document) IsExpired(now time.Time) bool {
	return d.ExpiresAt != nil && !now.Before(*d.ExpiresAt)
}

// IsReleasableTo проверяет точное членство издателя в списке допуска.
func (d *Document) IsReleasableTo(issuer string) bool {
	for _, i := range d.ReleasableToIssuers {
		if i == issuer {
			return true
		}
	}
	return false
}

// DocumentMetadata — метаданные документа, хранящиеся в зашифрованном виде.
type DocumentMetadata struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int    `json:"size"`
}

// DocumentSummary — сводка документа, видимая конкретному читателю.
type DocumentSummary struct {
	ID                  string               `json:"id"`
	ClassificationLevel classification.Level `json:"classification_level"`
	Title               string               `json:"title"`
	Description         string               `json:"description,omitempty"`
	ContentType         string               `json:"content_type,omitempty"`
	Size                int                  `json:"size"`
	CreatedAt           time.Time            `json:"created_at"`
	ExpiresAt           *time.Time           `json:"expires_at,omitempty"`
}

// HistoryEventType — тип события истории документа.
type HistoryEventType string

const (
	// HistoryCreated — документ создан.
	HistoryCreated HistoryEventType = "CREATED"
	// HistoryReleasabilityUpdated — изменён список допущенных издателей.
	HistoryReleasabilityUpdated HistoryEventType = "RELEASABILITY_UPDATED"
	// HistorySoftDeleted — документ помечен как удалённый.
	HistorySoftDeleted HistoryEventType = "SOFT_DELETED"
)

// HistoryEvent — запись истории изменений документа (append-only).
type HistoryEvent struct {
	Seq           int64            `json:"seq"`
	DocumentID    string           `json:"document_id"`
	EventType     HistoryEventType `json:"event_type"`
	ActorIdentity string           `json:"actor_identity"`
	Details       map[string]any   `json:"details,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}
