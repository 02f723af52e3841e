package model

import (
	"time"

	"github.com/bigkaa/goartstore/access-engine/internal/domain/classification"
)

// DenialReason — машиночитаемая причина отказа в доступе.
type DenialReason string

const (
	// DenialReleasability — издатель не входит в список допуска.
	DenialReleasability DenialReason = "RELEASABILITY_DENIED"
	// DenialClearance — недостаточный уровень допуска.
	DenialClearance DenialReason = "CLEARANCE_DENIED"
	// DenialCredentialRevoked — удостоверение отозвано.
	DenialCredentialRevoked DenialReason = "CREDENTIAL_REVOKED"
	// DenialRevocationCheckFailed — оракул отзыва недоступен (fail-closed).
	DenialRevocationCheckFailed DenialReason = "REVOCATION_CHECK_FAILED"
	// DenialInvalidSignature — подпись запроса не прошла проверку.
	DenialInvalidSignature DenialReason = "INVALID_SIGNATURE"
	// DenialReplayDetected — повтор nonce или устаревшая метка времени.
	DenialReplayDetected DenialReason = "REPLAY_DETECTED"
	// DenialDocumentNotFound — документ не существует или удалён.
	DenialDocumentNotFound DenialReason = "DOCUMENT_NOT_FOUND"
	// DenialDocumentExpired — срок действия документа истёк.
	DenialDocumentExpired DenialReason = "DOCUMENT_EXPIRED"
	// DenialRequestCancelled — запрос отменён вызывающим до журналирования.
	DenialRequestCancelled DenialReason = "REQUEST_CANCELLED"
	// DenialIntegrityMismatch — хэш расшифрованного содержимого не совпал.
	DenialIntegrityMismatch DenialReason = "INTEGRITY_MISMATCH"
	// DenialKeyUnavailable — ключ шифрования недоступен.
	DenialKeyUnavailable DenialReason = "ENCRYPTION_KEY_UNAVAILABLE"
	// DenialStorageUnavailable — хранилище недоступно.
	DenialStorageUnavailable DenialReason = "STORAGE_UNAVAILABLE"
	// DenialGrantAborted — выдача прервана аварийным завершением процесса.
	DenialGrantAborted DenialReason = "GRANT_ABORTED"
)

// AccessGrant — неизменяемая запись журнала доступа.
// Одна запись на каждую попытку доступа, успешную или нет.
type AccessGrant struct {
	// Seq — порядковый номер записи (BIGSERIAL)
	Seq int64 `json:"seq"`
	// GrantID — UUID попытки доступа
	GrantID string `json:"grant_id"`
	// DocumentID — запрошенный документ
	DocumentID string `json:"document_id"`
	// RequestorIdentity — идентификатор запрашивающего
	RequestorIdentity string `json:"requestor_identity"`
	// RequestorIssuer — издатель удостоверения запрашивающего
	RequestorIssuer string `json:"requestor_issuer"`
	// RequestorClearance — подтверждённый уровень допуска
	RequestorClearance classification.Level `json:"requestor_clearance"`
	// EphemeralPublicKey — одноразовый X25519 ключ запрашивающего
	EphemeralPublicKey []byte `json:"ephemeral_public_key,omitempty"`
	// RequestSignature — подпись кортежа запроса
	RequestSignature []byte `json:"request_signature,omitempty"`
	// RequestTimestamp — метка времени из запроса
	RequestTimestamp time.Time `json:"request_timestamp"`
	// Nonce — одноразовое значение запроса
	Nonce string `json:"nonce"`
	// Granted — доступ выдан
	Granted bool `json:"granted"`
	// DenialReason — причина отказа (пусто при Granted)
	DenialReason DenialReason `json:"denial_reason,omitempty"`
	// CopyID — UUID подотчётной копии (только при Granted)
	CopyID string `json:"copy_id,omitempty"`
	// CopyHash — SHA-256 подотчётной копии (hex)
	CopyHash string `json:"copy_hash,omitempty"`
	// CreatedAt — время записи
	CreatedAt time.Time `json:"created_at"`
}
