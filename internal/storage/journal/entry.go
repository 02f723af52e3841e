// Пакет journal — журнал незавершённых выдач доступа (write-ahead).
//
// Перед расшифровкой оригинала создаётся запись со статусом pending.
// После записи AccessGrant в журнал доступа она помечается как logged,
// при отказе — как aborted. Pending-записи, найденные при старте, означают
// аварийное завершение между расшифровкой и журналированием.
// Каждая выдача — отдельный файл {grant_id}.grant.json в AE_JOURNAL_DIR.
package journal

import (
	"time"
)

// Status — статус записи журнала.
type Status string

const (
	// StatusPending — выдача начата, запись в журнал доступа ещё не выполнена
	StatusPending Status = "pending"
	// StatusLogged — AccessGrant записан, копия может быть доставлена
	StatusLogged Status = "logged"
	// StatusAborted — выдача прервана, копия не доставлена
	StatusAborted Status = "aborted"
)

// Entry — запись журнала. Хранится как JSON-файл {grant_id}.grant.json.
// Содержит всё необходимое для записи AccessGrant об отказе при восстановлении.
type Entry struct {
	// GrantID — UUID попытки доступа
	GrantID string `json:"grant_id"`

	// Status — текущий статус
	Status Status `json:"status"`

	// DocumentID — запрошенный документ
	DocumentID string `json:"document_id"`

	// RequestorIdentity — идентификатор запрашивающего
	RequestorIdentity string `json:"requestor_identity"`

	// RequestorIssuer — издатель удостоверения запрашивающего
	RequestorIssuer string `json:"requestor_issuer"`

	// RequestorClearance — уровень допуска (число)
	RequestorClearance int `json:"requestor_clearance"`

	// Nonce — nonce запроса
	Nonce string `json:"nonce"`

	// RequestTimestamp — метка времени запроса
	RequestTimestamp time.Time `json:"request_timestamp"`

	// StartedAt — время начала выдачи (UTC)
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения (UTC), nil для pending
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// journalFileName возвращает имя файла записи.
func journalFileName(grantID string) string {
	return grantID + ".grant.json"
}
