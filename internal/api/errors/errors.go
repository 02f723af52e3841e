// Пакет errors — конструкторы ошибок HTTP API Access Engine.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок, определённые в OpenAPI контракте.
// Отказы в доступе дополнительно используют причину отказа как код.
const (
	CodeValidationError          = "VALIDATION_ERROR"
	CodeNotFound                 = "NOT_FOUND"
	CodeInvalidCredential        = "INVALID_CREDENTIAL"
	CodeInsufficientClearance    = "INSUFFICIENT_CLEARANCE"
	CodeRateLimited              = "RATE_LIMITED"
	CodeStorageUnavailable       = "STORAGE_UNAVAILABLE"
	CodeEncryptionKeyUnavailable = "ENCRYPTION_KEY_UNAVAILABLE"
	CodeIntegrityMismatch        = "INTEGRITY_MISMATCH"
	CodeAuditLogFailure          = "AUDIT_LOG_FAILURE"
	CodeInternalError            = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
// GrantID заполняется для отказов в доступе: по нему отказ находится в журнале.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	GrantID string `json:"grant_id,omitempty"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	writeBody(w, statusCode, errorDetail{Code: code, Message: message})
}

func writeBody(w http.ResponseWriter, statusCode int, detail errorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{Error: detail})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 отсутствует или невалидно удостоверение.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeInvalidCredential, message)
}

// InsufficientClearance — 403 допуск ниже грифа документа.
func InsufficientClearance(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeInsufficientClearance, message)
}

// AccessDenied — 403 отказ в доступе с причиной отказа в качестве кода.
func AccessDenied(w http.ResponseWriter, reason, grantID, message string) {
	writeBody(w, http.StatusForbidden, errorDetail{Code: reason, Message: message, GrantID: grantID})
}

// RateLimited — 429 превышен лимит запросов.
func RateLimited(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, message)
}

// StorageUnavailable — 503 хранилище недоступно.
func StorageUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, CodeStorageUnavailable, message)
}

// EncryptionKeyUnavailable — 500 ключ шифрования недоступен.
func EncryptionKeyUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeEncryptionKeyUnavailable, message)
}

// IntegrityMismatch — 500 нарушена целостность содержимого.
func IntegrityMismatch(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeIntegrityMismatch, message)
}

// AuditLogFailure — 500 не удалось записать журнал доступа.
func AuditLogFailure(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeAuditLogFailure, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
