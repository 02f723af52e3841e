// handler.go — основной обработчик API Access Engine.
// Объединяет health и бизнес-обработчики, делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/goartstore/access-engine/internal/api/errors"
	"github.com/bigkaa/goartstore/access-engine/internal/api/middleware"
	"github.com/bigkaa/goartstore/access-engine/internal/domain/classification"
	"github.com/bigkaa/goartstore/access-engine/internal/domain/model"
	"github.com/bigkaa/goartstore/access-engine/internal/service"
)

// DocumentRegistry — операции реестра документов (service.RegistryService).
type DocumentRegistry interface {
	Create(ctx context.Context, actor service.Actor, in service.CreateDocumentInput) (string, error)
	Query(ctx context.Context, requestorIssuer string, requestorClearance classification.Level) iter.Seq2[model.DocumentSummary, error]
	SoftDelete(ctx context.Context, actor service.Actor, documentID string) error
	UpdateReleasability(ctx context.Context, actor service.Actor, documentID string, issuers []string) error
	History(ctx context.Context, actor service.Actor, documentID string) ([]*model.HistoryEvent, error)
	RotateKey(ctx context.Context, actor service.Actor, level classification.Level) (string, error)
}

// AccessGranter — операции выдачи доступа (service.AccessService).
type AccessGranter interface {
	RequestAccess(ctx context.Context, req service.AccessRequest) (*service.AccessResult, error)
	ListGrants(ctx context.Context, actor service.Actor, documentID string, limit, offset int) ([]*model.AccessGrant, error)
	RegisterSigningKey(ctx context.Context, actor service.Actor, publicKey []byte) error
}

// APIHandler — основной обработчик API Access Engine.
type APIHandler struct {
	health   *HealthHandler
	registry DocumentRegistry
	access   AccessGranter
	logger   *slog.Logger

	accessMiddlewares []func(http.Handler) http.Handler
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	registry DocumentRegistry,
	access AccessGranter,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:   health,
		registry: registry,
		access:   access,
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// maxBodyBytes — предельный размер тела запроса (содержимое документа в base64).
const maxBodyBytes = 64 << 20

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON разбирает тело запроса. Неизвестные поля — ошибка.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.WriteError(w, http.StatusRequestEntityTooLarge, apierrors.CodeValidationError, "Тело запроса слишком велико")
			return false
		}
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return false
	}
	return true
}

// actorOrUnauthorized извлекает субъекта из контекста.
func actorOrUnauthorized(w http.ResponseWriter, r *http.Request) (service.Actor, bool) {
	actor := middleware.ActorFromContext(r.Context())
	if actor == nil {
		apierrors.Unauthorized(w, "Отсутствует удостоверение")
		return service.Actor{}, false
	}
	return *actor, true
}

// paginationDefaults нормализует параметры пагинации из query string.
// Возвращает корректные limit и offset или ошибку разбора.
func paginationDefaults(r *http.Request) (limitVal, offsetVal int, err error) {
	l := 100
	o := 0

	if s := r.URL.Query().Get("limit"); s != "" {
		l, err = strconv.Atoi(s)
		if err != nil {
			return 0, 0, errors.New("limit: ожидается целое число")
		}
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if s := r.URL.Query().Get("offset"); s != "" {
		o, err = strconv.Atoi(s)
		if err != nil {
			return 0, 0, errors.New("offset: ожидается целое число")
		}
		if o < 0 {
			o = 0
		}
	}

	return l, o, nil
}

// writeServiceError отображает ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var denial *service.DenialError
	switch {
	case errors.As(err, &denial):
		if denial.Reason == model.DenialDocumentNotFound {
			apierrors.WriteError(w, http.StatusNotFound, string(denial.Reason), "Документ не найден")
			return
		}
		apierrors.AccessDenied(w, string(denial.Reason), denial.GrantID, "Доступ запрещён")
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Документ не найден")
	case errors.Is(err, service.ErrInsufficientClearance):
		apierrors.InsufficientClearance(w, "Уровень допуска ниже грифа документа")
	case errors.Is(err, service.ErrStorageUnavailable):
		h.logger.Warn("Хранилище недоступно",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.StorageUnavailable(w, "Хранилище временно недоступно, повторите запрос")
	case errors.Is(err, service.ErrEncryptionKeyUnavailable):
		apierrors.EncryptionKeyUnavailable(w, "Ключ шифрования недоступен")
	case errors.Is(err, service.ErrIntegrityMismatch):
		apierrors.IntegrityMismatch(w, "Нарушена целостность документа")
	case errors.Is(err, service.ErrAuditLogFailure):
		apierrors.AuditLogFailure(w, "Не удалось записать журнал доступа, выдача прервана")
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка")
	}
}
