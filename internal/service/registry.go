// registry.go — реестр документов: создание, поиск с фильтрацией по допуску,
// soft delete, изменение списка допуска, история и ротация ключей.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/access-engine/internal/domain/classification"
	"github.com/bigkaa/goartstore/access-engine/internal/domain/model"
	"github.com/bigkaa/goartstore/access-engine/internal/keystore"
	"github.com/bigkaa/goartstore/access-engine/internal/repository"
	"github.com/bigkaa/goartstore/access-engine/internal/seal"
	"github.com/bigkaa/goartstore/access-engine/internal/storage/bloom"
)

// queryPageSize — размер страницы при обходе реестра в Query.
const queryPageSize = 100

// Ограничения входных данных.
const (
	maxTitleLength       = 255
	maxDescriptionLength = 4096
	maxIssuers           = 256
)

// Prometheus-метрики реестра.
var (
	documentsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ae_documents_created_total",
		Help: "Количество созданных документов (по грифу).",
	}, []string{"level"})

	bloomFalsePositivesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ae_bloom_false_positives_total",
		Help: "Количество ложноположительных срабатываний фильтра Блума при поиске.",
	})
)

// BlobStore — контентно-адресуемое хранилище зашифрованных blob-ов.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Actor — подтверждённая личность вызывающего (результат оракула идентичности).
type Actor struct {
	// Identity — стабильный идентификатор субъекта
	Identity string
	// Issuer — подтверждённый издатель удостоверения
	Issuer string
	// Clearance — подтверждённый уровень допуска
	Clearance classification.Level
}

// CreateDocumentInput — параметры создания документа.
type CreateDocumentInput struct {
	ClassificationLevel classification.Level
	ReleasableToIssuers []string
	Plaintext           []byte
	Title               string
	Description         string
	ContentType         string
	ExpiresAt           *time.Time
}

// RegistryService — реестр документов с шифрованием на уровне грифа.
type RegistryService struct {
	store      repository.Store
	keys       *keystore.KeyStore
	blobs      BlobStore
	cryptoPool *WorkerPool
	logger     *slog.Logger
	now        func() time.Time
}

// NewRegistryService создаёт реестр документов.
func NewRegistryService(
	store repository.Store,
	keys *keystore.KeyStore,
	blobs BlobStore,
	cryptoPool *WorkerPool,
	logger *slog.Logger,
) *RegistryService {
	return &RegistryService{
		store:      store,
		keys:       keys,
		blobs:      blobs,
		cryptoPool: cryptoPool,
		logger:     logger.With(slog.String("component", "registry_service")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create сохраняет новый документ и возвращает его ID.
//
// Pipeline:
//  1. Валидация входных данных и проверка допуска автора
//  2. Активный ключ пары (издатель автора, гриф) через get-or-create
//  3. AES-256-GCM шифрование содержимого и конверта метаданных (пул криптографии)
//  4. Запись blob в Blob Store
//  5. Документ и событие CREATED в одной транзакции
func (s *RegistryService) Create(ctx context.Context, actor Actor, in CreateDocumentInput) (string, error) {
	issuers, err := normalizeIssuers(in.ReleasableToIssuers)
	if err != nil {
		return "", err
	}
	if err := validateCreate(in, s.now()); err != nil {
		return "", err
	}

	// 1. Писать можно только на уровне не выше собственного допуска
	if !classification.MeetsRequirement(actor.Clearance, in.ClassificationLevel) {
		return "", fmt.Errorf("%w: допуск %s, гриф %s", ErrInsufficientClearance, actor.Clearance, in.ClassificationLevel)
	}

	sk, err := classification.KeyScope(actor.Issuer, in.ClassificationLevel)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}

	// 2. Ключ пары (scope, level)
	keyRef, key, err := s.keys.GetOrCreateActive(ctx, sk)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionKeyUnavailable, err)
	}
	defer seal.Zeroize(key)

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("генерация ID документа: %w", err)
	}
	docID := id.String()

	meta := model.DocumentMetadata{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		ContentType: in.ContentType,
		Size:        len(in.Plaintext),
	}

	// 3. Шифрование
	var blob, envelope []byte
	var contentHash string
	err = s.cryptoPool.Do(ctx, func() error {
		var err error
		blob, err = seal.SealAtRest(key, in.Plaintext, []byte(docID))
		if err != nil {
			return err
		}
		contentHash = seal.ContentHash(in.Plaintext)
		envelope, err = sealMetadata(key, docID, meta)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("шифрование документа: %w", err)
	}

	// 4. Blob Store
	blobRef, err := s.blobs.Put(ctx, blob)
	if err != nil {
		return "", storageError("запись blob", err)
	}

	now := s.now()
	doc := &model.Document{
		ID:                  docID,
		ClassificationLevel: in.ClassificationLevel,
		ReleasableToIssuers: issuers,
		ReleasabilityBloom:  bloom.New(issuers).Bytes(),
		OriginalContentHash: contentHash,
		EncryptionKeyRef:    keyRef,
		BlobRef:             blobRef,
		MetadataEnvelope:    envelope,
		CreatedByIdentity:   actor.Identity,
		CreatedByIssuer:     actor.Issuer,
		CreatedAt:           now,
		ExpiresAt:           in.ExpiresAt,
	}

	// 5. Документ + история
	err = s.store.RunInTx(ctx, func(tx repository.Store) error {
		if err := tx.Documents().Create(ctx, doc); err != nil {
			return err
		}
		return tx.History().Append(ctx, &model.HistoryEvent{
			DocumentID:    docID,
			EventType:     model.HistoryCreated,
			ActorIdentity: actor.Identity,
			Details: map[string]any{
				"classification_level":  in.ClassificationLevel.String(),
				"releasable_to_issuers": issuers,
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return "", storageError("сохранение документа", err)
	}

	documentsCreatedTotal.WithLabelValues(in.ClassificationLevel.String()).Inc()
	s.logger.Info("Документ создан",
		slog.String("document_id", docID),
		slog.String("level", in.ClassificationLevel.String()),
		slog.String("key_ref", keyRef),
		slog.String("actor", actor.Identity),
		slog.Int("issuers", len(issuers)),
	)

	return docID, nil
}

// Query возвращает ленивую последовательность документов, видимых издателю
// requestorIssuer с допуском requestorClearance, в порядке создания.
//
// Для каждого неудалённого документа:
//  1. Фильтр Блума — отрицательный ответ отсекает документ без расшифровки
//  2. Точная проверка членства по сохранённому списку
//  3. Проверка допуска
//
// Метаданные расшифровываются только для прошедших проверки документов.
// Последовательность не имеет побочных эффектов и может обходиться повторно.
// Ошибка хранилища завершает обход; ошибка расшифровки метаданных одного
// документа передаётся потребителю, и обход продолжается, если он не прерван.
func (s *RegistryService) Query(ctx context.Context, requestorIssuer string, requestorClearance classification.Level) iter.Seq2[model.DocumentSummary, error] {
	return func(yield func(model.DocumentSummary, error) bool) {
		after := ""
		for {
			if err := ctx.Err(); err != nil {
				yield(model.DocumentSummary{}, err)
				return
			}

			page, err := s.store.Documents().ListActive(ctx, after, queryPageSize)
			if err != nil {
				yield(model.DocumentSummary{}, storageError("обход реестра", err))
				return
			}

			now := s.now()
			for _, d := range page {
				after = d.ID
				if !s.visible(d, requestorIssuer, requestorClearance, now) {
					continue
				}
				summary, err := s.summarize(ctx, d)
				if !yield(summary, err) {
					return
				}
			}

			if len(page) < queryPageSize {
				return
			}
		}
	}
}

// visible применяет фильтр Блума, точную проверку списка допуска и допуска.
func (s *RegistryService) visible(d *model.Document, issuer string, clearance classification.Level, now time.Time) bool {
	if d.IsExpired(now) {
		return false
	}

	// Повреждённый фильтр не отсекает документ: решение примет точная проверка
	if f, err := bloom.FromBytes(d.ReleasabilityBloom); err == nil && !f.MayContain(issuer) {
		return false
	}
	if !d.IsReleasableTo(issuer) {
		bloomFalsePositivesTotal.Inc()
		return false
	}
	return classification.MeetsRequirement(clearance, d.ClassificationLevel)
}

// summarize расшифровывает конверт метаданных документа.
func (s *RegistryService) summarize(ctx context.Context, d *model.Document) (model.DocumentSummary, error) {
	summary := model.DocumentSummary{
		ID:                  d.ID,
		ClassificationLevel: d.ClassificationLevel,
		CreatedAt:           d.CreatedAt,
		ExpiresAt:           d.ExpiresAt,
	}

	key, err := s.keys.Get(ctx, d.EncryptionKeyRef)
	if err != nil {
		return summary, fmt.Errorf("%w: документ %s: %v", ErrEncryptionKeyUnavailable, d.ID, err)
	}
	defer seal.Zeroize(key)

	meta, err := openMetadata(key, d.ID, d.MetadataEnvelope)
	if err != nil {
		s.logger.Error("Не удалось расшифровать метаданные документа",
			slog.String("document_id", d.ID),
			slog.String("error", err.Error()),
		)
		return summary, fmt.Errorf("%w: метаданные документа %s", ErrIntegrityMismatch, d.ID)
	}

	summary.Title = meta.Title
	summary.Description = meta.Description
	summary.ContentType = meta.ContentType
	summary.Size = meta.Size
	return summary, nil
}

// SoftDelete помечает документ удалённым. Blob и журнал доступа сохраняются.
func (s *RegistryService) SoftDelete(ctx context.Context, actor Actor, documentID string) error {
	doc, err := s.loadActive(ctx, documentID)
	if err != nil {
		return err
	}
	if !classification.MeetsRequirement(actor.Clearance, doc.ClassificationLevel) {
		return fmt.Errorf("%w: допуск %s, гриф %s", ErrInsufficientClearance, actor.Clearance, doc.ClassificationLevel)
	}

	now := s.now()
	err = s.store.RunInTx(ctx, func(tx repository.Store) error {
		if err := tx.Documents().MarkDeleted(ctx, documentID, now); err != nil {
			return err
		}
		return tx.History().Append(ctx, &model.HistoryEvent{
			DocumentID:    documentID,
			EventType:     model.HistorySoftDeleted,
			ActorIdentity: actor.Identity,
			CreatedAt:     now,
		})
	})
	if errors.Is(err, repository.ErrNotFound) {
		// Документ удалён параллельным запросом
		return ErrNotFound
	}
	if err != nil {
		return storageError("soft delete", err)
	}

	s.logger.Info("Документ помечен удалённым",
		slog.String("document_id", documentID),
		slog.String("actor", actor.Identity),
	)
	return nil
}

// UpdateReleasability заменяет список допущенных издателей и перестраивает
// фильтр Блума. Требует допуск не ниже грифа документа.
func (s *RegistryService) UpdateReleasability(ctx context.Context, actor Actor, documentID string, issuers []string) error {
	issuers, err := normalizeIssuers(issuers)
	if err != nil {
		return err
	}

	doc, err := s.loadActive(ctx, documentID)
	if err != nil {
		return err
	}
	if !classification.MeetsRequirement(actor.Clearance, doc.ClassificationLevel) {
		return fmt.Errorf("%w: допуск %s, гриф %s", ErrInsufficientClearance, actor.Clearance, doc.ClassificationLevel)
	}

	now := s.now()
	err = s.store.RunInTx(ctx, func(tx repository.Store) error {
		if err := tx.Documents().UpdateReleasability(ctx, documentID, issuers, bloom.New(issuers).Bytes()); err != nil {
			return err
		}
		return tx.History().Append(ctx, &model.HistoryEvent{
			DocumentID:    documentID,
			EventType:     model.HistoryReleasabilityUpdated,
			ActorIdentity: actor.Identity,
			Details: map[string]any{
				"previous": doc.ReleasableToIssuers,
				"current":  issuers,
			},
			CreatedAt: now,
		})
	})
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return storageError("обновление списка допуска", err)
	}

	s.logger.Info("Список допуска документа обновлён",
		slog.String("document_id", documentID),
		slog.String("actor", actor.Identity),
		slog.Int("issuers", len(issuers)),
	)
	return nil
}

// History возвращает события истории документа, включая удалённые документы.
func (s *RegistryService) History(ctx context.Context, actor Actor, documentID string) ([]*model.HistoryEvent, error) {
	doc, err := loadDocument(ctx, s.store, documentID)
	if err != nil {
		return nil, err
	}
	if !classification.MeetsRequirement(actor.Clearance, doc.ClassificationLevel) {
		return nil, fmt.Errorf("%w: допуск %s, гриф %s", ErrInsufficientClearance, actor.Clearance, doc.ClassificationLevel)
	}

	events, err := s.store.History().ListByDocument(ctx, documentID)
	if err != nil {
		return nil, storageError("чтение истории", err)
	}
	return events, nil
}

// RotateKey ротирует ключ пары (издатель вызывающего, level).
// Возвращает ID нового активного ключа.
func (s *RegistryService) RotateKey(ctx context.Context, actor Actor, level classification.Level) (string, error) {
	sk, err := classification.KeyScope(actor.Issuer, level)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !classification.MeetsRequirement(actor.Clearance, level) {
		return "", fmt.Errorf("%w: допуск %s, уровень %s", ErrInsufficientClearance, actor.Clearance, level)
	}

	ref, err := s.keys.Rotate(ctx, sk)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionKeyUnavailable, err)
	}

	s.logger.Info("Ключ шифрования ротирован",
		slog.String("scope", sk.String()),
		slog.String("key_ref", ref),
		slog.String("actor", actor.Identity),
	)
	return ref, nil
}

// loadActive возвращает неудалённый документ.
func (s *RegistryService) loadActive(ctx context.Context, documentID string) (*model.Document, error) {
	doc, err := loadDocument(ctx, s.store, documentID)
	if err != nil {
		return nil, err
	}
	if doc.IsDeleted() {
		return nil, ErrNotFound
	}
	return doc, nil
}

// loadDocument читает документ и переводит ошибки репозитория в ошибки сервиса.
func loadDocument(ctx context.Context, store repository.Store, documentID string) (*model.Document, error) {
	if _, err := uuid.Parse(documentID); err != nil {
		return nil, ErrNotFound
	}
	doc, err := store.Documents().GetByID(ctx, documentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageError("чтение документа", err)
	}
	return doc, nil
}

// normalizeIssuers удаляет пробелы и дубликаты, сохраняя порядок.
func normalizeIssuers(issuers []string) ([]string, error) {
	if len(issuers) == 0 {
		return nil, fmt.Errorf("%w: список releasable_to_issuers пуст", ErrValidation)
	}
	if len(issuers) > maxIssuers {
		return nil, fmt.Errorf("%w: более %d издателей", ErrValidation, maxIssuers)
	}

	seen := make(map[string]struct{}, len(issuers))
	out := make([]string, 0, len(issuers))
	for _, i := range issuers {
		i = strings.TrimSpace(i)
		if i == "" {
			return nil, fmt.Errorf("%w: пустой идентификатор издателя", ErrValidation)
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	return out, nil
}

func validateCreate(in CreateDocumentInput, now time.Time) error {
	if !in.ClassificationLevel.Valid() {
		return fmt.Errorf("%w: недопустимый гриф %d", ErrValidation, int(in.ClassificationLevel))
	}
	if len(in.Plaintext) == 0 {
		return fmt.Errorf("%w: пустое содержимое документа", ErrValidation)
	}
	if len(in.Title) > maxTitleLength {
		return fmt.Errorf("%w: title длиннее %d символов", ErrValidation, maxTitleLength)
	}
	if len(in.Description) > maxDescriptionLength {
		return fmt.Errorf("%w: description длиннее %d символов", ErrValidation, maxDescriptionLength)
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return fmt.Errorf("%w: expires_at в прошлом", ErrValidation)
	}
	return nil
}

// metadataKey выводит подключ конверта метаданных конкретного документа.
func metadataKey(dataKey []byte, documentID string) ([]byte, error) {
	return seal.DeriveKey(dataKey, "metadata:"+documentID)
}

func sealMetadata(dataKey []byte, documentID string, meta model.DocumentMetadata) ([]byte, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("сериализация метаданных: %w", err)
	}
	mk, err := metadataKey(dataKey, documentID)
	if err != nil {
		return nil, err
	}
	defer seal.Zeroize(mk)
	return seal.SealAtRest(mk, raw, []byte(documentID))
}

func openMetadata(dataKey []byte, documentID string, envelope []byte) (model.DocumentMetadata, error) {
	var meta model.DocumentMetadata
	mk, err := metadataKey(dataKey, documentID)
	if err != nil {
		return meta, err
	}
	defer seal.Zeroize(mk)

	raw, err := seal.OpenAtRest(mk, envelope, []byte(documentID))
	if err != nil {
		return meta, err
	}
	defer seal.Zeroize(raw)

	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, fmt.Errorf("разбор метаданных: %w", err)
	}
	return meta, nil
}
