// access.go — выдача доступа к документу через эфемерное перешифрование.
// Каждый вызов RequestAccess оставляет ровно одну запись в журнале доступа;
// копия доставляется только после записи журнала.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/access-engine/internal/domain/classification"
	"github.com/bigkaa/goartstore/access-engine/internal/domain/grant"
	"github.com/bigkaa/goartstore/access-engine/internal/domain/model"
	"github.com/bigkaa/goartstore/access-engine/internal/events"
	"github.com/bigkaa/goartstore/access-engine/internal/keystore"
	"github.com/bigkaa/goartstore/access-engine/internal/replay"
	"github.com/bigkaa/goartstore/access-engine/internal/repository"
	"github.com/bigkaa/goartstore/access-engine/internal/seal"
	"github.com/bigkaa/goartstore/access-engine/internal/storage/blobstore"
	"github.com/bigkaa/goartstore/access-engine/internal/storage/journal"
	"github.com/bigkaa/goartstore/access-engine/internal/watermark"
)

// Лимиты выборки журнала доступа.
const (
	defaultGrantsLimit = 100
	maxGrantsLimit     = 1000
)

// Prometheus-метрики выдачи доступа.
var (
	accessRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ae_access_requests_total",
		Help: "Количество запросов на доступ (по исходу и причине отказа).",
	}, []string{"outcome", "reason"})

	accessRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ae_access_request_duration_seconds",
		Help:    "Длительность обработки запроса на доступ.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	alertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ae_alerts_total",
		Help: "Фатальные события, требующие внимания оператора (по типу).",
	}, []string{"kind"})
)

// RevocationOracle — внешний оракул отзыва удостоверений.
type RevocationOracle interface {
	IsRevoked(ctx context.Context, holder, issuer string) (bool, error)
}

// EventEmitter — неблокирующая отправка событий о записанных выдачах.
type EventEmitter interface {
	Emit(e events.GrantLogged) bool
}

// AccessRequest — подписанный запрос на доступ.
type AccessRequest struct {
	DocumentID string
	Requestor  Actor
	// EphemeralPublicKey — одноразовый X25519 ключ запрашивающего
	EphemeralPublicKey []byte
	// Signature — подпись кортежа (DocumentID, EphemeralPublicKey, Timestamp, Nonce)
	Signature []byte
	Timestamp time.Time
	Nonce     string
}

// AccessResult — зашифрованная подотчётная копия.
type AccessResult struct {
	GrantID         string
	CopyID          string
	Ciphertext      []byte
	Nonce           [seal.BoxNonceSize]byte
	ServerPublicKey [seal.PublicKeySize]byte
}

// AccessDeps — зависимости AccessService.
type AccessDeps struct {
	Store      repository.Store
	Keys       *keystore.KeyStore
	Blobs      BlobStore
	Revocation RevocationOracle
	Replay     replay.Guard
	Journal    *journal.Journal
	Events     EventEmitter
	CryptoPool *WorkerPool
	OraclePool *WorkerPool
	// Freshness — допустимое расхождение метки времени запроса с часами сервера
	Freshness time.Duration
}

// AccessService — сервис выдачи подотчётных копий.
type AccessService struct {
	store      repository.Store
	keys       *keystore.KeyStore
	blobs      BlobStore
	revocation RevocationOracle
	replay     replay.Guard
	journal    *journal.Journal
	events     EventEmitter
	cryptoPool *WorkerPool
	oraclePool *WorkerPool
	freshness  time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewAccessService создаёт сервис выдачи доступа.
func NewAccessService(deps AccessDeps, logger *slog.Logger) *AccessService {
	return &AccessService{
		store:      deps.Store,
		keys:       deps.Keys,
		blobs:      deps.Blobs,
		revocation: deps.Revocation,
		replay:     deps.Replay,
		journal:    deps.Journal,
		events:     deps.Events,
		cryptoPool: deps.CryptoPool,
		oraclePool: deps.OraclePool,
		freshness:  deps.Freshness,
		logger:     logger.With(slog.String("component", "access_service")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// attempt — состояние одной попытки доступа.
type attempt struct {
	machine *grant.Machine
	record  *model.AccessGrant
	// journaled — запись журнала выдачи создана и должна быть завершена
	journaled bool
}

// RequestAccess обрабатывает подписанный запрос на доступ.
//
// Pipeline (конечный автомат grant):
//  1. Verify: документ, список допуска, допуск, отзыв удостоверения,
//     подпись, свежесть метки времени, уникальность nonce
//  2. Decrypt: ключ по EncryptionKeyRef, AES-256-GCM, сверка хэша оригинала
//  3. Stamp: видимая отметка и криминалистический маркер
//  4. ReEncrypt: X25519 + XSalsa20-Poly1305 на эфемерный ключ запрашивающего
//  5. Log: запись AccessGrant (granted=true)
//  6. Deliver: событие GrantLogged и возврат копии
//
// Ожидаемые отказы возвращаются как *DenialError. Нарушение целостности,
// отказ журнала доступа и недоступность ключа или хранилища возвращаются
// соответствующими ошибками сервиса. В любом случае попытка записана
// в журнал доступа ровно один раз, либо ErrAuditLogFailure.
func (s *AccessService) RequestAccess(ctx context.Context, req AccessRequest) (*AccessResult, error) {
	start := time.Now()
	defer func() { accessRequestDuration.Observe(time.Since(start).Seconds()) }()

	a := &attempt{
		machine: grant.NewMachine(uuid.NewString()),
		record: &model.AccessGrant{
			DocumentID:         req.DocumentID,
			RequestorIdentity:  req.Requestor.Identity,
			RequestorIssuer:    req.Requestor.Issuer,
			RequestorClearance: req.Requestor.Clearance,
			EphemeralPublicKey: append([]byte(nil), req.EphemeralPublicKey...),
			RequestSignature:   append([]byte(nil), req.Signature...),
			RequestTimestamp:   req.Timestamp.UTC(),
			Nonce:              req.Nonce,
		},
	}
	a.record.GrantID = a.machine.GrantID()

	// 1. Verify
	doc, reason, cause := s.verify(ctx, req)
	if reason != "" {
		return nil, s.deny(ctx, a, reason, cause)
	}
	s.advance(a, grant.StateVerified)

	// Журнал выдачи: аварийное завершение после этой точки оставит
	// запись GRANT_ABORTED при следующем запуске
	entry := &journal.Entry{
		GrantID:            a.record.GrantID,
		DocumentID:         req.DocumentID,
		RequestorIdentity:  req.Requestor.Identity,
		RequestorIssuer:    req.Requestor.Issuer,
		RequestorClearance: int(req.Requestor.Clearance),
		Nonce:              req.Nonce,
		RequestTimestamp:   a.record.RequestTimestamp,
	}
	if err := s.journal.Begin(entry); err != nil {
		return nil, s.deny(ctx, a, model.DenialStorageUnavailable, storageError("журнал выдачи", err))
	}
	a.journaled = true

	// 2. Decrypt
	plaintext, reason, cause := s.decrypt(ctx, doc)
	if reason != "" {
		if reason == model.DenialIntegrityMismatch {
			s.alert("integrity_mismatch", a, cause)
		}
		return nil, s.deny(ctx, a, reason, cause)
	}
	defer seal.Zeroize(plaintext)
	s.advance(a, grant.StateDecrypted)

	// 3–4. Stamp + ReEncrypt
	copyID := uuid.NewString()
	mark := watermark.Mark{
		DocumentID: doc.ID,
		Requestor:  req.Requestor.Identity,
		AccessedAt: s.now(),
	}
	var sealed *seal.SealedCopy
	var copyHash string
	err := s.cryptoPool.Do(ctx, func() error {
		stamped := watermark.Stamp(plaintext, mark)
		defer seal.Zeroize(stamped)
		copyHash = seal.ContentHash(stamped)
		s.advance(a, grant.StateStamped)

		var err error
		sealed, err = seal.SealForRecipient(stamped, req.EphemeralPublicKey)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, s.deny(ctx, a, model.DenialRequestCancelled, nil)
		}
		return nil, s.deny(ctx, a, model.DenialGrantAborted, fmt.Errorf("шифрование копии: %w", err))
	}
	s.advance(a, grant.StateReEncrypted)

	// Отмена возможна только до записи в журнал доступа
	if ctx.Err() != nil {
		return nil, s.deny(ctx, a, model.DenialRequestCancelled, nil)
	}

	// 5. Log
	a.record.Granted = true
	a.record.CopyID = copyID
	a.record.CopyHash = copyHash
	if err := s.store.AccessLog().Append(context.WithoutCancel(ctx), a.record); err != nil {
		s.alert("audit_log_failure", a, err)
		return nil, s.deny(ctx, a, model.DenialGrantAborted, fmt.Errorf("%w: %v", ErrAuditLogFailure, err))
	}
	s.advance(a, grant.StateLogged)

	if err := s.journal.MarkLogged(a.record.GrantID); err != nil {
		// Восстановление распознает выдачу по конфликту grant_id
		s.logger.Warn("Не удалось завершить запись журнала выдачи",
			slog.String("grant_id", a.record.GrantID),
			slog.String("error", err.Error()),
		)
	}

	// 6. Deliver
	s.events.Emit(events.GrantLogged{
		GrantID:           a.record.GrantID,
		CopyID:            copyID,
		DocumentID:        doc.ID,
		RequestorIdentity: req.Requestor.Identity,
		RequestorIssuer:   req.Requestor.Issuer,
		CopyHash:          copyHash,
		LoggedAt:          a.record.CreatedAt,
	})
	s.advance(a, grant.StateDelivered)

	accessRequestsTotal.WithLabelValues("granted", "").Inc()
	s.logger.Info("Доступ выдан",
		slog.String("grant_id", a.record.GrantID),
		slog.String("copy_id", copyID),
		slog.String("document_id", doc.ID),
		slog.String("requestor", req.Requestor.Identity),
		slog.String("issuer", req.Requestor.Issuer),
	)

	return &AccessResult{
		GrantID:         a.record.GrantID,
		CopyID:          copyID,
		Ciphertext:      sealed.Ciphertext,
		Nonce:           sealed.Nonce,
		ServerPublicKey: sealed.ServerPublicKey,
	}, nil
}

// verify выполняет проверки шага Verify в фиксированном порядке.
// Возвращает документ или причину отказа; cause задан для отказов,
// вызванных сбоем инфраструктуры.
func (s *AccessService) verify(ctx context.Context, req AccessRequest) (*model.Document, model.DenialReason, error) {
	if ctx.Err() != nil {
		return nil, model.DenialRequestCancelled, nil
	}

	doc, err := loadDocument(ctx, s.store, req.DocumentID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, model.DenialDocumentNotFound, nil
	case err != nil:
		if ctx.Err() != nil {
			return nil, model.DenialRequestCancelled, nil
		}
		return nil, model.DenialStorageUnavailable, err
	case doc.IsDeleted():
		return nil, model.DenialDocumentNotFound, nil
	}

	// a. Точное членство, фильтр Блума здесь не используется
	if !doc.IsReleasableTo(req.Requestor.Issuer) {
		return nil, model.DenialReleasability, nil
	}

	// b. Допуск
	if !classification.MeetsRequirement(req.Requestor.Clearance, doc.ClassificationLevel) {
		return nil, model.DenialClearance, nil
	}

	if doc.IsExpired(s.now()) {
		return nil, model.DenialDocumentExpired, nil
	}

	// c. Отзыв удостоверения: запрос к оракулу на каждый вызов, без кэша
	if reason := s.checkRevocation(ctx, req.Requestor); reason != "" {
		return nil, reason, nil
	}

	// d. Подпись, свежесть, nonce
	if reason, cause := s.checkSignature(ctx, req); reason != "" {
		return nil, reason, cause
	}

	return doc, "", nil
}

// checkRevocation опрашивает оракул отзыва. Сбой оракула — отказ (fail-closed).
func (s *AccessService) checkRevocation(ctx context.Context, requestor Actor) model.DenialReason {
	var revoked bool
	err := s.oraclePool.Do(ctx, func() error {
		var err error
		revoked, err = s.revocation.IsRevoked(ctx, requestor.Identity, requestor.Issuer)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return model.DenialRequestCancelled
		}
		s.logger.Warn("Проверка отзыва не удалась, доступ запрещён",
			slog.String("requestor", requestor.Identity),
			slog.String("issuer", requestor.Issuer),
			slog.String("error", err.Error()),
		)
		return model.DenialRevocationCheckFailed
	}
	if revoked {
		return model.DenialCredentialRevoked
	}
	return ""
}

// checkSignature проверяет подпись кортежа запроса ключом подписи субъекта,
// затем свежесть метки времени, затем уникальность nonce. Nonce запоминается
// только для запросов с верной подписью.
func (s *AccessService) checkSignature(ctx context.Context, req AccessRequest) (model.DenialReason, error) {
	if err := seal.ValidatePublicKey(req.EphemeralPublicKey); err != nil {
		return model.DenialInvalidSignature, nil
	}
	if req.Nonce == "" {
		return model.DenialInvalidSignature, nil
	}

	pub, err := s.store.SigningKeys().Get(ctx, req.Requestor.Identity)
	if errors.Is(err, repository.ErrNotFound) {
		return model.DenialInvalidSignature, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return model.DenialRequestCancelled, nil
		}
		return model.DenialStorageUnavailable, storageError("чтение ключа подписи", err)
	}

	msg := seal.CanonicalAccessRequest(req.DocumentID, req.EphemeralPublicKey, req.Timestamp, req.Nonce)
	if !seal.VerifyAccessRequest(pub, msg, req.Signature) {
		return model.DenialInvalidSignature, nil
	}

	skew := s.now().Sub(req.Timestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew > s.freshness {
		return model.DenialReplayDetected, nil
	}

	fresh, err := s.replay.Remember(ctx, req.Requestor.Identity, req.Nonce)
	if err != nil {
		if ctx.Err() != nil {
			return model.DenialRequestCancelled, nil
		}
		s.logger.Warn("Проверка nonce не удалась, доступ запрещён",
			slog.String("requestor", req.Requestor.Identity),
			slog.String("error", err.Error()),
		)
		return model.DenialReplayDetected, nil
	}
	if !fresh {
		return model.DenialReplayDetected, nil
	}
	return "", nil
}

// decrypt расшифровывает оригинал и сверяет его хэш. Вызывающий обязан
// обнулить возвращённый открытый текст.
func (s *AccessService) decrypt(ctx context.Context, doc *model.Document) ([]byte, model.DenialReason, error) {
	var (
		plaintext []byte
		reason    model.DenialReason
		cause     error
	)

	err := s.cryptoPool.Do(ctx, func() error {
		key, err := s.keys.Get(ctx, doc.EncryptionKeyRef)
		if err != nil {
			reason, cause = model.DenialKeyUnavailable, fmt.Errorf("%w: %v", ErrEncryptionKeyUnavailable, err)
			return nil
		}
		defer seal.Zeroize(key)

		blob, err := s.blobs.Get(ctx, doc.BlobRef)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				reason = model.DenialRequestCancelled
			case errors.Is(err, blobstore.ErrCorrupted):
				reason, cause = model.DenialIntegrityMismatch, fmt.Errorf("%w: %v", ErrIntegrityMismatch, err)
			default:
				reason, cause = model.DenialStorageUnavailable, storageError("чтение blob", err)
			}
			return nil
		}

		pt, err := seal.OpenAtRest(key, blob, []byte(doc.ID))
		if err != nil {
			reason, cause = model.DenialIntegrityMismatch, fmt.Errorf("%w: %v", ErrIntegrityMismatch, err)
			return nil
		}
		if seal.ContentHash(pt) != doc.OriginalContentHash {
			seal.Zeroize(pt)
			reason, cause = model.DenialIntegrityMismatch, fmt.Errorf("%w: хэш не совпадает", ErrIntegrityMismatch)
			return nil
		}
		plaintext = pt
		return nil
	})
	if err != nil {
		return nil, model.DenialRequestCancelled, nil
	}
	return plaintext, reason, cause
}

// deny переводит попытку в Denied и записывает отказ в журнал доступа.
// Запись выполняется с контекстом без отмены: отменённый запрос тоже
// должен оставить след.
func (s *AccessService) deny(ctx context.Context, a *attempt, reason model.DenialReason, cause error) error {
	if err := a.machine.Deny(); err != nil {
		s.logger.Error("Недопустимый отказ после записи выдачи",
			slog.String("grant_id", a.record.GrantID),
			slog.String("error", err.Error()),
		)
	}

	a.record.Granted = false
	a.record.DenialReason = reason
	a.record.CopyID = ""
	a.record.CopyHash = ""

	if err := s.store.AccessLog().Append(context.WithoutCancel(ctx), a.record); err != nil {
		s.alert("audit_log_failure", a, err)
		// Незавершённая запись журнала выдачи будет записана как GRANT_ABORTED
		// при следующем запуске
		accessRequestsTotal.WithLabelValues("audit_failure", string(reason)).Inc()
		return fmt.Errorf("%w: %v", ErrAuditLogFailure, err)
	}

	if a.journaled {
		if err := s.journal.MarkAborted(a.record.GrantID); err != nil {
			s.logger.Warn("Не удалось завершить запись журнала выдачи",
				slog.String("grant_id", a.record.GrantID),
				slog.String("error", err.Error()),
			)
		}
	}

	accessRequestsTotal.WithLabelValues("denied", string(reason)).Inc()
	s.logger.Warn("Доступ запрещён",
		slog.String("grant_id", a.record.GrantID),
		slog.String("document_id", a.record.DocumentID),
		slog.String("requestor", a.record.RequestorIdentity),
		slog.String("issuer", a.record.RequestorIssuer),
		slog.String("reason", string(reason)),
	)

	if cause != nil {
		return cause
	}
	return &DenialError{Reason: reason, GrantID: a.record.GrantID}
}

// advance выполняет переход автомата. Порядок шагов RequestAccess
// соответствует матрице переходов, ошибка здесь означает дефект кода.
func (s *AccessService) advance(a *attempt, to grant.State) {
	if err := a.machine.TransitionTo(to); err != nil {
		s.logger.Error("Ошибка перехода состояния выдачи",
			slog.String("grant_id", a.record.GrantID),
			slog.String("error", err.Error()),
		)
	}
}

// alert фиксирует фатальное событие для оператора.
func (s *AccessService) alert(kind string, a *attempt, err error) {
	alertsTotal.WithLabelValues(kind).Inc()
	s.logger.Error("Фатальная ошибка выдачи доступа",
		slog.Bool("alert", true),
		slog.String("kind", kind),
		slog.String("grant_id", a.record.GrantID),
		slog.String("document_id", a.record.DocumentID),
		slog.String("requestor", a.record.RequestorIdentity),
		slog.String("error", fmt.Sprint(err)),
	)
}

// ListGrants возвращает записи журнала доступа документа в порядке записи.
// Требует допуск не ниже грифа документа.
func (s *AccessService) ListGrants(ctx context.Context, actor Actor, documentID string, limit, offset int) ([]*model.AccessGrant, error) {
	doc, err := loadDocument(ctx, s.store, documentID)
	if err != nil {
		return nil, err
	}
	if !classification.MeetsRequirement(actor.Clearance, doc.ClassificationLevel) {
		return nil, fmt.Errorf("%w: допуск %s, гриф %s", ErrInsufficientClearance, actor.Clearance, doc.ClassificationLevel)
	}

	if limit <= 0 {
		limit = defaultGrantsLimit
	}
	if limit > maxGrantsLimit {
		limit = maxGrantsLimit
	}
	if offset < 0 {
		offset = 0
	}

	grants, err := s.store.AccessLog().ListByDocument(ctx, documentID, limit, offset)
	if err != nil {
		return nil, storageError("чтение журнала доступа", err)
	}
	return grants, nil
}

// RegisterSigningKey регистрирует публичный ключ подписи вызывающего.
// Повторная регистрация заменяет ключ.
func (s *AccessService) RegisterSigningKey(ctx context.Context, actor Actor, publicKey []byte) error {
	if len(publicKey) != seal.SigningPublicKeySize {
		return fmt.Errorf("%w: ключ подписи должен быть %d байт", ErrValidation, seal.SigningPublicKeySize)
	}
	if actor.Identity == "" {
		return fmt.Errorf("%w: пустой идентификатор субъекта", ErrValidation)
	}
	if err := s.store.SigningKeys().Upsert(ctx, actor.Identity, publicKey); err != nil {
		return storageError("регистрация ключа подписи", err)
	}

	s.logger.Info("Ключ подписи зарегистрирован",
		slog.String("requestor", actor.Identity),
	)
	return nil
}
