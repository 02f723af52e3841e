// Пакет keystore — хранилище симметричных ключей документов.
//
// Один активный ключ на пару (scope, уровень грифа). Ключи хранятся
// обёрнутыми мастер-ключом (AES-256-GCM, AAD — ID ключа), расшифрованные
// ключи кэшируются в LRU с TTL и затираются при вытеснении.
// Вызывающий получает копию ключа и обязан затереть её после использования.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/access-engine/internal/domain/classification"
	"github.com/bigkaa/goartstore/access-engine/internal/domain/model"
	"github.com/bigkaa/goartstore/access-engine/internal/repository"
	"github.com/bigkaa/goartstore/access-engine/internal/seal"
)

// ErrKeyUnavailable — ключ не удалось получить, создать или расшифровать.
var ErrKeyUnavailable = errors.New("ключ шифрования недоступен")

var (
	keysCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ae_keys_created_total",
		Help: "Количество созданных ключей шифрования (включая ротацию).",
	})
	keyCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ae_key_cache_hits_total",
		Help: "Попадания в кэш расшифрованных ключей.",
	})
	keyCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ae_key_cache_misses_total",
		Help: "Промахи кэша расшифрованных ключей.",
	})
)

// cachedKey — расшифрованный ключ в кэше. Вытеснение затирает материал
// под mu, поэтому копия снимается только с незатёртого ключа.
type cachedKey struct {
	mu     sync.Mutex
	key    []byte
	zeroed bool
}

// copyKey возвращает копию ключа или false, если запись уже затёрта.
func (c *cachedKey) copyKey() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.zeroed {
		return nil, false
	}
	return slices.Clone(c.key), true
}

// zeroize затирает ключ. Вызывается при вытеснении из кэша.
func (c *cachedKey) zeroize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	seal.Zeroize(c.key)
	c.zeroed = true
}

// KeyStore — get-or-create ключей с блокировкой на пару (scope, уровень).
type KeyStore struct {
	store     repository.Store
	masterKey []byte
	cache     *expirable.LRU[string, *cachedKey]
	logger    *slog.Logger

	// locksMu защищает locks
	locksMu sync.Mutex
	locks   map[classification.ScopeKey]*sync.Mutex

	now func() time.Time
}

// New создаёт KeyStore. masterKey — 32 байта, cacheSize — максимум
// расшифрованных ключей в памяти, cacheTTL — время жизни записи кэша.
func New(store repository.Store, masterKey []byte, cacheSize int, cacheTTL time.Duration, logger *slog.Logger) (*KeyStore, error) {
	if len(masterKey) != seal.KeySize {
		return nil, fmt.Errorf("мастер-ключ должен быть %d байт, получено %d", seal.KeySize, len(masterKey))
	}
	onEvict := func(_ string, entry *cachedKey) { entry.zeroize() }

	return &KeyStore{
		store:     store,
		masterKey: slices.Clone(masterKey),
		cache:     expirable.NewLRU[string, *cachedKey](cacheSize, onEvict, cacheTTL),
		logger:    logger.With(slog.String("component", "keystore")),
		locks:     make(map[classification.ScopeKey]*sync.Mutex),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// GetOrCreateActive возвращает ссылку на активный ключ пары и копию ключа.
// Если активного ключа нет, создаёт его. Конкурентные вызовы для одной пары
// получают один и тот же ключ.
func (ks *KeyStore) GetOrCreateActive(ctx context.Context, sk classification.ScopeKey) (string, []byte, error) {
	ref, key, err := ks.active(ctx, sk)
	if err == nil {
		return ref, key, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return "", nil, fmt.Errorf("%w: %s: %v", ErrKeyUnavailable, sk, err)
	}

	lock := ks.lockFor(sk)
	lock.Lock()
	defer lock.Unlock()

	// Ключ мог быть создан, пока ждали блокировку
	ref, key, err = ks.active(ctx, sk)
	if err == nil {
		return ref, key, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return "", nil, fmt.Errorf("%w: %s: %v", ErrKeyUnavailable, sk, err)
	}

	ref, key, err = ks.create(ctx, ks.store, sk)
	if errors.Is(err, repository.ErrConflict) {
		// Другой экземпляр сервиса успел создать ключ — используем его
		ref, key, err = ks.active(ctx, sk)
	}
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %v", ErrKeyUnavailable, sk, err)
	}
	return ref, key, nil
}

// Get возвращает копию ключа по ссылке (активного или ротированного).
func (ks *KeyStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if key, ok := ks.cached(ref); ok {
		return key, nil
	}

	k, err := ks.store.Keys().GetByID(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: ключ %s: %v", ErrKeyUnavailable, ref, err)
	}
	key, err := ks.unwrap(k)
	if err != nil {
		return nil, err
	}
	return key, nil
}

// Rotate деактивирует текущий активный ключ пары и создаёт новый
// в одной транзакции. Старый ключ остаётся доступным через Get.
func (ks *KeyStore) Rotate(ctx context.Context, sk classification.ScopeKey) (string, error) {
	lock := ks.lockFor(sk)
	lock.Lock()
	defer lock.Unlock()

	var (
		ref    string
		oldRef string
	)
	err := ks.store.RunInTx(ctx, func(tx repository.Store) error {
		current, err := tx.Keys().GetActive(ctx, sk.Scope, sk.Level)
		switch {
		case err == nil:
			oldRef = current.ID
			if err := tx.Keys().Deactivate(ctx, current.ID, ks.now()); err != nil {
				return err
			}
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		newRef, key, err := ks.create(ctx, tx, sk)
		if err != nil {
			return err
		}
		seal.Zeroize(key)
		ref = newRef
		return nil
	})
	if err != nil {
		ks.cache.Remove(ref)
		return "", fmt.Errorf("%w: ротация %s: %v", ErrKeyUnavailable, sk, err)
	}

	ks.logger.Info("Ключ ротирован",
		slog.String("scope_key", sk.String()),
		slog.String("old_key_id", oldRef),
		slog.String("key_id", ref),
	)
	return ref, nil
}

// active читает и расшифровывает активный ключ пары.
func (ks *KeyStore) active(ctx context.Context, sk classification.ScopeKey) (string, []byte, error) {
	k, err := ks.store.Keys().GetActive(ctx, sk.Scope, sk.Level)
	if err != nil {
		return "", nil, err
	}
	if key, ok := ks.cached(k.ID); ok {
		return k.ID, key, nil
	}
	key, err := ks.unwrap(k)
	if err != nil {
		return "", nil, err
	}
	return k.ID, key, nil
}

// create генерирует, оборачивает и сохраняет новый активный ключ.
func (ks *KeyStore) create(ctx context.Context, store repository.Store, sk classification.ScopeKey) (string, []byte, error) {
	key, err := seal.GenerateKey()
	if err != nil {
		return "", nil, err
	}

	id := uuid.NewString()
	wrapped, err := seal.SealAtRest(ks.masterKey, key, []byte(id))
	if err != nil {
		seal.Zeroize(key)
		return "", nil, fmt.Errorf("ошибка обёртки ключа: %w", err)
	}

	rec := &model.EncryptionKey{
		ID:         id,
		Scope:      sk.Scope,
		Level:      sk.Level,
		WrappedKey: wrapped,
		Active:     true,
		CreatedAt:  ks.now(),
	}
	if err := store.Keys().Create(ctx, rec); err != nil {
		seal.Zeroize(key)
		return "", nil, err
	}

	keysCreatedTotal.Inc()
	ks.cache.Add(id, &cachedKey{key: slices.Clone(key)})
	ks.logger.Info("Создан ключ шифрования",
		slog.String("scope_key", sk.String()),
		slog.String("key_id", id),
	)
	return id, key, nil
}

// unwrap расшифровывает ключ мастер-ключом и кладёт его в кэш.
func (ks *KeyStore) unwrap(k *model.EncryptionKey) ([]byte, error) {
	key, err := seal.OpenAtRest(ks.masterKey, k.WrappedKey, []byte(k.ID))
	if err != nil {
		return nil, fmt.Errorf("%w: ключ %s не расшифрован: %v", ErrKeyUnavailable, k.ID, err)
	}
	if _, ok := ks.cache.Peek(k.ID); !ok {
		ks.cache.Add(k.ID, &cachedKey{key: slices.Clone(key)})
	}
	return key, nil
}

// cached возвращает копию ключа из кэша. Запись, затёртая вытеснением
// между Get и копированием, считается промахом.
func (ks *KeyStore) cached(ref string) ([]byte, bool) {
	if entry, ok := ks.cache.Get(ref); ok {
		if key, ok := entry.copyKey(); ok {
			keyCacheHitsTotal.Inc()
			return key, true
		}
	}
	keyCacheMissesTotal.Inc()
	return nil, false
}

// lockFor возвращает мьютекс пары (scope, уровень).
func (ks *KeyStore) lockFor(sk classification.ScopeKey) *sync.Mutex {
	ks.locksMu.Lock()
	defer ks.locksMu.Unlock()

	m, ok := ks.locks[sk]
	if !ok {
		m = &sync.Mutex{}
		ks.locks[sk] = m
	}
	return m
}

// Purge затирает и удаляет все расшифрованные ключи из кэша.
// Вызывается при остановке сервиса.
func (ks *KeyStore) Purge() {
	ks.cache.Purge()
}
