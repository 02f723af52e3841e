// Пакет replay — защита от повторного использования nonce подписанных запросов.
//
// Nonce запоминается на пару (запрашивающий, nonce) на время TTL.
// TTL должен быть не меньше удвоенного окна свежести запроса: запрос
// со старым nonce после истечения TTL отклоняется уже по метке времени.
package replay

import (
	"context"
	"errors"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var redisErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ae_replay_redis_errors_total",
	Help: "Проверки nonce, отклонённые из-за недоступности Redis.",
})

// ErrGuardFull — локальный guard заполнен nonce, которые ещё не истекли.
// Запрос отклоняется: вытеснение такого nonce открыло бы окно для повтора.
var ErrGuardFull = errors.New("хранилище nonce заполнено")

// Guard запоминает nonce. Remember возвращает true, если пара
// (requestor, nonce) встречается впервые.
type Guard interface {
	Remember(ctx context.Context, requestor, nonce string) (bool, error)
}

// nonceKey строит ключ пары без неоднозначности разделителей.
func nonceKey(requestor, nonce string) string {
	h := sha256.New()
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(requestor)))
	h.Write(n[:])
	h.Write([]byte(requestor))
	h.Write([]byte(nonce))
	return hex.EncodeToString(h.Sum(nil))
}

// --- In-memory ---

// MemoryGuard — локальный guard на expirable LRU без вытеснения по ёмкости.
// Запись живёт ровно TTL. Когда неистёкших записей size, новые nonce
// отклоняются с ErrGuardFull.
type MemoryGuard struct {
	mu    sync.Mutex
	size  int
	cache *expirable.LRU[string, struct{}]
}

// NewMemoryGuard создаёт guard ёмкостью size записей с временем жизни ttl.
func NewMemoryGuard(size int, ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{
		size: size,
		// Размер 0 отключает вытеснение по ёмкости, записи удаляются только по TTL
		cache: expirable.NewLRU[string, struct{}](0, nil, ttl),
	}
}

// Remember реализует Guard.
func (g *MemoryGuard) Remember(_ context.Context, requestor, nonce string) (bool, error) {
	key := nonceKey(requestor, nonce)

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.cache.Get(key); ok {
		return false, nil
	}
	if g.cache.Len() >= g.size {
		return false, ErrGuardFull
	}
	g.cache.Add(key, struct{}{})
	return true, nil
}

// --- Redis ---

// RedisGuard — общий для всех экземпляров guard на Redis (SET NX с TTL).
// Ошибка Redis возвращается вызывающему: nonce, записанный другим
// экземпляром, локально неизвестен, и проверить его без Redis нельзя.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisGuard создаёт guard поверх клиента Redis.
func NewRedisGuard(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisGuard {
	return &RedisGuard{
		client: client,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "replay_guard")),
	}
}

// Remember реализует Guard.
func (g *RedisGuard) Remember(ctx context.Context, requestor, nonce string) (bool, error) {
	key := "ae:nonce:" + nonceKey(requestor, nonce)

	fresh, err := g.client.SetNX(ctx, key, "1", g.ttl).Result()
	if err == nil {
		return fresh, nil
	}
	if ctx.Err() != nil {
		return false, fmt.Errorf("проверка nonce прервана: %w", ctx.Err())
	}

	redisErrorsTotal.Inc()
	g.logger.Warn("Redis недоступен, запрос отклоняется",
		slog.String("error", err.Error()),
	)
	return false, fmt.Errorf("проверка nonce в Redis: %w", err)
}

// Ping проверяет доступность Redis.
func (g *RedisGuard) Ping(ctx context.Context) error {
	if err := g.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redis недоступен: %w", err)
	}
	return nil
}

// Close закрывает клиент Redis.
func (g *RedisGuard) Close() error {
	return g.client.Close()
}
