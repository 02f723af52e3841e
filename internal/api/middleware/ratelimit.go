// ratelimit.go — ограничение частоты запросов доступа на субъекта.
// Token bucket (x/time/rate) на каждого аутентифицированного субъекта;
// таблица ограничителей — LRU фиксированного размера.
package middleware

import (
	"log/slog"
	"net/http"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	apierrors "github.com/bigkaa/goartstore/access-engine/internal/api/errors"
)

// rateLimitedTotal — запросы, отклонённые ограничителем.
var rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ae_rate_limited_requests_total",
	Help: "Количество запросов доступа, отклонённых по лимиту частоты",
})

// defaultLimiterTableSize — число субъектов, для которых хранится состояние.
const defaultLimiterTableSize = 10000

// RateLimiter — ограничитель частоты запросов на субъекта.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	logger *slog.Logger

	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
}

// NewRateLimiter создаёт ограничитель: rps запросов в секунду, всплеск burst.
// rps <= 0 отключает ограничение.
func NewRateLimiter(rps float64, burst int, logger *slog.Logger) (*RateLimiter, error) {
	if burst < 1 {
		burst = 1
	}
	cache, err := lru.New[string, *rate.Limiter](defaultLimiterTableSize)
	if err != nil {
		return nil, err
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &RateLimiter{
		limit:    limit,
		burst:    burst,
		logger:   logger.With(slog.String("component", "rate_limiter")),
		limiters: cache,
	}, nil
}

// Allow расходует один токен субъекта.
func (rl *RateLimiter) Allow(subject string) bool {
	rl.mu.Lock()
	l, ok := rl.limiters.Get(subject)
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters.Add(subject, l)
	}
	rl.mu.Unlock()
	return l.Allow()
}

// Middleware возвращает HTTP middleware ограничения частоты.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware(); без субъекта
// ключом служит remote_addr.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := SubjectFromContext(r.Context())
			if key == "" {
				key = "addr:" + r.RemoteAddr
			}
			if !rl.Allow(key) {
				rateLimitedTotal.Inc()
				rl.logger.Warn("Превышен лимит запросов доступа",
					slog.String("subject", key),
				)
				w.Header().Set("Retry-After", "1")
				apierrors.RateLimited(w, "Превышен лимит запросов доступа")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
