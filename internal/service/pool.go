// pool.go — ограниченные пулы исполнения для криптографии и вызовов оракула.
package service

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

var poolInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "ae_worker_pool_in_flight",
	Help: "Количество задач, выполняемых в пуле (по имени пула).",
}, []string{"pool"})

// WorkerPool ограничивает число одновременно выполняемых задач.
// Задача выполняется в горутине вызывающего после получения слота.
type WorkerPool struct {
	name string
	sem  *semaphore.Weighted
}

// NewWorkerPool создаёт пул на size слотов (минимум один).
func NewWorkerPool(name string, size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{name: name, sem: semaphore.NewWeighted(int64(size))}
}

// Do ждёт свободный слот и выполняет fn. Если ctx отменён до получения
// слота, fn не вызывается и возвращается ctx.Err().
func (p *WorkerPool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	g := poolInFlight.WithLabelValues(p.name)
	g.Inc()
	defer g.Dec()

	return fn()
}
