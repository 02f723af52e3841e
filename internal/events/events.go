// Пакет events — исходящие события движка.
//
// После записи AccessGrant (состояние Logged) сервис передаёт событие
// GrantLogged диспетчеру. Диспетчер асинхронно отправляет события
// публикатору (лог, Kafka, AMQP). Выдача копии никогда не ждёт публикации:
// при переполненной очереди событие отбрасывается с предупреждением.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ae_events_published_total",
		Help: "Количество отправленных исходящих событий.",
	}, []string{"sink", "result"})
	eventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ae_events_dropped_total",
		Help: "Количество событий, отброшенных из-за переполнения очереди.",
	})
)

// GrantLogged — событие о записанной выдаче доступа.
type GrantLogged struct {
	GrantID           string    `json:"grant_id"`
	CopyID            string    `json:"copy_id"`
	DocumentID        string    `json:"document_id"`
	RequestorIdentity string    `json:"requestor_identity"`
	RequestorIssuer   string    `json:"requestor_issuer"`
	CopyHash          string    `json:"copy_hash"`
	LoggedAt          time.Time `json:"logged_at"`
}

// Marshal сериализует событие в JSON.
func (e GrantLogged) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher — приёмник событий.
type Publisher interface {
	// Name возвращает имя приёмника для логов и метрик.
	Name() string
	// Publish отправляет событие.
	Publish(ctx context.Context, e GrantLogged) error
	// Close освобождает ресурсы приёмника.
	Close() error
}

// Dispatcher — очередь событий с одним фоновым отправителем.
type Dispatcher struct {
	pub     Publisher
	queue   chan GrantLogged
	timeout time.Duration
	logger  *slog.Logger

	// mu защищает closed и закрытие queue
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher создаёт диспетчер с очередью buffer событий.
// timeout ограничивает одну попытку публикации.
func NewDispatcher(pub Publisher, buffer int, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		pub:     pub,
		queue:   make(chan GrantLogged, buffer),
		timeout: timeout,
		logger:  logger.With(slog.String("component", "event_dispatcher"), slog.String("sink", pub.Name())),
		done:    make(chan struct{}),
	}
}

// Start запускает фоновый отправитель.
func (d *Dispatcher) Start() {
	go d.run()
	d.logger.Info("Диспетчер событий запущен", slog.Int("buffer", cap(d.queue)))
}

// Emit ставит событие в очередь без блокировки.
// Возвращает false, если событие отброшено.
func (d *Dispatcher) Emit(e GrantLogged) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		eventsDroppedTotal.Inc()
		d.logger.Warn("Событие отброшено: диспетчер остановлен", slog.String("grant_id", e.GrantID))
		return false
	}

	select {
	case d.queue <- e:
		return true
	default:
		eventsDroppedTotal.Inc()
		d.logger.Warn("Событие отброшено: очередь переполнена", slog.String("grant_id", e.GrantID))
		return false
	}
}

// Stop закрывает очередь и ждёт отправки оставшихся событий
// или отмены ctx. Публикатор закрывается после остановки отправителя.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		d.logger.Warn("Остановка диспетчера прервана, очередь не отправлена полностью",
			slog.Int("pending", len(d.queue)),
		)
		return ctx.Err()
	}

	if err := d.pub.Close(); err != nil {
		return err
	}
	d.logger.Info("Диспетчер событий остановлен")
	return nil
}

// run отправляет события до закрытия очереди.
func (d *Dispatcher) run() {
	defer close(d.done)

	for e := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.pub.Publish(ctx, e)
		cancel()

		if err != nil {
			eventsPublishedTotal.WithLabelValues(d.pub.Name(), "error").Inc()
			d.logger.Error("Ошибка публикации события",
				slog.String("grant_id", e.GrantID),
				slog.String("error", err.Error()),
			)
			continue
		}
		eventsPublishedTotal.WithLabelValues(d.pub.Name(), "ok").Inc()
	}
}

// LogPublisher — публикатор, записывающий события в лог.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher создаёт публикатор в лог.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With(slog.String("component", "grant_events"))}
}

// Name реализует Publisher.
func (p *LogPublisher) Name() string { return "log" }

// Publish реализует Publisher.
func (p *LogPublisher) Publish(_ context.Context, e GrantLogged) error {
	p.logger.Info("GrantLogged",
		slog.String("grant_id", e.GrantID),
		slog.String("copy_id", e.CopyID),
		slog.String("document_id", e.DocumentID),
		slog.String("requestor_identity", e.RequestorIdentity),
		slog.String("requestor_issuer", e.RequestorIssuer),
		slog.String("copy_hash", e.CopyHash),
		slog.Time("logged_at", e.LoggedAt),
	)
	return nil
}

// Close реализует Publisher.
func (p *LogPublisher) Close() error { return nil }
