// recovery.go — восстановление журнала выдач после аварийного завершения
// и периодическая очистка завершённых записей.
//
// При старте каждая незавершённая выдача записывается в журнал доступа
// как отказ GRANT_ABORTED. Если запись с тем же grant_id уже существует,
// выдача была записана до сбоя, и запись журнала выдач помечается logged.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/access-engine/internal/domain/classification"
	"github.com/bigkaa/goartstore/access-engine/internal/domain/model"
	"github.com/bigkaa/goartstore/access-engine/internal/repository"
	"github.com/bigkaa/goartstore/access-engine/internal/storage/journal"
)

var recoveredGrantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ae_journal_recovered_grants_total",
	Help: "Незавершённые выдачи, обработанные при восстановлении (по результату).",
}, []string{"result"})

// RecoveryResult — итог восстановления журнала выдач.
type RecoveryResult struct {
	// Aborted — записано отказов GRANT_ABORTED
	Aborted int
	// AlreadyLogged — выдачи, уже записанные в журнал доступа
	AlreadyLogged int
	// Errors — записи, которые не удалось обработать (останутся pending)
	Errors int
}

// JournalRecovery — восстановление и очистка журнала выдач.
type JournalRecovery struct {
	journal  *journal.Journal
	store    repository.Store
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJournalRecovery создаёт сервис восстановления журнала выдач.
func NewJournalRecovery(j *journal.Journal, store repository.Store, interval time.Duration, logger *slog.Logger) *JournalRecovery {
	return &JournalRecovery{
		journal:  j,
		store:    store,
		interval: interval,
		logger:   logger.With(slog.String("component", "journal_recovery")),
	}
}

// Recover обрабатывает незавершённые выдачи. Вызывается при старте
// до приёма HTTP-запросов.
func (r *JournalRecovery) Recover(ctx context.Context) (*RecoveryResult, error) {
	pending, err := r.journal.RecoverPending()
	if err != nil {
		return nil, err
	}

	result := &RecoveryResult{}
	for _, entry := range pending {
		rec := &model.AccessGrant{
			GrantID:            entry.GrantID,
			DocumentID:         entry.DocumentID,
			RequestorIdentity:  entry.RequestorIdentity,
			RequestorIssuer:    entry.RequestorIssuer,
			RequestorClearance: classification.Level(entry.RequestorClearance),
			RequestTimestamp:   entry.RequestTimestamp,
			Nonce:              entry.Nonce,
			Granted:            false,
			DenialReason:       model.DenialGrantAborted,
		}

		err := r.store.AccessLog().Append(ctx, rec)
		switch {
		case err == nil:
			if mErr := r.journal.MarkAborted(entry.GrantID); mErr != nil {
				r.logger.Warn("Не удалось завершить запись журнала выдачи",
					slog.String("grant_id", entry.GrantID),
					slog.String("error", mErr.Error()),
				)
			}
			result.Aborted++
			recoveredGrantsTotal.WithLabelValues("aborted").Inc()
			r.logger.Warn("Незавершённая выдача записана как GRANT_ABORTED",
				slog.String("grant_id", entry.GrantID),
				slog.String("document_id", entry.DocumentID),
				slog.String("requestor", entry.RequestorIdentity),
			)
		case errors.Is(err, repository.ErrConflict):
			if mErr := r.journal.MarkLogged(entry.GrantID); mErr != nil {
				r.logger.Warn("Не удалось завершить запись журнала выдачи",
					slog.String("grant_id", entry.GrantID),
					slog.String("error", mErr.Error()),
				)
			}
			result.AlreadyLogged++
			recoveredGrantsTotal.WithLabelValues("already_logged").Inc()
		default:
			result.Errors++
			recoveredGrantsTotal.WithLabelValues("error").Inc()
			r.logger.Error("Не удалось записать незавершённую выдачу в журнал доступа",
				slog.Bool("alert", true),
				slog.String("grant_id", entry.GrantID),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(pending) > 0 {
		r.logger.Info("Восстановление журнала выдач завершено",
			slog.Int("aborted", result.Aborted),
			slog.Int("already_logged", result.AlreadyLogged),
			slog.Int("errors", result.Errors),
		)
	}

	if _, err := r.journal.CleanCompleted(); err != nil {
		r.logger.Warn("Очистка журнала выдач не удалась", slog.String("error", err.Error()))
	}
	return result, nil
}

// Start запускает периодическую очистку завершённых записей.
func (r *JournalRecovery) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil || r.interval <= 0 {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(runCtx, r.done)

	r.logger.Info("Очистка журнала выдач запущена",
		slog.String("interval", r.interval.String()),
	)
}

// Stop останавливает фоновую очистку и дожидается её завершения.
func (r *JournalRecovery) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.logger.Info("Очистка журнала выдач остановлена")
}

func (r *JournalRecovery) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.journal.CleanCompleted(); err != nil {
				r.logger.Warn("Очистка журнала выдач не удалась", slog.String("error", err.Error()))
			}
		}
	}
}
