package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Journal — файловый журнал выдач.
type Journal struct {
	// dir — директория хранения (AE_JOURNAL_DIR)
	dir string
	// mu — мьютекс для потокобезопасности
	mu sync.Mutex
	// logger — логгер
	logger *slog.Logger
}

// New создаёт журнал. Проверяет и создаёт директорию,
// проверяет её доступность на запись.
func New(dir string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию журнала %s: %w", dir, err)
	}

	testFile := filepath.Join(dir, ".journal_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория журнала %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	return &Journal{
		dir:    dir,
		logger: logger.With(slog.String("component", "grant_journal")),
	}, nil
}

// Begin сохраняет запись со статусом pending.
// GrantID должен быть UUID. Запись сохраняется атомарно: temp файл → fsync → rename.
func (j *Journal) Begin(entry *Entry) error {
	if _, err := uuid.Parse(entry.GrantID); err != nil {
		return fmt.Errorf("некорректный grant_id %q: %w", entry.GrantID, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entry.Status = StatusPending
	entry.StartedAt = time.Now().UTC()
	entry.CompletedAt = nil

	if err := j.writeEntry(entry); err != nil {
		return fmt.Errorf("не удалось создать запись журнала: %w", err)
	}

	j.logger.Debug("Выдача начата",
		slog.String("grant_id", entry.GrantID),
		slog.String("document_id", entry.DocumentID),
	)
	return nil
}

// MarkLogged помечает выдачу как записанную в журнал доступа.
func (j *Journal) MarkLogged(grantID string) error {
	return j.complete(grantID, StatusLogged)
}

// MarkAborted помечает выдачу как прерванную.
func (j *Journal) MarkAborted(grantID string) error {
	return j.complete(grantID, StatusAborted)
}

// complete переводит pending-запись в конечный статус.
func (j *Journal) complete(grantID string, status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry, err := j.readEntry(grantID)
	if err != nil {
		return fmt.Errorf("не удалось прочитать запись журнала %s: %w", grantID, err)
	}

	if entry.Status != StatusPending {
		return fmt.Errorf("запись журнала %s имеет статус %s, ожидается %s", grantID, entry.Status, StatusPending)
	}

	now := time.Now().UTC()
	entry.Status = status
	entry.CompletedAt = &now

	if err := j.writeEntry(entry); err != nil {
		return fmt.Errorf("не удалось обновить запись журнала %s: %w", grantID, err)
	}

	j.logger.Debug("Выдача завершена",
		slog.String("grant_id", grantID),
		slog.String("status", string(status)),
		slog.Duration("duration", now.Sub(entry.StartedAt)),
	)
	return nil
}

// RecoverPending возвращает все записи со статусом pending.
// Вызывается при старте сервиса.
func (j *Journal) RecoverPending() ([]*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(j.dir, "*.grant.json"))
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию журнала: %w", err)
	}

	var pending []*Entry
	for _, path := range paths {
		grantID := strings.TrimSuffix(filepath.Base(path), ".grant.json")
		entry, err := j.readEntry(grantID)
		if err != nil {
			j.logger.Warn("Не удалось прочитать запись журнала при восстановлении",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}

		if entry.Status == StatusPending {
			pending = append(pending, entry)
			j.logger.Warn("Обнаружена незавершённая выдача",
				slog.String("grant_id", entry.GrantID),
				slog.String("document_id", entry.DocumentID),
				slog.Time("started_at", entry.StartedAt),
			)
		}
	}

	return pending, nil
}

// Get читает запись журнала.
func (j *Journal) Get(grantID string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readEntry(grantID)
}

// CleanCompleted удаляет записи со статусами logged и aborted.
func (j *Journal) CleanCompleted() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(j.dir, "*.grant.json"))
	if err != nil {
		return 0, fmt.Errorf("не удалось сканировать директорию журнала: %w", err)
	}

	cleaned := 0
	for _, path := range paths {
		grantID := strings.TrimSuffix(filepath.Base(path), ".grant.json")
		entry, err := j.readEntry(grantID)
		if err != nil {
			continue
		}
		if entry.Status == StatusPending {
			continue
		}
		if err := os.Remove(path); err != nil {
			j.logger.Warn("Не удалось удалить завершённую запись журнала",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		j.logger.Info("Очистка журнала выдач завершена", slog.Int("cleaned", cleaned))
	}
	return cleaned, nil
}

// Dir возвращает путь к директории журнала.
func (j *Journal) Dir() string {
	return j.dir
}

// writeEntry атомарно записывает запись на диск.
// Паттерн: temp файл → fsync → atomic rename.
func (j *Journal) writeEntry(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	targetPath := filepath.Join(j.dir, journalFileName(entry.GrantID))
	tmpPath := targetPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// readEntry читает запись из файла.
func (j *Journal) readEntry(grantID string) (*Entry, error) {
	if _, err := uuid.Parse(grantID); err != nil {
		return nil, fmt.Errorf("некорректный grant_id %q", grantID)
	}

	data, err := os.ReadFile(filepath.Join(j.dir, journalFileName(grantID)))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("ошибка десериализации: %w", err)
	}
	return &entry, nil
}
