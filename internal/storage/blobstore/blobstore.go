// Пакет blobstore — контентно-адресуемое хранилище зашифрованных документов.
// Ссылка на blob — SHA-256 его содержимого (hex); повторная запись тех же байтов
// возвращает ту же ссылку. Blob-ы никогда не удаляются.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrNotFound — blob с указанной ссылкой отсутствует.
var ErrNotFound = errors.New("blob не найден")

// ErrInvalidRef — ссылка не является SHA-256 в hex.
var ErrInvalidRef = errors.New("некорректная ссылка на blob")

// ErrCorrupted — содержимое blob на диске не соответствует ссылке.
var ErrCorrupted = errors.New("blob повреждён: контрольная сумма не совпадает")

// FileStore — blob-хранилище на локальной файловой системе.
// Раскладка: {dataDir}/{ref[0:2]}/{ref}.
type FileStore struct {
	// dataDir — корневая директория хранения (AE_BLOB_DIR)
	dataDir string
}

// New создаёт FileStore. Создаёт директорию, если она не существует.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию blob-хранилища %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// Put сохраняет data и возвращает ссылку на содержимое.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// Если blob уже существует, запись пропускается.
func (fs *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	ref := hex.EncodeToString(sum[:])
	fullPath := fs.path(ref)

	if _, err := os.Stat(fullPath); err == nil {
		return ref, nil
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("ошибка создания директории: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(fullPath), ref+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарный rename
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return ref, nil
}

// Get читает blob по ссылке и проверяет, что содержимое соответствует ссылке.
func (fs *FileStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validRef(ref) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}

	f, err := os.Open(fs.path(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("ошибка открытия blob %s: %w", ref, err)
	}
	defer f.Close()

	hasher := sha256.New()
	data, err := io.ReadAll(io.TeeReader(f, hasher))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения blob %s: %w", ref, err)
	}

	if hex.EncodeToString(hasher.Sum(nil)) != ref {
		return nil, fmt.Errorf("%w: %s", ErrCorrupted, ref)
	}

	return data, nil
}

// Exists проверяет наличие blob.
func (fs *FileStore) Exists(ref string) bool {
	if !validRef(ref) {
		return false
	}
	_, err := os.Stat(fs.path(ref))
	return err == nil
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// path возвращает абсолютный путь blob на диске.
func (fs *FileStore) path(ref string) string {
	return filepath.Join(fs.dataDir, ref[:2], ref)
}

// validRef проверяет, что ссылка — 64 символа hex в нижнем регистре.
func validRef(ref string) bool {
	if len(ref) != sha256.Size*2 {
		return false
	}
	for _, c := range ref {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
