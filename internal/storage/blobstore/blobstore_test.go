package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestNew_CreatesDirectory проверяет создание директории данных.
func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "blobs")

	fs, err := New(dir)
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	if fs.DataDir() != dir {
		t.Errorf("ожидался путь %s, получен %s", dir, fs.DataDir())
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("директория не создана: %v", err)
	}
}

// TestPutGet проверяет сохранение и чтение с адресацией по содержимому.
func TestPutGet(t *testing.T) {
	fs, _ := New(t.TempDir())
	ctx := context.Background()
	content := []byte("зашифрованный blob")

	ref, err := fs.Put(ctx, content)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	sum := sha256.Sum256(content)
	if ref != hex.EncodeToString(sum[:]) {
		t.Errorf("ссылка %s не равна SHA-256 содержимого", ref)
	}
	if !fs.Exists(ref) {
		t.Error("Exists: blob не найден")
	}

	got, err := fs.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("Get = %q, ожидается %q", got, content)
	}

	// Повторная запись того же содержимого — та же ссылка
	ref2, err := fs.Put(ctx, content)
	if err != nil || ref2 != ref {
		t.Errorf("повторный Put = %s, %v; ожидается %s", ref2, err, ref)
	}

	// Временные файлы не остаются
	entries, _ := os.ReadDir(filepath.Join(fs.DataDir(), ref[:2]))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("остался временный файл %s", e.Name())
		}
	}
}

func TestGet_NotFound(t *testing.T) {
	fs, _ := New(t.TempDir())
	ref := strings.Repeat("ab", 32)

	if _, err := fs.Get(context.Background(), ref); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

// TestGet_InvalidRef проверяет защиту от выхода за пределы директории.
func TestGet_InvalidRef(t *testing.T) {
	fs, _ := New(t.TempDir())

	for _, ref := range []string{"", "../../etc/passwd", strings.Repeat("G", 64), strings.Repeat("AB", 32)} {
		if _, err := fs.Get(context.Background(), ref); !errors.Is(err, ErrInvalidRef) {
			t.Errorf("Get(%q): ожидалась ErrInvalidRef, получено %v", ref, err)
		}
		if fs.Exists(ref) {
			t.Errorf("Exists(%q) = true", ref)
		}
	}
}

// TestGet_Corrupted проверяет обнаружение подмены содержимого на диске.
func TestGet_Corrupted(t *testing.T) {
	fs, _ := New(t.TempDir())
	ctx := context.Background()

	ref, _ := fs.Put(ctx, []byte("original"))
	if err := os.WriteFile(fs.path(ref), []byte("tampered"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := fs.Get(ctx, ref); !errors.Is(err, ErrCorrupted) {
		t.Errorf("ожидалась ErrCorrupted, получено %v", err)
	}
}

func TestPut_CancelledContext(t *testing.T) {
	fs, _ := New(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := fs.Put(ctx, []byte("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("ожидалась context.Canceled, получено %v", err)
	}
}
