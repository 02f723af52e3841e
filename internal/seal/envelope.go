// Пакет seal — криптографические примитивы движка.
//
//   - AES-256-GCM для хранения документов и обёртки ключей (формат nonce || tag || ciphertext)
//   - X25519 + XSalsa20-Poly1305 (nacl/box) для выдачи копий на эфемерный ключ читателя
//   - Ed25519 (nacl/sign) для подписи запросов на доступ
//   - HKDF-SHA256 для производных подключей
//   - синхронное обнуление ключевого материала
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// KeySize — размер ключа AES-256.
	KeySize = 32
	// NonceSize — размер nonce GCM (96 бит).
	NonceSize = 12
	// TagSize — размер тега аутентификации GCM.
	TagSize = 16
)

var (
	// ErrInvalidKey — ключ неверного размера.
	ErrInvalidKey = errors.New("некорректный размер ключа")
	// ErrDecrypt — ошибка расшифровки или аутентификации шифротекста.
	ErrDecrypt = errors.New("ошибка расшифровки: шифротекст повреждён или ключ неверен")
)

// GenerateKey генерирует случайный 256-битный ключ.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("генерация ключа: %w", err)
	}
	return key, nil
}

// SealAtRest шифрует plaintext AES-256-GCM со свежим 96-битным nonce.
// aad — дополнительные аутентифицируемые данные (идентификатор владельца blob).
// Результат: nonce || tag || ciphertext.
func SealAtRest(key, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("генерация nonce: %w", err)
	}

	// gcm.Seal возвращает ciphertext || tag
	sealed := gcm.Seal(nil, nonce, plaintext, aad)
	ctLen := len(sealed) - TagSize

	out := make([]byte, 0, NonceSize+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed[ctLen:]...)
	out = append(out, sealed[:ctLen]...)
	return out, nil
}

// OpenAtRest расшифровывает blob формата nonce || tag || ciphertext.
func OpenAtRest(key, blob, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(blob) < NonceSize+TagSize {
		return nil, fmt.Errorf("%w: blob короче %d байт", ErrDecrypt, NonceSize+TagSize)
	}

	nonce := blob[:NonceSize]
	tag := blob[NonceSize : NonceSize+TagSize]
	ciphertext := blob[NonceSize+TagSize:]

	buf := make([]byte, 0, len(ciphertext)+TagSize)
	buf = append(buf, ciphertext...)
	buf = append(buf, tag...)

	plaintext, err := gcm.Open(nil, nonce, buf, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// ContentHash возвращает SHA-256 содержимого в hex.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// newGCM создаёт AES-GCM AEAD для 256-битного ключа.
func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: %d байт, ожидается %d", ErrInvalidKey, len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("создание AES: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("создание GCM: %w", err)
	}
	return gcm, nil
}
