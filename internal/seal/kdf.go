package seal

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey выводит 256-битный подключ из секрета через HKDF-SHA256.
// info разделяет назначения подключей одного секрета.
func DeriveKey(secret []byte, info string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: пустой секрет", ErrInvalidKey)
	}
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("HKDF: %w", err)
	}
	return key, nil
}
