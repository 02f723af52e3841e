package model

import (
	"time"

	"github.com/bigkaa/goartstore/access-engine/internal/domain/classification"
)

// EncryptionKey — симметричный ключ шифрования документов для пары (область, уровень).
// Хранится в таблице encryption_keys в обёрнутом мастер-ключом виде.
// Активным может быть не более одного ключа на пару.
type EncryptionKey struct {
	// ID — UUID ключа, на него ссылается Document.EncryptionKeyRef
	ID string
	// Scope — область выпуска (издатель создателя документа)
	Scope string
	// Level — уровень секретности
	Level classification.Level
	// WrappedKey — ключ, зашифрованный мастер-ключом (nonce || tag || ciphertext)
	WrappedKey []byte
	// Active — ключ используется для новых документов
	Active bool
	// CreatedAt — время создания
	CreatedAt time.Time
	// RotatedAt — время деактивации при ротации
	RotatedAt *time.Time
}
