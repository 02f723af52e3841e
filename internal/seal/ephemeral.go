package seal

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const (
	// PublicKeySize — размер публичного ключа X25519.
	PublicKeySize = 32
	// BoxNonceSize — размер nonce XSalsa20-Poly1305.
	BoxNonceSize = 24
)

// ErrInvalidPublicKey — эфемерный ключ неверного размера или точка малого порядка.
var ErrInvalidPublicKey = errors.New("некорректный эфемерный публичный ключ X25519")

// SealedCopy — копия, зашифрованная на эфемерный ключ читателя.
type SealedCopy struct {
	// Ciphertext — XSalsa20-Poly1305 шифротекст
	Ciphertext []byte
	// Nonce — случайный 192-битный nonce
	Nonce [BoxNonceSize]byte
	// ServerPublicKey — одноразовый публичный ключ сервера
	ServerPublicKey [PublicKeySize]byte
}

// GenerateEphemeralKeyPair генерирует одноразовую пару X25519.
func GenerateEphemeralKeyPair() (publicKey, privateKey *[PublicKeySize]byte, err error) {
	return box.GenerateKey(rand.Reader)
}

// ValidatePublicKey проверяет размер эфемерного ключа и отклоняет точки
// малого порядка, для которых общий секрет X25519 вырождается в ноль.
func ValidatePublicKey(publicKey []byte) error {
	if len(publicKey) != PublicKeySize {
		return fmt.Errorf("%w: %d байт", ErrInvalidPublicKey, len(publicKey))
	}
	probe := make([]byte, 32)
	probe[0] = 9
	shared, err := curve25519.X25519(probe, publicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	Zeroize(shared)
	return nil
}

// SealForRecipient шифрует plaintext на публичный ключ получателя.
// Одноразовый приватный ключ сервера и общий секрет обнуляются до возврата
// из функции на всех путях выполнения.
func SealForRecipient(plaintext, recipientPublicKey []byte) (*SealedCopy, error) {
	if err := ValidatePublicKey(recipientPublicKey); err != nil {
		return nil, err
	}
	var peer [PublicKeySize]byte
	copy(peer[:], recipientPublicKey)

	serverPub, serverPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("генерация эфемерного ключа: %w", err)
	}
	defer Zeroize(serverPriv[:])

	// X25519 отклоняет точки малого порядка (нулевой общий секрет)
	check, err := curve25519.X25519(serverPriv[:], peer[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	Zeroize(check)

	var shared [32]byte
	box.Precompute(&shared, &peer, serverPriv)
	defer Zeroize(shared[:])

	result := &SealedCopy{ServerPublicKey: *serverPub}
	if _, err := rand.Read(result.Nonce[:]); err != nil {
		return nil, fmt.Errorf("генерация nonce: %w", err)
	}
	result.Ciphertext = box.SealAfterPrecomputation(nil, plaintext, &result.Nonce, &shared)

	return result, nil
}

// OpenSealed расшифровывает копию приватным эфемерным ключом получателя.
// Используется на стороне читателя, после чего ключ должен быть уничтожен.
func OpenSealed(c *SealedCopy, recipientPrivateKey *[PublicKeySize]byte) ([]byte, error) {
	plaintext, ok := box.Open(nil, c.Ciphertext, &c.Nonce, &c.ServerPublicKey, recipientPrivateKey)
	if !ok {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
