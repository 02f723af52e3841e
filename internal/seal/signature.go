package seal

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"golang.org/x/crypto/nacl/sign"
)

const (
	// SigningPublicKeySize — размер публичного ключа подписи Ed25519.
	SigningPublicKeySize = 32
	// SignatureSize — размер отделённой подписи.
	SignatureSize = sign.Overhead
)

// accessRequestDomain — префикс подписываемого сообщения.
const accessRequestDomain = "access-engine/access-request/v1"

// CanonicalAccessRequest кодирует кортеж (documentId, ephemeralPublicKey, timestamp, nonce)
// в однозначную байтовую строку: префикс домена и поля с 4-байтовой длиной.
// Метка времени кодируется в секундах Unix.
func CanonicalAccessRequest(documentID string, ephemeralPublicKey []byte, timestamp time.Time, nonce string) []byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp.Unix()))

	fields := [][]byte{
		[]byte(accessRequestDomain),
		[]byte(documentID),
		ephemeralPublicKey,
		ts[:],
		[]byte(nonce),
	}

	size := 0
	for _, f := range fields {
		size += 4 + len(f)
	}

	out := make([]byte, 0, size)
	for _, f := range fields {
		out = binary.BigEndian.AppendUint32(out, uint32(len(f)))
		out = append(out, f...)
	}
	return out
}

// GenerateSigningKeyPair генерирует долговременную пару ключей подписи.
func GenerateSigningKeyPair() (publicKey *[SigningPublicKeySize]byte, privateKey *[64]byte, err error) {
	return sign.GenerateKey(rand.Reader)
}

// SignAccessRequest возвращает отделённую подпись сообщения.
func SignAccessRequest(privateKey *[64]byte, message []byte) []byte {
	signed := sign.Sign(nil, message, privateKey)
	return signed[:SignatureSize]
}

// VerifyAccessRequest проверяет отделённую подпись сообщения.
func VerifyAccessRequest(publicKey, message, signature []byte) bool {
	if len(publicKey) != SigningPublicKeySize || len(signature) != SignatureSize {
		return false
	}
	var pk [SigningPublicKeySize]byte
	copy(pk[:], publicKey)

	signed := make([]byte, 0, len(signature)+len(message))
	signed = append(signed, signature...)
	signed = append(signed, message...)

	_, ok := sign.Open(nil, signed, &pk)
	return ok
}
