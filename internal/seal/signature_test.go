package seal

import (
	"bytes"
	"testing"
	"time"
)

func TestAccessRequestSignature(t *testing.T) {
	pub, priv, err := GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("GenerateSigningKeyPair: %v", err)
	}
	eph := bytes.Repeat([]byte{7}, PublicKeySize)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	msg := CanonicalAccessRequest("doc-1", eph, ts, "nonce-1")
	sig := SignAccessRequest(priv, msg)
	if len(sig) != SignatureSize {
		t.Fatalf("размер подписи %d, ожидается %d", len(sig), SignatureSize)
	}

	if !VerifyAccessRequest(pub[:], msg, sig) {
		t.Fatal("валидная подпись не прошла проверку")
	}

	// Подпись привязана к каждому полю кортежа
	variants := map[string][]byte{
		"другой документ": CanonicalAccessRequest("doc-2", eph, ts, "nonce-1"),
		"другой ключ":     CanonicalAccessRequest("doc-1", bytes.Repeat([]byte{8}, PublicKeySize), ts, "nonce-1"),
		"другое время":    CanonicalAccessRequest("doc-1", eph, ts.Add(time.Second), "nonce-1"),
		"другой nonce":    CanonicalAccessRequest("doc-1", eph, ts, "nonce-2"),
	}
	for name, other := range variants {
		if VerifyAccessRequest(pub[:], other, sig) {
			t.Errorf("%s: подпись не должна проходить", name)
		}
	}

	otherPub, _, _ := GenerateSigningKeyPair()
	if VerifyAccessRequest(otherPub[:], msg, sig) {
		t.Error("подпись прошла под чужим ключом")
	}
	if VerifyAccessRequest(pub[:], msg, sig[:10]) {
		t.Error("усечённая подпись прошла проверку")
	}
	if VerifyAccessRequest(pub[:16], msg, sig) {
		t.Error("усечённый ключ прошёл проверку")
	}
}

// TestCanonicalAccessRequest_Unambiguous проверяет, что перенос байтов между полями
// меняет каноничное представление.
func TestCanonicalAccessRequest_Unambiguous(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	a := CanonicalAccessRequest("ab", []byte("c"), ts, "d")
	b := CanonicalAccessRequest("a", []byte("bc"), ts, "d")
	if bytes.Equal(a, b) {
		t.Error("разные кортежи дали одинаковое представление")
	}
}
