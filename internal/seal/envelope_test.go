package seal

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealAtRest_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	plaintext := []byte("операционный план, гриф CONFIDENTIAL")
	aad := []byte("doc-1")

	blob, err := SealAtRest(key, plaintext, aad)
	if err != nil {
		t.Fatalf("SealAtRest: %v", err)
	}
	if len(blob) != NonceSize+TagSize+len(plaintext) {
		t.Errorf("размер blob %d, ожидается %d", len(blob), NonceSize+TagSize+len(plaintext))
	}
	if bytes.Contains(blob, plaintext) {
		t.Error("blob содержит открытый текст")
	}

	got, err := OpenAtRest(key, blob, aad)
	if err != nil {
		t.Fatalf("OpenAtRest: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("расшифровано %q, ожидается %q", got, plaintext)
	}
}

// TestSealAtRest_FreshNonce проверяет, что каждый вызов использует новый nonce.
func TestSealAtRest_FreshNonce(t *testing.T) {
	key, _ := GenerateKey()
	a, _ := SealAtRest(key, []byte("same"), nil)
	b, _ := SealAtRest(key, []byte("same"), nil)
	if bytes.Equal(a[:NonceSize], b[:NonceSize]) {
		t.Error("nonce повторился")
	}
}

func TestOpenAtRest_Tampered(t *testing.T) {
	key, _ := GenerateKey()
	blob, _ := SealAtRest(key, []byte("payload"), []byte("doc-1"))

	tests := []struct {
		name string
		blob []byte
		aad  []byte
	}{
		{"изменён nonce", flip(blob, 0), []byte("doc-1")},
		{"изменён tag", flip(blob, NonceSize), []byte("doc-1")},
		{"изменён шифротекст", flip(blob, len(blob)-1), []byte("doc-1")},
		{"другой aad", blob, []byte("doc-2")},
		{"усечённый blob", blob[:NonceSize+TagSize-1], []byte("doc-1")},
	}

	for _, tt := range tests {
		if _, err := OpenAtRest(key, tt.blob, tt.aad); !errors.Is(err, ErrDecrypt) {
			t.Errorf("%s: ожидалась ErrDecrypt, получено %v", tt.name, err)
		}
	}

	other, _ := GenerateKey()
	if _, err := OpenAtRest(other, blob, []byte("doc-1")); !errors.Is(err, ErrDecrypt) {
		t.Errorf("чужой ключ: ожидалась ErrDecrypt, получено %v", err)
	}
}

func TestSealAtRest_InvalidKey(t *testing.T) {
	if _, err := SealAtRest(make([]byte, 16), []byte("x"), nil); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("ожидалась ErrInvalidKey, получено %v", err)
	}
}

func TestContentHash(t *testing.T) {
	// SHA-256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := ContentHash([]byte("abc")); got != want {
		t.Errorf("ContentHash = %s, ожидается %s", got, want)
	}
}

func TestDeriveKey(t *testing.T) {
	secret, _ := GenerateKey()
	a, err := DeriveKey(secret, "metadata")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	b, _ := DeriveKey(secret, "metadata")
	c, _ := DeriveKey(secret, "other")
	if !bytes.Equal(a, b) {
		t.Error("DeriveKey не детерминирован")
	}
	if bytes.Equal(a, c) || bytes.Equal(a, secret) {
		t.Error("подключи разных назначений должны различаться")
	}
	if _, err := DeriveKey(nil, "x"); err == nil {
		t.Error("пустой секрет: ожидалась ошибка")
	}
}

func TestZeroize(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	Zeroize(buf)
	for i, b := range buf {
		if b != 0 {
			t.Errorf("байт %d не обнулён", i)
		}
	}
}

// flip возвращает копию data с инвертированным байтом i.
func flip(data []byte, i int) []byte {
	out := append([]byte(nil), data...)
	out[i] ^= 0xff
	return out
}
