package seal

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealForRecipient_RoundTrip(t *testing.T) {
	pub, priv, err := GenerateEphemeralKeyPair()
	if err != nil {
		t.Fatalf("GenerateEphemeralKeyPair: %v", err)
	}
	plaintext := []byte("подотчётная копия")

	sealed, err := SealForRecipient(plaintext, pub[:])
	if err != nil {
		t.Fatalf("SealForRecipient: %v", err)
	}
	if bytes.Contains(sealed.Ciphertext, plaintext) {
		t.Error("шифротекст содержит открытый текст")
	}

	got, err := OpenSealed(sealed, priv)
	if err != nil {
		t.Fatalf("OpenSealed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("расшифровано %q, ожидается %q", got, plaintext)
	}
}

// TestSealForRecipient_ForwardSecrecy проверяет: без исходного эфемерного ключа
// копия не расшифровывается, а повтор с другой парой даёт несвязанный шифротекст.
func TestSealForRecipient_ForwardSecrecy(t *testing.T) {
	plaintext := []byte("одинаковое содержимое")

	pub1, priv1, _ := GenerateEphemeralKeyPair()
	pub2, priv2, _ := GenerateEphemeralKeyPair()

	c1, err := SealForRecipient(plaintext, pub1[:])
	if err != nil {
		t.Fatalf("SealForRecipient #1: %v", err)
	}
	c2, err := SealForRecipient(plaintext, pub2[:])
	if err != nil {
		t.Fatalf("SealForRecipient #2: %v", err)
	}

	if bytes.Equal(c1.Ciphertext, c2.Ciphertext) {
		t.Error("шифротексты двух выдач совпадают")
	}
	if c1.ServerPublicKey == c2.ServerPublicKey {
		t.Error("серверный эфемерный ключ повторился")
	}
	if c1.Nonce == c2.Nonce {
		t.Error("nonce повторился")
	}

	if _, err := OpenSealed(c1, priv2); !errors.Is(err, ErrDecrypt) {
		t.Errorf("чужой ключ #2 расшифровал копию #1: %v", err)
	}
	if _, err := OpenSealed(c2, priv1); !errors.Is(err, ErrDecrypt) {
		t.Errorf("чужой ключ #1 расшифровал копию #2: %v", err)
	}

	// Уничтоженный ключ читателя не позволяет расшифровать копию
	Zeroize(priv1[:])
	if _, err := OpenSealed(c1, priv1); !errors.Is(err, ErrDecrypt) {
		t.Errorf("обнулённый ключ расшифровал копию: %v", err)
	}
}

func TestSealForRecipient_InvalidKey(t *testing.T) {
	tests := []struct {
		name string
		key  []byte
	}{
		{"пустой", nil},
		{"короткий", make([]byte, 16)},
		{"нулевая точка", make([]byte, PublicKeySize)},
	}
	for _, tt := range tests {
		if _, err := SealForRecipient([]byte("x"), tt.key); !errors.Is(err, ErrInvalidPublicKey) {
			t.Errorf("%s: ожидалась ErrInvalidPublicKey, получено %v", tt.name, err)
		}
	}
}

func TestValidatePublicKey(t *testing.T) {
	pub, _, err := GenerateEphemeralKeyPair()
	if err != nil {
		t.Fatalf("генерация ключа: %v", err)
	}
	if err := ValidatePublicKey(pub[:]); err != nil {
		t.Errorf("валидный ключ отклонён: %v", err)
	}
	if err := ValidatePublicKey(make([]byte, PublicKeySize)); !errors.Is(err, ErrInvalidPublicKey) {
		t.Errorf("нулевая точка принята: %v", err)
	}
}
