package bloom

import (
	"fmt"
	"testing"
)

// TestFilter_NoFalseNegatives проверяет: каждый добавленный элемент всегда найден.
func TestFilter_NoFalseNegatives(t *testing.T) {
	for n := 1; n <= 64; n *= 2 {
		items := make([]string, n)
		for i := range items {
			items[i] = fmt.Sprintf("did:example:issuer-%d-%d", n, i)
		}
		f := New(items)
		for _, item := range items {
			if !f.MayContain(item) {
				t.Errorf("n=%d: ложноотрицательный ответ для %q", n, item)
			}
		}
	}
}

// TestFilter_FalsePositiveRate проверяет порядок доли ложноположительных
// ответов для типичного размера списка допуска.
func TestFilter_FalsePositiveRate(t *testing.T) {
	items := make([]string, 10)
	for i := range items {
		items[i] = fmt.Sprintf("did:example:member-%d", i)
	}
	f := New(items)

	const probes = 20000
	positives := 0
	for i := 0; i < probes; i++ {
		if f.MayContain(fmt.Sprintf("did:example:outsider-%d", i)) {
			positives++
		}
	}

	// Теоретическая оценка для n=10, m=1024, k=3 — около 0.002%.
	rate := float64(positives) / probes
	if rate > 0.01 {
		t.Errorf("доля ложноположительных %.4f превышает 1%%", rate)
	}
}

func TestFilter_EmptyRejectsAll(t *testing.T) {
	f := New(nil)
	if f.MayContain("did:example:any") {
		t.Error("пустой фильтр не должен содержать элементов")
	}
}

func TestFilter_BytesRoundTrip(t *testing.T) {
	f := New([]string{"IssuerA", "IssuerB"})
	data := f.Bytes()
	if len(data) != Size {
		t.Fatalf("Bytes(): %d байт, ожидается %d", len(data), Size)
	}

	restored, err := FromBytes(data)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if !restored.MayContain("IssuerA") || !restored.MayContain("IssuerB") {
		t.Error("восстановленный фильтр потерял элементы")
	}

	// Изменение результата Bytes() не должно влиять на фильтр
	for i := range data {
		data[i] = 0
	}
	if !f.MayContain("IssuerA") {
		t.Error("Bytes() должен возвращать копию")
	}

	if _, err := FromBytes(make([]byte, 16)); err == nil {
		t.Error("FromBytes(16 байт): ожидалась ошибка")
	}
}

// TestPositions_Distinct проверяет, что три позиции различны при нечётном шаге.
func TestPositions_Distinct(t *testing.T) {
	for i := 0; i < 1000; i++ {
		p := positions(fmt.Sprintf("item-%d", i))
		if p[0] == p[1] || p[1] == p[2] || p[0] == p[2] {
			t.Fatalf("совпадающие позиции для item-%d: %v", i, p)
		}
	}
}
