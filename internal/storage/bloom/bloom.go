// Пакет bloom — Bloom-фильтр фиксированного размера над списком допуска документа.
//
// Поле — 1024 бита (128 байт), 3 хэш-функции, полученные двойным хэшированием
// одного 64-битного xxhash: h_i = h1 + i*h2 (mod 1024).
// Фильтр — только предварительный отбор кандидатов: ложных отрицаний нет,
// ложноположительные ответы перепроверяются по точному списку.
package bloom

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	// Bits — размер битового поля.
	Bits = 1024
	// Size — размер сериализованного фильтра в байтах.
	Size = Bits / 8
	// Hashes — количество хэш-функций.
	Hashes = 3
)

// Filter — Bloom-фильтр. Нулевое значение — пустой фильтр.
// Только чтение безопасно из нескольких горутин.
type Filter struct {
	bits [Size]byte
}

// New строит фильтр над набором элементов.
func New(items []string) *Filter {
	f := &Filter{}
	for _, item := range items {
		f.Add(item)
	}
	return f
}

// FromBytes восстанавливает фильтр из сериализованного вида.
func FromBytes(data []byte) (*Filter, error) {
	if len(data) != Size {
		return nil, fmt.Errorf("некорректный размер Bloom-фильтра: %d байт, ожидается %d", len(data), Size)
	}
	f := &Filter{}
	copy(f.bits[:], data)
	return f, nil
}

// Add добавляет элемент.
func (f *Filter) Add(item string) {
	for _, pos := range positions(item) {
		f.bits[pos/8] |= 1 << (pos % 8)
	}
}

// MayContain возвращает false, если элемент точно отсутствует,
// и true, если элемент, возможно, присутствует.
func (f *Filter) MayContain(item string) bool {
	for _, pos := range positions(item) {
		if f.bits[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
	}
	return true
}

// Bytes возвращает сериализованный фильтр (копия).
func (f *Filter) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, f.bits[:])
	return out
}

// positions вычисляет позиции битов двойным хэшированием.
// h2 делается нечётным, чтобы шаг не вырождался при размере поля 2^k.
func positions(item string) [Hashes]uint32 {
	sum := xxhash.Sum64String(item)
	h1 := uint32(sum)
	h2 := uint32(sum>>32) | 1

	var out [Hashes]uint32
	for i := uint32(0); i < Hashes; i++ {
		out[i] = (h1 + i*h2) % Bits
	}
	return out
}
