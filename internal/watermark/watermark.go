// Пакет watermark — изготовление подотчётной копии документа.
//
// Копия получает видимую отметку (документ, читатель, время доступа)
// и невидимый криминалистический маркер с той же тройкой, закодированный
// символами нулевой ширины. Оригинал не изменяется.
package watermark

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Символы нулевой ширины для кодирования маркера.
const (
	zeroBit  = "\u200b" // ZERO WIDTH SPACE — бит 0
	oneBit   = "\u200c" // ZERO WIDTH NON-JOINER — бит 1
	boundary = "\u2060" // WORD JOINER — границы маркера
)

// markerFields — число полей тройки в маркере; каждое поле предваряется
// длиной (uint32, big-endian).
const markerFields = 3

// ErrMarkerNotFound — в тексте нет криминалистического маркера.
var ErrMarkerNotFound = errors.New("криминалистический маркер не найден")

// Mark — тройка, идентифицирующая подотчётную копию.
type Mark struct {
	DocumentID string
	Requestor  string
	AccessedAt time.Time
}

// VisibleText возвращает строку видимой отметки.
func (m Mark) VisibleText() string {
	return fmt.Sprintf("[ПОДОТЧЁТНАЯ КОПИЯ] document=%s requestor=%s accessed=%s",
		m.DocumentID, m.Requestor, m.AccessedAt.UTC().Format(time.RFC3339))
}

// Stamp возвращает новую копию content с видимой отметкой в первой строке
// и невидимым маркером сразу после неё.
func Stamp(content []byte, m Mark) []byte {
	visible := m.VisibleText()
	marker := encodeMarker(m)

	out := make([]byte, 0, len(visible)+len(marker)+1+len(content))
	out = append(out, visible...)
	out = append(out, marker...)
	out = append(out, '\n')
	out = append(out, content...)
	return out
}

// Extract находит и декодирует криминалистический маркер в копии.
func Extract(stamped []byte) (Mark, error) {
	start := bytes.Index(stamped, []byte(boundary))
	if start < 0 {
		return Mark{}, ErrMarkerNotFound
	}
	rest := stamped[start+len(boundary):]
	end := bytes.Index(rest, []byte(boundary))
	if end < 0 {
		return Mark{}, ErrMarkerNotFound
	}

	payload, err := decodeBits(string(rest[:end]))
	if err != nil {
		return Mark{}, err
	}

	parts, err := splitFields(payload)
	if err != nil {
		return Mark{}, err
	}
	accessedAt, err := time.Parse(time.RFC3339Nano, parts[2])
	if err != nil {
		return Mark{}, fmt.Errorf("маркер повреждён: %w", err)
	}

	return Mark{DocumentID: parts[0], Requestor: parts[1], AccessedAt: accessedAt}, nil
}

// encodeMarker кодирует тройку в последовательность символов нулевой ширины.
func encodeMarker(m Mark) string {
	var payload []byte
	for _, f := range []string{
		m.DocumentID,
		m.Requestor,
		m.AccessedAt.UTC().Format(time.RFC3339Nano),
	} {
		payload = binary.BigEndian.AppendUint32(payload, uint32(len(f)))
		payload = append(payload, f...)
	}

	var sb strings.Builder
	sb.Grow(len(payload)*8*len(zeroBit) + 2*len(boundary))
	sb.WriteString(boundary)
	for i := 0; i < len(payload); i++ {
		b := payload[i]
		for bit := 7; bit >= 0; bit-- {
			if b&(1<<bit) != 0 {
				sb.WriteString(oneBit)
			} else {
				sb.WriteString(zeroBit)
			}
		}
	}
	sb.WriteString(boundary)
	return sb.String()
}

// splitFields разбирает полезную нагрузку маркера на поля с префиксом длины.
func splitFields(payload []byte) ([]string, error) {
	parts := make([]string, 0, markerFields)
	for len(payload) > 0 {
		if len(payload) < 4 {
			return nil, errors.New("маркер повреждён: усечённая длина поля")
		}
		n := binary.BigEndian.Uint32(payload)
		payload = payload[4:]
		if uint64(n) > uint64(len(payload)) {
			return nil, errors.New("маркер повреждён: поле длиннее маркера")
		}
		parts = append(parts, string(payload[:n]))
		payload = payload[n:]
	}
	if len(parts) != markerFields {
		return nil, fmt.Errorf("маркер повреждён: %d полей", len(parts))
	}
	return parts, nil
}

// decodeBits восстанавливает байты из последовательности битовых символов.
func decodeBits(s string) ([]byte, error) {
	var (
		out   []byte
		cur   byte
		count int
	)
	for _, r := range s {
		switch string(r) {
		case zeroBit:
			cur <<= 1
		case oneBit:
			cur = cur<<1 | 1
		default:
			return nil, fmt.Errorf("маркер повреждён: недопустимый символ %U", r)
		}
		count++
		if count == 8 {
			out = append(out, cur)
			cur, count = 0, 0
		}
	}
	if count != 0 {
		return nil, errors.New("маркер повреждён: неполный байт")
	}
	return out, nil
}
