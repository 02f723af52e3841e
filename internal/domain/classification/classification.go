// Пакет classification — модель грифов секретности документов.
//
// Уровни упорядочены: PUBLIC < INTERNAL < CONFIDENTIAL < RESTRICTED < TOP_SECRET.
// Более высокий уровень допуска покрывает все нижележащие уровни документов.
// Для каждой пары (область выпуска, уровень) используется отдельный ключ шифрования.
package classification

import (
	"fmt"
	"strconv"
	"strings"
)

// Level — уровень грифа документа или допуска читателя.
type Level int

const (
	// Public — открытые сведения.
	Public Level = iota
	// Internal — для внутреннего использования.
	Internal
	// Confidential — конфиденциально.
	Confidential
	// Restricted — ограниченного доступа.
	Restricted
	// TopSecret — совершенно секретно.
	TopSecret
)

// levelNames — каноничные имена уровней.
var levelNames = map[Level]string{
	Public:       "PUBLIC",
	Internal:     "INTERNAL",
	Confidential: "CONFIDENTIAL",
	Restricted:   "RESTRICTED",
	TopSecret:    "TOP_SECRET",
}

// String возвращает каноничное имя уровня.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// Valid проверяет, что значение входит в перечисление.
func (l Level) Valid() bool {
	return l >= Public && l <= TopSecret
}

// NewLevel создаёт уровень из числового значения.
// Возвращает ошибку для значений вне диапазона 0..4.
func NewLevel(n int) (Level, error) {
	l := Level(n)
	if !l.Valid() {
		return 0, fmt.Errorf("недопустимый уровень секретности: %d, допустимые: 0..4", n)
	}
	return l, nil
}

// ParseLevel разбирает уровень из имени (CONFIDENTIAL, top_secret, "TOP SECRET")
// или из числа ("2").
func ParseLevel(s string) (Level, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)

	for l, name := range levelNames {
		if name == normalized {
			return l, nil
		}
	}

	if n, err := strconv.Atoi(normalized); err == nil {
		return NewLevel(n)
	}

	return 0, fmt.Errorf("недопустимый уровень секретности: %q", s)
}

// MarshalText сериализует уровень в каноничное имя.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("недопустимый уровень секретности: %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText разбирает уровень из имени или числа.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MeetsRequirement возвращает true, если допуск caller покрывает гриф документа.
func MeetsRequirement(caller, document Level) bool {
	return caller >= document
}

// All возвращает все уровни по возрастанию.
func All() []Level {
	return []Level{Public, Internal, Confidential, Restricted, TopSecret}
}

// ScopeKey — идентификатор ключа шифрования: область выпуска + уровень.
// Компрометация ключа одной пары не раскрывает документы других областей и уровней.
type ScopeKey struct {
	Scope string
	Level Level
}

// String возвращает детерминированное представление "scope/LEVEL".
func (k ScopeKey) String() string {
	return k.Scope + "/" + k.Level.String()
}

// KeyScope строит ScopeKey для области выпуска и уровня.
// Пустая область и недопустимый уровень — ошибка конструирования.
func KeyScope(issuerScope string, level Level) (ScopeKey, error) {
	scope := strings.TrimSpace(issuerScope)
	if scope == "" {
		return ScopeKey{}, fmt.Errorf("пустая область выпуска ключа")
	}
	if !level.Valid() {
		return ScopeKey{}, fmt.Errorf("недопустимый уровень секретности: %d", int(level))
	}
	return ScopeKey{Scope: scope, Level: level}, nil
}
