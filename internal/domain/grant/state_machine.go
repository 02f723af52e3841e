// Пакет grant — конечный автомат обработки запроса на доступ к документу.
//
// Жизненный цикл запроса:
//
//	Received → Verified → Decrypted → Stamped → ReEncrypted → Logged → Delivered
//
// Из любого состояния до Logged возможен переход в Denied.
// Delivered и Denied — конечные состояния, возврат в предыдущие состояния невозможен.
// После Logged отказ невозможен: выдача записана в журнал и будет доставлена.
package grant

import (
	"fmt"
	"sync"
	"time"
)

// State — состояние запроса на доступ.
type State string

const (
	// StateReceived — запрос принят
	StateReceived State = "received"
	// StateVerified — авторизация пройдена
	StateVerified State = "verified"
	// StateDecrypted — оригинал расшифрован и проверен по хэшу
	StateDecrypted State = "decrypted"
	// StateStamped — изготовлена подотчётная копия
	StateStamped State = "stamped"
	// StateReEncrypted — копия зашифрована на эфемерный ключ
	StateReEncrypted State = "re_encrypted"
	// StateLogged — выдача записана в журнал доступа
	StateLogged State = "logged"
	// StateDelivered — копия возвращена запрашивающему
	StateDelivered State = "delivered"
	// StateDenied — запрос отклонён или прерван
	StateDenied State = "denied"
)

// TransitionRecord — запись о переходе между состояниями.
type TransitionRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// validTransitions — матрица допустимых переходов.
var validTransitions = map[State]map[State]bool{
	StateReceived:    {StateVerified: true, StateDenied: true},
	StateVerified:    {StateDecrypted: true, StateDenied: true},
	StateDecrypted:   {StateStamped: true, StateDenied: true},
	StateStamped:     {StateReEncrypted: true, StateDenied: true},
	StateReEncrypted: {StateLogged: true, StateDenied: true},
	StateLogged:      {StateDelivered: true},
	StateDelivered:   {},
	StateDenied:      {},
}

// Machine — автомат одного запроса на доступ.
type Machine struct {
	mu      sync.RWMutex
	grantID string
	current State
	history []TransitionRecord
}

// NewMachine создаёт автомат в состоянии Received.
func NewMachine(grantID string) *Machine {
	return &Machine{
		grantID: grantID,
		current: StateReceived,
		history: make([]TransitionRecord, 0, 7),
	}
}

// GrantID возвращает идентификатор запроса.
func (m *Machine) GrantID() string {
	return m.grantID
}

// Current возвращает текущее состояние.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsTerminal возвращает true для Delivered и Denied.
func (m *Machine) IsTerminal() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(validTransitions[m.current]) == 0
}

// CanTransitionTo проверяет, допустим ли переход в target.
func (m *Machine) CanTransitionTo(target State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return validTransitions[m.current][target]
}

// TransitionTo выполняет переход в target.
//
// Ошибки:
//   - INVALID_STATE — неизвестное целевое состояние
//   - INVALID_TRANSITION — переход недопустим из текущего состояния
func (m *Machine) TransitionTo(target State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := validTransitions[target]; !ok {
		return &TransitionError{
			Code:    "INVALID_STATE",
			Message: fmt.Sprintf("неизвестное состояние: %q", target),
		}
	}

	if !validTransitions[m.current][target] {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s → %s недопустим", m.current, target),
		}
	}

	m.history = append(m.history, TransitionRecord{
		From:      m.current,
		To:        target,
		Timestamp: time.Now().UTC(),
	})
	m.current = target

	return nil
}

// Deny переводит запрос в Denied, если это ещё возможно.
// Возвращает ошибку после Logged и в конечных состояниях.
func (m *Machine) Deny() error {
	return m.TransitionTo(StateDenied)
}

// History возвращает историю переходов (копия).
func (m *Machine) History() []TransitionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]TransitionRecord, len(m.history))
	copy(result, m.history)
	return result
}

// TransitionError — ошибка перехода между состояниями.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_STATE, INVALID_TRANSITION)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
