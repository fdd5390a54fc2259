// Package txmanager tracks live transactions and the keys each has
// touched, so the engine can promote or discard a transaction's
// shadow writes atomically on commit or abort.
package txmanager

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/bobboyms/immux-go/pkg/instruction"
)

// MaxID is the largest transaction identifier the manager will ever
// allocate.
const MaxID = instruction.MaxTransactionID

var (
	// ErrNotLive is returned when an operation names a transaction id
	// that is not currently installed in the manager.
	ErrNotLive = errors.New("txmanager: transaction is not live")

	// ErrIDOutOfRange is returned when the next identifier would
	// exceed MaxID.
	ErrIDOutOfRange = errors.New("txmanager: transaction id counter exhausted")

	// ErrDuplicateLive is returned by AdvanceTo when a TransactionStart
	// names a tid that is already live — impossible from a log this
	// engine produced itself, since it never emits two starts for one
	// id, so this can only be observed against a corrupted or
	// manually-edited log.
	ErrDuplicateLive = errors.New("txmanager: transaction id already live")
)

// Manager tracks live transactions and their affected-key lists. Every
// method holds the manager's mutex, so concurrent calls do not race;
// the engine owns one Manager and calls it under its own lock.
type Manager struct {
	mu      sync.Mutex
	counter uint64
	live    map[instruction.TransactionID][]string
}

// New returns an empty manager with its counter at zero.
func New() *Manager {
	return &Manager{live: make(map[instruction.TransactionID][]string)}
}

// Start allocates a new transaction id and installs an empty affected
// key list for it.
func (m *Manager) Start() (instruction.TransactionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if uint64(m.counter) >= uint64(MaxID) {
		return 0, ErrIDOutOfRange
	}
	m.counter++
	tid := instruction.TransactionID(m.counter)
	m.live[tid] = nil
	return tid, nil
}

// Touch appends key to tid's affected-key list. Duplicates are
// permitted; order is write order.
func (m *Manager) Touch(tid instruction.TransactionID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live[tid]; !ok {
		return ErrNotLive
	}
	m.live[tid] = append(m.live[tid], key)
	return nil
}

// Validate returns ErrNotLive if tid is not installed.
func (m *Manager) Validate(tid instruction.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live[tid]; !ok {
		return ErrNotLive
	}
	return nil
}

// Affected returns the ordered affected-key list for tid. The
// returned slice is a copy and safe for the caller to range over
// while the manager continues to mutate.
func (m *Manager) Affected(tid instruction.TransactionID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, ok := m.live[tid]
	if !ok {
		return nil, ErrNotLive
	}
	out := make([]string, len(keys))
	copy(out, keys)
	return out, nil
}

// Forget removes tid's metadata entry. Used on commit and abort.
func (m *Manager) Forget(tid instruction.TransactionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, tid)
}

// AdvanceTo registers tid as live with an empty affected-key list and
// advances the counter's high-water mark past it, restoring the state
// a TransactionStart record produced when it was first appended. Used
// during recovery replay when a TransactionStart record is
// encountered, and by the engine's revert_all (followed by Forget) to
// carry the counter over to a rebuilt manager. Returns
// ErrDuplicateLive if tid is already live — a
// second TransactionStart for the same id, which only corruption or
// manual log editing can produce.
func (m *Manager) AdvanceTo(tid instruction.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live[tid]; ok {
		return ErrDuplicateLive
	}
	m.live[tid] = nil
	if uint64(tid) > m.counter {
		m.counter = uint64(tid)
	}
	return nil
}

// LiveCount returns the number of transactions currently live.
func (m *Manager) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// IsLive reports whether tid currently has installed metadata.
func (m *Manager) IsLive(tid instruction.TransactionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[tid]
	return ok
}

// Counter returns the highest transaction id allocated or observed so
// far, used to seed a fresh manager's counter during a revert_all
// rebuild.
func (m *Manager) Counter() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter
}
