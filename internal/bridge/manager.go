package bridge

import (
	"errors"
	"sync"
	"time"
)

var ErrTooManyCalls = errors.New("concurrent call limit reached")

// ActiveCall is the manager's view of one running bridge session.
type ActiveCall struct {
	ID        string    `json:"id"`
	Scenario  string    `json:"scenario"`
	StartedAt time.Time `json:"started_at"`
}

// Manager bounds how many bridge sessions run at once.
type Manager struct {
	mu    sync.RWMutex
	calls map[string]*ActiveCall
	limit int
}

func NewManager(limit int) *Manager {
	if limit <= 0 {
		limit = 100
	}
	return &Manager{calls: make(map[string]*ActiveCall), limit: limit}
}

// Acquire registers a session slot before the bridge starts relaying.
// The returned release func is safe to call more than once.
func (m *Manager) Acquire(id, scenarioID string) (release func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) >= m.limit {
		return nil, ErrTooManyCalls
	}
	m.calls[id] = &ActiveCall{
		ID:        id,
		Scenario:  scenarioID,
		StartedAt: time.Now().UTC(),
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.calls, id)
		})
	}, nil
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

func (m *Manager) Active() []ActiveCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ActiveCall, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, *c)
	}
	return out
}
