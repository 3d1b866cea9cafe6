package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/forumdm/internal/bus"
)

// State is the connection state of the transport session.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Disconnected},
}

// Machine tracks and enforces transport state transitions. Every transition
// is published on the bus and fanned out to watchers.
type Machine struct {
	mu       sync.RWMutex
	current  State
	bus      *bus.Bus
	watchers map[int]chan StatusChange
	nextID   int
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current:  Disconnected,
		bus:      b,
		watchers: make(map[int]chan StatusChange),
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	change := StatusChange{From: m.current, To: to}
	m.current = to
	for _, ch := range m.watchers {
		select {
		case ch <- change:
		default:
		}
	}
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(bus.KindStatusChanged, change))
	}
	return nil
}

// minWatchBuffer fits the replay plus a full reconnect cycle.
const minWatchBuffer = 4

// Watch registers an observer. The returned channel first receives the
// current state as a From == To change, then every later transition.
// buf is raised to minWatchBuffer. Transition never blocks: a watcher that
// falls more than buf changes behind misses the overflow and should resync
// from Current.
// The cancel function closes the channel and is safe to call twice.
func (m *Machine) Watch(buf int) (<-chan StatusChange, func()) {
	buf = max(buf, minWatchBuffer)
	ch := make(chan StatusChange, buf)

	m.mu.Lock()
	ch <- StatusChange{From: m.current, To: m.current}
	id := m.nextID
	m.nextID++
	m.watchers[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}

// Replay reports whether the change is the initial replay of a watch.
func (c StatusChange) Replay() bool {
	return c.From == c.To
}
