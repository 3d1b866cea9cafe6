package bus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/matheus3301/forumdm/internal/protocol"
)

// Handler receives a decoded envelope.
type Handler func(env protocol.Envelope)

type handlerEntry struct {
	fn      Handler
	removed atomic.Bool
}

// Dispatcher routes decoded envelopes to the handlers registered for their
// kind. Delivery is synchronous on the dispatching goroutine. Handlers may
// subscribe or dispose during a dispatch; a handler disposed before its turn
// is skipped, and a panicking handler does not stop the others.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[string][]*handlerEntry
	logger   *zap.Logger
	panics   atomic.Int64
}

// NewDispatcher creates an empty dispatcher. logger may be nil.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		handlers: make(map[string][]*handlerEntry),
		logger:   logger,
	}
}

// Subscribe registers h for kind and returns a function that removes exactly
// this registration. Calling it more than once is harmless.
func (d *Dispatcher) Subscribe(kind string, h Handler) func() {
	entry := &handlerEntry{fn: h}
	d.mu.Lock()
	// Copy on write so in-flight snapshots stay intact.
	list := append([]*handlerEntry(nil), d.handlers[kind]...)
	d.handlers[kind] = append(list, entry)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.removed.Store(true)
			d.mu.Lock()
			defer d.mu.Unlock()
			cur := d.handlers[kind]
			next := make([]*handlerEntry, 0, len(cur))
			for _, e := range cur {
				if e != entry {
					next = append(next, e)
				}
			}
			if len(next) == 0 {
				delete(d.handlers, kind)
				return
			}
			d.handlers[kind] = next
		})
	}
}

// Dispatch delivers env to every handler registered for env.Type.
func (d *Dispatcher) Dispatch(env protocol.Envelope) {
	d.mu.Lock()
	snapshot := d.handlers[env.Type]
	d.mu.Unlock()

	for _, e := range snapshot {
		if e.removed.Load() {
			continue
		}
		d.invoke(e, env)
	}
}

func (d *Dispatcher) invoke(e *handlerEntry, env protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Error("dispatch handler panicked",
				zap.String("kind", env.Type),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	e.fn(env)
}

// Count returns the number of handlers registered for kind.
func (d *Dispatcher) Count(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers[kind])
}

// Panics returns the number of handler panics recovered so far.
func (d *Dispatcher) Panics() int64 {
	return d.panics.Load()
}
