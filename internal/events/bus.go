package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/deeplifeai/swarmweaver-sub001/internal/logging"
)

// Handler observes events.
type Handler func(Event)

// Bus fans events out to subscribed handlers synchronously, in subscription
// order. A panicking handler is logged and skipped.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   *logging.Logger
}

// NewBus creates a bus. A nil logger discards handler failures.
func NewBus(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Bus{logger: logger.Named("events")}
}

// Subscribe registers a handler.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Emit delivers event to every handler.
func (b *Bus) Emit(event Event) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, event)
	}
}

func (b *Bus) dispatch(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(context.Background(), "event handler panicked",
				zap.String("event_type", event.Type()),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	h(event)
}

// Recorder is an Emitter that keeps every event. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit records event.
func (r *Recorder) Emit(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events with the given type.
func (r *Recorder) OfType(typ string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type() == typ {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
