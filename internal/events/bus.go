package events

import (
	"sync"

	"github.com/phuslu/log"

	"docdex/internal/logging"
	"docdex/internal/model"
)

// Type identifies a bus event. The values double as the canonical wire
// enumeration when events cross the process boundary, so internal and
// external consumers never disagree on naming.
type Type string

const (
	TypeJobStatusChange Type = "job-status-change"
	TypeJobProgress     Type = "job-progress"
	TypeJobListChange   Type = "job-list-change"
	TypeLibraryChange   Type = "library-change"
)

// JobProgress is the payload for TypeJobProgress events.
type JobProgress struct {
	Job      *model.Job
	Progress model.ProgressSnapshot
}

// Handler receives an event payload. Handlers run synchronously on the
// emitter's goroutine and must be fast; dispatch long work yourself.
type Handler func(payload any)

// MaxListeners caps subscribers per event type to guard against leaks.
const MaxListeners = 100

type subscription struct {
	eventType Type
	handler   Handler
	once      bool
}

// Bus is a typed in-process pub/sub with synchronous unbounded fan-out.
// Subscriber errors (panics) are logged and never reach the emitter.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Type][]*subscription
	logger log.Logger
}

func NewBus() *Bus {
	return &Bus{
		subs:   make(map[Type][]*subscription),
		logger: logging.Component("events"),
	}
}

// On registers a handler and returns an unsubscribe func. Registration
// beyond MaxListeners is refused (a returned no-op unsubscribe) and
// logged, since an unbounded listener set is always a leak.
func (b *Bus) On(t Type, h Handler) func() {
	return b.subscribe(t, h, false)
}

// Once registers a handler that is removed after its first delivery.
func (b *Bus) Once(t Type, h Handler) func() {
	return b.subscribe(t, h, true)
}

func (b *Bus) subscribe(t Type, h Handler, once bool) func() {
	if h == nil {
		return func() {}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subs[t]) >= MaxListeners {
		b.logger.Error().
			Str("event_type", string(t)).
			Int("listeners", len(b.subs[t])).
			Msg("Listener cap reached; subscription refused")
		return func() {}
	}

	sub := &subscription{eventType: t, handler: h, once: once}
	b.subs[t] = append(b.subs[t], sub)

	return func() { b.off(sub) }
}

func (b *Bus) off(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.eventType]
	for i, s := range list {
		if s == sub {
			b.subs[sub.eventType] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Emit delivers payload synchronously to every current subscriber of t.
// A panicking subscriber is logged and skipped; remaining subscribers
// still receive the event.
func (b *Bus) Emit(t Type, payload any) {
	b.mu.RLock()
	list := make([]*subscription, len(b.subs[t]))
	copy(list, b.subs[t])
	b.mu.RUnlock()

	for _, sub := range list {
		if sub.once {
			b.off(sub)
		}
		b.deliver(t, sub, payload)
	}
}

func (b *Bus) deliver(t Type, sub *subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("event_type", string(t)).
				Any("panic", r).
				Msg("Event handler panicked")
		}
	}()
	sub.handler(payload)
}

// RemoveAllListeners drops every subscriber for the given types, or for
// all types when none are given.
func (b *Bus) RemoveAllListeners(types ...Type) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(types) == 0 {
		b.subs = make(map[Type][]*subscription)
		return
	}
	for _, t := range types {
		delete(b.subs, t)
	}
}

// ListenerCount returns the number of subscribers for t.
func (b *Bus) ListenerCount(t Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[t])
}

// Shutdown removes all listeners. The bus has no background goroutines
// so there is nothing else to flush.
func (b *Bus) Shutdown() {
	b.RemoveAllListeners()
}
