// Package events implements the lifecycle event bus of the DAV engine.
//
// Handlers are registered per event name with a numeric priority and run
// synchronously in ascending priority order. Any handler may return false
// to stop the emission; the emitting operation is then aborted and the
// stopping handler owns the HTTP response.
package events

import (
	"sort"
	"sync"
)

// Event names emitted by the write orchestrator.
const (
	BeforeBind   = "beforeBind"
	AfterBind    = "afterBind"
	BeforeUnbind = "beforeUnbind"
	AfterUnbind  = "afterUnbind"
	BeforeMove   = "beforeMove"
	AfterMove    = "afterMove"
	BeforeCopy   = "beforeCopy"
	AfterCopy    = "afterCopy"
)

// Handler handles one emission. Returning false stops the remaining
// handlers and signals the emitter to abort.
type Handler func(args ...any) bool

// Bus is an ordered dispatch table of event handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
}

type subscription struct {
	priority int
	seq      int
	handler  Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string][]subscription),
	}
}

// Subscribe registers a handler for the named event. Handlers with lower
// priority run first; equal priorities run in subscription order.
func (b *Bus) Subscribe(name string, h Handler, priority int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := append(b.handlers[name], subscription{
		priority: priority,
		seq:      len(b.handlers[name]),
		handler:  h,
	})
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].priority != subs[j].priority {
			return subs[i].priority < subs[j].priority
		}
		return subs[i].seq < subs[j].seq
	})
	b.handlers[name] = subs
}

// Emit runs all handlers for the named event in order. It reports whether
// the emission ran to completion; false means a handler stopped it.
func (b *Bus) Emit(name string, args ...any) bool {
	b.mu.RLock()
	subs := b.handlers[name]
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.handler(args...) {
			return false
		}
	}
	return true
}
