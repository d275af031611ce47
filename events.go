package sopsfs

import (
	"sync"

	"github.com/google/uuid"
)

// EventKind classifies a change to a virtual file or directory.
type EventKind int

const (
	EventCreated EventKind = iota + 1
	EventChanged
	EventDeleted
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventChanged:
		return "changed"
	case EventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event reports one change to the entry at Path. Events are delivered in
// batches; ordering within a batch is insertion order.
type Event struct {
	Path string
	Kind EventKind
}

// EventHub fans out event batches to registered subscribers. The zero value
// is not usable; construct with NewEventHub.
type EventHub struct {
	mu   sync.RWMutex
	subs map[string]func([]Event)
}

// NewEventHub returns an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{subs: map[string]func([]Event){}}
}

// Subscribe registers fn and returns a cancel that removes it. Cancel is
// idempotent.
func (h *EventHub) Subscribe(fn func([]Event)) (cancel func()) {
	id := uuid.NewString()

	h.mu.Lock()
	h.subs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Publish delivers events to every subscriber. Subscribers run on the
// caller's goroutine; a slow subscriber delays only this publication.
func (h *EventHub) Publish(events []Event) {
	if len(events) == 0 {
		return
	}

	h.mu.RLock()
	fns := make([]func([]Event), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(events)
	}
}
