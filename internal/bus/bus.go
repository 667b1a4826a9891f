// Package bus implements the kernel's typed pub/sub event bus: every phase
// of the orchestrator publishes a kerntypes.BrainEvent, keyed by session,
// and any number of subscribers (the trace serialiser, a UI bridge, a
// plugin) receive it. Subscription and publish are the only two operations
// — there is no replay here, that's the trace serialiser's job
// (internal/kernel/trace.go).
package bus

import (
	"sort"
	"sync"

	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

// Handler receives one published event.
type Handler func(kerntypes.BrainEvent)

// Bus is a session-keyed typed publisher. Safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]subscription // sessionID -> subs; "" = global (all sessions)
	seq  int
}

type subscription struct {
	id      string
	handler Handler
	seq     int
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe registers handler for events on sessionID. Pass "" to receive
// every session's events (used by the trace serialiser and global
// diagnostics). Returns an unregister closure.
func (b *Bus) Subscribe(sessionID, id string, handler Handler) func() {
	b.mu.Lock()
	b.seq++
	sub := subscription{id: id, handler: handler, seq: b.seq}
	b.subs[sessionID] = append(b.subs[sessionID], sub)
	b.mu.Unlock()

	return func() { b.Unsubscribe(sessionID, id) }
}

// Unsubscribe removes a previously registered handler by id.
func (b *Bus) Unsubscribe(sessionID, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sessionID]
	for i, s := range list {
		if s.id == id {
			b.subs[sessionID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Publish delivers evt to every subscriber of evt.SessionID plus every
// global subscriber, in registration order. Delivery is synchronous and
// fire-and-forget: a handler panic is not recovered here — callers that
// want isolation (the plugin runtime) wrap their own handlers.
func (b *Bus) Publish(evt kerntypes.BrainEvent) {
	b.mu.RLock()
	handlers := b.orderedHandlers(evt.SessionID)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(evt)
	}
}

// orderedHandlers merges the session-scoped and global subscriber lists,
// sorted by registration sequence so delivery order is deterministic.
func (b *Bus) orderedHandlers(sessionID string) []Handler {
	merged := make([]subscription, 0, len(b.subs[sessionID])+len(b.subs[""]))
	merged = append(merged, b.subs[sessionID]...)
	if sessionID != "" {
		merged = append(merged, b.subs[""]...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].seq < merged[j].seq })

	out := make([]Handler, len(merged))
	for i, s := range merged {
		out[i] = s.handler
	}
	return out
}
