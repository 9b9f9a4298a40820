package streaming

import (
	"context"
	"sync"
	"sync/atomic"
)

// Per-subscriber buffer. A subscriber that falls this far behind starts
// losing events rather than stalling the editor.
const defaultChannelBuffer = 64

type subscriber struct {
	ch     chan EditorEvent
	filter EventFilter
}

func (s *subscriber) wants(e EditorEvent) bool {
	if s.filter.GraphID != "" && s.filter.GraphID != e.GraphID {
		return false
	}
	if len(s.filter.EventTypes) == 0 {
		return true
	}
	for _, t := range s.filter.EventTypes {
		if t == e.EventType {
			return true
		}
	}
	return false
}

// MemoryHub is the in-process EventHub used by the daemon: every surface
// (MCP notifier, panel SSE) subscribes to the same hub the editors publish to.
type MemoryHub struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID atomic.Uint64
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[uint64]*subscriber)}
}

// Publish fans the event out to every matching subscriber without blocking.
// A full subscriber channel drops the event for that subscriber only.
func (h *MemoryHub) Publish(ctx context.Context, event EditorEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.wants(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a filtered subscription and returns its channel plus
// a cancel func that dismantles it. The channel is never closed; callers
// select on their own context alongside it.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan EditorEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sub := &subscriber{
		ch:     make(chan EditorEvent, defaultChannelBuffer),
		filter: filter,
	}
	id := h.nextID.Add(1)

	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
	return sub.ch, cancel, nil
}
