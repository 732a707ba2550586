package services

import (
	"log/slog"
	"sync"
)

type EventType string

const (
	// EventTypeChunk carries a safe streamed response fragment.
	EventTypeChunk EventType = "chunk"
	// EventTypeStatus carries loop progress (iteration started, tool call, done).
	EventTypeStatus EventType = "status"
	// EventTypeHandoff announces a handoff request to operator consoles.
	EventTypeHandoff EventType = "handoff"
)

// Event is one message on the bus. Key is the subscription topic, a
// conversation ID for chat streams, "trace:<id>" for trace events.
type Event struct {
	Key       string
	Type      EventType
	Data      string // JSON payload or raw text
	Timestamp int64
}

// EventBus fans events out to per-key subscribers. Slow subscribers drop
// events rather than blocking publishers.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan Event),
	}
}

// Subscribe returns a channel that receives events published under key.
func (b *EventBus) Subscribe(key string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100) // Buffer to prevent blocking publisher
	b.subs[key] = append(b.subs[key], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subscribers := b.subs[key]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[key] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[key]) == 0 {
			delete(b.subs, key)
		}
	}

	return ch, unsub
}

// Publish sends an event to all subscribers of its key.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subscribers, ok := b.subs[e.Key]
	if !ok {
		return
	}

	for _, ch := range subscribers {
		select {
		case ch <- e:
		default:
			// If channel is full, drop event to prevent blocking application
			b.logger.Warn("event bus channel full, dropping event", "key", e.Key)
		}
	}
}
