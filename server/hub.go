package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hermitdroid/hermitdroid/guard"
)

// EventHub tees audit entries to websocket subscribers while passing
// them through to the real sink. The sink stays the system of record;
// a slow or dead subscriber never blocks an Emit.
type EventHub struct {
	next guard.Sink

	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewEventHub(next guard.Sink) *EventHub {
	return &EventHub{next: next, subs: make(map[chan []byte]struct{})}
}

func (h *EventHub) Emit(ctx context.Context, e guard.Entry) error {
	if err := h.next.Emit(ctx, e); err != nil {
		return err
	}
	if payload, err := json.Marshal(e); err == nil {
		h.broadcast(payload)
	}
	return nil
}

func (h *EventHub) Close() error { return h.next.Close() }

func (h *EventHub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- payload:
		default:
			// Subscriber is not keeping up; drop the event for it.
		}
	}
}

func (h *EventHub) subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}
