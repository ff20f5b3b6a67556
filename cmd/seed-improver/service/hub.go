package service

import (
	"context"
	"sync"

	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/lyzr/seed-improver/common/logger"
)

const subscriberBuffer = 64

// Subscriber receives encoded run events until it is dropped or the hub closes
type Subscriber struct {
	C chan []byte
}

// EventHub fans run events out to stream subscribers in this process
type EventHub struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
	log    *logger.Logger
}

// NewEventHub creates an empty hub
func NewEventHub(log *logger.Logger) *EventHub {
	return &EventHub{
		subs: make(map[*Subscriber]struct{}),
		log:  log,
	}
}

// Subscribe registers a subscriber. On a closed hub the channel is already closed.
func (h *EventHub) Subscribe() *Subscriber {
	sub := &Subscriber{C: make(chan []byte, subscriberBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.C)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call more than once.
func (h *EventHub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(sub)
}

// drop requires h.mu
func (h *EventHub) drop(sub *Subscriber) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.C)
}

// Broadcast delivers data to every subscriber. A subscriber whose buffer is
// full is dropped rather than blocking the publisher.
func (h *EventHub) Broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub.C <- data:
		default:
			h.log.Warn("dropping slow run event subscriber")
			h.drop(sub)
		}
	}
}

// Publish implements RunEvents for single-process deployments
func (h *EventHub) Publish(_ context.Context, run *models.Run) error {
	data, err := encodeRunEvent(run)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// Count returns the number of live subscribers
func (h *EventHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close drops every subscriber and refuses new ones
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for sub := range h.subs {
		h.drop(sub)
	}
}
