package notifications

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const subscriberBuffer = 32

// Hub is an in-process Broker. Slow subscribers drop events rather than block publishers.
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[*hubSubscriber]struct{}
}

type hubSubscriber struct {
	ch   chan Notification
	once sync.Once
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[*hubSubscriber]struct{})}
}

// Publish delivers n to every current subscriber of n.UserID.
func (h *Hub) Publish(_ context.Context, n Notification) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[n.UserID] {
		select {
		case sub.ch <- n:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber for userID. The returned cancel func is
// idempotent and closes the channel.
func (h *Hub) Subscribe(_ context.Context, userID uuid.UUID) (<-chan Notification, func(), error) {
	sub := &hubSubscriber{ch: make(chan Notification, subscriberBuffer)}

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*hubSubscriber]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], sub)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel, nil
}

// Subscribers returns the number of live subscribers for userID.
func (h *Hub) Subscribers(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
