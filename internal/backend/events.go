package backend

import "sync"

// AuthEventType names a change in the client's authentication state.
type AuthEventType string

const (
	SignedIn       AuthEventType = "SIGNED_IN"
	SignedOut      AuthEventType = "SIGNED_OUT"
	TokenRefreshed AuthEventType = "TOKEN_REFRESHED"
)

// AuthEvent is delivered to subscribers after the session has been stored.
// Session is nil for SignedOut.
type AuthEvent struct {
	Type    AuthEventType
	Session *Session
}

// Subscription receives auth events in emission order. Emitters never block
// on a slow subscriber; undelivered events queue until read.
type Subscription struct {
	client *Client
	events chan AuthEvent
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	queue []AuthEvent
}

// OnAuthStateChange subscribes to auth events. Call Unsubscribe to release it.
func (c *Client) OnAuthStateChange() *Subscription {
	sub := &Subscription{
		client: c,
		events: make(chan AuthEvent),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	c.subMu.Lock()
	c.subs[sub] = struct{}{}
	c.subMu.Unlock()

	go sub.pump()
	return sub
}

// Events returns the ordered event channel. It is closed after Unsubscribe.
func (s *Subscription) Events() <-chan AuthEvent {
	return s.events
}

// Unsubscribe detaches the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.client.subMu.Lock()
		delete(s.client.subs, s)
		s.client.subMu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) push(event AuthEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.events)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		event := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}

func (c *Client) emit(event AuthEvent) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for sub := range c.subs {
		sub.push(event)
	}
}
