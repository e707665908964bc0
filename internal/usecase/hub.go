package usecase

import (
	"sync"

	"DigitCast/internal/domain/models"
)

// Hub fans session views out to in-process subscribers (websocket streams).
// Delivery is best effort: a subscriber whose buffer is full misses the update.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

// Subscription receives views for a single session until closed.
type Subscription struct {
	C <-chan models.SessionView

	ch        chan models.SessionView
	sessionID string
	hub       *Hub
	once      sync.Once
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: make(map[string]map[*Subscription]struct{}), buffer: buffer}
}

// Subscribe registers a subscriber for sessionID.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	ch := make(chan models.SessionView, h.buffer)
	sub := &Subscription{C: ch, ch: ch, sessionID: sessionID, hub: h}
	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*Subscription]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Close unregisters the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if m := s.hub.subs[s.sessionID]; m != nil {
			delete(m, s)
			if len(m) == 0 {
				delete(s.hub.subs, s.sessionID)
			}
		}
		s.hub.mu.Unlock()
		close(s.ch)
	})
}

// Publish delivers v to every subscriber of v.ID. Returns the number of dropped deliveries.
func (h *Hub) Publish(v models.SessionView) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	dropped := 0
	for sub := range h.subs[v.ID] {
		select {
		case sub.ch <- v:
		default:
			dropped++
		}
	}
	return dropped
}

// CloseSession closes every subscription of sessionID.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs[sessionID]))
	for sub := range h.subs[sessionID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()
	for _, sub := range subs {
		sub.Close()
	}
}

// Subscribers returns the subscriber count for sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
