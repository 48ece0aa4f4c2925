package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/plexbridge/plexbridge/internal/metrics"
	"github.com/plexbridge/plexbridge/internal/observability"
)

// subscriberBuffer is the per-subscriber queue depth. A subscriber whose
// queue is full loses the event rather than stalling the publisher.
const subscriberBuffer = 64

// Hub fans events out to subscribers. Publishing never blocks.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewHub creates an event hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log:  observability.WithComponent(logger, "events"),
		subs: make(map[*Subscription]struct{}),
	}
}

// Subscription is one subscriber's view of the hub. Events arrive on the
// channel returned by Events until Close is called.
type Subscription struct {
	hub *Hub
	ch  chan Event

	mu    sync.Mutex
	rooms map[string]struct{}
}

// Subscribe registers a new subscriber joined to the given rooms.
func (h *Hub) Subscribe(rooms ...string) *Subscription {
	sub := &Subscription{
		hub:   h,
		ch:    make(chan Event, subscriberBuffer),
		rooms: make(map[string]struct{}, len(rooms)),
	}
	for _, room := range rooms {
		sub.rooms[room] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	metrics.EventSubscribers.Set(float64(len(h.subs)))
	return sub
}

// Events returns the subscriber's receive channel. The channel is closed
// when the subscription or the hub shuts down.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Join adds rooms to the subscription.
func (s *Subscription) Join(rooms ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, room := range rooms {
		s.rooms[room] = struct{}{}
	}
}

// Leave removes rooms from the subscription.
func (s *Subscription) Leave(rooms ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, room := range rooms {
		delete(s.rooms, room)
	}
}

// Rooms returns the rooms currently joined.
func (s *Subscription) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		out = append(out, room)
	}
	return out
}

func (s *Subscription) wants(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[room]
	return ok
}

// Close detaches the subscription from the hub and closes its channel.
// Safe to call more than once.
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
	metrics.EventSubscribers.Set(float64(len(h.subs)))
}

// Publish sends an event to every subscriber joined to the room. Slow
// subscribers are skipped.
func (h *Hub) Publish(room, eventType string, data any) {
	ev := Event{
		Type: eventType,
		Room: room,
		Data: data,
		Time: time.Now().UTC(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for sub := range h.subs {
		if !sub.wants(room) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			metrics.EventsDropped.Inc()
			h.log.Debug("dropping event for slow subscriber",
				slog.String("room", room),
				slog.String("type", eventType))
		}
	}
}

// SubscriberCount returns the number of attached subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close shuts the hub down and closes every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
	metrics.EventSubscribers.Set(0)
}
