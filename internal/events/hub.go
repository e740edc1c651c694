// Package events fans out live automation events to dashboard subscribers.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type is the kind of live event.
type Type string

const (
	TypeLog      Type = "log"
	TypeProgress Type = "progress"
	TypeStatus   Type = "status"
)

// Event is one message pushed to subscribers.
type Event struct {
	Type      Type        `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// ProgressData is the payload of a progress event.
type ProgressData struct {
	AutomationID uint   `json:"automation_id"`
	Step         string `json:"step"`
	Progress     int    `json:"progress"`
	Message      string `json:"message"`
}

// StatusData is the payload of a status event.
type StatusData struct {
	AutomationID uint   `json:"automation_id"`
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
}

const defaultBuffer = 64

// Subscription receives events until it is unsubscribed.
type Subscription struct {
	id uint64
	ch chan Event
}

// C returns the channel events are delivered on. It is closed on unsubscribe.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Hub is an in-process broadcaster. Publish never blocks: a subscriber whose
// buffer is full misses the event and the drop is counted. There is no replay.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64

	published atomic.Int64
	dropped   atomic.Int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a subscriber with the given buffer size.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{id: h.nextID, ch: make(chan Event, buffer)}
	h.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Calling it
// twice is safe.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.ch)
}

// Publish delivers the event to every subscriber without blocking.
func (h *Hub) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
}

// Stats reports subscriber count and delivery counters.
type Stats struct {
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.subs)
	h.mu.RUnlock()
	return Stats{Subscribers: n, Published: h.published.Load(), Dropped: h.dropped.Load()}
}
